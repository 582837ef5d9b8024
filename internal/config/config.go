package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

const DefaultContractAddress = "0x36bcD537F9e0bdD0Fe1c7544cB76ABd426120902"

const (
	LedgerContract = "contract"
	LedgerCouchDB  = "couchdb"
	LedgerMemory   = "memory"

	RelayerHTTP  = "http"
	RelayerLocal = "local"

	StoragePinata  = "pinata"
	StorageGateway = "gateway"
	StorageMemory  = "memory"
)

type Config struct {
	Server    ServerConfig
	JWT       JWTConfig
	Chain     ChainConfig
	Ledger    LedgerConfig
	Database  DatabaseConfig
	Relayer   RelayerConfig
	Storage   StorageConfig
	Workflow  WorkflowConfig
	WebSocket WebSocketConfig
	CORS      CORSConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port string
	Host string
	Env  string
}

type JWTConfig struct {
	Secret                 string
	Expiration             time.Duration
	RefreshTokenExpiration time.Duration
	ChallengeExpiration    time.Duration
}

type ChainConfig struct {
	ID               int64
	RPCURL           string
	ContractAddress  string
	WalletPrivateKey string
}

func (c ChainConfig) Contract() common.Address {
	return common.HexToAddress(c.ContractAddress)
}

type LedgerConfig struct {
	Backend string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

type RelayerConfig struct {
	Backend      string
	URL          string
	PollInterval time.Duration
	PollTimeout  time.Duration
	MaxAttempts  int
	RetryDelay   time.Duration
	// local network only
	VerifyingContract string
}

type StorageConfig struct {
	Backend       string
	PinataJWT     string
	PinataAPIURL  string
	PinataGateway string
	PublicGateway string
	MaxFileSize   int64
}

// Gateway is the view gateway: Pinata's when a pinning token is set,
// otherwise the public one.
func (s StorageConfig) Gateway() string {
	if s.PinataJWT != "" {
		return s.PinataGateway
	}
	return s.PublicGateway
}

type WorkflowConfig struct {
	DecryptValidityDays  int
	StoreConfirmTimeout  time.Duration
	StoreConfirmInterval time.Duration
}

type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
	MaxConnPerUser  int
}

type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	godotenv.Load()

	jwtExp, err := getEnvAsDuration("JWT_EXPIRATION", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	refreshExp, err := getEnvAsDuration("REFRESH_TOKEN_EXPIRATION", 168*time.Hour)
	if err != nil {
		return nil, err
	}
	challengeExp, err := getEnvAsDuration("LOGIN_CHALLENGE_EXPIRATION", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	pollInterval, err := getEnvAsDuration("SDK_POLL_INTERVAL", 100*time.Millisecond)
	if err != nil {
		return nil, err
	}
	pollTimeout, err := getEnvAsDuration("SDK_POLL_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	retryDelay, err := getEnvAsDuration("SDK_RETRY_DELAY", time.Second)
	if err != nil {
		return nil, err
	}
	confirmTimeout, err := getEnvAsDuration("STORE_CONFIRM_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	confirmInterval, err := getEnvAsDuration("STORE_CONFIRM_INTERVAL", 500*time.Millisecond)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", "0.0.0.0"),
			Env:  getEnv("ENV", "development"),
		},
		JWT: JWTConfig{
			Secret:                 getEnv("JWT_SECRET", "dev-secret-change-in-production"),
			Expiration:             jwtExp,
			RefreshTokenExpiration: refreshExp,
			ChallengeExpiration:    challengeExp,
		},
		Chain: ChainConfig{
			ID:               int64(getEnvAsInt("CHAIN_ID", 11155111)),
			RPCURL:           getEnv("RPC_URL", "http://localhost:8545"),
			ContractAddress:  getEnv("CONTRACT_ADDRESS", DefaultContractAddress),
			WalletPrivateKey: getEnv("WALLET_PRIVATE_KEY", ""),
		},
		Ledger: LedgerConfig{
			Backend: strings.ToLower(getEnv("LEDGER_BACKEND", LedgerMemory)),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5984"),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "password"),
			Name:     getEnv("DB_NAME", "confidential_storage"),
		},
		Relayer: RelayerConfig{
			Backend:           strings.ToLower(getEnv("RELAYER_BACKEND", RelayerLocal)),
			URL:               getEnv("RELAYER_URL", "https://relayer.testnet.zama.cloud"),
			PollInterval:      pollInterval,
			PollTimeout:       pollTimeout,
			MaxAttempts:       getEnvAsInt("SDK_MAX_ATTEMPTS", 10),
			RetryDelay:        retryDelay,
			VerifyingContract: getEnv("DECRYPTION_VERIFYING_CONTRACT", "0x5ffdaAB0373E62E2ea2944776209aEf29E631A64"),
		},
		Storage: StorageConfig{
			Backend:       strings.ToLower(getEnv("STORAGE_BACKEND", StorageMemory)),
			PinataJWT:     getEnv("PINATA_JWT", ""),
			PinataAPIURL:  getEnv("PINATA_API_URL", "https://api.pinata.cloud"),
			PinataGateway: getEnv("PINATA_GATEWAY_URL", "https://gateway.pinata.cloud"),
			PublicGateway: getEnv("PUBLIC_GATEWAY_URL", "https://ipfs.io"),
			MaxFileSize:   int64(getEnvAsInt("MAX_FILE_SIZE", 10<<20)),
		},
		Workflow: WorkflowConfig{
			DecryptValidityDays:  getEnvAsInt("DECRYPT_VALIDITY_DAYS", 7),
			StoreConfirmTimeout:  confirmTimeout,
			StoreConfirmInterval: confirmInterval,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getEnvAsInt("WS_READ_BUFFER_SIZE", 4096),
			WriteBufferSize: getEnvAsInt("WS_WRITE_BUFFER_SIZE", 4096),
			MaxMessageSize:  int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", 65536)),
			WriteWait:       10 * time.Second,
			PongWait:        60 * time.Second,
			PingPeriod:      54 * time.Second,
			MaxConnPerUser:  getEnvAsInt("WS_MAX_CONN_PER_USER", 5),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			AllowedMethods: getEnv("CORS_ALLOWED_METHODS", "GET,POST,OPTIONS"),
			AllowedHeaders: getEnv("CORS_ALLOWED_HEADERS", "Content-Type,Authorization"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Ledger.Backend {
	case LedgerContract, LedgerCouchDB, LedgerMemory:
	default:
		return fmt.Errorf("invalid LEDGER_BACKEND %q", c.Ledger.Backend)
	}
	switch c.Relayer.Backend {
	case RelayerHTTP, RelayerLocal:
	default:
		return fmt.Errorf("invalid RELAYER_BACKEND %q", c.Relayer.Backend)
	}
	switch c.Storage.Backend {
	case StoragePinata, StorageGateway, StorageMemory:
	default:
		return fmt.Errorf("invalid STORAGE_BACKEND %q", c.Storage.Backend)
	}

	if !common.IsHexAddress(c.Chain.ContractAddress) {
		return fmt.Errorf("invalid CONTRACT_ADDRESS %q", c.Chain.ContractAddress)
	}
	if c.Relayer.Backend == RelayerLocal && !common.IsHexAddress(c.Relayer.VerifyingContract) {
		return fmt.Errorf("invalid DECRYPTION_VERIFYING_CONTRACT %q", c.Relayer.VerifyingContract)
	}
	if c.Chain.ID <= 0 {
		return fmt.Errorf("invalid CHAIN_ID %d", c.Chain.ID)
	}
	if c.Ledger.Backend == LedgerContract && c.Chain.WalletPrivateKey == "" {
		return fmt.Errorf("WALLET_PRIVATE_KEY is required for the contract ledger")
	}
	if c.Ledger.Backend == LedgerContract && c.Relayer.Backend == RelayerLocal {
		return fmt.Errorf("the contract ledger needs RELAYER_BACKEND=http")
	}
	if c.Storage.Backend == StoragePinata && c.Storage.PinataJWT == "" {
		return fmt.Errorf("PINATA_JWT is required for pinata storage")
	}
	if c.Workflow.DecryptValidityDays <= 0 || c.Workflow.DecryptValidityDays > 365 {
		return fmt.Errorf("invalid DECRYPT_VALIDITY_DAYS %d", c.Workflow.DecryptValidityDays)
	}
	if c.Storage.MaxFileSize <= 0 {
		return fmt.Errorf("invalid MAX_FILE_SIZE %d", c.Storage.MaxFileSize)
	}
	if c.Relayer.MaxAttempts <= 0 {
		return fmt.Errorf("invalid SDK_MAX_ATTEMPTS %d", c.Relayer.MaxAttempts)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}
