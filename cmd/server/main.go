package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"confidential-storage/internal/config"
	"confidential-storage/internal/fhe"
	"confidential-storage/internal/fhe/coprocessor"
	"confidential-storage/internal/fhe/relayer"
	"confidential-storage/internal/handler"
	"confidential-storage/internal/middleware"
	"confidential-storage/internal/repository"
	"confidential-storage/internal/service"
	"confidential-storage/internal/storage"
	"confidential-storage/internal/wallet"
	"confidential-storage/internal/websocket"
	"confidential-storage/pkg/logging"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-kivik/kivik/v4"
	"github.com/gorilla/mux"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	issueToken := flag.Bool("issue-token", false, "print an API token for the configured wallet and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.New(cfg.Logging.Level)
	slog.SetDefault(logger)

	signer, err := loadSigner(cfg)
	if err != nil {
		return fmt.Errorf("failed to load wallet: %w", err)
	}

	authService := service.NewAuthService(
		signer.Address(),
		cfg.JWT.Secret,
		cfg.JWT.Expiration,
		cfg.JWT.RefreshTokenExpiration,
		cfg.JWT.ChallengeExpiration,
	)

	if *issueToken {
		tokens, err := authService.Issue(signer.Address())
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}
		fmt.Println(tokens.AccessToken)
		return nil
	}

	ctx := context.Background()
	contract := cfg.Chain.Contract()

	transport, verifier, err := newRelayer(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up encryption service: %w", err)
	}

	files, closeLedger, err := newLedger(ctx, cfg, contract, signer, verifier)
	if err != nil {
		return fmt.Errorf("failed to set up ledger: %w", err)
	}
	defer closeLedger()

	network, err := newStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up storage network: %w", err)
	}

	wsManager := websocket.NewManager(
		cfg.WebSocket.MaxConnPerUser,
		cfg.WebSocket.WriteWait,
		cfg.WebSocket.PongWait,
		cfg.WebSocket.PingPeriod,
	)
	wsManager.SetMaxMessageSize(cfg.WebSocket.MaxMessageSize)
	go wsManager.Run()
	defer wsManager.Stop()

	session := fhe.NewSession(fhe.NewRelayerProvider(transport), fhe.SessionOptions{
		PollInterval: cfg.Relayer.PollInterval,
		PollTimeout:  cfg.Relayer.PollTimeout,
		MaxAttempts:  cfg.Relayer.MaxAttempts,
		RetryDelay:   cfg.Relayer.RetryDelay,
	})
	handles := fhe.NewHandleBuilder(session)

	storeService := service.NewStoreService(network, handles, files, signer.Address(), wsManager, service.StoreConfig{
		Contract:        contract,
		MaxFileSize:     cfg.Storage.MaxFileSize,
		ConfirmTimeout:  cfg.Workflow.StoreConfirmTimeout,
		ConfirmInterval: cfg.Workflow.StoreConfirmInterval,
	})
	revealService := service.NewRevealService(files, handles, signer, network, wsManager, service.RevealConfig{
		Contract:     contract,
		ValidityDays: cfg.Workflow.DecryptValidityDays,
	})
	fileService := service.NewFileService(files, revealService, network, signer.Address())

	authHandler := handler.NewAuthHandler(authService)
	fileHandler := handler.NewFileHandler(storeService, revealService, fileService, session, signer.Address(), cfg.Storage.MaxFileSize)
	wsHandler := handler.NewWebSocketHandler(wsManager, cfg.JWT.Secret, cfg.WebSocket.ReadBufferSize, cfg.WebSocket.WriteBufferSize)

	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware(logger))
	r.Use(middleware.CORSMiddleware(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/auth/challenge", authHandler.Challenge).Methods("POST", "OPTIONS")
	api.HandleFunc("/auth/login", authHandler.Login).Methods("POST", "OPTIONS")
	api.HandleFunc("/auth/refresh", authHandler.Refresh).Methods("POST", "OPTIONS")

	api.HandleFunc("/ipfs/gateway", fileHandler.Gateway).Methods("GET", "OPTIONS")
	api.HandleFunc("/session", fileHandler.Session).Methods("GET", "OPTIONS")

	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(cfg.JWT.Secret))

	protected.HandleFunc("/files", fileHandler.List).Methods("GET", "OPTIONS")
	protected.HandleFunc("/files", fileHandler.Store).Methods("POST", "OPTIONS")
	protected.HandleFunc("/files/{id}/reveal", fileHandler.Reveal).Methods("POST", "OPTIONS")
	protected.HandleFunc("/files/{id}/download", fileHandler.Download).Methods("GET", "OPTIONS")
	protected.HandleFunc("/session/reset", fileHandler.ResetSession).Methods("POST", "OPTIONS")

	r.HandleFunc("/ws", wsHandler.HandleConnection)

	r.HandleFunc("/health", healthHandler).Methods("GET")
	r.HandleFunc("/", rootHandler).Methods("GET")

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	// uploads of the largest allowed file need more than the default
	// 15s on slow links
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting confidential storage server",
		"addr", addr,
		"env", cfg.Server.Env,
		"wallet", signer.Address().Hex(),
		"contract", contract.Hex(),
		"ledger", cfg.Ledger.Backend,
		"relayer", cfg.Relayer.Backend,
		"storage", cfg.Storage.Backend,
	)

	// warm the encryption session so the first store does not pay for it
	go func() {
		if _, err := session.EnsureReady(ctx); err != nil {
			slog.Warn("encryption service not ready yet", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	return serve(srv, quit, 30*time.Second)
}

// serve runs srv until stop fires, then drains it within grace. A listener
// failure ends it early with that error.
func serve(srv *http.Server, stop <-chan os.Signal, grace time.Duration) error {
	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-stop:
	}

	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

func loadSigner(cfg *config.Config) (*wallet.KeySigner, error) {
	if cfg.Chain.WalletPrivateKey != "" {
		return wallet.NewKeySigner(cfg.Chain.WalletPrivateKey, cfg.Chain.ID)
	}
	signer, err := wallet.GenerateKeySigner(cfg.Chain.ID)
	if err != nil {
		return nil, err
	}
	slog.Warn("WALLET_PRIVATE_KEY not set, using an ephemeral wallet", "wallet", signer.Address().Hex())
	return signer, nil
}

// newRelayer returns the co-processor transport and, for the in-process
// network, the verifier off-chain ledgers use in place of the ACL contract.
func newRelayer(cfg *config.Config) (fhe.Relayer, repository.InputVerifier, error) {
	switch cfg.Relayer.Backend {
	case config.RelayerHTTP:
		return relayer.NewClient(cfg.Relayer.URL), nil, nil
	default:
		network, err := coprocessor.New(coprocessor.Options{
			ChainID:           cfg.Chain.ID,
			VerifyingContract: common.HexToAddress(cfg.Relayer.VerifyingContract),
		})
		if err != nil {
			return nil, nil, err
		}
		slog.Warn("using the in-process encryption network; revealed data does not survive restarts")
		return network, network, nil
	}
}

func newLedger(ctx context.Context, cfg *config.Config, contract common.Address, signer *wallet.KeySigner, verifier repository.InputVerifier) (repository.FileRepository, func(), error) {
	switch cfg.Ledger.Backend {
	case config.LedgerContract:
		client, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to dial %s: %w", cfg.Chain.RPCURL, err)
		}
		chainID, err := client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to read chain id: %w", err)
		}
		if chainID.Int64() != cfg.Chain.ID {
			client.Close()
			return nil, nil, fmt.Errorf("rpc serves chain %s, configured %d", chainID, cfg.Chain.ID)
		}
		files, err := repository.NewContractFileRepository(contract, client, signer)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return files, client.Close, nil

	case config.LedgerCouchDB:
		couchURL := fmt.Sprintf("http://%s:%s@%s:%s",
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.Host,
			cfg.Database.Port,
		)
		client, err := kivik.New("couch", couchURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to CouchDB: %w", err)
		}
		exists, err := client.DBExists(ctx, cfg.Database.Name)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to check database existence: %w", err)
		}
		if !exists {
			if err := client.CreateDB(ctx, cfg.Database.Name); err != nil {
				return nil, nil, fmt.Errorf("failed to create database: %w", err)
			}
			slog.Info("created database", "name", cfg.Database.Name)
		}
		closeFn := func() {
			if err := client.Close(); err != nil {
				slog.Warn("failed to close CouchDB client", "error", err)
			}
		}
		return repository.NewCouchFileRepository(client, cfg.Database.Name, contract, verifier), closeFn, nil

	default:
		return repository.NewMemoryFileRepository(contract, verifier), func() {}, nil
	}
}

func newStorage(cfg *config.Config) (storage.Network, error) {
	switch cfg.Storage.Backend {
	case config.StoragePinata:
		return storage.NewPinataClient(storage.PinataConfig{
			APIURL:     cfg.Storage.PinataAPIURL,
			GatewayURL: cfg.Storage.PinataGateway,
			JWT:        cfg.Storage.PinataJWT,
			MaxSize:    cfg.Storage.MaxFileSize,
		})
	case config.StorageGateway:
		return storage.NewGatewayClient(cfg.Storage.PublicGateway, cfg.Storage.MaxFileSize), nil
	default:
		return storage.NewMemoryNetwork(cfg.Storage.Gateway(), cfg.Storage.MaxFileSize), nil
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"confidential-storage"}`))
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"message":"Confidential Storage API","version":"1.0.0","endpoints":{"/api/v1/auth/challenge":"POST","/api/v1/auth/login":"POST","/api/v1/auth/refresh":"POST","/api/v1/files":"GET, POST (protected)","/api/v1/files/{id}/reveal":"POST (protected)","/api/v1/files/{id}/download":"GET (protected)","/api/v1/ipfs/gateway":"GET","/api/v1/session":"GET","/api/v1/session/reset":"POST (protected)","/ws":"status stream"}}`))
}
