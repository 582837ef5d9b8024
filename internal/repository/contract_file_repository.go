package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"confidential-storage/internal/domain"
	"confidential-storage/internal/fault"
	"confidential-storage/internal/wallet"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// ConfidentialStorageABI is the interface of the storage contract.
const ConfidentialStorageABI = `[
  {"type":"function","name":"storeFile","stateMutability":"nonpayable",
   "inputs":[{"name":"filename","type":"string"},{"name":"encryptedHash","type":"bytes"},
             {"name":"encryptedAccount","type":"bytes32"},{"name":"inputProof","type":"bytes"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getFiles","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"}],
   "outputs":[{"name":"","type":"tuple[]","components":[
     {"name":"id","type":"uint256"},{"name":"filename","type":"string"},
     {"name":"encryptedHash","type":"bytes"},{"name":"encryptedAccount","type":"bytes32"},
     {"name":"owner","type":"address"},{"name":"createdAt","type":"uint256"}]}]},
  {"type":"function","name":"getFile","stateMutability":"view",
   "inputs":[{"name":"fileId","type":"uint256"}],
   "outputs":[{"name":"","type":"tuple","components":[
     {"name":"id","type":"uint256"},{"name":"filename","type":"string"},
     {"name":"encryptedHash","type":"bytes"},{"name":"encryptedAccount","type":"bytes32"},
     {"name":"owner","type":"address"},{"name":"createdAt","type":"uint256"}]}]},
  {"type":"event","name":"FileStored","anonymous":false,
   "inputs":[{"name":"id","type":"uint256","indexed":true},{"name":"owner","type":"address","indexed":true},
             {"name":"filename","type":"string","indexed":false}]},
  {"type":"error","name":"EmptyFilename","inputs":[]},
  {"type":"error","name":"EmptyHash","inputs":[]},
  {"type":"error","name":"FileNotFound","inputs":[]}
]`

// fileView mirrors the contract's FileView tuple.
type fileView struct {
	Id               *big.Int
	Filename         string
	EncryptedHash    []byte
	EncryptedAccount [32]byte
	Owner            common.Address
	CreatedAt        *big.Int
}

func (v fileView) record() *domain.FileRecord {
	return &domain.FileRecord{
		ID:                      v.Id.Uint64(),
		Filename:                v.Filename,
		EncryptedLocator:        v.EncryptedHash,
		EncryptedIdentityHandle: domain.Handle(v.EncryptedAccount),
		Owner:                   v.Owner,
		CreatedAt:               time.Unix(v.CreatedAt.Int64(), 0).UTC(),
	}
}

// ChainBackend is what the contract ledger needs from a node connection.
// *ethclient.Client satisfies it.
type ChainBackend interface {
	bind.ContractBackend
	bind.DeployBackend
}

type contractFileRepository struct {
	address    common.Address
	abi        abi.ABI
	contract   *bind.BoundContract
	backend    ChainBackend
	transactor wallet.Transactor
}

func NewContractFileRepository(address common.Address, backend ChainBackend, transactor wallet.Transactor) (FileRepository, error) {
	parsed, err := abi.JSON(strings.NewReader(ConfidentialStorageABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse contract abi: %w", err)
	}
	return &contractFileRepository{
		address:    address,
		abi:        parsed,
		contract:   bind.NewBoundContract(address, parsed, backend, backend, backend),
		backend:    backend,
		transactor: transactor,
	}, nil
}

func (r *contractFileRepository) ListByOwner(ctx context.Context, owner common.Address) ([]*domain.FileRecord, error) {
	var out []interface{}
	if err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getFiles", owner); err != nil {
		return nil, fmt.Errorf("%w: failed to list files: %w", fault.ErrNetwork, err)
	}
	if len(out) == 0 {
		return nil, nil
	}

	views := *abi.ConvertType(out[0], new([]fileView)).(*[]fileView)
	records := make([]*domain.FileRecord, 0, len(views))
	for _, v := range views {
		records = append(records, v.record())
	}
	return records, nil
}

func (r *contractFileRepository) Get(ctx context.Context, id uint64) (*domain.FileRecord, error) {
	var out []interface{}
	err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getFile", new(big.Int).SetUint64(id))
	if err != nil {
		if r.revertedWith(err, "FileNotFound") {
			return nil, fmt.Errorf("%w: %d", fault.ErrFileNotFound, id)
		}
		return nil, fmt.Errorf("%w: failed to get file: %w", fault.ErrNetwork, err)
	}

	view := *abi.ConvertType(out[0], new(fileView)).(*fileView)
	return view.record(), nil
}

func (r *contractFileRepository) Submit(ctx context.Context, in *domain.StoreFileInput) (PendingSubmission, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: missing input", fault.ErrInvalidRequest)
	}
	opts, err := r.transactor.TransactOpts(ctx)
	if err != nil {
		return nil, ClassifyLedgerError(err)
	}

	tx, err := r.contract.Transact(opts, "storeFile",
		in.Filename,
		in.EncryptedLocator,
		[32]byte(in.Handle),
		in.InputProof,
	)
	if err != nil {
		switch {
		case r.revertedWith(err, "EmptyFilename"):
			err = fmt.Errorf("%w: %w", fault.ErrEmptyFilename, err)
		case r.revertedWith(err, "EmptyHash"):
			err = fmt.Errorf("%w: %w", fault.ErrEmptyLocator, err)
		}
		return nil, ClassifyLedgerError(err)
	}

	return &txSubmission{repo: r, tx: tx}, nil
}

// revertedWith reports whether err carries the named custom error of the
// contract as its revert data.
func (r *contractFileRepository) revertedWith(err error, name string) bool {
	abiErr, ok := r.abi.Errors[name]
	if !ok {
		return false
	}
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return strings.Contains(err.Error(), name)
	}
	text, ok := dataErr.ErrorData().(string)
	if !ok {
		return false
	}
	data, decodeErr := hexutil.Decode(text)
	if decodeErr != nil || len(data) < 4 {
		return false
	}
	return bytes.Equal(data[:4], abiErr.ID[:4])
}

type txSubmission struct {
	repo *contractFileRepository
	tx   *types.Transaction
}

func (s *txSubmission) Reference() string { return s.tx.Hash().Hex() }

// Wait blocks until the transaction is mined and reads the assigned id
// from its FileStored event.
func (s *txSubmission) Wait(ctx context.Context) (uint64, error) {
	receipt, err := bind.WaitMined(ctx, s.repo.backend, s.tx)
	if err != nil {
		return 0, ClassifyLedgerError(err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return 0, fmt.Errorf("%w: transaction %s reverted", fault.ErrLedgerSubmission, s.tx.Hash().Hex())
	}

	stored := s.repo.abi.Events["FileStored"].ID
	for _, l := range receipt.Logs {
		if l.Address != s.repo.address || len(l.Topics) < 2 || l.Topics[0] != stored {
			continue
		}
		return new(big.Int).SetBytes(l.Topics[1].Bytes()).Uint64(), nil
	}
	return 0, fmt.Errorf("%w: no FileStored event in %s", fault.ErrLedgerSubmission, s.tx.Hash().Hex())
}
