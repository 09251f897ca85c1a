package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrReverted        = errors.New("transaction reverted")
	ErrUnknownContract = errors.New("contract not bound")
)

// Backend is what the transactor needs from an RPC client.
// *ethclient.Client implements it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

// Transactor signs and sends contract calls on one chain with the relayer
// key. Sends are serialized so nonces are assigned in order; waiting for
// receipts is not.
type Transactor struct {
	chain          string
	backend        Backend
	auth           *bind.TransactOpts
	confirmTimeout time.Duration
	contracts      map[common.Address]*bind.BoundContract
	sendMutex      sync.Mutex
	mutex          sync.RWMutex
}

func NewTransactor(ctx context.Context, chainName string, backend Backend, privateKeyHex string, confirmTimeout time.Duration) (*Transactor, error) {
	key, err := parseKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: chain id of %s: %v", ErrTransport, chainName, err)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, err
	}
	if confirmTimeout <= 0 {
		confirmTimeout = 2 * time.Minute
	}

	return &Transactor{
		chain:          chainName,
		backend:        backend,
		auth:           auth,
		confirmTimeout: confirmTimeout,
		contracts:      make(map[common.Address]*bind.BoundContract),
	}, nil
}

// parseKey accepts the key with or without a 0x prefix.
func parseKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hex, "0X"))
	if err != nil {
		return nil, fmt.Errorf("parse relayer key: %w", err)
	}
	return key, nil
}

func (t *Transactor) Chain() string {
	return t.chain
}

func (t *Transactor) From() common.Address {
	return t.auth.From
}

// Bind makes contract callable through Send.
func (t *Transactor) Bind(address common.Address, contractABI abi.ABI) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.contracts[address] = bind.NewBoundContract(address, contractABI, t.backend, t.backend, t.backend)
}

// Send signs and broadcasts method on contract. An error means nothing was
// broadcast.
func (t *Transactor) Send(ctx context.Context, contract common.Address, method string, args ...interface{}) (*types.Transaction, error) {
	t.mutex.RLock()
	bound, ok := t.contracts[contract]
	t.mutex.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrUnknownContract, contract.Hex(), t.chain)
	}

	t.sendMutex.Lock()
	defer t.sendMutex.Unlock()

	opts := *t.auth
	opts.Context = ctx
	tx, err := bound.Transact(&opts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s.%s on %s: %w", contract.Hex(), method, t.chain, err)
	}
	return tx, nil
}

// WaitConfirmed waits up to the confirm timeout for tx to be mined and
// fails with ErrReverted if it did not succeed.
func (t *Transactor) WaitConfirmed(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, t.confirmTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(ctx, t.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("wait for %s on %s: %w", tx.Hash().Hex(), t.chain, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s on %s in block %s", ErrReverted, tx.Hash().Hex(), t.chain, receipt.BlockNumber)
	}
	return receipt, nil
}
