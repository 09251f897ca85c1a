package chain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrDecode    = errors.New("undecodable log")
	ErrTransport = errors.New("chain transport failure")
	ErrArgument  = errors.New("event argument missing or mistyped")
)

// ChainEvent is one decoded contract log. Args holds both indexed and data
// arguments keyed by their ABI names.
type ChainEvent struct {
	Chain       string
	Contract    common.Address
	Event       string
	BlockNumber uint64
	LogIndex    uint
	TxHash      common.Hash
	Args        map[string]interface{}
}

// Decode unpacks log as event of contract.
func Decode(chainName string, contract *abi.ABI, event string, log types.Log) (ChainEvent, error) {
	ev, ok := contract.Events[event]
	if !ok {
		return ChainEvent{}, fmt.Errorf("%w: event %s not in abi", ErrDecode, event)
	}
	if len(log.Topics) == 0 || log.Topics[0] != ev.ID {
		return ChainEvent{}, fmt.Errorf("%w: topic mismatch for %s", ErrDecode, event)
	}

	args := make(map[string]interface{})
	if len(log.Data) > 0 {
		if err := contract.UnpackIntoMap(args, event, log.Data); err != nil {
			return ChainEvent{}, fmt.Errorf("%w: %s data: %v", ErrDecode, event, err)
		}
	}

	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(log.Topics)-1 != len(indexed) {
		return ChainEvent{}, fmt.Errorf("%w: %s expects %d indexed topics, got %d",
			ErrDecode, event, len(indexed), len(log.Topics)-1)
	}
	if err := abi.ParseTopicsIntoMap(args, indexed, log.Topics[1:]); err != nil {
		return ChainEvent{}, fmt.Errorf("%w: %s topics: %v", ErrDecode, event, err)
	}

	return ChainEvent{
		Chain:       chainName,
		Contract:    log.Address,
		Event:       event,
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
		TxHash:      log.TxHash,
		Args:        args,
	}, nil
}

func (e ChainEvent) String() string {
	return fmt.Sprintf("%s/%s@%d#%d", e.Chain, e.Event, e.BlockNumber, e.LogIndex)
}

func (e ChainEvent) Big(name string) (*big.Int, error) {
	v, ok := e.Args[name].(*big.Int)
	if !ok || v == nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrArgument, e.Event, name)
	}
	return v, nil
}

// Uint64 reads a uint256 argument that must fit in 64 bits, such as a game id.
func (e ChainEvent) Uint64(name string) (uint64, error) {
	v, err := e.Big(name)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("%w: %s.%s=%s overflows uint64", ErrArgument, e.Event, name, v)
	}
	return v.Uint64(), nil
}

func (e ChainEvent) Uint8(name string) (uint8, error) {
	v, ok := e.Args[name].(uint8)
	if !ok {
		return 0, fmt.Errorf("%w: %s.%s", ErrArgument, e.Event, name)
	}
	return v, nil
}

func (e ChainEvent) Bool(name string) (bool, error) {
	v, ok := e.Args[name].(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s.%s", ErrArgument, e.Event, name)
	}
	return v, nil
}

func (e ChainEvent) Address(name string) (common.Address, error) {
	v, ok := e.Args[name].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s.%s", ErrArgument, e.Event, name)
	}
	return v, nil
}

func (e ChainEvent) BigSlice(name string) ([]*big.Int, error) {
	v, ok := e.Args[name].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrArgument, e.Event, name)
	}
	return v, nil
}
