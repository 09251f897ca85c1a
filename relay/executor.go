package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/wfunc/gamerelay/chain"
	"github.com/wfunc/gamerelay/ledger"
	"github.com/wfunc/gamerelay/logger"
	"github.com/wfunc/gamerelay/models"
	"github.com/wfunc/gamerelay/monitor"
	"github.com/wfunc/gamerelay/notify"
)

// Executor turns RandomnessFulfilled events into settlement transactions on
// the game chain. A fulfillment is acted on only by whoever claims it in the
// ledger, so redelivery never sends a second transaction.
type Executor struct {
	ledger    ledger.Ledger
	sender    Sender
	notifier  notify.Notifier
	contracts Contracts
	monitor   *monitor.Monitor
	pool      int
}

func NewExecutor(l ledger.Ledger, game Sender, notifier notify.Notifier, contracts Contracts, mon *monitor.Monitor) *Executor {
	return &Executor{
		ledger:    l,
		sender:    game,
		notifier:  notifier,
		contracts: contracts,
		monitor:   mon,
		pool:      NumberPool,
	}
}

func fulfillment(ev chain.ChainEvent) (uint64, []*big.Int, error) {
	gameID, err := ev.Uint64("gameId")
	if err != nil {
		return 0, nil, err
	}
	words, err := ev.BigSlice("randomWords")
	if err != nil {
		return 0, nil, err
	}
	return gameID, words, nil
}

// HandleFlipRPSFulfilled settles a CoinFlip or RockPaperScissors game. The
// shared requester does not say which, so the owner is the first namespace
// holding the id, CoinFlip first. Only the owner is ever claimed.
func (e *Executor) HandleFlipRPSFulfilled(ctx context.Context, ev chain.ChainEvent) error {
	gameID, words, err := fulfillment(ev)
	if err != nil {
		return err
	}
	if len(words) == 0 {
		return fmt.Errorf("%w: fulfillment of game %d has none", ErrInsufficientWords, gameID)
	}

	owner, err := e.flipRPSOwner(ctx, gameID)
	if err != nil {
		return err
	}
	if owner == "" {
		logger.Log.Debugf("fulfillment %s for unknown game %d", ev.TxHash.Hex(), gameID)
		return nil
	}

	claimed, err := e.ledger.ClaimFulfillment(ctx, owner, gameID, models.StatusPending)
	if err != nil {
		return fmt.Errorf("claim %s: %w", models.Key(owner, gameID), err)
	}
	if !claimed {
		e.monitor.IncGuardMiss("claim")
		logger.Log.Debugf("fulfillment of %s already claimed", models.Key(owner, gameID))
		return nil
	}

	contract, method := e.contracts.CoinFlip, chain.MethodSettleFlip
	if owner == models.KindRockPaperScissors {
		contract, method = e.contracts.RockPaperScissors, chain.MethodSettleGame
	}
	_, err = e.settle(ctx, owner, gameID, contract, method, new(big.Int).SetUint64(gameID), words[0])
	return err
}

// flipRPSOwner returns the first kind with a record for gameID, or "" if
// neither has one.
func (e *Executor) flipRPSOwner(ctx context.Context, gameID uint64) (models.GameKind, error) {
	var owner models.GameKind
	for _, kind := range []models.GameKind{models.KindCoinFlip, models.KindRockPaperScissors} {
		_, err := e.ledger.Get(ctx, kind, gameID)
		if errors.Is(err, ledger.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("get %s: %w", models.Key(kind, gameID), err)
		}
		if owner != "" {
			logger.Log.Warnf("game id %d exists for both coin flip and rps, settling the coin flip", gameID)
			break
		}
		owner = kind
	}
	return owner, nil
}

// HandleNumbersFulfilled derives the NumberGuess numbers, delivers them on
// chain and offers them to the player.
func (e *Executor) HandleNumbersFulfilled(ctx context.Context, ev chain.ChainEvent) error {
	gameID, words, err := fulfillment(ev)
	if err != nil {
		return err
	}
	kind := models.KindNumberGuess
	key := models.Key(kind, gameID)

	claimed, err := e.ledger.ClaimFulfillment(ctx, kind, gameID, models.StatusPending)
	if errors.Is(err, ledger.ErrNotFound) {
		logger.Log.Debugf("fulfillment for unknown game %s", key)
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim %s: %w", key, err)
	}
	if !claimed {
		e.monitor.IncGuardMiss("claim")
		logger.Log.Debugf("fulfillment of %s already claimed", key)
		return nil
	}

	// 随机数不足时保留claim，需要人工处理
	numbers, winning, err := DeriveNumbers(words, e.pool)
	if err != nil {
		return fmt.Errorf("derive numbers for %s: %w", key, err)
	}

	tx, err := e.settle(ctx, kind, gameID, e.contracts.NumberGuess, chain.MethodDeliverNumbers,
		new(big.Int).SetUint64(gameID), toUint8Array(numbers), uint8(winning))
	if err != nil {
		return err
	}

	hash := tx.Hash().Hex()
	applied, err := e.ledger.Transition(ctx, kind, gameID, models.StatusPending, models.StatusReady, models.Patch{
		SettlementTxHash: &hash,
		DrawnNumbers:     numbers,
		WinningIndex:     &winning,
	})
	if err != nil {
		return fmt.Errorf("mark %s ready: %w", key, err)
	}
	if !applied {
		e.monitor.IncGuardMiss("ready")
		logger.Log.Debugf("%s left pending before its numbers were stored", key)
		return nil
	}
	logger.Log.Infof("numbers %v delivered for %s", numbers, key)

	rec, err := e.ledger.Get(ctx, kind, gameID)
	if err != nil {
		return err
	}
	n := notify.NewNotification(notify.TypeNumbersReady, rec, numbersMessage(numbers))
	n.Numbers = numbers
	deliver(ctx, e.notifier, e.monitor, rec, n)
	return nil
}

// settle sends method and waits for it. The claim is given back only when
// nothing was broadcast; a reverted or unconfirmed tx keeps it.
func (e *Executor) settle(ctx context.Context, kind models.GameKind, gameID uint64, contract common.Address, method string, args ...interface{}) (*types.Transaction, error) {
	key := models.Key(kind, gameID)

	tx, err := e.sender.Send(ctx, contract, method, args...)
	if err != nil {
		e.monitor.IncTxFailed(method)
		if rerr := e.ledger.ReleaseFulfillment(context.WithoutCancel(ctx), kind, gameID); rerr != nil {
			logger.Log.Errorf("release claim of %s: %v", key, rerr)
		}
		return nil, fmt.Errorf("%s for %s: %w", method, key, err)
	}

	hash := tx.Hash().Hex()
	if _, err := e.ledger.Annotate(ctx, kind, gameID, models.StatusPending, models.Patch{SettlementTxHash: &hash}); err != nil {
		logger.Log.Warnf("record settlement tx of %s: %v", key, err)
	}

	if _, err := e.sender.WaitConfirmed(ctx, tx); err != nil {
		e.monitor.IncTxFailed(method)
		return nil, fmt.Errorf("%s for %s: %w", method, key, err)
	}
	e.monitor.IncTxSent(method)
	logger.Log.Infof("%s confirmed for %s in %s", method, key, hash)
	return tx, nil
}
