package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/wfunc/gamerelay/chain"
	"github.com/wfunc/gamerelay/ledger"
	"github.com/wfunc/gamerelay/logger"
	"github.com/wfunc/gamerelay/models"
	"github.com/wfunc/gamerelay/monitor"
	"github.com/wfunc/gamerelay/notify"
)

// Requester opens a ledger record for every started game and asks the VRF
// requester on the randomness chain for its random words.
type Requester struct {
	ledger    ledger.Ledger
	sender    Sender
	directory notify.Directory
	contracts Contracts
	monitor   *monitor.Monitor
}

func NewRequester(l ledger.Ledger, randomness Sender, directory notify.Directory, contracts Contracts, mon *monitor.Monitor) *Requester {
	if directory == nil {
		directory = notify.IdentityDirectory{}
	}
	return &Requester{
		ledger:    l,
		sender:    randomness,
		directory: directory,
		contracts: contracts,
		monitor:   mon,
	}
}

// HandleFlipInitiated 处理 CoinFlip.FlipInitiated
func (r *Requester) HandleFlipInitiated(ctx context.Context, ev chain.ChainEvent) error {
	return r.start(ctx, models.KindCoinFlip, ev, "gameId", true)
}

// HandleGamePlayed 处理 RockPaperScissors.GamePlayed
func (r *Requester) HandleGamePlayed(ctx context.Context, ev chain.ChainEvent) error {
	return r.start(ctx, models.KindRockPaperScissors, ev, "gameId", true)
}

// HandleGameStarted 处理 NumberGuess.GameStarted，该游戏开局没有玩家选择
func (r *Requester) HandleGameStarted(ctx context.Context, ev chain.ChainEvent) error {
	return r.start(ctx, models.KindNumberGuess, ev, "id", false)
}

func (r *Requester) start(ctx context.Context, kind models.GameKind, ev chain.ChainEvent, idArg string, hasChoice bool) error {
	gameID, err := ev.Uint64(idArg)
	if err != nil {
		return err
	}
	player, err := ev.Address("player")
	if err != nil {
		return err
	}
	amount, err := ev.Big("amount")
	if err != nil {
		return err
	}
	choice := -1
	if hasChoice {
		c, err := ev.Uint8("choice")
		if err != nil {
			return err
		}
		choice = int(c)
	}

	userID, err := r.directory.Resolve(ctx, player.Hex())
	if err != nil {
		logger.Log.Warnf("resolve user of %s: %v", player.Hex(), err)
	}
	if userID == "" {
		userID = playerKey(player)
	}

	key := models.Key(kind, gameID)
	rec := &models.GameRecord{
		Kind:       kind,
		GameID:     gameID,
		Player:     playerKey(player),
		UserID:     userID,
		BetAmount:  WeiToEther(amount),
		Choice:     choice,
		GuessIndex: -1,
	}
	err = r.ledger.CreatePending(ctx, rec)
	if errors.Is(err, ledger.ErrAlreadyExists) {
		r.monitor.IncGuardMiss("create")
		existing, getErr := r.ledger.Get(ctx, kind, gameID)
		if getErr == nil && existing.RequestTxHash == "" {
			logger.Log.Warnf("%s exists without a randomness request, skipping redelivered start", key)
		} else {
			logger.Log.Debugf("%s already requested, skipping redelivered start", key)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("create %s: %w", key, err)
	}
	logger.Log.Infof("game %s started by %s, bet %s ETH", key, rec.Player, rec.BetAmount.String())

	contract, method := r.contracts.VRFFlipRPS, chain.MethodRequestRandomness
	if kind == models.KindNumberGuess {
		contract, method = r.contracts.VRFNumberGuess, chain.MethodRequestRanmiNumbers
	}

	tx, err := r.sender.Send(ctx, contract, method, new(big.Int).SetUint64(gameID))
	if err != nil {
		r.monitor.IncTxFailed(method)
		return fmt.Errorf("%s for %s: %w", method, key, err)
	}

	hash := tx.Hash().Hex()
	if applied, err := r.ledger.Annotate(ctx, kind, gameID, models.StatusPending, models.Patch{RequestTxHash: &hash}); err != nil {
		logger.Log.Warnf("record request tx of %s: %v", key, err)
	} else if !applied {
		logger.Log.Debugf("%s moved on before its request tx was recorded", key)
	}

	if _, err := r.sender.WaitConfirmed(ctx, tx); err != nil {
		r.monitor.IncTxFailed(method)
		return fmt.Errorf("%s for %s: %w", method, key, err)
	}
	r.monitor.IncTxSent(method)
	logger.Log.Infof("randomness requested for %s in %s", key, hash)
	return nil
}
