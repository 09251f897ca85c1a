package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/wfunc/gamerelay/chain"
	"github.com/wfunc/gamerelay/ledger"
	"github.com/wfunc/gamerelay/logger"
	"github.com/wfunc/gamerelay/models"
	"github.com/wfunc/gamerelay/monitor"
	"github.com/wfunc/gamerelay/notify"
)

// Dispatcher follows the settlement events of the game contracts, moves the
// ledger forward and tells the player how the game ended.
type Dispatcher struct {
	ledger   ledger.Ledger
	notifier notify.Notifier
	monitor  *monitor.Monitor
}

func NewDispatcher(l ledger.Ledger, notifier notify.Notifier, mon *monitor.Monitor) *Dispatcher {
	return &Dispatcher{ledger: l, notifier: notifier, monitor: mon}
}

// lookup returns nil, nil for games this relay never saw start.
func (d *Dispatcher) lookup(ctx context.Context, kind models.GameKind, gameID uint64) (*models.GameRecord, error) {
	rec, err := d.ledger.Get(ctx, kind, gameID)
	if errors.Is(err, ledger.ErrNotFound) {
		logger.Log.Debugf("settlement for unknown game %s", models.Key(kind, gameID))
		return nil, nil
	}
	return rec, err
}

// HandleFlipSettled 处理 CoinFlip.FlipSettled
func (d *Dispatcher) HandleFlipSettled(ctx context.Context, ev chain.ChainEvent) error {
	gameID, err := ev.Uint64("gameId")
	if err != nil {
		return err
	}
	won, err := ev.Bool("won")
	if err != nil {
		return err
	}
	side, err := ev.Uint8("outcome")
	if err != nil {
		return err
	}
	payout, err := ev.Big("payout")
	if err != nil {
		return err
	}

	rec, err := d.lookup(ctx, models.KindCoinFlip, gameID)
	if rec == nil {
		return err
	}
	out := flipOutcome(rec.Choice, won, side, payout)
	return d.resolve(ctx, rec, models.StatusPending, out, flipMessage(rec.Choice, side, out))
}

// HandleGameSettled 处理 RockPaperScissors.GameSettled
func (d *Dispatcher) HandleGameSettled(ctx context.Context, ev chain.ChainEvent) error {
	gameID, err := ev.Uint64("gameId")
	if err != nil {
		return err
	}
	playerChoice, err := ev.Uint8("playerChoice")
	if err != nil {
		return err
	}
	houseChoice, err := ev.Uint8("houseChoice")
	if err != nil {
		return err
	}
	result, err := ev.Uint8("result")
	if err != nil {
		return err
	}
	payout, err := ev.Big("payout")
	if err != nil {
		return err
	}

	rec, err := d.lookup(ctx, models.KindRockPaperScissors, gameID)
	if rec == nil {
		return err
	}
	out := rpsOutcome(playerChoice, houseChoice, result, payout)
	return d.resolve(ctx, rec, models.StatusPending, out, rpsMessage(playerChoice, houseChoice, out))
}

// HandleGuessMade moves a NumberGuess game from Ready to Guessed.
func (d *Dispatcher) HandleGuessMade(ctx context.Context, ev chain.ChainEvent) error {
	gameID, err := ev.Uint64("id")
	if err != nil {
		return err
	}
	idx, err := ev.Uint8("guessIndex")
	if err != nil {
		return err
	}

	kind := models.KindNumberGuess
	guess := int(idx)
	patch := models.Patch{GuessIndex: &guess}
	applied, err := d.ledger.Transition(ctx, kind, gameID, models.StatusReady, models.StatusGuessed, patch)
	if errors.Is(err, ledger.ErrNotFound) {
		logger.Log.Debugf("guess for unknown game %s", models.Key(kind, gameID))
		return nil
	}
	if err != nil {
		return err
	}
	if applied {
		logger.Log.Infof("%s guessed index %d", models.Key(kind, gameID), guess)
		return nil
	}

	// GameResolved of the same tx may have advanced the game already.
	if ok, err := d.ledger.Annotate(ctx, kind, gameID, models.StatusGuessed, patch); err != nil || ok {
		return err
	}
	d.monitor.IncGuardMiss("guess")
	logger.Log.Debugf("guess for %s ignored, game is not ready", models.Key(kind, gameID))
	return nil
}

// HandleGameResolved 处理 NumberGuess.GameResolved
func (d *Dispatcher) HandleGameResolved(ctx context.Context, ev chain.ChainEvent) error {
	gameID, err := ev.Uint64("id")
	if err != nil {
		return err
	}
	won, err := ev.Bool("won")
	if err != nil {
		return err
	}
	winningNumber, err := ev.Uint8("winningNumber")
	if err != nil {
		return err
	}
	payout, err := ev.Big("payout")
	if err != nil {
		return err
	}

	kind := models.KindNumberGuess
	rec, err := d.lookup(ctx, kind, gameID)
	if rec == nil {
		return err
	}
	if rec.Status == models.StatusReady {
		// The GuessMade handler of the same tx has not run yet.
		if _, err := d.ledger.Transition(ctx, kind, gameID, models.StatusReady, models.StatusGuessed, models.Patch{}); err != nil {
			return err
		}
	}
	out := guessOutcome(rec, won, winningNumber, payout)
	return d.resolve(ctx, rec, models.StatusGuessed, out, guessMessage(winningNumber, out))
}

// resolve moves rec to Resolved and notifies exactly once: only the caller
// whose transition applied sends the result.
func (d *Dispatcher) resolve(ctx context.Context, rec *models.GameRecord, expected models.Status, out *models.Outcome, message string) error {
	key := models.Key(rec.Kind, rec.GameID)
	applied, err := d.ledger.Transition(ctx, rec.Kind, rec.GameID, expected, models.StatusResolved, models.Patch{Result: out})
	if err != nil {
		return fmt.Errorf("resolve %s: %w", key, err)
	}
	if !applied {
		d.monitor.IncGuardMiss("resolve")
		logger.Log.Debugf("%s already resolved or not settleable", key)
		return nil
	}
	d.monitor.IncGamesResolved(string(rec.Kind), string(out.Verdict))
	logger.Log.Infof("game %s resolved: %s, payout %s ETH", key, out.Verdict, out.Payout.String())

	n := notify.NewNotification(notify.TypeGameResult, rec, message)
	n.Result = out
	deliver(ctx, d.notifier, d.monitor, rec, n)
	return nil
}
