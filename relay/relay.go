// Package relay reacts to game and randomness chain events: it requests VRF
// randomness for new games, settles them once the randomness arrives and
// notifies players of the outcome.
package relay

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/wfunc/gamerelay/chain"
	"github.com/wfunc/gamerelay/logger"
	"github.com/wfunc/gamerelay/models"
	"github.com/wfunc/gamerelay/monitor"
	"github.com/wfunc/gamerelay/notify"
)

// Sender submits contract calls on one chain. *chain.Transactor implements it.
type Sender interface {
	Send(ctx context.Context, contract common.Address, method string, args ...interface{}) (*types.Transaction, error)
	WaitConfirmed(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

var _ Sender = (*chain.Transactor)(nil)

// Contracts 合约地址
type Contracts struct {
	CoinFlip          common.Address
	RockPaperScissors common.Address
	NumberGuess       common.Address
	VRFFlipRPS        common.Address
	VRFNumberGuess    common.Address
}

func ParseContracts(coinFlip, rps, numberGuess, vrfFlipRPS, vrfNumberGuess string) Contracts {
	return Contracts{
		CoinFlip:          common.HexToAddress(coinFlip),
		RockPaperScissors: common.HexToAddress(rps),
		NumberGuess:       common.HexToAddress(numberGuess),
		VRFFlipRPS:        common.HexToAddress(vrfFlipRPS),
		VRFNumberGuess:    common.HexToAddress(vrfNumberGuess),
	}
}

func playerKey(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// deliver pushes n and records the result. Delivery is best-effort.
func deliver(ctx context.Context, notifier notify.Notifier, mon *monitor.Monitor, rec *models.GameRecord, n notify.Notification) {
	if notifier == nil {
		return
	}
	err := notifier.Notify(ctx, n)
	mon.IncNotifications(err == nil)
	if err != nil {
		logger.Log.Warnf("notify %s of %s failed: %v", rec.UserID, models.Key(rec.Kind, rec.GameID), err)
		return
	}
	logger.Log.Debugf("notified %s of %s (%s)", rec.UserID, models.Key(rec.Kind, rec.GameID), n.Type)
}
