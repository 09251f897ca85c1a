package relay

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/wfunc/gamerelay/chain"
	"github.com/wfunc/gamerelay/ledger"
	"github.com/wfunc/gamerelay/monitor"
	"github.com/wfunc/gamerelay/notify"
)

// Options wires an Engine. GameSender signs on the game chain (settlement),
// RandomnessSender on the randomness chain (VRF requests).
type Options struct {
	GameChain        string
	RandomnessChain  string
	Contracts        Contracts
	ABIs             *chain.ABIs
	Ledger           ledger.Ledger
	GameSender       Sender
	RandomnessSender Sender
	Directory        notify.Directory
	Notifier         notify.Notifier
	Monitor          *monitor.Monitor
}

// Engine 组合请求、结算和结果分发三个处理器
type Engine struct {
	Requester  *Requester
	Executor   *Executor
	Dispatcher *Dispatcher

	opts Options
}

func NewEngine(opts Options) *Engine {
	if opts.Monitor == nil {
		opts.Monitor = monitor.NewTestMonitor()
	}
	return &Engine{
		Requester:  NewRequester(opts.Ledger, opts.RandomnessSender, opts.Directory, opts.Contracts, opts.Monitor),
		Executor:   NewExecutor(opts.Ledger, opts.GameSender, opts.Notifier, opts.Contracts, opts.Monitor),
		Dispatcher: NewDispatcher(opts.Ledger, opts.Notifier, opts.Monitor),
		opts:       opts,
	}
}

// Register adds every handler of the relay to r.
func (e *Engine) Register(r *chain.Registry) error {
	game, rnd := e.opts.GameChain, e.opts.RandomnessChain
	c, abis := e.opts.Contracts, e.opts.ABIs

	for _, route := range []struct {
		chainName string
		contract  common.Address
		abi       *abi.ABI
		event     string
		handler   chain.Handler
	}{
		{game, c.CoinFlip, &abis.CoinFlip, chain.EventFlipInitiated, e.Requester.HandleFlipInitiated},
		{game, c.CoinFlip, &abis.CoinFlip, chain.EventFlipSettled, e.Dispatcher.HandleFlipSettled},
		{game, c.RockPaperScissors, &abis.RockPaperScissors, chain.EventGamePlayed, e.Requester.HandleGamePlayed},
		{game, c.RockPaperScissors, &abis.RockPaperScissors, chain.EventGameSettled, e.Dispatcher.HandleGameSettled},
		{game, c.NumberGuess, &abis.NumberGuess, chain.EventGameStarted, e.Requester.HandleGameStarted},
		{game, c.NumberGuess, &abis.NumberGuess, chain.EventGuessMade, e.Dispatcher.HandleGuessMade},
		{game, c.NumberGuess, &abis.NumberGuess, chain.EventGameResolved, e.Dispatcher.HandleGameResolved},
		{rnd, c.VRFFlipRPS, &abis.VRFRequester, chain.EventRandomnessFulfilled, e.Executor.HandleFlipRPSFulfilled},
		{rnd, c.VRFNumberGuess, &abis.VRFRequester, chain.EventRandomnessFulfilled, e.Executor.HandleNumbersFulfilled},
	} {
		if err := r.Register(route.chainName, route.contract, route.abi, route.event, route.handler); err != nil {
			return err
		}
	}
	return nil
}
