package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/wfunc/gamerelay/chain"
	"github.com/wfunc/gamerelay/config"
	"github.com/wfunc/gamerelay/ledger"
	"github.com/wfunc/gamerelay/logger"
	"github.com/wfunc/gamerelay/monitor"
	"github.com/wfunc/gamerelay/notify"
	"github.com/wfunc/gamerelay/relay"
	"github.com/wfunc/gamerelay/server"
)

func main() {
	logger.Init("info")
	defer logger.Sync()

	if err := godotenv.Load(); err != nil {
		logger.Log.Info("No .env file found, using environment variables")
	}

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Log.Fatalf("Invalid configuration: %v", err)
	}
	logger.Init(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mon := monitor.NewMonitor("relay")

	// Initialize ledger
	store, redisClient, err := openLedger(cfg)
	if err != nil {
		logger.Log.Fatalf("Failed to open %s ledger: %v", cfg.Ledger.Driver, err)
	}
	defer store.Close()
	logger.Log.Infof("Ledger %s ready.", cfg.Ledger.Driver)

	abis, err := chain.ParseABIs()
	if err != nil {
		logger.Log.Fatalf("Failed to parse contract ABIs: %v", err)
	}
	contracts := relay.ParseContracts(cfg.Contracts.CoinFlip, cfg.Contracts.RockPaperScissors,
		cfg.Contracts.NumberGuess, cfg.Contracts.VRFFlipRPS, cfg.Contracts.VRFNumberGuess)

	gameClient, err := ethclient.DialContext(ctx, cfg.Chains.Game.HTTPURL)
	if err != nil {
		logger.Log.Fatalf("Failed to dial %s: %v", cfg.Chains.Game.Name, err)
	}
	defer gameClient.Close()
	randomnessClient, err := ethclient.DialContext(ctx, cfg.Chains.Randomness.HTTPURL)
	if err != nil {
		logger.Log.Fatalf("Failed to dial %s: %v", cfg.Chains.Randomness.Name, err)
	}
	defer randomnessClient.Close()

	gameTx, err := chain.NewTransactor(ctx, cfg.Chains.Game.Name, gameClient, cfg.Relayer.PrivateKey, cfg.Relayer.ConfirmTimeout)
	if err != nil {
		logger.Log.Fatalf("Failed to create %s transactor: %v", cfg.Chains.Game.Name, err)
	}
	gameTx.Bind(contracts.CoinFlip, abis.CoinFlip)
	gameTx.Bind(contracts.RockPaperScissors, abis.RockPaperScissors)
	gameTx.Bind(contracts.NumberGuess, abis.NumberGuess)

	randomnessTx, err := chain.NewTransactor(ctx, cfg.Chains.Randomness.Name, randomnessClient, cfg.Relayer.PrivateKey, cfg.Relayer.ConfirmTimeout)
	if err != nil {
		logger.Log.Fatalf("Failed to create %s transactor: %v", cfg.Chains.Randomness.Name, err)
	}
	randomnessTx.Bind(contracts.VRFFlipRPS, abis.VRFRequester)
	randomnessTx.Bind(contracts.VRFNumberGuess, abis.VRFRequester)
	logger.Log.Infof("Relayer account %s", gameTx.From().Hex())

	// Notifications
	hub := notify.NewHub(30 * time.Second)
	notifiers := notify.Multi{hub}
	if cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhook(cfg.Notify.WebhookURL, cfg.Notify.WebhookToken, cfg.Notify.Timeout))
	}
	var directory notify.Directory = notify.IdentityDirectory{}
	if redisClient != nil {
		directory = notify.NewRedisDirectory(redisClient)
	}

	engine := relay.NewEngine(relay.Options{
		GameChain:        cfg.Chains.Game.Name,
		RandomnessChain:  cfg.Chains.Randomness.Name,
		Contracts:        contracts,
		ABIs:             abis,
		Ledger:           store,
		GameSender:       gameTx,
		RandomnessSender: randomnessTx,
		Directory:        directory,
		Notifier:         notifiers,
		Monitor:          mon,
	})
	registry := chain.NewRegistry()
	if err := engine.Register(registry); err != nil {
		logger.Log.Fatalf("Failed to register handlers: %v", err)
	}

	srv := server.NewServer(cfg.Server, store, hub, mon)

	var wg sync.WaitGroup
	for _, item := range []struct {
		cfg    config.ChainConfig
		client *ethclient.Client
	}{
		{cfg.Chains.Game, gameClient},
		{cfg.Chains.Randomness, randomnessClient},
	} {
		w := newWatcher(item.cfg, item.client, cfg.Watcher, store, mon, srv)
		w.Subscribe(registry.Subscriptions(item.cfg.Name)...)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	go func() {
		if err := srv.Start(); err != nil {
			logger.Log.Errorf("Server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Log.Info("Shutting down, waiting for in-flight handlers...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Warnf("Server shutdown: %v", err)
	}
	wg.Wait()
	logger.Log.Info("Relay stopped.")
}

// openLedger also returns the redis client when one is reachable, for the
// player directory.
func openLedger(cfg *config.Config) (ledger.Ledger, *redis.Client, error) {
	switch cfg.Ledger.Driver {
	case "redis":
		l, err := ledger.NewRedisLedger(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return l, l.Client(), nil
	case "memory":
		logger.Log.Warn("Using the in-memory ledger, nothing survives a restart")
		return ledger.NewMemoryLedger(), dialRedis(cfg.Redis), nil
	}

	l, err := ledger.NewGormLedger(cfg.Ledger.Postgres)
	if err != nil {
		return nil, nil, err
	}
	return l, dialRedis(cfg.Redis), nil
}

func dialRedis(cfg config.RedisConfig) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Log.Warnf("Redis unavailable, player directory falls back to addresses: %v", err)
		client.Close()
		return nil
	}
	return client
}

func newWatcher(c config.ChainConfig, client *ethclient.Client, wc config.WatcherConfig, checkpoints chain.CheckpointStore, mon *monitor.Monitor, srv *server.Server) *chain.Watcher {
	opts := chain.WatcherOptions{StartBlock: c.StartBlock, RescanDepth: wc.RescanDepth, RetryDelay: c.PollInterval}
	if !c.Streaming() {
		logger.Log.Infof("Polling %s every %s", c.Name, c.PollInterval)
		return chain.NewPollingWatcher(c.Name, chain.NewPollTransport(client, c.PollInterval, wc.MaxBlockRange), checkpoints, opts, mon)
	}

	supervisor := chain.NewSupervisor(c.Name, wc.ReconnectDelay, wc.ReconnectMaxDelay, mon)
	supervisor.OnStateChange(srv.WatcherStateChanged)
	dial := func(ctx context.Context) (chain.StreamClient, error) {
		ws, err := ethclient.DialContext(ctx, c.WSURL)
		if err != nil {
			return nil, err
		}
		return ws, nil
	}
	logger.Log.Infof("Streaming %s from %s", c.Name, c.WSURL)
	return chain.NewStreamingWatcher(c.Name, dial, supervisor, wc.MaxBlockRange, checkpoints, opts, mon)
}
