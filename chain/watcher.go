package chain

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/wfunc/gamerelay/logger"
	"github.com/wfunc/gamerelay/monitor"
)

// CheckpointStore persists the cursor of each subscription.
type CheckpointStore interface {
	LoadCheckpoint(ctx context.Context, key string) (uint64, bool, error)
	SaveCheckpoint(ctx context.Context, key string, block uint64) error
}

// StreamClient is a closable streaming connection.
type StreamClient interface {
	LogSubscriber
	Close()
}

type Dialer func(ctx context.Context) (StreamClient, error)

type WatcherOptions struct {
	StartBlock  uint64
	RescanDepth uint64
	// RetryDelay is the pause before a polling watcher restarts after a
	// transport or checkpoint error. Defaults to 5s.
	RetryDelay time.Duration
}

// Watcher delivers the logs of every subscription of one chain. Each
// subscription runs on its own goroutine and every decoded event is handled
// on its own goroutine.
type Watcher struct {
	name        string
	subs        []Subscription
	checkpoints CheckpointStore
	opts        WatcherOptions
	monitor     *monitor.Monitor

	poll       Transport
	dial       Dialer
	supervisor *Supervisor
	maxRange   uint64

	handlers sync.WaitGroup
	mutex    sync.Mutex
}

// NewPollingWatcher watches through transport without reconnect handling.
func NewPollingWatcher(name string, transport Transport, checkpoints CheckpointStore, opts WatcherOptions, mon *monitor.Monitor) *Watcher {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	return &Watcher{
		name:        name,
		checkpoints: checkpoints,
		opts:        opts,
		monitor:     mon,
		poll:        transport,
	}
}

// NewStreamingWatcher dials a fresh connection per supervisor attempt.
func NewStreamingWatcher(name string, dial Dialer, supervisor *Supervisor, maxRange uint64, checkpoints CheckpointStore, opts WatcherOptions, mon *monitor.Monitor) *Watcher {
	return &Watcher{
		name:        name,
		checkpoints: checkpoints,
		opts:        opts,
		monitor:     mon,
		dial:        dial,
		supervisor:  supervisor,
		maxRange:    maxRange,
	}
}

func (w *Watcher) Name() string {
	return w.name
}

func (w *Watcher) Subscribe(subs ...Subscription) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.subs = append(w.subs, subs...)
}

// Run watches until ctx is cancelled, then waits for in-flight handlers.
func (w *Watcher) Run(ctx context.Context) {
	w.mutex.Lock()
	subs := append([]Subscription(nil), w.subs...)
	w.mutex.Unlock()

	if len(subs) == 0 {
		logger.Log.Warnf("[%s] no subscriptions, watcher idle", w.name)
		<-ctx.Done()
		return
	}

	if w.supervisor != nil {
		w.supervisor.Run(ctx, func(attemptCtx context.Context, connected func()) error {
			client, err := w.dial(attemptCtx)
			if err != nil {
				return err
			}
			defer client.Close()

			connected()
			return w.runAll(ctx, attemptCtx, NewStreamTransport(client, w.maxRange), subs)
		})
	} else {
		w.runPolling(ctx, subs)
	}

	w.handlers.Wait()
}

// runPolling restarts every subscription after an error until ctx is done.
func (w *Watcher) runPolling(ctx context.Context, subs []Subscription) {
	for {
		err := w.runAll(ctx, ctx, w.poll, subs)
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Log.Warnf("[%s] watcher failed, retrying in %s: %v", w.name, w.opts.RetryDelay, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.opts.RetryDelay):
		}
	}
}

// runAll runs every subscription on t and returns the first failure after
// stopping the others. Handlers run on handlerCtx so a reconnect does not
// cancel them.
func (w *Watcher) runAll(handlerCtx, ctx context.Context, t Transport, subs []Subscription) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for _, sub := range subs {
		wg.Add(1)
		go func(sub Subscription) {
			defer wg.Done()
			err := w.runSubscription(handlerCtx, ctx, t, sub)
			if err != nil && ctx.Err() == nil {
				once.Do(func() {
					firstErr = err
					cancel()
				})
			}
		}(sub)
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

func (w *Watcher) runSubscription(handlerCtx, ctx context.Context, t Transport, sub Subscription) error {
	key := sub.Key()
	from, err := w.resume(ctx, t, key)
	if err != nil {
		return err
	}
	logger.Log.Infof("[%s] watching %s from block %d", w.name, key, from+1)

	cursor := newCursor(from)
	return t.Run(ctx, sub.Query(), from, func(logs []types.Log, through uint64) {
		for _, l := range logs {
			if l.Removed {
				continue
			}
			ev, err := Decode(w.name, sub.ABI, sub.Event, l)
			if err != nil {
				logger.Log.Warnf("[%s] skipping log %s#%d: %v", w.name, l.TxHash.Hex(), l.Index, err)
				if w.monitor != nil {
					w.monitor.IncEventsUndecodable(sub.Event)
				}
				continue
			}
			w.dispatch(handlerCtx, sub, ev, key, cursor)
		}
		cursor.advance(through)
		w.saveCheckpoint(key, cursor)
	})
}

// resume picks the last processed block: the stored checkpoint, else
// StartBlock-1, else the current head.
func (w *Watcher) resume(ctx context.Context, t Transport, key string) (uint64, error) {
	block, ok, err := w.checkpoints.LoadCheckpoint(ctx, key)
	if err != nil {
		return 0, err
	}
	if ok {
		return block, nil
	}

	if w.opts.StartBlock > 0 {
		block = w.opts.StartBlock - 1
	} else if block, err = t.Head(ctx); err != nil {
		return 0, err
	}
	if err := w.checkpoints.SaveCheckpoint(ctx, key, block); err != nil {
		return 0, err
	}
	return block, nil
}

func (w *Watcher) dispatch(ctx context.Context, sub Subscription, ev ChainEvent, key string, cursor *cursor) {
	if w.monitor != nil {
		w.monitor.IncEventsReceived(ev.Event)
	}
	cursor.begin(ev.BlockNumber)
	w.handlers.Add(1)

	go func() {
		defer w.handlers.Done()
		traceID := uuid.NewString()
		start := time.Now()

		logger.Log.Debugw("event received", "trace", traceID, "event", ev.String(), "tx", ev.TxHash.Hex())
		if err := sub.Handler(ctx, ev); err != nil {
			logger.Log.Errorw("event handler failed", "trace", traceID, "event", ev.String(), "error", err)
		}
		if w.monitor != nil {
			w.monitor.ObserveHandlerLatency(ev.Event, time.Since(start))
		}

		cursor.done(ev.BlockNumber)
		w.saveCheckpoint(key, cursor)
	}()
}

func (w *Watcher) saveCheckpoint(key string, c *cursor) {
	c.saving.Lock()
	defer c.saving.Unlock()

	c.mutex.Lock()
	block := c.safe()
	c.mutex.Unlock()

	if block > w.opts.RescanDepth {
		block -= w.opts.RescanDepth
	} else {
		block = 0
	}
	if block <= c.saved {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.checkpoints.SaveCheckpoint(ctx, key, block); err != nil {
		logger.Log.Warnf("[%s] save checkpoint %s=%d failed: %v", w.name, key, block, err)
		return
	}
	c.saved = block
}

// cursor tracks how far a subscription can be checkpointed: never past a
// block whose handler is still running. saved is guarded by saving, which
// orders checkpoint writes without holding mutex during the write.
type cursor struct {
	through  uint64
	inflight map[uint64]int
	mutex    sync.Mutex

	saved  uint64
	saving sync.Mutex
}

func newCursor(from uint64) *cursor {
	return &cursor{through: from, inflight: make(map[uint64]int), saved: from}
}

func (c *cursor) advance(through uint64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if through > c.through {
		c.through = through
	}
}

func (c *cursor) begin(block uint64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.inflight[block]++
}

func (c *cursor) done(block uint64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.inflight[block] <= 1 {
		delete(c.inflight, block)
		return
	}
	c.inflight[block]--
}

// safe must be called with c.mutex held.
func (c *cursor) safe() uint64 {
	block := c.through
	for b := range c.inflight {
		if b > 0 && b-1 < block {
			block = b - 1
		}
	}
	return block
}
