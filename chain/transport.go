package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/wfunc/gamerelay/logger"
)

// LogFilterer is the read side of an RPC client used for polling and
// back-filling. *ethclient.Client implements it.
type LogFilterer interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// LogSubscriber adds streaming subscriptions.
type LogSubscriber interface {
	LogFilterer
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// DeliverFunc receives logs in block order together with the highest block
// the transport has fully scanned.
type DeliverFunc func(logs []types.Log, through uint64)

// Transport feeds the logs matching q that come after block from.
type Transport interface {
	Head(ctx context.Context) (uint64, error)
	Run(ctx context.Context, q ethereum.FilterQuery, from uint64, deliver DeliverFunc) error
}

// scanRange runs eth_getLogs over (from, to] in chunks of at most maxRange
// blocks. It returns the last block delivered; on error that is the end of
// the last complete chunk.
func scanRange(ctx context.Context, client LogFilterer, q ethereum.FilterQuery, from, to, maxRange uint64, deliver DeliverFunc) (uint64, error) {
	if maxRange == 0 {
		maxRange = to - from
	}
	cursor := from
	for cursor < to {
		end := cursor + maxRange
		if end > to {
			end = to
		}
		q.FromBlock = new(big.Int).SetUint64(cursor + 1)
		q.ToBlock = new(big.Int).SetUint64(end)

		logs, err := client.FilterLogs(ctx, q)
		if err != nil {
			return cursor, fmt.Errorf("%w: filter logs %d-%d: %v", ErrTransport, cursor+1, end, err)
		}
		deliver(logs, end)
		cursor = end
	}
	return cursor, nil
}

// PollTransport checks the head every interval and fetches new logs over
// HTTP. A failed round is retried on the next tick.
type PollTransport struct {
	client   LogFilterer
	interval time.Duration
	maxRange uint64
}

func NewPollTransport(client LogFilterer, interval time.Duration, maxRange uint64) *PollTransport {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &PollTransport{client: client, interval: interval, maxRange: maxRange}
}

func (p *PollTransport) Head(ctx context.Context) (uint64, error) {
	return p.client.BlockNumber(ctx)
}

func (p *PollTransport) Run(ctx context.Context, q ethereum.FilterQuery, from uint64, deliver DeliverFunc) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	cursor := from
	for {
		head, err := p.client.BlockNumber(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Log.Warnf("poll head failed: %v", err)
		} else if head > cursor {
			cursor, err = scanRange(ctx, p.client, q, cursor, head, p.maxRange, deliver)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Log.Warnf("poll failed, retrying next tick: %v", err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// StreamTransport subscribes to logs over a websocket connection. The
// subscription is opened before the back-fill so nothing between the two is
// lost; logs seen twice are deduplicated by the ledger.
type StreamTransport struct {
	client   LogSubscriber
	maxRange uint64
	buffer   int
}

func NewStreamTransport(client LogSubscriber, maxRange uint64) *StreamTransport {
	return &StreamTransport{client: client, maxRange: maxRange, buffer: 128}
}

func (s *StreamTransport) Head(ctx context.Context) (uint64, error) {
	return s.client.BlockNumber(ctx)
}

// Run returns an ErrTransport error when the subscription drops.
func (s *StreamTransport) Run(ctx context.Context, q ethereum.FilterQuery, from uint64, deliver DeliverFunc) error {
	ch := make(chan types.Log, s.buffer)
	sub, err := s.client.SubscribeFilterLogs(ctx, q, ch)
	if err != nil {
		return fmt.Errorf("%w: subscribe: %v", ErrTransport, err)
	}
	defer sub.Unsubscribe()

	head, err := s.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("%w: head: %v", ErrTransport, err)
	}
	if head > from {
		if _, err := scanRange(ctx, s.client, q, from, head, s.maxRange, deliver); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("%w: subscription: %v", ErrTransport, err)
		case log := <-ch:
			deliver([]types.Log{log}, log.BlockNumber)
		}
	}
}
