package chain

import (
	"context"
	"time"

	"github.com/wfunc/gamerelay/logger"
	"github.com/wfunc/gamerelay/monitor"
)

// ConnState 流式连接状态
type ConnState int

const (
	Disconnected ConnState = iota
	Reconnecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Reconnecting:
		return "reconnecting"
	case Connected:
		return "connected"
	}
	return "unknown"
}

// Attempt runs one connection until it fails. It calls connected once the
// link is usable.
type Attempt func(ctx context.Context, connected func()) error

// Supervisor keeps a streaming watcher alive. Every failed attempt is
// followed by a delay that doubles up to MaxDelay; a successful connection
// resets it. It retries until ctx is cancelled.
type Supervisor struct {
	name          string
	initialDelay  time.Duration
	maxDelay      time.Duration
	monitor       *monitor.Monitor
	onStateChange func(name string, state ConnState)
	sleep         func(ctx context.Context, d time.Duration) bool
}

func NewSupervisor(name string, initialDelay, maxDelay time.Duration, mon *monitor.Monitor) *Supervisor {
	if initialDelay <= 0 {
		initialDelay = 5 * time.Second
	}
	if maxDelay < initialDelay {
		maxDelay = initialDelay
	}
	return &Supervisor{
		name:         name,
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		monitor:      mon,
		sleep:        sleepCtx,
	}
}

// OnStateChange installs a callback, e.g. to feed a health service.
func (s *Supervisor) OnStateChange(fn func(name string, state ConnState)) {
	s.onStateChange = fn
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Supervisor) setState(state ConnState) {
	if s.monitor != nil {
		s.monitor.SetWatcherState(s.name, int(state))
	}
	if s.onStateChange != nil {
		s.onStateChange(s.name, state)
	}
}

// Run blocks until ctx is done.
func (s *Supervisor) Run(ctx context.Context, attempt Attempt) {
	delay := s.initialDelay
	first := true

	for {
		if !first {
			s.setState(Reconnecting)
			if s.monitor != nil {
				s.monitor.IncReconnects(s.name)
			}
			logger.Log.Infof("[%s] reconnecting", s.name)
		}
		first = false

		wasConnected := false
		err := attempt(ctx, func() {
			wasConnected = true
			s.setState(Connected)
			logger.Log.Infof("[%s] connected", s.name)
		})
		if ctx.Err() != nil {
			s.setState(Disconnected)
			return
		}

		s.setState(Disconnected)
		if wasConnected {
			delay = s.initialDelay
		}
		logger.Log.Warnf("[%s] connection lost: %v; retrying in %s", s.name, err, delay)

		if !s.sleep(ctx, delay) {
			return
		}
		delay *= 2
		if delay > s.maxDelay {
			delay = s.maxDelay
		}
	}
}
