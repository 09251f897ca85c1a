package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/wfunc/gamerelay/models"
	"github.com/wfunc/gamerelay/state"
)

// MemoryLedger keeps records in process memory. It is used by tests and by
// the "memory" driver for local runs; nothing survives a restart.
type MemoryLedger struct {
	records     map[string]*models.GameRecord
	checkpoints map[string]uint64
	mutex       sync.Mutex
	now         func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		records:     make(map[string]*models.GameRecord),
		checkpoints: make(map[string]uint64),
		now:         time.Now,
	}
}

func clone(r *models.GameRecord) *models.GameRecord {
	c := *r
	c.DrawnNumbers = append([]int(nil), r.DrawnNumbers...)
	if r.Result != nil {
		res := *r.Result
		c.Result = &res
	}
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

func (l *MemoryLedger) CreatePending(_ context.Context, rec *models.GameRecord) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	key := models.Key(rec.Kind, rec.GameID)
	if _, exists := l.records[key]; exists {
		return ErrAlreadyExists
	}

	c := clone(rec)
	now := l.now()
	c.Status = models.StatusPending
	c.FulfillmentClaimed = false
	c.CreatedAt = now
	c.UpdatedAt = now
	l.records[key] = c
	return nil
}

func (l *MemoryLedger) Get(_ context.Context, kind models.GameKind, gameID uint64) (*models.GameRecord, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	r, exists := l.records[models.Key(kind, gameID)]
	if !exists {
		return nil, ErrNotFound
	}
	return clone(r), nil
}

func (l *MemoryLedger) Transition(_ context.Context, kind models.GameKind, gameID uint64, expected, next models.Status, patch models.Patch) (bool, error) {
	if err := state.Check(kind, expected, next); err != nil {
		return false, err
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	r, exists := l.records[models.Key(kind, gameID)]
	if !exists {
		return false, ErrNotFound
	}
	if r.Status != expected {
		return false, nil
	}

	now := l.now()
	patch.Apply(r)
	r.Status = next
	r.UpdatedAt = now
	if next == models.StatusResolved {
		r.ResolvedAt = &now
	}
	return true, nil
}

func (l *MemoryLedger) ClaimFulfillment(_ context.Context, kind models.GameKind, gameID uint64, expected models.Status) (bool, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	r, exists := l.records[models.Key(kind, gameID)]
	if !exists {
		return false, ErrNotFound
	}
	if r.Status != expected || r.FulfillmentClaimed {
		return false, nil
	}
	r.FulfillmentClaimed = true
	r.UpdatedAt = l.now()
	return true, nil
}

func (l *MemoryLedger) ReleaseFulfillment(_ context.Context, kind models.GameKind, gameID uint64) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	r, exists := l.records[models.Key(kind, gameID)]
	if !exists {
		return ErrNotFound
	}
	r.FulfillmentClaimed = false
	r.UpdatedAt = l.now()
	return nil
}

func (l *MemoryLedger) Annotate(_ context.Context, kind models.GameKind, gameID uint64, expected models.Status, patch models.Patch) (bool, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	r, exists := l.records[models.Key(kind, gameID)]
	if !exists {
		return false, ErrNotFound
	}
	if r.Status != expected {
		return false, nil
	}
	patch.Apply(r)
	r.UpdatedAt = l.now()
	return true, nil
}

func (l *MemoryLedger) LoadCheckpoint(_ context.Context, key string) (uint64, bool, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	block, ok := l.checkpoints[key]
	return block, ok, nil
}

func (l *MemoryLedger) SaveCheckpoint(_ context.Context, key string, block uint64) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.checkpoints[key] = block
	return nil
}

func (l *MemoryLedger) Close() error {
	return nil
}
