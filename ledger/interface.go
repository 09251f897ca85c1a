// ledger/interface.go
package ledger

import (
	"context"
	"errors"

	"github.com/wfunc/gamerelay/models"
)

// Ledger 游戏记录存储。所有写操作都是以状态为条件的原子更新，
// 状态不匹配时返回 applied=false 而不是错误。
type Ledger interface {
	// CreatePending inserts rec with StatusPending. A second insert for the
	// same (kind, game id) fails with ErrAlreadyExists.
	CreatePending(ctx context.Context, rec *models.GameRecord) error
	Get(ctx context.Context, kind models.GameKind, gameID uint64) (*models.GameRecord, error)

	// Transition moves expected -> next and applies patch in one conditional
	// write. next must be an edge of the kind's state machine.
	Transition(ctx context.Context, kind models.GameKind, gameID uint64, expected, next models.Status, patch models.Patch) (bool, error)

	// ClaimFulfillment marks the record as being acted on by a randomness
	// fulfillment, iff its status is expected and it is not claimed yet.
	ClaimFulfillment(ctx context.Context, kind models.GameKind, gameID uint64, expected models.Status) (bool, error)
	ReleaseFulfillment(ctx context.Context, kind models.GameKind, gameID uint64) error

	// Annotate applies patch without a status change, iff status is expected.
	Annotate(ctx context.Context, kind models.GameKind, gameID uint64, expected models.Status, patch models.Patch) (bool, error)

	Checkpoints
	Close() error
}

// Checkpoints persists the last processed block per watcher subscription.
type Checkpoints interface {
	LoadCheckpoint(ctx context.Context, key string) (uint64, bool, error)
	SaveCheckpoint(ctx context.Context, key string, block uint64) error
}

// 错误定义
var (
	ErrNotFound      = errors.New("game record not found")
	ErrAlreadyExists = errors.New("game record already exists")
)
