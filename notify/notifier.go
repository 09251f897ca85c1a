// notify/notifier.go
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wfunc/gamerelay/models"
)

var (
	ErrNoRecipient = errors.New("no recipient connected")
	ErrDelivery    = errors.New("notification not delivered")
)

// 通知类型
type Type string

const (
	TypeNumbersReady Type = "numbers_ready"
	TypeGameResult   Type = "game_result"
)

// Notification is one message to a player.
type Notification struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	UserID    string          `json:"user_id"`
	Player    string          `json:"player"`
	Kind      models.GameKind `json:"kind"`
	GameID    uint64          `json:"game_id"`
	Message   string          `json:"message"`
	Numbers   []int           `json:"numbers,omitempty"`
	Result    *models.Outcome `json:"result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func NewNotification(typ Type, rec *models.GameRecord, message string) Notification {
	return Notification{
		ID:        uuid.NewString(),
		Type:      typ,
		UserID:    rec.UserID,
		Player:    rec.Player,
		Kind:      rec.Kind,
		GameID:    rec.GameID,
		Message:   message,
		CreatedAt: time.Now(),
	}
}

// Notifier delivers notifications on a best-effort basis.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Multi fans a notification out to every notifier. It succeeds when at
// least one of them delivered it.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	if len(m) == 0 {
		return ErrNoRecipient
	}

	var errs []string
	delivered := false
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		delivered = true
	}
	if delivered {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrDelivery, strings.Join(errs, "; "))
}
