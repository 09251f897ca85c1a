// models/game.go
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// GameKind 游戏类型
type GameKind string

const (
	KindCoinFlip          GameKind = "coin_flip"
	KindRockPaperScissors GameKind = "rock_paper_scissors"
	KindNumberGuess       GameKind = "number_guess"
)

var Kinds = []GameKind{KindCoinFlip, KindRockPaperScissors, KindNumberGuess}

func ParseGameKind(s string) (GameKind, error) {
	switch GameKind(strings.ToLower(s)) {
	case KindCoinFlip, "flip", "coinflip":
		return KindCoinFlip, nil
	case KindRockPaperScissors, "rps":
		return KindRockPaperScissors, nil
	case KindNumberGuess, "ranmi", "numberguess":
		return KindNumberGuess, nil
	}
	return "", fmt.Errorf("unknown game kind: %s", s)
}

// Status 游戏生命周期状态，只能向前推进
type Status int

const (
	StatusPending Status = iota
	StatusReady
	StatusGuessed
	StatusResolved
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusGuessed:
		return "guessed"
	case StatusResolved:
		return "resolved"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

type Verdict string

const (
	VerdictWin  Verdict = "win"
	VerdictLose Verdict = "lose"
	VerdictDraw Verdict = "draw"
)

// Outcome is set once, when a game reaches StatusResolved.
type Outcome struct {
	Verdict Verdict         `json:"verdict"`
	Payout  decimal.Decimal `json:"payout"` // native currency, not wei
	Detail  string          `json:"detail,omitempty"`
}

// GameRecord 游戏记录，主键为 (Kind, GameID)
type GameRecord struct {
	Kind   GameKind `json:"kind"`
	GameID uint64   `json:"game_id"`

	Player string `json:"player"`
	UserID string `json:"user_id"`

	BetAmount decimal.Decimal `json:"bet_amount"`
	Choice    int             `json:"choice"` // -1 when the kind takes no input

	Status             Status `json:"status"`
	FulfillmentClaimed bool   `json:"fulfillment_claimed"`

	RequestTxHash    string `json:"request_tx_hash,omitempty"`
	SettlementTxHash string `json:"settlement_tx_hash,omitempty"`

	DrawnNumbers []int `json:"drawn_numbers,omitempty"`
	WinningIndex int   `json:"winning_index"`
	GuessIndex   int   `json:"guess_index"`

	Result *Outcome `json:"result,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Patch carries the optional fields a guarded ledger update may set. Nil
// fields are left untouched.
type Patch struct {
	RequestTxHash    *string
	SettlementTxHash *string
	DrawnNumbers     []int
	WinningIndex     *int
	GuessIndex       *int
	Result           *Outcome
}

// Apply copies the set fields of p onto r.
func (p Patch) Apply(r *GameRecord) {
	if p.RequestTxHash != nil {
		r.RequestTxHash = *p.RequestTxHash
	}
	if p.SettlementTxHash != nil {
		r.SettlementTxHash = *p.SettlementTxHash
	}
	if p.DrawnNumbers != nil {
		r.DrawnNumbers = append([]int(nil), p.DrawnNumbers...)
	}
	if p.WinningIndex != nil {
		r.WinningIndex = *p.WinningIndex
	}
	if p.GuessIndex != nil {
		r.GuessIndex = *p.GuessIndex
	}
	if p.Result != nil {
		res := *p.Result
		r.Result = &res
	}
}

// Key 记录主键的字符串形式
func Key(kind GameKind, gameID uint64) string {
	return fmt.Sprintf("%s:%d", kind, gameID)
}
