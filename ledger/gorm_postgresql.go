// ledger/gorm_postgresql.go
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/wfunc/gamerelay/config"
	"github.com/wfunc/gamerelay/models"
	"github.com/wfunc/gamerelay/state"
)

// GormLedger 使用GORM的PostgreSQL实现
type GormLedger struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormLedger 创建GORM PostgreSQL数据库连接
func NewGormLedger(cfg config.PostgresConfig) (*GormLedger, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: time.Second,
			LogLevel:      logger.Silent,
			Colorful:      false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := autoMigrate(db); err != nil {
		return nil, err
	}

	return NewGormLedgerFromDB(db), nil
}

// NewGormLedgerFromDB wraps an already opened and migrated connection.
func NewGormLedgerFromDB(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db, now: time.Now}
}

type GameRecordModel struct {
	Kind               string          `gorm:"primaryKey;size:32"`
	GameID             uint64          `gorm:"primaryKey;autoIncrement:false"`
	Player             string          `gorm:"size:64;index"`
	UserID             string          `gorm:"size:128"`
	BetAmount          decimal.Decimal `gorm:"type:numeric(78,18);not null;default:0"`
	Choice             int             `gorm:"not null"` // no default: 0 is a real choice
	Status             int             `gorm:"not null;index"`
	FulfillmentClaimed bool            `gorm:"not null;default:false"`
	RequestTxHash      string          `gorm:"size:66"`
	SettlementTxHash   string          `gorm:"size:66"`
	DrawnNumbers       pq.Int64Array   `gorm:"type:integer[]"`
	WinningIndex       int             `gorm:"not null;default:0"`
	GuessIndex         int             `gorm:"not null"`
	Verdict            string          `gorm:"size:8;index"`
	Result             datatypes.JSON
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ResolvedAt         *time.Time
}

func (GameRecordModel) TableName() string {
	return "game_records"
}

type CheckpointModel struct {
	Key       string `gorm:"primaryKey;size:160"`
	Block     uint64 `gorm:"not null"`
	UpdatedAt time.Time
}

func (CheckpointModel) TableName() string {
	return "watcher_checkpoints"
}

// autoMigrate 自动迁移表结构
func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&GameRecordModel{},
		&CheckpointModel{},
	)
}

func toModel(r *models.GameRecord) *GameRecordModel {
	m := &GameRecordModel{
		Kind:               string(r.Kind),
		GameID:             r.GameID,
		Player:             r.Player,
		UserID:             r.UserID,
		BetAmount:          r.BetAmount,
		Choice:             r.Choice,
		Status:             int(r.Status),
		FulfillmentClaimed: r.FulfillmentClaimed,
		RequestTxHash:      r.RequestTxHash,
		SettlementTxHash:   r.SettlementTxHash,
		DrawnNumbers:       int64Array(r.DrawnNumbers),
		WinningIndex:       r.WinningIndex,
		GuessIndex:         r.GuessIndex,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
		ResolvedAt:         r.ResolvedAt,
	}
	if r.Result != nil {
		m.Verdict = string(r.Result.Verdict)
		m.Result, _ = json.Marshal(r.Result)
	}
	return m
}

func fromModel(m *GameRecordModel) *models.GameRecord {
	r := &models.GameRecord{
		Kind:               models.GameKind(m.Kind),
		GameID:             m.GameID,
		Player:             m.Player,
		UserID:             m.UserID,
		BetAmount:          m.BetAmount,
		Choice:             m.Choice,
		Status:             models.Status(m.Status),
		FulfillmentClaimed: m.FulfillmentClaimed,
		RequestTxHash:      m.RequestTxHash,
		SettlementTxHash:   m.SettlementTxHash,
		WinningIndex:       m.WinningIndex,
		GuessIndex:         m.GuessIndex,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
		ResolvedAt:         m.ResolvedAt,
	}
	for _, n := range m.DrawnNumbers {
		r.DrawnNumbers = append(r.DrawnNumbers, int(n))
	}
	if m.Verdict != "" && len(m.Result) > 0 {
		var out models.Outcome
		if err := json.Unmarshal(m.Result, &out); err == nil {
			r.Result = &out
		}
	}
	return r
}

func int64Array(in []int) pq.Int64Array {
	if in == nil {
		return nil
	}
	out := make(pq.Int64Array, len(in))
	for i, n := range in {
		out[i] = int64(n)
	}
	return out
}

// patchColumns translates a patch into column updates.
func patchColumns(p models.Patch, updates map[string]interface{}) error {
	if p.RequestTxHash != nil {
		updates["request_tx_hash"] = *p.RequestTxHash
	}
	if p.SettlementTxHash != nil {
		updates["settlement_tx_hash"] = *p.SettlementTxHash
	}
	if p.DrawnNumbers != nil {
		updates["drawn_numbers"] = int64Array(p.DrawnNumbers)
	}
	if p.WinningIndex != nil {
		updates["winning_index"] = *p.WinningIndex
	}
	if p.GuessIndex != nil {
		updates["guess_index"] = *p.GuessIndex
	}
	if p.Result != nil {
		data, err := json.Marshal(p.Result)
		if err != nil {
			return err
		}
		updates["verdict"] = string(p.Result.Verdict)
		updates["result"] = datatypes.JSON(data)
	}
	return nil
}

func (l *GormLedger) CreatePending(ctx context.Context, rec *models.GameRecord) error {
	m := toModel(rec)
	now := l.now()
	m.Status = int(models.StatusPending)
	m.FulfillmentClaimed = false
	m.CreatedAt = now
	m.UpdatedAt = now

	// ON CONFLICT DO NOTHING keeps the insert a single statement; zero rows
	// affected means the key was already taken.
	res := l.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(m)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (l *GormLedger) Get(ctx context.Context, kind models.GameKind, gameID uint64) (*models.GameRecord, error) {
	var m GameRecordModel
	err := l.db.WithContext(ctx).Where("kind = ? AND game_id = ?", string(kind), gameID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return fromModel(&m), nil
}

// guarded runs a single conditional UPDATE and distinguishes a guard miss
// from a missing record.
func (l *GormLedger) guarded(ctx context.Context, kind models.GameKind, gameID uint64, where string, args []interface{}, updates map[string]interface{}) (bool, error) {
	updates["updated_at"] = l.now()

	res := l.db.WithContext(ctx).Model(&GameRecordModel{}).
		Where("kind = ? AND game_id = ?", string(kind), gameID).
		Where(where, args...).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	var count int64
	if err := l.db.WithContext(ctx).Model(&GameRecordModel{}).
		Where("kind = ? AND game_id = ?", string(kind), gameID).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

func (l *GormLedger) Transition(ctx context.Context, kind models.GameKind, gameID uint64, expected, next models.Status, patch models.Patch) (bool, error) {
	if err := state.Check(kind, expected, next); err != nil {
		return false, err
	}

	updates := map[string]interface{}{"status": int(next)}
	if err := patchColumns(patch, updates); err != nil {
		return false, err
	}
	if next == models.StatusResolved {
		updates["resolved_at"] = l.now()
	}
	return l.guarded(ctx, kind, gameID, "status = ?", []interface{}{int(expected)}, updates)
}

func (l *GormLedger) ClaimFulfillment(ctx context.Context, kind models.GameKind, gameID uint64, expected models.Status) (bool, error) {
	return l.guarded(ctx, kind, gameID,
		"status = ? AND fulfillment_claimed = ?", []interface{}{int(expected), false},
		map[string]interface{}{"fulfillment_claimed": true})
}

func (l *GormLedger) ReleaseFulfillment(ctx context.Context, kind models.GameKind, gameID uint64) error {
	_, err := l.guarded(ctx, kind, gameID,
		"fulfillment_claimed = ?", []interface{}{true},
		map[string]interface{}{"fulfillment_claimed": false})
	return err
}

func (l *GormLedger) Annotate(ctx context.Context, kind models.GameKind, gameID uint64, expected models.Status, patch models.Patch) (bool, error) {
	updates := map[string]interface{}{}
	if err := patchColumns(patch, updates); err != nil {
		return false, err
	}
	return l.guarded(ctx, kind, gameID, "status = ?", []interface{}{int(expected)}, updates)
}

func (l *GormLedger) LoadCheckpoint(ctx context.Context, key string) (uint64, bool, error) {
	var m CheckpointModel
	err := l.db.WithContext(ctx).Where("key = ?", key).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return m.Block, true, nil
}

func (l *GormLedger) SaveCheckpoint(ctx context.Context, key string, block uint64) error {
	m := CheckpointModel{Key: key, Block: block, UpdatedAt: l.now()}
	return l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"block", "updated_at"}),
	}).Create(&m).Error
}

// Close 关闭数据库连接
func (l *GormLedger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
