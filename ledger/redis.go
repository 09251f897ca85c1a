package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/wfunc/gamerelay/config"
	"github.com/wfunc/gamerelay/models"
	"github.com/wfunc/gamerelay/state"
)

const (
	KeyGameRecord = "game:%s:%d"
	KeyCheckpoint = "checkpoint:%s"
)

// RedisLedger stores each game as a hash. Every guarded write is a Lua
// script, so the status compare and the field writes happen in one step.
type RedisLedger struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisLedger(cfg config.RedisConfig) (*RedisLedger, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisLedgerFromClient(client), nil
}

func NewRedisLedgerFromClient(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client, now: time.Now}
}

// Client exposes the connection so other components can share it.
func (l *RedisLedger) Client() *redis.Client {
	return l.client
}

func recordKey(kind models.GameKind, gameID uint64) string {
	return fmt.Sprintf(KeyGameRecord, kind, gameID)
}

var createScript = redis.NewScript(`
	if redis.call("EXISTS", KEYS[1]) == 1 then
		return 0
	end
	redis.call("HSET", KEYS[1], unpack(ARGV))
	return 1
`)

// ARGV[1] is the expected status, the rest are field/value pairs.
var transitionScript = redis.NewScript(`
	local status = redis.call("HGET", KEYS[1], "status")
	if not status then
		return -1
	end
	if status ~= ARGV[1] then
		return 0
	end
	redis.call("HSET", KEYS[1], unpack(ARGV, 2))
	return 1
`)

var claimScript = redis.NewScript(`
	local cur = redis.call("HMGET", KEYS[1], "status", "claimed")
	if not cur[1] then
		return -1
	end
	if cur[1] ~= ARGV[1] or cur[2] == "1" then
		return 0
	end
	redis.call("HSET", KEYS[1], "claimed", "1", "updated_at", ARGV[2])
	return 1
`)

var releaseScript = redis.NewScript(`
	if redis.call("EXISTS", KEYS[1]) == 0 then
		return -1
	end
	redis.call("HSET", KEYS[1], "claimed", "0", "updated_at", ARGV[1])
	return 1
`)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatNumbers(nums []int) string {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

func parseNumbers(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		nums[i] = n
	}
	return nums, nil
}

func statusArg(s models.Status) string {
	return strconv.Itoa(int(s))
}

// patchFields flattens a patch into HSET field/value pairs.
func patchFields(p models.Patch) ([]interface{}, error) {
	var fields []interface{}
	if p.RequestTxHash != nil {
		fields = append(fields, "request_tx", *p.RequestTxHash)
	}
	if p.SettlementTxHash != nil {
		fields = append(fields, "settlement_tx", *p.SettlementTxHash)
	}
	if p.DrawnNumbers != nil {
		fields = append(fields, "drawn_numbers", formatNumbers(p.DrawnNumbers))
	}
	if p.WinningIndex != nil {
		fields = append(fields, "winning_index", strconv.Itoa(*p.WinningIndex))
	}
	if p.GuessIndex != nil {
		fields = append(fields, "guess_index", strconv.Itoa(*p.GuessIndex))
	}
	if p.Result != nil {
		data, err := json.Marshal(p.Result)
		if err != nil {
			return nil, err
		}
		fields = append(fields, "result", string(data))
	}
	return fields, nil
}

func (l *RedisLedger) CreatePending(ctx context.Context, rec *models.GameRecord) error {
	now := formatTime(l.now())
	args := []interface{}{
		"kind", string(rec.Kind),
		"game_id", strconv.FormatUint(rec.GameID, 10),
		"player", rec.Player,
		"user_id", rec.UserID,
		"bet_amount", rec.BetAmount.String(),
		"choice", strconv.Itoa(rec.Choice),
		"status", statusArg(models.StatusPending),
		"claimed", "0",
		"request_tx", rec.RequestTxHash,
		"winning_index", strconv.Itoa(rec.WinningIndex),
		"guess_index", strconv.Itoa(rec.GuessIndex),
		"created_at", now,
		"updated_at", now,
	}

	created, err := createScript.Run(ctx, l.client, []string{recordKey(rec.Kind, rec.GameID)}, args...).Int()
	if err != nil {
		return err
	}
	if created == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (l *RedisLedger) Get(ctx context.Context, kind models.GameKind, gameID uint64) (*models.GameRecord, error) {
	h, err := l.client.HGetAll(ctx, recordKey(kind, gameID)).Result()
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, ErrNotFound
	}
	return decodeRecord(h)
}

func decodeRecord(h map[string]string) (*models.GameRecord, error) {
	r := &models.GameRecord{
		Kind:               models.GameKind(h["kind"]),
		Player:             h["player"],
		UserID:             h["user_id"],
		FulfillmentClaimed: h["claimed"] == "1",
		RequestTxHash:      h["request_tx"],
		SettlementTxHash:   h["settlement_tx"],
	}

	var err error
	if r.GameID, err = strconv.ParseUint(h["game_id"], 10, 64); err != nil {
		return nil, fmt.Errorf("decode game_id: %w", err)
	}
	if r.BetAmount, err = decimal.NewFromString(h["bet_amount"]); err != nil {
		return nil, fmt.Errorf("decode bet_amount: %w", err)
	}
	status, err := strconv.Atoi(h["status"])
	if err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	r.Status = models.Status(status)

	for field, dst := range map[string]*int{
		"choice":        &r.Choice,
		"winning_index": &r.WinningIndex,
		"guess_index":   &r.GuessIndex,
	} {
		if v, ok := h[field]; ok && v != "" {
			if *dst, err = strconv.Atoi(v); err != nil {
				return nil, fmt.Errorf("decode %s: %w", field, err)
			}
		}
	}

	if r.DrawnNumbers, err = parseNumbers(h["drawn_numbers"]); err != nil {
		return nil, fmt.Errorf("decode drawn_numbers: %w", err)
	}
	if v := h["result"]; v != "" {
		var out models.Outcome
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		r.Result = &out
	}

	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, h["created_at"]); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, h["updated_at"]); err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	if v := h["resolved_at"]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("decode resolved_at: %w", err)
		}
		r.ResolvedAt = &t
	}
	return r, nil
}

// scriptResult maps the -1/0/1 convention of the scripts.
func scriptResult(n int) (bool, error) {
	switch n {
	case -1:
		return false, ErrNotFound
	case 0:
		return false, nil
	}
	return true, nil
}

func (l *RedisLedger) guarded(ctx context.Context, kind models.GameKind, gameID uint64, expected models.Status, fields []interface{}) (bool, error) {
	now := formatTime(l.now())
	args := append([]interface{}{statusArg(expected)}, fields...)
	args = append(args, "updated_at", now)

	n, err := transitionScript.Run(ctx, l.client, []string{recordKey(kind, gameID)}, args...).Int()
	if err != nil {
		return false, err
	}
	return scriptResult(n)
}

func (l *RedisLedger) Transition(ctx context.Context, kind models.GameKind, gameID uint64, expected, next models.Status, patch models.Patch) (bool, error) {
	if err := state.Check(kind, expected, next); err != nil {
		return false, err
	}

	fields, err := patchFields(patch)
	if err != nil {
		return false, err
	}
	fields = append(fields, "status", statusArg(next))
	if next == models.StatusResolved {
		fields = append(fields, "resolved_at", formatTime(l.now()))
	}
	return l.guarded(ctx, kind, gameID, expected, fields)
}

func (l *RedisLedger) ClaimFulfillment(ctx context.Context, kind models.GameKind, gameID uint64, expected models.Status) (bool, error) {
	n, err := claimScript.Run(ctx, l.client, []string{recordKey(kind, gameID)},
		statusArg(expected), formatTime(l.now())).Int()
	if err != nil {
		return false, err
	}
	return scriptResult(n)
}

func (l *RedisLedger) ReleaseFulfillment(ctx context.Context, kind models.GameKind, gameID uint64) error {
	n, err := releaseScript.Run(ctx, l.client, []string{recordKey(kind, gameID)}, formatTime(l.now())).Int()
	if err != nil {
		return err
	}
	_, err = scriptResult(n)
	return err
}

func (l *RedisLedger) Annotate(ctx context.Context, kind models.GameKind, gameID uint64, expected models.Status, patch models.Patch) (bool, error) {
	fields, err := patchFields(patch)
	if err != nil {
		return false, err
	}
	return l.guarded(ctx, kind, gameID, expected, fields)
}

func (l *RedisLedger) LoadCheckpoint(ctx context.Context, key string) (uint64, bool, error) {
	block, err := l.client.Get(ctx, fmt.Sprintf(KeyCheckpoint, key)).Uint64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return block, true, nil
}

func (l *RedisLedger) SaveCheckpoint(ctx context.Context, key string, block uint64) error {
	return l.client.Set(ctx, fmt.Sprintf(KeyCheckpoint, key), block, 0).Err()
}

func (l *RedisLedger) Close() error {
	return l.client.Close()
}
