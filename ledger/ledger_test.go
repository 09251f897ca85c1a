package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/wfunc/gamerelay/models"
	"github.com/wfunc/gamerelay/state"
)

// testLedger runs the behaviour every backend must share.
func testLedger(t *testing.T, l Ledger, base uint64) {
	ctx := context.Background()

	t.Run("CreatePendingOnce", func(t *testing.T) {
		rec := &models.GameRecord{
			Kind:      models.KindCoinFlip,
			GameID:    base + 1,
			Player:    "0xabc",
			BetAmount: decimal.RequireFromString("0.01"),
			Choice:    1,
		}
		if err := l.CreatePending(ctx, rec); err != nil {
			t.Fatalf("CreatePending failed: %v", err)
		}
		if err := l.CreatePending(ctx, rec); !errors.Is(err, ErrAlreadyExists) {
			t.Fatalf("Expected ErrAlreadyExists, got: %v", err)
		}

		got, err := l.Get(ctx, models.KindCoinFlip, base+1)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Status != models.StatusPending {
			t.Errorf("Expected pending, got %s", got.Status)
		}
		if !got.BetAmount.Equal(decimal.RequireFromString("0.01")) {
			t.Errorf("Expected bet 0.01, got %s", got.BetAmount)
		}
		if got.Choice != 1 || got.Player != "0xabc" {
			t.Errorf("Unexpected record: %+v", got)
		}
	})

	t.Run("SameIDDifferentKind", func(t *testing.T) {
		for _, kind := range []models.GameKind{models.KindCoinFlip, models.KindRockPaperScissors} {
			err := l.CreatePending(ctx, &models.GameRecord{Kind: kind, GameID: base + 2})
			if err != nil {
				t.Fatalf("CreatePending %s failed: %v", kind, err)
			}
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		if _, err := l.Get(ctx, models.KindNumberGuess, base+999); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got: %v", err)
		}
		applied, err := l.Transition(ctx, models.KindNumberGuess, base+999,
			models.StatusPending, models.StatusReady, models.Patch{})
		if applied || !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected (false, ErrNotFound), got (%v, %v)", applied, err)
		}
	})

	t.Run("NumberGuessLifecycle", func(t *testing.T) {
		id := base + 3
		if err := l.CreatePending(ctx, &models.GameRecord{Kind: models.KindNumberGuess, GameID: id, GuessIndex: -1}); err != nil {
			t.Fatalf("CreatePending failed: %v", err)
		}

		// illegal edge is rejected before touching the store
		_, err := l.Transition(ctx, models.KindNumberGuess, id, models.StatusPending, models.StatusResolved, models.Patch{})
		if !errors.Is(err, state.ErrTransitionNotAllowed) {
			t.Fatalf("Expected ErrTransitionNotAllowed, got: %v", err)
		}

		winning := 2
		applied, err := l.Transition(ctx, models.KindNumberGuess, id, models.StatusPending, models.StatusReady, models.Patch{
			DrawnNumbers: []int{5, 15, 25, 35, 45},
			WinningIndex: &winning,
		})
		if err != nil || !applied {
			t.Fatalf("Pending -> Ready: applied=%v err=%v", applied, err)
		}

		// second delivery of the same transition is a guard miss
		applied, err = l.Transition(ctx, models.KindNumberGuess, id, models.StatusPending, models.StatusReady, models.Patch{})
		if err != nil || applied {
			t.Fatalf("Expected guard miss, got applied=%v err=%v", applied, err)
		}

		guess := 4
		if applied, err = l.Transition(ctx, models.KindNumberGuess, id, models.StatusReady, models.StatusGuessed, models.Patch{GuessIndex: &guess}); err != nil || !applied {
			t.Fatalf("Ready -> Guessed: applied=%v err=%v", applied, err)
		}

		settle := "0xsettle"
		result := &models.Outcome{Verdict: models.VerdictLose, Payout: decimal.Zero, Detail: "winning number 25"}
		if applied, err = l.Transition(ctx, models.KindNumberGuess, id, models.StatusGuessed, models.StatusResolved, models.Patch{
			SettlementTxHash: &settle,
			Result:           result,
		}); err != nil || !applied {
			t.Fatalf("Guessed -> Resolved: applied=%v err=%v", applied, err)
		}

		got, err := l.Get(ctx, models.KindNumberGuess, id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Status != models.StatusResolved || got.ResolvedAt == nil {
			t.Errorf("Expected resolved with timestamp, got %s", got.Status)
		}
		if len(got.DrawnNumbers) != 5 || got.DrawnNumbers[2] != 25 {
			t.Errorf("Unexpected drawn numbers: %v", got.DrawnNumbers)
		}
		if got.WinningIndex != 2 || got.GuessIndex != 4 {
			t.Errorf("Unexpected indices: winning=%d guess=%d", got.WinningIndex, got.GuessIndex)
		}
		if got.Result == nil || got.Result.Verdict != models.VerdictLose || got.SettlementTxHash != settle {
			t.Errorf("Unexpected result: %+v", got.Result)
		}
	})

	t.Run("ClaimFulfillmentOnce", func(t *testing.T) {
		id := base + 4
		if err := l.CreatePending(ctx, &models.GameRecord{Kind: models.KindRockPaperScissors, GameID: id}); err != nil {
			t.Fatalf("CreatePending failed: %v", err)
		}

		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				applied, err := l.ClaimFulfillment(ctx, models.KindRockPaperScissors, id, models.StatusPending)
				if err != nil {
					t.Errorf("ClaimFulfillment failed: %v", err)
				}
				if applied {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		wg.Wait()

		if wins != 1 {
			t.Fatalf("Expected exactly one claim, got %d", wins)
		}

		if err := l.ReleaseFulfillment(ctx, models.KindRockPaperScissors, id); err != nil {
			t.Fatalf("ReleaseFulfillment failed: %v", err)
		}
		applied, err := l.ClaimFulfillment(ctx, models.KindRockPaperScissors, id, models.StatusPending)
		if err != nil || !applied {
			t.Fatalf("Expected claim after release, got applied=%v err=%v", applied, err)
		}

		// claim does not apply for the wrong status
		applied, err = l.ClaimFulfillment(ctx, models.KindRockPaperScissors, id, models.StatusReady)
		if err != nil || applied {
			t.Errorf("Expected guard miss, got applied=%v err=%v", applied, err)
		}
	})

	t.Run("AnnotateGuarded", func(t *testing.T) {
		id := base + 5
		if err := l.CreatePending(ctx, &models.GameRecord{Kind: models.KindCoinFlip, GameID: id}); err != nil {
			t.Fatalf("CreatePending failed: %v", err)
		}
		tx := "0xrequest"
		applied, err := l.Annotate(ctx, models.KindCoinFlip, id, models.StatusPending, models.Patch{RequestTxHash: &tx})
		if err != nil || !applied {
			t.Fatalf("Annotate: applied=%v err=%v", applied, err)
		}
		applied, err = l.Annotate(ctx, models.KindCoinFlip, id, models.StatusResolved, models.Patch{RequestTxHash: &tx})
		if err != nil || applied {
			t.Errorf("Expected guard miss, got applied=%v err=%v", applied, err)
		}

		got, err := l.Get(ctx, models.KindCoinFlip, id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.RequestTxHash != tx || got.Status != models.StatusPending {
			t.Errorf("Unexpected record: %+v", got)
		}
	})

	t.Run("Checkpoints", func(t *testing.T) {
		key := "test/checkpoint/" + models.Key(models.KindCoinFlip, base)
		if _, ok, err := l.LoadCheckpoint(ctx, key); err != nil || ok {
			t.Fatalf("Expected no checkpoint, got ok=%v err=%v", ok, err)
		}
		if err := l.SaveCheckpoint(ctx, key, 100); err != nil {
			t.Fatalf("SaveCheckpoint failed: %v", err)
		}
		if err := l.SaveCheckpoint(ctx, key, 120); err != nil {
			t.Fatalf("SaveCheckpoint failed: %v", err)
		}
		block, ok, err := l.LoadCheckpoint(ctx, key)
		if err != nil || !ok || block != 120 {
			t.Errorf("Expected 120, got %d ok=%v err=%v", block, ok, err)
		}
	})
}

func TestMemoryLedger(t *testing.T) {
	testLedger(t, NewMemoryLedger(), 0)
}

func TestMemoryLedger_GetReturnsCopy(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	if err := l.CreatePending(ctx, &models.GameRecord{Kind: models.KindNumberGuess, GameID: 1}); err != nil {
		t.Fatalf("CreatePending failed: %v", err)
	}
	got, _ := l.Get(ctx, models.KindNumberGuess, 1)
	got.Status = models.StatusResolved
	got.DrawnNumbers = []int{1}

	again, _ := l.Get(ctx, models.KindNumberGuess, 1)
	if again.Status != models.StatusPending || again.DrawnNumbers != nil && len(again.DrawnNumbers) > 0 {
		t.Errorf("Stored record was mutated through Get: %+v", again)
	}
}
