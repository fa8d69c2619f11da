package generation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zoonk/zoonk-sub009/internal/data/repos/generation"
	"github.com/zoonk/zoonk-sub009/internal/data/repos/testutil"
	types "github.com/zoonk/zoonk-sub009/internal/domain"
	"github.com/zoonk/zoonk-sub009/internal/pkg/dbctx"
)

func TestCreateRejectsDuplicateLiveRun(t *testing.T) {
	ctx := context.Background()
	tx := testutil.Tx(t, testutil.DB(t))
	repo := generation.NewRunRepo(tx, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx}

	first, err := repo.Create(dbc, &types.GenerationRun{Kind: types.KindCourse, SubjectID: 101})
	if err != nil {
		t.Fatalf("create first run: %v", err)
	}

	_, err = repo.Create(dbc, &types.GenerationRun{Kind: types.KindCourse, SubjectID: 101})
	if !errors.Is(err, generation.ErrDuplicateRun) {
		t.Fatalf("expected ErrDuplicateRun, got %v", err)
	}

	// A different subject or kind is unaffected.
	if _, err := repo.Create(dbc, &types.GenerationRun{Kind: types.KindCourse, SubjectID: 102}); err != nil {
		t.Fatalf("create for other subject: %v", err)
	}
	if _, err := repo.Create(dbc, &types.GenerationRun{Kind: types.KindChapter, SubjectID: 101}); err != nil {
		t.Fatalf("create for other kind: %v", err)
	}

	// Once the first run is terminal, the slot frees up.
	if _, err := repo.Advance(dbc, first.ID, "finalize_course", types.RunCompleted); err != nil {
		t.Fatalf("advance to completed: %v", err)
	}
	if _, err := repo.Create(dbc, &types.GenerationRun{Kind: types.KindCourse, SubjectID: 101}); err != nil {
		t.Fatalf("create after terminal: %v", err)
	}
}

func TestAdvanceIsNoOpOnTerminalRun(t *testing.T) {
	ctx := context.Background()
	tx := testutil.Tx(t, testutil.DB(t))
	repo := generation.NewRunRepo(tx, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx}

	run, err := repo.Create(dbc, &types.GenerationRun{Kind: types.KindLesson, SubjectID: 201})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	ok, err := repo.Advance(dbc, run.ID, "generate_content", types.RunRunning)
	if err != nil || !ok {
		t.Fatalf("advance to running: ok=%v err=%v", ok, err)
	}
	ok, err = repo.Advance(dbc, run.ID, "finalize_lesson", types.RunFailed)
	if err != nil || !ok {
		t.Fatalf("advance to failed: ok=%v err=%v", ok, err)
	}

	ok, err = repo.Advance(dbc, run.ID, "generate_content", types.RunRunning)
	if err != nil {
		t.Fatalf("advance on terminal: %v", err)
	}
	if ok {
		t.Fatal("expected terminal run to reject further advances")
	}

	got, err := repo.GetByID(dbc, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != types.RunFailed || got.CurrentStep != "finalize_lesson" {
		t.Fatalf("terminal run mutated: status=%s step=%s", got.Status, got.CurrentStep)
	}
	if got.Active != nil {
		t.Fatal("terminal run should clear the live-uniqueness flag")
	}
}

func TestClaimNextRunnablePicksOldestAndCountsAttempt(t *testing.T) {
	ctx := context.Background()
	tx := testutil.Tx(t, testutil.DB(t))
	repo := generation.NewRunRepo(tx, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx}

	older, err := repo.Create(dbc, &types.GenerationRun{Kind: types.KindCourse, SubjectID: 301})
	if err != nil {
		t.Fatalf("create older: %v", err)
	}
	// Force distinct created_at ordering; sqlite timestamps can collide
	// within one transaction.
	if err := tx.Model(&types.GenerationRun{}).Where("id = ?", older.ID).
		Update("created_at", time.Now().Add(-time.Minute)).Error; err != nil {
		t.Fatalf("backdate older: %v", err)
	}
	if _, err := repo.Create(dbc, &types.GenerationRun{Kind: types.KindCourse, SubjectID: 302}); err != nil {
		t.Fatalf("create newer: %v", err)
	}

	claimed, err := repo.ClaimNextRunnable(dbc, 3, 5*time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil || claimed.ID != older.ID {
		t.Fatalf("expected oldest run claimed, got %+v", claimed)
	}
	if claimed.Status != types.RunRunning || claimed.Attempts != 1 {
		t.Fatalf("claim should mark running with one attempt, got status=%s attempts=%d", claimed.Status, claimed.Attempts)
	}

	// A freshly claimed run is not claimable again.
	second, err := repo.ClaimNextRunnable(dbc, 3, 5*time.Minute)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if second == nil || second.ID == older.ID {
		t.Fatalf("second claim should pick the other pending run, got %+v", second)
	}
}

func TestClaimNextRunnableResumesStaleRunning(t *testing.T) {
	ctx := context.Background()
	tx := testutil.Tx(t, testutil.DB(t))
	repo := generation.NewRunRepo(tx, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx}

	run, err := repo.Create(dbc, &types.GenerationRun{Kind: types.KindChapter, SubjectID: 401})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	claimed, err := repo.ClaimNextRunnable(dbc, 3, 5*time.Minute)
	if err != nil || claimed == nil {
		t.Fatalf("first claim: run=%v err=%v", claimed, err)
	}

	// Simulate a dead worker: heartbeat far in the past.
	stale := time.Now().Add(-time.Hour)
	if err := tx.Model(&types.GenerationRun{}).Where("id = ?", run.ID).
		Update("heartbeat_at", stale).Error; err != nil {
		t.Fatalf("backdate heartbeat: %v", err)
	}

	resumed, err := repo.ClaimNextRunnable(dbc, 3, 5*time.Minute)
	if err != nil {
		t.Fatalf("resume claim: %v", err)
	}
	if resumed == nil || resumed.ID != run.ID {
		t.Fatalf("expected stale running run to be reclaimed, got %+v", resumed)
	}
	if resumed.Attempts != 2 {
		t.Fatalf("expected attempts=2 after resume, got %d", resumed.Attempts)
	}

	// Attempts exhausted: no longer claimable.
	if err := tx.Model(&types.GenerationRun{}).Where("id = ?", run.ID).
		Updates(map[string]interface{}{"heartbeat_at": stale, "attempts": 3}).Error; err != nil {
		t.Fatalf("exhaust attempts: %v", err)
	}
	none, err := repo.ClaimNextRunnable(dbc, 3, 5*time.Minute)
	if err != nil {
		t.Fatalf("claim exhausted: %v", err)
	}
	if none != nil {
		t.Fatalf("exhausted run should not be claimable, got %+v", none)
	}
}

func TestFailStaleFlipsOnlyExhaustedRuns(t *testing.T) {
	ctx := context.Background()
	tx := testutil.Tx(t, testutil.DB(t))
	repo := generation.NewRunRepo(tx, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx}

	mkRunning := func(subject int64, attempts int, heartbeat time.Time) *types.GenerationRun {
		run, err := repo.Create(dbc, &types.GenerationRun{Kind: types.KindActivity, SubjectID: subject})
		if err != nil {
			t.Fatalf("create run: %v", err)
		}
		if err := tx.Model(&types.GenerationRun{}).Where("id = ?", run.ID).
			Updates(map[string]interface{}{
				"status":       types.RunRunning,
				"attempts":     attempts,
				"heartbeat_at": heartbeat,
			}).Error; err != nil {
			t.Fatalf("force running: %v", err)
		}
		return run
	}

	stale := time.Now().Add(-time.Hour)
	exhausted := mkRunning(501, 3, stale)
	retryable := mkRunning(502, 1, stale)
	healthy := mkRunning(503, 3, time.Now())

	n, err := repo.FailStale(dbc, 5*time.Minute, 3)
	if err != nil {
		t.Fatalf("fail stale: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one reaped run, got %d", n)
	}

	assertStatus := func(id interface{}, want string) {
		var got types.GenerationRun
		if err := tx.Where("id = ?", id).First(&got).Error; err != nil {
			t.Fatalf("load run: %v", err)
		}
		if got.Status != want {
			t.Fatalf("run %v: expected status %s, got %s", id, want, got.Status)
		}
	}
	assertStatus(exhausted.ID, types.RunFailed)
	assertStatus(retryable.ID, types.RunRunning)
	assertStatus(healthy.ID, types.RunRunning)
}
