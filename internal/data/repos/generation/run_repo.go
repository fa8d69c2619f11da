package generation

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/zoonk/zoonk-sub009/internal/domain"
	"github.com/zoonk/zoonk-sub009/internal/pkg/dbctx"
	"github.com/zoonk/zoonk-sub009/internal/platform/logger"
)

// ErrDuplicateRun is returned by Create when a non-terminal run already
// targets the same (kind, subject). The uniqueness lives in the storage
// layer (partial-unique emulation on generation_run.active), so concurrent
// triggers from different processes cannot both win.
var ErrDuplicateRun = errors.New("a generation run for this subject is already in progress")

type RunRepo interface {
	Create(dbc dbctx.Context, run *types.GenerationRun) (*types.GenerationRun, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.GenerationRun, error)
	Advance(dbc dbctx.Context, id uuid.UUID, stepName string, status string) (bool, error)
	UpdateFieldsUnlessTerminal(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) (bool, error)
	ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, staleRunning time.Duration) (*types.GenerationRun, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
	FailStale(dbc dbctx.Context, staleRunning time.Duration, maxAttempts int) (int64, error)
}

type runRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRunRepo(db *gorm.DB, baseLog *logger.Logger) RunRepo {
	return &runRepo{
		db:  db,
		log: baseLog.With("repo", "GenerationRunRepo"),
	}
}

func (r *runRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *runRepo) Create(dbc dbctx.Context, run *types.GenerationRun) (*types.GenerationRun, error) {
	if run == nil {
		return nil, errors.New("nil run")
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = types.RunPending
	}
	if run.Active == nil {
		active := true
		run.Active = &active
	}
	err := r.handle(dbc).WithContext(dbc.Ctx).Create(run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateRun
		}
		return nil, err
	}
	return run, nil
}

func (r *runRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.GenerationRun, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var run types.GenerationRun
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&run).Error
	if err != nil {
		return nil, err
	}
	if run.ID == uuid.Nil {
		return nil, nil
	}
	return &run, nil
}

/*
Advance moves the run's durable cursor: current_step plus status. It is the
durability boundary after every step. Guarded so a run already in a terminal
state is left untouched; late duplicate updates report ok=false instead of
an error. A terminal status clears the live-uniqueness flag in the same
update, so a follow-up run for the same subject can be created immediately.
*/
func (r *runRepo) Advance(dbc dbctx.Context, id uuid.UUID, stepName string, status string) (bool, error) {
	now := time.Now()
	updates := map[string]interface{}{
		"current_step": stepName,
		"status":       status,
		"heartbeat_at": now,
		"updated_at":   now,
	}
	if status == types.RunCompleted || status == types.RunFailed {
		updates["active"] = nil
		updates["locked_at"] = nil
	}
	return r.UpdateFieldsUnlessTerminal(dbc, id, updates)
}

func (r *runRepo) UpdateFieldsUnlessTerminal(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.GenerationRun{}).
		Where("id = ?", id).
		Where("status NOT IN ?", []string{types.RunCompleted, types.RunFailed}).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

/*
ClaimNextRunnable picks the oldest runnable row and marks it running in one
transaction. Runnable means pending, or running with a heartbeat older than
staleRunning and attempts left — the resumption path after a process crash.
Postgres gets FOR UPDATE SKIP LOCKED so concurrent workers never claim the
same row; the sqlite dialect (tests) skips the locking clause.
*/
func (r *runRepo) ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, staleRunning time.Duration) (*types.GenerationRun, error) {
	now := time.Now()
	staleCutoff := now.Add(-staleRunning)
	var claimed *types.GenerationRun
	err := r.handle(dbc).WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		var run types.GenerationRun
		q := tx.Where(`
        status = ?
        OR (
          status = ?
          AND attempts < ?
          AND heartbeat_at IS NOT NULL
          AND heartbeat_at < ?
        )
      `, types.RunPending, types.RunRunning, maxAttempts, staleCutoff).
			Order("created_at ASC")
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		qErr := q.First(&run).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := tx.Model(&types.GenerationRun{}).
			Where("id = ?", run.ID).
			Updates(map[string]interface{}{
				"status":       types.RunRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		run.Status = types.RunRunning
		run.Attempts++
		claimed = &run
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *runRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.GenerationRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

/*
FailStale is the reaper sweep: running rows whose heartbeat is older than
staleRunning and that have no claim attempts left are flipped to failed so
they stop blocking the per-subject uniqueness constraint. Rows with attempts
remaining are left alone — ClaimNextRunnable will resume them.
*/
func (r *runRepo) FailStale(dbc dbctx.Context, staleRunning time.Duration, maxAttempts int) (int64, error) {
	now := time.Now()
	cutoff := now.Add(-staleRunning)
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.GenerationRun{}).
		Where("status = ?", types.RunRunning).
		Where("attempts >= ?", maxAttempts).
		Where("heartbeat_at IS NOT NULL AND heartbeat_at < ?", cutoff).
		Updates(map[string]interface{}{
			"status":        types.RunFailed,
			"error":         "abandoned: no heartbeat",
			"active":        nil,
			"locked_at":     nil,
			"last_error_at": now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
