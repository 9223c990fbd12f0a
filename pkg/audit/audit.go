// Package audit records executed plans in SQLite so past runs can be
// listed and inspected.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/db"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/db/migrations"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/logger"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

// ErrNotFound is returned by Get for an unknown plan id
var ErrNotFound = errors.New("execution not found")

// Execution is one recorded plan run
type Execution struct {
	PlanID         string              `json:"plan_id"`
	Flow           string              `json:"flow"`
	Input          string              `json:"input"`
	DescriptorIDs  []string            `json:"descriptor_ids"`
	StepCount      int                 `json:"step_count"`
	CompletedSteps int                 `json:"completed_steps"`
	FailedStep     *int                `json:"failed_step,omitempty"`
	Error          string              `json:"error,omitempty"`
	StartedAt      time.Time           `json:"started_at"`
	FinishedAt     time.Time           `json:"finished_at"`
	Results        []capability.Result `json:"results,omitempty"` // only populated by Get
}

// Succeeded reports whether every step completed
func (e *Execution) Succeeded() bool {
	return e.Error == "" && e.CompletedSteps == e.StepCount
}

type executionRow struct {
	PlanID         string         `db:"plan_id"`
	Flow           string         `db:"flow"`
	Input          string         `db:"input"`
	DescriptorIDs  string         `db:"descriptor_ids"`
	StepCount      int            `db:"step_count"`
	CompletedSteps int            `db:"completed_steps"`
	FailedStep     sql.NullInt64  `db:"failed_step"`
	Error          sql.NullString `db:"error"`
	StartedAt      time.Time      `db:"started_at"`
	FinishedAt     time.Time      `db:"finished_at"`
}

func (r executionRow) toExecution() (*Execution, error) {
	e := &Execution{
		PlanID:         r.PlanID,
		Flow:           r.Flow,
		Input:          r.Input,
		StepCount:      r.StepCount,
		CompletedSteps: r.CompletedSteps,
		Error:          r.Error.String,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
	}
	if r.FailedStep.Valid {
		step := int(r.FailedStep.Int64)
		e.FailedStep = &step
	}
	if err := json.Unmarshal([]byte(r.DescriptorIDs), &e.DescriptorIDs); err != nil {
		return nil, errors.Wrapf(err, "failed to decode descriptor ids of plan %s", r.PlanID)
	}
	return e, nil
}

type stepRow struct {
	PlanID       string         `db:"plan_id"`
	StepIndex    int            `db:"step_index"`
	DescriptorID string         `db:"descriptor_id"`
	Output       string         `db:"output"`
	Metadata     sql.NullString `db:"metadata"`
}

// Recorder writes and reads the audit log
type Recorder struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open opens the audit database at path, applying pending migrations.
// An empty path uses db.DefaultPath.
func Open(ctx context.Context, path string) (*Recorder, error) {
	if path == "" {
		var err error
		if path, err = db.DefaultPath(); err != nil {
			return nil, err
		}
	}

	conn, err := db.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := db.NewMigrationRunner(conn).Run(ctx, migrations.All()); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to migrate audit database")
	}

	logger.G(ctx).WithField("path", path).Debug("opened audit database")
	return &Recorder{db: conn, now: time.Now}, nil
}

// Close closes the underlying database
func (r *Recorder) Close() error {
	return r.db.Close()
}

// Record stores the outcome of executing plan. results are the results of
// the completed steps and execErr the execution error, if any.
func (r *Recorder) Record(ctx context.Context, plan *capability.Plan, startedAt time.Time, results []capability.Result, execErr error) error {
	ids, err := json.Marshal(plan.DescriptorIDs())
	if err != nil {
		return errors.Wrap(err, "failed to encode descriptor ids")
	}

	var (
		failedStep sql.NullInt64
		errText    sql.NullString
	)
	if execErr != nil {
		errText = sql.NullString{String: execErr.Error(), Valid: true}
		var failure *capability.ExecutionFailure
		if errors.As(execErr, &failure) {
			failedStep = sql.NullInt64{Int64: int64(failure.StepIndex), Valid: true}
		}
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO executions (plan_id, flow, input, descriptor_ids, step_count, completed_steps, failed_step, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.ID, string(plan.Flow), plan.Input, string(ids), len(plan.Steps), len(results),
		failedStep, errText, startedAt.UTC(), r.now().UTC())
	if err != nil {
		return errors.Wrapf(err, "failed to record execution of plan %s", plan.ID)
	}

	for _, res := range results {
		var metadata sql.NullString
		if len(res.Metadata) > 0 {
			raw, err := json.Marshal(res.Metadata)
			if err != nil {
				return errors.Wrapf(err, "failed to encode metadata of step %d", res.StepIndex)
			}
			metadata = sql.NullString{String: string(raw), Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO execution_steps (plan_id, step_index, descriptor_id, output, metadata)
			VALUES (?, ?, ?, ?, ?)`,
			plan.ID, res.StepIndex, res.DescriptorID, res.Output, metadata)
		if err != nil {
			return errors.Wrapf(err, "failed to record step %d of plan %s", res.StepIndex, plan.ID)
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit execution record")
}

// List returns the most recent executions, newest first, without step results
func (r *Recorder) List(ctx context.Context, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows []executionRow
	if err := r.db.SelectContext(ctx, &rows,
		"SELECT * FROM executions ORDER BY started_at DESC, plan_id LIMIT ?", limit); err != nil {
		return nil, errors.Wrap(err, "failed to list executions")
	}

	executions := make([]*Execution, 0, len(rows))
	for _, row := range rows {
		e, err := row.toExecution()
		if err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	return executions, nil
}

// Get returns one execution with the results of its completed steps
func (r *Recorder) Get(ctx context.Context, planID string) (*Execution, error) {
	var row executionRow
	if err := r.db.GetContext(ctx, &row, "SELECT * FROM executions WHERE plan_id = ?", planID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(ErrNotFound, "plan %s", planID)
		}
		return nil, errors.Wrapf(err, "failed to get execution of plan %s", planID)
	}
	e, err := row.toExecution()
	if err != nil {
		return nil, err
	}

	var steps []stepRow
	if err := r.db.SelectContext(ctx, &steps,
		"SELECT * FROM execution_steps WHERE plan_id = ? ORDER BY step_index", planID); err != nil {
		return nil, errors.Wrapf(err, "failed to get steps of plan %s", planID)
	}
	for _, s := range steps {
		res := capability.Result{StepIndex: s.StepIndex, DescriptorID: s.DescriptorID, Output: s.Output}
		if s.Metadata.Valid {
			if err := json.Unmarshal([]byte(s.Metadata.String), &res.Metadata); err != nil {
				return nil, errors.Wrapf(err, "failed to decode metadata of step %d", s.StepIndex)
			}
		}
		e.Results = append(e.Results, res)
	}
	return e, nil
}
