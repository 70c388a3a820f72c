package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"autoredeem/internal/core"
)

var ErrRunNotFound = errors.New("run not found")

var _ core.RunObserver = (*Store)(nil)

// RunCompleted records the run and prunes the journal to its retention.
func (s *Store) RunCompleted(ctx context.Context, run *core.Run) error {
	if err := s.InsertRun(ctx, run); err != nil {
		return err
	}
	if _, err := s.PruneRuns(ctx); err != nil {
		return err
	}
	return nil
}

func (s *Store) InsertRun(ctx context.Context, run *core.Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO runs (id, mode, check_only, status, scheduled_at, started_at, ended_at, exit_code, output, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Mode, run.CheckOnly, run.Status,
		formatTime(run.ScheduledAt), formatTime(run.StartedAt), formatTime(run.EndedAt),
		run.ExitCode, run.Output, formatTime(run.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*core.Run, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, mode, check_only, status, scheduled_at, started_at, ended_at, exit_code, output, created_at
		FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]*core.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, mode, check_only, status, scheduled_at, started_at, ended_at, exit_code, output, created_at
		FROM runs
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var runs []*core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// PruneRuns deletes runs beyond the retention limit and returns how many were removed.
func (s *Store) PruneRuns(ctx context.Context) (int64, error) {
	if s.Retention <= 0 {
		return 0, nil
	}
	res, err := s.DB.ExecContext(ctx, `
		DELETE FROM runs
		WHERE id IN (
			SELECT id FROM runs
			ORDER BY created_at DESC
			LIMIT -1 OFFSET ?
		)
	`, s.Retention)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

func scanRun(scanner interface {
	Scan(dest ...any) error
}) (*core.Run, error) {
	var (
		id          string
		mode        string
		checkOnly   bool
		status      string
		scheduledAt string
		startedAt   string
		endedAt     string
		exitCode    int
		output      string
		createdAt   string
	)
	if err := scanner.Scan(&id, &mode, &checkOnly, &status, &scheduledAt, &startedAt, &endedAt, &exitCode, &output, &createdAt); err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run := &core.Run{
		ID:        id,
		Mode:      core.RunMode(mode),
		CheckOnly: checkOnly,
		Status:    core.RunStatus(status),
		ExitCode:  exitCode,
		Output:    output,
	}
	for _, field := range []struct {
		dst *time.Time
		raw string
	}{
		{&run.ScheduledAt, scheduledAt},
		{&run.StartedAt, startedAt},
		{&run.EndedAt, endedAt},
		{&run.CreatedAt, createdAt},
	} {
		t, err := time.Parse(time.RFC3339Nano, field.raw)
		if err != nil {
			return nil, fmt.Errorf("scan run %s: invalid stored time %q: %w", id, field.raw, err)
		}
		*field.dst = t
	}
	return run, nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
