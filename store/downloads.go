package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/onnwee/space-tender/db"
)

// Download states.
const (
	DownloadRunning  = "running"
	DownloadComplete = "complete"
	DownloadFailed   = "failed"
)

// Download is one caption download run.
type Download struct {
	ID         int64      `json:"id"`
	SpaceID    string     `json:"space_id"`
	Path       string     `json:"path"`
	State      string     `json:"state"`
	Pages      int        `json:"pages"`
	Messages   int        `json:"messages"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// StartDownload records a running download and returns its id.
func (s *Store) StartDownload(ctx context.Context, spaceID, path string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.q(`INSERT INTO caption_downloads(space_id, path, state, started_at)
		VALUES($1,$2,$3,$4) RETURNING id`), spaceID, path, DownloadRunning, s.now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("record download for %s: %w", spaceID, err)
	}
	return id, nil
}

// FinishDownload stores the outcome of a run. A nil runErr marks it complete.
func (s *Store) FinishDownload(ctx context.Context, id int64, pages, messages int, runErr error) error {
	state, msg := DownloadComplete, ""
	if runErr != nil {
		state, msg = DownloadFailed, runErr.Error()
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE caption_downloads
		SET state=$2, pages=$3, messages=$4, error=$5, finished_at=$6 WHERE id=$1`),
		id, state, pages, messages, msg, s.now().UTC())
	if err != nil {
		return fmt.Errorf("finish download %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("download %d: %w", id, ErrNotFound)
	}
	return nil
}

// GetDownload loads one run.
func (s *Store) GetDownload(ctx context.Context, id int64) (*Download, error) {
	rows, err := s.queryDownloads(ctx, `WHERE id=$1`, id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("download %d: %w", id, ErrNotFound)
	}
	return rows[0], nil
}

// ListDownloads returns the runs for a space, newest first.
func (s *Store) ListDownloads(ctx context.Context, spaceID string) ([]*Download, error) {
	return s.queryDownloads(ctx, `WHERE space_id=$1 ORDER BY started_at DESC, id DESC`, spaceID)
}

func (s *Store) queryDownloads(ctx context.Context, where string, args ...any) ([]*Download, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, space_id, path, state, pages, messages, error, started_at, finished_at
		FROM caption_downloads `+where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Download
	for rows.Next() {
		var (
			d        Download
			finished sql.NullTime
		)
		if err := rows.Scan(&d.ID, &d.SpaceID, &d.Path, &d.State, &d.Pages, &d.Messages, &d.Error, &d.StartedAt, &finished); err != nil {
			return nil, err
		}
		d.StartedAt = d.StartedAt.UTC()
		d.FinishedAt = db.TimePtr(finished)
		out = append(out, &d)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return out, nil
}
