// Package store persists captured spaces. A save is a single transaction: the users
// referenced by the room are upserted first, then the room row, then each membership table
// is fully replaced. Any failure rolls the whole save back.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/space-tender/db"
	"github.com/onnwee/space-tender/space"
	"github.com/onnwee/space-tender/telemetry"
)

var (
	// ErrInvalidRoom is returned for a nil room or a room without an id.
	ErrInvalidRoom = errors.New("invalid room")
	// ErrNotFound is returned by reads for unknown ids.
	ErrNotFound = errors.New("not found")
)

// Store is safe for concurrent use.
type Store struct {
	db      *sql.DB
	dialect db.Dialect
	now     func() time.Time
}

// New wraps an open, migrated database.
func New(dbx *sql.DB, d db.Dialect) *Store {
	return &Store{db: dbx, dialect: d, now: time.Now}
}

// DB exposes the underlying handle (health checks).
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) q(query string) string { return s.dialect.Rebind(query) }

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const upsertUserSQL = `INSERT INTO users(id, username, name, protected, verified, verified_type, location, description,
		profile_image_url, profile_banner_url, created_at, updated_at)
	VALUES($1,$2,$3,COALESCE($4,FALSE),COALESCE($5,FALSE),$6,$7,$8,$9,$10,$11,$11)
	ON CONFLICT(id) DO UPDATE SET
		username=COALESCE(NULLIF(EXCLUDED.username,''), users.username),
		name=COALESCE(NULLIF(EXCLUDED.name,''), users.name),
		protected=COALESCE($4, users.protected),
		verified=COALESCE($5, users.verified),
		verified_type=COALESCE(NULLIF(EXCLUDED.verified_type,''), users.verified_type),
		location=COALESCE(NULLIF(EXCLUDED.location,''), users.location),
		description=COALESCE(NULLIF(EXCLUDED.description,''), users.description),
		profile_image_url=COALESCE(NULLIF(EXCLUDED.profile_image_url,''), users.profile_image_url),
		profile_banner_url=COALESCE(NULLIF(EXCLUDED.profile_banner_url,''), users.profile_banner_url),
		updated_at=EXCLUDED.updated_at`

func (s *Store) upsertUser(ctx context.Context, ex execer, u space.User, now time.Time) error {
	if u.ID == "" {
		return fmt.Errorf("user without id: %w", ErrInvalidRoom)
	}
	// Partial users leave the stored flags alone; NULL falls through the COALESCEs.
	protected := sql.NullBool{Bool: u.Protected, Valid: !u.Partial}
	verified := sql.NullBool{Bool: u.Verified, Valid: !u.Partial}
	_, err := ex.ExecContext(ctx, s.q(upsertUserSQL),
		u.ID, u.Username, u.Name, protected, verified, u.VerifiedType, u.Location, u.Description,
		u.ProfileImageURL, u.ProfileBannerURL, now)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	return nil
}

// UpsertUser stores a single user outside of a room save (directory refreshes).
func (s *Store) UpsertUser(ctx context.Context, u space.User) error {
	return s.upsertUser(ctx, s.db, u, s.now().UTC())
}

const upsertRoomSQL = `INSERT INTO spaces(id, creator_id, state, title, lang, created_at, updated_at,
		scheduled_start, started_at, ended_at, is_ticketed, is_available_for_replay, is_available_for_clipping,
		narrow_cast_space_type, participant_count, total_live_listeners, total_replay_watched,
		playlist_url, playlist_active)
	VALUES($1,NULLIF($2,''),$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	ON CONFLICT(id) DO UPDATE SET
		creator_id=COALESCE(EXCLUDED.creator_id, spaces.creator_id),
		state=EXCLUDED.state,
		title=EXCLUDED.title,
		lang=EXCLUDED.lang,
		updated_at=EXCLUDED.updated_at,
		scheduled_start=COALESCE(EXCLUDED.scheduled_start, spaces.scheduled_start),
		started_at=COALESCE(EXCLUDED.started_at, spaces.started_at),
		ended_at=COALESCE(EXCLUDED.ended_at, spaces.ended_at),
		is_ticketed=EXCLUDED.is_ticketed,
		is_available_for_replay=EXCLUDED.is_available_for_replay,
		is_available_for_clipping=EXCLUDED.is_available_for_clipping,
		narrow_cast_space_type=EXCLUDED.narrow_cast_space_type,
		participant_count=EXCLUDED.participant_count,
		total_live_listeners=EXCLUDED.total_live_listeners,
		total_replay_watched=EXCLUDED.total_replay_watched,
		playlist_url=EXCLUDED.playlist_url,
		playlist_active=EXCLUDED.playlist_active`

func (s *Store) upsertRoom(ctx context.Context, ex execer, r *space.Room, now time.Time) error {
	created := r.CreatedAt
	if created.IsZero() {
		created = now
	}
	updated := r.UpdatedAt
	if updated.IsZero() {
		updated = now
	}
	_, err := ex.ExecContext(ctx, s.q(upsertRoomSQL),
		r.ID, r.CreatorID, string(r.State), r.Title, r.Lang, created.UTC(), updated.UTC(),
		db.NullTime(r.ScheduledStart), db.NullTime(r.StartedAt), db.NullTime(r.EndedAt),
		r.IsTicketed, r.IsAvailableForReplay, r.IsAvailableForClipping,
		r.NarrowCastSpaceType, r.ParticipantCount, r.TotalLiveListeners, r.TotalReplayWatched,
		r.PlaylistURL, r.PlaylistActive)
	if err != nil {
		return fmt.Errorf("upsert space %s: %w", r.ID, err)
	}
	return nil
}

func membershipTable(kind space.MembershipKind) (string, error) {
	switch kind {
	case space.Hosts:
		return "space_hosts", nil
	case space.Speakers:
		return "space_speakers", nil
	case space.Listeners:
		return "space_listeners", nil
	}
	return "", fmt.Errorf("unknown membership kind %q", kind)
}

// replaceMembers makes the stored relation equal to users: every previous row for the room
// is deleted, then the new set is inserted.
func (s *Store) replaceMembers(ctx context.Context, ex execer, roomID string, kind space.MembershipKind, users []space.User) error {
	table, err := membershipTable(kind)
	if err != nil {
		return err
	}
	if _, err := ex.ExecContext(ctx, s.q(`DELETE FROM `+table+` WHERE space_id=$1`), roomID); err != nil {
		return fmt.Errorf("clear %s of %s: %w", kind, roomID, err)
	}
	insert := s.q(`INSERT INTO ` + table + `(space_id, user_id) VALUES($1,$2) ON CONFLICT DO NOTHING`)
	for _, u := range users {
		if u.ID == "" {
			continue
		}
		if _, err := ex.ExecContext(ctx, insert, roomID, u.ID); err != nil {
			return fmt.Errorf("insert %s %s of %s: %w", kind, u.ID, roomID, err)
		}
	}
	return nil
}

// Save persists a room and replaces its memberships atomically. Either every row of the save
// is visible afterwards or none is.
func (s *Store) Save(ctx context.Context, r *space.Room) (err error) {
	if r == nil || r.ID == "" {
		return ErrInvalidRoom
	}
	ctx, span := telemetry.StartSpan(ctx, "store", "store.Save", telemetry.SpaceIDAttr(r.ID))
	defer func() { telemetry.EndSpan(span, err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("rollback failed", slog.String("space_id", r.ID), slog.Any("err", rbErr), slog.String("component", "store"))
		}
		telemetry.Inc(telemetry.SaveFailures)
	}()

	now := s.now().UTC()
	for _, u := range r.Users() {
		if err = s.upsertUser(ctx, tx, u, now); err != nil {
			return err
		}
	}
	if err = s.upsertRoom(ctx, tx, r, now); err != nil {
		return err
	}
	for _, kind := range space.MembershipKinds {
		if err = s.replaceMembers(ctx, tx, r.ID, kind, r.Members(kind)); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	telemetry.Inc(telemetry.SpacesSaved)
	return nil
}
