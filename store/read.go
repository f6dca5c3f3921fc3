package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/onnwee/space-tender/db"
	"github.com/onnwee/space-tender/space"
)

const userColumns = `u.id, u.username, u.name, u.protected, u.verified, u.verified_type, u.location, u.description,
	u.profile_image_url, u.profile_banner_url`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (space.User, error) {
	var u space.User
	err := row.Scan(&u.ID, &u.Username, &u.Name, &u.Protected, &u.Verified, &u.VerifiedType, &u.Location,
		&u.Description, &u.ProfileImageURL, &u.ProfileBannerURL)
	return u, err
}

// GetUser loads a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*space.User, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+userColumns+` FROM users u WHERE u.id=$1`), id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Members returns the stored users of one membership relation, ordered by user id.
func (s *Store) Members(ctx context.Context, roomID string, kind space.MembershipKind) ([]space.User, error) {
	table, err := membershipTable(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+userColumns+` FROM `+table+` m
		JOIN users u ON u.id = m.user_id
		WHERE m.space_id=$1 ORDER BY u.id`), roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []space.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

const roomColumns = `id, COALESCE(creator_id,''), state, title, lang, created_at, updated_at, scheduled_start, started_at,
	ended_at, is_ticketed, is_available_for_replay, is_available_for_clipping, narrow_cast_space_type,
	participant_count, total_live_listeners, total_replay_watched, playlist_url, playlist_active`

func scanRoom(row rowScanner) (*space.Room, error) {
	var (
		r                   space.Room
		state               string
		sched, start, ended sql.NullTime
	)
	err := row.Scan(&r.ID, &r.CreatorID, &state, &r.Title, &r.Lang, &r.CreatedAt, &r.UpdatedAt,
		&sched, &start, &ended, &r.IsTicketed, &r.IsAvailableForReplay, &r.IsAvailableForClipping,
		&r.NarrowCastSpaceType, &r.ParticipantCount, &r.TotalLiveListeners, &r.TotalReplayWatched,
		&r.PlaylistURL, &r.PlaylistActive)
	if err != nil {
		return nil, err
	}
	r.State = space.State(state)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	r.ScheduledStart = db.TimePtr(sched)
	r.StartedAt = db.TimePtr(start)
	r.EndedAt = db.TimePtr(ended)
	return &r, nil
}

// Get loads a room with its creator and every membership relation.
func (s *Store) Get(ctx context.Context, id string) (*space.Room, error) {
	r, err := scanRoom(s.db.QueryRowContext(ctx, s.q(`SELECT `+roomColumns+` FROM spaces WHERE id=$1`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("space %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if r.CreatorID != "" {
		if r.Creator, err = s.GetUser(ctx, r.CreatorID); err != nil {
			return nil, err
		}
	}
	for _, kind := range space.MembershipKinds {
		users, err := s.Members(ctx, id, kind)
		if err != nil {
			return nil, fmt.Errorf("%s of %s: %w", kind, id, err)
		}
		switch kind {
		case space.Hosts:
			r.Hosts = users
		case space.Speakers:
			r.Speakers = users
		case space.Listeners:
			r.Listeners = users
		}
	}
	return r, nil
}

// ListRecent returns the most recently updated rooms without memberships.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*space.Room, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+roomColumns+` FROM spaces ORDER BY updated_at DESC, id LIMIT $1`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*space.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
