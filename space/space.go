// Package space holds the domain model for captured audio rooms ("spaces") and the
// users attached to them, plus the normalization from upstream audio-space payloads.
package space

import (
	"strings"
	"time"
)

// State is the lifecycle state reported on a space's metadata.
type State string

const (
	StateNotStarted State = "NotStarted"
	StateRunning    State = "Running"
	StateEnded      State = "Ended"
	StateTimedOut   State = "TimedOut"
	StateUnknown    State = "Unknown"
)

// ParseState maps an upstream metadata state to a State. Anything unrecognized is StateUnknown.
func ParseState(s string) State {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "notstarted", "not_started":
		return StateNotStarted
	case "running":
		return StateRunning
	case "ended":
		return StateEnded
	case "timedout", "timed_out":
		return StateTimedOut
	default:
		return StateUnknown
	}
}

// Capturable reports whether a space in this state should be persisted.
func (s State) Capturable() bool { return s == StateRunning }

// User is a platform account. ID is stable; Username may change.
type User struct {
	ID               string `json:"id"`
	Username         string `json:"username"`
	Name             string `json:"name,omitempty"`
	Protected        bool   `json:"protected,omitempty"`
	Verified         bool   `json:"verified,omitempty"`
	VerifiedType     string `json:"verified_type,omitempty"`
	Location         string `json:"location,omitempty"`
	Description      string `json:"description,omitempty"`
	ProfileImageURL  string `json:"profile_image_url,omitempty"`
	ProfileBannerURL string `json:"profile_banner_url,omitempty"`

	// Partial marks a user known only from a participant summary. Its Protected and
	// Verified flags are not authoritative and must not overwrite stored ones.
	Partial bool `json:"-"`
}

// Room is a live audio broadcast. Membership slices are full snapshots: saving a Room
// replaces whatever membership was stored before.
type Room struct {
	ID        string    `json:"id"`
	CreatorID string    `json:"creator_id"`
	State     State     `json:"state"`
	Title     string    `json:"title,omitempty"`
	Lang      string    `json:"lang,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ScheduledStart *time.Time `json:"scheduled_start,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`

	IsTicketed             bool `json:"is_ticketed"`
	IsAvailableForReplay   bool `json:"is_available_for_replay"`
	IsAvailableForClipping bool `json:"is_available_for_clipping"`
	NarrowCastSpaceType    int  `json:"narrow_cast_space_type"`

	ParticipantCount   int `json:"participant_count"`
	TotalLiveListeners int `json:"total_live_listeners"`
	TotalReplayWatched int `json:"total_replay_watched"`

	PlaylistURL    string `json:"playlist_url,omitempty"`
	PlaylistActive bool   `json:"playlist_active"`

	// MediaKey and ChatToken are not persisted; they let callers fetch the playlist
	// and the caption history for a running space.
	MediaKey  string `json:"-"`
	ChatToken string `json:"-"`

	Creator   *User  `json:"creator,omitempty"`
	Hosts     []User `json:"hosts,omitempty"`
	Speakers  []User `json:"speakers,omitempty"`
	Listeners []User `json:"listeners,omitempty"`
}

// MembershipKind names one of the three membership relations of a Room.
type MembershipKind string

const (
	Hosts     MembershipKind = "hosts"
	Speakers  MembershipKind = "speakers"
	Listeners MembershipKind = "listeners"
)

// MembershipKinds lists every relation in a fixed order.
var MembershipKinds = []MembershipKind{Hosts, Speakers, Listeners}

// Members returns the users of the given relation.
func (r *Room) Members(kind MembershipKind) []User {
	switch kind {
	case Hosts:
		return r.Hosts
	case Speakers:
		return r.Speakers
	case Listeners:
		return r.Listeners
	}
	return nil
}

// Users returns the creator and every member once, creator first.
func (r *Room) Users() []User {
	seen := make(map[string]struct{})
	var out []User
	add := func(u User) {
		if u.ID == "" {
			return
		}
		if _, ok := seen[u.ID]; ok {
			return
		}
		seen[u.ID] = struct{}{}
		out = append(out, u)
	}
	if r.Creator != nil {
		add(*r.Creator)
	} else if r.CreatorID != "" {
		add(User{ID: r.CreatorID, Partial: true})
	}
	for _, kind := range MembershipKinds {
		for _, u := range r.Members(kind) {
			add(u)
		}
	}
	return out
}
