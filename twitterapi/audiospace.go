package twitterapi

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/onnwee/space-tender/space"
)

// epochMillis decodes a millisecond timestamp sent either as a number or as a string.
type epochMillis int64

func (e *epochMillis) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*e = 0
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("epoch millis %q: %w", b, err)
	}
	*e = epochMillis(n)
	return nil
}

// Time returns nil for unset timestamps.
func (e epochMillis) Time() *time.Time {
	if e <= 0 {
		return nil
	}
	t := time.UnixMilli(int64(e)).UTC()
	return &t
}

// AudioSpace is the AudioSpaceById payload.
type AudioSpace struct {
	Metadata struct {
		RestID                      string      `json:"rest_id"`
		State                       string      `json:"state"`
		Title                       string      `json:"title"`
		MediaKey                    string      `json:"media_key"`
		Language                    string      `json:"language"`
		CreatedAt                   epochMillis `json:"created_at"`
		ScheduledStart              epochMillis `json:"scheduled_start"`
		StartedAt                   epochMillis `json:"started_at"`
		EndedAt                     epochMillis `json:"ended_at"`
		UpdatedAt                   epochMillis `json:"updated_at"`
		TicketGroupID               string      `json:"ticket_group_id"`
		IsSpaceAvailableForReplay   bool        `json:"is_space_available_for_replay"`
		IsSpaceAvailableForClipping bool        `json:"is_space_available_for_clipping"`
		NarrowCastSpaceType         int         `json:"narrow_cast_space_type"`
		TotalReplayWatched          int         `json:"total_replay_watched"`
		TotalLiveListeners          int         `json:"total_live_listeners"`
		CreatorResults              struct {
			Result *userResult `json:"result"`
		} `json:"creator_results"`
	} `json:"metadata"`
	Participants struct {
		Total     int           `json:"total"`
		Admins    []participant `json:"admins"`
		Speakers  []participant `json:"speakers"`
		Listeners []participant `json:"listeners"`
	} `json:"participants"`
}

type participant struct {
	PeriscopeUserID   string `json:"periscope_user_id"`
	TwitterScreenName string `json:"twitter_screen_name"`
	DisplayName       string `json:"display_name"`
	AvatarURL         string `json:"avatar_url"`
	IsVerified        bool   `json:"is_verified"`
	UserResults       struct {
		RestID string      `json:"rest_id"`
		Result *userResult `json:"result"`
	} `json:"user_results"`
}

func (p participant) user() (space.User, bool) {
	if u := p.UserResults.Result.user(); u != nil {
		return *u, true
	}
	id := p.UserResults.RestID
	if id == "" {
		return space.User{}, false
	}
	return space.User{
		ID:              id,
		Username:        p.TwitterScreenName,
		Name:            p.DisplayName,
		Verified:        p.IsVerified,
		ProfileImageURL: p.AvatarURL,
		Partial:         true,
	}, true
}

func participants(ps []participant) []space.User {
	out := make([]space.User, 0, len(ps))
	for _, p := range ps {
		if u, ok := p.user(); ok {
			out = append(out, u)
		}
	}
	return out
}

// State returns the parsed lifecycle state.
func (a *AudioSpace) State() space.State { return space.ParseState(a.Metadata.State) }

// Room normalizes the payload into a space.Room. now fills UpdatedAt (and CreatedAt when the
// payload has none).
func (a *AudioSpace) Room(now time.Time) *space.Room {
	m := a.Metadata
	r := &space.Room{
		ID:                     m.RestID,
		State:                  a.State(),
		Title:                  m.Title,
		Lang:                   m.Language,
		CreatedAt:              now.UTC(),
		UpdatedAt:              now.UTC(),
		ScheduledStart:         m.ScheduledStart.Time(),
		StartedAt:              m.StartedAt.Time(),
		EndedAt:                m.EndedAt.Time(),
		IsTicketed:             m.TicketGroupID != "",
		IsAvailableForReplay:   m.IsSpaceAvailableForReplay,
		IsAvailableForClipping: m.IsSpaceAvailableForClipping,
		NarrowCastSpaceType:    m.NarrowCastSpaceType,
		ParticipantCount:       a.Participants.Total,
		TotalLiveListeners:     m.TotalLiveListeners,
		TotalReplayWatched:     m.TotalReplayWatched,
		MediaKey:               m.MediaKey,
		Hosts:                  participants(a.Participants.Admins),
		Speakers:               participants(a.Participants.Speakers),
		Listeners:              participants(a.Participants.Listeners),
	}
	if t := m.CreatedAt.Time(); t != nil {
		r.CreatedAt = *t
	}
	if creator := m.CreatorResults.Result.user(); creator != nil {
		r.Creator = creator
		r.CreatorID = creator.ID
	}
	return r
}

// AudioSpaceByID fetches a space's metadata and participants.
func (c *Client) AudioSpaceByID(ctx context.Context, id string) (*AudioSpace, error) {
	if id == "" {
		return nil, fmt.Errorf("space id empty")
	}
	vars := map[string]any{
		"id":                         id,
		"isMetatagsQuery":            false,
		"withReplays":                true,
		"withListeners":              true,
		"withSuperFollowsUserFields": true,
	}
	feats := map[string]bool{
		"spaces_2022_h2_clipping":                          true,
		"spaces_2022_h2_spaces_communities":                true,
		"verified_phone_label_enabled":                     false,
		"responsive_web_graphql_exclude_directive_enabled": true,
	}
	var body struct {
		Data struct {
			AudioSpace *AudioSpace `json:"audioSpace"`
		} `json:"data"`
	}
	if err := c.graphQL(ctx, audioSpaceByIDPath, vars, feats, &body); err != nil {
		return nil, err
	}
	as := body.Data.AudioSpace
	if as == nil || as.Metadata.RestID == "" {
		return nil, fmt.Errorf("%s: %w", id, ErrSpaceNotFound)
	}
	return as, nil
}

// StreamStatus is the live_video_stream status of a running space.
type StreamStatus struct {
	Source struct {
		Location string `json:"location"`
		Status   string `json:"status"`
	} `json:"source"`
	ChatToken string `json:"chatToken"`
}

// PlaylistActive reports whether the HLS playlist is currently being served.
func (s *StreamStatus) PlaylistActive() bool {
	return s.Source.Location != "" && s.Source.Status == "LIVE_PUBLIC"
}

// LiveVideoStreamStatus returns the playlist location and chat token for a space's media key.
func (c *Client) LiveVideoStreamStatus(ctx context.Context, mediaKey string) (*StreamStatus, error) {
	if mediaKey == "" {
		return nil, fmt.Errorf("media key empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL(liveStreamStatusPath+mediaKey), nil)
	if err != nil {
		return nil, err
	}
	var st StreamStatus
	if err := c.doAPI(ctx, req, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
