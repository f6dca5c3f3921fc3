package twitterapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/onnwee/space-tender/space"
)

const audioSpaceFixture = `{"data":{"audioSpace":{
  "metadata":{
    "rest_id":"1OdKrBnaEPXKX",
    "state":"Running",
    "title":"Morning show",
    "media_key":"28_1234",
    "language":"ja",
    "created_at":1700000000000,
    "scheduled_start":"1700000300000",
    "started_at":1700000600000,
    "updated_at":1700000700000,
    "ticket_group_id":"",
    "is_space_available_for_replay":true,
    "is_space_available_for_clipping":false,
    "narrow_cast_space_type":0,
    "total_live_listeners":12,
    "total_replay_watched":3,
    "creator_results":{"result":{"rest_id":"100","legacy":{"screen_name":"host","name":"Host"}}}
  },
  "participants":{
    "total":3,
    "admins":[{"periscope_user_id":"p1","twitter_screen_name":"host","display_name":"Host",
      "user_results":{"rest_id":"100","result":{"rest_id":"100","legacy":{"screen_name":"host","name":"Host"}}}}],
    "speakers":[{"twitter_screen_name":"guest","display_name":"Guest","avatar_url":"https://img/g.jpg","is_verified":true,
      "user_results":{"rest_id":"200"}}],
    "listeners":[{"twitter_screen_name":"anon","user_results":{}},
      {"twitter_screen_name":"fan","user_results":{"rest_id":"300","result":{"rest_id":"300","legacy":{"screen_name":"fan"}}}}]
  }
}}}`

func TestClient_AudioSpaceByID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/AudioSpaceById") {
			t.Errorf("path = %s", r.URL.Path)
		}
		var vars map[string]any
		if err := json.Unmarshal([]byte(r.URL.Query().Get("variables")), &vars); err != nil {
			t.Errorf("variables: %v", err)
		}
		if vars["id"] != "1OdKrBnaEPXKX" {
			t.Errorf("id = %v", vars["id"])
		}
		_, _ = io.WriteString(w, audioSpaceFixture)
	})

	as, err := c.AudioSpaceByID(context.Background(), "1OdKrBnaEPXKX")
	if err != nil {
		t.Fatalf("AudioSpaceByID() error = %v", err)
	}
	if as.State() != space.StateRunning {
		t.Errorf("State() = %q", as.State())
	}

	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	room := as.Room(now)

	ms := func(v int64) *time.Time { tm := time.UnixMilli(v).UTC(); return &tm }
	want := &space.Room{
		ID:                   "1OdKrBnaEPXKX",
		CreatorID:            "100",
		State:                space.StateRunning,
		Title:                "Morning show",
		Lang:                 "ja",
		CreatedAt:            *ms(1700000000000),
		UpdatedAt:            now,
		ScheduledStart:       ms(1700000300000),
		StartedAt:            ms(1700000600000),
		IsAvailableForReplay: true,
		ParticipantCount:     3,
		TotalLiveListeners:   12,
		TotalReplayWatched:   3,
		MediaKey:             "28_1234",
		Creator:              &space.User{ID: "100", Username: "host", Name: "Host"},
		Hosts:                []space.User{{ID: "100", Username: "host", Name: "Host"}},
		Speakers: []space.User{{
			ID: "200", Username: "guest", Name: "Guest", Verified: true, ProfileImageURL: "https://img/g.jpg", Partial: true,
		}},
		Listeners: []space.User{{ID: "300", Username: "fan"}},
	}
	if diff := cmp.Diff(want, room); diff != "" {
		t.Errorf("Room() mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_AudioSpaceByID_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"audioSpace":{}}}`)
	})
	_, err := c.AudioSpaceByID(context.Background(), "missing")
	if !errors.Is(err, ErrSpaceNotFound) {
		t.Fatalf("error = %v, want ErrSpaceNotFound", err)
	}
	if ClassifyError(err) != ErrorClassFatal {
		t.Errorf("ClassifyError() = %v, want fatal", ClassifyError(err))
	}
}

func TestAudioSpace_RoomFlags(t *testing.T) {
	var as AudioSpace
	raw := `{"metadata":{"rest_id":"x","state":"Ended","ticket_group_id":"tg","ended_at":"1700000900000","created_at":null}}`
	if err := json.Unmarshal([]byte(raw), &as); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	now := time.Unix(1700001000, 0).UTC()
	r := as.Room(now)
	if !r.IsTicketed {
		t.Error("IsTicketed = false, want true")
	}
	if r.State != space.StateEnded || r.State.Capturable() {
		t.Errorf("State = %q capturable=%v", r.State, r.State.Capturable())
	}
	if r.EndedAt == nil || !r.EndedAt.Equal(time.UnixMilli(1700000900000)) {
		t.Errorf("EndedAt = %v", r.EndedAt)
	}
	if !r.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want fallback %v", r.CreatedAt, now)
	}
	if r.Creator != nil || r.CreatorID != "" {
		t.Errorf("creator = %+v %q, want none", r.Creator, r.CreatorID)
	}
}

func TestEpochMillis_Invalid(t *testing.T) {
	var e epochMillis
	if err := json.Unmarshal([]byte(`"soon"`), &e); err == nil {
		t.Fatal("Unmarshal() error = nil, want error")
	}
}

func TestClient_LiveVideoStreamStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/1.1/live_video_stream/status/28_1234" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"source":{"location":"https://media/playlist.m3u8","status":"LIVE_PUBLIC"},"chatToken":"ct"}`)
	})
	st, err := c.LiveVideoStreamStatus(context.Background(), "28_1234")
	if err != nil {
		t.Fatalf("LiveVideoStreamStatus() error = %v", err)
	}
	if st.ChatToken != "ct" || st.Source.Location != "https://media/playlist.m3u8" || !st.PlaylistActive() {
		t.Errorf("status = %+v", st)
	}
	if _, err := c.LiveVideoStreamStatus(context.Background(), ""); err == nil {
		t.Error("empty media key: error = nil")
	}
}
