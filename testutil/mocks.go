package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/onnwee/space-tender/twitterapi"
)

// MockTwitterServer mocks the GraphQL, guest activation, stream status and chat endpoints.
// Handlers are keyed by GraphQL operation name ("UserTweets") or by path for everything else.
type MockTwitterServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu   sync.Mutex
	hits map[string]int
}

const (
	guestActivatePath = "/1.1/guest/activate.json"
	streamStatusPath  = "/1.1/live_video_stream/status/"
	chatHistoryPath   = "/chatapi/v1/history"
	accessChatPath    = "/api/v2/accessChatPublic"
)

func routeKey(path string) string {
	if strings.Contains(path, "/graphql/") {
		return path[strings.LastIndex(path, "/")+1:]
	}
	if strings.HasPrefix(path, streamStatusPath) {
		return streamStatusPath
	}
	return path
}

// NewMockTwitterServer creates a mock with guest activation already wired.
func NewMockTwitterServer(t *testing.T) *MockTwitterServer {
	t.Helper()
	m := &MockTwitterServer{
		Handlers: make(map[string]http.HandlerFunc),
		hits:     make(map[string]int),
	}
	m.Handlers[guestActivatePath] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"guest_token": "mock-guest"})
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := routeKey(r.URL.Path)
		m.mu.Lock()
		m.hits[key]++
		handler, ok := m.Handlers[key]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Handle registers a handler under a route key.
func (m *MockTwitterServer) Handle(key string, h http.HandlerFunc) {
	m.mu.Lock()
	m.Handlers[key] = h
	m.mu.Unlock()
}

// Hits returns how many requests a route key received.
func (m *MockTwitterServer) Hits(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits[key]
}

// Client returns an API client pointed at the mock.
func (m *MockTwitterServer) Client() *twitterapi.Client {
	return &twitterapi.Client{
		Guest:       &twitterapi.GuestTokenSource{ActivateURL: m.URL + guestActivatePath},
		APIBase:     m.URL,
		ChatBase:    m.URL,
		ProxseeBase: m.URL,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockUser adds a UserByScreenName handler that resolves screenName to userID.
func (m *MockTwitterServer) MockUser(screenName, userID string) {
	m.Handle("UserByScreenName", func(w http.ResponseWriter, r *http.Request) {
		var vars map[string]any
		_ = json.Unmarshal([]byte(r.URL.Query().Get("variables")), &vars)
		if !strings.EqualFold(fmt.Sprint(vars["screen_name"]), screenName) {
			writeJSON(w, map[string]any{"data": map[string]any{}})
			return
		}
		writeJSON(w, map[string]any{"data": map[string]any{"user": map[string]any{"result": userResult(userID, screenName)}}})
	})
}

func userResult(id, screenName string) map[string]any {
	return map[string]any{
		"rest_id": id,
		"legacy":  map[string]any{"screen_name": screenName, "name": strings.ToUpper(screenName)},
	}
}

// UserTweetsPayload builds a timeline whose tweets carry room cards for spaceIDs.
func UserTweetsPayload(spaceIDs ...string) map[string]any {
	entries := make([]any, 0, len(spaceIDs))
	for _, id := range spaceIDs {
		entries = append(entries, map[string]any{
			"content": map[string]any{
				"entryType": "TimelineTimelineItem",
				"itemContent": map[string]any{
					"tweet_results": map[string]any{
						"result": map[string]any{
							"card": map[string]any{
								"legacy": map[string]any{
									"binding_values": []any{
										map[string]any{"key": "id", "value": map[string]any{"string_value": id}},
									},
								},
							},
						},
					},
				},
			},
		})
	}
	return map[string]any{"data": map[string]any{"user": map[string]any{"result": map[string]any{
		"timeline": map[string]any{"timeline": map[string]any{"instructions": []any{
			map[string]any{"type": "TimelineAddEntries", "entries": entries},
		}}},
	}}}}
}

// MockUserTweets serves a fixed timeline for every user.
func (m *MockTwitterServer) MockUserTweets(spaceIDs ...string) {
	payload := UserTweetsPayload(spaceIDs...)
	m.Handle("UserTweets", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, payload)
	})
}

// MockSpace describes an AudioSpaceById response. Member slices hold user ids.
type MockSpace struct {
	ID        string
	State     string
	Title     string
	CreatorID string
	MediaKey  string
	Hosts     []string
	Speakers  []string
	Listeners []string
}

func (s MockSpace) payload() map[string]any {
	members := func(ids []string) []any {
		out := make([]any, 0, len(ids))
		for _, id := range ids {
			out = append(out, map[string]any{
				"twitter_screen_name": "user" + id,
				"user_results":        map[string]any{"rest_id": id, "result": userResult(id, "user"+id)},
			})
		}
		return out
	}
	meta := map[string]any{
		"rest_id":    s.ID,
		"state":      s.State,
		"title":      s.Title,
		"media_key":  s.MediaKey,
		"created_at": 1700000000000,
	}
	if s.CreatorID != "" {
		meta["creator_results"] = map[string]any{"result": userResult(s.CreatorID, "user"+s.CreatorID)}
	}
	return map[string]any{"data": map[string]any{"audioSpace": map[string]any{
		"metadata": meta,
		"participants": map[string]any{
			"total":     len(s.Hosts) + len(s.Speakers) + len(s.Listeners),
			"admins":    members(s.Hosts),
			"speakers":  members(s.Speakers),
			"listeners": members(s.Listeners),
		},
	}}}
}

// MockAudioSpaces serves the given spaces by id; unknown ids get an empty payload.
func (m *MockTwitterServer) MockAudioSpaces(spaces ...MockSpace) {
	byID := make(map[string]MockSpace, len(spaces))
	for _, s := range spaces {
		byID[s.ID] = s
	}
	m.Handle("AudioSpaceById", func(w http.ResponseWriter, r *http.Request) {
		var vars map[string]any
		_ = json.Unmarshal([]byte(r.URL.Query().Get("variables")), &vars)
		s, ok := byID[fmt.Sprint(vars["id"])]
		if !ok {
			writeJSON(w, map[string]any{"data": map[string]any{"audioSpace": map[string]any{}}})
			return
		}
		writeJSON(w, s.payload())
	})
}

// MockStreamStatus serves a live stream status carrying chatToken.
func (m *MockTwitterServer) MockStreamStatus(chatToken string) {
	m.Handle(streamStatusPath, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"source":    map[string]string{"location": "https://media.invalid/playlist.m3u8", "status": "LIVE_PUBLIC"},
			"chatToken": chatToken,
		})
	})
}

// MockAccessChat exchanges any chat token for accessToken.
func (m *MockTwitterServer) MockAccessChat(accessToken string) {
	m.Handle(accessChatPath, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"access_token": accessToken})
	})
}

// MockChatHistory serves pages in order. Page i is requested with cursor "" for i == 0 and
// "page-i" afterwards; the last page returns an empty cursor.
func (m *MockTwitterServer) MockChatHistory(pages ...[]json.RawMessage) {
	m.Handle(chatHistoryPath, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Cursor string `json:"cursor"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		idx := 0
		if body.Cursor != "" {
			if _, err := fmt.Sscanf(body.Cursor, "page-%d", &idx); err != nil || idx >= len(pages) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		}
		next := ""
		if idx+1 < len(pages) {
			next = fmt.Sprintf("page-%d", idx+1)
		}
		msgs := []json.RawMessage{}
		if idx < len(pages) {
			msgs = append(msgs, pages[idx]...)
		}
		writeJSON(w, map[string]any{"messages": msgs, "cursor": next})
	})
}
