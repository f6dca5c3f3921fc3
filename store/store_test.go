package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/onnwee/space-tender/db"
	"github.com/onnwee/space-tender/space"
	"github.com/onnwee/space-tender/testutil"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	s := New(testutil.SetupSQLite(t), db.SQLite)
	s.now = func() time.Time { return testNow }
	return s
}

func newPostgresStore(t *testing.T) *Store {
	t.Helper()
	dbx := testutil.SetupTestDB(t)
	if _, err := dbx.Exec(`TRUNCATE caption_downloads, space_hosts, space_speakers, space_listeners, spaces, users`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	s := New(dbx, db.Postgres)
	s.now = func() time.Time { return testNow }
	return s
}

// forEachDialect runs fn against SQLite and, when TEST_PG_DSN is set, Postgres.
func forEachDialect(t *testing.T, fn func(t *testing.T, s *Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteStore(t)) })
	t.Run("postgres", func(t *testing.T) { fn(t, newPostgresStore(t)) })
}

func u(id, name string) space.User { return space.User{ID: id, Username: name} }

func sampleRoom() *space.Room {
	started := testNow.Add(-10 * time.Minute)
	return &space.Room{
		ID:               "1ROOM",
		CreatorID:        "100",
		State:            space.StateRunning,
		Title:            "v1",
		Lang:             "en",
		CreatedAt:        testNow.Add(-time.Hour),
		UpdatedAt:        testNow,
		StartedAt:        &started,
		ParticipantCount: 4,
		Creator:          &space.User{ID: "100", Username: "host", Name: "Host"},
		Hosts:            []space.User{{ID: "100", Username: "host", Name: "Host"}},
		Speakers:         []space.User{u("200", "bob"), u("300", "carol")},
		Listeners:        []space.User{u("400", "dave")},
	}
}

func TestSave_RoundTrip(t *testing.T) {
	forEachDialect(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		room := sampleRoom()
		if err := s.Save(ctx, room); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		got, err := s.Get(ctx, room.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if diff := cmp.Diff(room, got); diff != "" {
			t.Errorf("Get() mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestSave_ReplacesMemberships(t *testing.T) {
	forEachDialect(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		room := sampleRoom()
		if err := s.Save(ctx, room); err != nil {
			t.Fatalf("first Save() error = %v", err)
		}

		room.Title = "v2"
		room.Hosts = []space.User{u("100", "host")}
		room.Speakers = []space.User{u("300", "carol"), u("500", "erin")}
		room.Listeners = nil
		if err := s.Save(ctx, room); err != nil {
			t.Fatalf("second Save() error = %v", err)
		}

		want := map[space.MembershipKind][]space.User{
			space.Hosts:     {u("100", "host")},
			space.Speakers:  {u("300", "carol"), u("500", "erin")},
			space.Listeners: nil,
		}
		for kind, w := range want {
			got, err := s.Members(ctx, room.ID, kind)
			if err != nil {
				t.Fatalf("Members(%s) error = %v", kind, err)
			}
			// creator row carries the Name from the first save
			for i := range got {
				got[i].Name = ""
			}
			if diff := cmp.Diff(w, got); diff != "" {
				t.Errorf("Members(%s) mismatch (-want +got):\n%s", kind, diff)
			}
		}

		got, err := s.Get(ctx, room.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Title != "v2" {
			t.Errorf("Title = %q, want v2", got.Title)
		}
	})
}

func TestSave_DuplicateMemberIsStoredOnce(t *testing.T) {
	forEachDialect(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		room := sampleRoom()
		room.Listeners = []space.User{u("400", "dave"), u("400", "dave")}
		if err := s.Save(ctx, room); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		got, err := s.Members(ctx, room.ID, space.Listeners)
		if err != nil {
			t.Fatalf("Members() error = %v", err)
		}
		if len(got) != 1 {
			t.Errorf("listeners = %v, want one row", got)
		}
	})
}

func TestSave_PreservesKnownUsernameAndCreatedAt(t *testing.T) {
	forEachDialect(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		room := sampleRoom()
		if err := s.Save(ctx, room); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		// later payload carries only ids and a different creation time
		room.Creator = nil
		room.Speakers = []space.User{{ID: "200"}}
		room.CreatedAt = testNow
		if err := s.Save(ctx, room); err != nil {
			t.Fatalf("second Save() error = %v", err)
		}

		bob, err := s.GetUser(ctx, "200")
		if err != nil {
			t.Fatalf("GetUser() error = %v", err)
		}
		if bob.Username != "bob" {
			t.Errorf("Username = %q, want bob", bob.Username)
		}
		host, err := s.GetUser(ctx, "100")
		if err != nil {
			t.Fatalf("GetUser() error = %v", err)
		}
		if host.Name != "Host" {
			t.Errorf("creator Name = %q, want Host", host.Name)
		}
		got, err := s.Get(ctx, room.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if want := testNow.Add(-time.Hour); !got.CreatedAt.Equal(want) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want)
		}
	})
}

func TestSave_PartialMemberKeepsStoredFlags(t *testing.T) {
	forEachDialect(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		full := space.User{ID: "200", Username: "bob", Protected: true, Verified: true, VerifiedType: "Business"}
		if err := s.UpsertUser(ctx, full); err != nil {
			t.Fatalf("UpsertUser() error = %v", err)
		}

		room := sampleRoom()
		room.Speakers = []space.User{{ID: "200", Username: "bob", Name: "Bob", Partial: true}, u("300", "carol")}
		if err := s.Save(ctx, room); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		got, err := s.GetUser(ctx, "200")
		if err != nil {
			t.Fatalf("GetUser() error = %v", err)
		}
		want := &space.User{ID: "200", Username: "bob", Name: "Bob", Protected: true, Verified: true, VerifiedType: "Business"}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("GetUser() mismatch (-want +got):\n%s", diff)
		}

		// a full profile still replaces the flags
		if err := s.UpsertUser(ctx, space.User{ID: "200", Username: "bob"}); err != nil {
			t.Fatalf("UpsertUser() error = %v", err)
		}
		got, err = s.GetUser(ctx, "200")
		if err != nil {
			t.Fatalf("GetUser() error = %v", err)
		}
		if got.Protected || got.Verified {
			t.Errorf("flags = protected:%v verified:%v, want both false", got.Protected, got.Verified)
		}
	})
}

func TestSave_PartialUserInsertsDefaults(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	room := &space.Room{ID: "1NEW", CreatorID: "700", State: space.StateRunning,
		Speakers: []space.User{{ID: "800", Username: "new", Verified: true, Partial: true}}}
	if err := s.Save(ctx, room); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	for _, id := range []string{"700", "800"} {
		got, err := s.GetUser(ctx, id)
		if err != nil {
			t.Fatalf("GetUser(%s) error = %v", id, err)
		}
		if got.Protected || got.Verified {
			t.Errorf("user %s flags = protected:%v verified:%v, want defaults", id, got.Protected, got.Verified)
		}
	}
}

func TestSave_KeepsTimestampsOnceSet(t *testing.T) {
	forEachDialect(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		room := sampleRoom()
		scheduled := testNow.Add(-20 * time.Minute)
		room.ScheduledStart = &scheduled
		if err := s.Save(ctx, room); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		started := *room.StartedAt

		room.ScheduledStart = nil
		room.StartedAt = nil
		ended := testNow.Add(5 * time.Minute)
		room.EndedAt = &ended
		if err := s.Save(ctx, room); err != nil {
			t.Fatalf("second Save() error = %v", err)
		}

		got, err := s.Get(ctx, room.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.ScheduledStart == nil || !got.ScheduledStart.Equal(scheduled) {
			t.Errorf("ScheduledStart = %v, want %v", got.ScheduledStart, scheduled)
		}
		if got.StartedAt == nil || !got.StartedAt.Equal(started) {
			t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
		}
		if got.EndedAt == nil || !got.EndedAt.Equal(ended) {
			t.Errorf("EndedAt = %v, want %v", got.EndedAt, ended)
		}
	})
}

func TestSave_WithoutCreator(t *testing.T) {
	forEachDialect(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		room := &space.Room{ID: "1ORPHAN", State: space.StateRunning}
		if err := s.Save(ctx, room); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		got, err := s.Get(ctx, room.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.CreatorID != "" || got.Creator != nil {
			t.Errorf("creator = %q %+v, want none", got.CreatorID, got.Creator)
		}
		if !got.CreatedAt.Equal(testNow) || !got.UpdatedAt.Equal(testNow) {
			t.Errorf("timestamps = %v %v, want %v", got.CreatedAt, got.UpdatedAt, testNow)
		}
	})
}

func TestSave_Invalid(t *testing.T) {
	s := newSQLiteStore(t)
	for _, r := range []*space.Room{nil, {State: space.StateRunning}} {
		if err := s.Save(context.Background(), r); !errors.Is(err, ErrInvalidRoom) {
			t.Errorf("Save(%v) error = %v, want ErrInvalidRoom", r, err)
		}
	}
}

// TestSave_RollsBackOnMembershipFailure forces the speakers insert to fail after the users
// and the room row have already been written inside the transaction.
func TestSave_RollsBackOnMembershipFailure(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	if _, err := s.DB().Exec(`CREATE TRIGGER fail_speaker BEFORE INSERT ON space_speakers
		WHEN NEW.user_id = 'boom'
		BEGIN SELECT RAISE(ABORT, 'speaker insert rejected'); END`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	room := sampleRoom()
	if err := s.Save(ctx, room); err != nil {
		t.Fatalf("first Save() error = %v", err)
	}

	room.Title = "v2"
	room.Hosts = nil
	room.Speakers = []space.User{u("200", "bob"), u("boom", "boom")}
	if err := s.Save(ctx, room); err == nil {
		t.Fatal("Save() error = nil, want trigger failure")
	}

	got, err := s.Get(ctx, room.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Title != "v1" {
		t.Errorf("Title = %q, want v1 (room update must roll back)", got.Title)
	}
	if len(got.Hosts) != 1 || len(got.Speakers) != 2 || len(got.Listeners) != 1 {
		t.Errorf("memberships = %d/%d/%d, want 1/2/1", len(got.Hosts), len(got.Speakers), len(got.Listeners))
	}
	if _, err := s.GetUser(ctx, "boom"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUser(boom) error = %v, want ErrNotFound (user upsert must roll back)", err)
	}
}

func TestSave_CanceledContext(t *testing.T) {
	s := newSQLiteStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Save(ctx, sampleRoom()); err == nil {
		t.Fatal("Save() error = nil, want context error")
	}
	if _, err := s.Get(context.Background(), "1ROOM"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := newSQLiteStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestListRecent(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	for i, id := range []string{"A", "B", "C"} {
		r := &space.Room{ID: id, State: space.StateRunning, UpdatedAt: testNow.Add(time.Duration(i) * time.Minute)}
		if err := s.Save(ctx, r); err != nil {
			t.Fatalf("Save(%s) error = %v", id, err)
		}
	}
	rooms, err := s.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	var ids []string
	for _, r := range rooms {
		ids = append(ids, r.ID)
	}
	if diff := cmp.Diff([]string{"C", "B"}, ids); diff != "" {
		t.Errorf("ListRecent() ids mismatch (-want +got):\n%s", diff)
	}
}

func TestUpsertUser(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	if err := s.UpsertUser(ctx, space.User{ID: "9", Username: "zed", Verified: true}); err != nil {
		t.Fatalf("UpsertUser() error = %v", err)
	}
	got, err := s.GetUser(ctx, "9")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if diff := cmp.Diff(&space.User{ID: "9", Username: "zed", Verified: true}, got); diff != "" {
		t.Errorf("GetUser() mismatch (-want +got):\n%s", diff)
	}
	if err := s.UpsertUser(ctx, space.User{}); err == nil {
		t.Error("UpsertUser(empty id) error = nil")
	}
}

func TestDownloads(t *testing.T) {
	forEachDialect(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		id, err := s.StartDownload(ctx, "1ROOM", "/data/a.jsonl")
		if err != nil {
			t.Fatalf("StartDownload() error = %v", err)
		}
		d, err := s.GetDownload(ctx, id)
		if err != nil {
			t.Fatalf("GetDownload() error = %v", err)
		}
		if d.State != DownloadRunning || d.FinishedAt != nil || !d.StartedAt.Equal(testNow) {
			t.Errorf("running download = %+v", d)
		}

		if err := s.FinishDownload(ctx, id, 3, 42, errors.New("upstream 503")); err != nil {
			t.Fatalf("FinishDownload() error = %v", err)
		}
		list, err := s.ListDownloads(ctx, "1ROOM")
		if err != nil {
			t.Fatalf("ListDownloads() error = %v", err)
		}
		if len(list) != 1 {
			t.Fatalf("ListDownloads() = %d rows, want 1", len(list))
		}
		got := list[0]
		if got.State != DownloadFailed || got.Pages != 3 || got.Messages != 42 || got.Error != "upstream 503" || got.FinishedAt == nil {
			t.Errorf("finished download = %+v", got)
		}

		if err := s.FinishDownload(ctx, id+100, 0, 0, nil); !errors.Is(err, ErrNotFound) {
			t.Errorf("FinishDownload(unknown) error = %v, want ErrNotFound", err)
		}
		if _, err := s.GetDownload(ctx, id+100); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetDownload(unknown) error = %v, want ErrNotFound", err)
		}
	})
}
