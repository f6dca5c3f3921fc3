package watch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/onnwee/space-tender/gateway"
	"github.com/onnwee/space-tender/space"
	"github.com/onnwee/space-tender/testutil"
)

type recordingUpserter struct {
	mu    sync.Mutex
	users []space.User
	err   error
}

func (r *recordingUpserter) UpsertUser(_ context.Context, u space.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, u)
	return r.err
}

func newDirectory(t *testing.T, mock *testutil.MockTwitterServer, names ...string) (*UserDirectory, *recordingUpserter) {
	t.Helper()
	g := gateway.New(gateway.Config{MaxConcurrent: 1})
	t.Cleanup(g.Close)
	up := &recordingUpserter{}
	return &UserDirectory{Lookup: mock.Client(), Gateway: g, Store: up, Usernames: names}, up
}

func TestUserDirectory_Refresh(t *testing.T) {
	mock := testutil.NewMockTwitterServer(t)
	mock.MockUser("Alice", "42")
	d, up := newDirectory(t, mock, "@Alice")

	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	for _, name := range []string{"alice", "@ALICE", "Alice"} {
		if id, ok := d.UserID(name); !ok || id != "42" {
			t.Errorf("UserID(%q) = %q, %v; want 42, true", name, id, ok)
		}
	}
	if len(up.users) != 1 || up.users[0].ID != "42" {
		t.Errorf("upserted = %+v", up.users)
	}
}

func TestUserDirectory_RefreshKeepsPreviousIDOnFailure(t *testing.T) {
	mock := testutil.NewMockTwitterServer(t)
	mock.MockUser("alice", "42")
	d, _ := newDirectory(t, mock, "alice", "bob")
	d.Set("bob", "7")

	err := d.Refresh(context.Background())
	if err == nil {
		t.Fatal("Refresh() error = nil, want unresolved bob")
	}
	if id, ok := d.UserID("bob"); !ok || id != "7" {
		t.Errorf("UserID(bob) = %q, %v; want previous id 7", id, ok)
	}
	if id, _ := d.UserID("alice"); id != "42" {
		t.Errorf("UserID(alice) = %q, want 42", id)
	}
}

func TestUserDirectory_StoreErrorDoesNotFailRefresh(t *testing.T) {
	mock := testutil.NewMockTwitterServer(t)
	mock.MockUser("alice", "42")
	d, up := newDirectory(t, mock, "alice")
	up.err = errors.New("locked")

	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if _, ok := d.UserID("alice"); !ok {
		t.Error("alice not resolved")
	}
}

func TestUserDirectory_UnknownUser(t *testing.T) {
	var d UserDirectory
	if _, ok := d.UserID("nobody"); ok {
		t.Error("UserID() ok = true on empty directory")
	}
}
