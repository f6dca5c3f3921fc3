package watch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/space-tender/gateway"
	"github.com/onnwee/space-tender/space"
)

// Directory maps watched handles to numeric user ids. A missing id means "not ready yet".
type Directory interface {
	UserID(username string) (string, bool)
}

// UserLookup resolves a handle. *twitterapi.Client satisfies it.
type UserLookup interface {
	UserByScreenName(ctx context.Context, screenName string) (*space.User, error)
}

// UserUpserter stores resolved accounts. *store.Store satisfies it.
type UserUpserter interface {
	UpsertUser(ctx context.Context, u space.User) error
}

// UserDirectory resolves a fixed list of handles through the gateway and refreshes them
// periodically so renamed accounts keep resolving.
type UserDirectory struct {
	Lookup    UserLookup
	Gateway   *gateway.Gateway
	Store     UserUpserter // optional
	Usernames []string
	Interval  time.Duration

	mu  sync.RWMutex
	ids map[string]string
}

func directoryKey(username string) string { return strings.ToLower(strings.TrimPrefix(username, "@")) }

// UserID implements Directory. Lookups are case-insensitive.
func (d *UserDirectory) UserID(username string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.ids[directoryKey(username)]
	return id, ok
}

// Set records an id directly (tests, or ids known from config).
func (d *UserDirectory) Set(username, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ids == nil {
		d.ids = make(map[string]string)
	}
	d.ids[directoryKey(username)] = id
}

// Refresh resolves every handle once. A failed lookup keeps the previously known id; the
// returned error reports how many handles failed.
func (d *UserDirectory) Refresh(ctx context.Context) error {
	logger := slog.Default().With(slog.String("component", "directory"))
	failed := 0
	for _, name := range d.Usernames {
		u, err := gateway.Do(ctx, d.Gateway, func(ctx context.Context) (*space.User, error) {
			return d.Lookup.UserByScreenName(ctx, strings.TrimPrefix(name, "@"))
		})
		if err != nil {
			failed++
			logger.Warn("resolve user failed", slog.String("username", name), slog.Any("err", err))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if prev, ok := d.UserID(name); !ok || prev != u.ID {
			logger.Info("user resolved", slog.String("username", name), slog.String("user_id", u.ID))
		}
		d.Set(name, u.ID)
		if d.Store != nil {
			if err := d.Store.UpsertUser(ctx, *u); err != nil {
				logger.Warn("store user failed", slog.String("username", name), slog.Any("err", err))
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d users unresolved", failed, len(d.Usernames))
	}
	return nil
}

// Run refreshes immediately and then every Interval until ctx is done.
func (d *UserDirectory) Run(ctx context.Context) error {
	interval := d.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if err := d.Refresh(ctx); err != nil && ctx.Err() == nil {
		slog.Warn("directory refresh", slog.Any("err", err), slog.String("component", "directory"))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.Refresh(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("directory refresh", slog.Any("err", err), slog.String("component", "directory"))
			}
		}
	}
}
