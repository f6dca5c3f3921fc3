// Package server exposes the HTTP API handlers.
package server

import (
	"context"

	"github.com/onnwee/space-tender/captions"
	"github.com/onnwee/space-tender/gateway"
	"github.com/onnwee/space-tender/space"
	"github.com/onnwee/space-tender/store"
	"github.com/onnwee/space-tender/watch"
)

// Pinger reports database reachability. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// SpaceReader is the read side of the capture store. *store.Store satisfies it.
type SpaceReader interface {
	Get(ctx context.Context, id string) (*space.Room, error)
	ListRecent(ctx context.Context, limit int) ([]*space.Room, error)
	ListDownloads(ctx context.Context, spaceID string) ([]*store.Download, error)
}

// CaptionRunner starts and lists caption downloads. *captions.Manager satisfies it.
type CaptionRunner interface {
	Start(roomID, accessToken, dest string) (string, error)
	Active() []captions.Active
}

// Deps are the collaborators the handlers read from. Only DB is required; missing
// collaborators turn their endpoints into 503s.
type Deps struct {
	DB       Pinger
	Spaces   SpaceReader
	Captions CaptionRunner
	Watchers []*watch.Watcher
	Gateway  *gateway.Gateway

	// DataDir receives caption files named in requests.
	DataDir string
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps Deps
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps}
}
