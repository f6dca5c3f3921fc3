package captions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/onnwee/space-tender/gateway"
	"github.com/onnwee/space-tender/space"
	"github.com/onnwee/space-tender/telemetry"
)

// ErrInProgress is returned when a download for the same room is already running.
var ErrInProgress = errors.New("caption download already in progress")

// ChatAccess exchanges a stream chat token for a history access token.
// *twitterapi.Client satisfies it.
type ChatAccess interface {
	AccessChatPublic(ctx context.Context, chatToken string) (string, error)
}

// RunRecorder persists download runs. *store.Store satisfies it.
type RunRecorder interface {
	StartDownload(ctx context.Context, spaceID, path string) (int64, error)
	FinishDownload(ctx context.Context, id int64, pages, messages int, runErr error) error
}

// Active describes a running download.
type Active struct {
	SpaceID   string    `json:"space_id"`
	Path      string    `json:"path"`
	StartedAt time.Time `json:"started_at"`
}

// Manager runs downloads in the background, at most one per room.
type Manager struct {
	ctx        context.Context
	downloader *Downloader
	access     ChatAccess
	runs       RunRecorder
	logger     *slog.Logger

	mu     sync.Mutex
	active map[string]Active
	wg     sync.WaitGroup
}

// NewManager returns a manager whose downloads run under ctx; cancelling it stops them.
// access and runs may be nil (no token exchange, no run log).
func NewManager(ctx context.Context, d *Downloader, access ChatAccess, runs RunRecorder) *Manager {
	return &Manager{
		ctx:        ctx,
		downloader: d,
		access:     access,
		runs:       runs,
		logger:     slog.Default().With(slog.String("component", "captions_manager")),
		active:     make(map[string]Active),
	}
}

// Capture exchanges the room's chat token for an access token and starts a download into a
// default-named file. It implements the watcher's capture hook.
func (m *Manager) Capture(ctx context.Context, r *space.Room) error {
	if r.ChatToken == "" {
		return errors.New("room has no chat token")
	}
	if m.access == nil {
		return errors.New("chat access not configured")
	}
	if m.IsActive(r.ID) {
		return ErrInProgress
	}
	token, err := gateway.Do(ctx, m.downloader.Gateway, func(ctx context.Context) (string, error) {
		return m.access.AccessChatPublic(ctx, r.ChatToken)
	})
	if err != nil {
		return fmt.Errorf("access chat for %s: %w", r.ID, err)
	}
	_, err = m.Start(r.ID, token, "")
	return err
}

// Start begins downloading roomID in the background and returns the destination path.
func (m *Manager) Start(roomID, accessToken, dest string) (string, error) {
	if roomID == "" || accessToken == "" {
		return "", errors.New("room id and access token required")
	}
	if err := m.ctx.Err(); err != nil {
		return "", err
	}
	path := m.downloader.ResolvePath(dest)

	m.mu.Lock()
	if _, ok := m.active[roomID]; ok {
		m.mu.Unlock()
		return "", ErrInProgress
	}
	m.active[roomID] = Active{SpaceID: roomID, Path: path, StartedAt: time.Now().UTC()}
	telemetry.SetActiveDownloads(len(m.active))
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(roomID, accessToken, path)
	return path, nil
}

func (m *Manager) run(roomID, accessToken, path string) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		delete(m.active, roomID)
		telemetry.SetActiveDownloads(len(m.active))
		m.mu.Unlock()
	}()
	logger := m.logger.With(slog.String("room_id", roomID), slog.String("path", path))

	var runID int64
	if m.runs != nil {
		id, err := m.runs.StartDownload(m.ctx, roomID, path)
		if err != nil {
			logger.Warn("record download start failed", slog.Any("err", err))
		}
		runID = id
	}

	start := time.Now()
	res, err := m.downloader.Download(m.ctx, roomID, accessToken, path)
	telemetry.Observe(telemetry.DownloadDuration, time.Since(start))
	if err != nil {
		telemetry.IncLabel(telemetry.CaptionDownloads, "failed")
		logger.Error("caption download failed", slog.Int("pages", res.Pages), slog.Int("messages", res.Messages), slog.Any("err", err))
	} else {
		telemetry.IncLabel(telemetry.CaptionDownloads, "complete")
	}

	if runID != 0 {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(m.ctx), 5*time.Second)
		defer cancel()
		if ferr := m.runs.FinishDownload(ctx, runID, res.Pages, res.Messages, err); ferr != nil {
			logger.Warn("record download result failed", slog.Any("err", ferr))
		}
	}
}

// IsActive reports whether roomID is downloading.
func (m *Manager) IsActive(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[roomID]
	return ok
}

// Active lists running downloads ordered by room id.
func (m *Manager) Active() []Active {
	m.mu.Lock()
	out := make([]Active, 0, len(m.active))
	for _, a := range m.active {
		out = append(out, a)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SpaceID < out[j].SpaceID })
	return out
}

// Wait blocks until every started download has returned.
func (m *Manager) Wait() { m.wg.Wait() }
