// Package watch polls watched accounts' timelines for live spaces and persists the ones that
// are running.
package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/space-tender/gateway"
	"github.com/onnwee/space-tender/space"
	"github.com/onnwee/space-tender/telemetry"
	"github.com/onnwee/space-tender/twitterapi"
)

// Source is the upstream surface a watcher needs. *twitterapi.Client satisfies it.
type Source interface {
	UserTweets(ctx context.Context, userID string) (json.RawMessage, error)
	AudioSpaceByID(ctx context.Context, id string) (*twitterapi.AudioSpace, error)
	LiveVideoStreamStatus(ctx context.Context, mediaKey string) (*twitterapi.StreamStatus, error)
}

// Saver persists a running space. *store.Store satisfies it.
type Saver interface {
	Save(ctx context.Context, r *space.Room) error
}

// CaptionStarter begins a background caption capture for a saved live room.
type CaptionStarter interface {
	Capture(ctx context.Context, r *space.Room) error
}

// Options configures a Watcher. Username, Directory, Source, Gateway and Store are required.
type Options struct {
	Username  string
	Directory Directory
	Source    Source
	Gateway   *gateway.Gateway
	Store     Saver
	Interval  time.Duration
	Jitter    time.Duration
	// Clock defaults to the wall clock.
	Clock Clock
	// Captions, when set, is handed every newly saved room that exposes a chat token.
	Captions CaptionStarter
}

// Status is a snapshot for the status endpoint.
type Status struct {
	Username   string    `json:"username"`
	UserID     string    `json:"user_id,omitempty"`
	Cycles     int64     `json:"cycles"`
	LastPoll   time.Time `json:"last_poll,omitzero"`
	LastError  string    `json:"last_error,omitempty"`
	WorkingSet int       `json:"working_set"`
	Saved      int64     `json:"saved"`
}

// Watcher runs the poll loop for one account.
type Watcher struct {
	opts   Options
	ws     *WorkingSet
	logger *slog.Logger

	mu     sync.Mutex
	status Status
}

// New validates opts and returns a watcher with an empty working set.
func New(opts Options) (*Watcher, error) {
	switch {
	case opts.Username == "":
		return nil, errors.New("watch: username required")
	case opts.Directory == nil || opts.Source == nil || opts.Gateway == nil || opts.Store == nil:
		return nil, errors.New("watch: directory, source, gateway and store are required")
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	return &Watcher{
		opts:   opts,
		ws:     NewWorkingSet(),
		logger: slog.Default().With(slog.String("component", "watcher"), slog.String("username", opts.Username)),
		status: Status{Username: opts.Username},
	}, nil
}

// Username is the watched handle.
func (w *Watcher) Username() string { return w.opts.Username }

// Status returns a copy of the latest cycle's status.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Run polls until ctx is done, waiting Interval±Jitter between cycles. Cycle errors are logged
// and never stop the loop.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("watching", slog.Duration("interval", w.opts.Interval), slog.Duration("jitter", w.opts.Jitter))
	for {
		if err := w.Poll(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("poll cycle failed", slog.Any("err", err), slog.String("class", twitterapi.ClassifyError(err).String()))
		}
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopped")
			return ctx.Err()
		case <-w.opts.Clock.After(jittered(w.opts.Interval, w.opts.Jitter)):
		}
	}
}

// Poll runs one cycle. It returns an error only when the timeline could not be fetched (the
// working set is then left untouched) or ctx ended mid-cycle. Per-space failures are logged
// and skipped.
func (w *Watcher) Poll(ctx context.Context) (err error) {
	userID, ok := w.opts.Directory.UserID(w.opts.Username)
	if !ok {
		w.logger.Debug("user id not resolved yet; skipping cycle")
		return nil
	}

	ctx, span := telemetry.StartSpan(ctx, "watch", "watch.Poll", telemetry.UsernameAttr(w.opts.Username))
	start := w.opts.Clock.Now()
	telemetry.Inc(telemetry.PollCycles)
	defer func() {
		telemetry.Observe(telemetry.PollDuration, w.opts.Clock.Now().Sub(start))
		w.finishCycle(userID, start, err)
		telemetry.EndSpan(span, err)
	}()

	raw, err := gateway.Do(ctx, w.opts.Gateway, func(ctx context.Context) (json.RawMessage, error) {
		return w.opts.Source.UserTweets(ctx, userID)
	})
	if err != nil {
		telemetry.Inc(telemetry.PollErrors)
		return fmt.Errorf("fetch timeline: %w", err)
	}

	observed, derr := twitterapi.ExtractSpaceIDs(raw)
	if derr != nil {
		w.logger.Warn("timeline payload not understood; treating as empty", slog.Any("err", derr))
	}

	for _, id := range observed {
		if w.ws.Has(id) {
			continue
		}
		w.ws.Add(id)
		w.process(ctx, id)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	w.ws.Retain(observed)
	if len(observed) > 0 {
		w.logger.Debug("cycle complete", slog.Any("space_ids", observed), slog.Int("working_set", w.ws.Len()))
	}
	return nil
}

func (w *Watcher) finishCycle(userID string, start time.Time, err error) {
	telemetry.SetWorkingSetSize(w.opts.Username, w.ws.Len())
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.UserID = userID
	w.status.Cycles++
	w.status.LastPoll = start
	w.status.WorkingSet = w.ws.Len()
	w.status.LastError = ""
	if err != nil {
		w.status.LastError = err.Error()
	}
}

// process resolves one new space id and saves it when it is running. Errors stay here.
func (w *Watcher) process(ctx context.Context, id string) {
	logger := w.logger.With(slog.String("space_id", id))

	as, err := gateway.Do(ctx, w.opts.Gateway, func(ctx context.Context) (*twitterapi.AudioSpace, error) {
		return w.opts.Source.AudioSpaceByID(ctx, id)
	})
	if err != nil {
		telemetry.IncLabel(telemetry.SpacesResolved, "failed")
		logger.Error("resolve space failed", slog.Any("err", err), slog.String("class", twitterapi.ClassifyError(err).String()))
		return
	}

	room := as.Room(w.opts.Clock.Now())
	if !room.State.Capturable() {
		telemetry.IncLabel(telemetry.SpacesResolved, "skipped")
		logger.Debug("space not running", slog.String("state", string(room.State)))
		return
	}
	telemetry.IncLabel(telemetry.SpacesResolved, "running")

	w.attachStream(ctx, room, logger)

	if err := w.opts.Store.Save(ctx, room); err != nil {
		logger.Error("save space failed", slog.Any("err", err))
		return
	}
	w.mu.Lock()
	w.status.Saved++
	w.mu.Unlock()
	logger.Info("live space saved", slog.String("title", room.Title), slog.Int("participants", room.ParticipantCount))

	if w.opts.Captions != nil && room.ChatToken != "" {
		if err := w.opts.Captions.Capture(ctx, room); err != nil {
			logger.Warn("caption capture not started", slog.Any("err", err))
		}
	}
}

// attachStream fills the playlist and chat token of a running room. Failures only cost the
// optional fields.
func (w *Watcher) attachStream(ctx context.Context, room *space.Room, logger *slog.Logger) {
	if room.MediaKey == "" {
		return
	}
	st, err := gateway.Do(ctx, w.opts.Gateway, func(ctx context.Context) (*twitterapi.StreamStatus, error) {
		return w.opts.Source.LiveVideoStreamStatus(ctx, room.MediaKey)
	})
	if err != nil {
		logger.Warn("stream status unavailable", slog.Any("err", err))
		return
	}
	room.PlaylistURL = st.Source.Location
	room.PlaylistActive = st.PlaylistActive()
	room.ChatToken = st.ChatToken
}
