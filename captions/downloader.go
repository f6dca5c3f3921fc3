// Package captions downloads a room's caption (chat) history into a JSON-lines file, one
// record per line in arrival order.
package captions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/space-tender/gateway"
	"github.com/onnwee/space-tender/telemetry"
	"github.com/onnwee/space-tender/twitterapi"
)

// HistorySource fetches one page of caption history. *twitterapi.Client satisfies it.
type HistorySource interface {
	ChatHistory(ctx context.Context, room, accessToken, cursor string) (*twitterapi.ChatPage, error)
}

// Result summarizes a download run. It is filled in as far as the run got, also on error.
type Result struct {
	Path     string `json:"path"`
	Pages    int    `json:"pages"`
	Messages int    `json:"messages"`
}

// Downloader walks a room's history cursor chain and appends every record to a Sink.
type Downloader struct {
	Source  HistorySource
	Gateway *gateway.Gateway
	// DataDir receives default-named files. Empty means the working directory.
	DataDir string
	// Now and OpenSink default to time.Now and CreateFileSink.
	Now      func() time.Time
	OpenSink func(path string) (Sink, error)
}

// DefaultFileName is "<unix-millis>-<uuidv7>.jsonl". The random part keeps concurrent
// downloads started in the same millisecond apart.
func DefaultFileName(now time.Time) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return fmt.Sprintf("%d-%s.jsonl", now.UnixMilli(), id)
}

func (d *Downloader) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// ResolvePath returns dest, or a fresh default file name inside DataDir when dest is empty.
func (d *Downloader) ResolvePath(dest string) string {
	if dest != "" {
		return dest
	}
	return filepath.Join(d.DataDir, DefaultFileName(d.now()))
}

func (d *Downloader) open(path string) (Sink, error) {
	if d.OpenSink != nil {
		return d.OpenSink(path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return CreateFileSink(path)
}

// Download fetches every page of roomID's history, starting from the empty cursor, and writes
// each record as one line of dest. The file is truncated first. The first failed fetch or
// write ends the run: it is logged with the room id and page number and returned as is,
// leaving whatever was already written on disk.
func (d *Downloader) Download(ctx context.Context, roomID, accessToken, dest string) (res Result, err error) {
	if roomID == "" || accessToken == "" {
		return Result{}, errors.New("captions: room id and access token required")
	}
	if d.Source == nil || d.Gateway == nil {
		return Result{}, errors.New("captions: downloader needs a source and a gateway")
	}
	res.Path = d.ResolvePath(dest)
	logger := slog.Default().With(slog.String("component", "captions"), slog.String("room_id", roomID))

	ctx, span := telemetry.StartSpan(ctx, "captions", "captions.Download", telemetry.SpaceIDAttr(roomID))
	defer func() { telemetry.EndSpan(span, err) }()

	sink, err := d.open(res.Path)
	if err != nil {
		logger.Error("open caption file failed", slog.String("path", res.Path), slog.Any("err", err))
		return res, err
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", res.Path, cerr)
		}
	}()

	cursor := ""
	for page := 1; ; page++ {
		p, err := gateway.Do(ctx, d.Gateway, func(ctx context.Context) (*twitterapi.ChatPage, error) {
			return d.Source.ChatHistory(ctx, roomID, accessToken, cursor)
		})
		if err != nil {
			logger.Error("caption page fetch failed", slog.Int("page", page), slog.Any("err", err))
			return res, fmt.Errorf("fetch page %d: %w", page, err)
		}
		res.Pages++
		telemetry.Inc(telemetry.CaptionPages)

		for _, msg := range p.Messages {
			if err := sink.Append(msg); err != nil {
				logger.Error("caption write failed", slog.Int("page", page), slog.Any("err", err))
				return res, fmt.Errorf("write page %d: %w", page, err)
			}
			res.Messages++
		}
		telemetry.Add(telemetry.CaptionMessages, len(p.Messages))
		logger.Debug("caption page written", slog.Int("page", page), slog.Int("messages", len(p.Messages)))

		if p.Cursor == "" {
			break
		}
		cursor = p.Cursor
	}
	logger.Info("captions downloaded", slog.String("path", res.Path), slog.Int("pages", res.Pages), slog.Int("messages", res.Messages))
	return res, nil
}
