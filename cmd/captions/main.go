// Command captions downloads the caption history of one space into a JSON-lines file.
//
//	captions -space 1YqKDqWqdPLJV -token <access token> [-out file.jsonl] [-data dir]
//
// With -chat-token instead of -token, the stream chat token is exchanged for an access
// token first. The process exits non-zero if any page fails; lines already written stay.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/space-tender/captions"
	"github.com/onnwee/space-tender/gateway"
	"github.com/onnwee/space-tender/twitterapi"
)

func main() {
	_ = godotenv.Load(".env")
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], &twitterapi.Client{Guest: &twitterapi.GuestTokenSource{}}, os.Stdout)
	stop()
	os.Exit(code)
}

// run parses args, downloads and prints the destination path. It returns the process exit
// code: 2 for bad usage, 1 for a failed exchange or download.
func run(ctx context.Context, args []string, client *twitterapi.Client, stdout io.Writer) int {
	fs := flag.NewFlagSet("captions", flag.ContinueOnError)
	spaceID := fs.String("space", "", "space (room) id")
	token := fs.String("token", "", "chat history access token")
	chatToken := fs.String("chat-token", "", "stream chat token to exchange for an access token")
	out := fs.String("out", "", "destination file (default <unix-millis>-<uuid>.jsonl in -data)")
	dataDir := fs.String("data", envOr("DATA_DIR", "."), "directory for default-named files")
	spacing := fs.Duration("spacing", time.Second, "minimum gap between upstream calls")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *spaceID == "" || (*token == "" && *chatToken == "") {
		fs.Usage()
		return 2
	}

	gw := gateway.New(gateway.Config{MinSpacing: *spacing, MaxConcurrent: 1})
	defer gw.Close()

	access := *token
	if access == "" {
		var err error
		access, err = gateway.Do(ctx, gw, func(ctx context.Context) (string, error) {
			return client.AccessChatPublic(ctx, *chatToken)
		})
		if err != nil {
			slog.Error("chat token exchange failed", slog.Any("err", err))
			return 1
		}
	}

	d := &captions.Downloader{Source: client, Gateway: gw, DataDir: *dataDir}
	res, err := d.Download(ctx, *spaceID, access, *out)
	if err != nil {
		slog.Error("download failed", slog.String("path", res.Path), slog.Int("pages", res.Pages), slog.Int("messages", res.Messages), slog.Any("err", err))
		return 1
	}
	_, _ = fmt.Fprintln(stdout, res.Path)
	return 0
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
