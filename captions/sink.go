package captions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// Sink receives caption records in order.
type Sink interface {
	Append(rec json.RawMessage) error
	Close() error
}

// FileSink writes one compact JSON document per line. Every Append is synced to disk before
// it returns, so a crash loses at most the record being written.
type FileSink struct {
	f   *os.File
	buf bytes.Buffer
}

// CreateFileSink creates path, truncating any existing file.
func CreateFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644) //nolint:gosec // path is operator supplied
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &FileSink{f: f}, nil
}

// Append writes rec and a newline, then fsyncs.
func (s *FileSink) Append(rec json.RawMessage) error {
	s.buf.Reset()
	if err := json.Compact(&s.buf, rec); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}
	s.buf.WriteByte('\n')
	if _, err := s.f.Write(s.buf.Bytes()); err != nil {
		return err
	}
	return s.f.Sync()
}

// Close closes the file.
func (s *FileSink) Close() error { return s.f.Close() }
