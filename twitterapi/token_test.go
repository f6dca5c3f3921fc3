package twitterapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestGuestTokenSource_CachesUntilInvalidated(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer b" {
			t.Errorf("Authorization = %q", got)
		}
		n := calls.Add(1)
		writeJSON(t, w, map[string]string{"guest_token": "tok-" + string(rune('0'+n))})
	}))
	defer srv.Close()

	ts := &GuestTokenSource{Bearer: "b", HTTPClient: srv.Client(), ActivateURL: srv.URL}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		tok, err := ts.Get(ctx)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if tok != "tok-1" {
			t.Fatalf("Get() = %q, want tok-1", tok)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("activations = %d, want 1", calls.Load())
	}

	ts.Invalidate()
	tok, err := ts.Get(ctx)
	if err != nil {
		t.Fatalf("Get() after Invalidate error = %v", err)
	}
	if tok != "tok-2" {
		t.Errorf("Get() after Invalidate = %q, want tok-2", tok)
	}
}

func TestGuestTokenSource_Expires(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(t, w, map[string]string{"guest_token": "tok"})
	}))
	defer srv.Close()

	ts := &GuestTokenSource{HTTPClient: srv.Client(), ActivateURL: srv.URL, TTL: time.Nanosecond}
	for i := 0; i < 2; i++ {
		if _, err := ts.Get(context.Background()); err != nil {
			t.Fatal(err)
		}
		time.Sleep(time.Millisecond)
	}
	if calls.Load() != 2 {
		t.Errorf("activations = %d, want 2", calls.Load())
	}
}

func TestGuestTokenSource_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload string
	}{
		{"rejected", http.StatusForbidden, `{"errors":[{"code":200}]}`},
		{"empty token", http.StatusOK, `{"guest_token":""}`},
		{"malformed", http.StatusOK, `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.payload))
			}))
			defer srv.Close()

			ts := &GuestTokenSource{HTTPClient: srv.Client(), ActivateURL: srv.URL}
			if tok, err := ts.Get(context.Background()); err == nil {
				t.Fatalf("Get() = %q, want error", tok)
			}
		})
	}
}
