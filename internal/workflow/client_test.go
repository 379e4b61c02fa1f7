package workflow

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestSweepOverdue(t *testing.T) {
	var (
		mu     sync.Mutex
		gotNow time.Time
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		var req struct {
			Now time.Time `json:"now"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		mu.Lock()
		gotNow = req.Now
		mu.Unlock()
		json.NewEncoder(w).Encode(map[string]int{"transitioned": 3})
	}))
	defer srv.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewHTTPClient(srv.URL)

	transitioned, err := c.SweepOverdue(context.Background(), now)
	if err != nil {
		t.Fatalf("SweepOverdue: %v", err)
	}
	if transitioned != 3 {
		t.Fatalf("expected 3 transitioned, got %d", transitioned)
	}
	mu.Lock()
	defer mu.Unlock()
	if !gotNow.Equal(now) {
		t.Fatalf("expected now %s sent, got %s", now, gotNow)
	}
}

func TestSweepOverdueErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	if _, err := c.SweepOverdue(context.Background(), time.Now()); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestSweepOverdueRespectsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server can detect the client
		// disconnect and cancel the request context.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c := NewHTTPClient(srv.URL)
	if _, err := c.SweepOverdue(ctx, time.Now()); err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestNoopFindsNothing(t *testing.T) {
	n, err := Noop{}.SweepOverdue(context.Background(), time.Now())
	if err != nil || n != 0 {
		t.Fatalf("expected 0, nil; got %d, %v", n, err)
	}
}
