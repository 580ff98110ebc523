package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equitydesk/vestd/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWebhookSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL)
	require.NoError(t, s.Send(context.Background(), "Options exercised", "grant g-1"))
	assert.Equal(t, "Options exercised", got["title"])
	assert.Equal(t, "grant g-1", got["message"])
}

func TestWebhookSenderNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL)
	err := s.Send(context.Background(), "t", "m")
	assert.ErrorContains(t, err, "unexpected status 403")
}

type recordingSender struct {
	mu     sync.Mutex
	titles []string
}

func (r *recordingSender) Send(ctx context.Context, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordingSender) Name() string { return "recorder" }

func (r *recordingSender) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.titles))
	copy(out, r.titles)
	return out
}

func TestNotifierFiltersEvents(t *testing.T) {
	rec := &recordingSender{}
	n := NewNotifier([]Sender{rec}, []string{"ledger_corruption"}, discardLogger())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, "grant_created", "Grant created", "m"))
	require.NoError(t, n.Notify(ctx, "ledger_corruption", "LEDGER CORRUPTION", "m"))

	assert.Equal(t, []string{"LEDGER CORRUPTION"}, rec.snapshot())
}

func TestRelayForwardsBusEvents(t *testing.T) {
	bus := memory.NewSignalBus()
	rec := &recordingSender{}
	n := NewNotifier([]Sender{rec}, nil, discardLogger())
	relay := NewRelay(bus, n, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = relay.Run(ctx)
		close(done)
	}()

	// Give the subscription a moment to register.
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, bus.Publish(ctx, "grants",
		[]byte(`{"event":"options_exercised","grant_id":"g-1"}`)))

	assert.Eventually(t, func() bool {
		titles := rec.snapshot()
		return len(titles) == 1 && titles[0] == "Options exercised"
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
