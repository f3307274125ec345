package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type recordingSender struct {
	mu   sync.Mutex
	name string
	err  error
	msgs []Message
}

func (s *recordingSender) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func TestNotifier_FiltersButNeverDropsCritical(t *testing.T) {
	t.Parallel()
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"closed", " "}, discard())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, Message{Event: "opened"}))
	require.NoError(t, n.Notify(ctx, Message{Event: "closed"}))
	require.NoError(t, n.Notify(ctx, Message{Event: "emergency", Severity: SeverityCritical}))
	assert.Equal(t, 2, s.count())
}

func TestNotifier_JoinsSenderErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	bad := &recordingSender{name: "bad", err: boom}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), Message{Event: "opened"})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bad")
	assert.Equal(t, 1, good.count(), "remaining senders still receive the message")
}

func TestFormat(t *testing.T) {
	t.Parallel()
	pos := &domain.Position{Instrument: "BTC", Direction: domain.DirectionLong, Size: 0.1, EntryPrice: 50_000, StopLoss: 49_000, Phase: domain.PhaseInactive}

	tests := []struct {
		name     string
		ev       domain.LifecycleEvent
		title    string
		severity Severity
		body     string
	}{
		{
			name:     "opened",
			ev:       domain.LifecycleEvent{Event: domain.EventOpened, Instrument: "BTC", Position: pos},
			title:    "Opened LONG BTC",
			severity: SeverityInfo,
			body:     "size 0.1 @ 50000\nstop 49000",
		},
		{
			name: "stopped out",
			ev: domain.LifecycleEvent{Event: domain.EventClosed, Instrument: "BTC", Trade: &domain.ClosedTrade{
				Direction: domain.DirectionLong, Size: 0.1, EntryPrice: 50_000, ExitPrice: 49_000, PnL: -100, Reason: domain.CloseReasonStopLoss,
			}},
			title:    "Closed BTC",
			severity: SeverityWarning,
			body:     "long 0.1 @ 50000 -> 49000\nreason stop_loss, pnl -100.00",
		},
		{
			name:     "rollback failed",
			ev:       domain.LifecycleEvent{Event: domain.EventRollbackFailed, Instrument: "ETH", Message: "close rejected"},
			title:    "ROLLBACK FAILED on ETH: unprotected position",
			severity: SeverityCritical,
			body:     "close rejected",
		},
		{
			name:     "emergency",
			ev:       domain.LifecycleEvent{Event: domain.EventEmergency, Instrument: "ETH"},
			title:    "EMERGENCY close on ETH",
			severity: SeverityCritical,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg := Format(tt.ev)
			assert.Equal(t, tt.title, msg.Title)
			assert.Equal(t, tt.severity, msg.Severity)
			assert.Equal(t, tt.body, msg.Body)
			assert.Equal(t, tt.ev.Event, msg.Event)
		})
	}
}

func TestTelegramSender(t *testing.T) {
	t.Parallel()
	var got map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), Message{Title: "Closed <BTC>", Body: "pnl 1 & 2", Severity: SeverityInfo}))

	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, true, got["disable_notification"])
	assert.Contains(t, got["text"], "<b>Closed &lt;BTC&gt;</b>")
	assert.Contains(t, got["text"], "pnl 1 &amp; 2")
}

func TestDiscordSender(t *testing.T) {
	t.Parallel()
	var got struct {
		Content string         `json:"content"`
		Embeds  []discordEmbed `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	require.NoError(t, s.Send(context.Background(), Message{Event: "emergency", Title: "EMERGENCY", Severity: SeverityCritical}))

	require.Len(t, got.Embeds, 1)
	assert.Equal(t, 0xe74c3c, got.Embeds[0].Color)
	assert.Equal(t, "emergency", got.Embeds[0].Footer.Text)
	assert.Equal(t, "2026-03-01T12:00:00Z", got.Embeds[0].Timestamp)
	assert.Equal(t, "@here EMERGENCY", got.Content)
}

func TestSendersReportHTTPErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	tg := NewTelegramSender("tok", "1")
	tg.baseURL = srv.URL
	assert.ErrorContains(t, tg.Send(context.Background(), Message{Title: "x"}), "unexpected status 400")
	assert.ErrorContains(t, NewDiscordSender(srv.URL).Send(context.Background(), Message{Title: "x"}), "unexpected status 400")
}
