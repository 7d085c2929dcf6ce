package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBus_PublishDelivers(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 16)
	defer func() { _ = bus.Shutdown(context.Background()) }()

	got := make(chan Event, 1)
	bus.SubscribeFunc(PoolWon, func(_ context.Context, e Event) error {
		got <- e
		return nil
	})
	bus.SubscribeFunc(PoolUnlocked, func(context.Context, Event) error {
		t.Error("unexpected delivery to UNLOCKED handler")
		return nil
	})

	ev := NewPoolEvent(PoolWon, 7, "pool", "winner selected")
	require.NoError(t, bus.Publish(ev))

	select {
	case e := <-got:
		assert.Equal(t, ev, e)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_ClosedRejectsPublish(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 4)
	require.NoError(t, bus.Shutdown(context.Background()))
	assert.ErrorIs(t, bus.Publish(NewPoolEvent(PoolWon, 1, "a", "")), ErrBusClosed)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 4)
	defer func() { _ = bus.Shutdown(context.Background()) }()

	sub := bus.SubscribeFunc(PoolWon, func(context.Context, Event) error { return nil })
	assert.Equal(t, 1, bus.Stats().HandlersPerType[string(PoolWon)])
	sub.Unsubscribe()
	assert.Zero(t, bus.Stats().HandlersPerType[string(PoolWon)])
}

func TestWebhookNotifier(t *testing.T) {
	received := make(chan PoolEvent, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var ev PoolEvent
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		received <- ev
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	bus := NewBus(zaptest.NewLogger(t), 4)
	notifier := NewWebhookNotifier(srv.URL, time.Second, zaptest.NewLogger(t))
	notifier.Attach(bus)

	ev := NewPoolEvent(PoolWon, 3, "PoolAddr", "Pool 3 won")
	ev.Winner = "WinnerAddr"
	require.NoError(t, bus.Publish(ev))

	select {
	case got := <-received:
		assert.Equal(t, ev.ID, got.ID)
		assert.Equal(t, PoolWon, got.EventType)
		assert.Equal(t, uint(3), got.PoolID)
		assert.Equal(t, "WinnerAddr", got.Winner)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not called")
	}

	notifier.Detach()
	require.NoError(t, bus.Shutdown(context.Background()))
}

func TestWebhookNotifier_RejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second, zaptest.NewLogger(t))
	err := n.Handle(context.Background(), NewPoolEvent(PoolUnlocked, 1, "a", "unlocked"))
	assert.Error(t, err)
}

func TestBus_ShutdownWaitsForInFlightDelivery(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 4)

	started := make(chan struct{})
	outcome := make(chan error, 1)
	bus.SubscribeFunc(PoolWon, func(ctx context.Context, _ Event) error {
		close(started)
		select {
		case <-time.After(200 * time.Millisecond):
			outcome <- nil
		case <-ctx.Done():
			outcome <- ctx.Err()
		}
		return nil
	})

	require.NoError(t, bus.Publish(NewPoolEvent(PoolWon, 3, "pool", "won")))
	<-started
	require.NoError(t, bus.Shutdown(context.Background()))

	select {
	case err := <-outcome:
		assert.NoError(t, err, "delivery must complete on graceful shutdown")
	default:
		t.Fatal("Shutdown returned before the delivery finished")
	}
}

func TestBus_ShutdownDeadlineCancelsDelivery(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 4)

	started := make(chan struct{})
	outcome := make(chan error, 1)
	bus.SubscribeFunc(PoolWon, func(ctx context.Context, _ Event) error {
		close(started)
		<-ctx.Done()
		outcome <- ctx.Err()
		return ctx.Err()
	})

	require.NoError(t, bus.Publish(NewPoolEvent(PoolWon, 4, "pool", "won")))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, bus.Shutdown(ctx), context.DeadlineExceeded)

	select {
	case err := <-outcome:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not cancelled after the shutdown deadline")
	}
}
