package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rovshanmuradov/ultra-swap/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestBus(t *testing.T, size int) *Bus {
	t.Helper()
	bus := NewBus(zaptest.NewLogger(t), size)
	t.Cleanup(func() { _ = bus.Shutdown(context.Background()) })
	return bus
}

func TestObserverEventsArriveInOrder(t *testing.T) {
	bus := newTestBus(t, 64)

	var (
		mu  sync.Mutex
		got []string
	)
	bus.SubscribeFunc(FormUpdated, func(_ context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.(FormUpdatedEvent).Form.FromValue)
		return nil
	})
	bus.SubscribeFunc(ScreenUpdated, func(_ context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, "screen:"+string(e.(ScreenUpdatedEvent).Screen))
		return nil
	})

	obs := NewSessionObserver(bus)
	obs.OnFormUpdate(session.Form{FromValue: "1"})
	obs.OnFormUpdate(session.Form{FromValue: "1.5"})
	obs.OnScreenUpdate(session.ScreenSwapping)
	obs.OnFormUpdate(session.Form{FromValue: "2"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 4
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"1", "1.5", "screen:Swapping", "2"}, got)
}

func TestUnsubscribe(t *testing.T) {
	bus := newTestBus(t, 8)

	calls := 0
	sub := bus.SubscribeFunc(FormUpdated, func(context.Context, Event) error {
		calls++
		return nil
	})
	ev := FormUpdatedEvent{BaseEvent: BaseEvent{EventType: FormUpdated, EventTime: time.Now()}}

	require.NoError(t, bus.PublishSync(context.Background(), ev))
	sub.Unsubscribe()
	require.NoError(t, bus.PublishSync(context.Background(), ev))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, bus.Stats()["event_types"])
}

func TestPublishSyncJoinsHandlerErrors(t *testing.T) {
	bus := newTestBus(t, 8)

	errA := errors.New("a")
	errB := errors.New("b")
	bus.SubscribeFunc(ScreenUpdated, func(context.Context, Event) error { return errA })
	bus.SubscribeFunc(ScreenUpdated, func(context.Context, Event) error { return errB })

	err := bus.PublishSync(context.Background(), ScreenUpdatedEvent{BaseEvent: BaseEvent{EventType: ScreenUpdated}})
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}

func TestPublishFullBufferDrops(t *testing.T) {
	bus := newTestBus(t, 1)

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	bus.SubscribeFunc(FormUpdated, func(context.Context, Event) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return nil
	})
	ev := FormUpdatedEvent{BaseEvent: BaseEvent{EventType: FormUpdated}}

	require.NoError(t, bus.Publish(ev))
	<-entered
	require.NoError(t, bus.Publish(ev))
	assert.ErrorIs(t, bus.Publish(ev), ErrBufferFull)
	assert.Equal(t, uint64(1), bus.Stats()["dropped_events"])

	close(release)
}

func TestPublishAfterShutdown(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 8)

	delivered := make(chan struct{}, 1)
	bus.SubscribeFunc(ScreenUpdated, func(context.Context, Event) error {
		delivered <- struct{}{}
		return nil
	})
	require.NoError(t, bus.Publish(ScreenUpdatedEvent{BaseEvent: BaseEvent{EventType: ScreenUpdated}}))
	require.NoError(t, bus.Shutdown(context.Background()))

	select {
	case <-delivered:
	default:
		t.Fatal("queued event was not delivered before shutdown")
	}
	assert.ErrorIs(t, bus.Publish(ScreenUpdatedEvent{BaseEvent: BaseEvent{EventType: ScreenUpdated}}), ErrBusClosed)
}

func TestHandlerErrorsAreLogged(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	bus := NewBus(zap.New(core), 8)
	t.Cleanup(func() { _ = bus.Shutdown(context.Background()) })

	bus.SubscribeFunc(ScreenUpdated, func(context.Context, Event) error { return assert.AnError })
	require.NoError(t, bus.Publish(ScreenUpdatedEvent{BaseEvent: BaseEvent{EventType: ScreenUpdated}}))

	require.Eventually(t, func() bool {
		return logs.FilterMessage("Failed to process event").Len() == 1
	}, time.Second, time.Millisecond)

	entry := logs.FilterMessage("Failed to process event").All()[0]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)
	assert.Equal(t, string(ScreenUpdated), entry.ContextMap()["event_type"])
}

func TestObserverLogsUndeliveredUpdates(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	bus := NewBus(zap.New(core), 8)
	require.NoError(t, bus.Shutdown(context.Background()))

	obs := NewSessionObserver(bus)
	obs.OnFormUpdate(session.Form{FromValue: "1"})
	obs.OnScreenUpdate(session.ScreenSwapping)

	entries := logs.FilterMessage("Session update not delivered").All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, string(FormUpdated), entries[0].ContextMap()["event_type"])
	assert.Equal(t, string(ScreenUpdated), entries[1].ContextMap()["event_type"])
	assert.Equal(t, ErrBusClosed.Error(), entries[1].ContextMap()["error"])
}
