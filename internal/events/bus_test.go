package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	var got []string
	bus.Subscribe(EventLoginStepChanged, "recorder", func(_ context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.Payload.(StepChangedPayload).To)
		return nil
	})

	steps := []string{"connecting", "verifying_account", "server_selection", "login_in_to_server"}
	for _, s := range steps {
		bus.Emit(context.Background(), Event{Type: EventLoginStepChanged, Payload: StepChangedPayload{To: s}})
	}
	bus.Stop()

	assert.Equal(t, steps, got)
}

func TestBusRecoversPanics(t *testing.T) {
	bus := NewBus()
	defer bus.Stop()

	called := false
	bus.Subscribe(EventLoginError, "boom", func(context.Context, Event) error { panic("boom") })
	bus.Subscribe(EventLoginError, "after", func(context.Context, Event) error {
		called = true
		return nil
	})

	require.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventLoginError}))
	assert.True(t, called, "handlers after a panicking one still run")
}

func TestBusEmitSyncReturnsFirstError(t *testing.T) {
	bus := NewBus()
	defer bus.Stop()

	errFirst := errors.New("first")
	bus.Subscribe(EventConnectionFailed, "a", func(context.Context, Event) error { return errFirst })
	bus.Subscribe(EventConnectionFailed, "b", func(context.Context, Event) error { return errors.New("second") })

	assert.ErrorIs(t, bus.EmitSync(context.Background(), Event{Type: EventConnectionFailed}), errFirst)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Stop()

	bus.Subscribe(EventServerListUpdated, "a", func(context.Context, Event) error { return nil })
	bus.Subscribe(EventServerListUpdated, "b", func(context.Context, Event) error { return nil })
	bus.Unsubscribe(EventServerListUpdated, "a")
	assert.Equal(t, 1, bus.HandlerCount(EventServerListUpdated))
}

func TestNilBusIsSafe(t *testing.T) {
	var bus *Bus
	bus.Emit(context.Background(), Event{Type: EventShutdown})
	assert.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventShutdown}))
}
