package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func env(eventType string) Envelope {
	return Envelope{Type: eventType, Payload: json.RawMessage(`{}`)}
}

func TestDispatcherDeliversByType(t *testing.T) {
	d := NewDispatcher()

	var gotA, gotB int
	d.Subscribe("chat_delta", func(Envelope) { gotA++ })
	d.Subscribe("chat_delta", func(Envelope) { gotB++ })
	d.Subscribe("chat_start", func(Envelope) { t.Error("chat_start handler should not fire") })

	d.Dispatch(env("chat_delta"))
	d.Dispatch(env("chat_delta"))

	assert.Equal(t, 2, gotA, "each handler sees every event exactly once per arrival")
	assert.Equal(t, 2, gotB)
}

func TestDispatcherWildcard(t *testing.T) {
	d := NewDispatcher()

	var typed, wildcard []string
	d.Subscribe("chat_delta", func(e Envelope) { typed = append(typed, e.Type) })
	d.Subscribe(Wildcard, func(e Envelope) { wildcard = append(wildcard, e.Type) })

	d.Dispatch(env("chat_delta"))
	d.Dispatch(env("totally_unknown"))

	assert.Equal(t, []string{"chat_delta"}, typed)
	// Unknown types still reach wildcard subscribers; only malformed frames
	// are dropped, and that happens before dispatch.
	assert.Equal(t, []string{"chat_delta", "totally_unknown"}, wildcard)
}

func TestDispatcherUnsubscribe(t *testing.T) {
	d := NewDispatcher()

	var got int
	unsubscribe := d.Subscribe("chat_delta", func(Envelope) { got++ })

	d.Dispatch(env("chat_delta"))
	unsubscribe()
	d.Dispatch(env("chat_delta"))

	assert.Equal(t, 1, got, "no delivery after unsubscribe")

	// Unsubscribing twice is harmless
	unsubscribe()
}

func TestDispatcherUnsubscribeRemovesOnlyThatHandler(t *testing.T) {
	d := NewDispatcher()

	var kept, removed int
	d.Subscribe("chat_delta", func(Envelope) { kept++ })
	unsubscribe := d.Subscribe("chat_delta", func(Envelope) { removed++ })
	unsubscribe()

	d.Dispatch(env("chat_delta"))

	assert.Equal(t, 1, kept)
	assert.Equal(t, 0, removed)
}

func TestDispatcherPanicIsolation(t *testing.T) {
	d := NewDispatcher()

	var after int
	d.Subscribe("chat_delta", func(Envelope) { panic("subscriber bug") })
	d.Subscribe("chat_delta", func(Envelope) { after++ })
	d.Subscribe(Wildcard, func(Envelope) { after++ })

	assert.NotPanics(t, func() {
		d.Dispatch(env("chat_delta"))
	})
	assert.Equal(t, 2, after, "one faulty subscriber must not break delivery to others")
}
