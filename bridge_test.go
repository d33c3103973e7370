package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridgeDispatchCorrelatesByID(t *testing.T) {
	b := NewBridge(nil, nil)
	ch := make(chan bridgeMessage, 1)
	b.mu.Lock()
	b.pending["req-1"] = ch
	b.mu.Unlock()

	b.dispatch([]byte(`{"id":"req-1","kind":"extract_contacts","ok":true,"data":[{"number":"5511999998888"}]}`))

	select {
	case msg := <-ch:
		assert.True(t, msg.OK)
		var contacts []BridgeContact
		require.NoError(t, json.Unmarshal(msg.Data, &contacts))
		require.Len(t, contacts, 1)
		assert.Equal(t, "5511999998888", contacts[0].Number)
	case <-time.After(time.Second):
		t.Fatal("dispatch did not deliver the reply")
	}

	// The pending slot is consumed: a duplicate reply goes nowhere.
	b.dispatch([]byte(`{"id":"req-1","kind":"extract_contacts","ok":true}`))
	select {
	case <-ch:
		t.Fatal("duplicate reply must be discarded")
	default:
	}
}

func TestBridgeDispatchRoutesProgress(t *testing.T) {
	var events []ProgressEvent
	b := NewBridge(nil, func(ev ProgressEvent) { events = append(events, ev) })

	b.dispatch([]byte(`{"id":"req-1","kind":"progress","ok":true,"data":{"progress":40,"count":120}}`))
	b.dispatch([]byte(`{"id":"","kind":"state_changed","ok":true,"data":{"progress":-1,"count":120,"paused":true}}`))

	require.Len(t, events, 2)
	assert.Equal(t, 40, events[0].Progress)
	assert.Equal(t, 120, events[0].Count)
	assert.True(t, events[1].Paused)
}

func TestBridgeDispatchToleratesGarbage(t *testing.T) {
	b := NewBridge(nil, func(ev ProgressEvent) { t.Fatal("garbage must not produce events") })

	// None of these may panic or leak into pending handlers.
	b.dispatch([]byte(`not json at all`))
	b.dispatch([]byte(`{"id":"unknown-req","kind":"extract_contacts","ok":true}`))
	b.dispatch([]byte(`{}`))
}

func TestBridgeDispatchDeliversFailures(t *testing.T) {
	b := NewBridge(nil, nil)
	ch := make(chan bridgeMessage, 1)
	b.mu.Lock()
	b.pending["req-2"] = ch
	b.mu.Unlock()

	b.dispatch([]byte(`{"id":"req-2","kind":"list_groups","ok":false,"error":"host collections unavailable"}`))

	select {
	case msg := <-ch:
		assert.False(t, msg.OK)
		assert.Equal(t, "host collections unavailable", msg.Error)
	case <-time.After(time.Second):
		t.Fatal("failure reply was not delivered")
	}
}
