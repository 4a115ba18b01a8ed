package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravewalk/server/internal/lib/navigation"
)

func TestHub_FullQueueKeepsArrivalAndClose(t *testing.T) {
	ctx := logging.EnsureLogger(t.Context())
	hub := NewHub(ctx)

	client := &Client{sessionID: "s-1", hub: hub, send: make(chan []byte, 2*maxQueued)}
	hub.clients["s-1"] = map[*Client]struct{}{client: {}}

	for i := 0; i < maxQueued+20; i++ {
		hub.Publish("s-1", navigation.Snapshot{ID: "s-1", Phase: navigation.PhaseNearTarget, FixesProcessed: i + 1})
	}
	require.Equal(t, maxQueued, hub.queued(), "ordinary snapshots are dropped once the queue is full")

	hub.Publish("s-1", navigation.Snapshot{ID: "s-1", Phase: navigation.PhaseArrived})
	hub.CloseSession("s-1")
	assert.Equal(t, maxQueued+2, hub.queued())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go hub.Run(runCtx)

	var messages []StreamMessage
	timeout := time.After(2 * time.Second)
	for open := true; open; {
		select {
		case data, ok := <-client.send:
			if !ok {
				open = false
				break
			}
			var msg StreamMessage
			require.NoError(t, json.Unmarshal(data, &msg))
			messages = append(messages, msg)
		case <-timeout:
			t.Fatal("client was never disconnected")
		}
	}

	require.Len(t, messages, maxQueued+2)
	arrived := messages[len(messages)-2]
	require.NotNil(t, arrived.Snapshot)
	assert.Equal(t, navigation.PhaseArrived, arrived.Snapshot.Phase)
	assert.Equal(t, MessageClosed, messages[len(messages)-1].Type)

	// Publish order is preserved
	for i := 1; i < maxQueued; i++ {
		assert.Less(t, messages[i-1].Snapshot.FixesProcessed, messages[i].Snapshot.FixesProcessed)
	}
}
