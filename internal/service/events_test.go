package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalEventsDeliversWithoutRetaining(t *testing.T) {
	bus := NewLocalEvents()
	delivered := 0
	require.NoError(t, bus.Subscribe(context.Background(), EventEssayScored, func(Event) { delivered++ }))

	for i := 0; i < 10000; i++ {
		require.NoError(t, bus.Publish(context.Background(), EventEssayScored, map[string]int{"id": i}))
	}

	require.Equal(t, 10000, delivered)
	require.Empty(t, bus.Sent())
}

func TestRecordingLocalEventsKeepsHistory(t *testing.T) {
	bus := NewRecordingLocalEvents()

	require.NoError(t, bus.Publish(context.Background(), EventExamGraded, map[string]int{"id": 1}))
	require.NoError(t, bus.Publish(context.Background(), EventEssayScored, map[string]int{"id": 2}))

	sent := bus.Sent()
	require.Len(t, sent, 2)
	require.Equal(t, EventExamGraded, sent[0].Type)
	require.Equal(t, bus.NodeID(), sent[1].Source)
}
