package delivery_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tacedge/tacgate/pkg/delivery"
	"github.com/tacedge/tacgate/pkg/types"
)

func seedRegistry() *delivery.StaticRegistry {
	return delivery.NewStaticRegistry([]delivery.Node{
		{NodeID: "NODE-ALPHA", Status: delivery.NodeConnected, Capabilities: []string{"voice", "data"}},
		{NodeID: "NODE-BRAVO", Status: delivery.NodeConnected, Capabilities: []string{"data"}},
		{NodeID: "NODE-CHARLIE"},
	})
}

func TestStaticRegistry_Membership(t *testing.T) {
	r := seedRegistry()

	assert.True(t, r.IsConnected("NODE-ALPHA"))
	assert.False(t, r.IsConnected("NODE-CHARLIE"), "nodes default to disconnected")
	assert.False(t, r.IsConnected("NODE-ZULU"), "unknown nodes are not connected")

	nodes := r.Nodes()
	require.Len(t, nodes, 3)
	assert.Equal(t, "NODE-ALPHA", nodes[0].NodeID, "listing is ordered by id")
	assert.Equal(t, "NODE-BRAVO", nodes[1].NodeID)
}

func TestStaticRegistry_SetConnected(t *testing.T) {
	r := seedRegistry()
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	r.SetClock(func() time.Time { return now })

	require.NoError(t, r.SetConnected("NODE-CHARLIE", true))
	assert.True(t, r.IsConnected("NODE-CHARLIE"))

	n, ok := r.Get("NODE-CHARLIE")
	require.True(t, ok)
	assert.Equal(t, now, n.LastSeen)

	require.NoError(t, r.SetConnected("NODE-ALPHA", false))
	assert.False(t, r.IsConnected("NODE-ALPHA"))

	assert.Error(t, r.SetConnected("NODE-ZULU", true))
}

func TestTransmitter_DeliverToConnectedNode(t *testing.T) {
	r := seedRegistry()

	var sentTo string
	tx := delivery.NewTransmitter(r, func(_ context.Context, node delivery.Node, messageID, payload string) error {
		sentTo = node.NodeID
		return nil
	})

	err := tx.Deliver(context.Background(), "msg-1", "NODE-BRAVO", "ciphertext", types.PrecedenceFlash)
	require.NoError(t, err)
	assert.Equal(t, "NODE-BRAVO", sentTo)
}

func TestTransmitter_UnreachableNode(t *testing.T) {
	tx := delivery.NewTransmitter(seedRegistry(), nil)

	err := tx.Deliver(context.Background(), "msg-1", "NODE-ZULU", "ciphertext", types.PrecedenceFlash)
	assert.ErrorIs(t, err, delivery.ErrNodeUnreachable)

	err = tx.Deliver(context.Background(), "msg-2", "NODE-CHARLIE", "ciphertext", types.PrecedenceFlash)
	assert.ErrorIs(t, err, delivery.ErrNodeUnreachable, "disconnected node is unreachable")
}

func TestTransmitter_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	r := seedRegistry()
	bearerDown := errors.New("bearer down")
	tx := delivery.NewTransmitter(r, func(context.Context, delivery.Node, string, string) error {
		return bearerDown
	})

	for i := 0; i < 5; i++ {
		err := tx.Deliver(context.Background(), "msg", "NODE-ALPHA", "x", types.PrecedenceRoutine)
		require.ErrorIs(t, err, bearerDown)
	}

	err := tx.Deliver(context.Background(), "msg", "NODE-ALPHA", "x", types.PrecedenceRoutine)
	assert.ErrorIs(t, err, delivery.ErrCircuitOpen)
}

func TestTransmitter_HonorsLatencyBudget(t *testing.T) {
	r := seedRegistry()
	tx := delivery.NewTransmitter(r, func(ctx context.Context, _ delivery.Node, _, _ string) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	start := time.Now()
	err := tx.Deliver(context.Background(), "msg-1", "NODE-ALPHA", "x", types.PrecedenceFlash)
	assert.Error(t, err, "slow transport must miss the FLASH budget")
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
