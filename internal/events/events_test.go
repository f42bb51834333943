package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "checkout.checkout.completed", Subject("checkout", TypeCompleted))
	assert.Equal(t, TypeCanceled, Subject("", TypeCanceled))
}

func TestMemoryPublisher(t *testing.T) {
	p := &MemoryPublisher{}
	require.NoError(t, p.Publish(context.Background(), Event{Type: TypeCompleted, CheckoutID: "chk_1", Total: 100}))

	got := p.Events()
	require.Len(t, got, 1)
	assert.Equal(t, "chk_1", got[0].CheckoutID)

	got[0].CheckoutID = "mutated"
	assert.Equal(t, "chk_1", p.Events()[0].CheckoutID)
}

func TestNewNATSPublisher_Unreachable(t *testing.T) {
	_, err := NewNATSPublisher("nats://127.0.0.1:1", "checkout", nil)
	assert.Error(t, err)
}

func TestNATSPublisher_PublishesOnPrefixedSubject(t *testing.T) {
	srv := natsserver.RunRandClientPortServer()
	t.Cleanup(srv.Shutdown)

	sub, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(sub.Close)

	msgs := make(chan *nats.Msg, 4)
	_, err = sub.ChanSubscribe("checkout.>", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	p, err := NewNATSPublisher(srv.ClientURL(), "checkout", nil)
	require.NoError(t, err)

	occurred := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, p.Publish(context.Background(), Event{
		Type:       TypeCompleted,
		CheckoutID: "chk_1",
		CustomerID: "cus_1",
		Total:      10500,
		Currency:   "usd",
		OccurredAt: occurred,
	}))
	require.NoError(t, p.Close())

	select {
	case msg := <-msgs:
		assert.Equal(t, "checkout.checkout.completed", msg.Subject)
		var got Event
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, "chk_1", got.CheckoutID)
		assert.Equal(t, "cus_1", got.CustomerID)
		assert.Equal(t, int64(10500), got.Total)
		assert.True(t, occurred.Equal(got.OccurredAt))
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), Event{}))
	assert.NoError(t, p.Close())
}
