package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubDeliversOnlyToAudience(t *testing.T) {
	hub := NewHub(4)
	seller := hub.Subscribe("seller-1")
	buyer := hub.Subscribe("buyer-1")
	stranger := hub.Subscribe("stranger")
	defer hub.Unsubscribe(seller)
	defer hub.Unsubscribe(buyer)
	defer hub.Unsubscribe(stranger)

	event, err := NewEvent("checklist.updated", map[string]string{"id": "chk-1"}, "seller-1", "buyer-1")
	require.NoError(t, err)
	require.NoError(t, hub.Publish(context.Background(), event))

	assert.Len(t, seller.C, 1)
	assert.Len(t, buyer.C, 1)
	assert.Len(t, stranger.C, 0)

	got := <-seller.C
	var data map[string]string
	require.NoError(t, json.Unmarshal(got.Data, &data))
	assert.Equal(t, "chk-1", data["id"])
}

func TestHubBroadcastsPublicEvents(t *testing.T) {
	hub := NewHub(1)
	a := hub.Subscribe("a")
	b := hub.Subscribe("b")

	event, err := NewEvent("listing.published", map[string]string{"id": "lst-1"})
	require.NoError(t, err)
	hub.Deliver(event)
	hub.Deliver(event)

	assert.Len(t, a.C, 1)
	assert.Len(t, b.C, 1)
	assert.EqualValues(t, 2, hub.Dropped())

	hub.Unsubscribe(a)
	hub.Unsubscribe(a)
	assert.Equal(t, 1, hub.Subscribers())
	_, open := <-a.C
	assert.True(t, open)
	_, open = <-a.C
	assert.False(t, open)
}

func TestDecodeEvent(t *testing.T) {
	event, err := NewEvent("dispute.updated", map[string]string{"status": "ESCALATED"}, "u1")
	require.NoError(t, err)
	raw, err := json.Marshal(event)
	require.NoError(t, err)

	decoded, err := decodeEvent(string(raw))
	require.NoError(t, err)
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, []string{"u1"}, decoded.Audience)

	_, err = decodeEvent(`{"id":"x"}`)
	assert.Error(t, err)
	_, err = decodeEvent(`not json`)
	assert.Error(t, err)
}
