package ws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub() *Hub {
	log, _ := test.NewNullLogger()
	return NewHub(nil, log)
}

func newClient(hub *Hub, userID uint) *Client {
	return &Client{UserID: userID, Send: make(chan []byte, 4), hub: hub}
}

func readEvent(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case raw := <-c.Send:
		var ev Event
		require.NoError(t, json.Unmarshal(raw, &ev))
		return ev
	default:
		t.Fatal("no event queued")
		return Event{}
	}
}

func TestHub_SendToUser(t *testing.T) {
	hub := newTestHub()
	c := newClient(hub, 1)
	hub.Register(c)

	assert.True(t, hub.SendToUser(1, "incoming_call", map[string]int{"call_id": 5}))
	assert.Equal(t, "incoming_call", readEvent(t, c).Type)
}

func TestHub_OfflineUserDropped(t *testing.T) {
	hub := newTestHub()
	assert.False(t, hub.SendToUser(42, "incoming_call", nil))
}

func TestHub_ReconnectSupersedesPrevious(t *testing.T) {
	hub := newTestHub()
	first := newClient(hub, 1)
	second := newClient(hub, 1)

	hub.Register(first)
	hub.Register(second)
	assert.Equal(t, 1, hub.ClientCount())

	_, open := <-first.Send
	assert.False(t, open, "superseded client queue should be closed")

	// The old connection's cleanup must not evict the new one.
	hub.Unregister(first)
	assert.True(t, hub.IsOnline(1))

	hub.SendToUser(1, "call_ended", nil)
	assert.Equal(t, "call_ended", readEvent(t, second).Type)

	// A late user_online from the stale connection is ignored.
	hub.Register(first)
	assert.True(t, hub.SendToUser(1, "call_ended", nil))
	assert.Equal(t, "call_ended", readEvent(t, second).Type)
}

func TestHub_FullQueueDrops(t *testing.T) {
	hub := newTestHub()
	c := &Client{UserID: 1, Send: make(chan []byte, 1), hub: hub}
	hub.Register(c)

	assert.True(t, hub.SendToUser(1, "a", nil))
	assert.False(t, hub.SendToUser(1, "b", nil))
}

type fakeRelay struct {
	published []uint
	err       error
}

func (f *fakeRelay) Publish(_ context.Context, userID uint, _ []byte) error {
	f.published = append(f.published, userID)
	return f.err
}

func TestHub_RelayForRemoteUsers(t *testing.T) {
	hub := newTestHub()
	relay := &fakeRelay{}
	hub.SetRelay(relay)

	local := newClient(hub, 1)
	hub.Register(local)

	assert.True(t, hub.SendToUser(1, "x", nil))
	assert.True(t, hub.SendToUser(2, "x", nil))
	assert.Equal(t, []uint{2}, relay.published)

	relay.err = errors.New("redis down")
	assert.False(t, hub.SendToUser(3, "x", nil))
}

func TestRedisRelay_DispatchSkipsOwnMessages(t *testing.T) {
	hub := newTestHub()
	c := newClient(hub, 7)
	hub.Register(c)
	log, _ := test.NewNullLogger()
	r := &RedisRelay{origin: "me", log: log}

	own, _ := json.Marshal(envelope{Origin: "me", UserID: 7, Data: json.RawMessage(`{"type":"x"}`)})
	assert.False(t, r.dispatch(hub, own))

	remote, _ := json.Marshal(envelope{Origin: "other", UserID: 7, Data: json.RawMessage(`{"type":"incoming_call"}`)})
	assert.True(t, r.dispatch(hub, remote))
	assert.Equal(t, "incoming_call", readEvent(t, c).Type)

	assert.False(t, r.dispatch(hub, []byte("not json")))
}
