package main

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) (*ConnectionHub, *RoomRegistry, *Room, PlayerSnapshot, PlayerSnapshot) {
	t.Helper()

	cfg := &Config{}
	registry := newRoomRegistry(20)
	hub := newConnectionHub(cfg, registry)

	room, err := registry.Create("Sprint 12")
	require.NoError(t, err)

	alice, err := room.Join("Alice", false)
	require.NoError(t, err)
	bob, err := room.Join("Bob", false)
	require.NoError(t, err)

	return hub, registry, room, alice, bob
}

func newTestClient(roomID, playerID string) *Client {
	return &Client{
		send:     make(chan any, 8),
		roomID:   roomID,
		playerID: playerID,
	}
}

func recvUpdate(t *testing.T, c *Client) RoomProjection {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		require.True(t, ok, "send channel closed unexpectedly")
		update, isUpdate := msg.(RoomUpdateMessage)
		require.True(t, isUpdate, "expected room_update, got %#v", msg)
		return update.Data
	default:
		t.Fatal("no message queued")
		return RoomProjection{}
	}
}

func recvError(t *testing.T, c *Client) ErrorMessage {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		require.True(t, ok, "send channel closed unexpectedly")
		errMsg, isErr := msg.(ErrorMessage)
		require.True(t, isErr, "expected error message, got %#v", msg)
		return errMsg
	default:
		t.Fatal("no message queued")
		return ErrorMessage{}
	}
}

func requireEmpty(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected message queued: %#v", msg)
	default:
	}
}

func TestAttachAdmission(t *testing.T) {
	hub, _, room, alice, _ := newTestHub(t)

	err := hub.attach(newTestClient("missing", alice.ID))
	requireKind(t, err, errNotFound)

	err = hub.attach(newTestClient(room.ID(), "stranger"))
	requireKind(t, err, errForbidden)

	c := newTestClient(room.ID(), alice.ID)
	require.NoError(t, hub.attach(c))

	update := recvUpdate(t, c)
	assert.Equal(t, room.ID(), update.RoomID)
	assert.Equal(t, "Sprint 12", update.RoomName)
}

func TestAttachMarksPlayerReconnected(t *testing.T) {
	hub, _, room, alice, _ := newTestHub(t)

	require.NoError(t, room.Disconnect(alice.ID))

	c := newTestClient(room.ID(), alice.ID)
	require.NoError(t, hub.attach(c))

	update := recvUpdate(t, c)
	assert.True(t, viewByID(t, update, alice.ID).Connected)
}

func TestOnMessageAppliesActionAndBroadcasts(t *testing.T) {
	hub, _, room, alice, bob := newTestHub(t)

	ca := newTestClient(room.ID(), alice.ID)
	cb := newTestClient(room.ID(), bob.ID)
	require.NoError(t, hub.attach(ca))
	require.NoError(t, hub.attach(cb))
	recvUpdate(t, ca)
	recvUpdate(t, ca) // second attach re-broadcasts to everyone
	recvUpdate(t, cb)

	hub.onMessage(ca, []byte(`{"action":"vote","vote":"5"}`))

	aliceProj := recvUpdate(t, ca)
	require.NotNil(t, viewByID(t, aliceProj, alice.ID).Vote)
	assert.Equal(t, "5", *viewByID(t, aliceProj, alice.ID).Vote)

	// Bob gets the same state change but masked per recipient.
	bobProj := recvUpdate(t, cb)
	assert.True(t, viewByID(t, bobProj, alice.ID).HasVoted)
	assert.Nil(t, viewByID(t, bobProj, alice.ID).Vote)
}

func TestOnMessageErrorGoesToSenderOnly(t *testing.T) {
	hub, _, room, alice, bob := newTestHub(t)

	ca := newTestClient(room.ID(), alice.ID)
	cb := newTestClient(room.ID(), bob.ID)
	require.NoError(t, hub.attach(ca))
	require.NoError(t, hub.attach(cb))
	recvUpdate(t, ca)
	recvUpdate(t, ca)
	recvUpdate(t, cb)

	// Bob is not the facilitator; the rejection must not be broadcast.
	hub.onMessage(cb, []byte(`{"action":"toggle_voting_mode"}`))

	errMsg := recvError(t, cb)
	assert.Equal(t, "error", errMsg.Type)
	assert.NotEmpty(t, errMsg.Message)

	requireEmpty(t, ca)
}

func TestOnMessageRejectsUnknownAction(t *testing.T) {
	hub, _, room, alice, _ := newTestHub(t)

	c := newTestClient(room.ID(), alice.ID)
	require.NoError(t, hub.attach(c))
	recvUpdate(t, c)

	hub.onMessage(c, []byte(`{"action":"shuffle"}`))
	assert.Contains(t, recvError(t, c).Message, "unknown action")

	hub.onMessage(c, []byte(`not json`))
	assert.Contains(t, recvError(t, c).Message, "malformed")
}

func TestOnCloseMarksDisconnectedAndNotifiesOthers(t *testing.T) {
	hub, _, room, alice, bob := newTestHub(t)

	ca := newTestClient(room.ID(), alice.ID)
	cb := newTestClient(room.ID(), bob.ID)
	require.NoError(t, hub.attach(ca))
	require.NoError(t, hub.attach(cb))
	recvUpdate(t, ca)
	recvUpdate(t, ca)
	recvUpdate(t, cb)

	hub.onClose(cb)

	_, open := <-cb.send
	assert.False(t, open, "closed channel must be drained and shut")

	update := recvUpdate(t, ca)
	assert.False(t, viewByID(t, update, bob.ID).Connected)

	// The room survives with zero channels attached.
	hub.onClose(ca)
	assert.True(t, room.HasPlayer(alice.ID))
	assert.True(t, room.HasPlayer(bob.ID))
}

func TestBroadcastSkipsDeadChannels(t *testing.T) {
	hub, _, room, alice, bob := newTestHub(t)

	ca := newTestClient(room.ID(), alice.ID)
	require.NoError(t, hub.attach(ca))
	recvUpdate(t, ca)

	// A channel with no buffer and no reader cannot accept the attach
	// broadcast and is evicted on the spot.
	dead := &Client{send: make(chan any), roomID: room.ID(), playerID: bob.ID}
	require.NoError(t, hub.attach(dead))

	_, open := <-dead.send
	assert.False(t, open, "dead channel should be evicted and closed")

	// Delivery to the healthy channel is unaffected.
	hub.Broadcast(room.ID())
	recvUpdate(t, ca)
	recvUpdate(t, ca)
}

func TestAttachRacingDelete(t *testing.T) {
	for i := 0; i < 25; i++ {
		hub, registry, room, alice, _ := newTestHub(t)

		c := newTestClient(room.ID(), alice.ID)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = hub.attach(c)
		}()
		go func() {
			defer wg.Done()
			if registry.Delete(room.ID()) {
				hub.closeRoom(room.ID())
			}
		}()
		wg.Wait()

		// Whatever the interleaving, a deleted room keeps no channels.
		assert.Nil(t, hub.channelsFor(room.ID(), false))
	}
}

func TestCloseRoomShutsAllChannels(t *testing.T) {
	hub, registry, room, alice, bob := newTestHub(t)

	ca := newTestClient(room.ID(), alice.ID)
	cb := newTestClient(room.ID(), bob.ID)
	require.NoError(t, hub.attach(ca))
	require.NoError(t, hub.attach(cb))

	registry.Delete(room.ID())
	hub.closeRoom(room.ID())

	drain := func(c *Client) {
		for {
			if _, open := <-c.send; !open {
				return
			}
		}
	}
	drain(ca)
	drain(cb)

	// Closing an unknown room is a no-op.
	hub.closeRoom("missing")
}

func TestDecodeAction(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
		want Action
	}{
		{"vote", `{"action":"vote","vote":"8"}`, VoteAction{Vote: strptr("8")}},
		{"vote null clears", `{"action":"vote","vote":null}`, VoteAction{}},
		{"reveal", `{"action":"reveal"}`, RevealAction{}},
		{"reset", `{"action":"reset"}`, ResetAction{}},
		{"reset with story", `{"action":"reset","story_name":"PB-2"}`, ResetAction{StoryName: strptr("PB-2")}},
		{"set_story", `{"action":"set_story","story_name":"PB-1"}`, SetStoryAction{StoryName: "PB-1"}},
		{"revote_story", `{"action":"revote_story","story_name":"PB-1"}`, RevoteStoryAction{StoryName: "PB-1"}},
		{"change_scale", `{"action":"change_scale","scale":"linear"}`, ChangeScaleAction{Scale: "linear"}},
		{"set_custom_scale", `{"action":"set_custom_scale","values":["1","2"]}`, SetCustomScaleAction{Values: []string{"1", "2"}}},
		{"toggle_voting_mode", `{"action":"toggle_voting_mode"}`, ToggleVotingModeAction{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeAction([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeActionFailures(t *testing.T) {
	for _, raw := range []string{
		`{"action":"unknown"}`,
		`{"action":"set_story"}`,
		`{"action":"revote_story"}`,
		`{}`,
		`[]`,
	} {
		_, err := decodeAction([]byte(raw))
		requireKind(t, err, errValidation)
	}
}

func TestProjectionWireFormat(t *testing.T) {
	room, alice, bob := newTestRoom(t)

	require.NoError(t, room.Apply(alice.ID, VoteAction{Vote: strptr("5")}))

	msg := RoomUpdateMessage{Type: "room_update", Data: projectRoom(room.Snapshot(), bob.ID)}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, "room_update", decoded["type"])
	data, ok := decoded["data"].(map[string]any)
	require.True(t, ok)

	for _, field := range []string{
		"room_id", "room_name", "status", "story_name", "current_scale",
		"voting_scale", "voting_mode", "players", "all_voted", "history",
		"total_story_points",
	} {
		assert.Contains(t, data, field)
	}

	// Disclosure-gated fields stay absent while voting.
	assert.NotContains(t, data, "vote_summary")
	assert.NotContains(t, data, "average")
	assert.NotContains(t, data, "rounded_average")
}
