package main

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one live transport channel, bound to a (room, player) pair
// at attach time. Outbound messages go through the buffered send
// channel; only writePump touches the socket for writes.
type Client struct {
	conn     *websocket.Conn
	send     chan any
	roomID   string
	playerID string
}

// roomChannels is the set of live channels for one room. Its mutex
// serializes apply→project→enqueue so every channel observes snapshots
// in the order actions were accepted; enqueueing is a non-blocking
// channel send, so the lock is never held across socket I/O.
type roomChannels struct {
	mu      sync.Mutex
	clients map[*Client]bool
}

// ConnectionHub maps transport channels to rooms and keeps every
// attached channel's view synchronized. It holds room ids and channel
// sets only; room state stays owned by the registry.
type ConnectionHub struct {
	cfg      *Config
	registry *RoomRegistry

	mu    sync.Mutex
	rooms map[string]*roomChannels
}

func newConnectionHub(cfg *Config, registry *RoomRegistry) *ConnectionHub {
	return &ConnectionHub{
		cfg:      cfg,
		registry: registry,
		rooms:    make(map[string]*roomChannels),
	}
}

func (h *ConnectionHub) channelsFor(roomID string, create bool) *roomChannels {
	h.mu.Lock()
	defer h.mu.Unlock()

	rc, ok := h.rooms[roomID]
	if !ok && create {
		rc = &roomChannels{clients: make(map[*Client]bool)}
		h.rooms[roomID] = rc
	}
	return rc
}

// attach admits a channel into a room. The room must exist and the
// player must already be a member (joined via the API); otherwise the
// caller must close the channel.
func (h *ConnectionHub) attach(c *Client) error {
	room, ok := h.registry.Get(c.roomID)
	if !ok {
		return notFoundError("room %q not found", c.roomID)
	}
	if !room.HasPlayer(c.playerID) {
		return forbiddenError("player %q is not a member of room %q", c.playerID, c.roomID)
	}

	rc := h.channelsFor(c.roomID, true)

	rc.mu.Lock()
	rc.clients[c] = true

	// A concurrent delete can land between the registry lookup above
	// and the channel insert; re-check under the channel lock so a
	// removed room never keeps an attached channel.
	if _, ok := h.registry.Get(c.roomID); !ok {
		delete(rc.clients, c)
		empty := len(rc.clients) == 0
		rc.mu.Unlock()

		if empty {
			h.mu.Lock()
			if cur, ok := h.rooms[c.roomID]; ok && cur == rc {
				delete(h.rooms, c.roomID)
			}
			h.mu.Unlock()
		}

		return notFoundError("room %q not found", c.roomID)
	}

	_ = room.MarkConnected(c.playerID)

	logf(h.cfg, "ROOMS: Player %s attached to room %s", c.playerID, c.roomID)

	h.broadcastLocked(rc, room)
	rc.mu.Unlock()

	return nil
}

// onMessage decodes one action envelope and runs it through the room.
// Failures go back to the originating channel only; successes are
// broadcast to every channel in the room.
func (h *ConnectionHub) onMessage(c *Client, raw []byte) {
	action, err := decodeAction(raw)
	if err != nil {
		h.sendError(c, err)
		return
	}

	room, ok := h.registry.Get(c.roomID)
	if !ok {
		h.sendError(c, notFoundError("room %q not found", c.roomID))
		return
	}

	rc := h.channelsFor(c.roomID, true)

	rc.mu.Lock()
	if err := room.Apply(c.playerID, action); err != nil {
		rc.mu.Unlock()
		logf(h.cfg, "ROOMS: Action %s by %s in %s rejected: %v", action.actionName(), c.playerID, c.roomID, err)
		h.sendError(c, err)
		return
	}
	h.broadcastLocked(rc, room)
	rc.mu.Unlock()
}

// onClose marks the player disconnected, drops the channel, and lets
// the remaining channels see the change. The room itself stays in the
// registry even with zero channels left.
func (h *ConnectionHub) onClose(c *Client) {
	rc := h.channelsFor(c.roomID, false)
	if rc == nil {
		return
	}

	rc.mu.Lock()
	if _, ok := rc.clients[c]; ok {
		delete(rc.clients, c)
		close(c.send)
	}

	if room, ok := h.registry.Get(c.roomID); ok {
		_ = room.Disconnect(c.playerID)
		h.broadcastLocked(rc, room)
	}
	empty := len(rc.clients) == 0
	rc.mu.Unlock()

	logf(h.cfg, "ROOMS: Player %s detached from room %s", c.playerID, c.roomID)

	if empty {
		h.mu.Lock()
		if cur, ok := h.rooms[c.roomID]; ok && cur == rc {
			delete(h.rooms, c.roomID)
		}
		h.mu.Unlock()
	}
}

// Broadcast pushes the current room state to every attached channel,
// for state changes made outside the message path (e.g. REST join).
func (h *ConnectionHub) Broadcast(roomID string) {
	room, ok := h.registry.Get(roomID)
	if !ok {
		return
	}

	rc := h.channelsFor(roomID, false)
	if rc == nil {
		return
	}

	rc.mu.Lock()
	h.broadcastLocked(rc, room)
	rc.mu.Unlock()
}

// broadcastLocked fans one snapshot out as per-recipient projections.
// Assumes rc.mu is held.
func (h *ConnectionHub) broadcastLocked(rc *roomChannels, room *Room) {
	snap := room.Snapshot()

	for client := range rc.clients {
		msg := RoomUpdateMessage{
			Type: "room_update",
			Data: projectRoom(snap, client.playerID),
		}

		select {
		case client.send <- msg:
		default:
			delete(rc.clients, client)
			close(client.send)
		}
	}
}

func (h *ConnectionHub) sendError(c *Client, err error) {
	rc := h.channelsFor(c.roomID, false)
	if rc == nil {
		return
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	if !rc.clients[c] {
		return
	}

	select {
	case c.send <- newErrorMessage(err):
	default:
		delete(rc.clients, c)
		close(c.send)
	}
}

// closeRoom force-closes every channel of a deleted room.
func (h *ConnectionHub) closeRoom(roomID string) {
	h.mu.Lock()
	rc, ok := h.rooms[roomID]
	if ok {
		delete(h.rooms, roomID)
	}
	h.mu.Unlock()

	if rc == nil {
		return
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	for c := range rc.clients {
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
		delete(rc.clients, c)
	}
}

// decodeAction parses the client action envelope into its closed
// variant set. Unknown tags are a validation error.
func decodeAction(raw []byte) (Action, error) {
	var env struct {
		Action    string   `json:"action"`
		Vote      *string  `json:"vote"`
		StoryName *string  `json:"story_name"`
		Scale     string   `json:"scale"`
		Values    []string `json:"values"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, validationError("malformed message: %v", err)
	}

	switch env.Action {
	case "vote":
		return VoteAction{Vote: env.Vote}, nil
	case "reveal":
		return RevealAction{}, nil
	case "reset":
		return ResetAction{StoryName: env.StoryName}, nil
	case "set_story":
		if env.StoryName == nil {
			return nil, validationError("set_story requires a story_name")
		}
		return SetStoryAction{StoryName: *env.StoryName}, nil
	case "revote_story":
		if env.StoryName == nil {
			return nil, validationError("revote_story requires a story_name")
		}
		return RevoteStoryAction{StoryName: *env.StoryName}, nil
	case "change_scale":
		return ChangeScaleAction{Scale: env.Scale}, nil
	case "set_custom_scale":
		return SetCustomScaleAction{Values: env.Values}, nil
	case "toggle_voting_mode":
		return ToggleVotingModeAction{}, nil
	default:
		return nil, validationError("unknown action %q", env.Action)
	}
}

// serveWS upgrades the connection and binds it to :roomid/:playerid.
// Admission failures close the socket with a policy violation, the way
// clients expect for a dead or foreign room.
func serveWS(cfg *Config, hub *ConnectionHub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		playerID := ps.ByName("playerid")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "ROOMS: Upgrade error: %v", err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			roomID:   roomID,
			playerID: playerID,
		}

		if err := hub.attach(client); err != nil {
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
			_ = conn.WriteMessage(websocket.CloseMessage, msg)
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *ConnectionHub) {
	defer func() {
		h.onClose(c)
		_ = c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		h.onMessage(c, raw)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
