package main

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const roomIDLength = 8

// newToken generates an opaque identifier for players. Tokens are
// never reused; uniqueness comes from the underlying uuid.
func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:roomIDLength]
}

// RoomRegistry is the keyed store of live rooms. It is an explicitly
// owned instance handed to the connection and API layers; there is no
// package-level singleton.
type RoomRegistry struct {
	mu         sync.Mutex
	rooms      map[string]*Room
	maxPlayers int
}

func newRoomRegistry(maxPlayers int) *RoomRegistry {
	return &RoomRegistry{
		rooms:      make(map[string]*Room),
		maxPlayers: maxPlayers,
	}
}

func (rr *RoomRegistry) Create(name string) (*Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("room name cannot be empty")
	}
	if len(name) > maxRoomNameLength {
		return nil, validationError("room name too long (max %d characters)", maxRoomNameLength)
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()

	// Truncated ids can collide; re-roll until free.
	var id string
	for {
		id = newToken()
		if _, exists := rr.rooms[id]; !exists {
			break
		}
	}

	room := newRoom(id, name, rr.maxPlayers)
	rr.rooms[id] = room

	return room, nil
}

func (rr *RoomRegistry) Get(id string) (*Room, bool) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	room, ok := rr.rooms[id]
	return room, ok
}

func (rr *RoomRegistry) List() []RoomSummary {
	rr.mu.Lock()
	rooms := make([]*Room, 0, len(rr.rooms))
	for _, room := range rr.rooms {
		rooms = append(rooms, room)
	}
	rr.mu.Unlock()

	summaries := make([]RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		summaries = append(summaries, room.Summary())
	}
	return summaries
}

// Delete removes a room and reports whether it existed. Deleting an
// absent id is a no-op so racing double-deletes stay harmless; closing
// the room's channels is the caller's job.
func (rr *RoomRegistry) Delete(id string) bool {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if _, ok := rr.rooms[id]; !ok {
		return false
	}
	delete(rr.rooms, id)

	return true
}

// reaperLoop periodically deletes rooms idle longer than idleTimeout,
// invoking onReap for each so the hub can close its channels.
func (rr *RoomRegistry) reaperLoop(idleTimeout time.Duration, onReap func(roomID string)) {
	ticker := time.NewTicker(idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-idleTimeout)

		rr.mu.Lock()
		var reaped []string
		for id, room := range rr.rooms {
			if room.LastActive().Before(cutoff) {
				delete(rr.rooms, id)
				reaped = append(reaped, id)
			}
		}
		rr.mu.Unlock()

		for _, id := range reaped {
			onReap(id)
		}
	}
}
