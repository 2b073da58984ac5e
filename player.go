package main

import "time"

// Player holds one participant's identity and per-round vote state.
// A player is never removed on transport loss: Connected flips false
// and the entry stays around so the same name can reattach later.
type Player struct {
	ID            string
	Name          string
	IsObserver    bool
	IsFacilitator bool
	Connected     bool
	Vote          *string
	JoinedAt      time.Time
}

func newPlayer(id, name string, observer, facilitator bool) *Player {
	return &Player{
		ID:            id,
		Name:          name,
		IsObserver:    observer,
		IsFacilitator: facilitator,
		Connected:     true,
		JoinedAt:      time.Now(),
	}
}

func (p *Player) HasVoted() bool {
	return p.Vote != nil
}

// CanVote reports whether the player counts toward the all-voted gate.
func (p *Player) CanVote() bool {
	return !p.IsObserver && p.Connected
}
