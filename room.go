package main

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	maxRoomNameLength   = 100
	maxPlayerNameLength = 50
	maxStoryNameLength  = 200
)

type RoomStatus string

const (
	StatusVoting   RoomStatus = "voting"
	StatusRevealed RoomStatus = "revealed"
)

type VotingMode string

const (
	ModePublic    VotingMode = "public"
	ModeAnonymous VotingMode = "anonymous"
)

// Actions that arrive over the wire as a tagged envelope. The set is
// closed: hub decoding rejects unknown tags, and Room.apply dispatches
// exhaustively over these types.
type Action interface {
	actionName() string
}

type VoteAction struct {
	Vote *string
}

type RevealAction struct{}

type ResetAction struct {
	StoryName *string
}

type SetStoryAction struct {
	StoryName string
}

type RevoteStoryAction struct {
	StoryName string
}

type ChangeScaleAction struct {
	Scale string
}

type SetCustomScaleAction struct {
	Values []string
}

type ToggleVotingModeAction struct{}

func (VoteAction) actionName() string             { return "vote" }
func (RevealAction) actionName() string           { return "reveal" }
func (ResetAction) actionName() string            { return "reset" }
func (SetStoryAction) actionName() string         { return "set_story" }
func (RevoteStoryAction) actionName() string      { return "revote_story" }
func (ChangeScaleAction) actionName() string      { return "change_scale" }
func (SetCustomScaleAction) actionName() string   { return "set_custom_scale" }
func (ToggleVotingModeAction) actionName() string { return "toggle_voting_mode" }

// Room is the aggregate for one estimation session. It owns players,
// the current round, the scale, the mode, and the history; nothing
// outside this file mutates any of that. All entry points serialize on
// the room mutex, so concurrent calls for the same room are ordered
// while separate rooms proceed independently.
type Room struct {
	mu sync.Mutex

	id         string
	name       string
	createdAt  time.Time
	lastActive time.Time

	status      RoomStatus
	mode        VotingMode
	players     map[string]*Player
	storyName   string
	scale       VotingScale
	history     []*StoryRecord
	roundNumber int

	maxPlayers int
}

func newRoom(id, name string, maxPlayers int) *Room {
	now := time.Now()
	return &Room{
		id:          id,
		name:        name,
		createdAt:   now,
		lastActive:  now,
		status:      StatusVoting,
		mode:        ModePublic,
		players:     make(map[string]*Player),
		scale:       defaultScale(),
		roundNumber: 1,
		maxPlayers:  maxPlayers,
	}
}

func (r *Room) ID() string {
	return r.id
}

func (r *Room) LastActive() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.lastActive
}

// RoomSummary is the discovery view used by the room listing API.
type RoomSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	PlayerCount int    `json:"player_count"`
}

func (r *Room) Summary() RoomSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	return RoomSummary{
		ID:          r.id,
		Name:        r.name,
		Status:      string(r.status),
		PlayerCount: len(r.players),
	}
}

// Join adds a player, or reattaches one that previously disconnected.
// Matching is by name, case-insensitive: a disconnected player with the
// same name gets its old identity back (id, vote, facilitator status),
// while a connected one is a collision and the join is rejected. The
// first player ever to join becomes the facilitator.
func (r *Room) Join(name string, observer bool) (PlayerSnapshot, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return PlayerSnapshot{}, validationError("player name cannot be empty")
	}
	if len(name) > maxPlayerNameLength {
		return PlayerSnapshot{}, validationError("player name too long (max %d characters)", maxPlayerNameLength)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActive = time.Now()

	if existing := r.findPlayerByNameLocked(name); existing != nil {
		if existing.Connected {
			return PlayerSnapshot{}, validationError("a connected player named %q already exists", existing.Name)
		}

		existing.Connected = true
		existing.IsObserver = observer
		return snapshotPlayer(existing), nil
	}

	if len(r.players) >= r.maxPlayers {
		return PlayerSnapshot{}, validationError("room is full (max %d players)", r.maxPlayers)
	}

	player := newPlayer(newToken(), name, observer, len(r.players) == 0)
	r.players[player.ID] = player

	return snapshotPlayer(player), nil
}

// Disconnect marks the player as gone without removing it, so a later
// join under the same name can reattach.
func (r *Room) Disconnect(playerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	player, ok := r.players[playerID]
	if !ok {
		return notFoundError("player %q not found", playerID)
	}

	player.Connected = false
	r.lastActive = time.Now()

	return nil
}

// MarkConnected flips a member back to connected when its transport
// channel attaches.
func (r *Room) MarkConnected(playerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	player, ok := r.players[playerID]
	if !ok {
		return notFoundError("player %q not found", playerID)
	}

	player.Connected = true
	r.lastActive = time.Now()

	return nil
}

func (r *Room) HasPlayer(playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.players[playerID]
	return ok
}

// Apply runs one action on behalf of actorID. On failure the room is
// left unchanged and the error carries the taxonomy kind for the
// originating channel only.
func (r *Room) Apply(actorID string, action Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	actor, ok := r.players[actorID]
	if !ok {
		return notFoundError("player %q is not a member of room %q", actorID, r.id)
	}

	r.lastActive = time.Now()

	switch a := action.(type) {
	case VoteAction:
		return r.applyVoteLocked(actor, a.Vote)
	case RevealAction:
		return r.applyRevealLocked(actor)
	case ResetAction:
		return r.applyResetLocked(actor, a.StoryName)
	case SetStoryAction:
		return r.applySetStoryLocked(actor, a.StoryName)
	case RevoteStoryAction:
		return r.applyRevoteLocked(actor, a.StoryName)
	case ChangeScaleAction:
		return r.applyChangeScaleLocked(actor, a.Scale)
	case SetCustomScaleAction:
		return r.applySetCustomScaleLocked(actor, a.Values)
	case ToggleVotingModeAction:
		return r.applyToggleModeLocked(actor)
	default:
		return validationError("unknown action %q", action.actionName())
	}
}

func (r *Room) findPlayerByNameLocked(name string) *Player {
	for _, p := range r.players {
		if strings.EqualFold(p.Name, name) {
			return p
		}
	}
	return nil
}

func (r *Room) requireFacilitatorLocked(actor *Player) error {
	if !actor.IsFacilitator {
		return forbiddenError("only the facilitator can do that")
	}
	return nil
}

func (r *Room) applyVoteLocked(actor *Player, vote *string) error {
	if r.status != StatusVoting {
		return invalidStateError("votes are already revealed; start a new round first")
	}
	if actor.IsObserver {
		return forbiddenError("observers cannot vote")
	}

	if vote == nil {
		actor.Vote = nil
		return nil
	}

	if !r.scale.Contains(*vote) {
		return validationError("invalid vote: %q is not in the current scale", *vote)
	}

	v := *vote
	actor.Vote = &v

	return nil
}

func (r *Room) applyRevealLocked(actor *Player) error {
	if err := r.requireFacilitatorLocked(actor); err != nil {
		return err
	}
	if r.status != StatusVoting {
		return invalidStateError("votes are already revealed")
	}
	if !r.allVotedLocked() {
		return invalidStateError("cannot reveal until every active player has voted")
	}

	r.status = StatusRevealed

	return nil
}

func (r *Room) applySetStoryLocked(actor *Player, storyName string) error {
	if err := r.requireFacilitatorLocked(actor); err != nil {
		return err
	}
	if r.status != StatusVoting {
		return invalidStateError("the story cannot change while votes are revealed")
	}

	storyName = strings.TrimSpace(storyName)
	if len(storyName) > maxStoryNameLength {
		return validationError("story name too long (max %d characters)", maxStoryNameLength)
	}

	r.storyName = storyName

	return nil
}

// applyResetLocked starts a new round. A revealed round is frozen into
// history first; a round reset mid-voting is simply discarded.
func (r *Room) applyResetLocked(actor *Player, storyName *string) error {
	if err := r.requireFacilitatorLocked(actor); err != nil {
		return err
	}

	if r.status == StatusRevealed {
		r.appendHistoryLocked()
	}

	for _, p := range r.players {
		p.Vote = nil
	}

	r.status = StatusVoting
	r.roundNumber++

	if storyName != nil {
		r.storyName = strings.TrimSpace(*storyName)
	} else {
		r.storyName = ""
	}

	return nil
}

// applyRevoteLocked invalidates the latest recorded estimate for the
// named story and opens a fresh round for it.
func (r *Room) applyRevoteLocked(actor *Player, storyName string) error {
	if err := r.requireFacilitatorLocked(actor); err != nil {
		return err
	}

	storyName = strings.TrimSpace(storyName)

	var target *StoryRecord
	for i := len(r.history) - 1; i >= 0; i-- {
		if r.history[i].StoryName == storyName && !r.history[i].IsSuperseded {
			target = r.history[i]
			break
		}
	}
	if target == nil {
		return notFoundError("no recorded estimate for story %q", storyName)
	}

	target.IsSuperseded = true

	return r.applyResetLocked(actor, &storyName)
}

func (r *Room) applyChangeScaleLocked(actor *Player, scaleName string) error {
	if err := r.requireFacilitatorLocked(actor); err != nil {
		return err
	}

	scale, ok := presetScale(scaleName)
	if !ok {
		return validationError("unknown voting scale %q", scaleName)
	}

	// Votes already cast keep their labels even if absent from the new
	// scale; they are only cleared by the next reset.
	r.scale = scale

	return nil
}

func (r *Room) applySetCustomScaleLocked(actor *Player, values []string) error {
	if err := r.requireFacilitatorLocked(actor); err != nil {
		return err
	}

	scale, err := customScale(values)
	if err != nil {
		return err
	}

	r.scale = scale

	return nil
}

func (r *Room) applyToggleModeLocked(actor *Player) error {
	if err := r.requireFacilitatorLocked(actor); err != nil {
		return err
	}

	if r.mode == ModePublic {
		r.mode = ModeAnonymous
	} else {
		r.mode = ModePublic
	}

	return nil
}

// allVotedLocked gates reveal: every connected non-observer has a vote,
// and there is at least one such player. Observers and disconnected
// players are excluded from the denominator entirely.
func (r *Room) allVotedLocked() bool {
	voters := 0
	for _, p := range r.players {
		if !p.CanVote() {
			continue
		}
		voters++
		if !p.HasVoted() {
			return false
		}
	}
	return voters > 0
}

func (r *Room) votesLocked() (votes map[string]string, summary map[string]int) {
	votes = make(map[string]string)
	summary = make(map[string]int)
	for _, p := range r.players {
		if p.IsObserver || p.Vote == nil {
			continue
		}
		votes[p.Name] = *p.Vote
		summary[*p.Vote]++
	}
	return votes, summary
}

func (r *Room) averageLocked() (*float64, *string) {
	var (
		sum   float64
		count int
	)
	for _, p := range r.players {
		if p.IsObserver || p.Vote == nil {
			continue
		}
		if v, ok := parseVote(*p.Vote); ok {
			sum += v
			count++
		}
	}

	if count == 0 {
		return nil, nil
	}

	avg := sum / float64(count)

	var rounded *string
	if label, ok := r.scale.Nearest(avg); ok {
		rounded = &label
	}

	return &avg, rounded
}

func (r *Room) appendHistoryLocked() {
	votes, summary := r.votesLocked()
	average, rounded := r.averageLocked()

	r.history = append(r.history, &StoryRecord{
		StoryName:      r.storyName,
		Votes:          votes,
		VoteSummary:    summary,
		Average:        average,
		RoundedAverage: rounded,
		VotedAt:        time.Now(),
		RoundNumber:    r.roundNumber,
	})
}

// PlayerSnapshot is a copy of one player's state at snapshot time.
type PlayerSnapshot struct {
	ID            string
	Name          string
	IsObserver    bool
	IsFacilitator bool
	Connected     bool
	HasVoted      bool
	Vote          *string
}

func snapshotPlayer(p *Player) PlayerSnapshot {
	s := PlayerSnapshot{
		ID:            p.ID,
		Name:          p.Name,
		IsObserver:    p.IsObserver,
		IsFacilitator: p.IsFacilitator,
		Connected:     p.Connected,
		HasVoted:      p.HasVoted(),
	}
	if p.Vote != nil {
		v := *p.Vote
		s.Vote = &v
	}
	return s
}

// Snapshot is an immutable copy of room state, detached from the live
// aggregate. The connection layer turns it into per-viewer projections
// without holding the room lock.
type Snapshot struct {
	RoomID      string
	RoomName    string
	Status      RoomStatus
	Mode        VotingMode
	StoryName   string
	ScaleName   string
	ScaleLabels []string
	Players     []PlayerSnapshot
	AllVoted    bool
	RoundNumber int

	// Populated only while revealed.
	VoteSummary    map[string]int
	Average        *float64
	RoundedAverage *string

	History []*StoryRecord

	// Raw sum of current (non-superseded) record averages; rounding is
	// a display concern.
	TotalStoryPoints float64
}

func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		RoomID:      r.id,
		RoomName:    r.name,
		Status:      r.status,
		Mode:        r.mode,
		StoryName:   r.storyName,
		ScaleName:   r.scale.Name(),
		ScaleLabels: r.scale.Labels(),
		AllVoted:    r.allVotedLocked(),
		RoundNumber: r.roundNumber,
	}

	snap.Players = make([]PlayerSnapshot, 0, len(r.players))
	for _, p := range r.players {
		snap.Players = append(snap.Players, snapshotPlayer(p))
	}
	sort.Slice(snap.Players, func(i, j int) bool {
		a, b := r.players[snap.Players[i].ID], r.players[snap.Players[j].ID]
		if a.JoinedAt.Equal(b.JoinedAt) {
			return a.Name < b.Name
		}
		return a.JoinedAt.Before(b.JoinedAt)
	})

	if r.status == StatusRevealed {
		_, snap.VoteSummary = r.votesLocked()
		snap.Average, snap.RoundedAverage = r.averageLocked()
	}

	snap.History = make([]*StoryRecord, 0, len(r.history))
	for _, record := range r.history {
		snap.History = append(snap.History, record.clone())
		if !record.IsSuperseded && record.Average != nil {
			snap.TotalStoryPoints += *record.Average
		}
	}

	return snap
}
