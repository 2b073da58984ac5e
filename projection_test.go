package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func viewByID(t *testing.T, proj RoomProjection, id string) PlayerView {
	t.Helper()
	for _, p := range proj.Players {
		if p.ID == id {
			return p
		}
	}
	t.Fatalf("player %q not in projection", id)
	return PlayerView{}
}

func TestProjectionWhileVotingShowsOnlyOwnVote(t *testing.T) {
	room, alice, bob := newTestRoom(t)

	require.NoError(t, room.Apply(alice.ID, VoteAction{Vote: strptr("5")}))

	snap := room.Snapshot()

	aliceView := projectRoom(snap, alice.ID)
	require.NotNil(t, viewByID(t, aliceView, alice.ID).Vote)
	assert.Equal(t, "5", *viewByID(t, aliceView, alice.ID).Vote)

	bobView := projectRoom(snap, bob.ID)
	assert.Nil(t, viewByID(t, bobView, alice.ID).Vote, "other players' votes stay hidden while voting")
	assert.True(t, viewByID(t, bobView, alice.ID).HasVoted, "having voted is visible even when the vote is not")

	assert.Nil(t, aliceView.VoteSummary)
	assert.Nil(t, aliceView.Average)
	assert.Nil(t, aliceView.RoundedAverage)
}

func TestProjectionRevealedPublicShowsAllVotes(t *testing.T) {
	room, alice, bob := newTestRoom(t)

	require.NoError(t, room.Apply(alice.ID, VoteAction{Vote: strptr("5")}))
	require.NoError(t, room.Apply(bob.ID, VoteAction{Vote: strptr("8")}))
	require.NoError(t, room.Apply(alice.ID, RevealAction{}))

	proj := projectRoom(room.Snapshot(), bob.ID)

	require.NotNil(t, viewByID(t, proj, alice.ID).Vote)
	assert.Equal(t, "5", *viewByID(t, proj, alice.ID).Vote)
	require.NotNil(t, viewByID(t, proj, bob.ID).Vote)
	assert.Equal(t, "8", *viewByID(t, proj, bob.ID).Vote)

	assert.Equal(t, map[string]int{"5": 1, "8": 1}, proj.VoteSummary)
	require.NotNil(t, proj.Average)
	assert.InDelta(t, 6.5, *proj.Average, 1e-9)
	require.NotNil(t, proj.RoundedAverage)
	assert.Equal(t, "5", *proj.RoundedAverage)
}

func TestProjectionRevealedAnonymousHidesPlayerVotes(t *testing.T) {
	room, alice, bob := newTestRoom(t)

	require.NoError(t, room.Apply(alice.ID, ToggleVotingModeAction{}))
	require.NoError(t, room.Apply(alice.ID, SetStoryAction{StoryName: "PB-101"}))
	require.NoError(t, room.Apply(alice.ID, VoteAction{Vote: strptr("5")}))
	require.NoError(t, room.Apply(bob.ID, VoteAction{Vote: strptr("8")}))
	require.NoError(t, room.Apply(alice.ID, RevealAction{}))

	proj := projectRoom(room.Snapshot(), alice.ID)
	assert.Equal(t, string(ModeAnonymous), proj.VotingMode)

	// No player -> vote mapping may ever leak in anonymous mode, not
	// even the viewer's own.
	for _, p := range proj.Players {
		assert.Nil(t, p.Vote, "player %s must have no visible vote", p.Name)
	}

	// Aggregates remain available and correct.
	assert.Equal(t, map[string]int{"5": 1, "8": 1}, proj.VoteSummary)
	require.NotNil(t, proj.Average)
	assert.InDelta(t, 6.5, *proj.Average, 1e-9)

	// Recorded history also omits the per-player mapping.
	require.NoError(t, room.Apply(alice.ID, ResetAction{}))
	proj = projectRoom(room.Snapshot(), alice.ID)
	require.Len(t, proj.History, 1)
	assert.Nil(t, proj.History[0].Votes)
	assert.Equal(t, map[string]int{"5": 1, "8": 1}, proj.History[0].VoteSummary)
}

func TestProjectionHistoryVotesVisibleInPublicMode(t *testing.T) {
	room, alice, bob := newTestRoom(t)

	revealStory(t, room, alice, bob, "PB-101", "5", "8")

	proj := projectRoom(room.Snapshot(), bob.ID)
	require.Len(t, proj.History, 1)
	assert.Equal(t, map[string]string{"Alice": "5", "Bob": "8"}, proj.History[0].Votes)
	assert.Equal(t, 1, proj.History[0].RoundNumber)
	assert.False(t, proj.History[0].IsSuperseded)
	assert.NotEmpty(t, proj.History[0].VotedAt)
}

func TestProjectionTotalStoryPoints(t *testing.T) {
	room, alice, bob := newTestRoom(t)

	revealStory(t, room, alice, bob, "PB-101", "5", "8") // average 6.5
	revealStory(t, room, alice, bob, "PB-102", "2", "3") // average 2.5

	proj := projectRoom(room.Snapshot(), alice.ID)
	assert.InDelta(t, 9.0, proj.TotalStoryPoints, 1e-9)

	// Superseding PB-101 removes its 6.5 from the total.
	require.NoError(t, room.Apply(alice.ID, RevoteStoryAction{StoryName: "PB-101"}))
	proj = projectRoom(room.Snapshot(), alice.ID)
	assert.InDelta(t, 2.5, proj.TotalStoryPoints, 1e-9)
}

func TestProjectionRoundsTotalForDisplay(t *testing.T) {
	room, alice, bob := newTestRoom(t)

	revealStory(t, room, alice, bob, "PB-101", "1", "2")   // average 1.5
	revealStory(t, room, alice, bob, "PB-102", "0.5", "2") // average 1.25

	proj := projectRoom(room.Snapshot(), alice.ID)
	assert.Equal(t, 2.8, proj.TotalStoryPoints, "2.75 rounds to one decimal")
}
