package main

import (
	"math"
	"time"
)

// Wire messages pushed to clients.
type RoomUpdateMessage struct {
	Type string         `json:"type"` // "room_update"
	Data RoomProjection `json:"data"`
}

type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

func newErrorMessage(err error) ErrorMessage {
	return ErrorMessage{Type: "error", Message: err.Error()}
}

// RoomProjection is the recipient-specific view of room state. Fields
// gated by disclosure rules are omitted when the rules forbid them.
type RoomProjection struct {
	RoomID           string            `json:"room_id"`
	RoomName         string            `json:"room_name"`
	Status           string            `json:"status"`
	StoryName        string            `json:"story_name"`
	CurrentScale     []string          `json:"current_scale"`
	VotingScale      string            `json:"voting_scale"`
	VotingMode       string            `json:"voting_mode"`
	Players          []PlayerView      `json:"players"`
	AllVoted         bool              `json:"all_voted"`
	VoteSummary      map[string]int    `json:"vote_summary,omitempty"`
	Average          *float64          `json:"average,omitempty"`
	RoundedAverage   *string           `json:"rounded_average,omitempty"`
	History          []StoryRecordView `json:"history"`
	TotalStoryPoints float64           `json:"total_story_points"`
}

type PlayerView struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	IsObserver    bool    `json:"is_observer"`
	IsFacilitator bool    `json:"is_facilitator"`
	Connected     bool    `json:"connected"`
	HasVoted      bool    `json:"has_voted"`
	Vote          *string `json:"vote,omitempty"`
}

type StoryRecordView struct {
	StoryName      string            `json:"story_name"`
	Votes          map[string]string `json:"votes,omitempty"`
	VoteSummary    map[string]int    `json:"vote_summary"`
	Average        *float64          `json:"average"`
	RoundedAverage *string           `json:"rounded_average"`
	VotedAt        string            `json:"voted_at"`
	RoundNumber    int               `json:"round_number"`
	IsSuperseded   bool              `json:"is_superseded"`
}

// projectRoom derives the view a single recipient is allowed to see.
//
// Vote disclosure: while voting, a viewer only ever sees their own
// vote. Once revealed, per-player votes appear in public mode; in
// anonymous mode only aggregate counts and averages are shown, live
// and in history alike.
func projectRoom(snap Snapshot, viewerID string) RoomProjection {
	proj := RoomProjection{
		RoomID:           snap.RoomID,
		RoomName:         snap.RoomName,
		Status:           string(snap.Status),
		StoryName:        snap.StoryName,
		CurrentScale:     snap.ScaleLabels,
		VotingScale:      snap.ScaleName,
		VotingMode:       string(snap.Mode),
		AllVoted:         snap.AllVoted,
		TotalStoryPoints: math.Round(snap.TotalStoryPoints*10) / 10,
	}

	revealed := snap.Status == StatusRevealed
	public := snap.Mode == ModePublic

	proj.Players = make([]PlayerView, 0, len(snap.Players))
	for _, p := range snap.Players {
		view := PlayerView{
			ID:            p.ID,
			Name:          p.Name,
			IsObserver:    p.IsObserver,
			IsFacilitator: p.IsFacilitator,
			Connected:     p.Connected,
			HasVoted:      p.HasVoted,
		}
		if p.Vote != nil {
			switch {
			case revealed && public:
				view.Vote = p.Vote
			case !revealed && p.ID == viewerID:
				view.Vote = p.Vote
			}
		}
		proj.Players = append(proj.Players, view)
	}

	if revealed {
		proj.VoteSummary = snap.VoteSummary
		proj.Average = snap.Average
		proj.RoundedAverage = snap.RoundedAverage
	}

	proj.History = make([]StoryRecordView, 0, len(snap.History))
	for _, record := range snap.History {
		view := StoryRecordView{
			StoryName:      record.StoryName,
			VoteSummary:    record.VoteSummary,
			Average:        record.Average,
			RoundedAverage: record.RoundedAverage,
			VotedAt:        record.VotedAt.Format(time.RFC3339),
			RoundNumber:    record.RoundNumber,
			IsSuperseded:   record.IsSuperseded,
		}
		if public {
			view.Votes = record.Votes
		}
		proj.History = append(proj.History, view)
	}

	return proj
}
