package main

import "time"

// StoryRecord is one completed voting round, frozen into room history.
// Once appended it is never edited except for the IsSuperseded flag,
// which flips true when a later re-vote of the same story is recorded.
type StoryRecord struct {
	StoryName      string
	Votes          map[string]string // player name -> vote label
	VoteSummary    map[string]int    // vote label -> count
	Average        *float64
	RoundedAverage *string
	VotedAt        time.Time
	RoundNumber    int
	IsSuperseded   bool
}

func (s *StoryRecord) clone() *StoryRecord {
	out := &StoryRecord{
		StoryName:    s.StoryName,
		Votes:        make(map[string]string, len(s.Votes)),
		VoteSummary:  make(map[string]int, len(s.VoteSummary)),
		VotedAt:      s.VotedAt,
		RoundNumber:  s.RoundNumber,
		IsSuperseded: s.IsSuperseded,
	}
	for k, v := range s.Votes {
		out.Votes[k] = v
	}
	for k, v := range s.VoteSummary {
		out.VoteSummary[k] = v
	}
	if s.Average != nil {
		avg := *s.Average
		out.Average = &avg
	}
	if s.RoundedAverage != nil {
		ra := *s.RoundedAverage
		out.RoundedAverage = &ra
	}
	return out
}
