package main

import (
	"strconv"
	"strings"
)

const (
	defaultScaleName = "modified_fibonacci"
	customScaleName  = "custom"
	minScaleValues   = 2
)

// Built-in voting scales. Non-numeric labels ("?", "☕", shirt sizes)
// are valid votes but never contribute to averages.
var presetScales = map[string][]string{
	"fibonacci":          {"0", "1", "2", "3", "5", "8", "13", "21", "34", "55", "89", "?", "☕"},
	"modified_fibonacci": {"0", "0.5", "1", "2", "3", "5", "8", "13", "20", "40", "100", "?", "☕"},
	"powers_of_2":        {"0", "1", "2", "4", "8", "16", "32", "64", "?", "☕"},
	"t_shirt":            {"XXS", "XS", "S", "M", "L", "XL", "XXL", "?", "☕"},
	"linear":             {"0", "1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "?", "☕"},
}

// VotingScale is an immutable ordered list of permissible vote labels.
type VotingScale struct {
	name   string
	labels []string
}

func defaultScale() VotingScale {
	scale, _ := presetScale(defaultScaleName)
	return scale
}

func presetScale(name string) (VotingScale, bool) {
	labels, ok := presetScales[name]
	if !ok {
		return VotingScale{}, false
	}
	return VotingScale{name: name, labels: labels}, true
}

// customScale builds a scale from user-provided labels: entries are
// trimmed, empty entries dropped, duplicates removed in first-seen order.
func customScale(values []string) (VotingScale, error) {
	labels := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		labels = append(labels, v)
	}

	if len(labels) < minScaleValues {
		return VotingScale{}, validationError("a custom scale needs at least %d distinct values", minScaleValues)
	}

	return VotingScale{name: customScaleName, labels: labels}, nil
}

func (s VotingScale) Name() string {
	return s.name
}

func (s VotingScale) Labels() []string {
	out := make([]string, len(s.labels))
	copy(out, s.labels)
	return out
}

func (s VotingScale) Contains(label string) bool {
	for _, l := range s.labels {
		if l == label {
			return true
		}
	}
	return false
}

// parseVote interprets a vote label numerically. Labels like "?" or
// "XL" return false and are excluded from averaging.
func parseVote(label string) (float64, bool) {
	v, err := strconv.ParseFloat(label, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Nearest returns the scale label whose numeric value is closest to
// value. Exact ties resolve to the lower value. Returns false when the
// scale has no numeric labels at all.
func (s VotingScale) Nearest(value float64) (string, bool) {
	var (
		bestLabel string
		bestValue float64
		bestDist  float64
		found     bool
	)

	for _, label := range s.labels {
		n, ok := parseVote(label)
		if !ok {
			continue
		}

		dist := n - value
		if dist < 0 {
			dist = -dist
		}

		if !found || dist < bestDist || (dist == bestDist && n < bestValue) {
			bestLabel, bestValue, bestDist = label, n, dist
			found = true
		}
	}

	return bestLabel, found
}
