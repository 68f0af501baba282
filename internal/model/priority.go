package model

import "github.com/rotisserie/eris"

// Priority classifies how urgently a recommendation should be acted on.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// priorityRank maps priorities to numeric ranks for comparison. Higher rank
// means more urgent.
var priorityRank = map[Priority]int{
	PriorityLow:    0,
	PriorityMedium: 1,
	PriorityHigh:   2,
}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Rank returns the numeric rank of p. Unknown priorities rank below low.
func (p Priority) Rank() int {
	rank, ok := priorityRank[p]
	if !ok {
		return -1
	}
	return rank
}

// ParsePriority converts a raw string to a Priority, rejecting anything
// outside the closed low/medium/high set.
func ParsePriority(raw string) (Priority, error) {
	p := Priority(raw)
	if !p.Valid() {
		return "", eris.Errorf("unknown priority %q", raw)
	}
	return p, nil
}
