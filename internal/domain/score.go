package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Score holds externally computed ranking signals for one entity.
type Score struct {
	EntityID   uuid.UUID `json:"entity_id"`
	Momentum   float64   `json:"momentum"`
	Stability  float64   `json:"stability"`
	ComputedAt time.Time `json:"computed_at"`
}

// CurrentScore is the score of an entity or an explicit marker that none was computed yet.
type CurrentScore struct {
	score *Score
}

// ScoreOf wraps a computed score.
func ScoreOf(s Score) CurrentScore {
	return CurrentScore{score: &s}
}

// NoScore is the marker for entities the score job has not reached yet.
func NoScore() CurrentScore {
	return CurrentScore{}
}

// Get returns the score and whether one was computed.
func (c CurrentScore) Get() (Score, bool) {
	if c.score == nil {
		return Score{}, false
	}
	return *c.score, true
}

// Computed reports whether a score exists.
func (c CurrentScore) Computed() bool {
	return c.score != nil
}

// Momentum returns the momentum value, zero when absent.
func (c CurrentScore) Momentum() float64 {
	if c.score == nil {
		return 0
	}
	return c.score.Momentum
}

func (c CurrentScore) MarshalJSON() ([]byte, error) {
	if c.score == nil {
		return json.Marshal(struct {
			Computed bool `json:"computed"`
		}{Computed: false})
	}
	return json.Marshal(struct {
		Computed   bool      `json:"computed"`
		Momentum   float64   `json:"momentum"`
		Stability  float64   `json:"stability"`
		ComputedAt time.Time `json:"computed_at"`
	}{
		Computed:   true,
		Momentum:   c.score.Momentum,
		Stability:  c.score.Stability,
		ComputedAt: c.score.ComputedAt,
	})
}

// RankedScore is a leaderboard row: an entity and the value it is ranked by.
type RankedScore struct {
	Entity EntitySummary `json:"entity"`
	Value  float64       `json:"value"`
}
