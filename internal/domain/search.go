package domain

// SearchParams carries the ranked search inputs.
type SearchParams struct {
	Query    string
	MinScore float64
	Limit    int
	Offset   int
}

// SearchResult is one ranked search row.
type SearchResult struct {
	Entity   EntitySummary `json:"entity"`
	Momentum float64       `json:"momentum"`
	Rank     float64       `json:"rank"`
}

// EntityDetail bundles an entity with its full history and current score.
type EntityDetail struct {
	Entity    Entity        `json:"entity"`
	Snapshots []Snapshot    `json:"snapshots"`
	Changes   []ChangeEvent `json:"changes"`
	Score     CurrentScore  `json:"score"`
}

// Leaderboard holds three independently ordered top lists.
type Leaderboard struct {
	TopMomentum   []RankedScore  `json:"top_momentum"`
	MostStable    []RankedScore  `json:"most_stable"`
	RecentChanges []RecentChange `json:"recent_changes"`
}
