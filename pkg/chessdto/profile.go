package chessdto

// PlayerSnapshot is the wire view of a player; absent parts were not loaded.
type PlayerSnapshot struct {
	ID            int64    `json:"id"`
	Username      string   `json:"username,omitempty"`
	Rank          *int     `json:"rank,omitempty"`
	ActiveGames   *[]int64 `json:"activeGames,omitempty"`
	FinishedGames *[]int64 `json:"finishedGames,omitempty"`
}

// AuthResult pairs a player with a freshly issued token.
type AuthResult struct {
	Player *PlayerSnapshot `json:"player"`
	Token  string          `json:"token,omitempty"`
}
