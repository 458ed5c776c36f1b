package chessdto

// GameSnapshot is the wire view of a game. Moves and Data are present only
// when the corresponding part was loaded.
type GameSnapshot struct {
	ID    int64     `json:"id"`
	Moves *[]string `json:"moves,omitempty"`
	Data  *GameData `json:"gamedata,omitempty"`
}

type GameData struct {
	WhitePlayer   int64  `json:"wplayer"`
	BlackPlayer   int64  `json:"bplayer"`
	WhiteTimeLeft int    `json:"wtimeleft"`
	BlackTimeLeft int    `json:"btimeleft"`
	State         int    `json:"gamestate"`
	StateName     string `json:"gamestatename"`
	StartedAt     string `json:"startdate"`
}

// FindResult answers a matchmaking poll.
type FindResult struct {
	GameFound bool          `json:"gamefound"`
	Game      *GameSnapshot `json:"game,omitempty"`
}

// MoveResult is returned after a move; Ratings is set when the move ended the game.
type MoveResult struct {
	Game    *GameSnapshot  `json:"game"`
	Ratings *RatingSettled `json:"ratings,omitempty"`
}

type RatingSettled struct {
	WhiteBefore int `json:"wbefore"`
	WhiteAfter  int `json:"wafter"`
	BlackBefore int `json:"bbefore"`
	BlackAfter  int `json:"bafter"`
}
