package chessdto

// Envelope wraps every API response.
type Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// CredentialsRequest is the register/login body. bcrypt caps passwords at 72 bytes.
type CredentialsRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type GameRequest struct {
	GameID int64 `json:"gameid" validate:"required,gt=0"`
}

type PlayMoveRequest struct {
	GameID    int64  `json:"gameid" validate:"required,gt=0"`
	Move      string `json:"move" validate:"required,max=16"`
	GameState *int   `json:"gamestate"`
}

type WaitRequest struct {
	GameID int64 `json:"gameid" validate:"required,gt=0"`
	Moves  int   `json:"moves" validate:"gte=0"`
}
