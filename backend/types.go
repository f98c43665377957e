package backend

// GameRecord is the backend's projection of one game.
type GameRecord struct {
	ID              int64          `json:"id"`
	Code            string         `json:"code"`
	Status          string         `json:"status"`
	NumberOfPlayers int            `json:"number_of_players"`
	CurrentTurn     string         `json:"current_turn"`
	Players         []PlayerRecord `json:"players"`
}

// PlayerRecord is one seat in a game.
type PlayerRecord struct {
	ID       int64  `json:"id"`
	Address  string `json:"address"`
	Username string `json:"username"`
	Symbol   string `json:"symbol"`
	Balance  int64  `json:"balance"`
	Position int    `json:"position"`
	InJail   bool   `json:"in_jail"`
}
