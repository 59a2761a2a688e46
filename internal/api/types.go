package api

type TableSummary struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	SmallBlind   int64  `json:"small_blind"`
	BigBlind     int64  `json:"big_blind"`
	MaxPlayers   int    `json:"max_players"`
	Players      int    `json:"players"`
	TournamentID int64  `json:"tournament_id,omitempty"`
}

type Seat struct {
	Seat       int      `json:"seat"`
	PlayerID   int64    `json:"player_id"`
	PlayerName string   `json:"player_name"`
	Stack      int64    `json:"stack"`
	Bet        int64    `json:"bet"`
	SitOut     bool     `json:"sit_out"`
	Cards      []string `json:"cards,omitempty"`
}

type TableDetail struct {
	ID              int64    `json:"id"`
	Name            string   `json:"name"`
	Status          string   `json:"status"`
	GameType        int      `json:"game_type"`
	SmallBlind      int64    `json:"small_blind"`
	BigBlind        int64    `json:"big_blind"`
	Ante            int64    `json:"ante"`
	MaxPlayers      int      `json:"max_players"`
	Seats           []Seat   `json:"seats"`
	Pots            []int64  `json:"pots"`
	Board           []string `json:"board"`
	HandID          int64    `json:"hand_id"`
	DealerSeat      int      `json:"dealer_seat"`
	CurrentPlayerID int64    `json:"current_player_id"`
	TournamentID    int64    `json:"tournament_id,omitempty"`
	Frozen          bool     `json:"frozen"`
	Paused          bool     `json:"paused"`
}

type TournamentSummary struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Status     int    `json:"status"`
	Registered bool   `json:"registered"`
	TableID    int64  `json:"table_id,omitempty"`
}

type TournamentDetail struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Status       int    `json:"status"`
	Registered   bool   `json:"registered"`
	TableID      int64  `json:"table_id,omitempty"`
	BetLevel     int    `json:"bet_level"`
	Round        int    `json:"round"`
	RebuyAllowed bool   `json:"rebuy_allowed"`
	AddonAllowed bool   `json:"addon_allowed"`
	RebuyCount   int    `json:"rebuy_count"`
	AddonCount   int    `json:"addon_count"`
	Frozen       bool   `json:"frozen"`
	PlayersLeft  int    `json:"players_left"`
	Place        int    `json:"place,omitempty"`
}

type sitRequest struct {
	Amount int64 `json:"amount"`
}

type betRequest struct {
	Amount int64 `json:"amount"`
}
