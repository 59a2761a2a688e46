// Package viewstate holds the locally reconciled model of tables and
// tournaments. Values are not safe for concurrent use; the owner serializes
// access.
package viewstate

import (
	"table-client/internal/api"
)

type TableStatus string

const (
	TableConnecting TableStatus = "connecting"
	TableOpened     TableStatus = "opened"
	TableFrozen     TableStatus = "frozen"
	TablePaused     TableStatus = "paused"
	TableClosed     TableStatus = "closed"
)

const chatLogSize = 50

// Bet types carried by Bet pushes.
const (
	BetFold      = 1
	BetCheckCall = 2
	BetAnte      = 3
	BetRaise     = 4
	BetSmall     = 5
	BetBig       = 6
	BetAllIn     = 7
)

type Seat struct {
	Seat       int      `json:"seat"`
	PlayerID   int64    `json:"player_id"`
	PlayerName string   `json:"player_name"`
	Stack      int64    `json:"stack"`
	Bet        int64    `json:"bet"`
	SitOut     bool     `json:"sit_out"`
	Folded     bool     `json:"folded"`
	Cards      []string `json:"cards,omitempty"`
}

type ChatMessage struct {
	PlayerID int64  `json:"player_id"`
	Sender   string `json:"sender"`
	Text     string `json:"text"`
}

// Table is one table the local user observes or sits at. The tournament is
// referenced by id only; resolve it through the owner.
type Table struct {
	id int64

	Name            string        `json:"name"`
	Status          TableStatus   `json:"status"`
	GameType        int           `json:"game_type"`
	SmallBlind      int64         `json:"small_blind"`
	BigBlind        int64         `json:"big_blind"`
	Ante            int64         `json:"ante"`
	MaxPlayers      int           `json:"max_players"`
	Seats           []Seat        `json:"seats"`
	Pots            []int64       `json:"pots"`
	Board           []string      `json:"board"`
	HandID          int64         `json:"hand_id"`
	InHand          bool          `json:"in_hand"`
	DealerSeat      int           `json:"dealer_seat"`
	CurrentPlayerID int64         `json:"current_player_id"`
	TournamentID    int64         `json:"tournament_id,omitempty"`
	FinalCards      [][]string    `json:"final_cards,omitempty"`
	Chat            []ChatMessage `json:"chat,omitempty"`
}

type TableSnapshot struct {
	ID int64 `json:"id"`
	Table
}

func NewTable(id int64) *Table {
	return &Table{id: id, Status: TableConnecting}
}

func (t *Table) ID() int64 { return t.id }

// Opened reports whether the table still holds a live slot.
func (t *Table) Opened() bool { return t.Status != TableClosed }

// Apply replaces the table with the authoritative server view.
func (t *Table) Apply(d api.TableDetail) {
	t.Name = d.Name
	t.GameType = d.GameType
	t.SmallBlind = d.SmallBlind
	t.BigBlind = d.BigBlind
	t.Ante = d.Ante
	t.MaxPlayers = d.MaxPlayers
	t.Pots = append([]int64(nil), d.Pots...)
	t.Board = append([]string(nil), d.Board...)
	t.HandID = d.HandID
	t.InHand = d.HandID != 0 && d.CurrentPlayerID != 0
	t.DealerSeat = d.DealerSeat
	t.CurrentPlayerID = d.CurrentPlayerID
	t.TournamentID = d.TournamentID
	t.Seats = t.Seats[:0]
	for _, s := range d.Seats {
		t.Seats = append(t.Seats, Seat{
			Seat:       s.Seat,
			PlayerID:   s.PlayerID,
			PlayerName: s.PlayerName,
			Stack:      s.Stack,
			Bet:        s.Bet,
			SitOut:     s.SitOut,
			Cards:      append([]string(nil), s.Cards...),
		})
	}
	switch {
	case d.Status == string(TableClosed):
		t.Status = TableClosed
	case d.Frozen:
		t.Status = TableFrozen
	case d.Paused:
		t.Status = TablePaused
	default:
		t.Status = TableOpened
	}
}

func (t *Table) seatOf(playerID int64) *Seat {
	for i := range t.Seats {
		if t.Seats[i].PlayerID == playerID {
			return &t.Seats[i]
		}
	}
	return nil
}

func (t *Table) GameStarted(handID int64, dealerSeat int) {
	t.HandID = handID
	t.InHand = true
	t.DealerSeat = dealerSeat
	t.Board = nil
	t.Pots = nil
	t.FinalCards = nil
	for i := range t.Seats {
		t.Seats[i].Bet = 0
		t.Seats[i].Folded = false
		t.Seats[i].Cards = nil
	}
}

// Bet applies one betting action. Unknown players are ignored.
func (t *Table) Bet(playerID int64, betType int, amount int64, nextPlayerID int64) bool {
	s := t.seatOf(playerID)
	if s == nil {
		return false
	}
	if betType == BetFold {
		s.Folded = true
	} else if amount > 0 {
		s.Bet += amount
		s.Stack -= amount
		if s.Stack < 0 {
			s.Stack = 0
		}
	}
	t.CurrentPlayerID = nextPlayerID
	return true
}

func (t *Table) OpenCards(cards []string) {
	t.Board = append(t.Board, cards...)
}

func (t *Table) MoneyAdded(playerID, amount int64) bool {
	s := t.seatOf(playerID)
	if s == nil {
		return false
	}
	s.Stack += amount
	return true
}

func (t *Table) MoneyRemoved(playerID, amount int64) bool {
	s := t.seatOf(playerID)
	if s == nil {
		return false
	}
	s.Stack -= amount
	if s.Stack < 0 {
		s.Stack = 0
	}
	return true
}

func (t *Table) PlayerCards(playerID int64, cards []string) bool {
	s := t.seatOf(playerID)
	if s == nil {
		return false
	}
	s.Cards = append([]string(nil), cards...)
	return true
}

func (t *Table) PlayerCardOpened(playerID int64, position int, card string) bool {
	s := t.seatOf(playerID)
	if s == nil || position < 0 || position > 8 {
		return false
	}
	for len(s.Cards) <= position {
		s.Cards = append(s.Cards, "")
	}
	s.Cards[position] = card
	return true
}

func (t *Table) PlayerCardsMucked(playerID int64) bool {
	s := t.seatOf(playerID)
	if s == nil {
		return false
	}
	s.Cards = nil
	s.Folded = true
	return true
}

// MoveMoneyToPot collects outstanding bets into the given pots.
func (t *Table) MoveMoneyToPot(pots []int64) {
	t.Pots = append([]int64(nil), pots...)
	for i := range t.Seats {
		t.Seats[i].Bet = 0
	}
}

func (t *Table) GameFinished(handID int64) {
	if handID != 0 && handID != t.HandID {
		return
	}
	t.InHand = false
	t.CurrentPlayerID = 0
	for i := range t.Seats {
		t.Seats[i].Bet = 0
	}
}

func (t *Table) PlayerStatus(playerID int64, sitOut bool) bool {
	s := t.seatOf(playerID)
	if s == nil {
		return false
	}
	s.SitOut = sitOut
	return true
}

func (t *Table) Sit(seat int, playerID int64, name string, stack int64) {
	if s := t.seatOf(playerID); s != nil {
		s.Seat = seat
		s.PlayerName = name
		s.Stack = stack
		return
	}
	for i := range t.Seats {
		if t.Seats[i].Seat == seat {
			t.Seats[i] = Seat{Seat: seat, PlayerID: playerID, PlayerName: name, Stack: stack}
			return
		}
	}
	t.Seats = append(t.Seats, Seat{Seat: seat, PlayerID: playerID, PlayerName: name, Stack: stack})
}

func (t *Table) Standup(playerID int64) bool {
	for i := range t.Seats {
		if t.Seats[i].PlayerID == playerID {
			t.Seats = append(t.Seats[:i], t.Seats[i+1:]...)
			return true
		}
	}
	return false
}

func (t *Table) SetStatus(s TableStatus) {
	if t.Status == TableClosed && s != TableOpened {
		return
	}
	t.Status = s
}

func (t *Table) FinalTableCardsOpened(cards [][]string) {
	t.FinalCards = copyCards(cards)
}

func copyCards(cards [][]string) [][]string {
	if cards == nil {
		return nil
	}
	out := make([][]string, len(cards))
	for i, c := range cards {
		out[i] = append([]string(nil), c...)
	}
	return out
}

func (t *Table) BetParametersChanged(small, big, ante int64) {
	t.SmallBlind = small
	t.BigBlind = big
	t.Ante = ante
}

func (t *Table) AddChat(m ChatMessage) {
	t.Chat = append(t.Chat, m)
	if len(t.Chat) > chatLogSize {
		t.Chat = append([]ChatMessage(nil), t.Chat[len(t.Chat)-chatLogSize:]...)
	}
}

// Snapshot deep-copies the table so it can be read after the owner's lock is
// released.
func (t *Table) Snapshot() TableSnapshot {
	cp := *t
	cp.Seats = make([]Seat, len(t.Seats))
	for i, s := range t.Seats {
		s.Cards = append([]string(nil), s.Cards...)
		cp.Seats[i] = s
	}
	cp.FinalCards = copyCards(t.FinalCards)
	cp.Pots = append([]int64(nil), t.Pots...)
	cp.Board = append([]string(nil), t.Board...)
	cp.Chat = append([]ChatMessage(nil), t.Chat...)
	return TableSnapshot{ID: t.id, Table: cp}
}
