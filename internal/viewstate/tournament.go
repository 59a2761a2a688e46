package viewstate

import "table-client/internal/api"

type TournamentStatus int

const (
	TournamentPending TournamentStatus = iota
	TournamentRegistrationStarted
	TournamentRegistrationCancelled
	TournamentSettingUp
	TournamentWaitingStart
	TournamentStarted
	TournamentCompleted
	TournamentCancelled
	TournamentLateRegistration
)

func (s TournamentStatus) String() string {
	switch s {
	case TournamentPending:
		return "pending"
	case TournamentRegistrationStarted:
		return "registration_started"
	case TournamentRegistrationCancelled:
		return "registration_cancelled"
	case TournamentSettingUp:
		return "setting_up"
	case TournamentWaitingStart:
		return "waiting_tournament_start"
	case TournamentStarted:
		return "started"
	case TournamentCompleted:
		return "completed"
	case TournamentCancelled:
		return "cancelled"
	case TournamentLateRegistration:
		return "late_registration"
	default:
		return "unknown"
	}
}

func (s TournamentStatus) Terminal() bool {
	return s == TournamentCompleted || s == TournamentCancelled
}

func (s TournamentStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Tournament struct {
	id int64

	Name         string           `json:"name"`
	Status       TournamentStatus `json:"status"`
	Registered   bool             `json:"registered"`
	TableID      int64            `json:"table_id,omitempty"`
	BetLevel     int              `json:"bet_level"`
	Round        int              `json:"round"`
	RebuyAllowed bool             `json:"rebuy_allowed"`
	AddonAllowed bool             `json:"addon_allowed"`
	RebuyCount   int              `json:"rebuy_count"`
	AddonCount   int              `json:"addon_count"`
	Frozen       bool             `json:"frozen"`
	PlayersLeft  int              `json:"players_left"`
	Place        int              `json:"place,omitempty"`
}

type TournamentSnapshot struct {
	ID int64 `json:"id"`
	Tournament
}

func NewTournament(id int64) *Tournament {
	return &Tournament{id: id}
}

func (t *Tournament) ID() int64 { return t.id }

// SetStatus moves to s unless the tournament already reached a terminal
// status. It reports whether the status changed.
func (t *Tournament) SetStatus(s TournamentStatus) bool {
	if t.Status.Terminal() || t.Status == s {
		return false
	}
	t.Status = s
	return true
}

func (t *Tournament) Finished() bool { return t.Status.Terminal() }

// Active reports whether the player needs a table slot for this tournament.
func (t *Tournament) Active() bool {
	if !t.Registered || t.Place != 0 {
		return false
	}
	switch t.Status {
	case TournamentSettingUp, TournamentWaitingStart, TournamentStarted, TournamentLateRegistration:
		return true
	}
	return false
}

func (t *Tournament) Apply(d api.TournamentDetail) {
	t.Name = d.Name
	t.SetStatus(TournamentStatus(d.Status))
	t.Registered = d.Registered
	t.TableID = d.TableID
	t.BetLevel = d.BetLevel
	t.Round = d.Round
	t.RebuyAllowed = d.RebuyAllowed
	t.AddonAllowed = d.AddonAllowed
	t.RebuyCount = d.RebuyCount
	t.AddonCount = d.AddonCount
	t.Frozen = d.Frozen
	t.PlayersLeft = d.PlayersLeft
	t.Place = d.Place
}

// PlayerGameCompleted records the finishing place of the local player.
func (t *Tournament) PlayerGameCompleted(place int) {
	t.Place = place
	t.TableID = 0
}

func (t *Tournament) SetRebuyStatus(rebuy, addon bool) {
	t.RebuyAllowed = rebuy
	t.AddonAllowed = addon
}

func (t *Tournament) SetRebuyCount(rebuys, addons int) {
	t.RebuyCount = rebuys
	t.AddonCount = addons
}

func (t *Tournament) Snapshot() TournamentSnapshot {
	return TournamentSnapshot{ID: t.id, Tournament: *t}
}
