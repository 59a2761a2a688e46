package tables

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"table-client/internal/api"
	"table-client/internal/connection"
	"table-client/internal/dedup"
	"table-client/internal/hub"
	"table-client/internal/viewstate"
)

type tableApply func(t *viewstate.Table, args []json.RawMessage) error

type tournamentApply func(m *Manager, t *viewstate.Tournament, args []json.RawMessage) error

// bind registers every push handler on s. Handlers of older sessions stay
// registered on their session but are rejected by the stale-session guard.
func (m *Manager) bind(s *connection.Session) {
	m.mu.Lock()
	if m.session == s {
		m.mu.Unlock()
		return
	}
	old := m.unbind
	m.session = s
	m.unbind = nil
	m.mu.Unlock()
	for _, fn := range old {
		fn()
	}

	var unbind []func()
	for method, apply := range tableHandlers {
		unbind = append(unbind, s.On(method, m.tableHandler(s, apply)))
	}
	for method, apply := range tournamentHandlers {
		unbind = append(unbind, s.On(method, m.tournamentHandler(s, apply)))
	}
	unbind = append(unbind, s.On(hub.EventMessage, m.tableHandler(s, applyMessage)))

	m.mu.Lock()
	if m.session == s {
		m.unbind = unbind
		m.mu.Unlock()
		log.Debug().Str("session_id", s.ID()).Int("handlers", len(unbind)).Msg("tables_handlers_bound")
		return
	}
	m.mu.Unlock()
	for _, fn := range unbind {
		fn()
	}
}

// staleLocked reports whether a push from s must be ignored.
func (m *Manager) staleLocked(s *connection.Session) bool {
	return m.session != s || s.Terminated()
}

func (m *Manager) tableHandler(s *connection.Session, apply tableApply) connection.Handler {
	return func(f hub.Frame) {
		var tableID int64
		if err := hub.DecodeArgs(f.Args, &tableID); err != nil || len(f.Args) == 0 {
			metricEventsDropped.Add(1)
			log.Warn().Err(err).Str("method", f.Method).Msg("table_event_malformed")
			return
		}

		m.mu.Lock()
		if m.staleLocked(s) {
			m.mu.Unlock()
			metricStaleEvents.Add(1)
			return
		}
		t, ok := m.tables[tableID]
		if !ok {
			m.mu.Unlock()
			metricEventsDropped.Add(1)
			log.Warn().Int64("table_id", tableID).Str("method", f.Method).Msg("table_event_unknown_table")
			return
		}
		duplicate := m.trackLocked(tableID, f)
		var err error
		if !duplicate {
			err = apply(t, f.Args)
		}
		m.mu.Unlock()

		if duplicate {
			metricDuplicates.Add(1)
			log.Error().Int64("table_id", tableID).Str("method", f.Method).Str("session_id", s.ID()).Msg("table_duplicate_event")
			if m.opts.Alarm != nil {
				m.opts.Alarm.ShowDuplicatedConnectionPopup()
			}
			return
		}
		if err != nil {
			metricEventsDropped.Add(1)
			log.Warn().Err(err).Int64("table_id", tableID).Str("method", f.Method).Msg("table_event_rejected")
			return
		}
		metricEventsRouted.Add(1)
	}
}

func (m *Manager) tournamentHandler(s *connection.Session, apply tournamentApply) connection.Handler {
	return func(f hub.Frame) {
		var tournamentID int64
		if err := hub.DecodeArgs(f.Args, &tournamentID); err != nil || len(f.Args) == 0 {
			metricEventsDropped.Add(1)
			log.Warn().Err(err).Str("method", f.Method).Msg("tournament_event_malformed")
			return
		}

		m.mu.Lock()
		if m.staleLocked(s) {
			m.mu.Unlock()
			metricStaleEvents.Add(1)
			return
		}
		t, ok := m.tournaments[tournamentID]
		if !ok && f.Method == hub.EventTournamentRegistration {
			t = viewstate.NewTournament(tournamentID)
			m.tournaments[tournamentID] = t
			ok = true
		}
		if !ok {
			m.mu.Unlock()
			metricEventsDropped.Add(1)
			log.Warn().Int64("tournament_id", tournamentID).Str("method", f.Method).Msg("tournament_event_unknown_tournament")
			return
		}
		err := apply(m, t, f.Args)
		m.mu.Unlock()

		if err != nil {
			metricEventsDropped.Add(1)
			log.Warn().Err(err).Int64("tournament_id", tournamentID).Str("method", f.Method).Msg("tournament_event_rejected")
			return
		}
		metricEventsRouted.Add(1)
	}
}

// trackLocked feeds the table's duplicate window and reports a repeat.
// Voluntary check/call and bet/raise actions repeat legitimately and are
// not tracked. A new hand clears the bet entries.
func (m *Manager) trackLocked(tableID int64, f hub.Frame) bool {
	tracker := m.trackers[tableID]
	if tracker == nil {
		return false
	}
	switch f.Method {
	case hub.EventBet:
		var betType int
		if len(f.Args) < 3 || json.Unmarshal(f.Args[2], &betType) != nil {
			return false
		}
		if betType == viewstate.BetCheckCall || betType == viewstate.BetRaise {
			return false
		}
	case hub.EventGameStarted:
		tracker.Erase(func(t dedup.Tuple) bool { return t.Method() != hub.EventBet })
	case hub.EventGameFinished:
	default:
		return false
	}
	tracker.Register(tupleOf(f))
	return tracker.HasDuplicates()
}

func tupleOf(f hub.Frame) dedup.Tuple {
	hubName := f.Hub
	if hubName == "" {
		hubName = hub.HubGame
	}
	t := make(dedup.Tuple, 0, len(f.Args)+2)
	t = append(t, hubName, f.Method)
	for _, a := range f.Args {
		var buf bytes.Buffer
		if err := json.Compact(&buf, a); err != nil {
			t = append(t, a)
			continue
		}
		t = append(t, json.RawMessage(buf.Bytes()))
	}
	return t
}

var tableHandlers = map[string]tableApply{
	hub.EventTableStatusInfo: func(t *viewstate.Table, args []json.RawMessage) error {
		var d api.TableDetail
		if err := hub.DecodeArgs(args, nil, &d); err != nil {
			return err
		}
		t.Apply(d)
		return nil
	},
	hub.EventGameStarted: func(t *viewstate.Table, args []json.RawMessage) error {
		var handID int64
		var dealer int
		if err := hub.DecodeArgs(args, nil, &handID, &dealer); err != nil {
			return err
		}
		t.GameStarted(handID, dealer)
		return nil
	},
	hub.EventBet: func(t *viewstate.Table, args []json.RawMessage) error {
		var player, amount, next int64
		var betType int
		if err := hub.DecodeArgs(args, nil, &player, &betType, &amount, &next); err != nil {
			return err
		}
		return known(t.Bet(player, betType, amount, next), player)
	},
	hub.EventOpenCards: func(t *viewstate.Table, args []json.RawMessage) error {
		var cards []string
		if err := hub.DecodeArgs(args, nil, &cards); err != nil {
			return err
		}
		t.OpenCards(cards)
		return nil
	},
	hub.EventMoneyAdded: func(t *viewstate.Table, args []json.RawMessage) error {
		var player, amount int64
		if err := hub.DecodeArgs(args, nil, &player, &amount); err != nil {
			return err
		}
		return known(t.MoneyAdded(player, amount), player)
	},
	hub.EventMoneyRemoved: func(t *viewstate.Table, args []json.RawMessage) error {
		var player, amount int64
		if err := hub.DecodeArgs(args, nil, &player, &amount); err != nil {
			return err
		}
		return known(t.MoneyRemoved(player, amount), player)
	},
	hub.EventPlayerCards: func(t *viewstate.Table, args []json.RawMessage) error {
		var player int64
		var cards []string
		if err := hub.DecodeArgs(args, nil, &player, &cards); err != nil {
			return err
		}
		return known(t.PlayerCards(player, cards), player)
	},
	hub.EventPlayerCardOpened: func(t *viewstate.Table, args []json.RawMessage) error {
		var player int64
		var position int
		var card string
		if err := hub.DecodeArgs(args, nil, &player, &position, &card); err != nil {
			return err
		}
		return known(t.PlayerCardOpened(player, position, card), player)
	},
	hub.EventPlayerCardsMucked: func(t *viewstate.Table, args []json.RawMessage) error {
		var player int64
		if err := hub.DecodeArgs(args, nil, &player); err != nil {
			return err
		}
		return known(t.PlayerCardsMucked(player), player)
	},
	hub.EventMoveMoneyToPot: func(t *viewstate.Table, args []json.RawMessage) error {
		var pots []int64
		if err := hub.DecodeArgs(args, nil, &pots); err != nil {
			return err
		}
		t.MoveMoneyToPot(pots)
		return nil
	},
	hub.EventGameFinished: func(t *viewstate.Table, args []json.RawMessage) error {
		var handID int64
		if err := hub.DecodeArgs(args, nil, &handID); err != nil {
			return err
		}
		t.GameFinished(handID)
		return nil
	},
	hub.EventPlayerStatus: func(t *viewstate.Table, args []json.RawMessage) error {
		var player int64
		var sitOut bool
		if err := hub.DecodeArgs(args, nil, &player, &sitOut); err != nil {
			return err
		}
		return known(t.PlayerStatus(player, sitOut), player)
	},
	hub.EventSit: func(t *viewstate.Table, args []json.RawMessage) error {
		var seat int
		var player, stack int64
		var name string
		if err := hub.DecodeArgs(args, nil, &seat, &player, &name, &stack); err != nil {
			return err
		}
		t.Sit(seat, player, name, stack)
		return nil
	},
	hub.EventStandup: func(t *viewstate.Table, args []json.RawMessage) error {
		var player int64
		if err := hub.DecodeArgs(args, nil, &player); err != nil {
			return err
		}
		return known(t.Standup(player), player)
	},
	hub.EventTableFrozen:   setStatus(viewstate.TableFrozen),
	hub.EventTableUnfrozen: setStatus(viewstate.TableOpened),
	hub.EventTableOpened:   setStatus(viewstate.TableOpened),
	hub.EventTableClosed:   setStatus(viewstate.TableClosed),
	hub.EventTablePaused:   setStatus(viewstate.TablePaused),
	hub.EventTableResumed:  setStatus(viewstate.TableOpened),
	hub.EventFinalTableCardsOpened: func(t *viewstate.Table, args []json.RawMessage) error {
		var cards [][]string
		if err := hub.DecodeArgs(args, nil, &cards); err != nil {
			return err
		}
		t.FinalTableCardsOpened(cards)
		return nil
	},
	hub.EventTableBetParametersChanged: func(t *viewstate.Table, args []json.RawMessage) error {
		var small, big, ante int64
		if err := hub.DecodeArgs(args, nil, &small, &big, &ante); err != nil {
			return err
		}
		t.BetParametersChanged(small, big, ante)
		return nil
	},
	hub.EventTableGameTypeChanged: func(t *viewstate.Table, args []json.RawMessage) error {
		var gameType int
		if err := hub.DecodeArgs(args, nil, &gameType); err != nil {
			return err
		}
		t.GameType = gameType
		return nil
	},
	hub.EventTableTournamentChanged: func(t *viewstate.Table, args []json.RawMessage) error {
		var tournamentID int64
		if err := hub.DecodeArgs(args, nil, &tournamentID); err != nil {
			return err
		}
		t.TournamentID = tournamentID
		return nil
	},
}

func applyMessage(t *viewstate.Table, args []json.RawMessage) error {
	var msg viewstate.ChatMessage
	if err := hub.DecodeArgs(args, nil, &msg.PlayerID, &msg.Sender, &msg.Text); err != nil {
		return err
	}
	t.AddChat(msg)
	return nil
}

func setStatus(s viewstate.TableStatus) tableApply {
	return func(t *viewstate.Table, _ []json.RawMessage) error {
		t.SetStatus(s)
		return nil
	}
}

func known(ok bool, playerID int64) error {
	if ok {
		return nil
	}
	return fmt.Errorf("player %d not seated", playerID)
}

var tournamentHandlers = map[string]tournamentApply{
	hub.EventTournamentStatusChanged: func(m *Manager, t *viewstate.Tournament, args []json.RawMessage) error {
		var status int
		if err := hub.DecodeArgs(args, nil, &status); err != nil {
			return err
		}
		if t.SetStatus(viewstate.TournamentStatus(status)) && t.Finished() {
			m.releaseTournamentTablesLocked(t.ID())
		}
		return nil
	},
	hub.EventTournamentTableChanged: func(m *Manager, t *viewstate.Tournament, args []json.RawMessage) error {
		var tableID int64
		if err := hub.DecodeArgs(args, nil, &tableID); err != nil {
			return err
		}
		prev := t.TableID
		t.TableID = tableID
		if prev != 0 && prev != tableID {
			if old, ok := m.tables[prev]; ok && old.TournamentID == t.ID() {
				m.removeLocked(prev)
				m.background(func(ctx context.Context) {
					if err := m.invoke(ctx, hub.InvokeDisconnectFromTable, prev); err != nil {
						log.Warn().Err(err).Int64("table_id", prev).Msg("table_disconnect_failed")
					}
				})
			}
		}
		if tableID != 0 && t.Active() {
			if _, ok := m.tables[tableID]; !ok {
				tournamentID := t.ID()
				m.background(func(ctx context.Context) {
					if err := m.openTable(ctx, tableID, false); err != nil {
						log.Warn().Err(err).Int64("table_id", tableID).Int64("tournament_id", tournamentID).Msg("tournament_table_open_failed")
					}
				})
			}
		}
		log.Info().Int64("tournament_id", t.ID()).Int64("from_table_id", prev).Int64("to_table_id", tableID).Msg("tournament_table_changed")
		return nil
	},
	hub.EventTournamentPlayerGameCompleted: func(m *Manager, t *viewstate.Tournament, args []json.RawMessage) error {
		var place int
		if err := hub.DecodeArgs(args, nil, &place); err != nil {
			return err
		}
		t.PlayerGameCompleted(place)
		return nil
	},
	hub.EventTournamentBetLevelChanged: func(_ *Manager, t *viewstate.Tournament, args []json.RawMessage) error {
		return hub.DecodeArgs(args, nil, &t.BetLevel)
	},
	hub.EventTournamentRoundChanged: func(_ *Manager, t *viewstate.Tournament, args []json.RawMessage) error {
		return hub.DecodeArgs(args, nil, &t.Round)
	},
	hub.EventTournamentRebuyStatusChanged: func(_ *Manager, t *viewstate.Tournament, args []json.RawMessage) error {
		var rebuy, addon bool
		if err := hub.DecodeArgs(args, nil, &rebuy, &addon); err != nil {
			return err
		}
		t.SetRebuyStatus(rebuy, addon)
		return nil
	},
	hub.EventTournamentRebuyCountChanged: func(_ *Manager, t *viewstate.Tournament, args []json.RawMessage) error {
		var rebuys, addons int
		if err := hub.DecodeArgs(args, nil, &rebuys, &addons); err != nil {
			return err
		}
		t.SetRebuyCount(rebuys, addons)
		return nil
	},
	hub.EventTournamentFrozen: func(_ *Manager, t *viewstate.Tournament, _ []json.RawMessage) error {
		t.Frozen = true
		return nil
	},
	hub.EventTournamentUnfrozen: func(_ *Manager, t *viewstate.Tournament, _ []json.RawMessage) error {
		t.Frozen = false
		return nil
	},
	hub.EventTournamentRegistration: func(m *Manager, t *viewstate.Tournament, _ []json.RawMessage) error {
		t.Registered = true
		id := t.ID()
		m.background(func(ctx context.Context) {
			if err := m.refreshTournament(ctx, id); err != nil {
				log.Warn().Err(err).Int64("tournament_id", id).Msg("tournament_refresh_failed")
			}
		})
		return nil
	},
	hub.EventTournamentRegistrationCancel: func(m *Manager, t *viewstate.Tournament, _ []json.RawMessage) error {
		t.Registered = false
		m.forgetTournamentLocked(t.ID())
		return nil
	},
}

// releaseTournamentTablesLocked drops the tables of a finished tournament.
func (m *Manager) releaseTournamentTablesLocked(tournamentID int64) {
	var released []int64
	for _, id := range m.order {
		if m.tables[id].TournamentID == tournamentID {
			released = append(released, id)
		}
	}
	for _, id := range released {
		m.removeLocked(id)
	}
	if len(released) == 0 {
		return
	}
	log.Info().Int64("tournament_id", tournamentID).Ints64("table_ids", released).Msg("tournament_tables_released")
	m.background(func(ctx context.Context) {
		for _, id := range released {
			if err := m.invoke(ctx, hub.InvokeDisconnectFromTable, id); err != nil {
				log.Warn().Err(err).Int64("table_id", id).Msg("table_disconnect_failed")
			}
		}
	})
}

func (m *Manager) forgetTournamentLocked(tournamentID int64) {
	delete(m.tournaments, tournamentID)
	m.background(func(ctx context.Context) {
		if err := m.invoke(ctx, hub.InvokeUnsubscribeTournament, tournamentID); err != nil {
			log.Warn().Err(err).Int64("tournament_id", tournamentID).Msg("tournament_unsubscribe_failed")
		}
	})
}
