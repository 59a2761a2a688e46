package tables

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"table-client/internal/hub"
	"table-client/internal/viewstate"
)

const deferredActionTimeout = 10 * time.Second

type deferredAction struct {
	name string
	run  func(ctx context.Context) error
}

// act runs a gameplay call, or queues it behind the next accepted reconnect
// while the connection is degraded.
func (m *Manager) act(ctx context.Context, name string, run func(ctx context.Context) error) error {
	if c := m.opts.Connectivity; c != nil && c.Degraded() {
		m.mu.Lock()
		m.deferred = append(m.deferred, deferredAction{name: name, run: run})
		queued := len(m.deferred)
		m.mu.Unlock()
		c.SetRetryHandler(m.flushDeferred)
		metricActionsDeferred.Add(1)
		log.Info().Str("action", name).Int("queued", queued).Msg("table_action_deferred")
		return ErrActionDeferred
	}
	return run(ctx)
}

func (m *Manager) flushDeferred() {
	m.mu.Lock()
	queue := m.deferred
	m.deferred = nil
	m.mu.Unlock()
	if len(queue) == 0 {
		return
	}
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		for _, a := range queue {
			ctx, cancel := context.WithTimeout(context.Background(), deferredActionTimeout)
			err := a.run(ctx)
			cancel()
			if err != nil {
				log.Warn().Err(err).Str("action", a.name).Msg("table_deferred_action_failed")
				continue
			}
			log.Info().Str("action", a.name).Msg("table_deferred_action_done")
		}
	}()
}

func (m *Manager) requireTable(tableID int64) error {
	if !m.HasTable(tableID) {
		return ErrTableNotFound
	}
	return nil
}

func (m *Manager) Fold(ctx context.Context, tableID int64) error {
	if err := m.requireTable(tableID); err != nil {
		return err
	}
	return m.act(ctx, "fold", func(ctx context.Context) error {
		return m.opts.API.Fold(ctx, tableID)
	})
}

func (m *Manager) CheckOrCall(ctx context.Context, tableID int64) error {
	if err := m.requireTable(tableID); err != nil {
		return err
	}
	return m.act(ctx, "check_call", func(ctx context.Context) error {
		return m.opts.API.CheckOrCall(ctx, tableID)
	})
}

func (m *Manager) BetOrRaise(ctx context.Context, tableID int64, amount int64) error {
	if err := m.requireTable(tableID); err != nil {
		return err
	}
	return m.act(ctx, "bet_raise", func(ctx context.Context) error {
		return m.opts.API.BetOrRaise(ctx, tableID, amount)
	})
}

func (m *Manager) Sit(ctx context.Context, tableID int64, seat int, amount int64) error {
	if err := m.requireTable(tableID); err != nil {
		return err
	}
	return m.act(ctx, "sit", func(ctx context.Context) error {
		return m.opts.API.Sit(ctx, tableID, seat, amount)
	})
}

func (m *Manager) Standup(ctx context.Context, tableID int64) error {
	if err := m.requireTable(tableID); err != nil {
		return err
	}
	return m.act(ctx, "standup", func(ctx context.Context) error {
		return m.opts.API.Standup(ctx, tableID)
	})
}

func (m *Manager) SetSitOut(ctx context.Context, tableID int64, sitOut bool) error {
	if err := m.requireTable(tableID); err != nil {
		return err
	}
	return m.act(ctx, "sit_out", func(ctx context.Context) error {
		return m.opts.API.SetSitOut(ctx, tableID, sitOut)
	})
}

// RegisterTournament registers the account and starts following the
// tournament.
func (m *Manager) RegisterTournament(ctx context.Context, tournamentID int64) error {
	return m.act(ctx, "register", func(ctx context.Context) error {
		if err := m.opts.API.Register(ctx, tournamentID); err != nil {
			return err
		}
		m.mu.Lock()
		t, ok := m.tournaments[tournamentID]
		if !ok {
			t = viewstate.NewTournament(tournamentID)
			m.tournaments[tournamentID] = t
		}
		t.Registered = true
		m.mu.Unlock()
		return m.refreshTournament(ctx, tournamentID)
	})
}

func (m *Manager) CancelRegistration(ctx context.Context, tournamentID int64) error {
	return m.act(ctx, "cancel_registration", func(ctx context.Context) error {
		if err := m.opts.API.CancelRegistration(ctx, tournamentID); err != nil {
			return err
		}
		m.mu.Lock()
		_, ok := m.tournaments[tournamentID]
		delete(m.tournaments, tournamentID)
		m.mu.Unlock()
		if !ok {
			return nil
		}
		return m.invoke(ctx, hub.InvokeUnsubscribeTournament, tournamentID)
	})
}

func (m *Manager) Rebuy(ctx context.Context, tournamentID int64) error {
	return m.act(ctx, "rebuy", func(ctx context.Context) error {
		return m.opts.API.Rebuy(ctx, tournamentID)
	})
}

func (m *Manager) Addon(ctx context.Context, tournamentID int64) error {
	return m.act(ctx, "addon", func(ctx context.Context) error {
		return m.opts.API.Addon(ctx, tournamentID)
	})
}

// DismissTournament stops following a finished tournament.
func (m *Manager) DismissTournament(ctx context.Context, tournamentID int64) error {
	m.mu.Lock()
	t, ok := m.tournaments[tournamentID]
	if ok {
		delete(m.tournaments, tournamentID)
		m.releaseTournamentTablesLocked(t.ID())
	}
	m.mu.Unlock()
	if !ok {
		return ErrTournamentNotFound
	}
	return m.invoke(ctx, hub.InvokeUnsubscribeTournament, tournamentID)
}
