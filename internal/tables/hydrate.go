package tables

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"table-client/internal/dedup"
	"table-client/internal/hub"
	"table-client/internal/viewstate"
)

const (
	backgroundTimeout = 30 * time.Second
	refreshParallel   = 4
)

// failures collects per-item errors of a fan-out. Items never cancel each
// other.
type failures struct {
	mu   sync.Mutex
	errs []error
}

func (f *failures) add(err error) {
	f.mu.Lock()
	f.errs = append(f.errs, err)
	f.mu.Unlock()
}

func (f *failures) join() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return errors.Join(f.errs...)
}

// Hydrate discovers the tables and tournaments the account is involved in
// and loads each of them. A failing item is logged and reported in the
// joined error without blocking the others.
func (m *Manager) Hydrate(ctx context.Context) error {
	m.mu.Lock()
	m.hydrated = true
	m.mu.Unlock()

	var fails failures
	var g errgroup.Group

	g.Go(func() error {
		ids, err := m.discoverTables(ctx)
		if err != nil {
			metricHydrationFailures.Add(1)
			log.Warn().Err(err).Str("ui_mode", m.opts.UIMode).Msg("tables_discovery_failed")
			fails.add(err)
			return nil
		}
		for _, id := range ids {
			if err := m.openTable(ctx, id, false); err != nil {
				metricHydrationFailures.Add(1)
				log.Warn().Err(err).Int64("table_id", id).Msg("table_hydrate_failed")
				fails.add(fmt.Errorf("table %d: %w", id, err))
			}
		}
		return nil
	})

	g.Go(func() error {
		mine, err := m.opts.API.MyTournaments(ctx)
		if err != nil {
			metricHydrationFailures.Add(1)
			log.Warn().Err(err).Msg("tournaments_discovery_failed")
			fails.add(err)
			return nil
		}
		var inner errgroup.Group
		inner.SetLimit(refreshParallel)
		for _, s := range mine {
			id := s.ID
			m.mu.Lock()
			if _, ok := m.tournaments[id]; !ok {
				tr := viewstate.NewTournament(id)
				tr.Registered = true
				m.tournaments[id] = tr
			}
			m.mu.Unlock()
			inner.Go(func() error {
				if err := m.refreshTournament(ctx, id); err != nil {
					metricHydrationFailures.Add(1)
					log.Warn().Err(err).Int64("tournament_id", id).Msg("tournament_hydrate_failed")
					fails.add(fmt.Errorf("tournament %d: %w", id, err))
				}
				return nil
			})
		}
		return inner.Wait()
	})

	_ = g.Wait()
	err := fails.join()
	m.mu.Lock()
	log.Info().
		Int("tables", len(m.tables)).
		Int("tournaments", len(m.tournaments)).
		Bool("partial", err != nil).
		Msg("tables_hydrated")
	m.mu.Unlock()
	return err
}

func (m *Manager) discoverTables(ctx context.Context) ([]int64, error) {
	if m.opts.UIMode == UIModeSingle {
		if m.opts.Store == nil {
			return nil, nil
		}
		id, ok, err := m.opts.Store.LastSelectedTable(ctx, m.opts.Profile)
		if err != nil || !ok {
			return nil, err
		}
		return []int64{id}, nil
	}
	sitting, err := m.opts.API.SittingTables(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(sitting))
	for _, t := range sitting {
		ids = append(ids, t.ID)
	}
	return ids, nil
}

// Rehydrate re-pulls every held table and tournament from the server and
// re-subscribes their streams, each exactly once.
func (m *Manager) Rehydrate(ctx context.Context) error {
	metricRehydrations.Add(1)
	m.mu.Lock()
	tableIDs := append([]int64(nil), m.order...)
	tournamentIDs := make([]int64, 0, len(m.tournaments))
	for id := range m.tournaments {
		tournamentIDs = append(tournamentIDs, id)
	}
	m.mu.Unlock()

	var fails failures
	var g errgroup.Group
	g.SetLimit(refreshParallel)
	for _, id := range tableIDs {
		g.Go(func() error {
			if err := m.refreshTable(ctx, id); err != nil {
				log.Warn().Err(err).Int64("table_id", id).Msg("table_rehydrate_failed")
				fails.add(fmt.Errorf("table %d: %w", id, err))
			}
			return nil
		})
	}
	for _, id := range tournamentIDs {
		g.Go(func() error {
			if err := m.refreshTournament(ctx, id); err != nil {
				log.Warn().Err(err).Int64("tournament_id", id).Msg("tournament_rehydrate_failed")
				fails.add(fmt.Errorf("tournament %d: %w", id, err))
			}
			return nil
		})
	}
	_ = g.Wait()
	log.Info().Int("tables", len(tableIDs)).Int("tournaments", len(tournamentIDs)).Msg("tables_rehydrated")
	return fails.join()
}

// refreshTable loads the server view of a held table and connects its
// stream. A table closed meanwhile is skipped.
func (m *Manager) refreshTable(ctx context.Context, tableID int64) error {
	detail, err := m.opts.API.Table(ctx, tableID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	t, ok := m.tables[tableID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	t.Apply(detail)
	m.trackers[tableID] = dedup.NewTracker(dedup.DefaultCapacity)
	m.mu.Unlock()
	return m.invoke(ctx, hub.InvokeConnectToTable, tableID)
}

func (m *Manager) refreshTournament(ctx context.Context, tournamentID int64) error {
	detail, err := m.opts.API.Tournament(ctx, tournamentID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	t, ok := m.tournaments[tournamentID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	t.Apply(detail)
	m.mu.Unlock()
	return m.invoke(ctx, hub.InvokeSubscribeTournament, tournamentID)
}

func sortTournaments(list []viewstate.TournamentSnapshot) {
	slices.SortFunc(list, func(a, b viewstate.TournamentSnapshot) int {
		return cmp.Compare(a.ID, b.ID)
	})
}
