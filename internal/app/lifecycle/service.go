// Package lifecycle wires the hub coordinator, the connectivity monitor and
// the table manager together and owns the process-level recovery actions:
// reconnect, full reload and token rotation.
package lifecycle

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"table-client/internal/auth"
	"table-client/internal/connection"
	"table-client/internal/netmonitor"
	"table-client/internal/tables"
)

// Authenticator is implemented by REST clients whose credential can be
// rotated in place.
type Authenticator interface {
	SetAuth(a auth.Context)
}

type Options struct {
	Coordinator     *connection.Coordinator
	Overlay         netmonitor.Overlay
	ConnectAttempts int
	// Tables is completed with the coordinator and the monitor.
	Tables tables.Options
}

type Service struct {
	coord    *connection.Coordinator
	monitor  *netmonitor.Monitor
	manager  *tables.Manager
	api      tables.API
	attempts int

	ctx    context.Context
	cancel context.CancelFunc
	detach func()

	mu      sync.Mutex
	stopped bool
	bg      sync.WaitGroup
}

func New(opts Options) *Service {
	if opts.ConnectAttempts <= 0 {
		opts.ConnectAttempts = connection.DefaultMaxAttempts
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		coord:    opts.Coordinator,
		api:      opts.Tables.API,
		attempts: opts.ConnectAttempts,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.monitor = netmonitor.New(opts.Overlay, s.Reconnect, s.Reload)
	s.detach = s.monitor.Attach(s.coord.Subscribe)

	topts := opts.Tables
	topts.Hub = s.coord
	topts.Alarm = s.monitor
	topts.Connectivity = s.monitor
	s.manager = tables.New(topts)
	s.manager.Start()
	return s
}

func (s *Service) Monitor() *netmonitor.Monitor { return s.monitor }

func (s *Service) Tables() *tables.Manager { return s.manager }

func (s *Service) Coordinator() *connection.Coordinator { return s.coord }

// Connect establishes the hub session and hydrates the held tables and
// tournaments. A failed establish has already been surfaced through the
// monitor.
func (s *Service) Connect(ctx context.Context) error {
	if _, err := s.coord.Establish(ctx, s.attempts); err != nil {
		return err
	}
	if err := s.manager.Hydrate(ctx); err != nil {
		log.Warn().Err(err).Msg("hydrate_partial")
	}
	return nil
}

// Reconnect replaces the hub session in the background. Success is
// announced as a reconnect, which rehydrates the tables.
func (s *Service) Reconnect() {
	s.background("reconnect_failed", func(ctx context.Context) error {
		_, err := s.coord.Reconnect(ctx)
		return err
	})
}

// Reload starts over as a fresh process would: the session is dropped,
// local table state and monitor flags are cleared, and everything is
// connected and hydrated again.
func (s *Service) Reload() {
	s.background("reload_failed", s.reload)
}

func (s *Service) reload(ctx context.Context) error {
	log.Info().Msg("client_reload")
	s.coord.Terminate(true)
	s.manager.Reset()
	s.monitor.Reset()
	return s.Connect(ctx)
}

// RotateToken switches both the REST client and future hub sessions to a
// new credential. The live session keeps the one it was built with.
func (s *Service) RotateToken(token string) {
	a := auth.New(token)
	s.coord.SetAuth(a)
	if rotator, ok := s.api.(Authenticator); ok {
		rotator.SetAuth(a)
	}
	log.Info().Bool("anonymous", a.Anonymous()).Msg("auth_token_rotated")
}

func (s *Service) background(failure string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.bg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.bg.Done()
		if err := fn(s.ctx); err != nil && s.ctx.Err() == nil {
			log.Warn().Err(err).Msg(failure)
		}
	}()
}

// Stop cancels background recovery, detaches the monitor and the manager
// and terminates the hub session.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.coord.Cancel()
	s.bg.Wait()
	s.detach()
	s.manager.Stop()
	s.coord.Terminate(true)
}
