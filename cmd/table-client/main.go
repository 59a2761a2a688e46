package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"table-client/internal/api"
	"table-client/internal/app/lifecycle"
	"table-client/internal/auth"
	"table-client/internal/config"
	"table-client/internal/connection"
	"table-client/internal/hub"
	"table-client/internal/logging"
	"table-client/internal/netmonitor"
	"table-client/internal/store"
	"table-client/internal/tables"
	httptransport "table-client/internal/transport/http"

	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.LoadApp()
	if err != nil {
		panic(err)
	}
	logging.Init(cfg.Log)
	cc := cfg.Client

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := auth.New(cc.AuthToken)
	client, err := api.NewClient(cc.APIBaseURL, ms(cc.APITimeoutMS), a)
	if err != nil {
		log.Fatal().Err(err).Msg("api client init failed")
	}

	selection, closeStore := openSelectionStore(cc.PostgresDSN)
	defer closeStore()

	coord := connection.NewCoordinator(connection.Options{
		URL:             cc.HubURL,
		Auth:            a,
		Builder:         hub.WebsocketBuilder,
		DefaultAttempts: cc.ConnectMaxAttempts,
		RetryDelay:      ms(cc.ConnectRetryDelayMS),
		MaxRetryDelay:   ms(cc.ConnectRetryMaxDelayMS),
		MaxLifetime:     time.Duration(cc.ConnectionMaxLifetimeMin) * time.Minute,
		Keepalive:       ms(cc.HubKeepaliveMS),
	})

	svc := lifecycle.New(lifecycle.Options{
		Coordinator:     coord,
		ConnectAttempts: cc.ConnectMaxAttempts,
		Tables: tables.Options{
			MaxOpenTables:           cc.MaxOpenTables,
			ReserveTournamentTables: cc.ReserveTournamentTables,
			UIMode:                  cc.UIMode,
			Profile:                 cc.Profile,
			API:                     client,
			Store:                   selection,
		},
	})
	defer svc.Stop()

	if check, err := netmonitor.DialCheck(cc.HubURL, 2*time.Second); err != nil {
		log.Warn().Err(err).Msg("online_check_disabled")
	} else {
		go svc.Monitor().Watch(ctx, check, ms(cc.OnlineCheckIntervalMS))
	}

	// A failed connect stays on offer as a reconnect through the status API.
	if err := svc.Connect(ctx); err != nil {
		log.Error().Err(err).Str("hub_url", cc.HubURL).Msg("hub_connect_failed")
	}

	r := httptransport.NewRouter(httptransport.Deps{
		Conn:    coord,
		Monitor: svc.Monitor(),
		Tables:  svc.Tables(),
		Auth:    svc,
	})
	httptransport.LogRoutes(r)
	server := &http.Server{
		Addr:              cc.StatusAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cc.StatusAddr).Msg("status http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("status server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func openSelectionStore(dsn string) (tables.SelectionStore, func()) {
	if dsn == "" {
		log.Info().Msg("selection_store_memory")
		return store.NewMemory(), func() {}
	}
	st, err := store.New(dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}
	if err := st.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("db ping failed")
	}
	return st, st.Close
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
