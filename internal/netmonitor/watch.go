package netmonitor

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultCheckInterval = 5 * time.Second

// Check reports whether the network path to the hub is usable.
type Check func(ctx context.Context) error

// DialCheck checks reachability with a plain TCP dial to the hub host.
func DialCheck(hubURL string, timeout time.Duration) (Check, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return nil, fmt.Errorf("parse hub url: %w", err)
	}
	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "wss", "https":
			host = net.JoinHostPort(u.Hostname(), "443")
		default:
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}
	d := net.Dialer{Timeout: timeout}
	return func(ctx context.Context) error {
		conn, err := d.DialContext(ctx, "tcp", host)
		if err != nil {
			return err
		}
		return conn.Close()
	}, nil
}

// Watch runs check every interval and reports online/offline transitions to
// the monitor until ctx is done.
func (m *Monitor) Watch(ctx context.Context, check Check, interval time.Duration) {
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	failures := 0
	for {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		err := check(checkCtx)
		cancel()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			failures++
			metricCheckFailures.Add(1)
			log.Debug().Err(err).Int("failures", failures).Msg("network_check_failed")
			// Offline only after two consecutive misses.
			if failures >= 2 {
				m.OnOffline()
			}
		} else {
			failures = 0
			m.OnOnline()
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
