// Package health tracks whether the provider can reach our status callback endpoint.
package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"smsrelay/pkg/httputil"
	"smsrelay/pkg/logger"
)

// Monitor probes the public health URL and holds the result.
// The flag starts false, so the pull path is active until the first successful probe.
type Monitor struct {
	client   *resty.Client
	url      string
	interval time.Duration
	healthy  atomic.Bool
	lastAt   atomic.Int64 // unix nanos of the last probe
	log      zerolog.Logger
}

// NewMonitor creates a monitor for probeURL. An empty probeURL means callbacks can never
// arrive, and the monitor stays unhealthy.
func NewMonitor(probeURL string, interval, timeout time.Duration) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Monitor{
		client:   httputil.NewRestyClient("", timeout),
		url:      probeURL,
		interval: interval,
		log:      logger.With("health"),
	}
}

// CallbacksHealthy reports the result of the most recent probe.
func (m *Monitor) CallbacksHealthy() bool { return m.healthy.Load() }

// LastProbe returns when the last probe finished, zero if none has run.
func (m *Monitor) LastProbe() time.Time {
	ns := m.lastAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Probe performs one check and stores the result. Any non-2xx answer or transport error
// marks callbacks unhealthy.
func (m *Monitor) Probe(ctx context.Context) bool {
	ok := m.check(ctx)
	prev := m.healthy.Swap(ok)
	m.lastAt.Store(time.Now().UnixNano())

	if prev != ok {
		m.log.Info().Str("url", m.url).Bool("callbacksHealthy", ok).Msg("Callback reachability changed")
	} else {
		m.log.Debug().Str("url", m.url).Bool("callbacksHealthy", ok).Msg("Health probe finished")
	}
	return ok
}

func (m *Monitor) check(ctx context.Context) bool {
	if m.url == "" {
		return false
	}
	resp, err := m.client.R().SetContext(ctx).Get(m.url)
	if err != nil {
		m.log.Warn().Err(err).Str("url", m.url).Msg("Health probe failed")
		return false
	}
	return resp.StatusCode() >= 200 && resp.StatusCode() < 300
}

// Run probes immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.Probe(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}
