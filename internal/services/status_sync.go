package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"smsrelay/internal/apperr"
	"smsrelay/internal/events"
	"smsrelay/internal/models"
	"smsrelay/internal/provider"
	"smsrelay/internal/store"
	"smsrelay/internal/worker"
)

// Sources of a status report.
const (
	SourcePush = "push"
	SourcePull = "pull"
)

// HealthChecker says whether provider callbacks currently reach the service.
type HealthChecker interface {
	CallbacksHealthy() bool
}

// Publisher emits domain events.
type Publisher interface {
	Publish(topic events.Topic, payload any) (events.Event, int)
}

// Subscriber registers event handlers.
type Subscriber interface {
	Subscribe(topic events.Topic, name string, fn events.Handler)
}

// Scheduler runs a job periodically.
type Scheduler interface {
	Every(ctx context.Context, interval time.Duration, name string, job worker.Job)
}

// SweepResult summarises one pull pass.
type SweepResult struct {
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Skipped    bool      `json:"skipped"` // callbacks were healthy
	Checked    int       `json:"checked"`
	Updated    int       `json:"updated"`
	Failed     int       `json:"failed"`
}

// StatusSynchronizer keeps local message status in line with the provider, from pushed
// callbacks and, while callbacks are unreachable, by polling.
type StatusSynchronizer struct {
	messages store.MessageStore
	provider provider.Provider
	health   HealthChecker
	bus      Publisher
	interval time.Duration
	now      func() time.Time

	// serialises read-compare-write so a webhook and a sweep cannot interleave
	applyMu sync.Mutex

	sweeping atomic.Bool
	lastMu   sync.RWMutex
	last     SweepResult
}

func NewStatusSynchronizer(messages store.MessageStore, p provider.Provider, health HealthChecker, bus Publisher, interval time.Duration) *StatusSynchronizer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &StatusSynchronizer{
		messages: messages,
		provider: p,
		health:   health,
		bus:      bus,
		interval: interval,
		now:      time.Now,
	}
}

// Apply updates the stored message matching report.ID when the reported status is a
// forward move. It reports whether anything was written.
func (s *StatusSynchronizer) Apply(ctx context.Context, report *provider.Message, source string) (bool, error) {
	if report == nil || report.ID == "" {
		return false, apperr.InvalidRequest("status report without resource id")
	}

	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	m, err := s.messages.GetByResourceID(ctx, report.ID)
	if err != nil {
		return false, err
	}

	next := report.Status()
	if next == m.Status {
		log.Debug().Str("resourceID", report.ID).Str("status", string(next)).Str("source", source).Msg("Status unchanged, nothing to apply")
		return false, nil
	}
	if !m.Status.CanTransition(next) {
		log.Warn().
			Str("messageID", m.ID).
			Str("resourceID", report.ID).
			Str("current", string(m.Status)).
			Str("reported", string(next)).
			Str("source", source).
			Msg("Ignoring out-of-order status report")
		return false, nil
	}

	prev := m.Status
	m.Status = next
	if next.IsFailure() {
		m.ErrorCode = report.ErrorCode
		m.ErrorMessage = report.ErrorMessage
	}
	if next == models.StatusDelivered && m.DeliveredAt == nil {
		if report.DeliveredAt != nil {
			m.DeliveredAt = models.Ptr(report.DeliveredAt.UTC())
		} else {
			m.DeliveredAt = models.Ptr(s.now().UTC())
		}
	}
	refreshDetails(m, report)

	if err := s.messages.Update(ctx, m); err != nil {
		return false, fmt.Errorf("persist status change: %w", err)
	}

	log.Info().
		Str("messageID", m.ID).
		Str("resourceID", report.ID).
		Str("from", string(prev)).
		Str("to", string(next)).
		Str("source", source).
		Msg("Message status updated")

	s.bus.Publish(events.TopicStatusChanged, events.StatusChanged{
		MessageID:      m.ID,
		ResourceID:     report.ID,
		ConversationID: m.ConversationID,
		Previous:       prev,
		Current:        next,
		ErrorCode:      m.ErrorCode,
		ErrorMessage:   m.ErrorMessage,
		Source:         source,
	})
	return true, nil
}

// refreshDetails copies billing and content details the provider only knows later.
func refreshDetails(m *models.Message, report *provider.Message) {
	if report.Price != nil {
		m.Price = *report.Price
	}
	if report.PriceUnit != nil {
		m.Currency = *report.PriceUnit
	}
	if report.NumSegments > 0 {
		m.NumSegments = report.NumSegments
	}
	if report.NumMedia > 0 {
		m.NumMedia = report.NumMedia
	}
	if len(report.MediaURLs) > 0 && len(m.Media) == 0 {
		m.Media = report.MediaURLs
	}
	if m.From == nil && report.From != nil {
		m.From = report.From
	}
}

// Attach subscribes the push path to reported statuses.
func (s *StatusSynchronizer) Attach(bus Subscriber) {
	bus.Subscribe(events.TopicStatusReported, "status-sync", func(ctx context.Context, ev events.Event) {
		payload, ok := ev.Payload.(events.StatusReported)
		if !ok || payload.Report == nil {
			log.Error().Str("eventID", ev.ID).Msg("Unexpected payload for StatusReported")
			return
		}
		if _, err := s.Apply(ctx, payload.Report, SourcePush); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				log.Warn().Str("resourceID", payload.Report.ID).Msg("Status callback for unknown message")
				return
			}
			log.Error().Err(err).Str("resourceID", payload.Report.ID).Msg("Failed to apply status callback")
		}
	})
}

// Sweep polls the provider for every pending message, unless callbacks are healthy.
// Failures are counted per message and never abort the pass.
func (s *StatusSynchronizer) Sweep(ctx context.Context) (SweepResult, error) {
	res := SweepResult{StartedAt: s.now().UTC()}
	defer func() {
		res.FinishedAt = s.now().UTC()
		s.lastMu.Lock()
		s.last = res
		s.lastMu.Unlock()
	}()

	if s.health.CallbacksHealthy() {
		res.Skipped = true
		return res, nil
	}

	pending, err := s.messages.ListByStatuses(ctx, models.PendingStatuses)
	if err != nil {
		return res, fmt.Errorf("list pending messages: %w", err)
	}

	for _, m := range pending {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if m.ResourceID == nil || *m.ResourceID == "" {
			continue
		}
		res.Checked++

		remote, err := s.provider.FetchByID(ctx, *m.ResourceID)
		if err != nil {
			res.Failed++
			log.Error().Err(err).Str("messageID", m.ID).Str("resourceID", *m.ResourceID).Msg("Sweep: provider fetch failed")
			continue
		}
		if remote.ID == "" {
			remote.ID = *m.ResourceID
		}
		if remote.Status() == m.Status {
			continue
		}

		changed, err := s.Apply(ctx, remote, SourcePull)
		if err != nil {
			res.Failed++
			log.Error().Err(err).Str("messageID", m.ID).Msg("Sweep: applying status failed")
			continue
		}
		if changed {
			res.Updated++
		}
	}

	log.Info().
		Int("pending", len(pending)).
		Int("checked", res.Checked).
		Int("updated", res.Updated).
		Int("failed", res.Failed).
		Msg("Status sweep finished")
	return res, nil
}

// Run schedules Sweep every interval. Overlapping passes are skipped.
func (s *StatusSynchronizer) Run(ctx context.Context, sched Scheduler) {
	log.Info().Dur("interval", s.interval).Msg("Status sweep scheduled")
	sched.Every(ctx, s.interval, "status-sweep", func(context.Context) {
		if !s.sweeping.CompareAndSwap(false, true) {
			log.Debug().Msg("Previous status sweep still running, skipping")
			return
		}
		defer s.sweeping.Store(false)

		if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Status sweep failed")
		}
	})
}

// LastSweep returns the result of the most recent pass.
func (s *StatusSynchronizer) LastSweep() SweepResult {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.last
}
