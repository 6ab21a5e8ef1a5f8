// Package progress serializes job state transitions into per-job ordered
// event streams with liveness heartbeats. Delivery is best effort: a slow
// consumer loses events rather than blocking the generation pipeline, and
// consumers are expected to reconcile against the job snapshot endpoint.
package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/julianshen/repowiki/internal/job"
)

// Event is one progress update for a job. Heartbeat events carry no state
// change and exist only to prove the channel is alive; consumers must
// ignore them for state purposes.
type Event struct {
	JobID           string         `json:"job_id"`
	Status          job.Status     `json:"status,omitempty"`
	CurrentPhase    job.Phase      `json:"current_phase"`
	ProgressPercent int            `json:"progress_percent"`
	Message         string         `json:"message,omitempty"`
	PageID          string         `json:"page_id,omitempty"`
	PageTitle       string         `json:"page_title,omitempty"`
	PageStatus      job.PageStatus `json:"page_status,omitempty"`
	CompletedPages  int            `json:"completed_pages"`
	FailedPages     int            `json:"failed_pages"`
	TotalPages      int            `json:"total_pages"`
	Error           string         `json:"error,omitempty"`
	Heartbeat       bool           `json:"heartbeat,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
}

// Terminal reports whether the event announces a terminal job status.
func (e Event) Terminal() bool {
	return !e.Heartbeat && e.Status.Terminal()
}

const subscriberBuffer = 64

type subscriber struct {
	jobID string
	ch    chan Event
}

// Broker fans job events out to per-job subscribers.
type Broker struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	logger *slog.Logger
}

// NewBroker creates an event broker.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subs:   make(map[*subscriber]struct{}),
		logger: logger,
	}
}

// Subscribe registers a consumer for one job's events. The returned cancel
// function must be called when the consumer goes away; it closes the
// channel.
func (b *Broker) Subscribe(jobID string) (<-chan Event, func()) {
	sub := &subscriber{jobID: jobID, ch: make(chan Event, subscriberBuffer)}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish delivers an event to every subscriber of its job. Full
// subscriber buffers drop the event; events are not exactly-once and
// consumers reconcile via the snapshot endpoint.
func (b *Broker) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if sub.jobID != evt.JobID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.logger.Debug("dropping progress event for slow consumer", "job_id", evt.JobID)
		}
	}
}

// StartHeartbeats emits a heartbeat to every subscriber at the given
// interval until ctx is cancelled.
func (b *Broker) StartHeartbeats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.broadcastHeartbeat()
			}
		}
	}()
}

func (b *Broker) broadcastHeartbeat() {
	now := time.Now()
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		select {
		case sub.ch <- Event{JobID: sub.jobID, Heartbeat: true, Timestamp: now}:
		default:
		}
	}
}

// SubscriberCount reports how many consumers are attached to a job.
func (b *Broker) SubscriberCount(jobID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for sub := range b.subs {
		if sub.jobID == jobID {
			n++
		}
	}
	return n
}

// SnapshotEvent builds (without publishing) the event for a snapshot, used
// to seed a new subscriber with the job's current state.
func (b *Broker) SnapshotEvent(snap job.Snapshot, msg string) Event {
	return Event{
		JobID:           snap.ID,
		Status:          snap.Status,
		CurrentPhase:    snap.CurrentPhase,
		ProgressPercent: snap.ProgressPercent,
		Message:         msg,
		CompletedPages:  snap.CompletedPages,
		FailedPages:     snap.FailedPages,
		TotalPages:      snap.TotalPages,
		Error:           snap.ErrorMessage,
		Timestamp:       time.Now(),
	}
}

// JobEvent implements job.Sink, translating a machine state change into a
// published event.
func (b *Broker) JobEvent(snap job.Snapshot, msg string, page *job.Page) {
	evt := Event{
		JobID:           snap.ID,
		Status:          snap.Status,
		CurrentPhase:    snap.CurrentPhase,
		ProgressPercent: snap.ProgressPercent,
		Message:         msg,
		CompletedPages:  snap.CompletedPages,
		FailedPages:     snap.FailedPages,
		TotalPages:      snap.TotalPages,
		Error:           snap.ErrorMessage,
		Timestamp:       time.Now(),
	}
	if page != nil {
		evt.PageID = page.PageID
		evt.PageTitle = page.Title
		evt.PageStatus = page.Status
	}
	b.Publish(evt)
}
