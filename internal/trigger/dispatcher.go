// Package trigger drains pending learning jobs on a cron schedule and
// delivers them to a downstream sink (indexing webhook or log).
package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/dossier-io/dossier/internal/store"
)

// DefaultSchedule drains the queue every five minutes. Cron expressions
// use the standard 5-field format: minute hour day-of-month month
// day-of-week.
const DefaultSchedule = "*/5 * * * *"

// DefaultBatchSize bounds how many jobs one flush hands to the sink.
const DefaultBatchSize = 50

// JobQueue is the store surface the dispatcher drains.
type JobQueue interface {
	ListPendingLearningJobs(ctx context.Context, limit int) ([]store.LearningJob, error)
	MarkLearningJobsDispatched(ctx context.Context, ids []string) error
}

// Sink receives a batch of learning jobs. Delivery must be all-or-nothing:
// a returned error leaves the whole batch pending for the next flush.
type Sink interface {
	Deliver(ctx context.Context, jobs []store.LearningJob) error
}

// Dispatcher flushes pending learning jobs to a sink on a cron schedule.
type Dispatcher struct {
	cron      *cron.Cron
	queue     JobQueue
	sink      Sink
	batchSize int
}

// NewDispatcher creates a dispatcher draining queue into sink on the
// given 5-field cron schedule. Empty schedule uses DefaultSchedule.
func NewDispatcher(queue JobQueue, sink Sink, schedule string) (*Dispatcher, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	d := &Dispatcher{
		cron:      cron.New(),
		queue:     queue,
		sink:      sink,
		batchSize: DefaultBatchSize,
	}
	_, err := d.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := d.FlushOnce(ctx); err != nil {
			log.Error().Err(err).Msg("learning_job_flush_failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("registering dispatch cron %q: %w", schedule, err)
	}
	return d, nil
}

// FlushOnce drains one batch of pending jobs. It returns the number of
// jobs delivered and marked dispatched.
func (d *Dispatcher) FlushOnce(ctx context.Context) (int, error) {
	jobs, err := d.queue.ListPendingLearningJobs(ctx, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("listing pending learning jobs: %w", err)
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	if err := d.sink.Deliver(ctx, jobs); err != nil {
		return 0, fmt.Errorf("delivering learning jobs: %w", err)
	}

	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	if err := d.queue.MarkLearningJobsDispatched(ctx, ids); err != nil {
		return 0, fmt.Errorf("marking learning jobs dispatched: %w", err)
	}

	log.Info().
		Int("job_count", len(jobs)).
		Msg("learning_jobs_dispatched")
	return len(jobs), nil
}

// Start begins the cron loop.
func (d *Dispatcher) Start() {
	d.cron.Start()
}

// Stop halts the cron loop and waits for an in-flight flush to finish.
func (d *Dispatcher) Stop() {
	ctx := d.cron.Stop()
	<-ctx.Done()
}

// Entries returns the number of registered cron entries (for testing).
func (d *Dispatcher) Entries() int {
	return len(d.cron.Entries())
}

// LogSink writes each job to the structured log. It is the default sink
// when no indexing webhook is configured.
type LogSink struct{}

// Deliver logs each job at info level.
func (LogSink) Deliver(_ context.Context, jobs []store.LearningJob) error {
	for _, j := range jobs {
		log.Info().
			Str("job_id", j.ID).
			Str("run_id", j.RunID).
			Str("job_type", j.JobType).
			Msg("learning_job")
	}
	return nil
}

// WebhookSink POSTs batches of jobs as JSON to an indexing endpoint.
type WebhookSink struct {
	URL    string
	Client *http.Client
}

// NewWebhookSink creates a sink posting to url with a 30s timeout.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		URL:    url,
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

type webhookBatch struct {
	Jobs []store.LearningJob `json:"jobs"`
}

// Deliver posts the batch. Non-2xx responses count as delivery failure.
func (s *WebhookSink) Deliver(ctx context.Context, jobs []store.LearningJob) error {
	body, err := json.Marshal(webhookBatch{Jobs: jobs})
	if err != nil {
		return fmt.Errorf("encoding job batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("posting job batch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("job webhook returned status %d", resp.StatusCode)
	}
	return nil
}
