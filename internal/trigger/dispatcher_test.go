package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dossier-io/dossier/internal/store"
)

type memQueue struct {
	jobs       []store.LearningJob
	dispatched map[string]bool
	listErr    error
}

func newMemQueue(jobs ...store.LearningJob) *memQueue {
	return &memQueue{jobs: jobs, dispatched: make(map[string]bool)}
}

func (q *memQueue) ListPendingLearningJobs(_ context.Context, limit int) ([]store.LearningJob, error) {
	if q.listErr != nil {
		return nil, q.listErr
	}
	var pending []store.LearningJob
	for _, j := range q.jobs {
		if !q.dispatched[j.ID] {
			pending = append(pending, j)
		}
		if limit > 0 && len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (q *memQueue) MarkLearningJobsDispatched(_ context.Context, ids []string) error {
	for _, id := range ids {
		q.dispatched[id] = true
	}
	return nil
}

type recordingSink struct {
	batches [][]store.LearningJob
	err     error
}

func (s *recordingSink) Deliver(_ context.Context, jobs []store.LearningJob) error {
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, jobs)
	return nil
}

func job(id, jobType string) store.LearningJob {
	return store.LearningJob{ID: id, RunID: "run_abc", JobType: jobType}
}

func TestFlushOnceDeliversAndMarks(t *testing.T) {
	queue := newMemQueue(job("job_1", "indexing_ticket"), job("job_2", "guardrail_fr_judge_analytics"))
	sink := &recordingSink{}
	d, err := NewDispatcher(queue, sink, "")
	require.NoError(t, err)

	n, err := d.FlushOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, sink.batches, 1)
	assert.True(t, queue.dispatched["job_1"])
	assert.True(t, queue.dispatched["job_2"])

	n, err = d.FlushOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, sink.batches, 1)
}

func TestFlushOnceSinkFailureLeavesJobsPending(t *testing.T) {
	queue := newMemQueue(job("job_1", "indexing_ticket"))
	sink := &recordingSink{err: errors.New("endpoint down")}
	d, err := NewDispatcher(queue, sink, "")
	require.NoError(t, err)

	_, err = d.FlushOnce(context.Background())
	require.Error(t, err)
	assert.False(t, queue.dispatched["job_1"])

	sink.err = nil
	n, err := d.FlushOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFlushOnceEmptyQueueSkipsSink(t *testing.T) {
	sink := &recordingSink{err: errors.New("should not be called")}
	d, err := NewDispatcher(newMemQueue(), sink, "")
	require.NoError(t, err)

	n, err := d.FlushOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNewDispatcherRejectsBadSchedule(t *testing.T) {
	_, err := NewDispatcher(newMemQueue(), LogSink{}, "not a cron expression")
	assert.Error(t, err)
}

func TestNewDispatcherRegistersEntry(t *testing.T) {
	d, err := NewDispatcher(newMemQueue(), LogSink{}, "0 3 * * *")
	require.NoError(t, err)
	assert.Equal(t, 1, d.Entries())
}

func TestWebhookSinkPostsBatch(t *testing.T) {
	var received webhookBatch
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL)
	err := sink.Deliver(context.Background(), []store.LearningJob{job("job_1", "indexing_ticket")})
	require.NoError(t, err)
	require.Len(t, received.Jobs, 1)
	assert.Equal(t, "indexing_ticket", received.Jobs[0].JobType)
}

func TestWebhookSinkRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL)
	err := sink.Deliver(context.Background(), []store.LearningJob{job("job_1", "indexing_ticket")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestLogSinkDeliversWithoutError(t *testing.T) {
	err := LogSink{}.Deliver(context.Background(), []store.LearningJob{job("job_1", "indexing_ticket")})
	assert.NoError(t, err)
}
