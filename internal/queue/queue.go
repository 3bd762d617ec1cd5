// Package queue implements the asynchronous job queue (component K):
// submit/poll/stats over a strict-priority FIFO worker pool, the way the
// teacher's distributed-sort manager runs a fixed worker pool against a
// shared unit of work, generalized here to a single-process priority heap.
/*
 * Copyright (c) 2024, blockforge authors. All rights reserved.
 */
package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/blockforge/compiler/internal/metrics"
	"github.com/blockforge/compiler/internal/xlog"
)

// Priority is a job's scheduling class. Lower values run first.
type Priority int

const (
	High Priority = iota
	Normal
	Low
)

// Status is a job's lifecycle state (§4.7: no reverse transitions).
type Status string

const (
	Pending   Status = "pending"
	Running   Status = "running"
	Completed Status = "completed"
	Failed    Status = "failed"
	Cancelled Status = "cancelled"
)

// DefaultResultTTL is how long a completed/failed/cancelled job's result
// stays retrievable via Poll before PruneExpired evicts it.
const DefaultResultTTL = 24 * time.Hour

// DefaultWorkers is the worker pool size when Options.Workers is unset.
const DefaultWorkers = 4

// DefaultStatsWindow bounds the rolling window Stats aggregates over.
const DefaultStatsWindow = 5 * time.Minute

// Handler executes one job's payload and returns its result.
type Handler func(ctx context.Context, kind string, payload interface{}) (interface{}, error)

// Job is one unit of queued work and its current lifecycle state.
type Job struct {
	ID          string      `json:"id"`
	Kind        string      `json:"kind"`
	Payload     interface{} `json:"payload,omitempty"`
	Priority    Priority    `json:"priority"`
	Status      Status      `json:"status"`
	Result      interface{} `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
	SubmittedAt int64       `json:"submitted_at"`
	StartedAt   int64       `json:"started_at,omitempty"`
	CompletedAt int64       `json:"completed_at,omitempty"`
}

// Stats is the aggregated rolling-window snapshot returned by Queue.Stats.
type Stats struct {
	Pending        int     `json:"pending"`
	Running        int     `json:"running"`
	Completed      int     `json:"completed"`
	Failed         int     `json:"failed"`
	Cancelled      int     `json:"cancelled"`
	ProcessingRate float64 `json:"processing_rate"`
	QueueLagMS     int64   `json:"queue_lag_ms"`
	History        []Job   `json:"history,omitempty"`
}

// Options configures a Queue.
type Options struct {
	Workers     int
	ResultTTL   time.Duration
	StatsWindow time.Duration
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return DefaultWorkers
}

func (o Options) resultTTL() time.Duration {
	if o.ResultTTL > 0 {
		return o.ResultTTL
	}
	return DefaultResultTTL
}

func (o Options) statsWindow() time.Duration {
	if o.StatsWindow > 0 {
		return o.StatsWindow
	}
	return DefaultStatsWindow
}

// heapItem is one pending job on the priority heap.
type heapItem struct {
	job *Job
	seq int64
}

type jobHeap []*heapItem

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority < h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x interface{}) {
	*h = append(*h, x.(*heapItem))
}
func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// completion records a finished job for the processing-rate window.
type completion struct {
	at     time.Time
	status Status
}

// Queue is a single-process, strict-priority FIFO job queue.
type Queue struct {
	opts    Options
	handler Handler

	mu          sync.Mutex
	cond        *sync.Cond
	pending     jobHeap
	jobs        map[string]*Job
	nextSeq     int64
	completions []completion
	cancel      map[string]context.CancelFunc

	closed bool
	wg     sync.WaitGroup
}

// New constructs a Queue and starts its worker pool. handler runs each
// job's payload; Stop drains workers and must be called to release them.
func New(handler Handler, opts Options) *Queue {
	q := &Queue{
		opts:    opts,
		handler: handler,
		jobs:    make(map[string]*Job),
		cancel:  make(map[string]context.CancelFunc),
	}
	q.cond = sync.NewCond(&q.mu)
	heap.Init(&q.pending)
	for i := 0; i < opts.workers(); i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Submit enqueues a new job and returns its request id immediately; the
// job becomes Pending and is picked up by the next free worker in
// priority-then-FIFO order.
func (q *Queue) Submit(kind string, payload interface{}, priority Priority) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	job := &Job{
		ID:          genJobID(),
		Kind:        kind,
		Payload:     payload,
		Priority:    priority,
		Status:      Pending,
		SubmittedAt: time.Now().UnixMilli(),
	}
	q.jobs[job.ID] = job
	q.nextSeq++
	heap.Push(&q.pending, &heapItem{job: job, seq: q.nextSeq})
	q.cond.Signal()
	return job.ID
}

// Poll returns the current state of a submitted job. ok is false if no
// job with that id was ever submitted (or it has aged out of retention).
func (q *Queue) Poll(requestID string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[requestID]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Cancel marks a still-pending job Cancelled without ever running it, or
// signals a running job's context if the handler observes cancellation.
// It is a no-op (returns false) once the job has reached a terminal state.
func (q *Queue) Cancel(requestID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[requestID]
	if !ok {
		return false
	}
	switch j.Status {
	case Pending:
		j.Status = Cancelled
		j.CompletedAt = time.Now().UnixMilli()
		q.recordCompletion(Cancelled)
		q.removeFromHeap(requestID)
		return true
	case Running:
		if cancel, ok := q.cancel[requestID]; ok {
			cancel()
			return true
		}
		return false
	default:
		return false
	}
}

func (q *Queue) removeFromHeap(id string) {
	for i, it := range q.pending {
		if it.job.ID == id {
			heap.Remove(&q.pending, i)
			return
		}
	}
}

// Stats aggregates queue state over the configured rolling window.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s Stats
	var oldestPending int64
	now := time.Now()
	cutoff := now.Add(-q.opts.statsWindow())
	byPriority := map[Priority]int{}

	for _, j := range q.jobs {
		switch j.Status {
		case Pending:
			s.Pending++
			byPriority[j.Priority]++
			if oldestPending == 0 || j.SubmittedAt < oldestPending {
				oldestPending = j.SubmittedAt
			}
		case Running:
			s.Running++
		case Completed:
			s.Completed++
		case Failed:
			s.Failed++
		case Cancelled:
			s.Cancelled++
		}
	}
	if oldestPending > 0 {
		s.QueueLagMS = now.UnixMilli() - oldestPending
	}

	var windowed []completion
	for _, c := range q.completions {
		if c.at.After(cutoff) {
			windowed = append(windowed, c)
		}
	}
	q.completions = windowed
	if len(windowed) > 0 {
		s.ProcessingRate = float64(len(windowed)) / q.opts.statsWindow().Seconds()
	}

	metrics.QueueDepth.WithLabelValues("high").Set(float64(byPriority[High]))
	metrics.QueueDepth.WithLabelValues("normal").Set(float64(byPriority[Normal]))
	metrics.QueueDepth.WithLabelValues("low").Set(float64(byPriority[Low]))
	metrics.QueueProcessingRate.Set(s.ProcessingRate)

	var history []Job
	for _, j := range q.jobs {
		if j.Status == Completed || j.Status == Failed || j.Status == Cancelled {
			history = append(history, *j)
		}
	}
	s.History = history
	return s
}

func (q *Queue) recordCompletion(status Status) {
	q.completions = append(q.completions, completion{at: time.Now(), status: status})
}

// Stop signals all workers to exit once idle and waits for them.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed && len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		item := heap.Pop(&q.pending).(*heapItem)
		job := item.job
		job.Status = Running
		job.StartedAt = time.Now().UnixMilli()
		ctx, cancel := context.WithCancel(context.Background())
		q.cancel[job.ID] = cancel
		q.mu.Unlock()

		result, err := q.handler(ctx, job.Kind, job.Payload)
		cancelled := ctx.Err() != nil
		cancel()

		q.mu.Lock()
		delete(q.cancel, job.ID)
		job.CompletedAt = time.Now().UnixMilli()
		switch {
		case cancelled:
			job.Status = Cancelled
			q.recordCompletion(Cancelled)
		case err != nil:
			job.Status = Failed
			job.Error = err.Error()
			q.recordCompletion(Failed)
			xlog.Warnf("queue: job %s (%s) failed: %v", job.ID, job.Kind, err)
		default:
			job.Status = Completed
			job.Result = result
			q.recordCompletion(Completed)
		}
		q.mu.Unlock()
	}
}

// PruneExpired drops terminal jobs whose retention TTL has elapsed, so a
// long-running Queue doesn't grow its job table without bound.
func (q *Queue) PruneExpired() {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := time.Now().Add(-q.opts.resultTTL()).UnixMilli()
	for id, j := range q.jobs {
		if j.CompletedAt > 0 && j.CompletedAt < cutoff {
			delete(q.jobs, id)
		}
	}
}
