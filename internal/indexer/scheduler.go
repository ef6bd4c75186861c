package indexer

import (
	"context"
	"errors"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// ErrSchedulerClosed is returned by Submit and Remove after Close.
var ErrSchedulerClosed = errors.New("scheduler closed")

type opKind int

const (
	opIndex opKind = iota
	opRemove
)

// ResultFunc observes the outcome of every scheduled operation. res is nil for removals and failures.
type ResultFunc func(path string, res *Result, err error)

// Scheduler runs index and remove operations on a bounded worker pool. At
// most one operation per path runs at a time; requests arriving while a path
// is busy collapse into a single follow-up that runs on the same worker.
type Scheduler struct {
	indexer *Indexer
	pool    *ants.Pool
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger
	onDone  ResultFunc

	mu      sync.Mutex
	running map[string]bool
	queued  map[string]opKind
	closed  bool
	wg      sync.WaitGroup
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerLogger sets the scheduler logger.
func WithSchedulerLogger(l *zap.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithResultFunc registers fn to observe every finished operation.
func WithResultFunc(fn ResultFunc) SchedulerOption {
	return func(s *Scheduler) { s.onDone = fn }
}

// NewScheduler creates a scheduler backed by a pool of workers goroutines.
func NewScheduler(idx *Indexer, workers int, opts ...SchedulerOption) (*Scheduler, error) {
	if workers <= 0 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		indexer: idx,
		pool:    pool,
		ctx:     ctx,
		cancel:  cancel,
		logger:  zap.NewNop(),
		running: make(map[string]bool),
		queued:  make(map[string]opKind),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Submit schedules path for ingestion.
func (s *Scheduler) Submit(path string) error {
	return s.enqueue(path, opIndex)
}

// Remove schedules removal of path from the index.
func (s *Scheduler) Remove(path string) error {
	return s.enqueue(path, opRemove)
}

func (s *Scheduler) enqueue(path string, op opKind) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	if s.running[path] {
		s.queued[path] = op
		s.mu.Unlock()
		return nil
	}
	s.running[path] = true
	s.wg.Add(1)
	s.mu.Unlock()

	// Submit blocks while every worker is busy.
	if err := s.pool.Submit(func() { s.run(path, op) }); err != nil {
		s.mu.Lock()
		delete(s.running, path)
		delete(s.queued, path)
		s.mu.Unlock()
		s.wg.Done()
		return err
	}
	return nil
}

func (s *Scheduler) run(path string, op opKind) {
	defer s.wg.Done()
	for {
		s.execute(path, op)

		s.mu.Lock()
		next, ok := s.queued[path]
		if !ok || s.ctx.Err() != nil {
			delete(s.queued, path)
			delete(s.running, path)
			s.mu.Unlock()
			return
		}
		delete(s.queued, path)
		s.mu.Unlock()
		op = next
	}
}

func (s *Scheduler) execute(path string, op opKind) {
	var (
		res *Result
		err error
	)
	switch op {
	case opRemove:
		err = s.indexer.RemoveSource(s.ctx, path)
	default:
		res, err = s.indexer.IndexFile(s.ctx, path)
	}
	if err != nil && s.ctx.Err() == nil {
		s.logger.Warn("scheduled operation failed", zap.String("path", path), zap.Error(err))
	}
	if s.onDone != nil {
		s.onDone(path, res, err)
	}
}

// Wait blocks until every submitted operation has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Running returns the number of busy workers.
func (s *Scheduler) Running() int {
	return s.pool.Running()
}

// Close cancels in-flight work, waits for workers to exit and releases the pool.
// Cancelled items return to pending and are picked up again on the next scan.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
	s.pool.Release()
}
