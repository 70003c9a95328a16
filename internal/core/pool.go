package core

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/agenthands/cobalt/internal/config"
	"github.com/agenthands/cobalt/internal/types"
)

var (
	ErrQueueFull  = errors.New("ingestion queue full")
	ErrPoolClosed = errors.New("ingestion pool closed")
)

type job struct {
	record   types.CandidateRecord
	attempts int
}

// Pool runs batch ingestion through a fixed set of workers. Each record
// gets a bounded processing window; records that time out are requeued a
// limited number of times before being dropped.
type Pool struct {
	consolidator *Consolidator
	cfg          config.PoolConfig
	logger       *zap.Logger

	jobs chan job
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewPool(consolidator *Consolidator, cfg config.PoolConfig, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		consolidator: consolidator,
		cfg:          cfg,
		logger:       logger,
		jobs:         make(chan job, cfg.QueueSize),
	}
}

func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("ingestion pool started",
		zap.Int("workers", p.cfg.Workers),
		zap.Int("queue_size", p.cfg.QueueSize))
}

// Enqueue submits a record without blocking. A full queue is reported to
// the caller so ingress can apply backpressure.
func (p *Pool) Enqueue(rec types.CandidateRecord) error {
	return p.submit(job{record: rec})
}

// Stop drains the queue and waits for in-flight records to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("ingestion pool stopped")
}

// submit serializes against Stop so a send never races channel close.
func (p *Pool) submit(j job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for j := range p.jobs {
		p.process(ctx, id, j)
	}
}

func (p *Pool) process(ctx context.Context, workerID int, j job) {
	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.EntityTimeout)
	defer cancel()

	_, err := p.consolidator.Consolidate(jobCtx, j.record)
	if err == nil {
		return
	}
	if errors.Is(err, context.DeadlineExceeded) && j.attempts < p.cfg.MaxRequeues {
		p.requeue(job{record: j.record, attempts: j.attempts + 1})
		return
	}
	// Consolidate already logged the failure with the record attached;
	// nothing left to do but account for the drop.
	p.logger.Warn("dropping candidate record",
		zap.Int("worker", workerID),
		zap.String("entity_type", j.record.EntityType),
		zap.String("name", j.record.Name),
		zap.Int("attempts", j.attempts+1),
		zap.Error(err))
}

func (p *Pool) requeue(j job) {
	if err := p.submit(j); err != nil {
		p.logger.Warn("dropping timed-out record",
			zap.String("name", j.record.Name),
			zap.Error(err))
		return
	}
	p.logger.Info("requeued timed-out record",
		zap.String("name", j.record.Name),
		zap.Int("attempt", j.attempts))
}
