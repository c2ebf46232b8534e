package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Worker interface {
	Name() string
	Start()
	Stop()
}

type Scheduler struct {
	workers []Worker
	wg      sync.WaitGroup
	stopped bool
	mu      sync.RWMutex
	logger  *zap.SugaredLogger
	timeout time.Duration
}

func NewScheduler(logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		workers: make([]Worker, 0),
		logger:  logger,
		timeout: 10 * time.Second,
	}
}

func (s *Scheduler) AddWorker(worker Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers = append(s.workers, worker)
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	s.logger.Infow("starting scheduler", "workers", len(s.workers))

	for _, worker := range s.workers {
		s.wg.Add(1)
		go func(w Worker) {
			defer s.wg.Done()
			w.Start()
		}(worker)
	}
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	workers := append([]Worker(nil), s.workers...)
	s.mu.Unlock()

	s.logger.Info("stopping scheduler")

	for _, worker := range workers {
		worker.Stop()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped gracefully")
	case <-time.After(s.timeout):
		s.logger.Warn("scheduler stop timeout")
	}
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.stopped
}

// ticker runs job immediately and then on every interval until stopped.
// Each run gets its own timeout context; Stop cancels an in-flight run.
type ticker struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	job      func(ctx context.Context)
	logger   *zap.SugaredLogger

	mu        sync.Mutex
	isRunning bool
	stopChan  chan struct{}
	done      chan struct{}
}

func newTicker(name string, interval, timeout time.Duration, job func(ctx context.Context), logger *zap.SugaredLogger) *ticker {
	if interval <= 0 {
		interval = time.Minute
	}
	if timeout <= 0 {
		timeout = interval
	}
	return &ticker{
		name:     name,
		interval: interval,
		timeout:  timeout,
		job:      job,
		logger:   logger,
	}
}

func (t *ticker) Name() string { return t.name }

func (t *ticker) Start() {
	t.mu.Lock()
	if t.isRunning {
		t.mu.Unlock()
		return
	}
	t.isRunning = true
	t.stopChan = make(chan struct{})
	t.done = make(chan struct{})
	t.mu.Unlock()

	t.logger.Infow("worker started", "worker", t.name, "interval", t.interval)
	go t.run()
}

func (t *ticker) Stop() {
	t.mu.Lock()
	if !t.isRunning {
		t.mu.Unlock()
		return
	}
	t.isRunning = false
	close(t.stopChan)
	done := t.done
	t.mu.Unlock()

	<-done
	t.logger.Infow("worker stopped", "worker", t.name)
}

func (t *ticker) run() {
	defer close(t.done)

	tk := time.NewTicker(t.interval)
	defer tk.Stop()

	t.tick()

	for {
		select {
		case <-tk.C:
			t.tick()
		case <-t.stopChan:
			return
		}
	}
}

func (t *ticker) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	go func() {
		select {
		case <-t.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	t.job(ctx)
}
