package workflow

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qbicsoftware/data-scanner/internal/logging"
)

const sampleInterval = time.Second

// Start launches the scanner and every worker. A Manager runs once; after
// Stop it cannot be started again.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if m.stopped {
		m.mu.Unlock()
		return errors.New("workflow already stopped")
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	m.cancel = cancel
	m.running = true
	m.done = make(chan struct{})
	m.startedAt = time.Now()
	done := m.done
	m.mu.Unlock()

	group.Go(func() error { return m.scanner.Run(groupCtx) })
	for _, p := range m.pools {
		for _, w := range p.workers {
			group.Go(func() error { return w.Run(groupCtx) })
		}
	}
	if m.metrics != nil {
		group.Go(func() error {
			m.sampleLoop(groupCtx)
			return nil
		})
	}

	m.logger.Info("workflow started",
		logging.Int("registration_workers", len(m.pools[0].workers)),
		logging.Int("processing_workers", len(m.pools[1].workers)),
		logging.Int("evaluation_workers", len(m.pools[2].workers)),
		logging.Int("targets", len(m.cfg.Evaluation.TargetDirs)),
	)

	go func() {
		err := group.Wait()
		m.mu.Lock()
		if err != nil && !errors.Is(err, context.Canceled) {
			m.lastErr = err
		}
		m.running = false
		m.mu.Unlock()
		close(done)
	}()
	return nil
}

// Stop cancels the run, interrupts every worker and waits until all of them
// have returned. Work in progress is finished first.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.cancel == nil || m.stopped {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	done := m.done
	m.stopped = true
	m.mu.Unlock()

	m.logger.Info("workflow stopping")
	cancel()
	m.queue.Close()
	for _, p := range m.pools {
		for _, w := range p.workers {
			w.Interrupt()
		}
	}
	<-done
	m.logger.Info("workflow stopped")
}

// Done is closed once every goroutine of a started workflow has returned.
// It is nil before Start.
func (m *Manager) Done() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.done
}

// Err reports the error that ended the run, if any.
func (m *Manager) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// sampleLoop copies queue depth, claim counts and worker activity into the
// metrics gauges.
func (m *Manager) sampleLoop(ctx context.Context) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
	for {
		m.sample()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Manager) sample() {
	m.metrics.SetQueueDepth(m.queue.Len())
	for _, p := range m.pools {
		if p.claims != nil {
			m.metrics.SetClaims(p.name, p.claims.Len())
		}
		active := 0
		for _, w := range p.workers {
			if w.Active() {
				active++
			}
		}
		m.metrics.SetActiveWorkers(p.name, active)
	}
}
