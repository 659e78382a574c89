package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// Manager runs the workers of a queue together with its housekeeping loops:
// promotion of delayed retries and recovery of stalled jobs.
type Manager struct {
	queue          *Queue
	handler        Handler
	promoteTicker  *time.Ticker
	stalledTicker  *time.Ticker
	stopCh         chan struct{}
	wg             sync.WaitGroup
	mu             sync.Mutex
	running        bool
	housekeepingOn bool
}

// NewManager wires handler to queue. Nothing runs until Start.
func NewManager(queue *Queue, handler Handler) *Manager {
	return &Manager{
		queue:          queue,
		handler:        handler,
		housekeepingOn: true,
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the workers and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	opts := m.queue.Options()
	log.Infof("[JobQueue Manager] Starting queue %s", opts.Name)

	m.queue.Start(m.handler)

	if m.housekeepingOn {
		m.promoteTicker = time.NewTicker(opts.PromoteInterval)
		m.wg.Add(1)
		go m.promoteWorker()

		m.stalledTicker = time.NewTicker(opts.StalledInterval)
		m.wg.Add(1)
		go m.stalledWorker()
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops housekeeping, then drains the workers.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.promoteTicker != nil {
		m.promoteTicker.Stop()
	}
	if m.stalledTicker != nil {
		m.stalledTicker.Stop()
	}

	close(m.stopCh)
	m.stopCh = nil
	m.running = false
	m.wg.Wait()

	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

func (m *Manager) promoteWorker() {
	defer m.wg.Done()
	stopCh := m.stopCh
	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Delayed job promoter stopping")
			return
		case <-m.promoteTicker.C:
			if _, err := m.queue.PromoteDelayed(context.Background()); err != nil {
				log.Errorf("[JobQueue Manager] Error promoting delayed jobs: %v", err)
			}
		}
	}
}

func (m *Manager) stalledWorker() {
	defer m.wg.Done()
	stopCh := m.stopCh
	log.Infof("[JobQueue Manager] Stalled sweeper running (interval=%s)", m.queue.Options().StalledInterval)
	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Stalled sweeper stopping")
			return
		case <-m.stalledTicker.C:
			if _, err := m.queue.SweepStalled(context.Background()); err != nil {
				log.Errorf("[JobQueue Manager] Stalled sweep error: %v", err)
			}
		}
	}
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
