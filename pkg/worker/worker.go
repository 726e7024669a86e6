// Package worker is a fixed-size goroutine pool fed by a buffered channel.
// The dispatcher uses one worker per configured bridge session so claimed
// schedules dispatch concurrently only when more than one session exists.
package worker

import (
	"errors"
	"sync"

	"github.com/apysky/broadcast-scheduler/pkg/logger"
)

type Handler = func(workerIndex int, job interface{})

type Manager struct {
	jobs    chan interface{}
	workers int
	do      Handler
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewManager sizes the pool. Workers block on the job channel until Exit is
// called; the channel itself stays open because producers may still hold it.
func NewManager(bufferSize, workers int) *Manager {
	return &Manager{
		jobs:    make(chan interface{}, bufferSize),
		workers: workers,
		stop:    make(chan struct{}),
	}
}

func (m *Manager) SetWorker(h Handler) {
	m.do = h
}

func (m *Manager) Enqueue(job interface{}) {
	m.jobs <- job
}

func (m *Manager) Pending() int {
	return len(m.jobs)
}

// Start blocks until Exit is called.
func (m *Manager) Start() error {
	if m.do == nil {
		return errors.New("worker handler is not set")
	}
	m.wg.Add(m.workers)
	for i := 0; i < m.workers; i++ {
		go func(index int) {
			defer m.wg.Done()
			for {
				select {
				case job := <-m.jobs:
					m.do(index, job)
				case <-m.stop:
					return
				}
			}
		}(i)
	}
	m.wg.Wait()
	return errors.New("workers terminated")
}

// Exit stops all workers after their current job.
func (m *Manager) Exit() {
	logger.Info("worker manager shutting down")
	close(m.stop)
	m.wg.Wait()
}
