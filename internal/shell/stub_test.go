package shell

import (
	"sync"

	"github.com/loykin/deskvisor/internal/supervisor"
)

type stubService struct {
	mu      sync.Mutex
	running bool
	stops   int
}

func (s *stubService) Start() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	return 5555, nil
}

func (s *stubService) Stop(supervisor.Trigger) supervisor.StopResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return supervisor.NoOp
	}
	s.running = false
	s.stops++
	return supervisor.Stopped
}

func (s *stubService) PID() int { return 1 }
