package workflow

import (
	"sync"
	"time"

	"github.com/zepph7/christmas-surprise/pkg/logger"
)

// Sessions maps browser session ids to their form controllers.
type Sessions struct {
	mu          sync.Mutex
	controllers map[string]*Controller
	factory     func() *Controller
	now         func() time.Time
}

func NewSessions(factory func() *Controller) *Sessions {
	return &Sessions{
		controllers: make(map[string]*Controller),
		factory:     factory,
		now:         time.Now,
	}
}

// Get returns the controller for id, creating it on first use.
func (s *Sessions) Get(id string) *Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.controllers[id]
	if !ok {
		c = s.factory()
		s.controllers[id] = c
		logger.Debug("Created form session %s", id)
	}
	return c
}

// Sweep drops controllers idle for longer than idle that are not processing. It returns how many went.
func (s *Sessions) Sweep(idle time.Duration) int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, c := range s.controllers {
		if c.Processing() || c.IdleFor(now) <= idle {
			continue
		}
		c.Close()
		delete(s.controllers, id)
		removed++
	}
	if removed > 0 {
		logger.Info("Swept %d idle form sessions, %d remain", removed, len(s.controllers))
	}
	return removed
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.controllers)
}

// Close stops every controller.
func (s *Sessions) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.controllers {
		c.Close()
		delete(s.controllers, id)
	}
}
