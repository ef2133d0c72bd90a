package status

import (
	"sync"
	"time"

	"github.com/zepph7/christmas-surprise/pkg/logger"
	"github.com/zepph7/christmas-surprise/pkg/models"
)

const DismissTimer = "dismiss"

// Presenter holds the one status message a form shows at a time.
type Presenter struct {
	mu             sync.Mutex
	current        *models.StatusMessage
	timers         *Timers
	successDismiss time.Duration
	now            func() time.Time
}

func NewPresenter(timers *Timers, successDismiss time.Duration) *Presenter {
	return &Presenter{timers: timers, successDismiss: successDismiss, now: time.Now}
}

// Show replaces the current message. Success messages hide themselves after the dismiss delay;
// every other kind stays until replaced or cleared.
func (p *Presenter) Show(kind models.StatusKind, text string) models.StatusMessage {
	p.timers.Cancel(DismissTimer)

	msg := models.StatusMessage{Kind: kind, Text: text, ShownAt: p.now()}
	p.mu.Lock()
	p.current = &msg
	p.mu.Unlock()
	logger.Debug("Status %s: %s", kind, text)

	if kind == models.StatusSuccess && p.successDismiss > 0 {
		p.timers.Schedule(DismissTimer, p.successDismiss, p.Clear)
	}
	return msg
}

func (p *Presenter) Clear() {
	p.timers.Cancel(DismissTimer)
	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()
}

// Current returns a copy of the visible message, or nil when hidden.
func (p *Presenter) Current() *models.StatusMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	msg := *p.current
	return &msg
}
