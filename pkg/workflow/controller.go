package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zepph7/christmas-surprise/pkg/celebration"
	"github.com/zepph7/christmas-surprise/pkg/geolocation"
	"github.com/zepph7/christmas-surprise/pkg/logger"
	"github.com/zepph7/christmas-surprise/pkg/models"
	"github.com/zepph7/christmas-surprise/pkg/relay"
	"github.com/zepph7/christmas-surprise/pkg/status"
	"github.com/zepph7/christmas-surprise/pkg/validation"
)

// ErrInFlight is returned when a submission is already being processed for the form.
var ErrInFlight = errors.New("a submission is already in progress")

const (
	TimerAdvisory = "advisory"
	TimerReset    = "reset"
)

type LocationResolver interface {
	Resolve(ctx context.Context, req geolocation.Request) models.Resolution
}

type Relay interface {
	Submit(ctx context.Context, s models.Submission) models.SubmitResult
}

type Celebrator interface {
	Trigger() (*celebration.Plan, bool)
	Active() bool
}

type Options struct {
	Resolver       LocationResolver
	Relay          Relay
	Celebration    Celebrator
	AdvisoryAfter  time.Duration
	SuccessDismiss time.Duration
	ResetDelay     time.Duration
}

// Request is one submit click (or Enter press) with the current form values.
type Request struct {
	Name     string
	Manual   string
	Device   *models.DeviceReport
	ClientIP string
}

func (r Request) locate() geolocation.Request {
	return geolocation.Request{Manual: r.Manual, Device: r.Device, ClientIP: r.ClientIP}
}

// Controller drives one form: validation, location, relay and feedback, one attempt at a time.
type Controller struct {
	opts       Options
	processing atomic.Bool
	touched    atomic.Int64

	timers    *status.Timers
	presenter *status.Presenter

	mu            sync.Mutex
	name          string
	indicator     Indicator
	nameError     string
	manual        string
	manualPrompt  bool
	locationLabel string
	control       SubmitControl
	resolving     bool
	now           func() time.Time
}

func NewController(opts Options) *Controller {
	timers := status.NewTimers()
	c := &Controller{
		opts:      opts,
		timers:    timers,
		presenter: status.NewPresenter(timers, opts.SuccessDismiss),
		control:   control(ControlIdle),
		now:       time.Now,
	}
	c.touch()
	return c
}

func (c *Controller) touch() {
	c.touched.Store(c.now().UnixNano())
}

// IdleFor returns how long the form has gone without any interaction.
func (c *Controller) IdleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.touched.Load()))
}

func (c *Controller) Processing() bool {
	return c.processing.Load()
}

// CheckName validates the name on input and blur and updates the inline indicator.
func (c *Controller) CheckName(raw string) models.ValidationResult {
	c.touch()
	res := validation.ValidateName(raw)
	c.mu.Lock()
	c.name = raw
	c.setIndicatorLocked(res)
	c.mu.Unlock()
	return res
}

func (c *Controller) setIndicatorLocked(res models.ValidationResult) {
	if res.Valid {
		c.indicator = IndicatorSuccess
		c.nameError = ""
		return
	}
	c.indicator = IndicatorError
	c.nameError = res.Reason
}

func (c *Controller) setControl(state ControlState) {
	c.mu.Lock()
	c.control = control(state)
	c.mu.Unlock()
}

func (c *Controller) show(kind models.StatusKind, text string) *models.StatusMessage {
	msg := c.presenter.Show(kind, text)
	return &msg
}

// Submit runs one attempt. It returns ErrInFlight without touching any state when an attempt is
// already running.
func (c *Controller) Submit(ctx context.Context, req Request) (out Outcome, err error) {
	if !c.processing.CompareAndSwap(false, true) {
		return Outcome{}, ErrInFlight
	}
	c.touch()

	c.presenter.Clear()
	c.mu.Lock()
	c.locationLabel = ""
	c.name = req.Name
	c.manual = req.Manual
	c.mu.Unlock()

	name := strings.TrimSpace(req.Name)
	v := validation.ValidateName(name)
	c.mu.Lock()
	c.setIndicatorLocked(v)
	c.mu.Unlock()
	c.timers.Cancel(TimerReset)
	if !v.Valid {
		c.setControl(ControlIdle)
		status := c.show(models.StatusError, v.Reason)
		c.processing.Store(false)
		return Outcome{Validation: v, Status: status}, nil
	}

	c.setControl(ControlBusy)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered from panic during submission: %v", r)
			c.endResolving()
			c.setControl(ControlIdle)
			out = Outcome{Accepted: true, Validation: v, Status: c.show(models.StatusError, MsgUnexpected)}
			err = nil
		}
		c.processing.Store(false)
	}()

	out = Outcome{Accepted: true, Validation: v}

	res := c.resolve(ctx, req)
	out.Resolution = &res
	if !res.Usable() {
		c.show(models.StatusWarning, MsgNoCity)
		out.ManualPrompt = true
	}

	c.show(models.StatusInfo, MsgSending)
	submission := relay.NewSubmission(name, res, c.now())
	result := c.opts.Relay.Submit(ctx, submission)
	out.Result = &result

	if !result.Success {
		out.Status = c.show(models.StatusError, fmt.Sprintf(MsgFailure, result.Message))
		c.setControl(ControlIdle)
		return out, nil
	}

	out.Delivered = true
	out.Status = c.show(models.StatusSuccess, fmt.Sprintf(MsgSuccess, name))
	c.setControl(ControlDone)
	if c.opts.Celebration != nil {
		if plan, ok := c.opts.Celebration.Trigger(); ok {
			out.Celebration = plan
		}
	}
	c.timers.Schedule(TimerReset, c.opts.ResetDelay, c.reset)
	return out, nil
}

// ResolveLocation runs the location step alone so the page can show the label before submitting.
func (c *Controller) ResolveLocation(ctx context.Context, req Request) (models.Resolution, error) {
	if !c.processing.CompareAndSwap(false, true) {
		return models.Resolution{}, ErrInFlight
	}
	defer c.processing.Store(false)
	c.touch()

	c.mu.Lock()
	c.manual = req.Manual
	c.mu.Unlock()

	res := c.resolve(ctx, req)
	if res.Usable() {
		c.presenter.Clear()
	} else {
		c.show(models.StatusWarning, MsgNoCity)
	}
	return res, nil
}

// resolve shows the detecting message, arms the advisory timer and resolves the location.
// The advisory is disarmed before the result is presented so it never overwrites it.
func (c *Controller) resolve(ctx context.Context, req Request) models.Resolution {
	c.show(models.StatusInfo, MsgDetecting)
	c.mu.Lock()
	c.resolving = true
	c.mu.Unlock()
	if c.opts.AdvisoryAfter > 0 {
		c.timers.Schedule(TimerAdvisory, c.opts.AdvisoryAfter, c.advise)
	}

	res := c.opts.Resolver.Resolve(ctx, req.locate())
	c.endResolving()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.locationLabel = locationLabel(res)
	c.manualPrompt = !res.Usable()
	return res
}

func (c *Controller) endResolving() {
	c.mu.Lock()
	c.resolving = false
	c.mu.Unlock()
	c.timers.Cancel(TimerAdvisory)
}

func (c *Controller) advise() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.resolving {
		return
	}
	c.presenter.Show(models.StatusWarning, MsgAdvisory)
}

// reset clears the form after a delivered submission.
func (c *Controller) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name = ""
	c.indicator = IndicatorNone
	c.nameError = ""
	c.manual = ""
	c.manualPrompt = false
	c.locationLabel = ""
	c.control = control(ControlIdle)
}

func (c *Controller) View() FormView {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := FormView{
		Status:         c.presenter.Current(),
		Name:           c.name,
		NameIndicator:  c.indicator,
		NameError:      c.nameError,
		ManualLocation: c.manual,
		ManualPrompt:   c.manualPrompt,
		LocationLabel:  c.locationLabel,
		Control:        c.control,
		Processing:     c.processing.Load(),
	}
	if c.opts.Celebration != nil {
		v.Celebrating = c.opts.Celebration.Active()
	}
	return v
}

// Close stops pending timers; the controller must not be used afterwards.
func (c *Controller) Close() {
	c.timers.Stop()
}
