package celebration

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zepph7/christmas-surprise/pkg/logger"
)

type Kind string

const (
	KindParticle Kind = "particle"
	KindSparkle  Kind = "sparkle"
	KindConfetti Kind = "confetti"
	KindFirework Kind = "firework"
	KindGift     Kind = "gift"
	KindText     Kind = "text"
	KindFlower   Kind = "flower"
	KindPetal    Kind = "petal"
)

const (
	staggerMs       = 50
	ambientEveryMs  = 200
	fireworkSparks  = 12
	petalCount      = 30
	petalTeardownMs = 8000
	edgeOffset      = 0.05
	giftLifetimeMs  = 4000
	defaultDuration = 5 * time.Second
)

var (
	Colors = []string{"#FF6B6B", "#4ECDC4", "#FFD166", "#06D6A0", "#118AB2", "#EF476F", "#FFD700"}

	CelebrationSymbols = []string{"🎉", "🎊", "🎁", "✨", "🌟", "💫", "🥳", "🎄", "🎅", "🤶", "🧑‍🎄", "🦌", "⭐", "❄️", "🎆", "🎇", "🪅", "🪩"}
	FlowerSymbols      = []string{"🌸", "💮", "🏵️", "🌹", "🥀", "🌺", "🌻", "🌼", "🌷", "🌱", "🍃", "🌿", "☘️", "🍀", "🎍", "🪴"}
	FloatingTexts      = []string{"Merry Christmas!", "Ho Ho Ho!", "🎁 Surprise!", "🎄 Joy!", "✨ Magic!"}
)

type Burst struct {
	Kind    Kind
	Count   int
	StartMs int64
}

// Bursts is the fixed schedule of a celebration; every burst spaces its elements by 50 ms.
var Bursts = []Burst{
	{KindParticle, 50, 0},
	{KindSparkle, 30, 500},
	{KindConfetti, 100, 1000},
	{KindFirework, 5, 1500},
	{KindGift, 3, 2000},
	{KindText, 5, 2500},
}

// Element is one decorative item. X and Y are viewport fractions; values just outside 0..1 start
// off screen.
type Element struct {
	Kind       Kind    `json:"kind"`
	Symbol     string  `json:"symbol,omitempty"`
	Color      string  `json:"color,omitempty"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	AtMs       int64   `json:"at_ms"`
	DurationMs int64   `json:"duration_ms"`
	Animation  string  `json:"animation,omitempty"`
	Size       float64 `json:"size,omitempty"`
	Rotation   float64 `json:"rotation"`
	Sparks     int     `json:"sparks,omitempty"`
	Round      bool    `json:"round,omitempty"`
}

type Plan struct {
	ID               string    `json:"id"`
	DurationMs       int64     `json:"duration_ms"`
	Elements         []Element `json:"elements"`
	Petals           []Element `json:"petals"`
	PetalsTeardownMs int64     `json:"petals_teardown_ms"`
}

// Renderer produces celebration plans, at most one active at a time.
type Renderer struct {
	mu       sync.Mutex
	enabled  bool
	duration time.Duration
	until    time.Time
	rnd      *rand.Rand
	now      func() time.Time
}

type Option func(*Renderer)

func WithRand(r *rand.Rand) Option {
	return func(c *Renderer) { c.rnd = r }
}

func WithClock(now func() time.Time) Option {
	return func(c *Renderer) { c.now = now }
}

func NewRenderer(enabled bool, duration time.Duration, opts ...Option) *Renderer {
	if duration <= 0 {
		duration = defaultDuration
	}
	r := &Renderer{
		enabled:  enabled,
		duration: duration,
		rnd:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Active reports whether a celebration is still playing.
func (r *Renderer) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now().Before(r.until)
}

// Trigger starts a celebration. It returns false while another one is playing or when disabled.
func (r *Renderer) Trigger() (*Plan, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return nil, false
	}
	now := r.now()
	if now.Before(r.until) {
		logger.Debug("Celebration already running until %s", r.until.Format(time.RFC3339))
		return nil, false
	}
	r.until = now.Add(r.duration)

	plan := &Plan{
		ID:               uuid.NewString(),
		DurationMs:       r.duration.Milliseconds(),
		PetalsTeardownMs: petalTeardownMs,
	}
	for _, b := range Bursts {
		for i := 0; i < b.Count; i++ {
			plan.Elements = append(plan.Elements, r.burstElement(b.Kind, b.StartMs+int64(i)*staggerMs))
		}
	}
	for at := int64(0); at < plan.DurationMs; at += ambientEveryMs {
		plan.Elements = append(plan.Elements, r.ambientFlower(at))
	}
	for i := 0; i < petalCount; i++ {
		plan.Petals = append(plan.Petals, Element{
			Kind:       KindPetal,
			Symbol:     r.pick(FlowerSymbols),
			X:          r.rnd.Float64(),
			Y:          -edgeOffset,
			AtMs:       r.between(0, 5000),
			DurationMs: r.between(3000, 7000),
			Animation:  "floatDown",
			Size:       20 + r.rnd.Float64()*30,
			Rotation:   r.rnd.Float64() * 360,
		})
	}
	return plan, true
}

func (r *Renderer) pick(from []string) string {
	return from[r.rnd.IntN(len(from))]
}

func (r *Renderer) between(lo, hi int64) int64 {
	return lo + r.rnd.Int64N(hi-lo)
}

func (r *Renderer) burstElement(kind Kind, at int64) Element {
	e := Element{
		Kind:     kind,
		Color:    r.pick(Colors),
		X:        r.rnd.Float64(),
		Y:        r.rnd.Float64(),
		AtMs:     at,
		Rotation: r.rnd.Float64() * 360,
	}
	switch kind {
	case KindParticle:
		e.Symbol = r.pick(CelebrationSymbols)
		e.Animation = "floatUp"
		if r.rnd.Float64() > 0.5 {
			e.Animation = "floatDown"
		}
		e.Size = 20 + r.rnd.Float64()*20
		e.DurationMs = r.between(2000, 5000)
	case KindSparkle:
		e.DurationMs = r.between(500, 1500)
	case KindConfetti:
		e.Rotation = r.rnd.Float64()*720 - 360
		e.Round = r.rnd.Float64() > 0.5
		e.DurationMs = r.between(1000, 3000)
	case KindFirework:
		e.Sparks = fireworkSparks
		e.DurationMs = 1000
	case KindGift:
		e.Symbol = "🎁"
		e.Animation = "floatUp"
		e.DurationMs = giftLifetimeMs
	case KindText:
		e.Symbol = r.pick(FloatingTexts)
		e.Animation = "floatUp"
		e.DurationMs = 3000
	}
	return e
}

// ambientFlower drifts in from a random edge toward the opposite one.
func (r *Renderer) ambientFlower(at int64) Element {
	e := Element{
		Kind:       KindFlower,
		Symbol:     r.pick(FlowerSymbols),
		Color:      r.pick(Colors),
		AtMs:       at,
		Size:       20 + r.rnd.Float64()*20,
		Rotation:   r.rnd.Float64() * 360,
		DurationMs: r.between(2000, 5000),
	}
	switch r.rnd.IntN(4) {
	case 0:
		e.X, e.Y, e.Animation = r.rnd.Float64(), -edgeOffset, "floatDown"
	case 1:
		e.X, e.Y, e.Animation = r.rnd.Float64(), 1+edgeOffset, "floatUp"
	case 2:
		e.X, e.Y, e.Animation = -edgeOffset, r.rnd.Float64(), "floatRight"
	default:
		e.X, e.Y, e.Animation = 1+edgeOffset, r.rnd.Float64(), "floatLeft"
	}
	return e
}
