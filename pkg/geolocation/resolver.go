package geolocation

import (
	"context"

	"github.com/zepph7/christmas-surprise/pkg/models"
	"github.com/zepph7/christmas-surprise/pkg/util"
)

const (
	StrategyDevice = "device"
	StrategyIP     = "ip"
)

// Request carries everything a strategy may use to locate the user.
type Request struct {
	Manual   string
	Device   *models.DeviceReport
	ClientIP string
}

type Strategy interface {
	Resolve(ctx context.Context, req Request) models.Resolution
}

// Resolver runs the configured strategy and lets typed manual text override whatever it found.
type Resolver struct {
	strategy Strategy
}

func NewResolver(strategy Strategy) *Resolver {
	return &Resolver{strategy: strategy}
}

func (r *Resolver) Resolve(ctx context.Context, req Request) models.Resolution {
	manual := util.CollapseWhitespace(req.Manual)
	detected := r.strategy.Resolve(ctx, req)
	if manual == "" {
		return detected
	}
	return models.Resolution{
		Location: detected.Location,
		Source:   models.SourceManual,
		Manual:   manual,
		Failure:  detected.Failure,
	}
}
