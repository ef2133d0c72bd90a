package workflow

import (
	"github.com/zepph7/christmas-surprise/pkg/celebration"
	"github.com/zepph7/christmas-surprise/pkg/models"
)

type Indicator string

const (
	IndicatorNone    Indicator = ""
	IndicatorError   Indicator = "error"
	IndicatorSuccess Indicator = "success"
)

type ControlState string

const (
	ControlIdle ControlState = "idle"
	ControlBusy ControlState = "busy"
	ControlDone ControlState = "done"
)

const (
	LabelIdle = "Request Christmas Surprise"
	LabelBusy = "Preparing your surprise..."
	LabelDone = "Surprise Requested!"
)

const (
	MsgDetecting    = "🔍 Detecting your location for Santa..."
	MsgAdvisory     = "⏳ Location detection is taking longer than expected..."
	MsgNoCity       = "📍 Couldn't detect your city. Please enter it below (optional)."
	MsgSending      = "✉️ Sending your Christmas wish to Santa... 🎅"
	MsgSuccess      = "🎉 Thank you %s! Your Christmas surprise is flowers of happiness enjoy! 🎁"
	MsgFailure      = "❌ Oops! %s"
	MsgUnexpected   = "⚠️ Something went wrong. Please try again."
	LocationHeading = "🎯 preparing christmas Gift:"
	LocationDefault = "Christmas Gift successfully prepared"
)

type SubmitControl struct {
	Enabled bool         `json:"enabled"`
	Label   string       `json:"label"`
	State   ControlState `json:"state"`
}

func control(state ControlState) SubmitControl {
	switch state {
	case ControlBusy:
		return SubmitControl{Enabled: false, Label: LabelBusy, State: ControlBusy}
	case ControlDone:
		return SubmitControl{Enabled: false, Label: LabelDone, State: ControlDone}
	default:
		return SubmitControl{Enabled: true, Label: LabelIdle, State: ControlIdle}
	}
}

// FormView is everything the page needs to render one form.
type FormView struct {
	Status         *models.StatusMessage `json:"status"`
	Name           string                `json:"name"`
	NameIndicator  Indicator             `json:"name_indicator"`
	NameError      string                `json:"name_error"`
	ManualLocation string                `json:"manual_location"`
	ManualPrompt   bool                  `json:"manual_prompt"`
	LocationLabel  string                `json:"location_label"`
	Control        SubmitControl         `json:"control"`
	Processing     bool                  `json:"processing"`
	Celebrating    bool                  `json:"celebrating"`
}

// Outcome reports one submit attempt.
type Outcome struct {
	Accepted     bool                    `json:"accepted"`
	Delivered    bool                    `json:"delivered"`
	Validation   models.ValidationResult `json:"validation"`
	Result       *models.SubmitResult    `json:"result,omitempty"`
	Resolution   *models.Resolution      `json:"resolution,omitempty"`
	Status       *models.StatusMessage   `json:"status,omitempty"`
	Celebration  *celebration.Plan       `json:"celebration,omitempty"`
	ManualPrompt bool                    `json:"manual_prompt"`
}

// locationLabel renders the location panel text the way the page shows it.
func locationLabel(res models.Resolution) string {
	if res.Source == models.SourceManual {
		return LocationHeading + " " + res.Manual
	}
	if !res.Usable() {
		return ""
	}
	if label := res.Location.Label(); label != "" {
		return LocationHeading + " " + label
	}
	return LocationHeading + " " + LocationDefault
}
