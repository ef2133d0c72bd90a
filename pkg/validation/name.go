package validation

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/zepph7/christmas-surprise/pkg/models"
)

const (
	MinNameLength = 2
	MaxNameLength = 50

	ReasonEmpty    = "Please enter your name"
	ReasonTooShort = "Name should be at least 2 characters"
	ReasonTooLong  = "Name should be less than 50 characters"
	ReasonInvalid  = "Please enter a valid name (letters and spaces only)"
)

var namePattern = regexp.MustCompile(`^[a-zA-Z\s\-'.]+$`)

// ValidateName trims raw and checks it against the name rules in order:
// empty, too short, too long, then the letters/space/hyphen/apostrophe/period whitelist.
func ValidateName(raw string) models.ValidationResult {
	name := strings.TrimSpace(raw)
	length := utf8.RuneCountInString(name)

	switch {
	case name == "":
		return models.ValidationResult{Reason: ReasonEmpty}
	case length < MinNameLength:
		return models.ValidationResult{Reason: ReasonTooShort}
	case length > MaxNameLength:
		return models.ValidationResult{Reason: ReasonTooLong}
	case !namePattern.MatchString(name):
		return models.ValidationResult{Reason: ReasonInvalid}
	}
	return models.ValidationResult{Valid: true}
}
