package domain

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// RoomConfig parameterizes one thematic room. The five historical
// rooms differ only by these fields, so the engine takes the config as
// data instead of duplicating a controller per room.
type RoomConfig struct {
	Name       string        `validate:"required"`
	EditWindow time.Duration `validate:"required,gt=0"`

	// AnonymizationRequired selects the voice-publish policy.
	// When set, captured audio only ever leaves the pipeline through
	// the anonymizer; the raw capture is never uploaded.
	AnonymizationRequired bool
}

// DefaultEditWindow matches the window the rooms have always used.
const DefaultEditWindow = 20 * time.Minute

var validate = validator.New()

func (c RoomConfig) Validate() error {
	return validate.Struct(c)
}
