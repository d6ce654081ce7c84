package port

import "github.com/devkiraa/aura-smart-home/internal/core/domain"

// OutputDriver drives the physical output behind an appliance.
type OutputDriver interface {
	// Setup prepares a pin for output. Called on every registry load.
	Setup(id domain.ApplianceId) error
	Write(id domain.ApplianceId, on bool) error
	Close() error
}
