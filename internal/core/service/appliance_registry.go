package service

import (
	"errors"
	"fmt"
	"sync"

	"github.com/devkiraa/aura-smart-home/internal/core/domain"
	"github.com/devkiraa/aura-smart-home/internal/core/port"

	"go.uber.org/zap"
)

// ApplianceRegistry holds the controlled outputs and their live state.
//
// State lives behind mu. Hardware writes happen after mu is released and are
// serialized by driveMu; each write re-reads the current state so the pin
// always ends on the latest value even when two callers race.
type ApplianceRegistry struct {
	mu         sync.Mutex
	appliances []domain.Appliance
	index      map[domain.ApplianceId]int

	driveMu sync.Mutex
	driver  port.OutputDriver
	logger  *zap.Logger
}

func NewApplianceRegistry(driver port.OutputDriver, logger *zap.Logger) *ApplianceRegistry {
	return &ApplianceRegistry{
		index:  map[domain.ApplianceId]int{},
		driver: driver,
		logger: logger.With(zap.String("component", "registry")),
	}
}

// Load replaces the whole appliance set. Every output starts de-energized.
func (r *ApplianceRegistry) Load(specs []domain.ApplianceSpec) error {
	if err := ValidateSpecs(specs); err != nil {
		return err
	}

	r.driveMu.Lock()
	defer r.driveMu.Unlock()

	r.mu.Lock()
	r.appliances = make([]domain.Appliance, len(specs))
	r.index = make(map[domain.ApplianceId]int, len(specs))
	for i, s := range specs {
		r.appliances[i] = domain.Appliance{Id: s.Id, Name: s.Name, State: false}
		r.index[s.Id] = i
	}
	r.mu.Unlock()

	var errs []error
	for _, s := range specs {
		if err := r.driver.Setup(s.Id); err != nil {
			errs = append(errs, fmt.Errorf("setup pin %d: %w", s.Id, err))
			continue
		}
		if err := r.driver.Write(s.Id, false); err != nil {
			errs = append(errs, fmt.Errorf("write pin %d: %w", s.Id, err))
		}
	}
	r.logger.Info("appliances loaded", zap.Int("count", len(specs)))
	return errors.Join(errs...)
}

// Toggle flips the output state and drives the pin before returning.
func (r *ApplianceRegistry) Toggle(id domain.ApplianceId) (bool, error) {
	r.mu.Lock()
	i, ok := r.index[id]
	if !ok {
		r.mu.Unlock()
		return false, fmt.Errorf("toggle %d: %w", id, domain.ErrApplianceNotFound)
	}
	r.appliances[i].State = !r.appliances[i].State
	newState := r.appliances[i].State
	r.mu.Unlock()

	return newState, r.drive(id)
}

// SetState is an idempotent absolute set. changed is false, and no hardware
// write happens, when the appliance is already at state.
func (r *ApplianceRegistry) SetState(id domain.ApplianceId, state bool) (bool, error) {
	r.mu.Lock()
	i, ok := r.index[id]
	if !ok {
		r.mu.Unlock()
		return false, fmt.Errorf("set state %d: %w", id, domain.ErrApplianceNotFound)
	}
	if r.appliances[i].State == state {
		r.mu.Unlock()
		return false, nil
	}
	r.appliances[i].State = state
	r.mu.Unlock()

	return true, r.drive(id)
}

func (r *ApplianceRegistry) Get(id domain.ApplianceId) (domain.Appliance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok {
		return domain.Appliance{}, false
	}
	return r.appliances[i], true
}

// List returns a copy of the appliances in load order.
func (r *ApplianceRegistry) List() []domain.Appliance {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Appliance, len(r.appliances))
	copy(out, r.appliances)
	return out
}

func (r *ApplianceRegistry) drive(id domain.ApplianceId) error {
	r.driveMu.Lock()
	defer r.driveMu.Unlock()

	a, ok := r.Get(id)
	if !ok {
		// replaced by a reload in the meantime
		return nil
	}
	if err := r.driver.Write(id, a.State); err != nil {
		r.logger.Error("output write failed", zap.Uint8("pin", uint8(id)), zap.Error(err))
		return fmt.Errorf("write pin %d: %w", id, err)
	}
	return nil
}

// ValidateSpecs enforces that a pin is mapped to at most one appliance.
func ValidateSpecs(specs []domain.ApplianceSpec) error {
	seen := make(map[domain.ApplianceId]struct{}, len(specs))
	for _, s := range specs {
		if _, dup := seen[s.Id]; dup {
			return fmt.Errorf("%w: pin %d", domain.ErrDuplicateAppliance, s.Id)
		}
		seen[s.Id] = struct{}{}
	}
	return nil
}
