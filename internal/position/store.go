// Package position persists the screen locations recorded during capture
// and the optional cancelled-document configuration.
//
// Positions are stored as plain integer settings, two per step:
// "<prefix>_x" and "<prefix>_y" where prefix comes from
// model.StepID.SettingsPrefix. A step is present only when both
// coordinates are.
package position

import (
	"context"
	"fmt"

	"github.com/roach88/nfefetch/internal/model"
)

// SpeedKey is the settings key holding the persisted speed level.
const SpeedKey = "speed"

// Settings is the durable integer key→value collaborator.
type Settings interface {
	Get(ctx context.Context, key string) (int, bool, error)
	// SetMany writes every entry or none of them.
	SetMany(ctx context.Context, values map[string]int) error
	Delete(ctx context.Context, keys ...string) error
}

// MissingStepError reports the first main-flow step without a position.
type MissingStepError struct {
	Step model.StepID
}

func (e *MissingStepError) Error() string {
	return fmt.Sprintf("%s has no recorded position; run capture first", e.Step)
}

// Store reads and writes positions through a Settings backend.
type Store struct {
	settings Settings
}

// NewStore wraps settings.
func NewStore(settings Settings) *Store {
	return &Store{settings: settings}
}

func keysFor(step model.StepID) (string, string) {
	p := step.SettingsPrefix()
	return p + "_x", p + "_y"
}

// Save persists one step's position.
func (s *Store) Save(ctx context.Context, step model.StepID, pos model.Position) error {
	return s.SaveAll(ctx, map[model.StepID]model.Position{step: pos})
}

// SaveAll persists every position in one atomic write.
func (s *Store) SaveAll(ctx context.Context, positions map[model.StepID]model.Position) error {
	values := make(map[string]int, len(positions)*2)
	for step, pos := range positions {
		if !step.Valid() {
			return fmt.Errorf("save position: unknown step %d", int(step))
		}
		kx, ky := keysFor(step)
		values[kx] = pos.X
		values[ky] = pos.Y
	}
	if err := s.settings.SetMany(ctx, values); err != nil {
		return fmt.Errorf("save positions: %w", err)
	}
	return nil
}

// Load returns the step's position. A step with only one coordinate
// stored is reported absent.
func (s *Store) Load(ctx context.Context, step model.StepID) (model.Position, bool, error) {
	kx, ky := keysFor(step)
	x, okX, err := s.settings.Get(ctx, kx)
	if err != nil {
		return model.Position{}, false, fmt.Errorf("load %s: %w", step, err)
	}
	y, okY, err := s.settings.Get(ctx, ky)
	if err != nil {
		return model.Position{}, false, fmt.Errorf("load %s: %w", step, err)
	}
	if !okX || !okY {
		return model.Position{}, false, nil
	}
	return model.Position{X: x, Y: y}, true, nil
}

// HasCompleteSet reports whether every step in steps has a position.
func (s *Store) HasCompleteSet(ctx context.Context, steps []model.StepID) (bool, error) {
	missing, err := s.firstMissing(ctx, steps)
	if err != nil {
		return false, err
	}
	return missing == 0, nil
}

func (s *Store) firstMissing(ctx context.Context, steps []model.StepID) (model.StepID, error) {
	for _, step := range steps {
		_, ok, err := s.Load(ctx, step)
		if err != nil {
			return 0, err
		}
		if !ok {
			return step, nil
		}
	}
	return 0, nil
}

// LoadMainFlow returns all main-flow positions, or a *MissingStepError
// naming the first step that has none.
func (s *Store) LoadMainFlow(ctx context.Context) (map[model.StepID]model.Position, error) {
	out := make(map[model.StepID]model.Position, len(model.MainFlow))
	for _, step := range model.MainFlow {
		pos, ok, err := s.Load(ctx, step)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &MissingStepError{Step: step}
		}
		out[step] = pos
	}
	return out, nil
}

// SaveCancelledConfig persists both cancelled-document positions together.
func (s *Store) SaveCancelledConfig(ctx context.Context, ack, reload model.Position) error {
	return s.SaveAll(ctx, map[model.StepID]model.Position{
		model.StepCancelledAck:    ack,
		model.StepCancelledReload: reload,
	})
}

// LoadCancelledConfig returns the pair only when both steps are present.
func (s *Store) LoadCancelledConfig(ctx context.Context) (model.CancelledConfig, bool, error) {
	ack, okAck, err := s.Load(ctx, model.StepCancelledAck)
	if err != nil {
		return model.CancelledConfig{}, false, err
	}
	reload, okReload, err := s.Load(ctx, model.StepCancelledReload)
	if err != nil {
		return model.CancelledConfig{}, false, err
	}
	if !okAck || !okReload {
		return model.CancelledConfig{}, false, nil
	}
	return model.CancelledConfig{Ack: ack, Reload: reload}, true, nil
}

// ClearMainFlow removes every main-flow position.
func (s *Store) ClearMainFlow(ctx context.Context) error {
	return s.clear(ctx, model.MainFlow)
}

// ClearCancelledConfig removes the cancelled-document pair.
func (s *Store) ClearCancelledConfig(ctx context.Context) error {
	return s.clear(ctx, model.CancelledFlow)
}

func (s *Store) clear(ctx context.Context, steps []model.StepID) error {
	keys := make([]string, 0, len(steps)*2)
	for _, step := range steps {
		kx, ky := keysFor(step)
		keys = append(keys, kx, ky)
	}
	if err := s.settings.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("clear positions: %w", err)
	}
	return nil
}

// Speed returns the persisted speed level, if any.
func (s *Store) Speed(ctx context.Context) (int, bool, error) {
	v, ok, err := s.settings.Get(ctx, SpeedKey)
	if err != nil {
		return 0, false, fmt.Errorf("load speed: %w", err)
	}
	return v, ok, nil
}

// SaveSpeed persists the speed level.
func (s *Store) SaveSpeed(ctx context.Context, speed int) error {
	if err := s.settings.SetMany(ctx, map[string]int{SpeedKey: speed}); err != nil {
		return fmt.Errorf("save speed: %w", err)
	}
	return nil
}
