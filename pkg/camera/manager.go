package camera

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Manager holds the current capture constraints and handles updates.
// The gaze lifecycle reads Get() on every cold start, so changes apply
// the next time the engine is started.
type Manager struct {
	constraints Constraints
	mu          sync.RWMutex

	// Callback when constraints change
	OnChange func(c Constraints) error
}

// NewManager creates a manager seeded with the given constraints.
func NewManager(initial Constraints) *Manager {
	return &Manager{constraints: initial}
}

// Get returns the current constraints.
func (m *Manager) Get() Constraints {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.constraints
}

// Set validates and replaces the constraints.
func (m *Manager) Set(c Constraints) error {
	if errors := c.Validate(); len(errors) > 0 {
		return fmt.Errorf("validation failed: %v", errors)
	}

	m.mu.Lock()
	m.constraints = c
	callback := m.OnChange
	m.mu.Unlock()

	if callback != nil {
		if err := callback(c); err != nil {
			return fmt.Errorf("failed to apply constraints: %w", err)
		}
	}

	return nil
}

// Update applies a partial update from a decoded JSON object.
// A "preset" key replaces the base before other keys are applied.
func (m *Manager) Update(params map[string]interface{}) error {
	c := m.Get()

	if presetName, ok := params["preset"].(string); ok {
		preset := GetPreset(presetName)
		if preset == nil {
			return fmt.Errorf("unknown preset: %s", presetName)
		}
		c = *preset
	}

	for key, value := range params {
		switch key {
		case "width":
			if v, ok := toInt(value); ok {
				c.Width = v
			}
		case "height":
			if v, ok := toInt(value); ok {
				c.Height = v
			}
		case "frame_rate":
			if v, ok := toInt(value); ok {
				c.FrameRate = v
			}
		case "facing":
			if v, ok := value.(string); ok {
				c.Facing = v
			}
		}
	}

	return m.Set(c)
}

func toInt(v interface{}) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		return int(val), true
	case json.Number:
		i, err := val.Int64()
		if err == nil {
			return int(i), true
		}
	}
	return 0, false
}
