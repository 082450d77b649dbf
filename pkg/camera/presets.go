package camera

// Preset names for common constraint sets
const (
	PresetDefault  = "default"
	Preset720p     = "720p"
	Preset1080p    = "1080p"
	PresetLowPower = "lowpower"
	PresetFast     = "fast"
)

// Presets returns all available preset constraints.
func Presets() map[string]Constraints {
	return map[string]Constraints{
		PresetDefault:  DefaultConstraints(),
		Preset720p:     HD720Constraints(),
		Preset1080p:    HD1080Constraints(),
		PresetLowPower: LowPowerConstraints(),
		PresetFast:     FastConstraints(),
	}
}

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{
		PresetDefault,
		Preset720p,
		Preset1080p,
		PresetLowPower,
		PresetFast,
	}
}

// GetPreset returns a preset by name, or nil if not found.
func GetPreset(name string) *Constraints {
	if c, ok := Presets()[name]; ok {
		return &c
	}
	return nil
}

// HD720Constraints returns 720p constraints.
func HD720Constraints() Constraints {
	c := DefaultConstraints()
	c.Width = 1280
	c.Height = 720
	return c
}

// HD1080Constraints returns 1080p constraints.
// Landmarks are steadier but inference costs roughly 4x the default.
func HD1080Constraints() Constraints {
	c := DefaultConstraints()
	c.Width = 1920
	c.Height = 1080
	c.FrameRate = 24
	return c
}

// LowPowerConstraints trades accuracy for battery on laptops.
func LowPowerConstraints() Constraints {
	c := DefaultConstraints()
	c.Width = 320
	c.Height = 240
	c.FrameRate = 15
	return c
}

// FastConstraints keeps the default size but asks for 60 fps.
func FastConstraints() Constraints {
	c := DefaultConstraints()
	c.FrameRate = 60
	return c
}
