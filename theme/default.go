package theme

import (
	"github.com/pterm/pterm"
)

// Theme defines the colour scheme and styling for log output
type Theme struct {
	// Log level colours
	Debug *pterm.Style
	Info  *pterm.Style
	Warn  *pterm.Style
	Error *pterm.Style
	Fatal *pterm.Style

	// Component colours
	Success   *pterm.Style
	Highlight *pterm.Style
	Muted     *pterm.Style
	Accent    *pterm.Style

	// Domain colours
	Proxy       *pterm.Style
	HealthCheck *pterm.Style
	Counts      *pterm.Style
	Numbers     *pterm.Style

	// Functional colours
	Primary   pterm.Color
	Secondary pterm.Color
	Danger    pterm.Color
	Warning   pterm.Color
	Good      pterm.Color

	// Proxy health colours
	HealthHealthy   pterm.Color
	HealthDegraded  pterm.Color
	HealthUnhealthy pterm.Color
	HealthDead      pterm.Color
	HealthUnknown   pterm.Color
}

// Default returns the default theme
func Default() *Theme {
	return &Theme{
		// Log level styling
		Debug: pterm.NewStyle(pterm.FgLightBlue),
		Info:  pterm.NewStyle(pterm.FgGreen),
		Warn:  pterm.NewStyle(pterm.FgYellow, pterm.Bold),
		Error: pterm.NewStyle(pterm.FgRed, pterm.Bold),
		Fatal: pterm.NewStyle(pterm.FgWhite, pterm.BgRed, pterm.Bold),

		// Component styling
		Success:   pterm.NewStyle(pterm.FgGreen, pterm.Bold),
		Highlight: pterm.NewStyle(pterm.FgCyan, pterm.Bold),
		Muted:     pterm.NewStyle(pterm.FgGray),
		Accent:    pterm.NewStyle(pterm.FgMagenta),

		// Domain styling
		Proxy:       pterm.NewStyle(pterm.FgCyan),
		HealthCheck: pterm.NewStyle(pterm.FgLightMagenta),
		Counts:      pterm.NewStyle(pterm.FgLightYellow),
		Numbers:     pterm.NewStyle(pterm.FgLightYellow),

		// Colour palette
		Primary:   pterm.FgBlue,
		Secondary: pterm.FgCyan,
		Danger:    pterm.FgRed,
		Warning:   pterm.FgYellow,
		Good:      pterm.FgGreen,

		// Health palette
		HealthHealthy:   pterm.FgGreen,
		HealthDegraded:  pterm.FgYellow,
		HealthUnhealthy: pterm.FgLightRed,
		HealthDead:      pterm.FgRed,
		HealthUnknown:   pterm.FgGray,
	}
}

// Dark returns a dark theme variant
func Dark() *Theme {
	return &Theme{
		Debug: pterm.NewStyle(pterm.FgLightBlue),
		Info:  pterm.NewStyle(pterm.FgLightGreen),
		Warn:  pterm.NewStyle(pterm.FgLightYellow, pterm.Bold),
		Error: pterm.NewStyle(pterm.FgLightRed, pterm.Bold),
		Fatal: pterm.NewStyle(pterm.FgWhite, pterm.BgRed, pterm.Bold),

		Success:   pterm.NewStyle(pterm.FgLightGreen, pterm.Bold),
		Highlight: pterm.NewStyle(pterm.FgLightCyan, pterm.Bold),
		Muted:     pterm.NewStyle(pterm.FgGray),
		Accent:    pterm.NewStyle(pterm.FgLightMagenta),

		Proxy:       pterm.NewStyle(pterm.FgLightCyan),
		HealthCheck: pterm.NewStyle(pterm.FgLightMagenta),
		Counts:      pterm.NewStyle(pterm.FgLightYellow),
		Numbers:     pterm.NewStyle(pterm.FgLightYellow),

		Primary:   pterm.FgLightBlue,
		Secondary: pterm.FgLightCyan,
		Danger:    pterm.FgLightRed,
		Warning:   pterm.FgLightYellow,
		Good:      pterm.FgLightGreen,

		HealthHealthy:   pterm.FgLightGreen,
		HealthDegraded:  pterm.FgLightYellow,
		HealthUnhealthy: pterm.FgLightRed,
		HealthDead:      pterm.FgRed,
		HealthUnknown:   pterm.FgGray,
	}
}

// Light returns a light theme variant
func Light() *Theme {
	return &Theme{
		Debug: pterm.NewStyle(pterm.FgBlue),
		Info:  pterm.NewStyle(pterm.FgGreen),
		Warn:  pterm.NewStyle(pterm.FgYellow, pterm.Bold),
		Error: pterm.NewStyle(pterm.FgRed, pterm.Bold),
		Fatal: pterm.NewStyle(pterm.FgWhite, pterm.BgRed, pterm.Bold),

		Success:   pterm.NewStyle(pterm.FgGreen, pterm.Bold),
		Highlight: pterm.NewStyle(pterm.FgBlue, pterm.Bold),
		Muted:     pterm.NewStyle(pterm.FgDarkGray),
		Accent:    pterm.NewStyle(pterm.FgMagenta),

		Proxy:       pterm.NewStyle(pterm.FgBlue),
		HealthCheck: pterm.NewStyle(pterm.FgMagenta),
		Counts:      pterm.NewStyle(pterm.FgYellow),
		Numbers:     pterm.NewStyle(pterm.FgYellow),

		Primary:   pterm.FgBlue,
		Secondary: pterm.FgCyan,
		Danger:    pterm.FgRed,
		Warning:   pterm.FgRed,
		Good:      pterm.FgGreen,

		HealthHealthy:   pterm.FgGreen,
		HealthDegraded:  pterm.FgYellow,
		HealthUnhealthy: pterm.FgRed,
		HealthDead:      pterm.FgRed,
		HealthUnknown:   pterm.FgDarkGray,
	}
}

// GetTheme returns the appropriate theme based on environment or preference
func GetTheme(name string) *Theme {
	switch name {
	case "dark":
		return Dark()
	case "light":
		return Light()
	default:
		return Default()
	}
}
