package projector

import (
	"slices"
	"strings"
)

// Allow list of ESC/VP21 commands the control endpoint may forward to
// the projector port.
var allowedCommands = []string{
	"PWR ON",  // Power on
	"PWR OFF", // Power off to standby
	"PWR?",    // Query power state

	// Input selection
	"SOURCE 10", // Computer (VGA)
	"SOURCE 20", // Video
	"SOURCE 30", // HDMI
	"SOURCE 40", // USB display
	"SOURCE?",   // Query active source

	// A/V mute blanks the sand without dropping the lamp
	"MUTE ON",
	"MUTE OFF",
	"MUTE?",

	// Picture
	"ASPECT 00", // Normal
	"ASPECT 20", // 16:9
	"ASPECT 30", // Auto
	"ASPECT?",   // Query aspect mode
	"FREEZE ON",
	"FREEZE OFF",
	"FREEZE?",

	// Lamp and health
	"LAMP?",        // Lamp hours
	"ERR?",         // Error status
	"LUMINANCE 00", // Normal lamp power
	"LUMINANCE 01", // Eco lamp power
	"LUMINANCE?",   // Query lamp power

	// Geometry queries; correction itself stays in the calibration profile
	"VKEYSTONE?",
	"HKEYSTONE?",
}

// AllowedCommand reports whether command may be forwarded to the
// projector port.
func AllowedCommand(command string) bool {
	return slices.Contains(allowedCommands, strings.TrimSpace(command))
}
