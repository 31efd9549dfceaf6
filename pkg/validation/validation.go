// Package validation checks user-supplied configuration and input before it
// reaches the simulation.
package validation

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-gl/mathgl/mgl64"
)

// Input limits
const (
	MaxCraftNameLen = 32
	MaxKeyCodeLen   = 32
)

var (
	// Allow alphanumeric, spaces, hyphens, underscores and dots in craft names
	validCraftNameChars = regexp.MustCompile(`^[a-zA-Z0-9\s\-_.]+$`)
	// Key codes follow the DOM KeyboardEvent.code naming, e.g. KeyW, Digit1, ArrowUp
	validKeyCode = regexp.MustCompile(`^[A-Z][A-Za-z0-9]*$`)
)

// ValidateCraftName validates and trims a craft name
func ValidateCraftName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("craft name cannot be empty")
	}

	if len(name) > MaxCraftNameLen {
		return "", fmt.Errorf("craft name too long: %d characters (max %d)", len(name), MaxCraftNameLen)
	}

	if !utf8.ValidString(name) {
		return "", fmt.Errorf("craft name contains invalid UTF-8 characters")
	}

	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("craft name cannot be only whitespace")
	}

	for _, r := range trimmed {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("craft name contains control characters")
		}
	}

	if !validCraftNameChars.MatchString(trimmed) {
		return "", fmt.Errorf("craft name contains invalid characters (only alphanumeric, spaces, hyphens, underscores and dots allowed)")
	}

	return trimmed, nil
}

// ValidateKeyCode validates an input key code
func ValidateKeyCode(code string) error {
	if code == "" {
		return fmt.Errorf("key code cannot be empty")
	}
	if len(code) > MaxKeyCodeLen {
		return fmt.Errorf("key code too long: %d characters (max %d)", len(code), MaxKeyCodeLen)
	}
	if !validKeyCode.MatchString(code) {
		return fmt.Errorf("invalid key code %q", code)
	}
	return nil
}

// ValidateFinite rejects NaN and infinite values
func ValidateFinite(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s must be finite, got %v", name, v)
	}
	return nil
}

// ValidatePositive requires a finite value above zero
func ValidatePositive(name string, v float64) error {
	if err := ValidateFinite(name, v); err != nil {
		return err
	}
	if v <= 0 {
		return fmt.Errorf("%s must be positive, got %v", name, v)
	}
	return nil
}

// ValidateNonNegative requires a finite value of at least zero
func ValidateNonNegative(name string, v float64) error {
	if err := ValidateFinite(name, v); err != nil {
		return err
	}
	if v < 0 {
		return fmt.Errorf("%s cannot be negative, got %v", name, v)
	}
	return nil
}

// ValidateFraction requires a value in [0, 1]
func ValidateFraction(name string, v float64) error {
	return ValidateRange(name, v, 0, 1)
}

// ValidateRange requires a finite value in [lo, hi]
func ValidateRange(name string, v, lo, hi float64) error {
	if err := ValidateFinite(name, v); err != nil {
		return err
	}
	if v < lo || v > hi {
		return fmt.Errorf("%s must be between %v and %v, got %v", name, lo, hi, v)
	}
	return nil
}

// ValidateVector rejects vectors with non-finite components
func ValidateVector(name string, v mgl64.Vec3) error {
	for i, c := range v {
		if err := ValidateFinite(fmt.Sprintf("%s[%d]", name, i), c); err != nil {
			return err
		}
	}
	return nil
}

// ValidatePositiveVector requires every component to be positive
func ValidatePositiveVector(name string, v mgl64.Vec3) error {
	for i, c := range v {
		if err := ValidatePositive(fmt.Sprintf("%s[%d]", name, i), c); err != nil {
			return err
		}
	}
	return nil
}
