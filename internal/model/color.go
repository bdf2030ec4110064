package model

import (
	"strings"

	appLog "daybook/internal/log"
)

// Color is a symbolic token; mapping to an actual display color happens in
// the rendering layer.
type Color string

const (
	ColorDefault Color = "default"
	ColorBlue    Color = "blue"
	ColorGreen   Color = "green"
	ColorRed     Color = "red"
	ColorOrange  Color = "orange"
	ColorPurple  Color = "purple"
	ColorYellow  Color = "yellow"
	ColorGray    Color = "gray"
)

var knownColors = map[Color]struct{}{
	ColorDefault: {},
	ColorBlue:    {},
	ColorGreen:   {},
	ColorRed:     {},
	ColorOrange:  {},
	ColorPurple:  {},
	ColorYellow:  {},
	ColorGray:    {},
}

// ParseColor returns the color for token and whether it was recognised.
// Empty and unknown tokens yield ColorDefault.
func ParseColor(token string) (Color, bool) {
	c := Color(strings.ToLower(strings.TrimSpace(token)))
	if c == "" {
		return ColorDefault, true
	}
	if _, ok := knownColors[c]; ok {
		return c, true
	}
	return ColorDefault, false
}

// UnmarshalText falls back to ColorDefault on unknown tokens so a single
// badly-tagged event from the backend does not break decoding.
func (c *Color) UnmarshalText(b []byte) error {
	parsed, ok := ParseColor(string(b))
	if !ok {
		appLog.Warn("unknown color token; using default", "token", string(b))
	}
	*c = parsed
	return nil
}

func (c Color) MarshalText() ([]byte, error) {
	if c == "" {
		return []byte(ColorDefault), nil
	}
	return []byte(c), nil
}
