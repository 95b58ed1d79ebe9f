package models

import (
	"regexp"
	"strings"
	"time"
)

// EffectType is a named rendering behavior applied to a base color.
type EffectType string

const (
	EffectNone      EffectType = "none"
	EffectSlowFlash EffectType = "slow-flash"
	EffectFastFlash EffectType = "fast-flash"
	EffectStrobe    EffectType = "strobe"
	EffectFade      EffectType = "fade"
	EffectRainbow   EffectType = "rainbow"
)

// Effect describes one entry of the effect catalog.
type Effect struct {
	Type      EffectType `json:"type"`
	Label     string     `json:"label"`
	CadenceMs int64      `json:"cadenceMs"`
}

var effectCatalog = []Effect{
	{Type: EffectNone, Label: "None", CadenceMs: 0},
	{Type: EffectSlowFlash, Label: "Slow Flash", CadenceMs: 1000},
	{Type: EffectFastFlash, Label: "Fast Flash", CadenceMs: 200},
	{Type: EffectStrobe, Label: "Strobe", CadenceMs: 50},
	{Type: EffectFade, Label: "Fade", CadenceMs: 2000},
	{Type: EffectRainbow, Label: "Rainbow", CadenceMs: 3000},
}

// Effects returns the effect catalog in display order.
func Effects() []Effect {
	out := make([]Effect, len(effectCatalog))
	copy(out, effectCatalog)
	return out
}

// Valid reports whether e is part of the catalog.
func (e EffectType) Valid() bool {
	for _, c := range effectCatalog {
		if c.Type == e {
			return true
		}
	}
	return false
}

// Cadence returns the flash period for the effect, zero for steady effects.
func (e EffectType) Cadence() time.Duration {
	for _, c := range effectCatalog {
		if c.Type == e {
			return time.Duration(c.CadenceMs) * time.Millisecond
		}
	}
	return 0
}

// PresetColor is a named color offered to the admin console.
type PresetColor struct {
	Name string `json:"name"`
	Hex  string `json:"hex"`
}

// PresetColors is the palette shown to admins.
var PresetColors = []PresetColor{
	{Name: "Red", Hex: "#FF0000"},
	{Name: "Blue", Hex: "#0000FF"},
	{Name: "Green", Hex: "#00FF00"},
	{Name: "Yellow", Hex: "#FFFF00"},
	{Name: "Purple", Hex: "#800080"},
	{Name: "Orange", Hex: "#FFA500"},
	{Name: "Pink", Hex: "#FFC0CB"},
	{Name: "White", Hex: "#FFFFFF"},
	{Name: "Cyan", Hex: "#00FFFF"},
}

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// ValidColor reports whether c is a #RRGGBB hex string.
func ValidColor(c string) bool {
	return hexColor.MatchString(c)
}

// NormalizeColor upper-cases a hex color.
func NormalizeColor(c string) string {
	return strings.ToUpper(c)
}
