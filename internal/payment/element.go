package payment

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultLocale is used when the widget does not request one.
const DefaultLocale = "en"

const defaultFontFamily = `-apple-system, BlinkMacSystemFont, "Helvetica", "Gill Sans", "Inter", sans-serif`

// AppearanceConfig is the theming the host page passes to the widget.
type AppearanceConfig struct {
	Theme        string            `json:"theme,omitempty"` // "dark" or "light"
	BorderRadius *decimal.Decimal  `json:"borderRadius,omitempty"`
	Font         string            `json:"font,omitempty"`
	Colors       *AppearanceColors `json:"colors,omitempty"`
}

// AppearanceColors overrides individual palette entries.
type AppearanceColors struct {
	Background          string `json:"background,omitempty"`
	Foreground          string `json:"foreground,omitempty"`
	Primary             string `json:"primary,omitempty"`
	PrimaryForeground   string `json:"primaryForeground,omitempty"`
	Secondary           string `json:"secondary,omitempty"`
	SecondaryForeground string `json:"secondaryForeground,omitempty"`
	Muted               string `json:"muted,omitempty"`
	MutedForeground     string `json:"mutedForeground,omitempty"`
	Accent              string `json:"accent,omitempty"`
	AccentForeground    string `json:"accentForeground,omitempty"`
	Destructive         string `json:"destructive,omitempty"`
	Border              string `json:"border,omitempty"`
	Ring                string `json:"ring,omitempty"`
}

// ElementAppearance is the appearance object understood by the payment
// element.
type ElementAppearance struct {
	Theme     string                       `json:"theme"`
	Variables map[string]string            `json:"variables"`
	Rules     map[string]map[string]string `json:"rules,omitempty"`
}

// Font is a custom font made available to the payment element.
type Font struct {
	CSSSrc string `json:"cssSrc,omitempty"`
	Family string `json:"family,omitempty"`
	Src    string `json:"src,omitempty"`
	Weight string `json:"weight,omitempty"`
}

// ElementOptions is the init payload for the payment element.
type ElementOptions struct {
	ClientSecret string            `json:"clientSecret"`
	PublicKey    string            `json:"publicKey"`
	Appearance   ElementAppearance `json:"appearance"`
	Locale       string            `json:"locale"`
	Fonts        []Font            `json:"fonts,omitempty"`
	ComponentKey int64             `json:"componentKey"`
}

type palette struct {
	background, backgroundSecondary string
	text, textSecondary, primary    string
	danger, border                  string
}

var (
	darkPalette = palette{
		background:          "#09090B",
		backgroundSecondary: "#18181B",
		text:                "#fafafa",
		textSecondary:       "#a1a1aa",
		primary:             "#fafafa",
		danger:              "#ff876f",
		border:              "#27272a",
	}
	lightPalette = palette{
		background:          "#ffffff",
		backgroundSecondary: "#f4f4f5",
		text:                "#09090b",
		textSecondary:       "#71717a",
		primary:             "#18181b",
		danger:              "#dc2626",
		border:              "#e4e4e7",
	}
)

// ConvertAppearance maps the widget theming onto payment element variables.
// Unset values fall back to the theme palette.
func ConvertAppearance(a *AppearanceConfig) ElementAppearance {
	if a == nil {
		a = &AppearanceConfig{}
	}

	p := lightPalette
	if a.Theme == "dark" {
		p = darkPalette
	}
	if c := a.Colors; c != nil {
		p.background = or(c.Background, p.background)
		p.backgroundSecondary = or(c.Secondary, p.backgroundSecondary)
		p.text = or(c.Foreground, p.text)
		p.textSecondary = or(c.MutedForeground, p.textSecondary)
		p.primary = or(c.Primary, p.primary)
		p.danger = or(c.Destructive, p.danger)
		p.border = or(c.Border, p.border)
	}

	radius := "0.25rem"
	if a.BorderRadius != nil && a.BorderRadius.IsPositive() {
		radius = fmt.Sprintf("%srem", a.BorderRadius.String())
	}

	border := "1px solid " + p.border
	return ElementAppearance{
		Theme: "flat",
		Variables: map[string]string{
			"fontFamily":           or(a.Font, defaultFontFamily),
			"borderRadius":         radius,
			"focusOutline":         "none",
			"focusBoxShadow":       "none",
			"colorDanger":          p.danger,
			"colorBackground":      p.background,
			"colorPrimary":         p.primary,
			"colorText":            p.text,
			"colorTextSecondary":   p.textSecondary,
			"colorTextPlaceholder": p.textSecondary,
			"tabIconColor":         p.text,
			"tabIconSelectedColor": p.text,
		},
		Rules: map[string]map[string]string{
			".Input": {
				"padding":         "12px",
				"border":          border,
				"backgroundColor": p.background,
				"fontSize":        "14px",
				"outline":         "none",
			},
			".Input:focus": {"backgroundColor": p.backgroundSecondary},
			".Label":       {"marginBottom": "8px", "fontSize": "14px", "fontWeight": "500"},
			".Tab": {
				"padding":         "10px 12px 8px 12px",
				"border":          border,
				"backgroundColor": p.background,
			},
			".Tab:hover": {"backgroundColor": p.backgroundSecondary},
			".Tab--selected, .Tab--selected:focus, .Tab--selected:hover": {
				"border":          border,
				"backgroundColor": p.backgroundSecondary,
				"color":           p.text,
			},
		},
	}
}

// ElementOptions builds the payment element init payload from the cached
// authorization. It reports false when no authorization is cached.
func (r *Refresher) ElementOptions(a *AppearanceConfig, locale string, fonts []Font) (ElementOptions, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.auth == nil {
		return ElementOptions{}, false
	}
	return ElementOptions{
		ClientSecret: r.auth.ClientSecret,
		PublicKey:    r.auth.PublicKey,
		Appearance:   ConvertAppearance(a),
		Locale:       or(locale, DefaultLocale),
		Fonts:        fonts,
		ComponentKey: r.key,
	}, true
}

func or(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
