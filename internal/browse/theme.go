package browse

import (
	"log/slog"
	"strings"

	darkmode "github.com/thiagokokada/dark-mode-go"
)

type ThemePreference int

const (
	ThemeAuto ThemePreference = iota
	ThemeLight
	ThemeDark
)

func (p ThemePreference) String() string {
	switch p {
	case ThemeLight:
		return "light"
	case ThemeDark:
		return "dark"
	default:
		return "auto"
	}
}

// detectDarkMode is swappable in tests.
var detectDarkMode = darkmode.IsDarkMode

func ThemePreferenceFromString(raw string) ThemePreference {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case ThemeDark.String():
		return ThemeDark
	case ThemeLight.String():
		return ThemeLight
	default:
		return ThemeAuto
	}
}

// styleNameForPreference maps the preference to a chroma style. Auto follows
// the desktop dark-mode setting and falls back to light when detection fails.
func styleNameForPreference(pref ThemePreference) string {
	switch pref {
	case ThemeDark:
		return "github-dark"
	case ThemeLight:
		return "github"
	default:
		if detectDarkMode != nil {
			if dark, err := detectDarkMode(); err == nil {
				if dark {
					return "github-dark"
				}
			} else {
				slog.Debug("detect dark-mode", slog.Any("error", err))
			}
		}
		return "github"
	}
}
