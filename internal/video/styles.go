package video

import "sort"

// Style is the look of a rendered lecture: colours are ffmpeg colour strings.
type Style struct {
	Name          string `json:"name"`
	Background    string `json:"backgroundColor"`
	TextColor     string `json:"textColor"`
	AccentColor   string `json:"accentColor"`
	TitleFontSize int    `json:"fontSizeTitle"`
	BodyFontSize  int    `json:"fontSizeBody"`
	Padding       int    `json:"padding"`
}

// DefaultStyle is used for unknown or empty style names.
const DefaultStyle = "presentation"

var styles = map[string]Style{
	"presentation": {
		Name:          "presentation",
		Background:    "0x2D3748",
		TextColor:     "0xFFFFFF",
		AccentColor:   "0x4299E1",
		TitleFontSize: 72,
		BodyFontSize:  48,
		Padding:       80,
	},
	"modern": {
		Name:          "modern",
		Background:    "0x1A202C",
		TextColor:     "0xF7FAFC",
		AccentColor:   "0x81E6D9",
		TitleFontSize: 68,
		BodyFontSize:  44,
		Padding:       100,
	},
	"classic": {
		Name:          "classic",
		Background:    "0xFFFFFF",
		TextColor:     "0x2D3748",
		AccentColor:   "0x445A78",
		TitleFontSize: 64,
		BodyFontSize:  42,
		Padding:       90,
	},
	"minimal": {
		Name:          "minimal",
		Background:    "0xF8FAFC",
		TextColor:     "0x2D3748",
		AccentColor:   "0x9F7AEA",
		TitleFontSize: 60,
		BodyFontSize:  40,
		Padding:       120,
	},
}

// LookupStyle returns the named style, falling back to the default one.
func LookupStyle(name string) (Style, bool) {
	style, ok := styles[name]
	if !ok {
		return styles[DefaultStyle], false
	}

	return style, true
}

// IsKnownStyle reports whether name is a supported style.
func IsKnownStyle(name string) bool {
	_, ok := styles[name]

	return ok
}

// Styles returns every supported style sorted by name.
func Styles() []Style {
	out := make([]Style, 0, len(styles))
	for _, style := range styles {
		out = append(out, style)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}
