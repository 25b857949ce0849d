package tts

import "sort"

// voiceCatalogue lists the voices the TTS service can speak with.
var voiceCatalogue = []string{
	"rachel", "drew", "clyde", "dave", "fin", "sarah", "antoni",
	"thomas", "charlie", "george", "emily", "elli", "callum",
	"patrick", "harry", "liam", "dorothy", "josh", "arnold", "adam", "sam",
}

// languageCatalogue maps display names to language codes.
var languageCatalogue = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"russian":    "ru",
	"japanese":   "ja",
	"korean":     "ko",
	"chinese":    "zh",
	"hindi":      "hi",
	"arabic":     "ar",
}

// Catalogue is the list of voices and languages offered to callers.
type Catalogue struct {
	Voices    []string          `json:"voices"`
	Languages map[string]string `json:"languages"`
}

// AvailableVoices returns a copy of the voice and language catalogue.
func AvailableVoices() Catalogue {
	voices := append([]string(nil), voiceCatalogue...)
	sort.Strings(voices)

	languages := make(map[string]string, len(languageCatalogue))
	for name, code := range languageCatalogue {
		languages[name] = code
	}

	return Catalogue{Voices: voices, Languages: languages}
}

// IsKnownVoice reports whether voice is in the catalogue.
func IsKnownVoice(voice string) bool {
	for _, known := range voiceCatalogue {
		if known == voice {
			return true
		}
	}

	return false
}

// IsKnownLanguage reports whether code is one of the catalogue's language codes.
func IsKnownLanguage(code string) bool {
	for _, known := range languageCatalogue {
		if known == code {
			return true
		}
	}

	return false
}
