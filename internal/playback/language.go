package playback

import (
	"fmt"
	"strings"

	lingua "github.com/pemistahl/lingua-go"
)

// LinguaDetector detects the narration language among a fixed set.
type LinguaDetector struct {
	detector lingua.LanguageDetector
	codes    map[lingua.Language]string
}

// NewLinguaDetector builds a detector over ISO 639-1 codes, e.g. "vi", "en".
// At least two known languages are required.
func NewLinguaDetector(isoCodes []string) (*LinguaDetector, error) {
	wanted := make(map[string]bool, len(isoCodes))
	for _, c := range isoCodes {
		wanted[strings.ToLower(strings.TrimSpace(c))] = true
	}

	codes := make(map[lingua.Language]string)
	var languages []lingua.Language
	for _, lang := range lingua.AllLanguages() {
		code := strings.ToLower(lang.IsoCode639_1().String())
		if wanted[code] {
			codes[lang] = code
			languages = append(languages, lang)
		}
	}
	if len(languages) < 2 {
		return nil, fmt.Errorf("language detection needs at least two known languages, got %v", isoCodes)
	}

	detector := lingua.NewLanguageDetectorBuilder().
		FromLanguages(languages...).
		Build()
	return &LinguaDetector{detector: detector, codes: codes}, nil
}

// Detect returns the ISO 639-1 code of text's language.
func (d *LinguaDetector) Detect(text string) (string, bool) {
	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return "", false
	}
	code, ok := d.codes[lang]
	return code, ok
}
