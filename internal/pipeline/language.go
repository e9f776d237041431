package pipeline

import (
	"strings"
	"sync"

	"github.com/pemistahl/lingua-go"
)

// LanguageDetector reports the dominant language of extracted text as an
// ISO 639-1 code.
type LanguageDetector interface {
	Detect(text string) (string, bool)
}

// minDetectRunes is the shortest text worth classifying.
const minDetectRunes = 12

// LinguaDetector distinguishes the languages the fallback engine is trained
// for. The underlying models load on first use.
type LinguaDetector struct {
	languages []lingua.Language

	once     sync.Once
	detector lingua.LanguageDetector
}

// NewLinguaDetector creates a detector for English and Spanish.
func NewLinguaDetector() *LinguaDetector {
	return &LinguaDetector{languages: []lingua.Language{lingua.English, lingua.Spanish}}
}

// Detect returns the ISO 639-1 code of the most likely language.
func (d *LinguaDetector) Detect(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if len([]rune(text)) < minDetectRunes {
		return "", false
	}
	d.once.Do(func() {
		d.detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(d.languages...).
			Build()
	})
	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return "", false
	}
	return strings.ToLower(lang.IsoCode639_1().String()), true
}

var _ LanguageDetector = (*LinguaDetector)(nil)
