package types

import "strings"

// Script classifies how a language's text can be drawn.
type Script int

const (
	// ScriptLatin text is drawable with the document's base font family.
	ScriptLatin Script = iota
	// ScriptComplex text needs the rasterization fallback.
	ScriptComplex
)

// Language is a report language.
type Language struct {
	Code   string
	Name   string
	Script Script
}

// NeedsRaster reports whether text in this language must be rasterized.
func (l Language) NeedsRaster() bool { return l.Script != ScriptLatin }

// DefaultLanguage is used when no language is requested.
var DefaultLanguage = Language{Code: "en", Name: "English", Script: ScriptLatin}

var languages = map[string]Language{
	"en": DefaultLanguage,
	"es": {Code: "es", Name: "Spanish", Script: ScriptLatin},
	"fr": {Code: "fr", Name: "French", Script: ScriptLatin},
	"de": {Code: "de", Name: "German", Script: ScriptLatin},
	"pt": {Code: "pt", Name: "Portuguese", Script: ScriptLatin},
	"it": {Code: "it", Name: "Italian", Script: ScriptLatin},
	"nl": {Code: "nl", Name: "Dutch", Script: ScriptLatin},
	"hi": {Code: "hi", Name: "Hindi", Script: ScriptComplex},
	"mr": {Code: "mr", Name: "Marathi", Script: ScriptComplex},
	"bn": {Code: "bn", Name: "Bengali", Script: ScriptComplex},
	"gu": {Code: "gu", Name: "Gujarati", Script: ScriptComplex},
	"pa": {Code: "pa", Name: "Punjabi", Script: ScriptComplex},
	"ta": {Code: "ta", Name: "Tamil", Script: ScriptComplex},
	"te": {Code: "te", Name: "Telugu", Script: ScriptComplex},
	"kn": {Code: "kn", Name: "Kannada", Script: ScriptComplex},
	"ml": {Code: "ml", Name: "Malayalam", Script: ScriptComplex},
	"ar": {Code: "ar", Name: "Arabic", Script: ScriptComplex},
	"ru": {Code: "ru", Name: "Russian", Script: ScriptComplex},
	"el": {Code: "el", Name: "Greek", Script: ScriptComplex},
	"zh": {Code: "zh", Name: "Chinese", Script: ScriptComplex},
	"ja": {Code: "ja", Name: "Japanese", Script: ScriptComplex},
	"ko": {Code: "ko", Name: "Korean", Script: ScriptComplex},
}

// LookupLanguage resolves a language code such as "hi" or "en-GB".
// Unknown codes are kept but treated as needing rasterization, since the
// base font family only covers Western European text.
func LookupLanguage(code string) Language {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return DefaultLanguage
	}
	if l, ok := languages[code]; ok {
		return l
	}
	if i := strings.IndexAny(code, "-_"); i > 0 {
		if l, ok := languages[code[:i]]; ok {
			return l
		}
	}
	return Language{Code: code, Name: code, Script: ScriptComplex}
}
