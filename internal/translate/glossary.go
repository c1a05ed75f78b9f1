package translate

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
)

//go:embed langdata/*.json
var langDataFS embed.FS

type languageData struct {
	StyleGuide string            `json:"style_guide"`
	Glossary   map[string]string `json:"glossary"`
}

func loadLanguageData(lang string) (languageData, error) {
	raw, err := langDataFS.ReadFile("langdata/" + lang + ".json")
	if err != nil {
		return languageData{}, fmt.Errorf("translate: no glossary shipped for language %q", lang)
	}
	var data languageData
	if err := json.Unmarshal(raw, &data); err != nil {
		return languageData{}, fmt.Errorf("translate: corrupt glossary for language %q: %w", lang, err)
	}
	return data, nil
}

// EmbeddedGlossary implements LanguageContextProvider and
// TerminologyLookup from the static per-language files shipped under
// langdata/, per spec.md §4.7 ("embedded English-to-target glossary").
type EmbeddedGlossary struct{}

// LanguageContext renders the style guide plus glossary as prose the
// agent's get_language_context_for_translation tool returns.
func (EmbeddedGlossary) LanguageContext(lang string) (string, error) {
	data, err := loadLanguageData(lang)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(data.StyleGuide)
	sb.WriteString("\n\nGlossary:\n")
	for term, translation := range data.Glossary {
		sb.WriteString("- ")
		sb.WriteString(term)
		sb.WriteString(" -> ")
		sb.WriteString(translation)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// Lookup returns the direct dictionary translation for term in lang, if
// the shipped glossary has an entry for it.
func (EmbeddedGlossary) Lookup(term, lang string) (string, error) {
	data, err := loadLanguageData(lang)
	if err != nil {
		return "", err
	}
	translation, ok := data.Glossary[term]
	if !ok {
		return "", fmt.Errorf("translate: no glossary entry for %q in %q", term, lang)
	}
	return translation, nil
}
