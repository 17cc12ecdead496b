package extract

import (
	"regexp"
	"strings"

	"github.com/notbrokker/notbrokker-property-api-sub001/portal"
)

type recoverer struct {
	re   *regexp.Regexp
	unit string
}

var recoverers = map[portal.Recovery]recoverer{
	portal.RecoverBedrooms:  {regexp.MustCompile(`(?i)(\d+)\s*(?:dormitorios?|dorms?\b|habitaci(?:o|ó)n(?:es)?|piezas?)`), "dormitorios"},
	portal.RecoverBathrooms: {regexp.MustCompile(`(?i)(\d+)\s*baños?`), "baños"},
	portal.RecoverSurface:   {regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(?:m²|m2\b|mts2?\b|metros cuadrados)`), "m²"},
}

// recoverField fills a field whose selectors all failed, first from the
// characteristic keys, then from free text.
func recoverField(f portal.FieldSpec, chars map[string]string, text string) (string, bool) {
	for _, k := range f.CharacteristicKeys {
		if v, ok := chars[k]; ok && v != "" {
			return v, true
		}
	}
	rc, ok := recoverers[f.Recover]
	if !ok || text == "" {
		return "", false
	}
	m := rc.re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	n := m[1]
	if f.Recover == portal.RecoverBedrooms && n == "1" {
		return n + " dormitorio", true
	}
	if f.Recover == portal.RecoverBathrooms && n == "1" {
		return n + " baño", true
	}
	return strings.TrimSpace(n + " " + rc.unit), true
}
