package extract

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/notbrokker/notbrokker-property-api-sub001/portal"
)

const maxCharacteristicRows = 200

// quantityRow matches rows like "3 dormitorios" or "120 m² útiles".
var quantityRow = regexp.MustCompile(`^(\d+(?:[.,]\d+)?)\s*(.+)$`)

// characteristics unions every region into one map keyed by normalised
// label. The first value seen for a label wins.
func characteristics(ctx context.Context, root Node, regions []portal.Region) map[string]string {
	out := make(map[string]string)
	for _, reg := range regions {
		if ctx.Err() != nil {
			break
		}
		rows, err := root.Find(reg.Row)
		if err != nil {
			continue
		}
		if len(rows) > maxCharacteristicRows {
			rows = rows[:maxCharacteristicRows]
		}
		for _, row := range rows {
			label, value := readRow(row, reg)
			key := NormalizeLabel(label)
			if key == "" || value == "" {
				continue
			}
			if _, seen := out[key]; !seen {
				out[key] = value
			}
		}
	}
	return out
}

func readRow(row Node, reg portal.Region) (label, value string) {
	if reg.Label != "" && reg.Value != "" {
		return textOf(row, reg.Label), textOf(row, reg.Value)
	}
	t, err := row.Text()
	if err != nil {
		return "", ""
	}
	t = collapseSpace(t)
	if l, v, ok := strings.Cut(t, ":"); ok {
		return strings.TrimSpace(l), strings.TrimSpace(v)
	}
	if m := quantityRow.FindStringSubmatch(t); m != nil {
		return m[2], m[1]
	}
	return "", ""
}

// NormalizeLabel lower-cases a label, strips accents and joins words with
// '_': "Superficie útil" becomes "superficie_util".
func NormalizeLabel(label string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, label)
	if err != nil {
		folded = label
	}
	folded = strings.ToLower(folded)
	var b strings.Builder
	underscore := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
