package timer

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds a display label into its dedupe form: diacritics stripped,
// lowercased, whitespace collapsed. Matching stays robust to formatting
// differences between clients ("Envío  #42" and "envio #42" collide).
func Normalize(label string) string {
	stripped, _, err := transform.String(stripMarks(), label)
	if err != nil {
		stripped = label
	}
	return strings.Join(strings.Fields(strings.ToLower(stripped)), " ")
}

func stripMarks() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}
