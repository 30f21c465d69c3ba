package knowledge

import (
	"regexp"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// wordPattern matches runs of Unicode letters, marks, digits and underscores.
var wordPattern = regexp.MustCompile(`[\p{L}\p{M}\p{N}_]+`)

// Tokenize splits text into case-folded word tokens.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	// cases.Caser is stateful and not safe for concurrent use.
	lower := cases.Lower(language.Und)
	return wordPattern.FindAllString(lower.String(text), -1)
}
