// Package validate cross-checks claimed customer fields against the
// canonical document record and enforces field format rules.
package validate

import (
	"strings"

	"github.com/agext/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var foldCaser = cases.Fold()

// Normalize reduces a value to its comparison form: NFKC-normalized,
// case-folded, punctuation stripped off token edges, whitespace collapsed.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = foldCaser.String(s)

	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.Trim(w, ".,;:!?()[]{}\"'-")
	}
	return strings.Join(words, " ")
}

// Similarity computes a normalized edit-distance similarity in [0,1] between
// the comparison forms of a and b. Multi-word values with the same word count
// are compared word by word and score as their weakest word, so a single
// altered name component cannot hide behind the rest of the string.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return 1.0
	}

	wa, wb := strings.Fields(na), strings.Fields(nb)
	if len(wa) > 1 && len(wa) == len(wb) {
		minSim := 1.0
		for i := range wa {
			if s := levenshtein.Similarity(wa[i], wb[i], nil); s < minSim {
				minSim = s
			}
		}
		return minSim
	}
	return levenshtein.Similarity(na, nb, nil)
}
