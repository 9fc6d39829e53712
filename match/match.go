// Package match links structure-tree leaves to tagged content runs by
// fuzzy text overlap, and link annotations to Link elements.
package match

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/wudi/pdftag/structure"
	"github.com/wudi/pdftag/tagger"
)

// Threshold is the minimum overlap score for a leaf/run pairing. Below
// it the pairing is rejected and the run stays on the root fallback.
const Threshold = 0.3

// Assignment records one accepted leaf/run pairing.
type Assignment struct {
	Leaf  *structure.Element
	Run   tagger.Run
	Score float64
}

// Result summarizes a linking pass.
type Result struct {
	Assignments    []Assignment
	UnlinkedLeaves []*structure.Element // leaves no run scored high enough for
	UnlinkedRuns   int                  // content runs no leaf claimed
}

// Link pairs leaves with content runs greedily in document order: each
// leaf scores every still-unclaimed content run, takes the best one if
// it clears the threshold, and the run's marked-content id is attached
// to the leaf. Ties go to the earlier run. Exact page-position
// correlation is out of reach without layout analysis, but document
// order plus token overlap resolves the common case of an outline
// written against the same text.
func Link(leaves []*structure.Element, runs []tagger.Run) Result {
	var res Result
	claimed := make([]bool, len(runs))
	tokens := make([]map[string]struct{}, len(runs))
	for i, run := range runs {
		tokens[i] = Tokens(run.Text)
	}
	for _, leaf := range leaves {
		leafTokens := Tokens(leaf.Text)
		best, bestScore := -1, 0.0
		for i, run := range runs {
			if claimed[i] || run.Kind != tagger.Content {
				continue
			}
			if score := Score(leafTokens, tokens[i]); score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 || bestScore < Threshold {
			res.UnlinkedLeaves = append(res.UnlinkedLeaves, leaf)
			continue
		}
		claimed[best] = true
		leaf.AttachRun(runs[best].Page, runs[best].MCID)
		res.Assignments = append(res.Assignments, Assignment{Leaf: leaf, Run: runs[best], Score: bestScore})
	}
	for i, run := range runs {
		if run.Kind == tagger.Content && !claimed[i] {
			res.UnlinkedRuns++
		}
	}
	return res
}

// Score is the share of the leaf's vocabulary present in the run.
func Score(leaf, run map[string]struct{}) float64 {
	if len(leaf) == 0 {
		return 0
	}
	inter := 0
	for t := range leaf {
		if _, ok := run[t]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(leaf))
}

// Tokens normalizes text with NFKC and Unicode case folding, then
// splits it on anything that is not a letter or digit. Ligatures and
// width variants from embedded-font decoding collapse to the plain
// forms the outline text uses.
func Tokens(text string) map[string]struct{} {
	folded := cases.Fold().String(norm.NFKC.String(text))
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
