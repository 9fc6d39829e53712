package match

import (
	"strings"

	"github.com/wudi/pdftag/pdf"
	"github.com/wudi/pdftag/structure"
)

// AnnotResult summarizes link-annotation matching.
type AnnotResult struct {
	Matched   int
	Unmatched int // link annotations no Link element claimed
	Dangling  int // Link elements left without an annotation
}

// LinkAnnotations pairs /Subtype /Link annotations with Link elements.
// A normalized-URI equality match wins; failing that, the unclaimed
// annotation whose /Contents best overlaps the anchor text is taken,
// if the overlap clears the threshold. Matched annotations are
// attached as object-reference kids.
func LinkAnnotations(doc *pdf.Document, pages []pdf.Page, leaves []*structure.Element) AnnotResult {
	type candidate struct {
		page    int
		ref     pdf.ObjectRef
		uri     string
		content string
	}
	var cands []candidate
	for _, page := range pages {
		for _, annot := range doc.Annotations(page) {
			if annot.Dict.Name("Subtype") != "Link" {
				continue
			}
			if annot.Ref == (pdf.ObjectRef{}) {
				// a direct annotation cannot be an OBJR target
				continue
			}
			uri := ""
			if action, ok := doc.ResolveDict(annot.Dict["A"]); ok && action.Name("S") == "URI" {
				uri, _ = action.Str("URI")
			}
			contents, _ := annot.Dict.Str("Contents")
			cands = append(cands, candidate{
				page:    page.Index,
				ref:     annot.Ref,
				uri:     NormalizeURI(uri),
				content: contents,
			})
		}
	}

	var res AnnotResult
	claimed := make([]bool, len(cands))
	for _, leaf := range leaves {
		idx := -1
		if uri := NormalizeURI(leaf.URI); uri != "" {
			for i, c := range cands {
				if !claimed[i] && c.uri == uri {
					idx = i
					break
				}
			}
		}
		if idx < 0 {
			anchor := Tokens(leaf.Text)
			bestScore := 0.0
			for i, c := range cands {
				if claimed[i] || c.content == "" {
					continue
				}
				if score := Score(anchor, Tokens(c.content)); score >= Threshold && score > bestScore {
					idx, bestScore = i, score
				}
			}
		}
		if idx < 0 {
			res.Dangling++
			continue
		}
		claimed[idx] = true
		leaf.AttachAnnotation(cands[idx].page, cands[idx].ref)
		res.Matched++
	}
	for i := range cands {
		if !claimed[i] {
			res.Unmatched++
		}
	}
	return res
}

// NormalizeURI canonicalizes a link target for comparison: whitespace
// trimmed, a lone trailing slash dropped, scheme and host lowercased.
// Paths keep their case.
func NormalizeURI(uri string) string {
	uri = strings.TrimSpace(uri)
	uri = strings.TrimSuffix(uri, "/")
	if i := strings.Index(uri, "://"); i >= 0 {
		scheme := strings.ToLower(uri[:i])
		rest := uri[i+3:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			rest = strings.ToLower(rest[:j]) + rest[j:]
		} else {
			rest = strings.ToLower(rest)
		}
		return scheme + "://" + rest
	}
	return uri
}
