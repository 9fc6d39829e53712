// Package outline models the logical document outline consumed by the
// tagging pipeline. The tree is produced by an external extractor and
// interchanged as JSON; it is read-only input for every later phase.
package outline

import (
	"encoding/json"
	"fmt"
	"io"
)

// Tag identifies the semantic role of a node. Values follow the PDF
// standard structure types so the structure builder can carry them over
// without a mapping table.
type Tag string

const (
	TagDocument Tag = "Document"
	TagSect     Tag = "Sect"
	TagH1       Tag = "H1"
	TagH2       Tag = "H2"
	TagH3       Tag = "H3"
	TagH4       Tag = "H4"
	TagP        Tag = "P"
	TagL        Tag = "L"
	TagLI       Tag = "LI"
	TagFormula  Tag = "Formula"
	TagCode     Tag = "Code"
	TagFigure   Tag = "Figure"
	TagLink     Tag = "Link"
)

var knownTags = map[Tag]bool{
	TagDocument: true, TagSect: true,
	TagH1: true, TagH2: true, TagH3: true, TagH4: true,
	TagP: true, TagL: true, TagLI: true,
	TagFormula: true, TagCode: true, TagFigure: true, TagLink: true,
}

// HeadingLevel returns the level for H1..H4 tags and 0 otherwise.
func HeadingLevel(t Tag) int {
	switch t {
	case TagH1:
		return 1
	case TagH2:
		return 2
	case TagH3:
		return 3
	case TagH4:
		return 4
	}
	return 0
}

// Node is one semantic unit of the source document.
type Node struct {
	Tag      Tag     `json:"tag"`
	Text     string  `json:"text,omitempty"`
	Alt      string  `json:"alt,omitempty"`
	Children []*Node `json:"children,omitempty"`
}

// Decode reads a JSON outline tree and validates it.
func Decode(r io.Reader) (*Node, error) {
	dec := json.NewDecoder(r)
	var root Node
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("decode outline: %w", err)
	}
	if err := root.Validate(); err != nil {
		return nil, err
	}
	return &root, nil
}

// Encode writes the tree as JSON.
func (n *Node) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(n)
}

// Validate checks that the tree is finite, rooted at exactly one
// Document node, and uses only known tags.
func (n *Node) Validate() error {
	if n == nil {
		return fmt.Errorf("outline: nil root")
	}
	if n.Tag != TagDocument {
		return fmt.Errorf("outline: root must be %s, got %s", TagDocument, n.Tag)
	}
	seen := make(map[*Node]bool)
	var visit func(node *Node, depth int) error
	visit = func(node *Node, depth int) error {
		if node == nil {
			return fmt.Errorf("outline: nil node")
		}
		if seen[node] {
			return fmt.Errorf("outline: node %q reachable from two parents", node.Tag)
		}
		seen[node] = true
		if !knownTags[node.Tag] {
			return fmt.Errorf("outline: unknown tag %q", node.Tag)
		}
		if depth > 0 && node.Tag == TagDocument {
			return fmt.Errorf("outline: nested Document node")
		}
		for _, c := range node.Children {
			if err := visit(c, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(n, 0)
}

// Walk visits nodes depth-first in document order. Returning false from
// fn stops descent into the node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Gap records a heading level jump that skips intermediate levels, e.g.
// an H3 directly after an H1.
type Gap struct {
	From, To int
}

// HeadingGaps reports heading level gaps in document order. Gaps are
// surfaced, never corrected: source documents are allowed to skip
// levels and the structure tree preserves the skip.
func (n *Node) HeadingGaps() []Gap {
	var gaps []Gap
	prev := 0
	n.Walk(func(node *Node) bool {
		if lvl := HeadingLevel(node.Tag); lvl > 0 {
			if prev > 0 && lvl > prev+1 {
				gaps = append(gaps, Gap{From: prev, To: lvl})
			}
			prev = lvl
		}
		return true
	})
	return gaps
}

// Count returns the number of nodes per tag.
func (n *Node) Count() map[Tag]int {
	counts := make(map[Tag]int)
	n.Walk(func(node *Node) bool {
		counts[node.Tag]++
		return true
	})
	return counts
}
