// Package structure builds the logical structure tree written into the
// target document: one element per outline node, marked-content
// references filled in by the linker, and the per-page parent tree.
package structure

import (
	"fmt"
	"strings"

	"github.com/wudi/pdftag/outline"
	"github.com/wudi/pdftag/pdf"
)

// Element is a node of the structure tree being assembled.
type Element struct {
	S          string // structure type, e.g. "H1", "P", "LBody"
	Parent     *Element
	Kids       []Item
	Alt        string
	ActualText string // rendered text replacement, text-carrying elements
	URI        string // Link elements: normalized target
	Text       string // expected text, drives the content linker

	// wantsContent marks a leaf that still needs a marked-content
	// reference. Cleared once the linker attaches a run.
	wantsContent bool
}

// Item is one child slot: exactly one of Element, MCID (with Page), or
// Annot is meaningful.
type Item struct {
	Element *Element
	MCID    int // -1 when this is not a marked-content reference
	Page    int
	Annot   pdf.ObjectRef // OBJR target
}

// Tree is the assembled structure tree plus build bookkeeping.
type Tree struct {
	Root *Element // the Document element

	Pruned     int // empty headings dropped during the build
	Unlinkable int // leaves with no expected text, skipped by the linker
}

// Build converts the outline into a structure tree (depth-first, order
// preserving). Empty headings are pruned; ListItem text is wrapped in
// an LBody child beside an empty Lbl, because list items may only hold
// label and body children; Formula/Code/Figure alt text is carried
// verbatim.
func Build(root *outline.Node) (*Tree, error) {
	if err := root.Validate(); err != nil {
		return nil, fmt.Errorf("structure: %w", err)
	}
	tree := &Tree{}
	tree.Root = &Element{S: string(outline.TagDocument)}
	for _, child := range root.Children {
		tree.convert(child, tree.Root)
	}
	return tree, nil
}

func (t *Tree) convert(node *outline.Node, parent *Element) {
	text := strings.TrimSpace(node.Text)

	if outline.HeadingLevel(node.Tag) > 0 && text == "" {
		// Headings synthesized from preamble noise carry no rendered
		// text and would become unlinkable empty nodes.
		t.Pruned++
		return
	}

	elem := &Element{S: string(node.Tag), Parent: parent}
	parent.Kids = append(parent.Kids, Item{Element: elem, MCID: -1})

	switch node.Tag {
	case outline.TagLI:
		// The list item itself holds only a label and a body; its
		// literal text moves into the body child.
		label := &Element{S: "Lbl", Parent: elem}
		body := &Element{S: "LBody", Parent: elem, Text: text, ActualText: text}
		body.wantsContent = text != ""
		elem.Kids = append(elem.Kids,
			Item{Element: label, MCID: -1},
			Item{Element: body, MCID: -1})
	case outline.TagFormula, outline.TagCode, outline.TagFigure:
		elem.Alt = node.Alt
		if elem.Alt == "" {
			elem.Alt = node.Text
		}
		elem.Text = text
		elem.wantsContent = text != ""
		if text == "" {
			t.Unlinkable++
		}
	case outline.TagLink:
		elem.Text = text
		elem.URI = node.Alt
	case outline.TagL, outline.TagSect, outline.TagDocument:
		// grouping nodes carry no content of their own
	default:
		elem.Alt = node.Alt
		elem.ActualText = text
		elem.Text = text
		elem.wantsContent = text != ""
	}

	for _, child := range node.Children {
		t.convert(child, elem)
	}
}

// Leaves returns, in document order, every element still waiting for a
// content run and holding non-empty expected text.
func (t *Tree) Leaves() []*Element {
	var leaves []*Element
	t.Walk(func(e *Element) {
		if e.wantsContent && e.Text != "" {
			leaves = append(leaves, e)
		}
	})
	return leaves
}

// LinkLeaves returns the Link-typed elements in document order.
func (t *Tree) LinkLeaves() []*Element {
	var leaves []*Element
	t.Walk(func(e *Element) {
		if e.S == string(outline.TagLink) {
			leaves = append(leaves, e)
		}
	})
	return leaves
}

// Walk visits elements depth-first in document order.
func (t *Tree) Walk(fn func(*Element)) {
	var visit func(e *Element)
	visit = func(e *Element) {
		fn(e)
		for _, kid := range e.Kids {
			if kid.Element != nil {
				visit(kid.Element)
			}
		}
	}
	if t.Root != nil {
		visit(t.Root)
	}
}

// AttachRun fills the element's content-reference slot with a marked
// content id on the given page.
func (e *Element) AttachRun(page, mcid int) {
	e.Kids = append(e.Kids, Item{MCID: mcid, Page: page, Element: nil})
	e.wantsContent = false
}

// AttachAnnotation adds an object reference kid pointing at a page
// annotation.
func (e *Element) AttachAnnotation(page int, annot pdf.ObjectRef) {
	e.Kids = append(e.Kids, Item{MCID: -1, Page: page, Annot: annot})
}

// Resolved reports whether the element no longer waits for content.
func (e *Element) Resolved() bool { return !e.wantsContent }

// Validate checks the structural invariants: every element except the
// root has exactly one parent, no element is reachable from two
// parents, and the graph is acyclic.
func (t *Tree) Validate() error {
	if t.Root == nil {
		return fmt.Errorf("structure: nil root")
	}
	if t.Root.Parent != nil {
		return fmt.Errorf("structure: root has a parent")
	}
	seen := make(map[*Element]bool)
	var visit func(e *Element) error
	visit = func(e *Element) error {
		if seen[e] {
			return fmt.Errorf("structure: element %s reachable from two parents", e.S)
		}
		seen[e] = true
		for _, kid := range e.Kids {
			if kid.Element == nil {
				continue
			}
			if kid.Element.Parent != e {
				return fmt.Errorf("structure: element %s has wrong parent link", kid.Element.S)
			}
			if err := visit(kid.Element); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(t.Root)
}

// Counts returns the number of elements per structure type.
func (t *Tree) Counts() map[string]int {
	counts := make(map[string]int)
	t.Walk(func(e *Element) { counts[e.S]++ })
	return counts
}
