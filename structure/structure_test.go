package structure_test

import (
	"strings"
	"testing"

	"github.com/wudi/pdftag/outline"
	"github.com/wudi/pdftag/pdf"
	"github.com/wudi/pdftag/structure"
)

func doc(tag outline.Tag, text string, children ...*outline.Node) *outline.Node {
	return &outline.Node{Tag: tag, Text: text, Children: children}
}

func TestBuildMirrorsOutline(t *testing.T) {
	root := doc(outline.TagDocument, "",
		doc(outline.TagH1, "Introduction"),
		doc(outline.TagSect, "",
			doc(outline.TagP, "First paragraph."),
			doc(outline.TagP, "Second paragraph."),
		),
	)
	tree, err := structure.Build(root)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	counts := tree.Counts()
	for typ, want := range map[string]int{"Document": 1, "H1": 1, "Sect": 1, "P": 2} {
		if counts[typ] != want {
			t.Errorf("%s count = %d, want %d", typ, counts[typ], want)
		}
	}
	if err := tree.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	leaves := tree.Leaves()
	if len(leaves) != 3 {
		t.Fatalf("expected 3 linkable leaves, got %d", len(leaves))
	}
	if leaves[0].Text != "Introduction" {
		t.Fatalf("leaves out of document order: %q first", leaves[0].Text)
	}
}

func TestBuildPrunesEmptyHeadings(t *testing.T) {
	root := doc(outline.TagDocument, "",
		doc(outline.TagH1, "   "),
		doc(outline.TagH2, "Kept"),
	)
	tree, err := structure.Build(root)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if tree.Pruned != 1 {
		t.Fatalf("pruned = %d, want 1", tree.Pruned)
	}
	if tree.Counts()["H1"] != 0 {
		t.Fatal("empty heading survived")
	}
}

func TestBuildWrapsListItems(t *testing.T) {
	root := doc(outline.TagDocument, "",
		doc(outline.TagL, "",
			doc(outline.TagLI, "first item"),
			doc(outline.TagLI, "second item"),
		),
	)
	tree, err := structure.Build(root)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	counts := tree.Counts()
	if counts["LI"] != 2 || counts["Lbl"] != 2 || counts["LBody"] != 2 {
		t.Fatalf("list shape: %v", counts)
	}
	// the item text must sit on the body, not the item
	tree.Walk(func(e *structure.Element) {
		switch e.S {
		case "LI":
			if e.Text != "" {
				t.Errorf("LI carries text %q", e.Text)
			}
		case "LBody":
			if !strings.HasSuffix(e.Text, "item") {
				t.Errorf("LBody text = %q", e.Text)
			}
			if e.ActualText != e.Text {
				t.Errorf("LBody ActualText = %q, want %q", e.ActualText, e.Text)
			}
		}
	})
}

func TestBuildFormulaAltFallsBackToSource(t *testing.T) {
	root := doc(outline.TagDocument, "",
		&outline.Node{Tag: outline.TagFormula, Text: "E = mc^2"},
		&outline.Node{Tag: outline.TagFigure, Alt: "A diagram"},
	)
	tree, err := structure.Build(root)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	var formula, figure *structure.Element
	tree.Walk(func(e *structure.Element) {
		switch e.S {
		case "Formula":
			formula = e
		case "Figure":
			figure = e
		}
	})
	if formula.Alt != "E = mc^2" {
		t.Fatalf("formula alt = %q", formula.Alt)
	}
	if formula.ActualText != "" {
		t.Fatalf("formula carries ActualText %q", formula.ActualText)
	}
	if figure.Alt != "A diagram" {
		t.Fatalf("figure alt = %q", figure.Alt)
	}
	if tree.Unlinkable != 1 {
		t.Fatalf("unlinkable = %d, want 1 (the textless figure)", tree.Unlinkable)
	}
}

func TestBuildRejectsInvalidOutline(t *testing.T) {
	if _, err := structure.Build(doc(outline.TagP, "not a document root")); err == nil {
		t.Fatal("expected error for non-Document root")
	}
}

func TestParentTreeFallsBackToRoot(t *testing.T) {
	root := doc(outline.TagDocument, "", doc(outline.TagP, "hello world"))
	tree, err := structure.Build(root)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	leaf := tree.Leaves()[0]
	leaf.AttachRun(0, 1)

	pt := tree.ParentTree([]int{3})
	if len(pt) != 1 || len(pt[0]) != 3 {
		t.Fatalf("parent tree shape: %v", pt)
	}
	if pt[0][1] != leaf {
		t.Fatal("claimed run not owned by its leaf")
	}
	if pt[0][0] != tree.Root || pt[0][2] != tree.Root {
		t.Fatal("unclaimed runs should fall back to the document root")
	}
	if got := tree.Fallbacks(pt); got != 2 {
		t.Fatalf("fallbacks = %d, want 2", got)
	}
}

func newTestDoc(t *testing.T, pageCount int) (*pdf.Document, []pdf.Page) {
	t.Helper()
	d := &pdf.Document{Objects: make(map[pdf.ObjectRef]pdf.Object), Trailer: pdf.Dict{}, Version: "1.7"}
	pages := make([]pdf.Page, pageCount)
	for i := range pages {
		dict := pdf.Dict{"Type": pdf.Name("Page")}
		pages[i] = pdf.Page{Index: i, Ref: d.Add(dict), Dict: dict}
	}
	return d, pages
}

func TestSerialize(t *testing.T) {
	root := doc(outline.TagDocument, "",
		doc(outline.TagH1, "Title"),
		doc(outline.TagP, "Body text"),
	)
	tree, err := structure.Build(root)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	leaves := tree.Leaves()
	leaves[0].AttachRun(0, 0)
	leaves[1].AttachRun(0, 1)

	d, pages := newTestDoc(t, 1)
	pt := tree.ParentTree([]int{2})
	rootRef, err := tree.Serialize(d, pages, pt)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	sroot, ok := d.ResolveDict(pdf.Ref(rootRef))
	if !ok {
		t.Fatal("struct tree root missing")
	}
	if sroot.Name("Type") != "StructTreeRoot" {
		t.Fatalf("root type = %q", sroot.Name("Type"))
	}
	if key, _ := sroot.Int("ParentTreeNextKey"); key != 1 {
		t.Fatalf("ParentTreeNextKey = %d, want 1", key)
	}
	if v, ok := pages[0].Dict.Int("StructParents"); !ok || v != 0 {
		t.Fatalf("page StructParents = %v, %v", v, ok)
	}

	docElem, ok := d.ResolveDict(sroot["K"])
	if !ok || docElem.Name("S") != "Document" {
		t.Fatalf("document element: %v", docElem)
	}
	kids, ok := d.ResolveArray(docElem["K"])
	if !ok || len(kids) != 2 {
		t.Fatalf("document kids: %v", docElem["K"])
	}
	h1, ok := d.ResolveDict(kids[0])
	if !ok || h1.Name("S") != "H1" {
		t.Fatalf("first kid: %v", h1)
	}
	// single MCID kid collapses to a bare integer
	if mcid, ok := h1.Int("K"); !ok || mcid != 0 {
		t.Fatalf("H1 K = %v", h1["K"])
	}
	if _, ok := h1.Ref("Pg"); !ok {
		t.Fatal("H1 missing page ref")
	}
	if got, _ := h1.Str("ActualText"); got != "Title" {
		t.Fatalf("H1 ActualText = %q", got)
	}
	p, ok := d.ResolveDict(kids[1])
	if !ok || p.Name("S") != "P" {
		t.Fatalf("second kid: %v", p)
	}
	if got, _ := p.Str("ActualText"); got != "Body text" {
		t.Fatalf("P ActualText = %q", got)
	}

	ptDict, ok := d.ResolveDict(sroot["ParentTree"])
	if !ok {
		t.Fatal("parent tree missing")
	}
	nums, ok := d.ResolveArray(ptDict["Nums"])
	if !ok || len(nums) != 2 {
		t.Fatalf("nums: %v", ptDict["Nums"])
	}
	row, ok := nums[1].(pdf.Array)
	if !ok || len(row) != 2 {
		t.Fatalf("parent tree row: %v", nums[1])
	}
}

func TestSerializeAnnotationKid(t *testing.T) {
	root := doc(outline.TagDocument, "",
		&outline.Node{Tag: outline.TagLink, Text: "example", Alt: "https://example.com"},
	)
	tree, err := structure.Build(root)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	d, pages := newTestDoc(t, 1)
	annotDict := pdf.Dict{"Subtype": pdf.Name("Link")}
	annotRef := d.Add(annotDict)

	link := tree.LinkLeaves()[0]
	link.AttachAnnotation(0, annotRef)

	sroot, err := tree.Serialize(d, pages, tree.ParentTree([]int{0}))
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if v, ok := annotDict.Int("StructParent"); !ok || v != 1 {
		t.Fatalf("annotation StructParent = %v, %v", v, ok)
	}
	srootDict, _ := d.ResolveDict(pdf.Ref(sroot))
	if key, _ := srootDict.Int("ParentTreeNextKey"); key != 2 {
		t.Fatalf("ParentTreeNextKey = %d, want 2", key)
	}
}
