package pdftag_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/wudi/pdftag"
	"github.com/wudi/pdftag/outline"
	"github.com/wudi/pdftag/pdf"
)

const paperContent = "BT /F1 12 Tf 72 720 Td (Introduction) Tj ET\n" +
	"0 0 612 40 re f\n" +
	"BT /F1 11 Tf 72 690 Td (This is the body text of the paper.) Tj ET\n"

// buildPaperPDF is a one-page document with two text blocks, a filled
// rectangle, and a link annotation.
func buildPaperPDF() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	offsets := make(map[int]int)

	offsets[1] = buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	offsets[2] = buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")
	offsets[3] = buf.Len()
	buf.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] " +
		"/Resources << /Font << /F1 5 0 R >> >> /Contents 4 0 R /Annots [6 0 R] >>\nendobj\n")
	offsets[4] = buf.Len()
	fmt.Fprintf(buf, "4 0 obj\n<< /Length %d >>\nstream\n%sendstream\nendobj\n",
		len(paperContent), paperContent)
	offsets[5] = buf.Len()
	buf.WriteString("5 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>\nendobj\n")
	offsets[6] = buf.Len()
	buf.WriteString("6 0 obj\n<< /Type /Annot /Subtype /Link /Rect [72 680 200 700] " +
		"/A << /S /URI /URI (https://example.com/paper) >> >>\nendobj\n")

	xrefOffset := buf.Len()
	buf.WriteString("xref\n0 7\n0000000000 65535 f \n")
	for i := 1; i <= 6; i++ {
		fmt.Fprintf(buf, "%010d 00000 n \n", offsets[i])
	}
	buf.WriteString("trailer\n<< /Size 7 /Root 1 0 R >>\n")
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)
	return buf.Bytes()
}

func paperOutline() *outline.Node {
	return &outline.Node{Tag: outline.TagDocument, Children: []*outline.Node{
		{Tag: outline.TagH1, Text: "Introduction"},
		{Tag: outline.TagP, Text: "This is the body text of the paper.", Children: []*outline.Node{
			{Tag: outline.TagLink, Text: "paper", Alt: "https://example.com/paper"},
		}},
	}}
}

func TestRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.pdf")
	outPath := filepath.Join(dir, "out.pdf")
	if err := os.WriteFile(inPath, buildPaperPDF(), 0o644); err != nil {
		t.Fatal(err)
	}

	summary, err := pdftag.Run(context.Background(), paperOutline(), inPath, outPath, pdftag.Options{
		Language: "en-US",
		Title:    "The Paper",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.Pages != 1 {
		t.Errorf("pages = %d", summary.Pages)
	}
	if summary.ContentRuns != 2 || summary.ArtifactRuns != 1 {
		t.Errorf("runs = %d content, %d artifact", summary.ContentRuns, summary.ArtifactRuns)
	}
	if summary.LinkedLeaves != 2 || summary.UnlinkedLeaves != 0 || summary.UnlinkedRuns != 0 {
		t.Errorf("linking: %+v", summary)
	}
	if summary.AnnotationsLinked != 1 || summary.AnnotationsUnmatched != 0 {
		t.Errorf("annotations: %+v", summary)
	}
	if summary.ParentTreeFallbacks != 0 {
		t.Errorf("fallbacks = %d", summary.ParentTreeFallbacks)
	}
	if summary.Elements["H1"] != 1 || summary.Elements["Link"] != 1 {
		t.Errorf("elements = %v", summary.Elements)
	}

	doc, err := pdf.ReadFile(outPath)
	if err != nil {
		t.Fatalf("reread output: %v", err)
	}
	catalog, _, err := doc.Catalog()
	if err != nil {
		t.Fatal(err)
	}
	if markInfo, ok := doc.ResolveDict(catalog["MarkInfo"]); !ok || markInfo["Marked"] != pdf.Boolean(true) {
		t.Error("output not marked")
	}
	if lang, _ := catalog.Str("Lang"); lang != "en-US" {
		t.Errorf("lang = %q", lang)
	}
	sroot, ok := doc.ResolveDict(catalog["StructTreeRoot"])
	if !ok || sroot.Name("Type") != "StructTreeRoot" {
		t.Fatal("output has no structure tree root")
	}

	pages, err := doc.Pages()
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := pages[0].Dict.Int("StructParents"); !ok || v != 0 {
		t.Errorf("StructParents = %v, %v", v, ok)
	}
	content, err := doc.PageContents(pages[0])
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"/P <</MCID 0>> BDC", "/P <</MCID 1>> BDC", "/Artifact BMC"} {
		if !bytes.Contains(content, []byte(want)) {
			t.Errorf("rewritten content missing %q", want)
		}
	}
	if title, _ := doc.Info().Str("Title"); title != "The Paper" {
		t.Errorf("title = %q", title)
	}
}

func TestRunRejectsBadLanguage(t *testing.T) {
	dir := t.TempDir()
	if _, err := pdftag.Run(context.Background(), paperOutline(),
		filepath.Join(dir, "missing.pdf"), filepath.Join(dir, "out.pdf"),
		pdftag.Options{Language: "!!"}); err == nil {
		t.Fatal("expected error for invalid language tag")
	}
}

func TestRunMissingInputFailsBeforeOutput(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.pdf")
	_, err := pdftag.Run(context.Background(), paperOutline(),
		filepath.Join(dir, "missing.pdf"), outPath, pdftag.Options{})
	if err == nil {
		t.Fatal("expected read error")
	}
	if _, statErr := os.Stat(outPath); !os.IsNotExist(statErr) {
		t.Fatal("output created despite failed run")
	}
}

func TestRunEmbedAltDelegated(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(inPath, buildPaperPDF(), 0o644); err != nil {
		t.Fatal(err)
	}
	summary, err := pdftag.Run(context.Background(), paperOutline(), inPath,
		filepath.Join(dir, "out.pdf"), pdftag.Options{EmbedAlt: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !summary.EmbedAltDelegated {
		t.Fatal("embed alt request not surfaced in the summary")
	}
}

// crashingFix writes a partial output file and then reports failure.
type crashingFix struct{}

func (crashingFix) Normalize(_ context.Context, _, out string) (bool, error) {
	if err := os.WriteFile(out, []byte("partial"), 0o644); err != nil {
		return false, err
	}
	return false, errors.New("converter crashed")
}

func TestRunRemovesScratchWhenEncodingFixFails(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.pdf")
	outPath := filepath.Join(dir, "out.pdf")
	if err := os.WriteFile(inPath, buildPaperPDF(), 0o644); err != nil {
		t.Fatal(err)
	}
	summary, err := pdftag.Run(context.Background(), paperOutline(), inPath, outPath,
		pdftag.Options{EncodingFix: crashingFix{}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.EncodingFixApplied {
		t.Fatal("failed fix reported as applied")
	}
	scratch := filepath.Join(dir, ".pdftag-encfix-out.pdf")
	if _, statErr := os.Stat(scratch); !os.IsNotExist(statErr) {
		t.Fatal("scratch file left behind after failed encoding fix")
	}
	if _, statErr := os.Stat(outPath); statErr != nil {
		t.Fatalf("run did not continue on the original: %v", statErr)
	}
}

func TestRunCorruptContentAbortsDocument(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.pdf")
	outPath := filepath.Join(dir, "out.pdf")
	broken := bytes.Replace(buildPaperPDF(),
		[]byte("(Introduction) Tj ET"),
		[]byte("(Introduction) Tj    "), 1)
	if err := os.WriteFile(inPath, broken, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := pdftag.Run(context.Background(), paperOutline(), inPath, outPath, pdftag.Options{})
	if err == nil {
		t.Fatal("expected abort on corrupt content stream")
	}
	if _, statErr := os.Stat(outPath); !os.IsNotExist(statErr) {
		t.Fatal("output written despite page failure")
	}
}
