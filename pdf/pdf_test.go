package pdf_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/wudi/pdftag/pdf"
)

const helloContent = "BT /F1 12 Tf 72 720 Td (Hello World) Tj ET\n"

// buildSimplePDF assembles a one-page document with a classic xref
// table: catalog, page tree, page, uncompressed content stream, and a
// standard Type1 font.
func buildSimplePDF() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	offsets := make(map[int]int)

	offsets[1] = buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	offsets[2] = buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")

	offsets[3] = buf.Len()
	buf.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] " +
		"/Resources << /Font << /F1 5 0 R >> >> /Contents 4 0 R >>\nendobj\n")

	offsets[4] = buf.Len()
	fmt.Fprintf(buf, "4 0 obj\n<< /Length %d >>\nstream\n%sendstream\nendobj\n",
		len(helloContent), helloContent)

	offsets[5] = buf.Len()
	buf.WriteString("5 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>\nendobj\n")

	xrefOffset := buf.Len()
	buf.WriteString("xref\n0 6\n")
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(buf, "%010d 00000 n \n", offsets[i])
	}
	buf.WriteString("trailer\n<< /Size 6 /Root 1 0 R >>\n")
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)
	return buf.Bytes()
}

func TestReadSimple(t *testing.T) {
	doc, err := pdf.Read(bytes.NewReader(buildSimplePDF()))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	catalog, _, err := doc.Catalog()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if catalog.Name("Type") != "Catalog" {
		t.Fatalf("catalog type = %q", catalog.Name("Type"))
	}
	pages, err := doc.Pages()
	if err != nil {
		t.Fatalf("pages: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(pages))
	}
	if pages[0].Resources == nil {
		t.Fatal("page resources not resolved")
	}
	content, err := doc.PageContents(pages[0])
	if err != nil {
		t.Fatalf("contents: %v", err)
	}
	if string(content) != helloContent {
		t.Fatalf("content = %q", content)
	}
}

func TestReadRejectsEncrypted(t *testing.T) {
	data := buildSimplePDF()
	data = bytes.Replace(data,
		[]byte("<< /Size 6 /Root 1 0 R >>"),
		[]byte("<< /Size 6 /Root 1 0 R /Encrypt 9 0 R >>"), 1)
	if _, err := pdf.Read(bytes.NewReader(data)); err == nil {
		t.Fatal("expected error for encrypted document")
	}
}

func TestReadRepairsBrokenXref(t *testing.T) {
	data := buildSimplePDF()
	// corrupt the startxref offset so the repair scan has to kick in
	data = bytes.Replace(data, []byte("startxref\n"), []byte("startxref\n9999"), 1)
	doc, err := pdf.Read(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("repair read: %v", err)
	}
	if pages, err := doc.Pages(); err != nil || len(pages) != 1 {
		t.Fatalf("pages after repair: %v, %v", pages, err)
	}
}

func TestWriteRoundTrip(t *testing.T) {
	doc, err := pdf.Read(bytes.NewReader(buildSimplePDF()))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out bytes.Buffer
	if err := doc.Write(&out); err != nil {
		t.Fatalf("write: %v", err)
	}
	doc2, err := pdf.Read(bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("reread: %v", err)
	}
	pages, err := doc2.Pages()
	if err != nil || len(pages) != 1 {
		t.Fatalf("pages: %v, %v", pages, err)
	}
	content, err := doc2.PageContents(pages[0])
	if err != nil {
		t.Fatalf("contents: %v", err)
	}
	if string(content) != helloContent {
		t.Fatalf("content after round trip = %q", content)
	}
}

func TestWriteDeterministic(t *testing.T) {
	doc, err := pdf.Read(bytes.NewReader(buildSimplePDF()))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var a, b bytes.Buffer
	if err := doc.Write(&a); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := doc.Write(&b); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Fatal("two writes of the same document differ")
	}
}

func TestWriteKeepsGenerationNumbers(t *testing.T) {
	doc := &pdf.Document{Objects: make(map[pdf.ObjectRef]pdf.Object), Trailer: pdf.Dict{}, Version: "1.7"}
	pageRef := pdf.ObjectRef{Num: 3, Gen: 2}
	pagesRef := pdf.ObjectRef{Num: 2}
	catRef := pdf.ObjectRef{Num: 1}
	doc.Objects[pageRef] = pdf.Dict{"Type": pdf.Name("Page"), "Parent": pdf.Ref(pagesRef)}
	doc.Objects[pagesRef] = pdf.Dict{"Type": pdf.Name("Pages"), "Kids": pdf.Array{pdf.Ref(pageRef)}, "Count": pdf.Integer(1)}
	doc.Objects[catRef] = pdf.Dict{"Type": pdf.Name("Catalog"), "Pages": pdf.Ref(pagesRef)}
	doc.Trailer["Root"] = pdf.Ref(catRef)

	var out bytes.Buffer
	if err := doc.Write(&out); err != nil {
		t.Fatalf("write: %v", err)
	}
	// the header and the xref entry must agree on the generation
	if !bytes.Contains(out.Bytes(), []byte("3 2 obj")) {
		t.Fatal("object header lost the generation number")
	}
	if !bytes.Contains(out.Bytes(), []byte(" 00002 n \n")) {
		t.Fatal("xref entry lost the generation number")
	}
	doc2, err := pdf.Read(bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("reread: %v", err)
	}
	if _, ok := doc2.Objects[pageRef]; !ok {
		t.Fatal("object 3 gen 2 not resolvable after rewrite")
	}
}

func TestSetPageContentsCompresses(t *testing.T) {
	doc, err := pdf.Read(bytes.NewReader(buildSimplePDF()))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	pages, _ := doc.Pages()
	replacement := []byte("BT /F1 10 Tf (replaced) Tj ET\n")
	doc.SetPageContents(pages[0], replacement)

	var out bytes.Buffer
	if err := doc.Write(&out); err != nil {
		t.Fatalf("write: %v", err)
	}
	doc2, err := pdf.Read(bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("reread: %v", err)
	}
	pages2, _ := doc2.Pages()
	content, err := doc2.PageContents(pages2[0])
	if err != nil {
		t.Fatalf("contents: %v", err)
	}
	if !bytes.Equal(content, replacement) {
		t.Fatalf("content = %q, want %q", content, replacement)
	}
}

func TestSaveAtomic(t *testing.T) {
	doc, err := pdf.Read(bytes.NewReader(buildSimplePDF()))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "out.pdf")
	if err := doc.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := pdf.ReadFile(path); err != nil {
		t.Fatalf("saved file unreadable: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp file left behind: %v", entries)
	}
}

func buildXRefStreamPDF() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [4 0 R] /Count 1 >>\nendobj\n")

	// page and a producer dict packed into one object stream
	inner := "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >> << /Producer (pkg) >>"
	firstLen := len("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	header := fmt.Sprintf("4 0 5 %d ", firstLen+1)
	payload := header + inner
	off3 := buf.Len()
	fmt.Fprintf(buf, "3 0 obj\n<< /Type /ObjStm /N 2 /First %d /Length %d >>\nstream\n%s\nendstream\nendobj\n",
		len(header), len(payload), payload)

	xrefOffset := buf.Len()
	const size = 7
	entries := make([]byte, 6*size)
	put1 := func(num, off int) {
		i := num * 6
		entries[i] = 1
		entries[i+1] = byte(off >> 24)
		entries[i+2] = byte(off >> 16)
		entries[i+3] = byte(off >> 8)
		entries[i+4] = byte(off)
	}
	put1(1, off1)
	put1(2, off2)
	put1(3, off3)
	put1(6, xrefOffset)
	for num, idx := range map[int]int{4: 0, 5: 1} {
		i := num * 6
		entries[i] = 2
		entries[i+4] = 3 // object stream number
		entries[i+5] = byte(idx)
	}
	fmt.Fprintf(buf, "6 0 obj\n<< /Type /XRef /Size %d /Root 1 0 R /W [1 4 1] /Index [0 %d] /Length %d >>\nstream\n",
		size, size, len(entries))
	buf.Write(entries)
	buf.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)
	return buf.Bytes()
}

func TestReadXRefStreamAndObjectStream(t *testing.T) {
	doc, err := pdf.Read(bytes.NewReader(buildXRefStreamPDF()))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	pages, err := doc.Pages()
	if err != nil {
		t.Fatalf("pages: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(pages))
	}
	producer, ok := doc.ResolveDict(pdf.Ref{Num: 5})
	if !ok {
		t.Fatal("object 5 not loaded from object stream")
	}
	if s, _ := producer.Str("Producer"); s != "pkg" {
		t.Fatalf("producer = %q", s)
	}
}

func TestWriteSkipsStructuralStreams(t *testing.T) {
	doc, err := pdf.Read(bytes.NewReader(buildXRefStreamPDF()))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out bytes.Buffer
	if err := doc.Write(&out); err != nil {
		t.Fatalf("write: %v", err)
	}
	if bytes.Contains(out.Bytes(), []byte("/ObjStm")) {
		t.Fatal("rewritten file still carries object streams")
	}
	doc2, err := pdf.Read(bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("reread: %v", err)
	}
	if pages, err := doc2.Pages(); err != nil || len(pages) != 1 {
		t.Fatalf("pages after rewrite: %v, %v", pages, err)
	}
}
