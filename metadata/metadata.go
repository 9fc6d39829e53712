// Package metadata writes the document-level accessibility metadata:
// the mark-info flag, structure tree root, language, title handling,
// viewer preferences, and per-page tab order.
package metadata

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"github.com/wudi/pdftag/pdf"
)

// Options configures the catalog rewrite.
type Options struct {
	Language string // BCP 47 tag, already validated
	Title    string // document title; empty keeps the existing one
}

// ValidateLanguage parses a BCP 47 tag and returns its canonical form.
func ValidateLanguage(tag string) (string, error) {
	t, err := language.Parse(tag)
	if err != nil {
		return "", fmt.Errorf("metadata: invalid language tag %q: %w", tag, err)
	}
	return t.String(), nil
}

// Apply rewrites the catalog for a tagged document. Calling it twice
// with the same inputs leaves the document unchanged apart from the
// structure root ref.
func Apply(doc *pdf.Document, structRoot pdf.ObjectRef, pages []pdf.Page, opts Options) error {
	catalog, _, err := doc.Catalog()
	if err != nil {
		return err
	}

	catalog["MarkInfo"] = pdf.Dict{"Marked": pdf.Boolean(true)}
	catalog["StructTreeRoot"] = pdf.Ref(structRoot)
	if opts.Language != "" {
		catalog["Lang"] = pdf.NewString(opts.Language)
	}

	prefs, ok := doc.ResolveDict(catalog["ViewerPreferences"])
	if !ok {
		prefs = pdf.Dict{}
		catalog["ViewerPreferences"] = prefs
	}
	prefs["DisplayDocTitle"] = pdf.Boolean(true)

	title := opts.Title
	info := doc.Info()
	if title == "" {
		title, _ = info.Str("Title")
	}
	if title != "" {
		info["Title"] = pdf.NewString(title)
	}
	catalog["Metadata"] = pdf.Ref(doc.Add(xmpStream(title, opts.Language)))

	// screen readers want tab order to follow the structure tree
	for _, page := range pages {
		page.Dict["Tabs"] = pdf.Name("S")
	}
	return nil
}

// xmpStream builds a minimal XMP packet: Dublin Core title plus the
// PDF/UA identifier schema. The stream is left unfiltered so metadata
// scanners that do not decode filters still find it.
func xmpStream(title, lang string) *pdf.Stream {
	if lang == "" {
		lang = "x-default"
	}
	var sb strings.Builder
	sb.WriteString(`<?xpacket begin="` + "\uFEFF" + `" id="W5M0MpCehiHzreSzNTczkc9d"?>` + "\n")
	sb.WriteString(`<x:xmpmeta xmlns:x="adobe:ns:meta/">` + "\n")
	sb.WriteString(` <rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">` + "\n")
	sb.WriteString(`  <rdf:Description rdf:about=""` + "\n")
	sb.WriteString(`    xmlns:dc="http://purl.org/dc/elements/1.1/"` + "\n")
	sb.WriteString(`    xmlns:pdfuaid="http://www.aiim.org/pdfua/ns/id/">` + "\n")
	sb.WriteString(`   <pdfuaid:part>1</pdfuaid:part>` + "\n")
	if title != "" {
		sb.WriteString(`   <dc:title><rdf:Alt><rdf:li xml:lang="` + xmlEscape(lang) + `">`)
		sb.WriteString(xmlEscape(title))
		sb.WriteString(`</rdf:li></rdf:Alt></dc:title>` + "\n")
	}
	sb.WriteString(`  </rdf:Description>` + "\n")
	sb.WriteString(` </rdf:RDF>` + "\n")
	sb.WriteString(`</x:xmpmeta>` + "\n")
	sb.WriteString(`<?xpacket end="w"?>`)
	return &pdf.Stream{
		Dict: pdf.Dict{
			"Type":    pdf.Name("Metadata"),
			"Subtype": pdf.Name("XML"),
		},
		Data: []byte(sb.String()),
	}
}

func xmlEscape(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
	)
	return r.Replace(s)
}
