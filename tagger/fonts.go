package tagger

import (
	"bytes"
	"sort"
	"strings"
	"unicode/utf16"

	gofont "github.com/go-text/typesetting/font"

	"github.com/wudi/pdftag/pdf"
)

// Placeholder stands in for a code that no decode path could map.
const Placeholder = '�'

// FontDecoder turns show-operator string bytes into Unicode text. The
// decode order is: ToUnicode CMap, then a probe of the embedded
// TrueType/OpenType cmap, then raw bytes for simple nonsymbolic fonts.
// Anything left over becomes the placeholder rune and is counted.
type FontDecoder struct {
	cmap   *toUnicodeMap
	face   *gofont.Face
	simple bool // single-byte nonsymbolic font, bytes read as Latin-1
}

// DecodersForPage builds a decoder per /Font resource name. Fonts that
// cannot be parsed still get a decoder; it just decodes to
// placeholders, which the summary surfaces per page.
func DecodersForPage(doc *pdf.Document, page pdf.Page) map[string]*FontDecoder {
	decoders := make(map[string]*FontDecoder)
	if page.Resources == nil {
		return decoders
	}
	fonts, ok := doc.ResolveDict(page.Resources["Font"])
	if !ok {
		return decoders
	}
	for name, obj := range fonts {
		dict, ok := doc.ResolveDict(obj)
		if !ok {
			continue
		}
		decoders[name] = newFontDecoder(doc, dict)
	}
	return decoders
}

func newFontDecoder(doc *pdf.Document, dict pdf.Dict) *FontDecoder {
	d := &FontDecoder{}
	if data := streamBytes(doc, dict["ToUnicode"]); len(data) > 0 {
		d.cmap = parseToUnicode(data)
	}
	if prog := embeddedFontProgram(doc, dict); len(prog) > 0 {
		if face, err := gofont.ParseTTF(bytes.NewReader(prog)); err == nil {
			d.face = face
		}
	}
	d.simple = isSimpleFont(doc, dict)
	return d
}

func embeddedFontProgram(doc *pdf.Document, dict pdf.Dict) []byte {
	desc, ok := doc.ResolveDict(dict["FontDescriptor"])
	if !ok {
		// composite fonts keep the descriptor on the descendant
		if arr, ok := doc.ResolveArray(dict["DescendantFonts"]); ok && len(arr) > 0 {
			if dd, ok := doc.ResolveDict(arr[0]); ok {
				desc, _ = doc.ResolveDict(dd["FontDescriptor"])
			}
		}
	}
	if desc == nil {
		return nil
	}
	for _, key := range []string{"FontFile2", "FontFile3"} {
		if data := streamBytes(doc, desc[key]); len(data) > 0 {
			return data
		}
	}
	return nil
}

func streamBytes(doc *pdf.Document, obj pdf.Object) []byte {
	s, ok := doc.Resolve(obj).(*pdf.Stream)
	if !ok {
		return nil
	}
	data, err := doc.StreamData(s)
	if err != nil {
		return nil
	}
	return data
}

// isSimpleFont reports whether raw bytes are a defensible reading:
// single-byte Type1/TrueType with a standard Latin encoding, or no
// declared encoding on a nonsymbolic font.
func isSimpleFont(doc *pdf.Document, dict pdf.Dict) bool {
	switch dict.Name("Subtype") {
	case "Type1", "TrueType", "MMType1":
	default:
		return false
	}
	switch enc := dict["Encoding"].(type) {
	case pdf.Name:
		switch string(enc) {
		case "WinAnsiEncoding", "MacRomanEncoding", "StandardEncoding":
			return true
		}
		return false
	case nil:
		if desc, ok := doc.ResolveDict(dict["FontDescriptor"]); ok {
			flags, _ := desc.Int("Flags")
			const symbolic = 1 << 2
			return flags&symbolic == 0
		}
		return true
	default:
		// encoding dictionaries with Differences are out of scope here;
		// the cmap or face probe still gets first shot
		return false
	}
}

// Decode maps string bytes to text and reports how many codes fell
// back to the placeholder. A nil decoder (unknown font resource)
// decodes everything to placeholders.
func (d *FontDecoder) Decode(data []byte) (string, int) {
	if d == nil {
		return strings.Repeat(string(Placeholder), len(data)), len(data)
	}
	var sb strings.Builder
	missing := 0
	pos := 0
	for pos < len(data) {
		if d.cmap != nil {
			if text, n := d.cmap.lookup(data[pos:]); n > 0 {
				sb.WriteString(text)
				pos += n
				continue
			}
		}
		b := data[pos]
		pos++
		if d.face != nil {
			if _, ok := d.face.NominalGlyph(rune(b)); ok {
				sb.WriteRune(rune(b))
				continue
			}
		}
		if d.simple {
			sb.WriteRune(rune(b))
			continue
		}
		sb.WriteRune(Placeholder)
		missing++
	}
	return sb.String(), missing
}

type toUnicodeMap struct {
	entries map[string]string
	lengths []int // code byte lengths, longest first
}

// lookup matches the longest code prefix and returns its text and the
// number of bytes consumed, or 0 when nothing matches.
func (m *toUnicodeMap) lookup(data []byte) (string, int) {
	for _, l := range m.lengths {
		if l <= 0 || l > len(data) {
			continue
		}
		if text, ok := m.entries[string(data[:l])]; ok {
			return text, l
		}
	}
	return "", 0
}

// parseToUnicode reads the bfchar/bfrange sections of a ToUnicode
// CMap. The surrounding PostScript scaffolding is skipped token by
// token; only the hex-string payloads matter.
func parseToUnicode(data []byte) *toUnicodeMap {
	m := &toUnicodeMap{entries: make(map[string]string)}
	lengthSet := make(map[int]struct{})
	l := pdf.NewLexer(data)
	for {
		tok, err := l.Next()
		if err != nil {
			break
		}
		if tok.Kind != pdf.TokKeyword {
			continue
		}
		switch tok.Text {
		case "begincodespacerange":
			for {
				lo, ok := nextHex(l, "endcodespacerange")
				if !ok {
					break
				}
				if _, ok := nextHex(l, "endcodespacerange"); !ok {
					break
				}
				lengthSet[len(lo)] = struct{}{}
			}
		case "beginbfchar":
			for {
				src, ok := nextHex(l, "endbfchar")
				if !ok {
					break
				}
				dst, ok := nextHex(l, "endbfchar")
				if !ok {
					break
				}
				m.entries[string(src)] = decodeUTF16BE(dst)
				lengthSet[len(src)] = struct{}{}
			}
		case "beginbfrange":
			parseBFRange(l, m, lengthSet)
		}
	}
	if len(lengthSet) == 0 {
		for k := range m.entries {
			lengthSet[len(k)] = struct{}{}
		}
	}
	for n := range lengthSet {
		m.lengths = append(m.lengths, n)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(m.lengths)))
	return m
}

func parseBFRange(l *pdf.Lexer, m *toUnicodeMap, lengthSet map[int]struct{}) {
	for {
		lo, ok := nextHex(l, "endbfrange")
		if !ok {
			return
		}
		hi, ok := nextHex(l, "endbfrange")
		if !ok {
			return
		}
		tok, err := l.Next()
		if err != nil {
			return
		}
		length := len(lo)
		lengthSet[length] = struct{}{}
		start := bytesToInt(lo)
		end := bytesToInt(hi)
		if end-start > 1<<16 {
			// malformed range; refuse to materialize it
			return
		}
		switch {
		case tok.Kind == pdf.TokString && tok.Hex:
			dstVal := bytesToInt(tok.Data)
			for i := 0; i <= end-start; i++ {
				src := intToBytes(start+i, length)
				dst := intToBytes(dstVal+i, len(tok.Data))
				m.entries[string(src)] = decodeUTF16BE(dst)
			}
		case tok.Kind == pdf.TokArrayOpen:
			for i := 0; ; i++ {
				t, err := l.Next()
				if err != nil {
					return
				}
				if t.Kind == pdf.TokKeyword && t.Text == "]" {
					break
				}
				if t.Kind == pdf.TokString && start+i <= end {
					src := intToBytes(start+i, length)
					m.entries[string(src)] = decodeUTF16BE(t.Data)
				}
			}
		default:
			return
		}
	}
}

// nextHex returns the next hex-string token, or false at the section's
// end keyword.
func nextHex(l *pdf.Lexer, endKeyword string) ([]byte, bool) {
	for {
		tok, err := l.Next()
		if err != nil {
			return nil, false
		}
		if tok.Kind == pdf.TokKeyword && tok.Text == endKeyword {
			return nil, false
		}
		if tok.Kind == pdf.TokString && tok.Hex {
			return tok.Data, true
		}
	}
}

func decodeUTF16BE(data []byte) string {
	if len(data) == 1 {
		return string(rune(data[0]))
	}
	units := make([]uint16, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		units = append(units, uint16(data[i])<<8|uint16(data[i+1]))
	}
	return string(utf16.Decode(units))
}

func bytesToInt(data []byte) int {
	v := 0
	for _, b := range data {
		v = v<<8 | int(b)
	}
	return v
}

func intToBytes(v, length int) []byte {
	out := make([]byte, length)
	for i := length - 1; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}
