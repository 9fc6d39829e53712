// Package tagger rewrites page content streams: it partitions the
// operator sequence into runs, wraps text runs in /P BDC…EMC pairs
// carrying dense per-page MCIDs, wraps graphics runs as artifacts, and
// extracts the Unicode text of every content run for the linker.
package tagger

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/wudi/pdftag/pdf"
)

// Kind classifies a run.
type Kind int

const (
	Content Kind = iota
	Artifact
)

func (k Kind) String() string {
	if k == Artifact {
		return "artifact"
	}
	return "content"
}

// Run is one contiguous, non-overlapping span of operators in the
// original content stream.
type Run struct {
	Page         int
	MCID         int // -1 for artifacts
	Kind         Kind
	Text         string // decoded text of content runs
	Placeholders int    // code points that decoded to the placeholder
	Start, End   int    // byte span in the input stream
}

// Result is the rewritten stream plus its runs in stream order.
type Result struct {
	Content []byte
	Runs    []Run
}

// MCIDCount returns the number of content runs (the dense MCID range).
func (r Result) MCIDCount() int {
	n := 0
	for _, run := range r.Runs {
		if run.Kind == Content {
			n++
		}
	}
	return n
}

type op struct {
	name       string
	operands   []pdf.Object
	start, end int
}

// Tag tokenizes one page's content stream and rewrites it with
// marked-content wrappers. A stream that cannot be tokenized fails the
// page; the caller decides whether that aborts the document (the
// pipeline's default, since a partially tagged document claims
// conformance it does not have).
func Tag(page int, content []byte, fonts map[string]*FontDecoder) (Result, error) {
	ops, err := parseOps(content)
	if err != nil {
		return Result{}, fmt.Errorf("page %d: %w", page, err)
	}

	segments, err := segment(ops)
	if err != nil {
		return Result{}, fmt.Errorf("page %d: %w", page, err)
	}

	var out bytes.Buffer
	var runs []Run
	mcid := 0
	last := 0
	currentFont := ""
	opIdx := 0
	for _, seg := range segments {
		// replay font selection ops preceding this segment
		for opIdx < len(ops) && ops[opIdx].start < seg.start {
			if ops[opIdx].name == "Tf" {
				currentFont = fontOperand(ops[opIdx])
			}
			opIdx++
		}
		out.Write(content[last:seg.start])
		switch seg.kind {
		case Content:
			fmt.Fprintf(&out, "/P <</MCID %d>> BDC\n", mcid)
			out.Write(content[seg.start:seg.end])
			out.WriteString("\nEMC")
			text, placeholders, font := decodeSegment(ops, seg, currentFont, fonts)
			currentFont = font
			for ; opIdx < len(ops) && ops[opIdx].start < seg.end; opIdx++ {
			}
			runs = append(runs, Run{
				Page:         page,
				MCID:         mcid,
				Kind:         Content,
				Text:         strings.TrimSpace(text),
				Placeholders: placeholders,
				Start:        seg.start,
				End:          seg.end,
			})
			mcid++
		case Artifact:
			out.WriteString("/Artifact BMC\n")
			out.Write(content[seg.start:seg.end])
			out.WriteString("\nEMC")
			runs = append(runs, Run{
				Page:  page,
				MCID:  -1,
				Kind:  Artifact,
				Start: seg.start,
				End:   seg.end,
			})
		}
		last = seg.end
	}
	out.Write(content[last:])
	return Result{Content: out.Bytes(), Runs: runs}, nil
}

// parseOps tokenizes the stream into operator applications with byte
// spans. Inline images are consumed as a single BI op.
func parseOps(content []byte) ([]op, error) {
	l := pdf.NewLexer(content)
	var ops []op
	var operands []pdf.Object
	operandStart := -1
	for {
		tok, err := l.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if tok.Kind == pdf.TokKeyword && !isObjectKeyword(tok.Text) {
			start := tok.Start
			if operandStart >= 0 {
				start = operandStart
			}
			end := tok.End
			if tok.Text == "BI" {
				end, err = skipInlineImage(content, l)
				if err != nil {
					return nil, err
				}
			}
			ops = append(ops, op{name: tok.Text, operands: operands, start: start, end: end})
			operands = nil
			operandStart = -1
			continue
		}
		if operandStart < 0 {
			operandStart = tok.Start
		}
		obj, err := pdf.ParseOperand(l, tok)
		if err != nil {
			return nil, err
		}
		operands = append(operands, obj)
	}
	if len(operands) > 0 {
		return nil, fmt.Errorf("dangling operands: %d", len(operands))
	}
	return ops, nil
}

func isObjectKeyword(s string) bool {
	return s == "true" || s == "false" || s == "null"
}

// skipInlineImage advances past ID <binary> EI and returns the offset
// after EI.
func skipInlineImage(content []byte, l *pdf.Lexer) (int, error) {
	// key/value pairs until ID
	for {
		tok, err := l.Next()
		if err != nil {
			return 0, errors.New("unterminated inline image")
		}
		if tok.Kind == pdf.TokKeyword && tok.Text == "ID" {
			break
		}
		if _, err := pdf.ParseOperand(l, tok); err != nil {
			return 0, err
		}
	}
	pos := l.Pos() + 1 // single whitespace after ID
	for search := pos; search < len(content); {
		idx := bytes.Index(content[search:], []byte("EI"))
		if idx < 0 {
			return 0, errors.New("inline image: EI not found")
		}
		at := search + idx
		afterOK := at+2 >= len(content) || delimiterByte(content[at+2])
		beforeOK := at > 0 && whitespaceByte(content[at-1])
		if beforeOK && afterOK {
			l.Seek(at + 2)
			return at + 2, nil
		}
		search = at + 2
	}
	return 0, errors.New("inline image: EI not found")
}

func whitespaceByte(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

func delimiterByte(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return whitespaceByte(c)
}

type runSegment struct {
	kind       Kind
	start, end int
	first, n   int // op index range
}

var showOps = map[string]bool{"Tj": true, "TJ": true, "'": true, "\"": true}

// markingOps paint something on the page outside text: path painting,
// shading, XObjects, inline images. Pure state ops (q, cm, gs, color)
// delimit nothing on their own.
var markingOps = map[string]bool{
	"S": true, "s": true, "f": true, "F": true, "f*": true,
	"B": true, "B*": true, "b": true, "b*": true,
	"sh": true, "Do": true, "BI": true,
}

// pathOps construct the path a later painting op consumes; they belong
// to the artifact span of that paint.
var pathOps = map[string]bool{
	"m": true, "l": true, "c": true, "v": true, "y": true,
	"re": true, "h": true, "W": true, "W*": true, "n": true,
}

// segment groups ops into content runs (BT..ET blocks containing at
// least one show op) and artifact runs (op spans between text blocks
// containing at least one marking op, trimmed so leading state ops and
// trailing non-marking ops stay outside the wrapper).
func segment(ops []op) ([]runSegment, error) {
	var segs []runSegment
	pendingFirst := -1
	flush := func(lastIdx int) {
		if pendingFirst < 0 {
			return
		}
		first, n := pendingFirst, lastIdx-pendingFirst+1
		pendingFirst = -1
		if seg, ok := artifactSegment(ops, first, n); ok {
			segs = append(segs, seg)
		}
	}
	i := 0
	for i < len(ops) {
		o := ops[i]
		if o.name == "BT" {
			j := i + 1
			hasShow := false
			for j < len(ops) && ops[j].name != "ET" {
				if ops[j].name == "BT" {
					return nil, errors.New("nested BT")
				}
				if showOps[ops[j].name] {
					hasShow = true
				}
				j++
			}
			if j >= len(ops) {
				return nil, errors.New("BT without ET")
			}
			if hasShow {
				flush(i - 1)
				segs = append(segs, runSegment{
					kind:  Content,
					start: o.start,
					end:   ops[j].end,
					first: i,
					n:     j - i + 1,
				})
			}
			// text blocks with no show ops stay unwrapped
			i = j + 1
			continue
		}
		if showOps[o.name] {
			return nil, fmt.Errorf("show operator %s outside BT/ET", o.name)
		}
		if pendingFirst < 0 {
			pendingFirst = i
		}
		i++
	}
	flush(len(ops) - 1)
	return segs, nil
}

// artifactSegment trims an op range to [first path-or-marking op, last
// marking op] and reports whether anything marks at all.
func artifactSegment(ops []op, first, n int) (runSegment, bool) {
	lead, lastMark := -1, -1
	for i := first; i < first+n; i++ {
		name := ops[i].name
		if lead < 0 && (markingOps[name] || pathOps[name]) {
			lead = i
		}
		if markingOps[name] {
			lastMark = i
		}
	}
	if lastMark < 0 {
		return runSegment{}, false
	}
	return runSegment{
		kind:  Artifact,
		start: ops[lead].start,
		end:   ops[lastMark].end,
		first: lead,
		n:     lastMark - lead + 1,
	}, true
}

func fontOperand(o op) string {
	if len(o.operands) >= 1 {
		if n, ok := o.operands[0].(pdf.Name); ok {
			return string(n)
		}
	}
	return ""
}

// decodeSegment extracts the text of a content segment, tracking font
// switches inside it. Returns the text, the placeholder count, and the
// font active when the segment ends.
func decodeSegment(ops []op, seg runSegment, font string, fonts map[string]*FontDecoder) (string, int, string) {
	var sb strings.Builder
	placeholders := 0
	appendDecoded := func(data []byte) {
		text, missing := fonts[font].Decode(data)
		placeholders += missing
		sb.WriteString(text)
	}
	for i := seg.first; i < seg.first+seg.n; i++ {
		o := ops[i]
		switch o.name {
		case "Tf":
			font = fontOperand(o)
		case "Tj":
			if len(o.operands) >= 1 {
				if s, ok := o.operands[len(o.operands)-1].(pdf.String); ok {
					appendDecoded(s.Data)
				}
			}
		case "'", "\"":
			if len(o.operands) >= 1 {
				if s, ok := o.operands[len(o.operands)-1].(pdf.String); ok {
					sb.WriteByte(' ')
					appendDecoded(s.Data)
				}
			}
		case "TJ":
			if len(o.operands) >= 1 {
				if arr, ok := o.operands[len(o.operands)-1].(pdf.Array); ok {
					for _, item := range arr {
						if s, ok := item.(pdf.String); ok {
							appendDecoded(s.Data)
						}
					}
				}
			}
		case "T*", "Td", "TD":
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
		}
	}
	return sb.String(), placeholders, font
}
