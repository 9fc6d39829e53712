package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Read parses a PDF from r into a Document. Classic xref tables, xref
// streams, and object streams are supported; a damaged xref falls back
// to a full-file object scan. Any failure here is fatal for the caller:
// nothing has been mutated yet.
func Read(r io.ReaderAt) (*Document, error) {
	data := readAll(r)
	if len(data) < 8 || !bytes.HasPrefix(data, []byte("%PDF-")) {
		return nil, errors.New("pdf: missing %PDF header")
	}
	version := "1.7"
	if i := bytes.IndexAny(data[:16], "\r\n"); i > 5 {
		version = string(data[5:i])
	}

	doc := &Document{
		Objects: make(map[ObjectRef]Object),
		Version: version,
	}

	entries, trailer, err := resolveXref(data)
	if err != nil {
		entries, trailer, err = repairScan(data)
		if err != nil {
			return nil, fmt.Errorf("pdf: %w", err)
		}
	}
	doc.Trailer = trailer

	// First pass: objects stored directly in the file.
	compressed := make(map[ObjectRef]xrefEntry)
	for ref, e := range entries {
		switch e.typ {
		case 1:
			obj, err := parseIndirect(data, e.offset, ref)
			if err != nil {
				return nil, fmt.Errorf("pdf: object %s: %w", ref, err)
			}
			doc.Objects[ref] = obj
		case 2:
			compressed[ref] = e
		}
		if ref.Num > doc.maxNum {
			doc.maxNum = ref.Num
		}
	}

	// Second pass: objects packed in object streams.
	if err := loadObjectStreams(doc, compressed); err != nil {
		return nil, fmt.Errorf("pdf: %w", err)
	}

	if doc.Trailer == nil {
		return nil, errors.New("pdf: no trailer found")
	}
	if _, ok := doc.Trailer.Ref("Root"); !ok {
		return nil, errors.New("pdf: trailer has no Root")
	}
	if _, ok := doc.Trailer["Encrypt"]; ok {
		return nil, errors.New("pdf: encrypted documents are not supported")
	}
	return doc, nil
}

// ReadFile reads and parses the PDF at path.
func ReadFile(path string) (*Document, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

func readAll(r io.ReaderAt) []byte {
	const chunk = 64 * 1024
	var buf bytes.Buffer
	tmp := make([]byte, chunk)
	for off := int64(0); ; off += chunk {
		n, err := r.ReadAt(tmp, off)
		if n > 0 {
			buf.Write(tmp[:n])
		}
		if err != nil || n < chunk {
			break
		}
	}
	return buf.Bytes()
}

type xrefEntry struct {
	typ    int // 1 = in file, 2 = in object stream
	offset int64
	gen    int
	stmNum int // containing object stream (type 2)
}

// resolveXref walks the startxref / Prev chain, newest section first.
// Entries already seen win, so incremental updates shadow older ones.
func resolveXref(data []byte) (map[ObjectRef]xrefEntry, Dict, error) {
	idx := bytes.LastIndex(data, []byte("startxref"))
	if idx < 0 {
		return nil, nil, errors.New("startxref not found")
	}
	l := NewLexer(data)
	l.Seek(idx + len("startxref"))
	tok, err := l.Next()
	if err != nil || tok.Kind != TokNumber {
		return nil, nil, errors.New("bad startxref offset")
	}
	offset := int64(tok.Num)

	entries := make(map[ObjectRef]xrefEntry)
	var trailer Dict
	seen := make(map[int64]bool)
	for offset > 0 {
		if seen[offset] || offset >= int64(len(data)) {
			break
		}
		seen[offset] = true
		section, sectionTrailer, err := parseXrefSection(data, offset)
		if err != nil {
			return nil, nil, err
		}
		for ref, e := range section {
			if _, ok := entries[ref]; !ok {
				entries[ref] = e
			}
		}
		if trailer == nil {
			trailer = sectionTrailer
		}
		offset = 0
		if sectionTrailer != nil {
			// A hybrid file points at an xref stream shadowing the table.
			if stm, ok := sectionTrailer.Int("XRefStm"); ok && !seen[stm] {
				if s, st, err := parseXrefSection(data, stm); err == nil {
					for ref, e := range s {
						if _, ok := entries[ref]; !ok {
							entries[ref] = e
						}
					}
					_ = st
				}
			}
			if prev, ok := sectionTrailer.Int("Prev"); ok {
				offset = prev
			}
		}
	}
	if trailer == nil {
		return nil, nil, errors.New("no trailer dictionary")
	}
	return entries, trailer, nil
}

func parseXrefSection(data []byte, offset int64) (map[ObjectRef]xrefEntry, Dict, error) {
	l := NewLexer(data)
	l.Seek(int(offset))
	tok, err := l.Next()
	if err != nil {
		return nil, nil, err
	}
	if tok.Kind == TokKeyword && tok.Text == "xref" {
		return parseXrefTable(l)
	}
	// Otherwise this must be an xref stream object: "num gen obj".
	if tok.Kind != TokNumber {
		return nil, nil, fmt.Errorf("no xref section at offset %d", offset)
	}
	l.Seek(int(offset))
	ref, obj, err := parseIndirectAt(l, data)
	if err != nil {
		return nil, nil, err
	}
	stream, ok := obj.(*Stream)
	if !ok || stream.Dict.Name("Type") != "XRef" {
		return nil, nil, fmt.Errorf("object %s at xref offset is not an XRef stream", ref)
	}
	return parseXrefStream(stream)
}

func parseXrefTable(l *Lexer) (map[ObjectRef]xrefEntry, Dict, error) {
	entries := make(map[ObjectRef]xrefEntry)
	for {
		tok, err := l.Next()
		if err != nil {
			return nil, nil, errors.New("unexpected end of xref table")
		}
		if tok.Kind == TokKeyword && tok.Text == "trailer" {
			obj, err := ParseObject(l)
			if err != nil {
				return nil, nil, fmt.Errorf("parse trailer: %w", err)
			}
			trailer, ok := obj.(Dict)
			if !ok {
				return nil, nil, errors.New("trailer is not a dictionary")
			}
			return entries, trailer, nil
		}
		if tok.Kind != TokNumber {
			return nil, nil, fmt.Errorf("bad xref subsection at %d", tok.Start)
		}
		start := int(tok.Num)
		countTok, err := l.Next()
		if err != nil || countTok.Kind != TokNumber {
			return nil, nil, errors.New("bad xref subsection count")
		}
		count := int(countTok.Num)
		for i := 0; i < count; i++ {
			offTok, err1 := l.Next()
			genTok, err2 := l.Next()
			kindTok, err3 := l.Next()
			if err1 != nil || err2 != nil || err3 != nil ||
				offTok.Kind != TokNumber || genTok.Kind != TokNumber || kindTok.Kind != TokKeyword {
				return nil, nil, errors.New("malformed xref entry")
			}
			if kindTok.Text != "n" {
				continue
			}
			ref := ObjectRef{Num: start + i, Gen: int(genTok.Num)}
			entries[ref] = xrefEntry{typ: 1, offset: int64(offTok.Num), gen: ref.Gen}
		}
	}
}

func parseXrefStream(s *Stream) (map[ObjectRef]xrefEntry, Dict, error) {
	raw, err := decodeStream(s, func(o Object) Object { return o })
	if err != nil {
		return nil, nil, fmt.Errorf("decode xref stream: %w", err)
	}
	wArr, ok := s.Dict.Array("W")
	if !ok || len(wArr) < 3 {
		return nil, nil, errors.New("xref stream missing W")
	}
	w := make([]int, 3)
	for i := 0; i < 3; i++ {
		n, ok := wArr[i].(Integer)
		if !ok {
			return nil, nil, errors.New("bad W entry")
		}
		w[i] = int(n)
	}
	size, _ := s.Dict.Int("Size")
	var index []int64
	if idxArr, ok := s.Dict.Array("Index"); ok {
		for _, v := range idxArr {
			if n, ok := v.(Integer); ok {
				index = append(index, int64(n))
			}
		}
	} else {
		index = []int64{0, size}
	}

	entries := make(map[ObjectRef]xrefEntry)
	rowLen := w[0] + w[1] + w[2]
	pos := 0
	for i := 0; i+1 < len(index); i += 2 {
		start, count := index[i], index[i+1]
		for n := int64(0); n < count; n++ {
			if pos+rowLen > len(raw) {
				return nil, nil, errors.New("xref stream truncated")
			}
			typ := int64(1) // default when W[0] == 0
			if w[0] > 0 {
				typ = beInt(raw[pos : pos+w[0]])
			}
			f2 := beInt(raw[pos+w[0] : pos+w[0]+w[1]])
			f3 := beInt(raw[pos+w[0]+w[1] : pos+rowLen])
			pos += rowLen
			num := int(start + n)
			switch typ {
			case 1:
				entries[ObjectRef{Num: num, Gen: int(f3)}] = xrefEntry{typ: 1, offset: f2, gen: int(f3)}
			case 2:
				entries[ObjectRef{Num: num}] = xrefEntry{typ: 2, stmNum: int(f2), offset: f3}
			}
		}
	}
	return entries, s.Dict, nil
}

func beInt(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

// parseIndirect parses "num gen obj ... endobj" at offset.
func parseIndirect(data []byte, offset int64, want ObjectRef) (Object, error) {
	if offset < 0 || offset >= int64(len(data)) {
		return nil, fmt.Errorf("offset %d out of range", offset)
	}
	l := NewLexer(data)
	l.Seek(int(offset))
	got, obj, err := parseIndirectAt(l, data)
	if err != nil {
		return nil, err
	}
	if got.Num != want.Num {
		return nil, fmt.Errorf("expected object %d at offset %d, found %d", want.Num, offset, got.Num)
	}
	return obj, nil
}

func parseIndirectAt(l *Lexer, data []byte) (ObjectRef, Object, error) {
	numTok, err := l.Next()
	if err != nil || numTok.Kind != TokNumber {
		return ObjectRef{}, nil, errors.New("missing object number")
	}
	genTok, err := l.Next()
	if err != nil || genTok.Kind != TokNumber {
		return ObjectRef{}, nil, errors.New("missing generation number")
	}
	objTok, err := l.Next()
	if err != nil || objTok.Kind != TokKeyword || objTok.Text != "obj" {
		return ObjectRef{}, nil, errors.New("missing obj keyword")
	}
	ref := ObjectRef{Num: int(numTok.Num), Gen: int(genTok.Num)}

	obj, err := ParseObject(l)
	if err != nil {
		return ref, nil, err
	}

	tok, err := l.Next()
	if err == nil && tok.Kind == TokKeyword && tok.Text == "stream" {
		dict, ok := obj.(Dict)
		if !ok {
			return ref, nil, errors.New("stream keyword after non-dictionary")
		}
		streamData, next, err := extractStreamData(data, tok.End, dict)
		if err != nil {
			return ref, nil, err
		}
		l.Seek(next)
		return ref, &Stream{Dict: dict, Data: streamData}, nil
	}
	return ref, obj, nil
}

// extractStreamData slices the raw stream payload following the stream
// keyword at pos. A direct integer Length is trusted when it lands on
// an endstream keyword; otherwise the keyword is searched for, which
// also covers indirect Length values.
func extractStreamData(data []byte, pos int, dict Dict) ([]byte, int, error) {
	if pos < len(data) && data[pos] == '\r' {
		pos++
	}
	if pos < len(data) && data[pos] == '\n' {
		pos++
	}
	if length, ok := dict.Int("Length"); ok {
		end := pos + int(length)
		if end <= len(data) {
			tail := data[end:]
			for len(tail) > 0 && isWhitespace(tail[0]) {
				tail = tail[1:]
			}
			if bytes.HasPrefix(tail, []byte("endstream")) {
				next := end + (len(data) - end - len(tail)) + len("endstream")
				return data[pos:end], next, nil
			}
		}
	}
	idx := bytes.Index(data[pos:], []byte("endstream"))
	if idx < 0 {
		return nil, 0, errors.New("endstream not found")
	}
	end := pos + idx
	// drop the EOL that separates data from the keyword
	if end > pos && data[end-1] == '\n' {
		end--
	}
	if end > pos && data[end-1] == '\r' {
		end--
	}
	return data[pos:end], pos + idx + len("endstream"), nil
}

// loadObjectStreams unpacks type-2 entries from their containers.
func loadObjectStreams(doc *Document, compressed map[ObjectRef]xrefEntry) error {
	unpacked := make(map[int][]objStmEntry)
	for ref, e := range compressed {
		entries, ok := unpacked[e.stmNum]
		if !ok {
			var err error
			entries, err = unpackObjectStream(doc, e.stmNum)
			if err != nil {
				return fmt.Errorf("object stream %d: %w", e.stmNum, err)
			}
			unpacked[e.stmNum] = entries
		}
		idx := int(e.offset) // field 3 is the index within the stream
		if idx < 0 || idx >= len(entries) {
			return fmt.Errorf("object %s: index %d out of range in stream %d", ref, idx, e.stmNum)
		}
		doc.Objects[ref] = entries[idx].obj
	}
	return nil
}

type objStmEntry struct {
	num int
	obj Object
}

func unpackObjectStream(doc *Document, stmNum int) ([]objStmEntry, error) {
	container, ok := doc.Objects[ObjectRef{Num: stmNum}].(*Stream)
	if !ok {
		return nil, errors.New("container is not a stream")
	}
	data, err := doc.StreamData(container)
	if err != nil {
		return nil, err
	}
	n, _ := container.Dict.Int("N")
	first, _ := container.Dict.Int("First")
	l := NewLexer(data)
	type hdr struct{ num, off int }
	hdrs := make([]hdr, 0, n)
	for i := int64(0); i < n; i++ {
		numTok, err1 := l.Next()
		offTok, err2 := l.Next()
		if err1 != nil || err2 != nil || numTok.Kind != TokNumber || offTok.Kind != TokNumber {
			return nil, errors.New("malformed object stream header")
		}
		hdrs = append(hdrs, hdr{num: int(numTok.Num), off: int(offTok.Num)})
	}
	out := make([]objStmEntry, 0, n)
	for _, h := range hdrs {
		ol := NewLexer(data)
		ol.Seek(int(first) + h.off)
		obj, err := ParseObject(ol)
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", h.num, err)
		}
		out = append(out, objStmEntry{num: h.num, obj: obj})
	}
	return out, nil
}

// repairScan rebuilds the object map by scanning for "num gen obj"
// headers when the xref is unusable.
func repairScan(data []byte) (map[ObjectRef]xrefEntry, Dict, error) {
	entries := make(map[ObjectRef]xrefEntry)
	search := 0
	for {
		idx := bytes.Index(data[search:], []byte("obj"))
		if idx < 0 {
			break
		}
		pos := search + idx
		search = pos + 3
		if pos+3 < len(data) && !isDelimiter(data[pos+3]) {
			continue
		}
		start, ref, ok := objHeaderBefore(data, pos)
		if !ok {
			continue
		}
		entries[ref] = xrefEntry{typ: 1, offset: int64(start), gen: ref.Gen}
	}
	if len(entries) == 0 {
		return nil, nil, errors.New("no objects found during repair scan")
	}

	// Prefer the last trailer dictionary; fall back to locating the
	// catalog and synthesizing one.
	if tIdx := bytes.LastIndex(data, []byte("trailer")); tIdx >= 0 {
		l := NewLexer(data)
		l.Seek(tIdx + len("trailer"))
		if obj, err := ParseObject(l); err == nil {
			if trailer, ok := obj.(Dict); ok {
				return entries, trailer, nil
			}
		}
	}
	for ref, e := range entries {
		obj, err := parseIndirect(data, e.offset, ref)
		if err != nil {
			continue
		}
		if d, ok := obj.(Dict); ok && d.Name("Type") == "Catalog" {
			return entries, Dict{"Root": Ref(ref), "Size": Integer(len(entries) + 1)}, nil
		}
	}
	return nil, nil, errors.New("repair scan found no catalog")
}

func objHeaderBefore(data []byte, objPos int) (int, ObjectRef, bool) {
	i := objPos - 1
	skipWS := func() {
		for i >= 0 && isWhitespace(data[i]) {
			i--
		}
	}
	readInt := func() (int, bool) {
		end := i
		for i >= 0 && data[i] >= '0' && data[i] <= '9' {
			i--
		}
		if i == end {
			return 0, false
		}
		v := 0
		for _, c := range data[i+1 : end+1] {
			v = v*10 + int(c-'0')
		}
		return v, true
	}
	skipWS()
	gen, ok := readInt()
	if !ok {
		return 0, ObjectRef{}, false
	}
	skipWS()
	num, ok := readInt()
	if !ok {
		return 0, ObjectRef{}, false
	}
	return i + 1, ObjectRef{Num: num, Gen: gen}, true
}
