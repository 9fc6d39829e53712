package pdf

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Write serializes the document. Output is deterministic: objects are
// emitted in ascending number order and dictionary keys are sorted, so
// byte-identical inputs produce byte-identical outputs.
func (d *Document) Write(w io.Writer) error {
	var buf bytes.Buffer
	buf.WriteString("%PDF-" + d.Version + "\n%\xE2\xE3\xCF\xD3\n")

	refs := make([]ObjectRef, 0, len(d.Objects))
	for ref := range d.Objects {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Num < refs[j].Num })

	offsets := make(map[int]int64, len(refs))
	gens := make(map[int]int, len(refs))
	maxNum := 0
	for _, ref := range refs {
		obj := d.Objects[ref]
		// Objects originally packed in object streams or xref streams
		// are flattened into the body; the old XRef stream itself is
		// replaced by the classic table below.
		if s, ok := obj.(*Stream); ok {
			switch s.Dict.Name("Type") {
			case "XRef", "ObjStm":
				continue
			}
		}
		offsets[ref.Num] = int64(buf.Len())
		gens[ref.Num] = ref.Gen
		if ref.Num > maxNum {
			maxNum = ref.Num
		}
		fmt.Fprintf(&buf, "%d %d obj\n", ref.Num, ref.Gen)
		writeObject(&buf, obj)
		buf.WriteString("\nendobj\n")
	}

	xrefOffset := int64(buf.Len())
	fmt.Fprintf(&buf, "xref\n0 %d\n", maxNum+1)
	buf.WriteString("0000000000 65535 f \n")
	for num := 1; num <= maxNum; num++ {
		if off, ok := offsets[num]; ok {
			fmt.Fprintf(&buf, "%010d %05d n \n", off, gens[num])
		} else {
			buf.WriteString("0000000000 65535 f \n")
		}
	}

	trailer := d.Trailer.Clone()
	trailer["Size"] = Integer(maxNum + 1)
	// Stale xref-stream bookkeeping must not survive into the rewrite.
	delete(trailer, "Prev")
	delete(trailer, "XRefStm")
	delete(trailer, "Type")
	delete(trailer, "W")
	delete(trailer, "Index")
	delete(trailer, "Filter")
	delete(trailer, "DecodeParms")
	delete(trailer, "Length")
	buf.WriteString("trailer\n")
	writeObject(&buf, trailer)
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)

	_, err := w.Write(buf.Bytes())
	return err
}

// Save stages the serialized document in a temp file next to path and
// renames it into place, so a failed write never leaves a truncated or
// half-mutated file at the destination.
func (d *Document) Save(path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".pdftag-*")
	if err != nil {
		return fmt.Errorf("pdf: stage output: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := d.Write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("pdf: write output: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("pdf: sync output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("pdf: close output: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("pdf: chmod output: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("pdf: replace output: %w", err)
	}
	return nil
}

func writeObject(buf *bytes.Buffer, obj Object) {
	switch v := obj.(type) {
	case Name:
		writeName(buf, string(v))
	case Integer:
		fmt.Fprintf(buf, "%d", int64(v))
	case Real:
		buf.WriteString(numToken(float64(v)))
	case Boolean:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case Null:
		buf.WriteString("null")
	case String:
		if v.Hex {
			buf.WriteByte('<')
			for _, c := range v.Data {
				fmt.Fprintf(buf, "%02X", c)
			}
			buf.WriteByte('>')
		} else {
			writeLiteralString(buf, v.Data)
		}
	case Array:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(' ')
			}
			writeObject(buf, item)
		}
		buf.WriteByte(']')
	case Dict:
		writeDict(buf, v)
	case *Stream:
		dict := v.Dict.Clone()
		dict["Length"] = Integer(len(v.Data))
		writeDict(buf, dict)
		buf.WriteString("\nstream\n")
		buf.Write(v.Data)
		buf.WriteString("\nendstream")
	case Ref:
		fmt.Fprintf(buf, "%d %d R", v.Num, v.Gen)
	default:
		buf.WriteString("null")
	}
}

func writeDict(buf *bytes.Buffer, d Dict) {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf.WriteString("<<")
	for _, k := range keys {
		buf.WriteByte(' ')
		writeName(buf, k)
		buf.WriteByte(' ')
		writeObject(buf, d[k])
	}
	buf.WriteString(" >>")
}

func writeName(buf *bytes.Buffer, name string) {
	buf.WriteByte('/')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= 0x20 || c >= 0x7F || isDelimiter(c) || c == '#' {
			fmt.Fprintf(buf, "#%02X", c)
		} else {
			buf.WriteByte(c)
		}
	}
}

func writeLiteralString(buf *bytes.Buffer, data []byte) {
	buf.WriteByte('(')
	for _, c := range data {
		switch c {
		case '\\', '(', ')':
			buf.WriteByte('\\')
			buf.WriteByte(c)
		case '\n':
			buf.WriteString("\\n")
		case '\r':
			buf.WriteString("\\r")
		case '\t':
			buf.WriteString("\\t")
		case '\b':
			buf.WriteString("\\b")
		case '\f':
			buf.WriteString("\\f")
		default:
			if c < 0x20 || c >= 0x80 {
				fmt.Fprintf(buf, "\\%03o", c)
			} else {
				buf.WriteByte(c)
			}
		}
	}
	buf.WriteByte(')')
}
