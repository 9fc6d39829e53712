package pdf

import (
	"bytes"
	"compress/zlib"
	stdascii85 "encoding/ascii85"
	"encoding/hex"
	"fmt"
	"io"
)

// decodeStream applies the stream's filter chain and, for FlateDecode,
// any PNG/TIFF predictor declared in DecodeParms. Only the filters that
// occur in documents we retrofit are supported; an unknown filter is an
// error so the caller can surface it instead of tagging garbage.
func decodeStream(s *Stream, resolve func(Object) Object) ([]byte, error) {
	data := s.Data
	filters, parms := filterChain(s.Dict, resolve)
	for i, name := range filters {
		var err error
		switch name {
		case "FlateDecode", "Fl":
			data, err = flateDecode(data)
			if err == nil && i < len(parms) && parms[i] != nil {
				data, err = applyPredictor(data, parms[i])
			}
		case "ASCIIHexDecode", "AHx":
			data, err = asciiHexDecode(data)
		case "ASCII85Decode", "A85":
			data, err = ascii85Decode(data)
		default:
			return nil, fmt.Errorf("unsupported stream filter %q", name)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return data, nil
}

func filterChain(d Dict, resolve func(Object) Object) ([]string, []Dict) {
	var names []string
	var parms []Dict
	switch f := resolve(d["Filter"]).(type) {
	case Name:
		names = []string{string(f)}
	case Array:
		for _, item := range f {
			if n, ok := resolve(item).(Name); ok {
				names = append(names, string(n))
			}
		}
	}
	switch p := resolve(d["DecodeParms"]).(type) {
	case Dict:
		parms = []Dict{p}
	case Array:
		for _, item := range p {
			pd, _ := resolve(item).(Dict)
			parms = append(parms, pd)
		}
	}
	for len(parms) < len(names) {
		parms = append(parms, nil)
	}
	return names, parms
}

func flateDecode(in []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return out.Bytes(), nil
}

func flateEncode(in []byte) []byte {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	w.Write(in)
	w.Close()
	return buf.Bytes()
}

func asciiHexDecode(in []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(in)
	if i := bytes.IndexByte(trimmed, '>'); i >= 0 {
		trimmed = trimmed[:i]
	}
	var compact []byte
	for _, c := range trimmed {
		if isWhitespace(c) {
			continue
		}
		compact = append(compact, c)
	}
	if len(compact)%2 == 1 {
		compact = append(compact, '0')
	}
	out := make([]byte, hex.DecodedLen(len(compact)))
	n, err := hex.Decode(out, compact)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

func ascii85Decode(in []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(in)
	if bytes.HasPrefix(trimmed, []byte("<~")) {
		trimmed = trimmed[2:]
	}
	if i := bytes.Index(trimmed, []byte("~>")); i >= 0 {
		trimmed = trimmed[:i]
	}
	out := make([]byte, len(trimmed)*2)
	n, _, err := stdascii85.Decode(out, trimmed, true)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

// applyPredictor undoes PNG row predictors (the only predictor family
// xref streams in practice use).
func applyPredictor(data []byte, parms Dict) ([]byte, error) {
	predictor, _ := parms.Int("Predictor")
	if predictor <= 1 {
		return data, nil
	}
	if predictor < 10 {
		return nil, fmt.Errorf("unsupported predictor %d", predictor)
	}
	columns, ok := parms.Int("Columns")
	if !ok || columns <= 0 {
		columns = 1
	}
	colors, ok := parms.Int("Colors")
	if !ok || colors <= 0 {
		colors = 1
	}
	bpc, ok := parms.Int("BitsPerComponent")
	if !ok || bpc <= 0 {
		bpc = 8
	}
	bpp := int((colors*bpc + 7) / 8)
	rowLen := int(columns)*int(colors)*int(bpc)/8 + 1
	if rowLen <= 1 || len(data)%rowLen != 0 {
		return nil, fmt.Errorf("predictor row length %d does not divide %d", rowLen, len(data))
	}
	rows := len(data) / rowLen
	out := make([]byte, 0, rows*(rowLen-1))
	prev := make([]byte, rowLen-1)
	for r := 0; r < rows; r++ {
		row := data[r*rowLen : (r+1)*rowLen]
		ft := row[0]
		cur := append([]byte(nil), row[1:]...)
		for i := range cur {
			var left, up, upLeft byte
			if i >= bpp {
				left = cur[i-bpp]
				upLeft = prev[i-bpp]
			}
			up = prev[i]
			switch ft {
			case 0: // none
			case 1:
				cur[i] += left
			case 2:
				cur[i] += up
			case 3:
				cur[i] += byte((int(left) + int(up)) / 2)
			case 4:
				cur[i] += paeth(left, up, upLeft)
			default:
				return nil, fmt.Errorf("unknown PNG filter %d", ft)
			}
		}
		out = append(out, cur...)
		prev = cur
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
