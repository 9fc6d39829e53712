package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// TokenKind enumerates lexical token classes of PDF syntax. The same
// lexer serves file-level objects and page content streams.
type TokenKind int

const (
	TokKeyword TokenKind = iota // operators, obj/endobj/stream, >>, ]
	TokName
	TokNumber
	TokString    // literal or hex, decoded bytes
	TokArrayOpen // [
	TokDictOpen  // <<
)

type Token struct {
	Kind  TokenKind
	Text  string  // keyword or name value
	Data  []byte  // decoded string bytes
	Num   float64 // numeric value
	IsInt bool
	Hex   bool
	Start int // byte offset of the token's first byte
	End   int // byte offset just past the token
}

// Lexer scans PDF object syntax from an in-memory buffer.
type Lexer struct {
	data   []byte
	pos    int
	pushed []Token
}

func NewLexer(data []byte) *Lexer { return &Lexer{data: data} }

// Pos returns the current scan offset.
func (l *Lexer) Pos() int { return l.pos }

// Seek repositions the lexer and clears any pushed-back tokens.
func (l *Lexer) Seek(off int) {
	l.pos = off
	l.pushed = l.pushed[:0]
}

// Unread pushes a token back; the next call to Next returns it.
func (l *Lexer) Unread(t Token) { l.pushed = append(l.pushed, t) }

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return isWhitespace(c)
}

func (l *Lexer) skipWS() error {
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		if isWhitespace(c) {
			l.pos++
			continue
		}
		if c == '%' {
			for l.pos < len(l.data) && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
			continue
		}
		return nil
	}
	return io.EOF
}

// Next returns the next token or io.EOF.
func (l *Lexer) Next() (Token, error) {
	if n := len(l.pushed); n > 0 {
		t := l.pushed[n-1]
		l.pushed = l.pushed[:n-1]
		return t, nil
	}
	if err := l.skipWS(); err != nil {
		return Token{}, err
	}
	start := l.pos
	c := l.data[l.pos]
	switch c {
	case '<':
		if l.peek(1) == '<' {
			l.pos += 2
			return Token{Kind: TokDictOpen, Text: "<<", Start: start, End: l.pos}, nil
		}
		return l.scanHexString(start)
	case '>':
		if l.peek(1) == '>' {
			l.pos += 2
			return Token{Kind: TokKeyword, Text: ">>", Start: start, End: l.pos}, nil
		}
		l.pos++
		return Token{Kind: TokKeyword, Text: ">", Start: start, End: l.pos}, nil
	case '[':
		l.pos++
		return Token{Kind: TokArrayOpen, Text: "[", Start: start, End: l.pos}, nil
	case ']':
		l.pos++
		return Token{Kind: TokKeyword, Text: "]", Start: start, End: l.pos}, nil
	case '(':
		return l.scanLiteralString(start)
	case '/':
		return l.scanName(start)
	case '{', '}':
		l.pos++
		return Token{Kind: TokKeyword, Text: string(c), Start: start, End: l.pos}, nil
	}
	if c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') {
		return l.scanNumber(start)
	}
	return l.scanKeyword(start)
}

func (l *Lexer) peek(ahead int) byte {
	if l.pos+ahead < len(l.data) {
		return l.data[l.pos+ahead]
	}
	return 0
}

func (l *Lexer) scanName(start int) (Token, error) {
	l.pos++ // '/'
	var out bytes.Buffer
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		if isDelimiter(c) {
			break
		}
		if c == '#' && l.pos+2 < len(l.data) {
			hi, okHi := hexNibble(l.data[l.pos+1])
			lo, okLo := hexNibble(l.data[l.pos+2])
			if okHi && okLo {
				out.WriteByte(hi<<4 | lo)
				l.pos += 3
				continue
			}
		}
		out.WriteByte(c)
		l.pos++
	}
	return Token{Kind: TokName, Text: out.String(), Start: start, End: l.pos}, nil
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}

func (l *Lexer) scanNumber(start int) (Token, error) {
	isInt := true
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		if c == '.' {
			isInt = false
			l.pos++
			continue
		}
		if c == '+' || c == '-' || (c >= '0' && c <= '9') {
			l.pos++
			continue
		}
		break
	}
	text := string(l.data[start:l.pos])
	num, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return Token{}, fmt.Errorf("bad number %q at %d", text, start)
	}
	return Token{Kind: TokNumber, Num: num, IsInt: isInt, Text: text, Start: start, End: l.pos}, nil
}

func (l *Lexer) scanKeyword(start int) (Token, error) {
	for l.pos < len(l.data) && !isDelimiter(l.data[l.pos]) {
		l.pos++
	}
	if l.pos == start {
		l.pos++ // lone delimiter byte nothing else claimed
	}
	return Token{Kind: TokKeyword, Text: string(l.data[start:l.pos]), Start: start, End: l.pos}, nil
}

func (l *Lexer) scanLiteralString(start int) (Token, error) {
	l.pos++ // '('
	var buf bytes.Buffer
	depth := 1
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		switch c {
		case '\\':
			l.pos++
			if l.pos >= len(l.data) {
				return Token{}, errors.New("unterminated string escape")
			}
			esc := l.data[l.pos]
			switch esc {
			case 'n':
				buf.WriteByte('\n')
				l.pos++
			case 'r':
				buf.WriteByte('\r')
				l.pos++
			case 't':
				buf.WriteByte('\t')
				l.pos++
			case 'b':
				buf.WriteByte('\b')
				l.pos++
			case 'f':
				buf.WriteByte('\f')
				l.pos++
			case '\r':
				l.pos++
				if l.pos < len(l.data) && l.data[l.pos] == '\n' {
					l.pos++
				}
			case '\n':
				l.pos++
			default:
				if esc >= '0' && esc <= '7' {
					val := 0
					for k := 0; k < 3 && l.pos < len(l.data); k++ {
						d := l.data[l.pos]
						if d < '0' || d > '7' {
							break
						}
						val = val<<3 | int(d-'0')
						l.pos++
					}
					buf.WriteByte(byte(val))
				} else {
					buf.WriteByte(esc)
					l.pos++
				}
			}
		case '(':
			depth++
			buf.WriteByte(c)
			l.pos++
		case ')':
			depth--
			l.pos++
			if depth == 0 {
				return Token{Kind: TokString, Data: buf.Bytes(), Start: start, End: l.pos}, nil
			}
			buf.WriteByte(c)
		default:
			buf.WriteByte(c)
			l.pos++
		}
	}
	return Token{}, errors.New("unterminated literal string")
}

func (l *Lexer) scanHexString(start int) (Token, error) {
	l.pos++ // '<'
	var out bytes.Buffer
	var hi byte
	haveHi := false
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		if c == '>' {
			l.pos++
			if haveHi {
				out.WriteByte(hi << 4) // odd digit padded with zero
			}
			return Token{Kind: TokString, Data: out.Bytes(), Hex: true, Start: start, End: l.pos}, nil
		}
		if isWhitespace(c) {
			l.pos++
			continue
		}
		nib, ok := hexNibble(c)
		if !ok {
			return Token{}, fmt.Errorf("bad hex digit %q at %d", c, l.pos)
		}
		if haveHi {
			out.WriteByte(hi<<4 | nib)
			haveHi = false
		} else {
			hi = nib
			haveHi = true
		}
		l.pos++
	}
	return Token{}, errors.New("unterminated hex string")
}

// ParseObject reads one complete object (scalar, array, or dictionary)
// starting at the lexer's position. Indirect references are recognized
// by number-number-R lookahead.
func ParseObject(l *Lexer) (Object, error) {
	tok, err := l.Next()
	if err != nil {
		return nil, err
	}
	return parseFromToken(l, tok)
}

// ParseOperand completes an object whose first token has already been
// read, as content-stream interpreters do when distinguishing operands
// from operators.
func ParseOperand(l *Lexer, tok Token) (Object, error) {
	return parseFromToken(l, tok)
}

func parseFromToken(l *Lexer, tok Token) (Object, error) {
	switch tok.Kind {
	case TokNumber:
		if tok.IsInt {
			if obj, ok, err := tryRef(l, tok); err != nil {
				return nil, err
			} else if ok {
				return obj, nil
			}
			return Integer(int64(tok.Num)), nil
		}
		return Real(tok.Num), nil
	case TokName:
		return Name(tok.Text), nil
	case TokString:
		return String{Data: tok.Data, Hex: tok.Hex}, nil
	case TokArrayOpen:
		var arr Array
		for {
			t, err := l.Next()
			if err != nil {
				return nil, errors.New("unterminated array")
			}
			if t.Kind == TokKeyword && t.Text == "]" {
				return arr, nil
			}
			item, err := parseFromToken(l, t)
			if err != nil {
				return nil, err
			}
			arr = append(arr, item)
		}
	case TokDictOpen:
		dict := make(Dict)
		for {
			t, err := l.Next()
			if err != nil {
				return nil, errors.New("unterminated dictionary")
			}
			if t.Kind == TokKeyword && t.Text == ">>" {
				return dict, nil
			}
			if t.Kind != TokName {
				return nil, fmt.Errorf("dictionary key is not a name at %d", t.Start)
			}
			val, err := ParseObject(l)
			if err != nil {
				return nil, err
			}
			dict[t.Text] = val
		}
	case TokKeyword:
		switch tok.Text {
		case "true":
			return Boolean(true), nil
		case "false":
			return Boolean(false), nil
		case "null":
			return Null{}, nil
		}
		return nil, fmt.Errorf("unexpected keyword %q at %d", tok.Text, tok.Start)
	}
	return nil, fmt.Errorf("unexpected token at %d", tok.Start)
}

// tryRef checks for the "gen R" tail of an indirect reference.
func tryRef(l *Lexer, numTok Token) (Object, bool, error) {
	genTok, err := l.Next()
	if err != nil {
		return nil, false, nil
	}
	if genTok.Kind != TokNumber || !genTok.IsInt {
		l.Unread(genTok)
		return nil, false, nil
	}
	rTok, err := l.Next()
	if err != nil {
		l.Unread(genTok)
		return nil, false, nil
	}
	if rTok.Kind == TokKeyword && rTok.Text == "R" {
		return Ref{Num: int(numTok.Num), Gen: int(genTok.Num)}, true, nil
	}
	l.Unread(rTok)
	l.Unread(genTok)
	return nil, false, nil
}
