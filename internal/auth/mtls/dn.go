package mtls

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Errors reported by ParseDN.
var (
	errEmptyDN          = errors.New("empty distinguished name")
	errMissingEquals    = errors.New("attribute without '='")
	errEmptyAttribute   = errors.New("empty attribute type")
	errUnterminatedQuot = errors.New("unterminated quoted value")
	errDanglingEscape   = errors.New("dangling escape character")
)

// Characters that RFC 4514 allows after a backslash.
const escapable = `,+;"\<>=# `

// Attribute is one type=value pair of a distinguished name.
type Attribute struct {
	Type  string
	Value string
}

// DN is a parsed distinguished name in the order it was written.
type DN struct {
	Attributes []Attribute
}

// Get returns the first value of the attribute type, matched
// case-insensitively. found is false when the type is absent or its value
// is empty.
func (d DN) Get(attrType string) (value string, found bool) {
	for _, a := range d.Attributes {
		if strings.EqualFold(a.Type, attrType) {
			return a.Value, a.Value != ""
		}
	}
	return "", false
}

// CommonName returns the first CN value.
func (d DN) CommonName() (string, bool) {
	return d.Get("CN")
}

// ParseDN parses an RFC 4514 style string such as
// "CN=client,OU=Gateway,O=Linqra".
//
// An unescaped ',' always ends a value. '+' and ';' end a value only when
// another "type=" follows; otherwise they are part of the value. Escapes
// of special characters and hex pairs are decoded, and any other backslash
// is kept as written. A value is quoted only when it starts with '"'.
func ParseDN(s string) (DN, error) {
	if strings.TrimSpace(s) == "" {
		return DN{}, errEmptyDN
	}
	p := dnParser{in: []rune(s)}
	return p.parse()
}

type dnParser struct {
	in  []rune
	pos int
	dn  DN
}

func (p *dnParser) parse() (DN, error) {
	for {
		attrType, err := p.readType()
		if err != nil {
			return DN{}, err
		}
		value, more, err := p.readValue()
		if err != nil {
			return DN{}, err
		}
		p.dn.Attributes = append(p.dn.Attributes, Attribute{Type: attrType, Value: value})
		if !more {
			return p.dn, nil
		}
	}
}

// readType consumes "type =" and returns the trimmed type.
func (p *dnParser) readType() (string, error) {
	start := p.pos
	for p.pos < len(p.in) {
		switch p.in[p.pos] {
		case '=':
			attrType := strings.TrimSpace(string(p.in[start:p.pos]))
			p.pos++
			if attrType == "" {
				return "", errEmptyAttribute
			}
			return attrType, nil
		case ',', '+', ';':
			return "", errMissingEquals
		}
		p.pos++
	}
	return "", errMissingEquals
}

// readValue consumes a value and its separator. more reports whether
// another attribute follows.
func (p *dnParser) readValue() (value string, more bool, err error) {
	for p.pos < len(p.in) && p.in[p.pos] == ' ' {
		p.pos++
	}
	if p.pos < len(p.in) && p.in[p.pos] == '"' {
		return p.readQuoted()
	}

	var (
		buf  []byte
		keep int
	)
	for p.pos < len(p.in) {
		r := p.in[p.pos]
		switch {
		case r == '\\':
			decoded, n, ok := p.unescape()
			if n == 0 {
				return "", false, errDanglingEscape
			}
			p.pos += n
			if !ok {
				buf = utf8.AppendRune(buf, '\\')
				continue
			}
			buf = append(buf, decoded...)
			keep = len(buf)
			continue
		case r == ',':
			p.pos++
			return trimValue(buf, keep), true, nil
		case (r == '+' || r == ';') && p.typeFollows(p.pos+1):
			p.pos++
			return trimValue(buf, keep), true, nil
		}
		buf = utf8.AppendRune(buf, r)
		p.pos++
	}
	return trimValue(buf, keep), false, nil
}

// readQuoted consumes a double-quoted value followed by optional spaces
// and a separator.
func (p *dnParser) readQuoted() (string, bool, error) {
	p.pos++
	var buf []byte
	for {
		if p.pos >= len(p.in) {
			return "", false, errUnterminatedQuot
		}
		r := p.in[p.pos]
		if r == '"' {
			p.pos++
			break
		}
		if r == '\\' {
			decoded, n, ok := p.unescape()
			if n == 0 {
				return "", false, errUnterminatedQuot
			}
			p.pos += n
			if ok {
				buf = append(buf, decoded...)
			} else {
				buf = utf8.AppendRune(buf, '\\')
			}
			continue
		}
		buf = utf8.AppendRune(buf, r)
		p.pos++
	}

	for p.pos < len(p.in) && p.in[p.pos] == ' ' {
		p.pos++
	}
	if p.pos >= len(p.in) {
		return string(buf), false, nil
	}
	switch r := p.in[p.pos]; {
	case r == ',', (r == '+' || r == ';') && p.typeFollows(p.pos+1):
		p.pos++
		return string(buf), true, nil
	}
	// Text after the closing quote is kept literally.
	rest, more, err := p.readValue()
	if err != nil {
		return "", false, err
	}
	return string(buf) + rest, more, nil
}

// unescape decodes the escape at p.pos. n is the number of runes it
// spans, 0 for a trailing backslash. ok is false when the backslash does
// not start an escape; it is then consumed alone and kept literally.
func (p *dnParser) unescape() (decoded []byte, n int, ok bool) {
	if p.pos+1 >= len(p.in) {
		return nil, 0, false
	}
	next := p.in[p.pos+1]
	if strings.ContainsRune(escapable, next) {
		return utf8.AppendRune(nil, next), 2, true
	}
	if p.pos+2 < len(p.in) {
		if hi, ok1 := hexValue(next); ok1 {
			if lo, ok2 := hexValue(p.in[p.pos+2]); ok2 {
				return []byte{hi<<4 | lo}, 3, true
			}
		}
	}
	return nil, 1, false
}

// typeFollows reports whether "type=" starts at i, ignoring leading spaces.
func (p *dnParser) typeFollows(i int) bool {
	for i < len(p.in) && p.in[i] == ' ' {
		i++
	}
	start := i
	for i < len(p.in) && isTypeRune(p.in[i]) {
		i++
	}
	if i == start {
		return false
	}
	for i < len(p.in) && p.in[i] == ' ' {
		i++
	}
	return i < len(p.in) && p.in[i] == '='
}

func isTypeRune(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '.'
}

func hexValue(r rune) (byte, bool) {
	switch {
	case r >= '0' && r <= '9':
		return byte(r - '0'), true
	case r >= 'a' && r <= 'f':
		return byte(r-'a') + 10, true
	case r >= 'A' && r <= 'F':
		return byte(r-'A') + 10, true
	}
	return 0, false
}

// trimValue drops trailing spaces that were not escaped.
func trimValue(buf []byte, keep int) string {
	end := len(buf)
	for end > keep && buf[end-1] == ' ' {
		end--
	}
	return string(buf[:end])
}
