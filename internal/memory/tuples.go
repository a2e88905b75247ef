package memory

import (
	"strings"
)

// ParseTuples parses a tuple-literal result string such as
// "[('alice', 95), ('bob', 88)]" into rows of stringified fields.
// Quoted fields lose their quotes; numeric and bare fields keep their
// literal text. The second return is false when the input is not a
// well-formed tuple list; callers treat that as "no structured data",
// not as an error.
func ParseTuples(s string) ([][]string, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, false
	}

	p := &tupleParser{input: s[1 : len(s)-1]}
	rows, ok := p.parseRows()
	if !ok {
		return nil, false
	}
	return rows, true
}

type tupleParser struct {
	input string
	pos   int
}

func (p *tupleParser) parseRows() ([][]string, bool) {
	var rows [][]string
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return rows, true
		}
		if p.input[p.pos] != '(' {
			return nil, false
		}
		p.pos++

		row, ok := p.parseFields()
		if !ok {
			return nil, false
		}
		rows = append(rows, row)

		p.skipSpace()
		if p.pos < len(p.input) && p.input[p.pos] == ',' {
			p.pos++
		}
	}
}

func (p *tupleParser) parseFields() ([]string, bool) {
	var fields []string
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return nil, false
		}
		switch p.input[p.pos] {
		case ')':
			p.pos++
			return fields, true
		case ',':
			p.pos++
		case '\'', '"':
			f, ok := p.parseQuoted()
			if !ok {
				return nil, false
			}
			fields = append(fields, f)
		default:
			fields = append(fields, p.parseBare())
		}
	}
}

func (p *tupleParser) parseQuoted() (string, bool) {
	delim := p.input[p.pos]
	p.pos++
	var sb strings.Builder
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		switch c {
		case '\\':
			if p.pos+1 >= len(p.input) {
				return "", false
			}
			sb.WriteByte(p.input[p.pos+1])
			p.pos += 2
		case delim:
			p.pos++
			return sb.String(), true
		default:
			sb.WriteByte(c)
			p.pos++
		}
	}
	return "", false
}

func (p *tupleParser) parseBare() string {
	start := p.pos
	for p.pos < len(p.input) && p.input[p.pos] != ',' && p.input[p.pos] != ')' {
		p.pos++
	}
	return strings.TrimSpace(p.input[start:p.pos])
}

func (p *tupleParser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t' || p.input[p.pos] == '\n') {
		p.pos++
	}
}
