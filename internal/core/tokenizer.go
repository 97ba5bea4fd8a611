package core

import (
	"unicode/utf8"
)

// Dialect holds the characters that frame a CSV file.
type Dialect struct {
	Separator rune
	Quote     rune
	EOL       rune
}

// DefaultDialect is comma separated, double-quote qualified, LF terminated.
var DefaultDialect = Dialect{Separator: ',', Quote: '"', EOL: '\n'}

type tokenState int

const (
	stateUnquoted  tokenState = iota
	stateQuoted               // inside a quoted section
	stateQuoteSeen            // a quote closed a quoted section; doubled quote pending
)

// ParseDelimiter returns the separator for a user-supplied delimiter
// setting. The two-character sequence `\t` means a tab.
func ParseDelimiter(s string) rune {
	if s == `\t` {
		return '\t'
	}
	return firstRune(s, ',')
}

func firstRune(s string, fallback rune) rune {
	if s == "" {
		return fallback
	}
	r, _ := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return fallback
	}
	return r
}

// NextRow extracts one row from the front of buf and advances buf past it.
// It returns false once buf is empty.
//
// Fields never written below the highest written index are returned as "",
// trailing unwritten fields are dropped, and a row with no written field
// is returned as a single empty field. An unterminated quoted section ends
// the row at the end of the buffer.
func NextRow(buf *string, d Dialect) ([]string, bool) {
	if buf == nil || *buf == "" {
		return nil, false
	}
	s := *buf

	var row rowBuilder
	state := stateUnquoted
	consumed := len(s)

scan:
	for i, r := range s {
		switch {
		case r == d.EOL:
			if state == stateQuoted {
				row.write(r)
				continue
			}
			consumed = i + utf8.RuneLen(r)
			break scan
		case r == d.Separator:
			if state == stateQuoted {
				row.write(r)
				continue
			}
			row.next()
			state = stateUnquoted
		case r == d.Quote:
			switch state {
			case stateQuoted:
				state = stateQuoteSeen
			case stateQuoteSeen:
				row.write(d.Quote)
				state = stateQuoted
			default:
				state = stateQuoted
			}
		default:
			if state == stateQuoteSeen {
				row.write(d.Quote)
				state = stateUnquoted
			}
			row.write(r)
		}
	}

	*buf = s[consumed:]
	return row.fields(), true
}

type rowBuilder struct {
	cells   [][]byte
	written []bool
	num     int
}

func (b *rowBuilder) write(r rune) {
	for len(b.cells) <= b.num {
		b.cells = append(b.cells, nil)
		b.written = append(b.written, false)
	}
	b.cells[b.num] = utf8.AppendRune(b.cells[b.num], r)
	b.written[b.num] = true
}

func (b *rowBuilder) next() {
	b.num++
}

func (b *rowBuilder) fields() []string {
	last := -1
	for i, w := range b.written {
		if w {
			last = i
		}
	}
	if last < 0 {
		return []string{""}
	}
	out := make([]string, last+1)
	for i := 0; i <= last; i++ {
		out[i] = string(b.cells[i])
	}
	return out
}

// Tokenizer yields rows from an in-memory buffer. It keeps no state besides
// the remaining buffer and the index of the next row.
type Tokenizer struct {
	buf     string
	dialect Dialect
	index   int
}

// NewTokenizer returns a tokenizer over contents.
func NewTokenizer(contents string, d Dialect) *Tokenizer {
	return &Tokenizer{buf: contents, dialect: d}
}

// Next returns the next row and its zero-based index.
func (t *Tokenizer) Next() (row []string, index int, ok bool) {
	row, ok = NextRow(&t.buf, t.dialect)
	if !ok {
		return nil, t.index, false
	}
	index = t.index
	t.index++
	return row, index, true
}

// Remaining returns the unconsumed part of the buffer.
func (t *Tokenizer) Remaining() string {
	return t.buf
}
