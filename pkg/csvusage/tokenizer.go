package csvusage

import "strings"

const bom = "\uFEFF"

type scanState int

const (
	fieldStart scanState = iota
	unquoted
	quoted
	quoteInQuoted
)

// Tokenize splits CSV text into rows of cells. It understands quoted fields
// with embedded commas and newlines, doubled-quote escapes, CRLF or LF line
// endings, and a leading byte order mark. Blank lines are skipped. Spaces
// before an opening quote are dropped.
func Tokenize(text string) [][]string {
	text = strings.TrimPrefix(text, bom)

	var (
		rows  [][]string
		row   []string
		cell  strings.Builder
		state = fieldStart
	)

	endCell := func() {
		row = append(row, cell.String())
		cell.Reset()
	}
	endRow := func() {
		endCell()
		if !(len(row) == 1 && row[0] == "") {
			rows = append(rows, row)
		}
		row = nil
		state = fieldStart
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		switch state {
		case fieldStart, unquoted:
			switch c {
			case '"':
				if state == fieldStart {
					cell.Reset()
					state = quoted
				} else {
					cell.WriteByte(c)
				}
			case ',':
				endCell()
				state = fieldStart
			case '\r':
				if i+1 < len(text) && text[i+1] == '\n' {
					i++
				}
				endRow()
			case '\n':
				endRow()
			case ' ', '\t':
				cell.WriteByte(c)
			default:
				cell.WriteByte(c)
				state = unquoted
			}
		case quoted:
			if c == '"' {
				state = quoteInQuoted
			} else {
				cell.WriteByte(c)
			}
		case quoteInQuoted:
			switch c {
			case '"':
				cell.WriteByte('"')
				state = quoted
			case ',':
				endCell()
				state = fieldStart
			case '\r':
				if i+1 < len(text) && text[i+1] == '\n' {
					i++
				}
				endRow()
			case '\n':
				endRow()
			default:
				// Stray character after a closing quote; keep it.
				cell.WriteByte(c)
				state = unquoted
			}
		}
	}

	if cell.Len() > 0 || len(row) > 0 || state == quoted || state == quoteInQuoted {
		endRow()
	}
	return rows
}

// Header maps lower-cased, trimmed column names to their indices.
type Header map[string]int

// NewHeader builds a case-insensitive header index. The first occurrence of a
// duplicated column wins.
func NewHeader(cols []string) Header {
	h := make(Header, len(cols))
	for i, c := range cols {
		k := strings.ToLower(strings.TrimSpace(c))
		if _, exists := h[k]; !exists && k != "" {
			h[k] = i
		}
	}
	return h
}

// Has reports whether any of the names is present.
func (h Header) Has(names ...string) bool {
	for _, n := range names {
		if _, ok := h[strings.ToLower(n)]; ok {
			return true
		}
	}
	return false
}

// Get returns the first non-empty trimmed cell among the candidate columns.
func (h Header) Get(row []string, names ...string) string {
	for _, n := range names {
		i, ok := h[strings.ToLower(n)]
		if !ok || i >= len(row) {
			continue
		}
		if v := strings.TrimSpace(row[i]); v != "" {
			return v
		}
	}
	return ""
}
