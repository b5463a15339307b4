package edn

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// SyntaxError reports a malformed input with its source position.
type SyntaxError struct {
	Line int
	Col  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %d:%d: %s", e.Line, e.Col, e.Msg)
}

var (
	longPattern   = regexp.MustCompile(`^[+-]?\d+$`)
	doublePattern = regexp.MustCompile(`^[+-]?\d+(\.\d+)?([eE][+-]?\d+)?$`)
)

// Reader is a single-pass reader over interchange text.
type Reader struct {
	input string
	pos   int
	line  int
	col   int
}

// NewReader creates a reader over input.
func NewReader(input string) *Reader {
	return &Reader{input: input, line: 1, col: 1}
}

// Read parses a single form from input.
func Read(input string) (*Node, error) {
	r := NewReader(input)
	node, err := r.ReadForm()
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, &SyntaxError{Line: r.line, Col: r.col, Msg: "empty input"}
	}
	return node, nil
}

// ReadAll parses every form until end of input.
func ReadAll(input string) ([]Node, error) {
	r := NewReader(input)
	var nodes []Node
	for {
		node, err := r.ReadForm()
		if err != nil {
			return nil, err
		}
		if node == nil {
			return nodes, nil
		}
		nodes = append(nodes, *node)
	}
}

// ReadForm reads the next form, or nil at end of input. Discarded
// forms (#_) are consumed and skipped.
func (r *Reader) ReadForm() (*Node, error) {
	for {
		r.skipSpace()
		if r.pos >= len(r.input) {
			return nil, nil
		}

		line, col := r.line, r.col
		switch ch := r.input[r.pos]; {
		case ch == '(':
			return r.readSeq(KindList, ')', line, col)
		case ch == '[':
			return r.readSeq(KindVector, ']', line, col)
		case ch == '{':
			return r.readMap(line, col)
		case ch == ')' || ch == ']' || ch == '}':
			return nil, &SyntaxError{Line: line, Col: col, Msg: fmt.Sprintf("unmatched '%c'", ch)}
		case ch == '"':
			return r.readString(line, col)
		case ch == '#':
			node, err := r.readDispatch(line, col)
			if err != nil {
				return nil, err
			}
			if node == nil {
				continue // discarded form
			}
			return node, nil
		default:
			return r.readAtom(line, col)
		}
	}
}

func (r *Reader) readSeq(kind Kind, closer byte, line, col int) (*Node, error) {
	r.advance() // opening delimiter
	var children []Node
	for {
		r.skipSpace()
		if r.pos >= len(r.input) {
			return nil, &SyntaxError{Line: line, Col: col, Msg: fmt.Sprintf("unterminated %s", kind)}
		}
		if r.input[r.pos] == closer {
			r.advance()
			return &Node{Kind: kind, Line: line, Col: col, Children: children}, nil
		}
		child, err := r.ReadForm()
		if err != nil {
			return nil, err
		}
		if child == nil {
			return nil, &SyntaxError{Line: line, Col: col, Msg: fmt.Sprintf("unterminated %s", kind)}
		}
		children = append(children, *child)
	}
}

func (r *Reader) readMap(line, col int) (*Node, error) {
	node, err := r.readSeq(KindMap, '}', line, col)
	if err != nil {
		return nil, err
	}
	if len(node.Children)%2 != 0 {
		return nil, &SyntaxError{Line: line, Col: col, Msg: "map literal with odd number of forms"}
	}
	return node, nil
}

func (r *Reader) readString(line, col int) (*Node, error) {
	r.advance() // opening quote
	var sb strings.Builder
	for r.pos < len(r.input) {
		ch := r.input[r.pos]
		switch ch {
		case '"':
			r.advance()
			return &Node{Kind: KindString, Line: line, Col: col, Text: sb.String()}, nil
		case '\\':
			r.advance()
			if r.pos >= len(r.input) {
				return nil, &SyntaxError{Line: r.line, Col: r.col, Msg: "unterminated escape"}
			}
			switch esc := r.input[r.pos]; esc {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case '"', '\\':
				sb.WriteByte(esc)
			default:
				return nil, &SyntaxError{Line: r.line, Col: r.col, Msg: fmt.Sprintf("invalid escape '\\%c'", esc)}
			}
			r.advance()
		default:
			sb.WriteByte(ch)
			r.advance()
		}
	}
	return nil, &SyntaxError{Line: line, Col: col, Msg: "unterminated string"}
}

// readDispatch handles the '#' forms: sets, discards, and tagged
// literals such as #inst and #uuid.
func (r *Reader) readDispatch(line, col int) (*Node, error) {
	r.advance() // '#'
	if r.pos >= len(r.input) {
		return nil, &SyntaxError{Line: line, Col: col, Msg: "dangling '#'"}
	}
	switch r.input[r.pos] {
	case '{':
		return r.readSeq(KindSet, '}', line, col)
	case '_':
		r.advance()
		discarded, err := r.ReadForm()
		if err != nil {
			return nil, err
		}
		if discarded == nil {
			return nil, &SyntaxError{Line: line, Col: col, Msg: "#_ with nothing to discard"}
		}
		return nil, nil
	}

	tag := r.takeToken()
	if tag == "" {
		return nil, &SyntaxError{Line: line, Col: col, Msg: "empty reader tag"}
	}
	inner, err := r.ReadForm()
	if err != nil {
		return nil, err
	}
	if inner == nil {
		return nil, &SyntaxError{Line: line, Col: col, Msg: fmt.Sprintf("#%s with no form", tag)}
	}
	return &Node{Kind: KindTagged, Line: line, Col: col, Tag: tag, Inner: inner}, nil
}

func (r *Reader) readAtom(line, col int) (*Node, error) {
	text := r.takeToken()
	if text == "" {
		return nil, &SyntaxError{Line: line, Col: col, Msg: fmt.Sprintf("unexpected character '%c'", r.input[r.pos])}
	}

	node := &Node{Line: line, Col: col, Text: text}
	switch {
	case text == "nil":
		node.Kind = KindNil
	case text == "true" || text == "false":
		node.Kind = KindBool
	case strings.HasPrefix(text, ":"):
		if len(text) == 1 {
			return nil, &SyntaxError{Line: line, Col: col, Msg: "empty keyword"}
		}
		node.Kind = KindKeyword
	case longPattern.MatchString(text):
		node.Kind = KindLong
	case doublePattern.MatchString(text):
		node.Kind = KindDouble
	default:
		if unicode.IsDigit(rune(text[0])) {
			return nil, &SyntaxError{Line: line, Col: col, Msg: fmt.Sprintf("malformed number %q", text)}
		}
		node.Kind = KindSymbol
	}
	return node, nil
}

// takeToken consumes characters up to the next delimiter.
func (r *Reader) takeToken() string {
	start := r.pos
	for r.pos < len(r.input) {
		ch := r.input[r.pos]
		if isDelimiter(ch) || isSpace(ch) {
			break
		}
		r.advance()
	}
	return r.input[start:r.pos]
}

func (r *Reader) skipSpace() {
	for r.pos < len(r.input) {
		ch := r.input[r.pos]
		if isSpace(ch) {
			r.advance()
		} else if ch == ';' {
			for r.pos < len(r.input) && r.input[r.pos] != '\n' {
				r.advance()
			}
		} else {
			return
		}
	}
}

func (r *Reader) advance() {
	if r.pos < len(r.input) {
		if r.input[r.pos] == '\n' {
			r.line++
			r.col = 1
		} else {
			r.col++
		}
		r.pos++
	}
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == ','
}

func isDelimiter(ch byte) bool {
	return ch == '(' || ch == ')' || ch == '[' || ch == ']' ||
		ch == '{' || ch == '}' || ch == '"' || ch == ';'
}
