package asm

type Lexer struct {
	input    string // input string to be tokenized
	length   int    // length of the input string
	position int    // current position in the input string
	line     int    // current line number for error reporting
	column   int    // current column number for error reporting
}

// NewLexer creates a new lexer instance
func NewLexer(s string) *Lexer {
	return &Lexer{
		input:  s,
		length: len(s),
		line:   1,
		column: 1,
	}
}

// NextToken returns the next token. Newlines are tokens; other whitespace
// and "//" comments are skipped.
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()

	pos := l.currentPosition()
	if l.position >= l.length {
		return Token{Type: EOF, Pos: pos}
	}

	if l.input[l.position] == '\n' {
		l.advance(1)
		return Token{Type: NEWLINE, Lexeme: "\n", Pos: pos}
	}

	tokenType, lexeme, matched := MatchToken(l.input[l.position:])
	if !matched {
		char := l.input[l.position : l.position+1]
		l.advance(1)
		return Token{Type: ILLEGAL, Lexeme: char, Pos: pos}
	}

	l.advance(len(lexeme))
	return Token{Type: tokenType, Lexeme: lexeme, Pos: pos}
}

// Peek views the next token without advancing the position
func (l *Lexer) Peek() Token {
	cpos, cline, ccol := l.position, l.line, l.column
	tok := l.NextToken()
	l.position, l.line, l.column = cpos, cline, ccol
	return tok
}

// Raw consumes exactly n bytes verbatim, for length-prefixed text.
func (l *Lexer) Raw(n int) (string, Position, bool) {
	pos := l.currentPosition()
	if n < 0 || l.position+n > l.length {
		return "", pos, false
	}
	s := l.input[l.position : l.position+n]
	l.advance(n)
	return s, pos, true
}

// skipWhitespace skips blanks and comments, stopping at newlines
func (l *Lexer) skipWhitespace() {
	for l.position < l.length {
		ch := l.input[l.position]

		switch {
		case ch == ' ' || ch == '\t' || ch == '\r':
			l.advance(1)
		case ch == '/' && l.position+1 < l.length && l.input[l.position+1] == '/':
			for l.position < l.length && l.input[l.position] != '\n' {
				l.advance(1)
			}
		default:
			return
		}
	}
}

// advance moves the lexer position by n characters
func (l *Lexer) advance(n int) {
	for i := 0; i < n; i++ {
		if l.position >= l.length {
			break
		}

		if l.input[l.position] == '\n' {
			l.line++
			l.column = 1
		} else {
			l.column++
		}

		l.position++
	}
}

func (l *Lexer) currentPosition() Position {
	return Position{
		Line:   l.line,
		Column: l.column,
		Offset: l.position,
	}
}
