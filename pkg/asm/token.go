package asm

import (
	"fmt"
	"regexp"
)

type TokenType int

const (
	EOF     TokenType = iota // end of input
	NEWLINE                  // \n
	NUM                      // signed decimal integer
	WORD                     // mnemonic or keyword
	COLON                    // :
	COMMA                    // ,
	SLASH                    // /
	EQUALS                   // =
	ILLEGAL
)

var tokenNames = map[TokenType]string{
	EOF:     "end of input",
	NEWLINE: "end of line",
	NUM:     "number",
	WORD:    "word",
	COLON:   "':'",
	COMMA:   "','",
	SLASH:   "'/'",
	EQUALS:  "'='",
	ILLEGAL: "illegal character",
}

func (t TokenType) String() string {
	if s, ok := tokenNames[t]; ok {
		return s
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// Position locates a token in the source.
type Position struct {
	Line   int
	Column int
	Offset int
}

// String returns "line:column".
func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

type Token struct {
	Type   TokenType
	Lexeme string
	Pos    Position
}

// Token regex patterns, tried in order.
var tokenRegexes = []struct {
	Type    TokenType
	Pattern *regexp.Regexp
}{
	{NUM, regexp.MustCompile(`^-?\d+`)},
	{WORD, regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*`)},
	{COLON, regexp.MustCompile(`^:`)},
	{COMMA, regexp.MustCompile(`^,`)},
	{SLASH, regexp.MustCompile(`^/`)},
	{EQUALS, regexp.MustCompile(`^=`)},
}

// MatchToken matches the longest-listed token at the start of input.
func MatchToken(input string) (TokenType, string, bool) {
	for _, r := range tokenRegexes {
		if lexeme := r.Pattern.FindString(input); lexeme != "" {
			return r.Type, lexeme, true
		}
	}
	return ILLEGAL, "", false
}
