package compiler

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// keywords maps source text to its keyword TokenType.
var keywords = map[string]TokenType{
	"int":      INT,
	"char":     CHAR,
	"short":    SHORT,
	"long":     LONG,
	"float":    FLOAT_KW,
	"double":   DOUBLE,
	"unsigned": UNSIGNED,
	"signed":   SIGNED,
	"void":     VOID,
	"struct":   STRUCT,
	"enum":     ENUM,
	"const":    CONST,
	"volatile": VOLATILE,
	"static":   STATIC,
	"extern":   EXTERN,
	"if":       IF,
	"else":     ELSE,
	"while":    WHILE,
	"do":       DO,
	"for":      FOR,
	"return":   RETURN,
	"switch":   SWITCH,
	"case":     CASE,
	"default":  DEFAULT,
	"break":    BREAK,
	"continue": CONTINUE,
	"sizeof":   SIZEOF,
}

// Lexer holds all mutable state for a single scanning pass over src.
type Lexer struct {
	src  []rune
	pos  int // index of the next rune to consume
	line int // current 1-based source line
}

func newLexer(src string) *Lexer {
	return &Lexer{src: []rune(src), pos: 0, line: 1}
}

// peek returns the rune at the current position without advancing.
func (l *Lexer) peek() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

// peek2 returns the rune one position ahead of the current position.
func (l *Lexer) peek2() rune {
	if l.pos+1 >= len(l.src) {
		return 0
	}
	return l.src[l.pos+1]
}

// advance consumes one rune and returns it.
func (l *Lexer) advance() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	r := l.src[l.pos]
	l.pos++
	if r == '\n' {
		l.line++
	}
	return r
}

// match consumes the next rune if it equals r.
func (l *Lexer) match(r rune) bool {
	if l.peek() != r {
		return false
	}
	l.advance()
	return true
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.src) && unicode.IsSpace(l.peek()) {
		l.advance()
	}
}

// skipLineComment discards everything from the current position to end-of-line.
// The opening "//" must already have been consumed.
func (l *Lexer) skipLineComment() {
	for l.pos < len(l.src) && l.peek() != '\n' {
		l.advance()
	}
}

// skipBlockComment discards everything up to and including the closing "*/".
// The opening "/*" must already have been consumed.
func (l *Lexer) skipBlockComment() error {
	startLine := l.line
	for l.pos < len(l.src) {
		if l.peek() == '*' && l.peek2() == '/' {
			l.advance() // *
			l.advance() // /
			return nil
		}
		l.advance()
	}
	return fmt.Errorf("unterminated block comment (opened on line %d)", startLine)
}

// scanIdent collects a full identifier or keyword token.
// The first character (letter or '_') must still be at l.peek().
func (l *Lexer) scanIdent() Token {
	line := l.line
	start := l.pos
	for l.pos < len(l.src) {
		r := l.peek()
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			break
		}
		l.advance()
	}
	lexeme := string(l.src[start:l.pos])
	tt := IDENTIFIER
	if kw, ok := keywords[lexeme]; ok {
		tt = kw
	}
	return Token{Type: tt, Lexeme: lexeme, Line: line}
}

func isHexDigit(r rune) bool {
	return unicode.IsDigit(r) || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

// scanNumber collects a decimal, octal or hex integer literal, or a decimal
// floating literal. Integer suffixes (u, l in any combination) are dropped;
// an f/F suffix on a floating literal is dropped as well.
// The first digit (or the '.' of ".5") must still be at l.peek().
func (l *Lexer) scanNumber() (Token, error) {
	line := l.line
	start := l.pos

	if l.peek() == '0' && (l.peek2() == 'x' || l.peek2() == 'X') {
		l.advance() // consume '0'
		l.advance() // consume 'x'
		for l.pos < len(l.src) && isHexDigit(l.peek()) {
			l.advance()
		}
		digits := string(l.src[start+2 : l.pos])
		l.skipIntSuffix()
		v, err := strconv.ParseUint(digits, 16, 64)
		if err != nil {
			return Token{}, fmt.Errorf("invalid hex literal %q on line %d", string(l.src[start:l.pos]), line)
		}
		return Token{Type: INTEGER, Lexeme: strconv.FormatInt(int64(v), 10), Line: line}, nil
	}

	for l.pos < len(l.src) && unicode.IsDigit(l.peek()) {
		l.advance()
	}

	isFloat := false
	if l.peek() == '.' && l.peek2() != '.' {
		isFloat = true
		l.advance()
		for l.pos < len(l.src) && unicode.IsDigit(l.peek()) {
			l.advance()
		}
	}
	if l.peek() == 'e' || l.peek() == 'E' {
		save, saveLine := l.pos, l.line
		l.advance()
		if l.peek() == '+' || l.peek() == '-' {
			l.advance()
		}
		if unicode.IsDigit(l.peek()) {
			isFloat = true
			for l.pos < len(l.src) && unicode.IsDigit(l.peek()) {
				l.advance()
			}
		} else {
			l.pos, l.line = save, saveLine
		}
	}

	text := string(l.src[start:l.pos])
	if isFloat {
		if l.peek() == 'f' || l.peek() == 'F' || l.peek() == 'l' || l.peek() == 'L' {
			l.advance()
		}
		if _, err := strconv.ParseFloat(text, 64); err != nil {
			return Token{}, fmt.Errorf("invalid floating literal %q on line %d", text, line)
		}
		return Token{Type: FLOAT, Lexeme: text, Line: line}, nil
	}

	l.skipIntSuffix()
	base := 10
	if len(text) > 1 && text[0] == '0' {
		base = 8
	}
	v, err := strconv.ParseUint(text, base, 64)
	if err != nil {
		return Token{}, fmt.Errorf("invalid integer literal %q on line %d", text, line)
	}
	return Token{Type: INTEGER, Lexeme: strconv.FormatInt(int64(v), 10), Line: line}, nil
}

func (l *Lexer) skipIntSuffix() {
	for {
		switch l.peek() {
		case 'u', 'U', 'l', 'L':
			l.advance()
		default:
			return
		}
	}
}

// scanEscape decodes one escape sequence; the backslash has been consumed.
func (l *Lexer) scanEscape(line int) (rune, error) {
	next := l.advance()
	switch next {
	case 'n':
		return '\n', nil
	case 'r':
		return '\r', nil
	case 't':
		return '\t', nil
	case 'a':
		return '\a', nil
	case 'b':
		return '\b', nil
	case 'f':
		return '\f', nil
	case 'v':
		return '\v', nil
	case '\\', '\'', '"', '?':
		return next, nil
	case 'x':
		v := 0
		n := 0
		for isHexDigit(l.peek()) {
			d, _ := strconv.ParseUint(string(l.advance()), 16, 8)
			v = v*16 + int(d)
			n++
		}
		if n == 0 {
			return 0, fmt.Errorf("\\x used with no following hex digits on line %d", line)
		}
		return rune(v & 0xFF), nil
	default:
		if next >= '0' && next <= '7' {
			v := int(next - '0')
			for i := 0; i < 2 && l.peek() >= '0' && l.peek() <= '7'; i++ {
				v = v*8 + int(l.advance()-'0')
			}
			return rune(v & 0xFF), nil
		}
		return 0, fmt.Errorf("unknown escape sequence \\%c on line %d", next, line)
	}
}

// scanChar collects a character literal 'c'
func (l *Lexer) scanChar() (Token, error) {
	line := l.line
	l.advance() // consume opening '

	r := l.peek()
	var val rune

	if r == '\'' {
		return Token{}, fmt.Errorf("empty character literal on line %d", line)
	}

	if r == '\\' {
		l.advance() // consume backslash
		var err error
		val, err = l.scanEscape(line)
		if err != nil {
			return Token{}, err
		}
	} else {
		val = r
		l.advance()
	}

	if l.peek() != '\'' {
		return Token{}, fmt.Errorf("unterminated character literal on line %d", line)
	}
	l.advance() // consume closing '

	// Character literals are emitted as INTEGER tokens with their code value
	return Token{Type: INTEGER, Lexeme: strconv.Itoa(int(val)), Line: line}, nil
}

// scanString collects a string literal "..."
func (l *Lexer) scanString() (Token, error) {
	line := l.line
	l.advance() // consume opening "
	var val strings.Builder

	for l.pos < len(l.src) {
		r := l.peek()
		if r == '"' {
			break
		}
		if r == '\n' {
			return Token{}, fmt.Errorf("unterminated string literal on line %d", line)
		}
		if r == '\\' {
			l.advance() // consume backslash
			esc, err := l.scanEscape(line)
			if err != nil {
				return Token{}, err
			}
			val.WriteByte(byte(esc))
			continue
		}
		val.WriteRune(r)
		l.advance()
	}

	if l.pos >= len(l.src) {
		return Token{}, fmt.Errorf("unterminated string literal on line %d", line)
	}
	l.advance() // consume closing "

	return Token{Type: STRING, Lexeme: val.String(), Line: line}, nil
}

// nextToken skips whitespace/comments and returns the next Token.
func (l *Lexer) nextToken() (Token, error) {
	// Skip whitespace and both comment styles in a loop so that
	// a comment followed immediately by more whitespace is handled.
	for {
		l.skipWhitespace()
		if l.pos >= len(l.src) {
			return Token{Type: EOF, Lexeme: "", Line: l.line}, nil
		}
		if l.peek() == '/' && l.peek2() == '/' {
			l.advance()
			l.advance()
			l.skipLineComment()
			continue
		}
		if l.peek() == '/' && l.peek2() == '*' {
			l.advance()
			l.advance()
			if err := l.skipBlockComment(); err != nil {
				return Token{}, err
			}
			continue
		}
		break
	}

	ch := l.peek()
	line := l.line

	if unicode.IsLetter(ch) || ch == '_' {
		return l.scanIdent(), nil
	}
	if unicode.IsDigit(ch) || (ch == '.' && unicode.IsDigit(l.peek2())) {
		return l.scanNumber()
	}

	if ch == '"' {
		return l.scanString()
	}

	if ch == '\'' {
		return l.scanChar()
	}

	l.advance() // consume the character before the switch
	switch ch {
	case '{':
		return Token{LBRACE, "{", line}, nil
	case '}':
		return Token{RBRACE, "}", line}, nil
	case '(':
		return Token{LPAREN, "(", line}, nil
	case ')':
		return Token{RPAREN, ")", line}, nil
	case '[':
		return Token{LBRACKET, "[", line}, nil
	case ']':
		return Token{RBRACKET, "]", line}, nil
	case '.':
		if l.peek() == '.' && l.peek2() == '.' {
			l.advance()
			l.advance()
			return Token{ELLIPSIS, "...", line}, nil
		}
		return Token{DOT, ".", line}, nil
	case ';':
		return Token{SEMICOLON, ";", line}, nil
	case ',':
		return Token{COMMA, ",", line}, nil
	case ':':
		return Token{COLON, ":", line}, nil
	case '?':
		return Token{QUESTION, "?", line}, nil

	case '+':
		if l.match('+') {
			return Token{PLUS_PLUS, "++", line}, nil
		}
		if l.match('=') {
			return Token{PLUS_ASSIGN, "+=", line}, nil
		}
		return Token{PLUS, "+", line}, nil
	case '-':
		if l.match('-') {
			return Token{MINUS_MINUS, "--", line}, nil
		}
		if l.match('=') {
			return Token{MINUS_ASSIGN, "-=", line}, nil
		}
		if l.match('>') {
			return Token{ARROW, "->", line}, nil
		}
		return Token{MINUS, "-", line}, nil
	case '*':
		if l.match('=') {
			return Token{STAR_ASSIGN, "*=", line}, nil
		}
		return Token{STAR, "*", line}, nil
	case '/':
		if l.match('=') {
			return Token{SLASH_ASSIGN, "/=", line}, nil
		}
		return Token{SLASH, "/", line}, nil
	case '%':
		if l.match('=') {
			return Token{PERCENT_ASSIGN, "%=", line}, nil
		}
		return Token{PERCENT, "%", line}, nil
	case '&':
		if l.match('&') {
			return Token{AND_LOGICAL, "&&", line}, nil
		}
		if l.match('=') {
			return Token{AND_ASSIGN, "&=", line}, nil
		}
		return Token{AND, "&", line}, nil
	case '|':
		if l.match('|') {
			return Token{OR_LOGICAL, "||", line}, nil
		}
		if l.match('=') {
			return Token{OR_ASSIGN, "|=", line}, nil
		}
		return Token{PIPE, "|", line}, nil
	case '^':
		if l.match('=') {
			return Token{XOR_ASSIGN, "^=", line}, nil
		}
		return Token{CARET, "^", line}, nil
	case '~':
		return Token{TILDE, "~", line}, nil
	case '!':
		if l.match('=') {
			return Token{NOT_EQ, "!=", line}, nil
		}
		return Token{NOT, "!", line}, nil
	case '<':
		if l.match('=') {
			return Token{LESS_EQ, "<=", line}, nil
		}
		if l.match('<') {
			if l.match('=') {
				return Token{SHL_ASSIGN, "<<=", line}, nil
			}
			return Token{SHL_OP, "<<", line}, nil
		}
		return Token{LESS, "<", line}, nil
	case '>':
		if l.match('=') {
			return Token{GREATER_EQ, ">=", line}, nil
		}
		if l.match('>') {
			if l.match('=') {
				return Token{SHR_ASSIGN, ">>=", line}, nil
			}
			return Token{SHR_OP, ">>", line}, nil
		}
		return Token{GREATER, ">", line}, nil
	case '=':
		if l.match('=') { // lookahead: distinguish = vs ==
			return Token{EQUALS, "==", line}, nil
		}
		return Token{ASSIGN, "=", line}, nil
	default:
		return Token{}, fmt.Errorf("unexpected character %q on line %d", ch, line)
	}
}

// Lex tokenises src and returns all tokens including the final EOF token.
// It returns a non-nil error on the first illegal character or unterminated comment.
func Lex(src string) ([]Token, error) {
	l := newLexer(src)
	var tokens []Token
	for {
		tok, err := l.nextToken()
		if err != nil {
			return tokens, err
		}
		tokens = append(tokens, tok)
		if tok.Type == EOF {
			return tokens, nil
		}
	}
}
