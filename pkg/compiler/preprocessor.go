package compiler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultMaxIncludeDepth bounds #include nesting.
const DefaultMaxIncludeDepth = 10

// Macro represents a defined macro, either simple or function-like.
type Macro struct {
	Args     []string // Empty for simple macros
	Body     string
	FuncLike bool // NAME() with no parameters is still function-like
	Variadic bool // last parameter is ..., bound to __VA_ARGS__
}

// systemHeaders are the prototypes served for <...> includes that no
// include directory provides. The C library itself is linked by gcc.
var systemHeaders = map[string]string{
	"stdio.h": `int printf(char *fmt, ...);
int sprintf(char *buf, char *fmt, ...);
int puts(char *s);
int putchar(int c);
int getchar(void);
`,
	"stdlib.h": `void *malloc(long size);
void *calloc(long n, long size);
void *realloc(void *p, long size);
void free(void *p);
void exit(int code);
int abs(int x);
int atoi(char *s);
`,
	"string.h": `long strlen(char *s);
int strcmp(char *a, char *b);
int strncmp(char *a, char *b, long n);
char *strcpy(char *dst, char *src);
char *strcat(char *dst, char *src);
void *memset(void *p, int c, long n);
void *memcpy(void *dst, void *src, long n);
`,
	"stddef.h": "#define NULL 0\n",
	"stdbool.h": `#define bool int
#define true 1
#define false 0
`,
}

// Preprocessor expands directives and macros in C source text.
// Definitions persist across every file it processes.
type Preprocessor struct {
	IncludeDirs     []string
	MaxIncludeDepth int

	defines          map[string]Macro
	alreadyProcessed map[string]bool
	lineMap          []int // output line index -> line in the top-level source
}

func NewPreprocessor(includeDirs []string, maxIncludeDepth int) *Preprocessor {
	if maxIncludeDepth <= 0 {
		maxIncludeDepth = DefaultMaxIncludeDepth
	}
	return &Preprocessor{
		IncludeDirs:      includeDirs,
		MaxIncludeDepth:  maxIncludeDepth,
		defines:          make(map[string]Macro),
		alreadyProcessed: make(map[string]bool),
	}
}

// Define adds an object-like macro, as -DNAME=VALUE would.
func (pp *Preprocessor) Define(name, body string) {
	pp.defines[name] = Macro{Body: body}
}

// Defined reports whether name is currently a macro.
func (pp *Preprocessor) Defined(name string) bool {
	_, ok := pp.defines[name]
	return ok
}

// Preprocess scans the source code for #include and #define directives and
// conditional blocks. It replaces includes with file content and
// substitutes defines. Nested includes are resolved relative to the including
// file and circular includes are rejected.
func Preprocess(src string, baseDir string) (string, error) {
	return NewPreprocessor(nil, DefaultMaxIncludeDepth).Run(src, baseDir)
}

// Run preprocesses src whose includes resolve relative to baseDir.
func (pp *Preprocessor) Run(src string, baseDir string) (string, error) {
	return pp.process(src, baseDir, make(map[string]bool), 0)
}

// SourceLine maps a line of the last Run's output back to the line of the
// top-level source it came from. Lines pulled in by #include map to the
// #include directive.
func (pp *Preprocessor) SourceLine(outLine int) int {
	if outLine < 1 || outLine > len(pp.lineMap) {
		return outLine
	}
	return pp.lineMap[outLine-1]
}

// condFrame is one open #if group.
type condFrame struct {
	parentActive bool
	active       bool
	taken        bool // some branch of the group was already selected
	sawElse      bool
}

// joinContinuations folds backslash-newline pairs, padding with empty lines
// so later line numbers stay put.
func joinContinuations(src string) []string {
	raw := strings.Split(src, "\n")
	lines := make([]string, 0, len(raw))
	pending := 0
	var cur strings.Builder
	for _, l := range raw {
		if strings.HasSuffix(l, "\\") {
			cur.WriteString(strings.TrimSuffix(l, "\\"))
			pending++
			continue
		}
		cur.WriteString(l)
		lines = append(lines, cur.String())
		cur.Reset()
		for ; pending > 0; pending-- {
			lines = append(lines, "")
		}
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	return lines
}

// splitDirective returns the directive name and the rest of a "#..." line.
func splitDirective(trimmed string) (string, string) {
	rest := strings.TrimSpace(trimmed[1:])
	end := 0
	for end < len(rest) && isIdentPart(rune(rest[end])) {
		end++
	}
	return rest[:end], strings.TrimSpace(rest[end:])
}

func (pp *Preprocessor) process(src string, baseDir string, visitedStack map[string]bool, depth int) (string, error) {
	var result strings.Builder
	var conds []condFrame
	active := func() bool { return len(conds) == 0 || conds[len(conds)-1].active }

	// Every output line written while handling source line n maps to n.
	var lineMap []int
	mark := 0
	record := func(lineNo int) {
		n := strings.Count(result.String()[mark:], "\n")
		for ; n > 0; n-- {
			lineMap = append(lineMap, lineNo)
		}
		mark = result.Len()
	}

	lines := joinContinuations(src)
	for idx, line := range lines {
		lineNo := idx + 1
		if idx > 0 {
			record(idx)
		}
		trimmed := strings.TrimSpace(line)

		if !strings.HasPrefix(trimmed, "#") {
			if active() {
				result.WriteString(pp.expand(line, nil))
			}
			result.WriteString("\n")
			continue
		}

		name, rest := splitDirective(trimmed)
		switch name {
		case "if", "ifdef", "ifndef":
			f := condFrame{parentActive: active()}
			if f.parentActive {
				var cond bool
				switch name {
				case "ifdef":
					cond = pp.Defined(firstWord(rest))
				case "ifndef":
					cond = !pp.Defined(firstWord(rest))
				default:
					v, err := pp.evalCondition(rest)
					if err != nil {
						return "", fmt.Errorf("line %d: #if: %w", lineNo, err)
					}
					cond = v != 0
				}
				f.active, f.taken = cond, cond
			}
			conds = append(conds, f)

		case "elif":
			if len(conds) == 0 {
				return "", fmt.Errorf("line %d: #elif without #if", lineNo)
			}
			f := &conds[len(conds)-1]
			if f.sawElse {
				return "", fmt.Errorf("line %d: #elif after #else", lineNo)
			}
			f.active = false
			if f.parentActive && !f.taken {
				v, err := pp.evalCondition(rest)
				if err != nil {
					return "", fmt.Errorf("line %d: #elif: %w", lineNo, err)
				}
				f.active = v != 0
				f.taken = f.active
			}

		case "else":
			if len(conds) == 0 {
				return "", fmt.Errorf("line %d: #else without #if", lineNo)
			}
			f := &conds[len(conds)-1]
			if f.sawElse {
				return "", fmt.Errorf("line %d: duplicate #else", lineNo)
			}
			f.sawElse = true
			f.active = f.parentActive && !f.taken
			f.taken = true

		case "endif":
			if len(conds) == 0 {
				return "", fmt.Errorf("line %d: #endif without #if", lineNo)
			}
			conds = conds[:len(conds)-1]

		default:
			if !active() {
				break
			}
			if err := pp.directive(name, rest, lineNo, baseDir, visitedStack, depth, &result); err != nil {
				return "", err
			}
			if name == "include" {
				continue
			}
		}
		// Replace directives with an empty line to preserve line count roughly
		result.WriteString("\n")
	}

	if len(conds) > 0 {
		return "", errors.New("unterminated #if")
	}
	if depth == 0 {
		record(len(lines))
		pp.lineMap = lineMap
	}
	return result.String(), nil
}

// directive handles the non-conditional directives of an active line.
func (pp *Preprocessor) directive(name, rest string, lineNo int, baseDir string, visitedStack map[string]bool, depth int, out *strings.Builder) error {
	switch name {
	case "define":
		return pp.define(rest, lineNo)
	case "undef":
		delete(pp.defines, firstWord(rest))
	case "include":
		return pp.include(rest, lineNo, baseDir, visitedStack, depth, out)
	case "error":
		return fmt.Errorf("line %d: #error %s", lineNo, rest)
	case "pragma", "line", "":
		// Ignored. A file is only ever included once anyway.
	default:
		return fmt.Errorf("line %d: unknown directive #%s", lineNo, name)
	}
	return nil
}

// define parses "NAME VALUE" or "NAME(ARGS) VALUE".
func (pp *Preprocessor) define(rest string, lineNo int) error {
	if rest == "" {
		return fmt.Errorf("line %d: #define without a name", lineNo)
	}

	// Parse name. Name ends at space or (.
	nameEnd := 0
	for nameEnd < len(rest) && isIdentPart(rune(rest[nameEnd])) {
		nameEnd++
	}
	name := rest[:nameEnd]
	if name == "" || !isIdentStart(rune(name[0])) {
		return fmt.Errorf("line %d: invalid macro name in #define %s", lineNo, rest)
	}
	rest = rest[nameEnd:]

	m := Macro{}
	// Must have '(' immediately after name (no spaces).
	if len(rest) > 0 && rest[0] == '(' {
		closeParen := strings.Index(rest, ")")
		if closeParen == -1 {
			return fmt.Errorf("line %d: unterminated macro parameter list", lineNo)
		}
		m.FuncLike = true
		argStr := rest[1:closeParen]
		if strings.TrimSpace(argStr) != "" {
			for _, arg := range strings.Split(argStr, ",") {
				arg = strings.TrimSpace(arg)
				if arg == "..." {
					m.Variadic = true
					continue
				}
				m.Args = append(m.Args, arg)
			}
		}
		rest = rest[closeParen+1:]
	}
	m.Body = strings.TrimSpace(rest)
	pp.defines[name] = m
	return nil
}

// include splices a processed file into out.
func (pp *Preprocessor) include(rest string, lineNo int, baseDir string, visitedStack map[string]bool, depth int, out *strings.Builder) error {
	if rest != "" && rest[0] != '"' && rest[0] != '<' {
		rest = strings.TrimSpace(pp.expand(rest, nil))
	}
	if len(rest) < 2 || (rest[0] != '"' && rest[0] != '<') {
		return fmt.Errorf("line %d: invalid include directive: #include %s", lineNo, rest)
	}
	closer := byte('"')
	if rest[0] == '<' {
		closer = '>'
	}
	end := strings.IndexByte(rest[1:], closer)
	if end < 0 {
		return fmt.Errorf("line %d: unterminated include file name", lineNo)
	}
	filename := rest[1 : end+1]

	if depth >= pp.MaxIncludeDepth {
		return fmt.Errorf("line %d: #include nested too deeply (limit %d)", lineNo, pp.MaxIncludeDepth)
	}

	fullPath, found := pp.findInclude(filename, baseDir, closer == '"')
	if !found {
		if body, ok := systemHeaders[filename]; ok && closer == '>' {
			key := "<" + filename + ">"
			if pp.alreadyProcessed[key] {
				return nil
			}
			pp.alreadyProcessed[key] = true
			processed, err := pp.process(body, baseDir, visitedStack, depth+1)
			if err != nil {
				return fmt.Errorf("in <%s>: %w", filename, err)
			}
			out.WriteString(processed)
			return nil
		}
		return fmt.Errorf("line %d: cannot find include file %s", lineNo, filename)
	}

	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return err
	}

	// Check for cycles in the current stack
	if visitedStack[absPath] {
		return fmt.Errorf("line %d: circular include detected: %s", lineNo, filename)
	}

	// Check if this file has already been processed in a different branch of the include tree
	if pp.alreadyProcessed[absPath] {
		return nil
	}
	pp.alreadyProcessed[absPath] = true

	content, err := os.ReadFile(fullPath)
	if err != nil {
		return fmt.Errorf("line %d: failed to read included file %s: %w", lineNo, filename, err)
	}

	// Create a new stack copy for the recursive call to allow diamond dependencies
	newStack := make(map[string]bool, len(visitedStack)+1)
	for k, v := range visitedStack {
		newStack[k] = v
	}
	newStack[absPath] = true

	processed, err := pp.process(string(content), filepath.Dir(fullPath), newStack, depth+1)
	if err != nil {
		return fmt.Errorf("in %s: %w", filename, err)
	}
	out.WriteString(processed)
	return nil
}

// findInclude resolves an include name. Quoted names are tried relative to
// the including file first, then the working directory. Every form then
// searches the include directories in order.
func (pp *Preprocessor) findInclude(filename, baseDir string, quoted bool) (string, bool) {
	var candidates []string
	if quoted {
		candidates = append(candidates, filepath.Join(baseDir, filename), filename)
	}
	for _, dir := range pp.IncludeDirs {
		candidates = append(candidates, filepath.Join(dir, filename))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, true
		}
	}
	return "", false
}

func firstWord(s string) string {
	end := 0
	for end < len(s) && isIdentPart(rune(s[end])) {
		end++
	}
	return s[:end]
}

//  Macro expansion

// expand replaces macros in input. Macros named in hide are being expanded
// already and are left alone, so self-referential macros terminate.
// Substitution only happens on word boundaries and never inside string or
// char literals.
func (pp *Preprocessor) expand(input string, hide map[string]bool) string {
	if len(pp.defines) == 0 {
		return input
	}

	var sb strings.Builder
	n := len(input)
	i := 0

	for i < n {
		c := input[i]
		switch {
		case c == '"' || c == '\'':
			j := skipLiteral(input, i)
			sb.WriteString(input[i:j])
			i = j

		case c == '/' && i+1 < n && input[i+1] == '/':
			sb.WriteString(input[i:])
			i = n

		case isIdentStart(rune(c)):
			start := i
			for i < n && isIdentPart(rune(input[i])) {
				i++
			}
			word := input[start:i]
			macro, ok := pp.defines[word]
			if !ok || hide[word] {
				sb.WriteString(word)
				continue
			}
			inner := withHidden(hide, word)

			if !macro.FuncLike {
				sb.WriteString(pp.expand(macro.Body, inner))
				continue
			}

			// Function-like macro: look ahead for '('
			args, next, ok := splitMacroArgs(input, i)
			if !ok {
				// If not followed by '(', treat as normal identifier (don't expand)
				sb.WriteString(word)
				continue
			}
			body, ok := pp.substitute(macro, args, hide)
			if !ok {
				sb.WriteString(word)
				continue
			}
			sb.WriteString(pp.expand(body, inner))
			i = next

		case c >= '0' && c <= '9':
			// Numbers such as 1e10 or 0x1F are not identifiers.
			start := i
			for i < n && (isIdentPart(rune(input[i])) || input[i] == '.') {
				i++
			}
			sb.WriteString(input[start:i])

		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String()
}

func withHidden(hide map[string]bool, name string) map[string]bool {
	out := make(map[string]bool, len(hide)+1)
	for k := range hide {
		out[k] = true
	}
	out[name] = true
	return out
}

// skipLiteral returns the index just past the string or char literal that
// starts at i.
func skipLiteral(s string, i int) int {
	quote := s[i]
	i++
	for i < len(s) {
		switch s[i] {
		case '\\':
			i += 2
			continue
		case quote:
			return i + 1
		}
		i++
	}
	return len(s)
}

// splitMacroArgs parses "(a, (b, c), d)" starting at or after i. It returns
// the trimmed arguments and the index after the closing parenthesis.
func splitMacroArgs(input string, i int) ([]string, int, bool) {
	n := len(input)
	j := i
	for j < n && (input[j] == ' ' || input[j] == '\t') {
		j++
	}
	if j >= n || input[j] != '(' {
		return nil, i, false
	}
	j++ // consume '('

	var args []string
	var currentArg strings.Builder
	parenDepth := 1
	for j < n && parenDepth > 0 {
		switch c := input[j]; {
		case c == '"' || c == '\'':
			k := skipLiteral(input, j)
			currentArg.WriteString(input[j:k])
			j = k
			continue
		case c == '(':
			parenDepth++
			currentArg.WriteByte(c)
		case c == ')':
			parenDepth--
			if parenDepth > 0 {
				currentArg.WriteByte(c)
			}
		case c == ',' && parenDepth == 1:
			args = append(args, strings.TrimSpace(currentArg.String()))
			currentArg.Reset()
		default:
			currentArg.WriteByte(c)
		}
		j++
	}
	if parenDepth != 0 {
		return nil, i, false
	}
	args = append(args, strings.TrimSpace(currentArg.String()))
	if len(args) == 1 && args[0] == "" {
		args = nil
	}
	return args, j, true
}

var pasteRe = regexp.MustCompile(`\s*##\s*`)

// substitute binds args to the macro's parameters in its body. An argument
// next to # or ## is used as written; elsewhere it is macro-expanded first.
func (pp *Preprocessor) substitute(m Macro, args []string, hide map[string]bool) (string, bool) {
	bind := make(map[string]string, len(m.Args)+1)
	switch {
	case m.Variadic:
		if len(args) < len(m.Args) {
			return "", false
		}
		bind["__VA_ARGS__"] = strings.Join(args[len(m.Args):], ", ")
	case len(args) != len(m.Args):
		return "", false
	}
	for k, name := range m.Args {
		bind[name] = args[k]
	}

	body := m.Body
	var sb strings.Builder
	n := len(body)
	i := 0
	for i < n {
		c := body[i]
		switch {
		case c == '"' || c == '\'':
			j := skipLiteral(body, i)
			sb.WriteString(body[i:j])
			i = j

		case c == '#' && (i+1 >= n || body[i+1] != '#') && (i == 0 || body[i-1] != '#'):
			// #param -> "arg"
			j := i + 1
			for j < n && (body[j] == ' ' || body[j] == '\t') {
				j++
			}
			k := j
			for k < n && isIdentPart(rune(body[k])) {
				k++
			}
			arg, isParam := bind[body[j:k]]
			if !isParam {
				sb.WriteByte(c)
				i++
				continue
			}
			sb.WriteString(stringify(arg))
			i = k

		case isIdentStart(rune(c)):
			start := i
			for i < n && isIdentPart(rune(body[i])) {
				i++
			}
			word := body[start:i]
			arg, isParam := bind[word]
			if !isParam {
				sb.WriteString(word)
				continue
			}
			if nextToPaste(body, start, i) {
				sb.WriteString(arg)
			} else {
				sb.WriteString(pp.expand(arg, hide))
			}

		default:
			sb.WriteByte(c)
			i++
		}
	}
	return pasteRe.ReplaceAllString(sb.String(), ""), true
}

// nextToPaste reports whether body[start:end] is an operand of ##.
func nextToPaste(body string, start, end int) bool {
	before := strings.TrimRight(body[:start], " \t")
	after := strings.TrimLeft(body[end:], " \t")
	return strings.HasSuffix(before, "##") || strings.HasPrefix(after, "##")
}

// stringify renders an argument as a string literal.
func stringify(arg string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(arg); i++ {
		if arg[i] == '"' || arg[i] == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(arg[i])
	}
	sb.WriteByte('"')
	return sb.String()
}

var definedRe = regexp.MustCompile(`\bdefined\s*(?:\(\s*([A-Za-z_]\w*)\s*\)|([A-Za-z_]\w*))`)

// evalCondition evaluates the expression of an #if or #elif. defined(X) is
// resolved first, then macros are expanded and any identifier left over
// counts as 0.
func (pp *Preprocessor) evalCondition(expr string) (int64, error) {
	expr = definedRe.ReplaceAllStringFunc(expr, func(m string) string {
		sub := definedRe.FindStringSubmatch(m)
		name := sub[1]
		if name == "" {
			name = sub[2]
		}
		if pp.Defined(name) {
			return "1"
		}
		return "0"
	})
	expr = pp.expand(expr, nil)
	if strings.TrimSpace(expr) == "" {
		return 0, errors.New("missing expression")
	}

	tokens, err := Lex(expr)
	if err != nil {
		return 0, err
	}
	for i, t := range tokens {
		if t.Type == IDENTIFIER {
			tokens[i] = Token{Type: INTEGER, Lexeme: "0", Line: t.Line}
		}
	}
	p := NewParser(tokens, expr)
	e, err := p.parseExpression()
	if err != nil {
		return 0, err
	}
	if p.peek().Type != EOF {
		return 0, fmt.Errorf("unexpected %q after expression", p.peek().Lexeme)
	}
	return evalConstExpr(e)
}

// evalConstExpr folds a parsed integer expression without any symbols.
func evalConstExpr(e Expr) (int64, error) {
	switch n := e.(type) {
	case *IntLit:
		return n.Value, nil
	case *UnaryExpr:
		v, err := evalConstExpr(n.X)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case MINUS:
			return -v, nil
		case TILDE:
			return ^v, nil
		case NOT:
			return boolInt(v == 0), nil
		}
	case *LogicalExpr:
		l, err := evalConstExpr(n.Left)
		if err != nil {
			return 0, err
		}
		if n.Op == AND_LOGICAL && l == 0 {
			return 0, nil
		}
		if n.Op == OR_LOGICAL && l != 0 {
			return 1, nil
		}
		r, err := evalConstExpr(n.Right)
		if err != nil {
			return 0, err
		}
		return boolInt(r != 0), nil
	case *TernaryExpr:
		c, err := evalConstExpr(n.Cond)
		if err != nil {
			return 0, err
		}
		if c != 0 {
			return evalConstExpr(n.Then)
		}
		return evalConstExpr(n.Else)
	case *BinaryExpr:
		l, err := evalConstExpr(n.Left)
		if err != nil {
			return 0, err
		}
		r, err := evalConstExpr(n.Right)
		if err != nil {
			return 0, err
		}
		if v, ok := foldBinary(n.Op, l, r); ok {
			return v, nil
		}
		return 0, fmt.Errorf("cannot evaluate %s", n)
	}
	return 0, fmt.Errorf("%s is not an integer constant expression", e)
}

func isIdentStart(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || (r >= '0' && r <= '9')
}
