// Package asm checks and assembles the x86-64 GNU assembly produced by the
// compiler. Check is a lightweight two-pass label validator run before the
// system toolchain; Toolchain drives gcc to assemble and link.
package asm

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// jumpOps take a single code label operand.
var jumpOps = map[string]bool{
	"jmp": true, "je": true, "jne": true, "jz": true, "jnz": true,
	"jl": true, "jle": true, "jg": true, "jge": true,
	"jb": true, "jbe": true, "ja": true, "jae": true,
	"js": true, "jns": true, "call": true,
}

// stringOps are data directives whose operand is a quoted literal.
var stringOps = map[string]bool{".string": true, ".ascii": true, ".asciz": true}

var localRefRe = regexp.MustCompile(`\.L[A-Za-z0-9_]+`)

type Checker struct {
	labels map[string]int
}

type parsedLine struct {
	lineNo   int
	labels   []string
	mnemonic string
	operands []string
}

func NewChecker() *Checker {
	return &Checker{
		labels: make(map[string]int),
	}
}

// Check validates code and returns the label table, mapping every defined
// label to the line it appears on.
func Check(code string) (map[string]int, error) {
	return NewChecker().Check(code)
}

func (c *Checker) Check(code string) (map[string]int, error) {
	lines := strings.Split(code, "\n")

	parsed, err := c.pass1(lines)
	if err != nil {
		return nil, err
	}
	if err := c.pass2(parsed); err != nil {
		return nil, err
	}
	return c.labels, nil
}

func (c *Checker) pass1(lines []string) ([]parsedLine, error) {
	var out []parsedLine
	for i, raw := range lines {
		lineNo := i + 1
		p, err := parseLine(raw, lineNo)
		if err != nil {
			return nil, err
		}
		for _, label := range p.labels {
			if prev, ok := c.labels[label]; ok {
				return nil, fmt.Errorf("duplicate label '%s' on line %d (first defined on line %d)", label, lineNo, prev)
			}
			c.labels[label] = lineNo
		}
		if p.mnemonic != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// pass2 resolves local .L references. Jumps and calls to other symbols are
// left to the linker since they may live in libc.
func (c *Checker) pass2(lines []parsedLine) error {
	for _, p := range lines {
		if stringOps[p.mnemonic] {
			continue
		}
		if jumpOps[p.mnemonic] {
			if len(p.operands) != 1 {
				return fmt.Errorf("%s expects exactly one operand on line %d", p.mnemonic, p.lineNo)
			}
			target := p.operands[0]
			if !strings.HasPrefix(target, "*") && !isIdentifier(target) {
				return fmt.Errorf("invalid jump target '%s' on line %d", target, p.lineNo)
			}
		}
		for _, op := range p.operands {
			for _, ref := range localRefRe.FindAllString(op, -1) {
				if _, ok := c.labels[ref]; !ok {
					return fmt.Errorf("undefined label '%s' on line %d", ref, p.lineNo)
				}
			}
		}
	}
	return nil
}

func parseLine(raw string, lineNo int) (parsedLine, error) {
	p := parsedLine{lineNo: lineNo}

	line := strings.TrimSpace(stripComments(raw))
	if line == "" {
		return p, nil
	}

	for {
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			break
		}

		beforeColon := strings.TrimSpace(line[:colon])
		if strings.ContainsAny(beforeColon, " \t\"") {
			break
		}

		if !isIdentifier(beforeColon) {
			return p, fmt.Errorf("invalid label '%s' on line %d", beforeColon, lineNo)
		}

		p.labels = append(p.labels, beforeColon)
		line = strings.TrimSpace(line[colon+1:])
		if line == "" {
			return p, nil
		}
	}

	mnemonic, rest := line, ""
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		mnemonic, rest = line[:i], strings.TrimSpace(line[i+1:])
	}
	p.mnemonic = strings.ToLower(mnemonic)

	if rest == "" {
		return p, nil
	}
	if stringOps[p.mnemonic] {
		if len(rest) < 2 || rest[0] != '"' || rest[len(rest)-1] != '"' {
			return p, fmt.Errorf("invalid string literal on line %d", lineNo)
		}
		p.operands = []string{rest}
		return p, nil
	}
	p.operands = splitOperands(rest)
	return p, nil
}

// splitOperands splits on commas that are not inside parentheses or quotes,
// so "8(%rbp,%rcx,8)" stays one operand.
func splitOperands(s string) []string {
	var out []string
	depth := 0
	inStr := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch ch := s[i]; {
		case inStr:
			if ch == '\\' {
				i++
			} else if ch == '"' {
				inStr = false
			}
		case ch == '"':
			inStr = true
		case ch == '(':
			depth++
		case ch == ')':
			depth--
		case ch == ',' && depth == 0:
			out = append(out, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	return append(out, strings.TrimSpace(s[start:]))
}

// stripComments removes a trailing '#' comment, ignoring '#' inside string
// literals.
func stripComments(line string) string {
	inStr := false
	for i := 0; i < len(line); i++ {
		switch ch := line[i]; {
		case inStr:
			if ch == '\\' {
				i++
			} else if ch == '"' {
				inStr = false
			}
		case ch == '"':
			inStr = true
		case ch == '#':
			return line[:i]
		}
	}
	return line
}

// isIdentifier accepts GNU as symbol names: letters, digits, '_', '.' and
// '$', not starting with a digit.
func isIdentifier(s string) bool {
	if s == "" {
		return false
	}

	for i, r := range s {
		if i == 0 {
			if !unicode.IsLetter(r) && r != '_' && r != '.' {
				return false
			}
			continue
		}

		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '.' && r != '$' {
			return false
		}
	}

	return true
}
