package compiler

import (
	"fmt"
	"io"
)

type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Diagnostic is one semantic finding tied to a source line.
type Diagnostic struct {
	Line     int
	Severity Severity
	Msg      string
}

func (d Diagnostic) String() string {
	if d.Severity == SeverityWarning {
		return fmt.Sprintf("Warning (line %d): %s", d.Line, d.Msg)
	}
	return fmt.Sprintf("Semantic Error (line %d): %s", d.Line, d.Msg)
}

// Reporter collects diagnostics and counts them by severity. Every diagnostic
// is also written to Out as it is reported, prefixed with File when set.
type Reporter struct {
	Out  io.Writer
	File string

	diags    []Diagnostic
	errors   int
	warnings int
}

func NewReporter(out io.Writer) *Reporter {
	if out == nil {
		out = io.Discard
	}
	return &Reporter{Out: out}
}

func (r *Reporter) report(d Diagnostic) {
	r.diags = append(r.diags, d)
	if d.Severity == SeverityWarning {
		r.warnings++
	} else {
		r.errors++
	}
	if r.File != "" {
		fmt.Fprintf(r.Out, "%s: %s\n", r.File, d)
		return
	}
	fmt.Fprintln(r.Out, d)
}

func (r *Reporter) Errorf(line int, format string, args ...any) {
	r.report(Diagnostic{Line: line, Severity: SeverityError, Msg: fmt.Sprintf(format, args...)})
}

func (r *Reporter) Warnf(line int, format string, args ...any) {
	r.report(Diagnostic{Line: line, Severity: SeverityWarning, Msg: fmt.Sprintf(format, args...)})
}

func (r *Reporter) ErrorCount() int   { return r.errors }
func (r *Reporter) WarningCount() int { return r.warnings }

// Diagnostics returns everything reported so far, in order.
func (r *Reporter) Diagnostics() []Diagnostic { return r.diags }
