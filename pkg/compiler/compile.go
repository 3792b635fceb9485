package compiler

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrSemantic is returned by Compile when the analyzer reported at least
	// one error. The diagnostics themselves went to Options.Diagnostics.
	ErrSemantic = errors.New("semantic errors")

	// ErrTooManyArgs is returned by the generator for calls and definitions
	// that need more than the six integer argument registers.
	ErrTooManyArgs = errors.New("more than 6 arguments are not supported")
)

// Options configure a single Compile run.
type Options struct {
	FileName        string // used in the .file directive and diagnostics
	BaseDir         string // directory for resolving quoted #include names
	IncludeDirs     []string
	MaxIncludeDepth int
	Defines         map[string]string
	Diagnostics     io.Writer // nil discards diagnostics
}

// Result carries the output of every stage that ran. On error the stages
// that completed are still filled in, which the debug dumps rely on.
type Result struct {
	Source      string
	Tokens      []Token
	Program     *Program
	Symbols     *SymbolTable
	Annotations *Annotations
	Errors      int
	Warnings    int
	Assembly    string
}

// Compile runs src through the whole pipeline and returns the generated
// x86-64 assembly in Result.Assembly.
func Compile(src string, opts Options) (*Result, error) {
	res := &Result{}

	pp := NewPreprocessor(opts.IncludeDirs, opts.MaxIncludeDepth)
	for name, body := range opts.Defines {
		pp.Define(name, body)
	}

	var err error
	res.Source, err = pp.Run(src, opts.BaseDir)
	if err != nil {
		return res, fmt.Errorf("preprocess error: %w", err)
	}

	res.Tokens, err = Lex(res.Source)
	if err != nil {
		return res, fmt.Errorf("lex error: %w", err)
	}
	// Report positions in the file as written, not in the expanded text.
	for i := range res.Tokens {
		res.Tokens[i].Line = pp.SourceLine(res.Tokens[i].Line)
	}

	res.Program, err = Parse(res.Tokens, src)
	if err != nil {
		return res, fmt.Errorf("parse error: %w", err)
	}

	diag := NewReporter(opts.Diagnostics)
	diag.File = opts.FileName
	an := NewAnalyzer(diag)
	res.Annotations = an.Analyze(res.Program)
	res.Symbols = an.Symbols()
	res.Errors = diag.ErrorCount()
	res.Warnings = diag.WarningCount()
	if res.Errors > 0 {
		return res, fmt.Errorf("%w: %d error(s), %d warning(s)", ErrSemantic, res.Errors, res.Warnings)
	}

	res.Assembly, err = Generate(res.Program, res.Annotations.View(), opts.FileName)
	if err != nil {
		return res, fmt.Errorf("codegen error: %w", err)
	}

	return res, nil
}
