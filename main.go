// Command ccx86 compiles C source files to x86-64 assembly and, through the
// system gcc, to object files and executables.
//
//	ccx86 [-S | -c] [-o out] [-debug] [-I dir]... [-D name[=value]]... file...
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ccx86/pkg/asm"
	"ccx86/pkg/compiler"
	"ccx86/pkg/utils"
)

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

type options struct {
	outPath     string
	asmOnly     bool
	objOnly     bool
	includeDirs []string
	defines     map[string]string
	tmpDir      string
	toolchain   *asm.Toolchain
	debug       io.Writer // receives AST and symbol dumps when set
}

// debugMu keeps the dumps of files compiled in parallel from interleaving.
var debugMu sync.Mutex

func main() {
	var includes, defines listFlag
	outPath := flag.String("o", "", "output file path")
	asmOnly := flag.Bool("S", false, "stop after generating assembly (.s)")
	objOnly := flag.Bool("c", false, "stop after assembling (.o)")
	runProgram := flag.Bool("run", false, "run the linked program and exit with its status")
	jobs := flag.Int("j", runtime.NumCPU(), "number of files compiled in parallel")
	timeout := flag.Duration("timeout", asm.DefaultTimeout, "timeout for each gcc invocation")
	verbose := flag.Bool("v", false, "print gcc command lines")
	debug := flag.Bool("debug", false, "dump the AST and symbol table of each file to stdout")
	flag.Var(&includes, "I", "add a directory to the include search path (repeatable)")
	flag.Var(&defines, "D", "define a macro as name or name=value (repeatable)")
	flag.Parse()

	inputs := flag.Args()
	if len(inputs) == 0 {
		fmt.Fprintln(os.Stderr, "no input files")
		flag.Usage()
		os.Exit(2)
	}
	if *asmOnly && *objOnly {
		fmt.Fprintln(os.Stderr, "use either -S or -c, not both")
		os.Exit(2)
	}
	if *runProgram && (*asmOnly || *objOnly) {
		fmt.Fprintln(os.Stderr, "-run needs a linked program; drop -S and -c")
		os.Exit(2)
	}
	if *outPath != "" && (*asmOnly || *objOnly) && len(inputs) > 1 {
		fmt.Fprintln(os.Stderr, "-o with -S or -c takes a single input file")
		os.Exit(2)
	}

	tmpDir, err := os.MkdirTemp("", "ccx86-")
	if err != nil {
		fmt.Fprintln(os.Stderr, "temp dir error:", err)
		os.Exit(1)
	}

	tc := asm.NewToolchain()
	tc.Timeout = *timeout
	if *verbose {
		tc.Verbose = func(args []string) { fmt.Fprintln(os.Stderr, strings.Join(args, " ")) }
	}

	opts := options{
		outPath:     *outPath,
		asmOnly:     *asmOnly,
		objOnly:     *objOnly,
		includeDirs: includes,
		defines:     parseDefines(defines),
		tmpDir:      tmpDir,
		toolchain:   tc,
	}
	if *debug {
		opts.debug = os.Stdout
	}

	exe, err := build(context.Background(), inputs, opts, *jobs)
	os.RemoveAll(tmpDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *runProgram {
		os.Exit(runBinary(exe))
	}
}

// build compiles every input concurrently and links the results unless -S or
// -c stops the pipeline early. It returns the executable path when linking.
func build(ctx context.Context, inputs []string, opts options, jobs int) (string, error) {
	needsGCC := !opts.asmOnly
	if needsGCC && !opts.toolchain.Available() {
		return "", fmt.Errorf("%s not found on PATH; use -S to emit assembly only", opts.toolchain.CC)
	}

	linkInputs := make([]string, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(jobs, 1))
	for i, in := range inputs {
		g.Go(func() error {
			out, err := buildOne(gctx, i, in, opts)
			if err != nil {
				return fmt.Errorf("%s: %w", in, err)
			}
			linkInputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	if opts.asmOnly || opts.objOnly {
		return "", nil
	}

	exe := opts.outPath
	if exe == "" {
		exe = utils.DefaultOutput(inputs[0], false, false)
	}
	if err := opts.toolchain.Link(ctx, linkInputs, exe); err != nil {
		return "", fmt.Errorf("link error: %w", err)
	}
	return exe, nil
}

// buildOne takes a single input as far as the options allow and returns the
// file to hand to the linker.
func buildOne(ctx context.Context, idx int, in string, opts options) (string, error) {
	var asmPath string
	switch filepath.Ext(in) {
	case ".o":
		if opts.asmOnly || opts.objOnly {
			return "", errors.New("object files need linking; drop -S and -c")
		}
		return in, nil
	case ".s":
		code, err := os.ReadFile(in)
		if err != nil {
			return "", err
		}
		if _, err := asm.Check(string(code)); err != nil {
			return "", fmt.Errorf("assembly error: %w", err)
		}
		asmPath = in
	default:
		code, err := compileFile(in, opts)
		if err != nil {
			return "", err
		}
		asmPath = filepath.Join(opts.tmpDir, fmt.Sprintf("%d-%s", idx, utils.ReplaceExt(filepath.Base(in), ".s")))
		if opts.asmOnly {
			asmPath = outputFor(in, opts)
		}
		if err := os.WriteFile(asmPath, []byte(code), 0o644); err != nil {
			return "", err
		}
	}

	if !opts.objOnly {
		return asmPath, nil
	}

	obj := outputFor(in, opts)
	if err := opts.toolchain.Assemble(ctx, asmPath, obj); err != nil {
		return "", fmt.Errorf("assemble error: %w", err)
	}
	return obj, nil
}

func compileFile(in string, opts options) (string, error) {
	source, err := os.ReadFile(in)
	if err != nil {
		return "", err
	}
	_, baseDir, err := utils.GetPathInfo(in)
	if err != nil {
		return "", err
	}

	res, err := compiler.Compile(string(source), compiler.Options{
		FileName:    filepath.Base(in),
		BaseDir:     baseDir,
		IncludeDirs: opts.includeDirs,
		Defines:     opts.defines,
		Diagnostics: os.Stderr,
	})
	if opts.debug != nil {
		dumpDebug(opts.debug, in, res)
	}
	if err != nil {
		return "", err
	}

	if _, err := asm.Check(res.Assembly); err != nil {
		return "", fmt.Errorf("generated assembly is invalid: %w", err)
	}
	return res.Assembly, nil
}

// dumpDebug writes whatever stages of res completed: the AST outline and the
// symbol table.
func dumpDebug(w io.Writer, in string, res *compiler.Result) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "== %s ==\n", in)
	if res.Program != nil {
		buf.WriteString("AST\n")
		compiler.DumpAST(&buf, res.Program)
	}
	if res.Symbols != nil {
		fmt.Fprintf(&buf, "Diagnostics: %d error(s), %d warning(s)\n", res.Errors, res.Warnings)
		buf.WriteString(res.Symbols.String())
	}

	debugMu.Lock()
	defer debugMu.Unlock()
	w.Write(buf.Bytes())
}

func outputFor(in string, opts options) string {
	if opts.outPath != "" {
		return opts.outPath
	}
	return utils.DefaultOutput(in, opts.asmOnly, opts.objOnly)
}

func parseDefines(defs []string) map[string]string {
	out := make(map[string]string, len(defs))
	for _, d := range defs {
		name, value, ok := strings.Cut(d, "=")
		if !ok {
			value = "1"
		}
		out[name] = value
	}
	return out
}

func runBinary(path string) int {
	if !strings.ContainsRune(path, filepath.Separator) {
		path = "." + string(filepath.Separator) + path
	}

	start := time.Now()
	cmd := exec.Command(path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	err := cmd.Run()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		fmt.Fprintf(os.Stderr, "run complete (%s): exit=0 in %s\n", path, time.Since(start).Round(time.Millisecond))
		return 0
	case errors.As(err, &exitErr):
		fmt.Fprintf(os.Stderr, "run complete (%s): exit=%d in %s\n", path, exitErr.ExitCode(), time.Since(start).Round(time.Millisecond))
		return exitErr.ExitCode()
	default:
		fmt.Fprintf(os.Stderr, "run failed for %q: %v\n", path, err)
		return 1
	}
}
