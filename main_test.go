package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nalgeon/be"

	"ccx86/pkg/asm"
	"ccx86/pkg/compiler"
)

func TestParseDefines(t *testing.T) {
	got := parseDefines([]string{"DEBUG", "N=10", "EMPTY=", "EXPR=a=b"})
	be.Equal(t, got, map[string]string{
		"DEBUG": "1",
		"N":     "10",
		"EMPTY": "",
		"EXPR":  "a=b",
	})
}

func TestListFlag(t *testing.T) {
	var l listFlag
	be.Err(t, l.Set("a"), nil)
	be.Err(t, l.Set("b"), nil)
	be.Equal(t, []string(l), []string{"a", "b"})
	be.Equal(t, l.String(), "a,b")
}

func writeSource(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	be.Err(t, os.WriteFile(path, []byte(src), 0o644), nil)
	return path
}

func testOptions(t *testing.T) options {
	return options{
		defines:   map[string]string{},
		tmpDir:    t.TempDir(),
		toolchain: asm.NewToolchain(),
	}
}

func TestBuildAssemblyOnly(t *testing.T) {
	dir := t.TempDir()
	a := writeSource(t, dir, "a.c", "int helper() { return 1; }\n")
	b := writeSource(t, dir, "b.c", "int helper();\nint main() { return helper() + LIMIT; }\n")

	t.Chdir(dir)
	opts := testOptions(t)
	opts.asmOnly = true
	opts.defines = parseDefines([]string{"LIMIT=4"})

	exe, err := build(context.Background(), []string{a, b}, opts, 2)
	be.Err(t, err, nil)
	be.Equal(t, exe, "")

	code, err := os.ReadFile(filepath.Join(dir, "b.s"))
	be.Err(t, err, nil)
	be.True(t, strings.Contains(string(code), "    call helper"))
	be.True(t, strings.Contains(string(code), "    movq $4, %rax"))

	_, err = os.Stat(filepath.Join(dir, "a.s"))
	be.Err(t, err, nil)
}

func TestBuildExplicitOutput(t *testing.T) {
	dir := t.TempDir()
	in := writeSource(t, dir, "prog.c", "int main() { return 0; }\n")
	out := filepath.Join(dir, "custom.s")

	opts := testOptions(t)
	opts.asmOnly = true
	opts.outPath = out

	_, err := build(context.Background(), []string{in}, opts, 1)
	be.Err(t, err, nil)
	_, err = os.Stat(out)
	be.Err(t, err, nil)
}

func TestBuildReportsSemanticErrors(t *testing.T) {
	dir := t.TempDir()
	in := writeSource(t, dir, "bad.c", "int main() { return missing; }\n")

	opts := testOptions(t)
	opts.asmOnly = true

	_, err := build(context.Background(), []string{in}, opts, 1)
	be.True(t, errors.Is(err, compiler.ErrSemantic))
	be.True(t, strings.HasPrefix(err.Error(), in+": "))
}

func TestBuildDebugDump(t *testing.T) {
	dir := t.TempDir()
	in := writeSource(t, dir, "dbg.c", "int limit;\nint main() { return limit; }\n")
	t.Chdir(dir)

	var dump bytes.Buffer
	opts := testOptions(t)
	opts.asmOnly = true
	opts.debug = &dump

	_, err := build(context.Background(), []string{in}, opts, 1)
	be.Err(t, err, nil)

	out := dump.String()
	be.True(t, strings.HasPrefix(out, "== "+in+" ==\nAST\n"))
	be.True(t, strings.Contains(out, "FunctionDef [line 2]: "))
	be.True(t, strings.Contains(out, "Diagnostics: 0 error(s), 0 warning(s)\n"))
	be.True(t, strings.Contains(out, "Symbol Table\n  Globals:\n"))
	be.True(t, strings.Contains(out, "limit"))
}

func TestBuildRejectsObjectsWithoutLinking(t *testing.T) {
	opts := testOptions(t)
	opts.asmOnly = true

	_, err := build(context.Background(), []string{"lib.o"}, opts, 1)
	be.True(t, err != nil)
	be.True(t, strings.Contains(err.Error(), "object files need linking"))
}

func TestBuildChecksAssemblyInputs(t *testing.T) {
	dir := t.TempDir()
	in := writeSource(t, dir, "bad.s", "    jmp .Lnowhere\n")

	opts := testOptions(t)
	opts.asmOnly = true

	_, err := build(context.Background(), []string{in}, opts, 1)
	be.True(t, err != nil)
	be.True(t, strings.Contains(err.Error(), "undefined label '.Lnowhere'"))
}

func TestBuildAndLink(t *testing.T) {
	opts := testOptions(t)
	if !opts.toolchain.Available() {
		t.Skip("gcc not found")
	}

	dir := t.TempDir()
	lib := writeSource(t, dir, "lib.c", "int triple(int x) { return x * 3; }\n")
	prog := writeSource(t, dir, "main.c", "int triple(int x);\nint main() { return triple(7); }\n")
	opts.outPath = filepath.Join(dir, "prog")

	exe, err := build(context.Background(), []string{lib, prog}, opts, 2)
	be.Err(t, err, nil)
	be.Equal(t, exe, opts.outPath)

	err = exec.Command(exe).Run()
	var exitErr *exec.ExitError
	be.True(t, errors.As(err, &exitErr))
	be.Equal(t, exitErr.ExitCode(), 21)
}

func TestBuildObjectFiles(t *testing.T) {
	opts := testOptions(t)
	if !opts.toolchain.Available() {
		t.Skip("gcc not found")
	}

	dir := t.TempDir()
	in := writeSource(t, dir, "unit.c", "int one() { return 1; }\n")
	t.Chdir(dir)
	opts.objOnly = true

	_, err := build(context.Background(), []string{in}, opts, 1)
	be.Err(t, err, nil)
	_, err = os.Stat(filepath.Join(dir, "unit.o"))
	be.Err(t, err, nil)
}
