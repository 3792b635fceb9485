package compiler

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nalgeon/be"
)

// squash collapses runs of whitespace so expected output can ignore the
// blank lines left behind by directives.
func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func TestPreprocessMacros(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"object", "#define N 10\nint x = N;", "int x = 10;"},
		{"undef", "#define N 1\n#undef N\nN", "N"},
		{"word boundary", "#define N 1\nint NN = N;", "int NN = 1;"},
		{"not in strings", "#define N 1\nchar *s = \"N\";", `char *s = "N";`},
		{"function", "#define SQ(x) ((x)*(x))\nSQ(a+1)", "((a+1)*(a+1))"},
		{"nested args", "#define FIRST(a, b) a\nFIRST(f(1, 2), 3)", "f(1, 2)"},
		{"no parens", "#define F(x) x\nint F;", "int F;"},
		{"stringify", "#define STR(x) #x\nSTR(hello)", `"hello"`},
		{"paste", "#define CAT(a, b) a##b\nint CAT(foo, bar);", "int foobar;"},
		{"variadic", "#define LOG(fmt, ...) printf(fmt, __VA_ARGS__)\nLOG(\"%d %d\", x, y);", `printf("%d %d", x, y);`},
		{"rescan", "#define A B\n#define B 7\nA", "7"},
		{"self reference", "#define X X + 1\nX", "X + 1"},
		{"continuation", "#define LONG 1 + \\\n2\nLONG", "1 + 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Preprocess(tt.src, ".")
			be.Err(t, err, nil)
			be.Equal(t, squash(out), tt.want)
		})
	}
}

func TestPreprocessConditionals(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"ifdef", "#define A\n#ifdef A\nyes\n#else\nno\n#endif", "yes"},
		{"ifndef", "#ifndef A\nyes\n#endif", "yes"},
		{"if arithmetic", "#if 2 * 3 == 6\nyes\n#endif", "yes"},
		{"elif", "#define V 2\n#if V == 1\none\n#elif V == 2\ntwo\n#else\nother\n#endif", "two"},
		{"else", "#if 0\nzero\n#else\nother\n#endif", "other"},
		{"defined", "#define A\n#if defined(A) && !defined B\nyes\n#endif", "yes"},
		{"unknown is zero", "#if MISSING\nyes\n#else\nno\n#endif", "no"},
		{"nested inactive", "#if 0\n#if 1\ninner\n#endif\n#else\nouter\n#endif", "outer"},
		{"first branch wins", "#if 1\na\n#elif 1\nb\n#endif", "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Preprocess(tt.src, ".")
			be.Err(t, err, nil)
			be.Equal(t, squash(out), tt.want)
		})
	}
}

func TestPreprocessErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"error directive", "#error stop here", "#error stop here"},
		{"unterminated if", "#if 1\nx", "unterminated #if"},
		{"stray endif", "#endif", "#endif without #if"},
		{"stray else", "#else", "#else without #if"},
		{"duplicate else", "#if 1\n#else\n#else\n#endif", "duplicate #else"},
		{"elif after else", "#if 1\n#else\n#elif 1\n#endif", "#elif after #else"},
		{"missing expression", "#if\n#endif", "missing expression"},
		{"unknown directive", "#frobnicate", "unknown directive #frobnicate"},
		{"missing include", "#include \"nope.h\"", "cannot find include file nope.h"},
		{"bad include", "#include nope.h", "invalid include directive"},
		{"define without name", "#define", "#define without a name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Preprocess(tt.src, t.TempDir())
			be.True(t, err != nil)
			be.True(t, strings.Contains(err.Error(), tt.want))
		})
	}
}

func TestPreprocessErrorInInactiveBranch(t *testing.T) {
	out, err := Preprocess("#if 0\n#error never\n#endif\nok", ".")
	be.Err(t, err, nil)
	be.Equal(t, squash(out), "ok")
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644)
	be.Err(t, err, nil)
}

func TestPreprocessInclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "defs.h", "#define ANSWER 42\nint helper(int x);\n")
	writeFile(t, dir, "main.c", "#include \"defs.h\"\n#include \"defs.h\"\nint x = ANSWER;\n")

	src, err := os.ReadFile(filepath.Join(dir, "main.c"))
	be.Err(t, err, nil)
	out, err := Preprocess(string(src), dir)
	be.Err(t, err, nil)
	be.Equal(t, squash(out), "int helper(int x); int x = 42;")
}

func TestPreprocessIncludeDirs(t *testing.T) {
	inc := t.TempDir()
	writeFile(t, inc, "lib.h", "#define LIB 3\n")

	pp := NewPreprocessor([]string{inc}, 0)
	out, err := pp.Run("#include <lib.h>\nLIB", t.TempDir())
	be.Err(t, err, nil)
	be.Equal(t, squash(out), "3")
	be.True(t, pp.Defined("LIB"))
}

func TestPreprocessNestedIncludeIsRelative(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	be.Err(t, os.Mkdir(sub, 0o755), nil)
	writeFile(t, sub, "a.h", "#include \"b.h\"\nA\n")
	writeFile(t, sub, "b.h", "B\n")

	out, err := Preprocess("#include \"sub/a.h\"\n", dir)
	be.Err(t, err, nil)
	be.Equal(t, squash(out), "B A")
}

func TestPreprocessCircularInclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.h", "#include \"b.h\"\n")
	writeFile(t, dir, "b.h", "#include \"a.h\"\n")

	_, err := Preprocess("#include \"a.h\"\n", dir)
	be.True(t, err != nil)
	be.True(t, strings.Contains(err.Error(), "circular include detected: a.h"))
}

func TestPreprocessIncludeDepth(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "d0.h", "#include \"d1.h\"\n")
	writeFile(t, dir, "d1.h", "#include \"d2.h\"\n")
	writeFile(t, dir, "d2.h", "deep\n")

	_, err := NewPreprocessor(nil, 2).Run("#include \"d0.h\"\n", dir)
	be.True(t, err != nil)
	be.True(t, strings.Contains(err.Error(), "nested too deeply (limit 2)"))

	out, err := NewPreprocessor(nil, 3).Run("#include \"d0.h\"\n", dir)
	be.Err(t, err, nil)
	be.Equal(t, squash(out), "deep")
}

func TestPreprocessSystemHeaders(t *testing.T) {
	out, err := Preprocess("#include <stdio.h>\n#include <stdio.h>\n#include <stddef.h>\nchar *p = NULL;", t.TempDir())
	be.Err(t, err, nil)
	be.Equal(t, strings.Count(out, "int printf(char *fmt, ...);"), 1)
	be.True(t, strings.HasSuffix(squash(out), "char *p = 0;"))

	_, err = Preprocess("#include <nosuch.h>\n", t.TempDir())
	be.True(t, err != nil)
	be.True(t, strings.Contains(err.Error(), "cannot find include file nosuch.h"))
}

func TestPreprocessKeepsLineCount(t *testing.T) {
	src := "#define A 1\n#if A\nint x;\n#endif\nint y;"
	out, err := Preprocess(src, ".")
	be.Err(t, err, nil)
	lines := strings.Split(out, "\n")
	be.Equal(t, strings.TrimSpace(lines[2]), "int x;")
	be.Equal(t, strings.TrimSpace(lines[4]), "int y;")
}

func TestPreprocessorDefine(t *testing.T) {
	pp := NewPreprocessor(nil, 0)
	pp.Define("DEBUG", "1")
	be.True(t, pp.Defined("DEBUG"))
	be.Equal(t, pp.MaxIncludeDepth, DefaultMaxIncludeDepth)

	out, err := pp.Run("#if DEBUG\nint debug = DEBUG;\n#endif", ".")
	be.Err(t, err, nil)
	be.Equal(t, squash(out), "int debug = 1;")
}

func TestPreprocessorSourceLine(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "two.h", "int a;\nint b;\n")

	pp := NewPreprocessor(nil, 0)
	out, err := pp.Run("int x;\n#include \"two.h\"\nint y;\n", dir)
	be.Err(t, err, nil)

	lines := strings.Split(out, "\n")
	y := -1
	for i, l := range lines {
		if l == "int y;" {
			y = i + 1
		}
	}
	be.True(t, y > 3)
	be.Equal(t, pp.SourceLine(1), 1)
	be.Equal(t, pp.SourceLine(2), 2)
	be.Equal(t, pp.SourceLine(y), 3)
	be.Equal(t, pp.SourceLine(0), 0)
	be.Equal(t, pp.SourceLine(1000), 1000)
}
