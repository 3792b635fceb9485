package compiler

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"ccx86/pkg/asm"

	"github.com/nalgeon/be"
)

// runCode compiles src, links it with the system toolchain and runs it.
// It returns the process exit code and whatever the program printed.
func runCode(t *testing.T, src string) (int, string) {
	t.Helper()
	tc := asm.NewToolchain()
	if !tc.Available() {
		t.Skip("gcc not found")
	}

	res, err := Compile(src, Options{FileName: "prog.c"})
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	dir := t.TempDir()
	asmPath := filepath.Join(dir, "prog.s")
	if err := os.WriteFile(asmPath, []byte(res.Assembly), 0o644); err != nil {
		t.Fatal(err)
	}
	exe := filepath.Join(dir, "prog")
	if err := tc.Link(context.Background(), []string{asmPath}, exe); err != nil {
		t.Fatalf("link failed: %v\n%s", err, res.Assembly)
	}

	var stdout bytes.Buffer
	cmd := exec.Command(exe)
	cmd.Stdout = &stdout
	err = cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, stdout.String()
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), stdout.String()
	default:
		t.Fatalf("run failed: %v", err)
	}
	return 0, ""
}

func TestRunExitCodes(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want int
	}{
		{"add", `
int add(int a, int b) { return a + b; }
int main() { return add(2, 3); }`, 5},

		{"pointer arithmetic", `
int main() {
    int a[3] = {1, 2, 3};
    int *p = a;
    p = p + 1;
    return *p;
}`, 2},

		{"pointer from element stores", `
int main() {
    int arr[3];
    arr[0] = 1;
    arr[1] = 2;
    arr[2] = 3;
    int *p = arr;
    return *(p + 1);
}`, 2},

		{"pointer difference", `
int main() {
    int a[5];
    int *p = &a[4];
    int *q = &a[1];
    return p - q;
}`, 3},

		{"double arithmetic", `
int main() {
    double d = 3.0;
    return d + 2;
}`, 5},

		{"sum_range", `
int sum_range(int lo, int hi) {
    int total = 0;
    for (int i = lo; i < hi; i++) {
        if (i == 5) continue;
        if (i > 10) break;
        total += i;
    }
    return total;
}
int main() { return sum_range(1, 20); }`, 50},

		{"arithmetic", "int main() { return 17 / 5 * 10 + 17 % 5; }", 32},
		{"bitwise", "int main() { return (1 << 4) | 3; }", 19},
		{"negation", "int main() { int x = 5; return -x + 12; }", 7},
		{"comparison chain", "int main() { return (3 < 4) + (4 <= 4) + (5 > 9) + (2 != 2); }", 2},
		{"fallthrough main", "int main() { int x = 9; x = x * 2; }", 0},

		{"recursion", `
int fib(int n) {
    if (n < 2) return n;
    return fib(n - 1) + fib(n - 2);
}
int main() { return fib(10); }`, 55},

		{"swap through pointers", `
void swap(int *a, int *b) { int t = *a; *a = *b; *b = t; }
int main() {
    int x = 3;
    int y = 9;
    swap(&x, &y);
    return x * 10 + y;
}`, 93},

		{"struct members", `
struct Point { int x; int y; };
int main() {
    struct Point p;
    p.x = 3;
    p.y = 4;
    return p.x * p.x + p.y * p.y;
}`, 25},

		{"linked nodes", `
struct Node { int val; struct Node *next; };
int main() {
    struct Node a;
    struct Node b;
    b.val = 7;
    b.next = 0;
    a.val = 1;
    a.next = &b;
    return a.next->val + a.val;
}`, 8},

		{"switch", `
int classify(int x) {
    switch (x) {
    case 1: return 10;
    case 2:
    case 3: return 20;
    default: return 30;
    }
}
int main() { return classify(1) + classify(3) + classify(9); }`, 60},

		{"switch break", `
int main() {
    int r = 0;
    switch (2) {
    case 1: r = 1; break;
    case 2: r = 2;
    case 3: r = r + 3; break;
    case 4: r = 100;
    }
    return r;
}`, 5},

		{"globals", `
int counter;
int step = 2;
void bump() { counter = counter + step; }
int main() { bump(); bump(); bump(); return counter; }`, 6},

		{"global array", `
int table[4] = {1, 2, 3, 4};
int main() {
    int s = 0;
    for (int i = 0; i < 4; i++) s += table[i];
    return s;
}`, 10},

		{"static local", `
int next() { static int n = 0; n++; return n; }
int main() { next(); next(); return next(); }`, 3},

		{"short circuit", `
int hit = 0;
int side() { hit = 1; return 1; }
int main() {
    if (0 && side()) return 100;
    if (1 || side()) return hit;
    return 50;
}`, 0},

		{"enum", `
enum Color { RED, GREEN = 5, BLUE };
int main() { return BLUE + RED; }`, 6},

		{"sizeof", "int main() { int a[4]; return sizeof(a) + sizeof(int); }", 40},

		{"loops", `
int main() {
    int i = 0;
    int n = 0;
    while (i < 5) { i++; n += 2; }
    do { n++; } while (n < 13);
    return n;
}`, 13},

		{"ternary", "int main() { int x = 4; return x > 3 ? 11 : 22; }", 11},

		{"increments", `
int main() {
    int x = 5;
    int a = x++;
    int b = ++x;
    return a * 10 + b - x;
}`, 50},

		{"string length", `
int length(char *s) {
    int n = 0;
    while (s[n]) n++;
    return n;
}
int main() { return length("hello, world"); }`, 12},

		{"char array", `
int main() {
    char s[6] = "abc";
    return s[0] - 'a' + s[2] - 'a' + s[3];
}`, 2},

		{"two dimensional", `
int main() {
    int m[2][3];
    for (int i = 0; i < 2; i++)
        for (int j = 0; j < 3; j++)
            m[i][j] = i * 3 + j;
    return m[1][2];
}`, 5},

		{"block scopes", `
int main() {
    int x = 1;
    { int x = 2; { int x = 3; } }
    { int y = 40; x = x + y; }
    return x;
}`, 41},

		{"six arguments", `
int f(int a, int b, int c, int d, int e, int g) { return a + b + c + d + e + g; }
int main() { return f(1, 2, 3, 4, 5, 6); }`, 21},

		{"macros", `
#define SQ(x) ((x) * (x))
#define LIMIT 3
int main() { return SQ(LIMIT + 1); }`, 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := runCode(t, tt.src)
			be.Equal(t, code, tt.want)
		})
	}
}

func TestRunPrintf(t *testing.T) {
	code, out := runCode(t, `
#include <stdio.h>
int main() {
    char *name = "world";
    printf("hello %s %d\n", name, 6 * 7);
    return 0;
}`)
	be.Equal(t, code, 0)
	be.Equal(t, out, "hello world 42\n")
}

func TestRunPutchar(t *testing.T) {
	code, out := runCode(t, `
#include <stdio.h>
int main() {
    for (int i = 0; i < 3; i++) putchar('a' + i);
    putchar('\n');
    return 1;
}`)
	be.Equal(t, code, 1)
	be.Equal(t, out, "abc\n")
}

func TestRunBinaryOperandsRightFirst(t *testing.T) {
	code, out := runCode(t, `
#include <stdio.h>
int p(int v) { printf("%d,", v); return v; }
int main() {
    printf("%d\n", 1 + p(2) + p(3));
    return 0;
}`)
	be.Equal(t, code, 0)
	be.Equal(t, out, "3,2,6\n")
}
