package compiler

import (
	"strings"
	"testing"

	"github.com/nalgeon/be"
)

func analyzeSrc(t *testing.T, src string) (*Program, AnnotationView, *Reporter) {
	t.Helper()
	prog := parseSrc(t, src)
	ann, diag := Analyze(prog)
	return prog, ann.View(), diag
}

func messages(r *Reporter) []string {
	var out []string
	for _, d := range r.Diagnostics() {
		out = append(out, d.Msg)
	}
	return out
}

// findAll returns every node under root that matches pred, in source order.
func findAll[T Node](root Node, pred func(T) bool) []T {
	var out []T
	Walk(root, func(n Node) bool {
		if v, ok := n.(T); ok && pred(v) {
			out = append(out, v)
		}
		return true
	})
	return out
}

func identsNamed(root Node, name string) []*Ident {
	return findAll(root, func(id *Ident) bool { return id.Name == name })
}

func declsNamed(root Node, name string) []*InitDeclarator {
	return findAll(root, func(d *InitDeclarator) bool { return DeclName(d.Decl) == name })
}

func TestScopingResolvesToOwnBlock(t *testing.T) {
	prog, view, diag := analyzeSrc(t, `
int main() {
    int x = 1;
    { int y = 2; x = y; }
    { int y = 3; x = y; }
    { int x = 4; x = x; }
    return x;
}`)
	be.Equal(t, diag.ErrorCount(), 0)

	yDecls := declsNamed(prog, "y")
	yUses := identsNamed(prog, "y")
	be.Equal(t, len(yDecls), 2)
	be.Equal(t, len(yUses), 2)

	for i := range yUses {
		declSym, _ := view.Symbol(yDecls[i].ID())
		useSym, _ := view.Symbol(yUses[i].ID())
		be.Equal(t, useSym, declSym)
	}
	first, _ := view.Symbol(yDecls[0].ID())
	second, _ := view.Symbol(yDecls[1].ID())
	be.True(t, first != second)
	be.True(t, first.FrameAddr() != second.FrameAddr())

	xDecls := declsNamed(prog, "x")
	outer, _ := view.Symbol(xDecls[0].ID())
	inner, _ := view.Symbol(xDecls[1].ID())
	xUses := identsNamed(prog, "x")
	be.Equal(t, len(xUses), 5)
	want := []*Symbol{outer, outer, inner, inner, outer}
	for i, use := range xUses {
		got, _ := view.Symbol(use.ID())
		be.Equal(t, got, want[i])
	}
}

func TestFrameOffsetsDoNotAlias(t *testing.T) {
	prog, view, diag := analyzeSrc(t, `
int f(int a, char *s) {
    int b;
    char buf[10];
    { int c; { int d[2]; d[0] = c; } }
    for (int i = 0; i < 3; i++) { int e; e = i; }
    return a + b;
}`)
	be.Equal(t, diag.ErrorCount(), 0)

	frame, ok := view.Frame(prog.Items[0].ID())
	be.True(t, ok)
	be.Equal(t, len(frame.Symbols), 8)

	type span struct{ lo, hi int }
	var spans []span
	for _, sym := range frame.Symbols {
		s := span{sym.FrameAddr(), sym.FrameAddr() + sym.Size}
		for _, o := range spans {
			be.True(t, s.hi <= o.lo || o.hi <= s.lo)
		}
		be.True(t, s.hi <= 0)
		be.True(t, -s.lo <= frame.Size())
		spans = append(spans, s)
	}
	be.Equal(t, frame.Size()%16, 0)
}

func TestCompatibleIsSymmetric(t *testing.T) {
	intT := MakeType(TypeInt)
	types := []*Type{
		intT,
		MakeType(TypeChar),
		MakeType(TypeDouble),
		MakeType(TypeVoid),
		MakeType(TypeUnknown),
		MakePointer(intT),
		MakePointer(MakeType(TypeVoid)),
		MakePointer(MakePointer(intT)),
		MakeArray(intT, 3),
		MakeArray(MakeArray(intT, 4), 3),
		{Base: TypeStruct, StructName: "A"},
		{Base: TypeStruct, StructName: "B"},
		MakeFunction(intT, nil, false),
	}
	for _, a := range types {
		for _, b := range types {
			be.Equal(t, Compatible(a, b), Compatible(b, a))
		}
	}
}

func TestRedeclarationInSameScope(t *testing.T) {
	_, _, diag := analyzeSrc(t, `
int main() {
    int a;
    int a;
    { int a; }
    return 0;
}`)
	be.Equal(t, diag.ErrorCount(), 1)
	be.Equal(t, messages(diag), []string{"Variable 'a' already declared"})
}

func TestErrorsAccumulate(t *testing.T) {
	_, _, diag := analyzeSrc(t, `
int add(int a, int b) { return a + b; }
int one() { return missing; }
int two() { break; return 0; }
int three() { return add(1); }
int four() { int *p; int x; x = *x; return 0; }
int five() { 1 = 2; return 0; }
`)
	be.Equal(t, diag.ErrorCount(), 5)
	be.Equal(t, messages(diag), []string{
		"Undeclared variable: missing",
		"break statement outside loop",
		"Function 'add' expects 2 arguments, but 1 were provided",
		"Cannot dereference non-pointer type",
		"Invalid left side of assignment",
	})
}

func TestArraySubscriptPeeling(t *testing.T) {
	prog, view, diag := analyzeSrc(t, `
int m[3][4];
int main() { return m[1][2]; }
`)
	be.Equal(t, diag.ErrorCount(), 0)

	idx := findAll(prog, func(*IndexExpr) bool { return true })
	be.Equal(t, len(idx), 2)
	outer, inner := idx[0], idx[1] // m[1][2], then m[1]

	mSym, _ := view.Symbol(identsNamed(prog, "m")[0].ID())
	be.Equal(t, mSym.Type.String(), "int[3][4]")
	be.Equal(t, mSym.Type.Stride(), 4*8)

	rowT, _ := view.Type(inner.ID())
	be.Equal(t, rowT.String(), "int[4]")
	be.Equal(t, rowT.Stride(), 8)

	cellT, _ := view.Type(outer.ID())
	be.Equal(t, cellT.Kind(), TypeInt)
	be.True(t, !cellT.IsArray())
}

func TestBareBreakIsOneError(t *testing.T) {
	_, _, diag := analyzeSrc(t, "int main() { break; return 0; }")
	be.Equal(t, diag.ErrorCount(), 1)
	be.Equal(t, diag.Diagnostics()[0].String(), "Semantic Error (line 1): break statement outside loop")
}

func TestBreakAndContinueTargets(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		errors []string
	}{
		{"break in loop", "while (1) break;", nil},
		{"continue in loop", "for (;;) continue;", nil},
		{"break in switch", "switch (1) { case 1: break; }", nil},
		{"continue in switch only", "switch (1) { case 1: continue; }", []string{"continue statement outside loop"}},
		{"continue in switch in loop", "while (1) { switch (1) { default: continue; } }", nil},
		{"bare continue", "continue;", []string{"continue statement outside loop"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, diag := analyzeSrc(t, "int main() { "+tc.body+" return 0; }")
			be.Equal(t, messages(diag), tc.errors)
		})
	}
}

func TestUndeclaredIdentifierIsUnknown(t *testing.T) {
	prog, view, diag := analyzeSrc(t, "int main() { return zz + 1; }")
	be.Equal(t, diag.ErrorCount(), 1)
	be.Equal(t, diag.WarningCount(), 0)

	zz := identsNamed(prog, "zz")[0]
	typ, ok := view.Type(zz.ID())
	be.True(t, ok)
	be.True(t, typ.IsUnknown())
	_, resolved := view.Symbol(zz.ID())
	be.True(t, !resolved)

	// The enclosing expression is unknown as well, without a second report.
	sum := findAll(prog, func(*BinaryExpr) bool { return true })[0]
	st, _ := view.Type(sum.ID())
	be.True(t, st.IsUnknown())
}

func TestExpressionTypes(t *testing.T) {
	prog, view, diag := analyzeSrc(t, `
int main() {
    int a[3];
    int *p;
    int *q;
    char c;
    double d;
    long n;
    p + 1;
    p - q;
    c + 1;
    d * 2;
    &a;
    *p;
    a[0];
    n = sizeof(char);
    "s";
    c < 1;
    return 0;
}`)
	be.Equal(t, diag.ErrorCount(), 0)

	stmts := findAll(prog, func(*ExprStmt) bool { return true })
	want := []string{"int*", "long", "int", "double", "int*", "int", "int", "long", "char*", "int"}
	be.Equal(t, len(stmts), len(want))
	for i, s := range stmts {
		typ, _ := view.Type(s.X.ID())
		be.Equal(t, typ.String(), want[i])
	}
}

func TestLogicalAcceptsAnyOperands(t *testing.T) {
	prog, view, diag := analyzeSrc(t, `
struct P { int x; };
int main() {
    struct P s;
    double d;
    int *p;
    s && d;
    p || s;
    return 0;
}`)
	be.Equal(t, diag.ErrorCount(), 0)
	be.Equal(t, diag.WarningCount(), 0)

	logical := findAll(prog, func(*LogicalExpr) bool { return true })
	be.Equal(t, len(logical), 2)
	for _, l := range logical {
		typ, _ := view.Type(l.ID())
		be.Equal(t, typ.String(), "int")
	}
}

func TestSizeofFolds(t *testing.T) {
	prog, view, diag := analyzeSrc(t, `
struct P { char tag; int x; int y; };
int m[3][4];
int main() {
    struct P s;
    long a = sizeof(int);
    long b = sizeof m;
    long c = sizeof(char *);
    long d = sizeof s;
    long e = sizeof(int[5]);
    return 0;
}`)
	be.Equal(t, diag.ErrorCount(), 0)

	sizes := findAll(prog, func(*SizeofExpr) bool { return true })
	want := []int64{8, 96, 8, 24, 40}
	be.Equal(t, len(sizes), len(want))
	for i, s := range sizes {
		v, ok := view.Const(s.ID())
		be.True(t, ok)
		be.Equal(t, v, want[i])
	}
}

func TestStructMembers(t *testing.T) {
	prog, view, diag := analyzeSrc(t, `
struct Node { char tag; int val; struct Node *next; };
int main() {
    struct Node n;
    struct Node *p = &n;
    n.val = 3;
    p->next = p;
    return p->next->val;
}`)
	be.Equal(t, diag.ErrorCount(), 0)
	be.Equal(t, diag.WarningCount(), 0)

	members := findAll(prog, func(*MemberExpr) bool { return true })
	offsets := map[string]int64{}
	for _, m := range members {
		off, ok := view.Const(m.ID())
		be.True(t, ok)
		offsets[m.Member] = off
	}
	be.Equal(t, offsets["val"], int64(8))
	be.Equal(t, offsets["next"], int64(16))

	chain := members[2]
	be.Equal(t, chain.String(), "p->next->val")
	typ, _ := view.Type(chain.ID())
	be.Equal(t, typ.Kind(), TypeInt)
}

func TestStructMemberErrors(t *testing.T) {
	_, _, diag := analyzeSrc(t, `
struct P { int x; int x; };
int main() {
    struct P s;
    int i;
    s.z = 1;
    i.x = 1;
    i->x = 1;
    return 0;
}`)
	be.Equal(t, messages(diag), []string{
		"Duplicate member 'x' in struct P",
		"Struct has no member named 'z'",
		"Member access requires struct type",
		"Cannot use '->' on non-pointer type",
	})
}

func TestEnumConstants(t *testing.T) {
	prog, view, diag := analyzeSrc(t, `
enum Color { RED, GREEN = 5, BLUE };
int main() {
    switch (BLUE) {
    case RED: return 1;
    case GREEN + 1: return 2;
    }
    return BLUE;
}`)
	be.Equal(t, diag.ErrorCount(), 0)

	blue := identsNamed(prog, "BLUE")
	sym, _ := view.Symbol(blue[0].ID())
	be.Equal(t, sym.Kind, SymEnumConst)
	be.Equal(t, sym.Value, int64(6))

	cases := findAll(prog, func(c *CaseClause) bool { return c.Value != nil })
	v, ok := view.Const(cases[1].Value.ID())
	be.True(t, ok)
	be.Equal(t, v, int64(6))
}

func TestSwitchDiagnostics(t *testing.T) {
	_, _, diag := analyzeSrc(t, `
int main() {
    int x;
    double d;
    switch (x) { case 1: case 1: break; case x: break; }
    switch (d) { default: break; }
    return 0;
}`)
	be.Equal(t, messages(diag), []string{
		"Duplicate case value 1",
		"Case label does not reduce to an integer constant",
		"Switch quantity not an integer",
	})
}

func TestWarnings(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"argument type", "int f(int *p); int main() { int x; return f(x); }", "Argument 1 type mismatch: expected int*, got int"},
		{"too many initializers", "int main() { int a[2] = {1, 2, 3}; return 0; }", "Too many initializers for array of size 2"},
		{"init mismatch", "int main() { int *p = 5; return 0; }", "Type mismatch in initialization"},
		{"assign mismatch", "int main() { int *p; char c; p = c; return 0; }", "Type mismatch in assignment"},
		{"pointer compare", "int main() { int *p; int x; return p == x; }", "Comparing incompatible types"},
		{"string too long", `int main() { char s[2] = "abc"; return 0; }`, "Too many initializers for array of size 2"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, diag := analyzeSrc(t, tc.src)
			be.Equal(t, diag.ErrorCount(), 0)
			be.Equal(t, messages(diag), []string{tc.want})
			be.Equal(t, diag.Diagnostics()[0].Severity, SeverityWarning)
		})
	}
}

func TestSemanticErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"function redefinition", "int f() { return 0; } int f() { return 1; }", "Function 'f' already declared"},
		{"conflicting prototype", "int f(int a); int f() { return 1; }", "Conflicting types for function 'f'"},
		{"duplicate parameter", "int f(int a, int a) { return a; }", "Parameter 'a' already declared"},
		{"undeclared function", "int main() { return nope(); }", "Undeclared function: nope"},
		{"void variable", "int main() { void v; return 0; }", "Variable 'v' declared void"},
		{"non-constant global", "int g = 1; int h = g;", "Initializer element is not constant"},
		{"const assignment", "int main() { const int k = 1; k = 2; return k; }", "Assignment of read-only variable 'k'"},
		{"bitwise on double", "int main() { double d; return d & 1; }", "Bitwise operator & requires integer operands"},
		{"float subscript", "int main() { int a[2]; double d; return a[d]; }", "Array subscript must be of integer type"},
		{"subscript scalar", "int main() { int x; return x[0]; }", "Cannot subscript non-array type"},
		{"cast to struct", "struct P { int x; }; int main() { struct P s; int i; s = (struct P) i; return 0; }", "Conversion to non-scalar type struct P requested"},
		{"struct condition", "struct P { int x; }; int main() { struct P s; if (s) return 1; return 0; }", "Used struct type value where scalar is required"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, diag := analyzeSrc(t, tc.src)
			be.True(t, diag.ErrorCount() >= 1)
			be.True(t, strings.Contains(strings.Join(messages(diag), "\n"), tc.want))
		})
	}
}

func TestExternMergesWithDefinition(t *testing.T) {
	prog, view, diag := analyzeSrc(t, `
extern int counter;
int counter = 3;
int main() { return counter; }
`)
	be.Equal(t, diag.ErrorCount(), 0)

	use := identsNamed(prog, "counter")[0]
	sym, _ := view.Symbol(use.ID())
	be.True(t, !sym.Extern)
	be.Equal(t, sym.Label, "counter")
}

func TestPrototypeThenDefinition(t *testing.T) {
	prog, view, diag := analyzeSrc(t, `
int twice(int x);
int main() { return twice(4); }
int twice(int x) { return x * 2; }
`)
	be.Equal(t, diag.ErrorCount(), 0)

	call := findAll(prog, func(*CallExpr) bool { return true })[0]
	sym, ok := view.Symbol(call.ID())
	be.True(t, ok)
	be.True(t, sym.Defined)
	be.Equal(t, sym.Kind, SymFunction)
}

func TestReporterOutput(t *testing.T) {
	var sb strings.Builder
	r := NewReporter(&sb)
	r.File = "x.c"
	r.Errorf(3, "Undeclared variable: %s", "q")
	r.Warnf(4, "Type mismatch in assignment")

	be.Equal(t, r.ErrorCount(), 1)
	be.Equal(t, r.WarningCount(), 1)
	be.Equal(t, sb.String(),
		"x.c: Semantic Error (line 3): Undeclared variable: q\n"+
			"x.c: Warning (line 4): Type mismatch in assignment\n")
}
