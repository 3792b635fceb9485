package compiler

import (
	"strings"
	"testing"

	"github.com/nalgeon/be"
)

func parseSrc(t *testing.T, src string) *Program {
	t.Helper()
	tokens, err := Lex(src)
	if err != nil {
		t.Fatalf("Lex failed: %v", err)
	}
	prog, err := Parse(tokens, src)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return prog
}

// parseExpr parses src as the value of a return statement.
func parseExpr(t *testing.T, src string) Expr {
	t.Helper()
	prog := parseSrc(t, "int f() { return "+src+"; }")
	fn := prog.Items[0].(*FuncDef)
	return fn.Body.Items[0].(*ReturnStmt).Value
}

func TestParseExpressionPrecedence(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"1 + 2 * 3", "(1 + (2 * 3))"},
		{"(1 + 2) * 3", "((1 + 2) * 3)"},
		{"a - b - c", "((a - b) - c)"},
		{"a = b = c", "(a = (b = c))"},
		{"a << 1 + 2", "(a << (1 + 2))"},
		{"a & b == c", "(a & (b == c))"},
		{"a || b && c", "(a || (b && c))"},
		{"a ? b : c ? d : e", "(a ? b : (c ? d : e))"},
		{"-5", "-5"},
		{"-x", "(-x)"},
		{"!*p", "(!(*p))"},
		{"x++", "(x++)"},
		{"a[i][j]", "a[i][j]"},
		{"p->next->val", "p->next->val"},
		{"s.x + 1", "(s.x + 1)"},
		{"f(1, g(2))", "f(1, g(2))"},
		{"a += 2", "(a += 2)"},
		{"(char) x", "((char) x)"},
		{"(int *) p", "((int *) p)"},
		{"sizeof(int)", "sizeof(int)"},
		{"sizeof x", "sizeof(x)"},
		{`"ab" "cd"`, `"abcd"`},
		{"a, b", "(a, b)"},
	}

	for _, tc := range tests {
		t.Run(tc.src, func(t *testing.T) {
			be.Equal(t, parseExpr(t, tc.src).String(), tc.want)
		})
	}
}

func TestParseDeclarators(t *testing.T) {
	prog := parseSrc(t, "int *m[3][4], x = 5, a[] = {1, 2};")
	be.Equal(t, len(prog.Items), 1)
	decl := prog.Items[0].(*Declaration)
	be.Equal(t, len(decl.Vars), 3)

	ptr, ok := decl.Vars[0].Decl.(*PointerDeclarator)
	be.True(t, ok)
	outer := ptr.Inner.(*ArrayDeclarator)
	be.Equal(t, outer.Size, 4)
	inner := outer.Inner.(*ArrayDeclarator)
	be.Equal(t, inner.Size, 3)
	be.Equal(t, DeclName(ptr), "m")

	be.Equal(t, decl.Vars[1].Init.String(), "5")

	arr := decl.Vars[2].Decl.(*ArrayDeclarator)
	be.Equal(t, arr.Size, -1)
	list := decl.Vars[2].Init.(*InitList)
	be.Equal(t, len(list.Elems), 2)
}

func TestParseTypeSpecs(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"unsigned int u;", "unsigned"},
		{"unsigned char c;", "char"},
		{"long long l;", "long"},
		{"short int s;", "short"},
		{"static const double d;", "static const double"},
		{"extern int e;", "extern int"},
		{"struct Point p;", "struct Point"},
	}
	for _, tc := range tests {
		t.Run(tc.src, func(t *testing.T) {
			prog := parseSrc(t, tc.src)
			be.Equal(t, prog.Items[0].(*Declaration).Spec.String(), tc.want)
		})
	}
}

func TestParseFunctions(t *testing.T) {
	prog := parseSrc(t, `
int add(int a, int b);
int printf(char *fmt, ...);
void noop(void) {}
char *dup(char *s) { return s; }
`)
	be.Equal(t, len(prog.Items), 4)

	proto := prog.Items[0].(*FuncDef)
	be.Equal(t, proto.Name(), "add")
	be.True(t, proto.Body == nil)
	be.Equal(t, len(proto.Decl.Params.Params), 2)

	variadic := prog.Items[1].(*FuncDef)
	be.True(t, variadic.Decl.Params.Variadic)

	noop := prog.Items[2].(*FuncDef)
	be.Equal(t, len(noop.Decl.Params.Params), 0)
	be.True(t, noop.Body != nil)

	dup := prog.Items[3].(*FuncDef)
	be.Equal(t, dup.Name(), "dup")
	_, retPtr := dup.Decl.Inner.(*PointerDeclarator)
	be.True(t, retPtr)
}

func TestParseStructAndEnum(t *testing.T) {
	prog := parseSrc(t, `
struct Point { int x; int y; };
enum Color { RED, GREEN = 5, BLUE };
struct Node { int v; struct Node *next; } head;
`)
	be.Equal(t, len(prog.Items), 4)

	st := prog.Items[0].(*StructDef)
	be.Equal(t, st.Name, "Point")
	be.Equal(t, len(st.Fields), 2)

	en := prog.Items[1].(*EnumDef)
	be.Equal(t, en.Name, "Color")
	be.Equal(t, len(en.Members), 3)
	be.True(t, en.Members[0].Value == nil)
	be.Equal(t, en.Members[1].Value.String(), "5")

	// Inline definition comes before the declaration that uses it.
	_, isDef := prog.Items[2].(*StructDef)
	be.True(t, isDef)
	decl := prog.Items[3].(*Declaration)
	be.Equal(t, decl.Spec.Tag, "Node")
}

func TestParseStatements(t *testing.T) {
	prog := parseSrc(t, `
int main() {
    int i;
    for (int j = 0; j < 3; j++) { i = j; }
    for (;;) break;
    while (i) i--;
    do { i++; } while (i < 10);
    if (i) return 1; else return 2;
    switch (i) {
    case 1:
    case 2: i = 0; break;
    default: ;
    }
    ;
}`)
	body := prog.Items[0].(*FuncDef).Body
	kinds := make([]NodeKind, len(body.Items))
	for i, s := range body.Items {
		kinds[i] = s.Kind()
	}
	be.Equal(t, kinds, []NodeKind{
		KindDeclaration, KindFor, KindFor, KindWhile, KindDoWhile, KindIf, KindSwitch, KindExprStmt,
	})

	forDecl := body.Items[1].(*ForStmt)
	_, isDecl := forDecl.Init.(*Declaration)
	be.True(t, isDecl)

	forEver := body.Items[2].(*ForStmt)
	be.True(t, forEver.Init == nil && forEver.Cond == nil && forEver.Post == nil)

	sw := body.Items[6].(*SwitchStmt)
	be.Equal(t, len(sw.Clauses), 3)
	be.Equal(t, len(sw.Clauses[0].Body), 0)
	be.Equal(t, len(sw.Clauses[1].Body), 2)
	be.Equal(t, sw.Clauses[2].Kind(), KindDefault)
}

func TestParseNodeIDsUnique(t *testing.T) {
	prog := parseSrc(t, "int g; int main() { int a = 1; return a + g; }")
	seen := map[NodeID]bool{}
	Walk(prog, func(n Node) bool {
		if _, isCall := n.(*CallExpr); !isCall {
			be.True(t, !seen[n.ID()])
			seen[n.ID()] = true
		}
		be.True(t, int(n.ID()) <= prog.NodeCount)
		return true
	})
	be.True(t, len(seen) > 10)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"missing semicolon", "int main() { return 1 }", "expected SEMICOLON"},
		{"case outside switch", "int main() { case 1: ; }", "case label not within a switch"},
		{"two defaults", "int main() { switch (1) { default: ; default: ; } }", "multiple default labels"},
		{"call non-name", "int main() { (1)(2); }", "is not a function name"},
		{"bad array size", "int a[x];", "array size must be an integer constant"},
		{"unterminated block", "int main() { return 0;", "unterminated block"},
		{"stray token", "return 0;", "expected declaration or function definition"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tokens, err := Lex(tc.src)
			be.Err(t, err, nil)
			_, err = Parse(tokens, tc.src)
			be.True(t, err != nil)
			be.True(t, strings.Contains(err.Error(), tc.want))
			be.True(t, strings.Contains(err.Error(), "|> "))
		})
	}
}
