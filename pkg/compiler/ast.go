package compiler

import (
	"fmt"
	"strings"
)

// NodeID identifies a node within one parsed Program. The parser hands out
// IDs in creation order starting at 1; 0 means "no node".
type NodeID int

// NodeKind tags every node with its syntactic category.
type NodeKind int

const (
	KindProgram NodeKind = iota
	KindFuncDef
	KindDeclaration
	KindCompound
	KindIf
	KindWhile
	KindDoWhile
	KindFor
	KindSwitch
	KindCase
	KindDefault
	KindReturn
	KindBreak
	KindContinue
	KindExprStmt
	KindBinary
	KindUnary
	KindAssign
	KindCall
	KindTernary
	KindMember
	KindSubscript
	KindIdent
	KindIntLit
	KindFloatLit
	KindStringLit
	KindTypeSpec
	KindDeclarator
	KindParam
	KindParamList
	KindInitList
	KindStructDef
	KindEnumDef
	KindCast
	KindSizeof
	KindComma
)

var kindNames = [...]string{
	KindProgram:     "Program",
	KindFuncDef:     "FunctionDef",
	KindDeclaration: "Declaration",
	KindCompound:    "Compound",
	KindIf:          "If",
	KindWhile:       "While",
	KindDoWhile:     "DoWhile",
	KindFor:         "For",
	KindSwitch:      "Switch",
	KindCase:        "Case",
	KindDefault:     "Default",
	KindReturn:      "Return",
	KindBreak:       "Break",
	KindContinue:    "Continue",
	KindExprStmt:    "ExprStmt",
	KindBinary:      "Binary",
	KindUnary:       "Unary",
	KindAssign:      "Assign",
	KindCall:        "Call",
	KindTernary:     "Ternary",
	KindMember:      "Member",
	KindSubscript:   "Subscript",
	KindIdent:       "Identifier",
	KindIntLit:      "IntLiteral",
	KindFloatLit:    "FloatLiteral",
	KindStringLit:   "StringLiteral",
	KindTypeSpec:    "TypeSpecifier",
	KindDeclarator:  "Declarator",
	KindParam:       "Parameter",
	KindParamList:   "ParamList",
	KindInitList:    "InitList",
	KindStructDef:   "StructDef",
	KindEnumDef:     "EnumDef",
	KindCast:        "Cast",
	KindSizeof:      "Sizeof",
	KindComma:       "Comma",
}

func (k NodeKind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("NodeKind(%d)", int(k))
}

// Node is implemented by every syntax tree node.
type Node interface {
	ID() NodeID
	Line() int
	Kind() NodeKind
	String() string
}

// node carries the identity every concrete node embeds.
type node struct {
	id   NodeID
	line int
}

func (n *node) ID() NodeID { return n.id }
func (n *node) Line() int  { return n.line }

//  Expression nodes

// Expr is implemented by every node that produces a value.
// genExpr always leaves the result in %rax.
type Expr interface {
	Node
	exprNode()
}

// Ident is a use of a named variable, parameter or enum constant.
//
//	return x;
//	       ^  Ident{Name: "x"}
type Ident struct {
	node
	Name string
}

func (*Ident) exprNode()        {}
func (*Ident) Kind() NodeKind   { return KindIdent }
func (i *Ident) String() string { return i.Name }

// IntLit is an integer or character constant.
//
//	int x = 10;
//	        ^^  IntLit{Value: 10}
type IntLit struct {
	node
	Value int64
}

func (*IntLit) exprNode()        {}
func (*IntLit) Kind() NodeKind   { return KindIntLit }
func (l *IntLit) String() string { return fmt.Sprintf("%d", l.Value) }

// FloatLit is a floating constant such as 2.5 or 1e3.
type FloatLit struct {
	node
	Value float64
}

func (*FloatLit) exprNode()        {}
func (*FloatLit) Kind() NodeKind   { return KindFloatLit }
func (l *FloatLit) String() string { return fmt.Sprintf("%g", l.Value) }

// StringLit is a string constant "..."
type StringLit struct {
	node
	Value string
}

func (*StringLit) exprNode()        {}
func (*StringLit) Kind() NodeKind   { return KindStringLit }
func (s *StringLit) String() string { return fmt.Sprintf("%q", s.Value) }

// InitList represents { expr, expr, ... }; elements may be nested lists.
type InitList struct {
	node
	Elems []Expr
}

func (*InitList) exprNode()      {}
func (*InitList) Kind() NodeKind { return KindInitList }
func (l *InitList) String() string {
	parts := make([]string, len(l.Elems))
	for i, e := range l.Elems {
		parts[i] = e.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// BinaryExpr represents a binary operation: Left Op Right.
//
//	x + 1
//	^ ^ ^
//	| | |
//	| | Right
//	| Op
//	Left
type BinaryExpr struct {
	node
	Op    TokenType
	Left  Expr
	Right Expr
}

func (*BinaryExpr) exprNode()      {}
func (*BinaryExpr) Kind() NodeKind { return KindBinary }
func (b *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left, b.Op.Symbol(), b.Right)
}

// LogicalExpr represents Left && Right or Left || Right.
// It is separate from BinaryExpr because the right operand is only evaluated
// when the left one does not decide the result.
type LogicalExpr struct {
	node
	Op    TokenType
	Left  Expr
	Right Expr
}

func (*LogicalExpr) exprNode()      {}
func (*LogicalExpr) Kind() NodeKind { return KindBinary }
func (l *LogicalExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", l.Left, l.Op.Symbol(), l.Right)
}

// UnaryExpr represents a prefix operator: -x, !x, ~x, &x, *p, ++x, --x.
type UnaryExpr struct {
	node
	Op TokenType
	X  Expr
}

func (*UnaryExpr) exprNode()        {}
func (*UnaryExpr) Kind() NodeKind   { return KindUnary }
func (u *UnaryExpr) String() string { return fmt.Sprintf("(%s%s)", u.Op.Symbol(), u.X) }

// PostfixExpr represents x++ or x--.
type PostfixExpr struct {
	node
	Op TokenType
	X  Expr
}

func (*PostfixExpr) exprNode()        {}
func (*PostfixExpr) Kind() NodeKind   { return KindUnary }
func (p *PostfixExpr) String() string { return fmt.Sprintf("(%s%s)", p.X, p.Op.Symbol()) }

// AssignExpr represents Left = Right or a compound form such as Left += Right.
//
//	a[i] += 2
//	^^^^ ^^ ^
//	|    |  Right
//	|    Op (PLUS_ASSIGN)
//	Left (must be an lvalue)
type AssignExpr struct {
	node
	Op    TokenType
	Left  Expr
	Right Expr
}

func (*AssignExpr) exprNode()      {}
func (*AssignExpr) Kind() NodeKind { return KindAssign }
func (a *AssignExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", a.Left, a.Op.Symbol(), a.Right)
}

// CallExpr represents name(args)
type CallExpr struct {
	node
	Name string
	Args []Expr
}

func (*CallExpr) exprNode()      {}
func (*CallExpr) Kind() NodeKind { return KindCall }
func (c *CallExpr) String() string {
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", c.Name, strings.Join(parts, ", "))
}

// TernaryExpr represents Cond ? Then : Else.
type TernaryExpr struct {
	node
	Cond Expr
	Then Expr
	Else Expr
}

func (*TernaryExpr) exprNode()      {}
func (*TernaryExpr) Kind() NodeKind { return KindTernary }
func (t *TernaryExpr) String() string {
	return fmt.Sprintf("(%s ? %s : %s)", t.Cond, t.Then, t.Else)
}

// MemberExpr represents X.Member, or X->Member when Arrow is set.
type MemberExpr struct {
	node
	X      Expr
	Member string
	Arrow  bool
}

func (*MemberExpr) exprNode()      {}
func (*MemberExpr) Kind() NodeKind { return KindMember }
func (m *MemberExpr) String() string {
	if m.Arrow {
		return fmt.Sprintf("%s->%s", m.X, m.Member)
	}
	return fmt.Sprintf("%s.%s", m.X, m.Member)
}

// IndexExpr represents X[Index]. Multi-dimensional accesses nest:
//
//	m[i][j]  ->  IndexExpr{X: IndexExpr{X: m, Index: i}, Index: j}
type IndexExpr struct {
	node
	X     Expr
	Index Expr
}

func (*IndexExpr) exprNode()        {}
func (*IndexExpr) Kind() NodeKind   { return KindSubscript }
func (i *IndexExpr) String() string { return fmt.Sprintf("%s[%s]", i.X, i.Index) }

// CastExpr represents (Type) X.
type CastExpr struct {
	node
	Type *TypeName
	X    Expr
}

func (*CastExpr) exprNode()        {}
func (*CastExpr) Kind() NodeKind   { return KindCast }
func (c *CastExpr) String() string { return fmt.Sprintf("((%s) %s)", c.Type, c.X) }

// SizeofExpr represents sizeof(Type) or sizeof X; exactly one of Type and X
// is set.
type SizeofExpr struct {
	node
	Type *TypeName
	X    Expr
}

func (*SizeofExpr) exprNode()      {}
func (*SizeofExpr) Kind() NodeKind { return KindSizeof }
func (s *SizeofExpr) String() string {
	if s.Type != nil {
		return fmt.Sprintf("sizeof(%s)", s.Type)
	}
	return fmt.Sprintf("sizeof(%s)", s.X)
}

// CommaExpr represents Left, Right; the value is Right's.
type CommaExpr struct {
	node
	Left  Expr
	Right Expr
}

func (*CommaExpr) exprNode()        {}
func (*CommaExpr) Kind() NodeKind   { return KindComma }
func (c *CommaExpr) String() string { return fmt.Sprintf("(%s, %s)", c.Left, c.Right) }

//  Types and declarators

// TypeSpec is the specifier part of a declaration: base type, qualifiers and
// storage class.
//
//	static const unsigned long x;
//	^^^^^^ ^^^^^ ^^^^^^^^^^^^^
//	Static Const Base = TypeUnsigned
type TypeSpec struct {
	node
	Base     TypeKind
	Tag      string // struct or enum name
	Const    bool
	Volatile bool
	Static   bool
	Extern   bool
}

func (*TypeSpec) Kind() NodeKind { return KindTypeSpec }
func (s *TypeSpec) String() string {
	var parts []string
	if s.Static {
		parts = append(parts, "static")
	}
	if s.Extern {
		parts = append(parts, "extern")
	}
	if s.Const {
		parts = append(parts, "const")
	}
	if s.Volatile {
		parts = append(parts, "volatile")
	}
	switch s.Base {
	case TypeStruct:
		parts = append(parts, "struct "+s.Tag)
	default:
		parts = append(parts, s.Base.String())
	}
	return strings.Join(parts, " ")
}

// Declarator is one link of a declarator chain. The chain is read from the
// outside in: each PointerDeclarator adds a '*', each ArrayDeclarator a
// dimension, and the innermost link is the IdentDeclarator naming the entity.
//
//	int *m[3][4]
//	    PointerDeclarator{
//	      ArrayDeclarator{Size: 4,
//	        ArrayDeclarator{Size: 3,
//	          IdentDeclarator{Name: "m"}}}}
type Declarator interface {
	Node
	declaratorNode()
}

// IdentDeclarator names the declared entity. Name is empty in a type name
// such as the one in a cast.
type IdentDeclarator struct {
	node
	Name string
}

func (*IdentDeclarator) declaratorNode()  {}
func (*IdentDeclarator) Kind() NodeKind   { return KindDeclarator }
func (d *IdentDeclarator) String() string { return d.Name }

// PointerDeclarator adds one level of indirection.
type PointerDeclarator struct {
	node
	Inner Declarator
	Const bool
}

func (*PointerDeclarator) declaratorNode()  {}
func (*PointerDeclarator) Kind() NodeKind   { return KindDeclarator }
func (d *PointerDeclarator) String() string { return "*" + d.Inner.String() }

// ArrayDeclarator adds one dimension; Size is -1 for "[]".
type ArrayDeclarator struct {
	node
	Inner Declarator
	Size  int
}

func (*ArrayDeclarator) declaratorNode() {}
func (*ArrayDeclarator) Kind() NodeKind  { return KindDeclarator }
func (d *ArrayDeclarator) String() string {
	if d.Size < 0 {
		return d.Inner.String() + "[]"
	}
	return fmt.Sprintf("%s[%d]", d.Inner, d.Size)
}

// FuncDeclarator is name(params). Inner carries the name and any pointer
// levels of the return type.
type FuncDeclarator struct {
	node
	Inner  Declarator
	Params *ParamList
}

func (*FuncDeclarator) declaratorNode()  {}
func (*FuncDeclarator) Kind() NodeKind   { return KindDeclarator }
func (d *FuncDeclarator) String() string { return d.Inner.String() + d.Params.String() }

// DeclName returns the identifier at the bottom of a declarator chain.
func DeclName(d Declarator) string {
	for d != nil {
		switch n := d.(type) {
		case *IdentDeclarator:
			return n.Name
		case *PointerDeclarator:
			d = n.Inner
		case *ArrayDeclarator:
			d = n.Inner
		case *FuncDeclarator:
			d = n.Inner
		default:
			return ""
		}
	}
	return ""
}

// TypeName is a specifier plus an abstract declarator, as used by casts and
// sizeof.
type TypeName struct {
	Spec *TypeSpec
	Decl Declarator
}

func (t *TypeName) String() string {
	if d := t.Decl.String(); d != "" {
		return t.Spec.String() + " " + d
	}
	return t.Spec.String()
}

// Param is one entry of a parameter list.
type Param struct {
	node
	Spec *TypeSpec
	Decl Declarator
}

func (*Param) Kind() NodeKind   { return KindParam }
func (p *Param) String() string { return p.Spec.String() + " " + p.Decl.String() }

// ParamList is the parenthesised parameter list of a function declarator.
type ParamList struct {
	node
	Params   []*Param
	Variadic bool
}

func (*ParamList) Kind() NodeKind { return KindParamList }
func (l *ParamList) String() string {
	parts := make([]string, 0, len(l.Params)+1)
	for _, p := range l.Params {
		parts = append(parts, p.String())
	}
	if l.Variadic {
		parts = append(parts, "...")
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

//  Statement nodes

// Stmt is implemented by every node that can appear in a block.
type Stmt interface {
	Node
	stmtNode()
}

// InitDeclarator is one declared name with its optional initializer.
type InitDeclarator struct {
	node
	Decl Declarator
	Init Expr
}

func (*InitDeclarator) Kind() NodeKind { return KindDeclarator }
func (d *InitDeclarator) String() string {
	if d.Init != nil {
		return fmt.Sprintf("%s = %s", d.Decl, d.Init)
	}
	return d.Decl.String()
}

// Declaration declares one or more names sharing a specifier.
//
//	int a, *b = &a, c[2] = {1, 2};
type Declaration struct {
	node
	Spec *TypeSpec
	Vars []*InitDeclarator
}

func (*Declaration) stmtNode()      {}
func (*Declaration) Kind() NodeKind { return KindDeclaration }
func (d *Declaration) String() string {
	parts := make([]string, len(d.Vars))
	for i, v := range d.Vars {
		parts[i] = v.String()
	}
	return fmt.Sprintf("Decl(%s %s)", d.Spec, strings.Join(parts, ", "))
}

// CompoundStmt is a { ... } block.
type CompoundStmt struct {
	node
	Items []Stmt
}

func (*CompoundStmt) stmtNode()      {}
func (*CompoundStmt) Kind() NodeKind { return KindCompound }
func (b *CompoundStmt) String() string {
	return fmt.Sprintf("Block(%d stmts)", len(b.Items))
}

// ExprStmt is an expression evaluated for its side effects; X is nil for
// the empty statement ";".
type ExprStmt struct {
	node
	X Expr
}

func (*ExprStmt) stmtNode()      {}
func (*ExprStmt) Kind() NodeKind { return KindExprStmt }
func (s *ExprStmt) String() string {
	if s.X == nil {
		return ";"
	}
	return s.X.String() + ";"
}

// IfStmt represents if (Cond) Then else Else; Else may be nil.
type IfStmt struct {
	node
	Cond Expr
	Then Stmt
	Else Stmt
}

func (*IfStmt) stmtNode()        {}
func (*IfStmt) Kind() NodeKind   { return KindIf }
func (s *IfStmt) String() string { return fmt.Sprintf("If(%s)", s.Cond) }

// WhileStmt represents while (Cond) Body.
type WhileStmt struct {
	node
	Cond Expr
	Body Stmt
}

func (*WhileStmt) stmtNode()        {}
func (*WhileStmt) Kind() NodeKind   { return KindWhile }
func (s *WhileStmt) String() string { return fmt.Sprintf("While(%s)", s.Cond) }

// DoWhileStmt represents do Body while (Cond);
type DoWhileStmt struct {
	node
	Body Stmt
	Cond Expr
}

func (*DoWhileStmt) stmtNode()        {}
func (*DoWhileStmt) Kind() NodeKind   { return KindDoWhile }
func (s *DoWhileStmt) String() string { return fmt.Sprintf("DoWhile(%s)", s.Cond) }

// ForStmt represents for (Init; Cond; Post) Body. Init is a Declaration or an
// ExprStmt; any of Init, Cond and Post may be nil.
type ForStmt struct {
	node
	Init Stmt
	Cond Expr
	Post Expr
	Body Stmt
}

func (*ForStmt) stmtNode()      {}
func (*ForStmt) Kind() NodeKind { return KindFor }
func (s *ForStmt) String() string {
	var init, cond, post string
	if s.Init != nil {
		init = s.Init.String()
	}
	if s.Cond != nil {
		cond = s.Cond.String()
	}
	if s.Post != nil {
		post = s.Post.String()
	}
	return fmt.Sprintf("For(%s %s; %s)", init, cond, post)
}

// CaseClause is one "case Value:" arm of a switch, or the "default:" arm
// when Value is nil.
type CaseClause struct {
	node
	Value Expr
	Body  []Stmt
}

func (*CaseClause) stmtNode() {}
func (c *CaseClause) Kind() NodeKind {
	if c.Value == nil {
		return KindDefault
	}
	return KindCase
}
func (c *CaseClause) String() string {
	if c.Value == nil {
		return "Default"
	}
	return fmt.Sprintf("Case(%s)", c.Value)
}

// SwitchStmt represents switch (Tag) { clauses }.
type SwitchStmt struct {
	node
	Tag     Expr
	Clauses []*CaseClause
}

func (*SwitchStmt) stmtNode()        {}
func (*SwitchStmt) Kind() NodeKind   { return KindSwitch }
func (s *SwitchStmt) String() string { return fmt.Sprintf("Switch(%s)", s.Tag) }

// ReturnStmt represents return Value; Value is nil for a bare return.
type ReturnStmt struct {
	node
	Value Expr
}

func (*ReturnStmt) stmtNode()      {}
func (*ReturnStmt) Kind() NodeKind { return KindReturn }
func (r *ReturnStmt) String() string {
	if r.Value == nil {
		return "Return"
	}
	return fmt.Sprintf("Return(%s)", r.Value)
}

// BreakStmt represents break;
type BreakStmt struct{ node }

func (*BreakStmt) stmtNode()      {}
func (*BreakStmt) Kind() NodeKind { return KindBreak }
func (*BreakStmt) String() string { return "Break" }

// ContinueStmt represents continue;
type ContinueStmt struct{ node }

func (*ContinueStmt) stmtNode()      {}
func (*ContinueStmt) Kind() NodeKind { return KindContinue }
func (*ContinueStmt) String() string { return "Continue" }

//  Top-level nodes

// StructDef is struct Name { fields };
type StructDef struct {
	node
	Name   string
	Fields []*Declaration
}

func (*StructDef) stmtNode()        {}
func (*StructDef) Kind() NodeKind   { return KindStructDef }
func (s *StructDef) String() string { return fmt.Sprintf("Struct(%s, %d fields)", s.Name, len(s.Fields)) }

// Enumerator is one name of an enum; Value is nil when it continues the
// previous value plus one.
type Enumerator struct {
	node
	Name  string
	Value Expr
}

func (*Enumerator) Kind() NodeKind { return KindDeclarator }
func (e *Enumerator) String() string {
	if e.Value != nil {
		return fmt.Sprintf("%s = %s", e.Name, e.Value)
	}
	return e.Name
}

// EnumDef is enum Name { A, B = 2, C };
type EnumDef struct {
	node
	Name    string
	Members []*Enumerator
}

func (*EnumDef) stmtNode()        {}
func (*EnumDef) Kind() NodeKind   { return KindEnumDef }
func (e *EnumDef) String() string { return fmt.Sprintf("Enum(%s, %d members)", e.Name, len(e.Members)) }

// FuncDef is a function definition, or a prototype when Body is nil.
//
//	int add(int a, int b) { return a + b; }
//	^^^ ^^^^^^^^^^^^^^^^^ ^^^^^^^^^^^^^^^^^
//	Spec Decl             Body
type FuncDef struct {
	node
	Spec *TypeSpec
	Decl *FuncDeclarator
	Body *CompoundStmt
}

func (*FuncDef) Kind() NodeKind { return KindFuncDef }

// Name returns the function's identifier.
func (f *FuncDef) Name() string { return DeclName(f.Decl) }

func (f *FuncDef) String() string {
	if f.Body == nil {
		return fmt.Sprintf("FunctionDecl(%s %s)", f.Spec, f.Decl)
	}
	return fmt.Sprintf("FunctionDef(%s %s)", f.Spec, f.Decl)
}

// Program is the root of a translation unit. Items holds *FuncDef,
// *Declaration, *StructDef and *EnumDef nodes in source order.
type Program struct {
	node
	Items []Node
	// NodeCount is the number of IDs handed out while parsing.
	NodeCount int
}

func (*Program) Kind() NodeKind   { return KindProgram }
func (p *Program) String() string { return fmt.Sprintf("Program(%d items)", len(p.Items)) }

// Children returns the direct children of n in source order. Nil optional
// children are omitted.
func Children(n Node) []Node {
	var out []Node
	add := func(c Node) {
		if c == nil {
			return
		}
		out = append(out, c)
	}
	addExpr := func(e Expr) {
		if e != nil {
			out = append(out, e)
		}
	}
	addStmt := func(s Stmt) {
		if s != nil {
			out = append(out, s)
		}
	}
	addDecl := func(d Declarator) {
		if d != nil {
			out = append(out, d)
		}
	}

	switch n := n.(type) {
	case *Program:
		out = append(out, n.Items...)
	case *FuncDef:
		add(n.Spec)
		add(n.Decl)
		if n.Body != nil {
			add(n.Body)
		}
	case *FuncDeclarator:
		addDecl(n.Inner)
		add(n.Params)
	case *ParamList:
		for _, p := range n.Params {
			add(p)
		}
	case *Param:
		add(n.Spec)
		addDecl(n.Decl)
	case *PointerDeclarator:
		addDecl(n.Inner)
	case *ArrayDeclarator:
		addDecl(n.Inner)
	case *Declaration:
		add(n.Spec)
		for _, v := range n.Vars {
			add(v)
		}
	case *InitDeclarator:
		addDecl(n.Decl)
		addExpr(n.Init)
	case *StructDef:
		for _, f := range n.Fields {
			add(f)
		}
	case *EnumDef:
		for _, m := range n.Members {
			add(m)
		}
	case *Enumerator:
		addExpr(n.Value)
	case *CompoundStmt:
		for _, s := range n.Items {
			add(s)
		}
	case *ExprStmt:
		addExpr(n.X)
	case *IfStmt:
		addExpr(n.Cond)
		addStmt(n.Then)
		addStmt(n.Else)
	case *WhileStmt:
		addExpr(n.Cond)
		addStmt(n.Body)
	case *DoWhileStmt:
		addStmt(n.Body)
		addExpr(n.Cond)
	case *ForStmt:
		addStmt(n.Init)
		addExpr(n.Cond)
		addExpr(n.Post)
		addStmt(n.Body)
	case *SwitchStmt:
		addExpr(n.Tag)
		for _, c := range n.Clauses {
			add(c)
		}
	case *CaseClause:
		addExpr(n.Value)
		for _, s := range n.Body {
			add(s)
		}
	case *ReturnStmt:
		addExpr(n.Value)
	case *BinaryExpr:
		addExpr(n.Left)
		addExpr(n.Right)
	case *LogicalExpr:
		addExpr(n.Left)
		addExpr(n.Right)
	case *UnaryExpr:
		addExpr(n.X)
	case *PostfixExpr:
		addExpr(n.X)
	case *AssignExpr:
		addExpr(n.Left)
		addExpr(n.Right)
	case *CallExpr:
		for _, a := range n.Args {
			add(a)
		}
	case *TernaryExpr:
		addExpr(n.Cond)
		addExpr(n.Then)
		addExpr(n.Else)
	case *MemberExpr:
		addExpr(n.X)
	case *IndexExpr:
		addExpr(n.X)
		addExpr(n.Index)
	case *CastExpr:
		add(n.Type.Spec)
		addExpr(n.X)
	case *SizeofExpr:
		if n.Type != nil {
			add(n.Type.Spec)
		}
		addExpr(n.X)
	case *CommaExpr:
		addExpr(n.Left)
		addExpr(n.Right)
	case *InitList:
		for _, e := range n.Elems {
			add(e)
		}
	}
	return out
}

// Walk visits n and its descendants depth-first, pre-order. Returning false
// from fn skips the node's children.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range Children(n) {
		Walk(c, fn)
	}
}
