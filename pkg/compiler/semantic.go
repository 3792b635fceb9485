package compiler

// Analyzer performs the semantic pass: it resolves every name against a
// scoped SymbolTable, computes the static type of every expression and
// records both in an Annotations table keyed by NodeID.
//
// The walk never stops at the first problem. Errors and warnings are counted
// by the Reporter and the caller decides afterwards whether to generate code.
type Analyzer struct {
	syms *SymbolTable
	ann  *Annotations
	diag *Reporter

	loopDepth   int // enclosing while/do/for bodies
	switchDepth int // enclosing switch bodies
	fn          *Symbol
}

func NewAnalyzer(diag *Reporter) *Analyzer {
	if diag == nil {
		diag = NewReporter(nil)
	}
	return &Analyzer{
		syms: NewSymbolTable(),
		ann:  NewAnnotations(),
		diag: diag,
	}
}

// Analyze checks prog with a fresh Analyzer whose diagnostics are collected
// but not printed.
func Analyze(prog *Program) (*Annotations, *Reporter) {
	r := NewReporter(nil)
	ann := NewAnalyzer(r).Analyze(prog)
	return ann, r
}

// Symbols exposes the table for debug dumps.
func (a *Analyzer) Symbols() *SymbolTable { return a.syms }

func (a *Analyzer) ErrorCount() int   { return a.diag.ErrorCount() }
func (a *Analyzer) WarningCount() int { return a.diag.WarningCount() }

// Analyze walks every top-level item of prog in source order.
func (a *Analyzer) Analyze(prog *Program) *Annotations {
	for _, item := range prog.Items {
		switch n := item.(type) {
		case *FuncDef:
			a.analyzeFunction(n)
		case *Declaration:
			a.analyzeDeclaration(n)
		case *StructDef:
			a.analyzeStructDef(n)
		case *EnumDef:
			a.analyzeEnumDef(n)
		default:
			a.diag.Errorf(item.Line(), "Unexpected top-level %s", item.Kind())
		}
	}
	return a.ann
}

func (a *Analyzer) unknown() *Type { return MakeType(TypeUnknown) }

//  Types from declarations

// specType turns a specifier into its base type. Struct types pick up their
// member layout when the struct has been defined already.
func (a *Analyzer) specType(spec *TypeSpec) *Type {
	t := MakeType(spec.Base)
	t.Const = spec.Const
	t.Volatile = spec.Volatile
	if spec.Base == TypeStruct {
		t.StructName = spec.Tag
		if def, ok := a.syms.GetStruct(spec.Tag); ok {
			t.Members = def.Members
		}
	}
	return t
}

// declType applies a declarator chain to base. Pointer levels are applied
// first, then array dimensions from the innermost out, so
// int *m[3][4] becomes int*[3][4].
func (a *Analyzer) declType(base *Type, d Declarator) *Type {
	pointers := 0
	var dims []int // outermost link first, i.e. innermost dimension first
	for d != nil {
		switch n := d.(type) {
		case *PointerDeclarator:
			pointers++
			d = n.Inner
		case *ArrayDeclarator:
			dims = append(dims, n.Size)
			d = n.Inner
		case *FuncDeclarator:
			d = n.Inner
		default:
			d = nil
		}
	}

	t := base.clone()
	t.Pointer += pointers
	for _, size := range dims {
		t = MakeArray(t, size)
	}
	return t
}

// typeNameType resolves the type of a cast or sizeof operand.
func (a *Analyzer) typeNameType(tn *TypeName) *Type {
	return a.declType(a.specType(tn.Spec), tn.Decl)
}

// structMembers returns the layout of a struct type, consulting the table
// when the type was built before the struct was defined.
func (a *Analyzer) structMembers(t *Type) []Member {
	if len(t.Members) > 0 {
		return t.Members
	}
	if def, ok := a.syms.GetStruct(t.StructName); ok {
		return def.Members
	}
	return nil
}

//  Top level

func (a *Analyzer) analyzeFunction(fn *FuncDef) {
	name := fn.Name()
	ret := a.declType(a.specType(fn.Spec), fn.Decl.Inner)
	plist := fn.Decl.Params

	ftype := MakeFunction(ret, nil, plist.Variadic)
	for _, p := range plist.Params {
		ftype.Params = append(ftype.Params, a.declType(a.specType(p.Spec), p.Decl).Decay())
	}

	sym, exists := a.syms.LookupGlobal(name)
	switch {
	case !exists:
		sym = &Symbol{Name: name, Type: ftype, Kind: SymFunction, Decl: fn.ID(), Defined: fn.Body != nil}
		a.syms.InsertGlobal(sym)
	case sym.Kind != SymFunction:
		a.diag.Errorf(fn.Line(), "Function '%s' already declared", name)
	case fn.Body != nil && sym.Defined:
		a.diag.Errorf(fn.Line(), "Function '%s' already declared", name)
	default:
		if len(sym.Type.Params) != len(ftype.Params) || sym.Type.Variadic != ftype.Variadic {
			a.diag.Errorf(fn.Line(), "Conflicting types for function '%s'", name)
		}
		if fn.Body != nil {
			sym.Type = ftype
			sym.Decl = fn.ID()
			sym.Defined = true
		}
	}
	a.ann.SetSymbol(fn.ID(), sym)
	a.ann.SetType(fn.ID(), ftype)

	if fn.Body == nil {
		return
	}

	a.syms.EnterFunction(name)
	a.fn = sym
	for i, p := range plist.Params {
		pname := DeclName(p.Decl)
		if pname == "" {
			a.diag.Errorf(p.Line(), "Parameter %d of '%s' has no name", i+1, name)
			continue
		}
		psym := &Symbol{Name: pname, Type: ftype.Params[i], Kind: SymParameter, Decl: p.ID()}
		if !a.syms.Insert(psym) {
			a.diag.Errorf(p.Line(), "Parameter '%s' already declared", pname)
			continue
		}
		a.ann.SetSymbol(p.ID(), psym)
		a.ann.SetType(p.ID(), psym.Type)
	}

	// The function scope doubles as the body's outermost block.
	a.analyzeItems(fn.Body.Items)

	frame := a.syms.ExitFunction()
	a.ann.SetFrame(fn.ID(), frame)
	a.fn = nil
}

// analyzeStructDef lays out the members on 8-byte boundaries and registers
// the struct.
func (a *Analyzer) analyzeStructDef(def *StructDef) {
	var members []Member
	offset := 0
	seen := make(map[string]bool)
	for _, field := range def.Fields {
		base := a.specType(field.Spec)
		for _, v := range field.Vars {
			name := DeclName(v.Decl)
			t := a.declType(base, v.Decl)
			if seen[name] {
				a.diag.Errorf(v.Line(), "Duplicate member '%s' in struct %s", name, def.Name)
				continue
			}
			if t.IsStruct() && t.StructName == def.Name {
				a.diag.Errorf(v.Line(), "Struct %s cannot contain itself", def.Name)
				continue
			}
			seen[name] = true
			members = append(members, Member{Name: name, Type: t, Offset: offset})
			offset += t.StorageSize()
		}
	}

	layout := &StructLayout{Name: def.Name, Members: members, Size: structSize(members)}
	if !a.syms.DefineStruct(layout) {
		a.diag.Errorf(def.Line(), "Struct '%s' already defined", def.Name)
	}
}

// analyzeEnumDef inserts each enumerator as an integer constant in the
// current scope.
func (a *Analyzer) analyzeEnumDef(def *EnumDef) {
	var next int64
	for _, m := range def.Members {
		if m.Value != nil {
			a.analyzeExpr(m.Value)
			if v, ok := a.constValue(m.Value); ok {
				next = v
			} else {
				a.diag.Errorf(m.Line(), "Enumerator value for '%s' is not an integer constant", m.Name)
			}
		}
		sym := &Symbol{Name: m.Name, Type: MakeType(TypeInt), Kind: SymEnumConst, Decl: m.ID(), Value: next}
		if !a.syms.Insert(sym) {
			a.diag.Errorf(m.Line(), "Enumerator '%s' already declared", m.Name)
		} else {
			a.ann.SetSymbol(m.ID(), sym)
		}
		next++
	}
}

//  Declarations

// inferArraySize fills in an unspecified outer extent from the initializer:
// int a[] = {1, 2, 3} and char s[] = "hi".
func inferArraySize(t *Type, init Expr) {
	if !t.IsArray() || t.Dims[0] >= 0 || init == nil {
		return
	}
	switch n := init.(type) {
	case *InitList:
		t.Dims[0] = len(n.Elems)
	case *StringLit:
		t.Dims[0] = len(n.Value) + 1
	}
}

func (a *Analyzer) analyzeDeclaration(d *Declaration) {
	base := a.specType(d.Spec)
	global := !a.syms.InFunction()

	for _, v := range d.Vars {
		name := DeclName(v.Decl)
		t := a.declType(base, v.Decl)
		inferArraySize(t, v.Init)

		if t.Base == TypeVoid && !t.IsPointerLike() {
			a.diag.Errorf(v.Line(), "Variable '%s' declared void", name)
			t = a.unknown()
		}
		if t.IsArray() && t.Dims[0] < 0 && !d.Spec.Extern {
			a.diag.Errorf(v.Line(), "Array size missing in '%s'", name)
		}

		sym := &Symbol{
			Name:   name,
			Type:   t,
			Kind:   SymVariable,
			Decl:   v.ID(),
			Static: d.Spec.Static,
			Extern: d.Spec.Extern,
		}

		if global {
			sym = a.declareGlobal(sym, v)
		} else if !a.syms.Insert(sym) {
			a.diag.Errorf(v.Line(), "Variable '%s' already declared", name)
			sym = nil
		}
		if sym != nil {
			a.ann.SetSymbol(v.ID(), sym)
		}
		a.ann.SetType(v.ID(), t)

		if v.Init == nil {
			continue
		}
		if d.Spec.Extern {
			a.diag.Errorf(v.Line(), "'%s' has both 'extern' and initializer", name)
		}
		a.checkInit(t, v.Init, v.Line())
		if global || d.Spec.Static {
			a.checkConstInit(v.Init)
		}
	}
}

// declareGlobal inserts a file-scope variable. An extern declaration and one
// definition of the same name merge into a single symbol.
func (a *Analyzer) declareGlobal(sym *Symbol, v *InitDeclarator) *Symbol {
	old, exists := a.syms.LookupGlobal(sym.Name)
	if !exists {
		a.syms.InsertGlobal(sym)
		return sym
	}
	if old.Kind == SymVariable && (old.Extern || sym.Extern) && Compatible(old.Type, sym.Type) {
		if !sym.Extern {
			old.Extern = false
			old.Type = sym.Type
			old.Size = sym.Type.StorageSize()
			old.Decl = sym.Decl
			old.Static = sym.Static
		}
		return old
	}
	a.diag.Errorf(v.Line(), "Variable '%s' already declared", sym.Name)
	return nil
}

// checkInit checks an initializer against the declared type. Count and type
// mismatches are warnings.
func (a *Analyzer) checkInit(t *Type, init Expr, line int) {
	switch n := init.(type) {
	case *InitList:
		a.ann.SetType(n.ID(), t)
		switch {
		case t.IsArray():
			if t.Dims[0] > 0 && len(n.Elems) > t.Dims[0] {
				a.diag.Warnf(line, "Too many initializers for array of size %d", t.Dims[0])
			}
			elem := t.Elem()
			for _, e := range n.Elems {
				a.checkInit(elem, e, line)
			}
		case t.IsStruct():
			members := a.structMembers(t)
			if members != nil && len(n.Elems) > len(members) {
				a.diag.Warnf(line, "Too many initializers for struct %s", t.StructName)
			}
			for i, e := range n.Elems {
				if i < len(members) {
					a.checkInit(members[i].Type, e, line)
				} else {
					a.analyzeExpr(e)
				}
			}
		default:
			if len(n.Elems) > 1 {
				a.diag.Warnf(line, "Excess elements in scalar initializer")
			}
			for _, e := range n.Elems {
				a.checkInit(t, e, line)
			}
		}

	case *StringLit:
		if t.IsArray() && t.Base == TypeChar && len(t.Dims) == 1 && t.Pointer == 0 {
			a.ann.SetType(n.ID(), t)
			if t.Dims[0] > 0 && len(n.Value) > t.Dims[0] {
				a.diag.Warnf(line, "Too many initializers for array of size %d", t.Dims[0])
			}
			return
		}
		st := a.analyzeExpr(n)
		if !a.assignable(t, n, st) {
			a.diag.Warnf(line, "Type mismatch in initialization")
		}

	default:
		st := a.analyzeExpr(init)
		if t.IsArray() {
			a.diag.Errorf(line, "Array must be initialized with a brace-enclosed list")
			return
		}
		if !a.assignable(t, init, st) {
			a.diag.Warnf(line, "Type mismatch in initialization")
		}
	}
}

// checkConstInit requires static-storage initializers to be known at compile
// time. Folded values are recorded for the data section.
func (a *Analyzer) checkConstInit(init Expr) {
	switch n := init.(type) {
	case *InitList:
		for _, e := range n.Elems {
			a.checkConstInit(e)
		}
		return
	case *StringLit:
		return
	case *FloatLit:
		a.ann.SetConst(n.ID(), int64(n.Value))
		return
	}
	if v, ok := a.constValue(init); ok {
		a.ann.SetConst(init.ID(), v)
		return
	}
	a.diag.Errorf(init.Line(), "Initializer element is not constant")
}

//  Statements

func (a *Analyzer) analyzeItems(items []Stmt) {
	for _, s := range items {
		a.analyzeStmt(s)
	}
}

func (a *Analyzer) analyzeStmt(s Stmt) {
	switch n := s.(type) {
	case *CompoundStmt:
		a.syms.EnterScope()
		a.analyzeItems(n.Items)
		a.syms.ExitScope()

	case *Declaration:
		a.analyzeDeclaration(n)

	case *StructDef:
		a.analyzeStructDef(n)

	case *EnumDef:
		a.analyzeEnumDef(n)

	case *ExprStmt:
		if n.X != nil {
			a.analyzeExpr(n.X)
		}

	case *IfStmt:
		a.analyzeCond(n.Cond)
		a.analyzeStmt(n.Then)
		if n.Else != nil {
			a.analyzeStmt(n.Else)
		}

	case *WhileStmt:
		a.analyzeCond(n.Cond)
		a.loopBody(n.Body)

	case *DoWhileStmt:
		a.loopBody(n.Body)
		a.analyzeCond(n.Cond)

	case *ForStmt:
		_, scoped := n.Init.(*Declaration)
		if scoped {
			a.syms.EnterScope()
		}
		if n.Init != nil {
			a.analyzeStmt(n.Init)
		}
		if n.Cond != nil {
			a.analyzeCond(n.Cond)
		}
		if n.Post != nil {
			a.analyzeExpr(n.Post)
		}
		a.loopBody(n.Body)
		if scoped {
			a.syms.ExitScope()
		}

	case *SwitchStmt:
		a.analyzeSwitch(n)

	case *ReturnStmt:
		if n.Value != nil {
			a.analyzeExpr(n.Value)
		}

	case *BreakStmt:
		if a.loopDepth == 0 && a.switchDepth == 0 {
			a.diag.Errorf(n.Line(), "break statement outside loop")
		}

	case *ContinueStmt:
		if a.loopDepth == 0 {
			a.diag.Errorf(n.Line(), "continue statement outside loop")
		}

	default:
		a.diag.Errorf(s.Line(), "Unexpected %s statement", s.Kind())
	}
}

func (a *Analyzer) loopBody(body Stmt) {
	a.loopDepth++
	a.analyzeStmt(body)
	a.loopDepth--
}

// analyzeCond types a controlling expression; it must be a scalar.
func (a *Analyzer) analyzeCond(e Expr) {
	t := a.analyzeExpr(e)
	if t.IsStruct() {
		a.diag.Errorf(e.Line(), "Used struct type value where scalar is required")
	}
}

// analyzeSwitch checks the tag and the case labels. The clause bodies share
// one block scope, as in C.
func (a *Analyzer) analyzeSwitch(s *SwitchStmt) {
	t := a.analyzeExpr(s.Tag)
	if !t.IsUnknown() && !t.IsInteger() {
		a.diag.Errorf(s.Line(), "Switch quantity not an integer")
	}

	seen := make(map[int64]bool)
	a.switchDepth++
	a.syms.EnterScope()
	for _, c := range s.Clauses {
		if c.Value != nil {
			a.analyzeExpr(c.Value)
			v, ok := a.constValue(c.Value)
			switch {
			case !ok:
				a.diag.Errorf(c.Line(), "Case label does not reduce to an integer constant")
			case seen[v]:
				a.diag.Errorf(c.Line(), "Duplicate case value %d", v)
			default:
				seen[v] = true
				a.ann.SetConst(c.Value.ID(), v)
			}
		}
		a.analyzeItems(c.Body)
	}
	a.syms.ExitScope()
	a.switchDepth--
}
