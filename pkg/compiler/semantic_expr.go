package compiler

// analyzeExpr computes the static type of e, records it under e's NodeID and
// returns it. Identifiers also record the Symbol they resolve to. An
// expression that cannot be typed yields the unknown type; operators on an
// unknown operand stay quiet so one mistake is reported once.
func (a *Analyzer) analyzeExpr(e Expr) *Type {
	t := a.exprType(e)
	if t == nil {
		t = a.unknown()
	}
	a.ann.SetType(e.ID(), t)
	return t
}

func (a *Analyzer) exprType(e Expr) *Type {
	switch n := e.(type) {
	case *IntLit:
		return MakeType(TypeInt)

	case *FloatLit:
		return MakeType(TypeDouble)

	case *StringLit:
		return MakePointer(MakeType(TypeChar))

	case *Ident:
		sym, ok := a.syms.Lookup(n.Name)
		if !ok {
			a.diag.Errorf(n.Line(), "Undeclared variable: %s", n.Name)
			return a.unknown()
		}
		a.ann.SetSymbol(n.ID(), sym)
		return sym.Type

	case *BinaryExpr:
		lt := a.analyzeExpr(n.Left)
		rt := a.analyzeExpr(n.Right)
		return a.binaryType(n.Op, lt, rt, n.Left, n.Right, n.Line())

	case *LogicalExpr:
		// Any operand types are accepted.
		a.analyzeExpr(n.Left)
		a.analyzeExpr(n.Right)
		return MakeType(TypeInt)

	case *UnaryExpr:
		return a.unaryType(n)

	case *PostfixExpr:
		return a.incDecType(n.X, n.Op, n.Line())

	case *AssignExpr:
		return a.assignType(n)

	case *CallExpr:
		return a.callType(n)

	case *IndexExpr:
		bt := a.analyzeExpr(n.X)
		it := a.analyzeExpr(n.Index)
		if !it.IsUnknown() && !it.IsInteger() {
			a.diag.Errorf(n.Line(), "Array subscript must be of integer type")
		}
		if bt.IsUnknown() {
			return a.unknown()
		}
		if !bt.IsPointerLike() {
			a.diag.Errorf(n.Line(), "Cannot subscript non-array type")
			return a.unknown()
		}
		return bt.Elem()

	case *MemberExpr:
		return a.memberType(n)

	case *TernaryExpr:
		ct := a.analyzeExpr(n.Cond)
		if !ct.IsUnknown() && !ct.IsNumeric() && !ct.IsPointerLike() {
			a.diag.Warnf(n.Line(), "Condition of '?:' should be a scalar, got %s", ct)
		}
		tt := a.analyzeExpr(n.Then)
		et := a.analyzeExpr(n.Else)
		if !tt.IsUnknown() && !et.IsUnknown() && !Compatible(tt.Decay(), et.Decay()) &&
			!(tt.IsPointerLike() && isNullConst(n.Else)) && !(et.IsPointerLike() && isNullConst(n.Then)) {
			a.diag.Warnf(n.Line(), "Branches of '?:' have different types: %s and %s", tt, et)
		}
		return tt

	case *CastExpr:
		xt := a.analyzeExpr(n.X)
		t := a.typeNameType(n.Type)
		if t.IsStruct() || t.IsArray() {
			a.diag.Errorf(n.Line(), "Conversion to non-scalar type %s requested", t)
			return a.unknown()
		}
		if xt.IsStruct() {
			a.diag.Errorf(n.Line(), "Cannot cast struct value to %s", t)
		}
		return t

	case *SizeofExpr:
		var t *Type
		if n.Type != nil {
			t = a.typeNameType(n.Type)
		} else {
			t = a.analyzeExpr(n.X)
		}
		if t.IsFunction() || (t.Base == TypeVoid && !t.IsPointerLike()) {
			a.diag.Errorf(n.Line(), "Invalid application of 'sizeof' to %s", t)
		}
		a.ann.SetConst(n.ID(), int64(t.Size()))
		return MakeType(TypeLong)

	case *CommaExpr:
		a.analyzeExpr(n.Left)
		return a.analyzeExpr(n.Right)

	case *InitList:
		a.diag.Errorf(n.Line(), "Braced initializer is not allowed here")
		for _, el := range n.Elems {
			a.analyzeExpr(el)
		}
		return a.unknown()
	}
	a.diag.Errorf(e.Line(), "Unexpected expression %s", e.Kind())
	return a.unknown()
}

// promote returns the result type of arithmetic on two numeric operands:
// any double makes the result double, otherwise any float makes it float.
func promote(lt, rt *Type) *Type {
	switch {
	case lt.Base == TypeDouble || rt.Base == TypeDouble:
		return MakeType(TypeDouble)
	case lt.Base == TypeFloat || rt.Base == TypeFloat:
		return MakeType(TypeFloat)
	case lt.Base == TypeLong || rt.Base == TypeLong:
		return MakeType(TypeLong)
	case lt.Base == TypeUnsigned || rt.Base == TypeUnsigned:
		return MakeType(TypeUnsigned)
	}
	return MakeType(TypeInt)
}

// binaryType applies the operand rules of op.
func (a *Analyzer) binaryType(op TokenType, lt, rt *Type, left, right Expr, line int) *Type {
	if lt.IsUnknown() || rt.IsUnknown() {
		return a.unknown()
	}
	lt, rt = lt.Decay(), rt.Decay()
	invalid := func() *Type {
		a.diag.Errorf(line, "Invalid operands to binary %s (%s and %s)", op.Symbol(), lt, rt)
		return a.unknown()
	}

	switch op {
	case PLUS:
		switch {
		case lt.IsNumeric() && rt.IsNumeric():
			return promote(lt, rt)
		case lt.IsPointer() && rt.IsInteger():
			return lt
		case lt.IsInteger() && rt.IsPointer():
			return rt
		}
		return invalid()

	case MINUS:
		switch {
		case lt.IsNumeric() && rt.IsNumeric():
			return promote(lt, rt)
		case lt.IsPointer() && rt.IsInteger():
			return lt
		case lt.IsPointer() && rt.IsPointer():
			if !Compatible(lt, rt) {
				a.diag.Warnf(line, "Subtracting incompatible pointer types %s and %s", lt, rt)
			}
			return MakeType(TypeLong)
		}
		return invalid()

	case STAR, SLASH:
		if lt.IsNumeric() && rt.IsNumeric() {
			return promote(lt, rt)
		}
		return invalid()

	case PERCENT:
		if lt.IsInteger() && rt.IsInteger() {
			return promote(lt, rt)
		}
		return invalid()

	case EQUALS, NOT_EQ, LESS, GREATER, LESS_EQ, GREATER_EQ:
		switch {
		case lt.IsNumeric() && rt.IsNumeric():
		case lt.IsPointer() && rt.IsPointer():
			if !Compatible(lt, rt) {
				a.diag.Warnf(line, "Comparing incompatible types")
			}
		case lt.IsPointer() && isNullConst(right), rt.IsPointer() && isNullConst(left):
		case lt.IsPointer() && rt.IsInteger(), lt.IsInteger() && rt.IsPointer():
			a.diag.Warnf(line, "Comparing incompatible types")
		default:
			return invalid()
		}
		return MakeType(TypeInt)

	case AND, PIPE, CARET, SHL_OP, SHR_OP:
		if lt.IsInteger() && rt.IsInteger() {
			return MakeType(TypeInt)
		}
		a.diag.Errorf(line, "Bitwise operator %s requires integer operands", op.Symbol())
		return a.unknown()
	}
	return invalid()
}

// isLvalue reports whether e designates storage.
func (a *Analyzer) isLvalue(e Expr) bool {
	switch n := e.(type) {
	case *Ident:
		sym, ok := a.ann.View().Symbol(n.ID())
		return !ok || sym.Kind == SymVariable || sym.Kind == SymParameter
	case *IndexExpr, *MemberExpr:
		return true
	case *UnaryExpr:
		return n.Op == STAR
	}
	return false
}

// isNullConst reports whether e is the literal 0, usable as a null pointer.
func isNullConst(e Expr) bool {
	if c, ok := e.(*CastExpr); ok {
		e = c.X
	}
	lit, ok := e.(*IntLit)
	return ok && lit.Value == 0
}

// assignable reports whether a value of type st (the type of src) may be
// stored into dst without a warning.
func (a *Analyzer) assignable(dst *Type, src Expr, st *Type) bool {
	if dst.IsUnknown() || st.IsUnknown() {
		return true
	}
	if dst.IsPointer() && isNullConst(src) {
		return true
	}
	if dst.IsStruct() || st.IsStruct() {
		return dst.IsStruct() && st.IsStruct() && dst.StructName == st.StructName
	}
	return Compatible(dst.Decay(), st.Decay())
}

func (a *Analyzer) unaryType(u *UnaryExpr) *Type {
	switch u.Op {
	case PLUS_PLUS, MINUS_MINUS:
		return a.incDecType(u.X, u.Op, u.Line())
	}

	xt := a.analyzeExpr(u.X)
	if xt.IsUnknown() {
		return a.unknown()
	}

	switch u.Op {
	case AND:
		if xt.IsFunction() {
			return MakePointer(xt)
		}
		if !a.isLvalue(u.X) {
			a.diag.Errorf(u.Line(), "Cannot take the address of an rvalue")
			return a.unknown()
		}
		// &arr points at the first element.
		if xt.IsArray() {
			return xt.Decay()
		}
		return MakePointer(xt)

	case STAR:
		pt := xt.Decay()
		if !pt.IsPointer() {
			a.diag.Errorf(u.Line(), "Cannot dereference non-pointer type")
			return a.unknown()
		}
		return pt.Elem()

	case NOT:
		return MakeType(TypeInt)

	case MINUS:
		if !xt.IsNumeric() {
			a.diag.Errorf(u.Line(), "Invalid operand to unary - (%s)", xt)
			return a.unknown()
		}
		return xt

	case TILDE:
		if !xt.IsInteger() {
			a.diag.Errorf(u.Line(), "Invalid operand to unary ~ (%s)", xt)
			return a.unknown()
		}
		return xt
	}
	a.diag.Errorf(u.Line(), "Unexpected unary operator %s", u.Op)
	return a.unknown()
}

// incDecType types ++x, --x, x++ and x--.
func (a *Analyzer) incDecType(x Expr, op TokenType, line int) *Type {
	xt := a.analyzeExpr(x)
	if xt.IsUnknown() {
		return xt
	}
	if !a.isLvalue(x) || xt.IsArray() {
		a.diag.Errorf(line, "Invalid operand to %s", op.Symbol())
		return xt
	}
	if !xt.IsInteger() && !xt.IsPointer() {
		a.diag.Warnf(line, "%s applied to non-integer type %s", op.Symbol(), xt)
	}
	return xt
}

func (a *Analyzer) assignType(n *AssignExpr) *Type {
	lt := a.analyzeExpr(n.Left)
	rt := a.analyzeExpr(n.Right)

	if !a.isLvalue(n.Left) || lt.IsArray() || lt.IsFunction() {
		a.diag.Errorf(n.Line(), "Invalid left side of assignment")
		return lt
	}
	if id, ok := n.Left.(*Ident); ok && lt.Const && !lt.IsPointer() {
		a.diag.Errorf(n.Line(), "Assignment of read-only variable '%s'", id.Name)
	}

	if n.Op != ASSIGN {
		a.binaryType(compoundOps[n.Op], lt, rt, n.Left, n.Right, n.Line())
		return lt
	}
	if !a.assignable(lt, n.Right, rt) {
		a.diag.Warnf(n.Line(), "Type mismatch in assignment")
	}
	return lt
}

func (a *Analyzer) callType(c *CallExpr) *Type {
	argTypes := make([]*Type, len(c.Args))
	for i, arg := range c.Args {
		argTypes[i] = a.analyzeExpr(arg)
	}

	sym, ok := a.syms.Lookup(c.Name)
	if !ok {
		a.diag.Errorf(c.Line(), "Undeclared function: %s", c.Name)
		return a.unknown()
	}
	if sym.Kind != SymFunction {
		a.diag.Errorf(c.Line(), "'%s' is not a function", c.Name)
		return a.unknown()
	}
	a.ann.SetSymbol(c.ID(), sym)

	ft := sym.Type
	want, got := len(ft.Params), len(c.Args)
	if got != want && !(ft.Variadic && got > want) {
		a.diag.Errorf(c.Line(), "Function '%s' expects %d arguments, but %d were provided", c.Name, want, got)
	}
	for i := 0; i < min(want, got); i++ {
		if !a.assignable(ft.Params[i], c.Args[i], argTypes[i]) {
			a.diag.Warnf(c.Line(), "Argument %d type mismatch: expected %s, got %s", i+1, ft.Params[i], argTypes[i])
		}
	}
	return ft.Return
}

// memberType types s.m and p->m. When the struct's members are not known
// the member is assumed to be an int.
func (a *Analyzer) memberType(m *MemberExpr) *Type {
	xt := a.analyzeExpr(m.X)
	if xt.IsUnknown() {
		return a.unknown()
	}

	st := xt
	if m.Arrow {
		pt := xt.Decay()
		if !pt.IsPointer() {
			a.diag.Errorf(m.Line(), "Cannot use '->' on non-pointer type")
			return a.unknown()
		}
		st = pt.Elem()
	}
	if !st.IsStruct() {
		a.diag.Errorf(m.Line(), "Member access requires struct type")
		return a.unknown()
	}

	members := a.structMembers(st)
	if members == nil {
		return MakeType(TypeInt)
	}
	for _, mem := range members {
		if mem.Name == m.Member {
			a.ann.SetConst(m.ID(), int64(mem.Offset))
			return a.refreshStruct(mem.Type)
		}
	}
	a.diag.Errorf(m.Line(), "Struct has no member named '%s'", m.Member)
	return a.unknown()
}

// refreshStruct fills in members for a struct type that was captured before
// its definition was complete, e.g. struct Node *next inside struct Node.
func (a *Analyzer) refreshStruct(t *Type) *Type {
	if t.Base != TypeStruct || len(t.Members) > 0 {
		return t
	}
	if def, ok := a.syms.GetStruct(t.StructName); ok && len(def.Members) > 0 {
		c := t.clone()
		c.Members = def.Members
		return c
	}
	return t
}

// constValue folds an already analyzed integer constant expression.
func (a *Analyzer) constValue(e Expr) (int64, bool) {
	switch n := e.(type) {
	case *IntLit:
		return n.Value, true

	case *Ident:
		if sym, ok := a.ann.View().Symbol(n.ID()); ok && sym.Kind == SymEnumConst {
			return sym.Value, true
		}

	case *SizeofExpr:
		return a.ann.View().Const(n.ID())

	case *CastExpr:
		t, _ := a.ann.View().Type(n.ID())
		if t.IsInteger() {
			return a.constValue(n.X)
		}

	case *UnaryExpr:
		v, ok := a.constValue(n.X)
		if !ok {
			return 0, false
		}
		switch n.Op {
		case MINUS:
			return -v, true
		case TILDE:
			return ^v, true
		case NOT:
			return boolInt(v == 0), true
		}

	case *TernaryExpr:
		c, ok := a.constValue(n.Cond)
		if !ok {
			return 0, false
		}
		if c != 0 {
			return a.constValue(n.Then)
		}
		return a.constValue(n.Else)

	case *LogicalExpr:
		l, lok := a.constValue(n.Left)
		r, rok := a.constValue(n.Right)
		if !lok || !rok {
			return 0, false
		}
		if n.Op == AND_LOGICAL {
			return boolInt(l != 0 && r != 0), true
		}
		return boolInt(l != 0 || r != 0), true

	case *BinaryExpr:
		l, lok := a.constValue(n.Left)
		r, rok := a.constValue(n.Right)
		if !lok || !rok {
			return 0, false
		}
		return foldBinary(n.Op, l, r)
	}
	return 0, false
}

func foldBinary(op TokenType, l, r int64) (int64, bool) {
	switch op {
	case PLUS:
		return l + r, true
	case MINUS:
		return l - r, true
	case STAR:
		return l * r, true
	case SLASH:
		if r == 0 {
			return 0, false
		}
		return l / r, true
	case PERCENT:
		if r == 0 {
			return 0, false
		}
		return l % r, true
	case AND:
		return l & r, true
	case PIPE:
		return l | r, true
	case CARET:
		return l ^ r, true
	case SHL_OP:
		return l << uint64(r&63), true
	case SHR_OP:
		return l >> uint64(r&63), true
	case EQUALS:
		return boolInt(l == r), true
	case NOT_EQ:
		return boolInt(l != r), true
	case LESS:
		return boolInt(l < r), true
	case GREATER:
		return boolInt(l > r), true
	case LESS_EQ:
		return boolInt(l <= r), true
	case GREATER_EQ:
		return boolInt(l >= r), true
	}
	return 0, false
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
