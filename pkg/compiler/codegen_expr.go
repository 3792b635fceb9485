package compiler

import (
	"fmt"

	"modernc.org/mathutil"
)

// needsAbs reports whether v does not fit the sign-extended 32-bit immediate
// of an ordinary movq.
func needsAbs(v int64) bool {
	u := uint64(v)
	if v < 0 {
		u = ^u
	}
	return mathutil.BitLenUint64(u) > 31
}

// loadImm puts v in %rax.
func (cg *CodeGen) loadImm(v int64) {
	if needsAbs(v) {
		cg.ins("movabsq", imm(v), "%rax")
		return
	}
	cg.ins("movq", imm(v), "%rax")
}

// genAddr leaves the address of the lvalue e in %rax.
func (cg *CodeGen) genAddr(e Expr) error {
	switch n := e.(type) {
	case *Ident:
		sym, ok := cg.view.Symbol(n.ID())
		if !ok {
			return fmt.Errorf("line %d: unresolved identifier %s", n.Line(), n.Name)
		}
		if sym.Kind == SymFunction {
			cg.ins("leaq", n.Name+"(%rip)", "%rax")
			return nil
		}
		if sym.Kind == SymEnumConst {
			return fmt.Errorf("line %d: cannot take the address of constant %s", n.Line(), n.Name)
		}
		cg.ins("leaq", symMem(sym), "%rax")

	case *IndexExpr:
		base := cg.typeOf(n.X)
		// An array base is addressed in place, a pointer base is loaded.
		if base.IsArray() {
			if err := cg.genAddr(n.X); err != nil {
				return err
			}
		} else if err := cg.genExpr(n.X); err != nil {
			return err
		}
		cg.push("%rax")
		if err := cg.genExpr(n.Index); err != nil {
			return err
		}
		if stride := base.Stride(); stride != 1 {
			cg.ins("imulq", imm(int64(stride)), "%rax")
		}
		cg.pop("%rbx")
		cg.ins("addq", "%rbx", "%rax")

	case *UnaryExpr:
		if n.Op != STAR {
			return fmt.Errorf("line %d: expression %s is not addressable", n.Line(), n)
		}
		return cg.genExpr(n.X)

	case *MemberExpr:
		if n.Arrow {
			if err := cg.genExpr(n.X); err != nil {
				return err
			}
		} else if err := cg.genAddr(n.X); err != nil {
			return err
		}
		if off := cg.memberOffset(n); off != 0 {
			cg.ins("addq", imm(int64(off)), "%rax")
		}

	case *CallExpr:
		// Calls returning structs are not supported; treat the result as an address.
		return cg.genExpr(n)

	default:
		return fmt.Errorf("line %d: expression %s is not addressable", e.Line(), e)
	}
	return nil
}

// memberOffset resolves a member's byte offset. Without layout metadata
// only the two-field x/y shape is known.
func (cg *CodeGen) memberOffset(m *MemberExpr) int {
	if off, ok := cg.view.Const(m.ID()); ok {
		return int(off)
	}
	if m.Member == "y" {
		return wordSize
	}
	return 0
}

// loadResult turns the address in %rax into the value of an lvalue of type
// t, unless t is an aggregate whose value is its address.
func (cg *CodeGen) loadResult(t *Type) {
	if isAggregate(t) {
		return
	}
	cg.load(t, "(%rax)")
}

func (cg *CodeGen) genExpr(e Expr) error {
	switch n := e.(type) {

	case *IntLit:
		cg.loadImm(n.Value)

	case *FloatLit:
		// Floating constants are truncated to integers.
		cg.loadImm(int64(n.Value))

	case *StringLit:
		cg.ins("leaq", cg.internString(n.Value)+"(%rip)", "%rax")

	case *Ident:
		sym, ok := cg.view.Symbol(n.ID())
		if !ok {
			return fmt.Errorf("line %d: unresolved identifier %s", n.Line(), n.Name)
		}
		switch {
		case sym.Kind == SymEnumConst:
			cg.loadImm(sym.Value)
		case sym.Kind == SymFunction || isAggregate(sym.Type):
			return cg.genAddr(n)
		default:
			cg.load(sym.Type, symMem(sym))
		}

	case *BinaryExpr:
		if err := cg.genExpr(n.Right); err != nil {
			return err
		}
		cg.push("%rax")
		if err := cg.genExpr(n.Left); err != nil {
			return err
		}
		cg.pop("%rbx")
		cg.binaryOp(n.Op, cg.typeOf(n.Left), cg.typeOf(n.Right), cg.typeOf(n))

	case *LogicalExpr:
		return cg.genLogical(n)

	case *UnaryExpr:
		return cg.genUnary(n)

	case *PostfixExpr:
		return cg.genIncDec(n.X, n.Op, false)

	case *AssignExpr:
		return cg.genAssign(n)

	case *CallExpr:
		return cg.genCall(n)

	case *IndexExpr:
		if err := cg.genAddr(n); err != nil {
			return err
		}
		cg.loadResult(cg.typeOf(n))

	case *MemberExpr:
		if err := cg.genAddr(n); err != nil {
			return err
		}
		cg.loadResult(cg.typeOf(n))

	case *TernaryExpr:
		elseLabel := cg.newLabel()
		endLabel := cg.newLabel()
		if err := cg.genCond(n.Cond, elseLabel); err != nil {
			return err
		}
		if err := cg.genExpr(n.Then); err != nil {
			return err
		}
		cg.ins("jmp", endLabel)
		cg.label(elseLabel)
		if err := cg.genExpr(n.Else); err != nil {
			return err
		}
		cg.label(endLabel)

	case *CastExpr:
		if err := cg.genExpr(n.X); err != nil {
			return err
		}
		t := cg.typeOf(n)
		if !t.IsPointerLike() {
			switch t.Base {
			case TypeChar:
				cg.ins("movsbq", "%al", "%rax")
			case TypeShort:
				cg.ins("movswq", "%ax", "%rax")
			}
		}

	case *SizeofExpr:
		v, ok := cg.view.Const(n.ID())
		if !ok {
			return fmt.Errorf("line %d: sizeof was not evaluated", n.Line())
		}
		cg.loadImm(v)

	case *CommaExpr:
		if err := cg.genExpr(n.Left); err != nil {
			return err
		}
		return cg.genExpr(n.Right)

	default:
		return fmt.Errorf("line %d: cannot generate code for %s", e.Line(), e.Kind())
	}
	return nil
}

// floatOps maps the arithmetic operators to their SSE mnemonic stems.
var floatOps = map[TokenType]string{
	PLUS:  "add",
	MINUS: "sub",
	STAR:  "mul",
	SLASH: "div",
}

var setCC = map[TokenType]string{
	EQUALS:     "sete",
	NOT_EQ:     "setne",
	LESS:       "setl",
	GREATER:    "setg",
	LESS_EQ:    "setle",
	GREATER_EQ: "setge",
}

// binaryOp combines %rax (left) and %rbx (right) into %rax. lt and rt are
// the operand types and res the result type from analysis.
func (cg *CodeGen) binaryOp(op TokenType, lt, rt, res *Type) {
	lt, rt = lt.Decay(), rt.Decay()

	if stem, ok := floatOps[op]; ok && res.IsFloating() {
		sfx := "sd"
		if res.Base == TypeFloat {
			sfx = "ss"
		}
		cg.ins("cvtsi2"+sfx+"q", "%rax", "%xmm0")
		cg.ins("cvtsi2"+sfx+"q", "%rbx", "%xmm1")
		cg.ins(stem+sfx, "%xmm1", "%xmm0")
		cg.ins("cvtt"+sfx+"2siq", "%xmm0", "%rax")
		return
	}

	if cc, ok := setCC[op]; ok {
		cg.ins("cmpq", "%rbx", "%rax")
		cg.ins(cc, "%al")
		cg.ins("movzbq", "%al", "%rax")
		return
	}

	unsigned := res.Base == TypeUnsigned && !res.IsPointerLike()
	switch op {
	case PLUS:
		switch {
		case lt.IsPointer() && !rt.IsPointer():
			cg.scale("%rbx", lt.Stride())
		case rt.IsPointer() && !lt.IsPointer():
			cg.scale("%rax", rt.Stride())
		}
		cg.ins("addq", "%rbx", "%rax")

	case MINUS:
		switch {
		case lt.IsPointer() && rt.IsPointer():
			cg.ins("subq", "%rbx", "%rax")
			if stride := lt.Stride(); stride > 1 {
				cg.ins("movq", imm(int64(stride)), "%rbx")
				cg.ins("cqto")
				cg.ins("idivq", "%rbx")
			}
			return
		case lt.IsPointer():
			cg.scale("%rbx", lt.Stride())
		}
		cg.ins("subq", "%rbx", "%rax")

	case STAR:
		cg.ins("imulq", "%rbx", "%rax")

	case SLASH, PERCENT:
		if unsigned {
			cg.ins("xorq", "%rdx", "%rdx")
			cg.ins("divq", "%rbx")
		} else {
			cg.ins("cqto")
			cg.ins("idivq", "%rbx")
		}
		if op == PERCENT {
			cg.ins("movq", "%rdx", "%rax")
		}

	case AND:
		cg.ins("andq", "%rbx", "%rax")
	case PIPE:
		cg.ins("orq", "%rbx", "%rax")
	case CARET:
		cg.ins("xorq", "%rbx", "%rax")

	case SHL_OP:
		cg.ins("movq", "%rbx", "%rcx")
		cg.ins("salq", "%cl", "%rax")
	case SHR_OP:
		cg.ins("movq", "%rbx", "%rcx")
		if lt.Base == TypeUnsigned {
			cg.ins("shrq", "%cl", "%rax")
		} else {
			cg.ins("sarq", "%cl", "%rax")
		}

	default:
		cg.comment("ERROR: unsupported operator %s", op)
	}
}

// scale multiplies reg by an element size.
func (cg *CodeGen) scale(reg string, stride int) {
	if stride != 1 {
		cg.ins("imulq", imm(int64(stride)), reg)
	}
}

// genLogical evaluates && and || left to right and skips the right operand
// once the result is known.
func (cg *CodeGen) genLogical(n *LogicalExpr) error {
	shortLabel := cg.newLabel()
	endLabel := cg.newLabel()

	jump, shortValue := "je", "$0"
	if n.Op == OR_LOGICAL {
		jump, shortValue = "jne", "$1"
	}

	if err := cg.genExpr(n.Left); err != nil {
		return err
	}
	cg.ins("cmpq", "$0", "%rax")
	cg.ins(jump, shortLabel)
	if err := cg.genExpr(n.Right); err != nil {
		return err
	}
	cg.ins("cmpq", "$0", "%rax")
	cg.ins("setne", "%al")
	cg.ins("movzbq", "%al", "%rax")
	cg.ins("jmp", endLabel)
	cg.label(shortLabel)
	cg.ins("movq", shortValue, "%rax")
	cg.label(endLabel)
	return nil
}

func (cg *CodeGen) genUnary(n *UnaryExpr) error {
	switch n.Op {
	case AND:
		return cg.genAddr(n.X)
	case PLUS_PLUS, MINUS_MINUS:
		return cg.genIncDec(n.X, n.Op, true)
	}

	if err := cg.genExpr(n.X); err != nil {
		return err
	}
	switch n.Op {
	case STAR:
		cg.loadResult(cg.typeOf(n))
	case MINUS:
		cg.ins("negq", "%rax")
	case TILDE:
		cg.ins("notq", "%rax")
	case NOT:
		cg.ins("cmpq", "$0", "%rax")
		cg.ins("sete", "%al")
		cg.ins("movzbq", "%al", "%rax")
	default:
		return fmt.Errorf("line %d: unsupported unary operator %s", n.Line(), n.Op)
	}
	return nil
}

// genIncDec handles ++x, --x, x++ and x--. Pointers step by their element
// size. The prefix forms yield the new value, the postfix forms the old one.
func (cg *CodeGen) genIncDec(x Expr, op TokenType, prefix bool) error {
	t := cg.typeOf(x)
	step := int64(1)
	if t.IsPointer() {
		step = int64(t.Stride())
	}
	mnemonic := "addq"
	if op == MINUS_MINUS {
		mnemonic = "subq"
	}

	if err := cg.genAddr(x); err != nil {
		return err
	}
	cg.ins("movq", "%rax", "%rbx")
	cg.load(t, "(%rbx)")
	if !prefix {
		cg.ins("movq", "%rax", "%rcx")
	}
	cg.ins(mnemonic, imm(step), "%rax")
	cg.store(t, "(%rbx)")
	if !prefix {
		cg.ins("movq", "%rcx", "%rax")
	}
	return nil
}

// genAssign stores the right side into the left. A compound assignment
// loads the current value first, then evaluates the right side and combines
// them.
func (cg *CodeGen) genAssign(n *AssignExpr) error {
	lt := cg.typeOf(n.Left)

	if n.Op == ASSIGN {
		if err := cg.genExpr(n.Right); err != nil {
			return err
		}
		cg.push("%rax")
		if err := cg.genAddr(n.Left); err != nil {
			return err
		}
		cg.pop("%rbx")
		if lt.IsStruct() {
			cg.copyWords(lt.Size())
			return nil
		}
		// %rax holds the target, %rbx the value.
		cg.ins("xchgq", "%rax", "%rbx")
		cg.store(lt, "(%rbx)")
		return nil
	}

	if err := cg.genAddr(n.Left); err != nil {
		return err
	}
	cg.push("%rax")
	cg.load(lt, "(%rax)")
	cg.push("%rax")
	if err := cg.genExpr(n.Right); err != nil {
		return err
	}
	cg.ins("movq", "%rax", "%rbx")
	cg.pop("%rax")
	cg.binaryOp(compoundOps[n.Op], lt, cg.typeOf(n.Right), lt)
	cg.pop("%rbx")
	cg.store(lt, "(%rbx)")
	return nil
}

// genCall evaluates the arguments left to right onto the stack, pops them
// into the argument registers and calls. %rsp is 16-byte aligned at the call.
func (cg *CodeGen) genCall(c *CallExpr) error {
	if len(c.Args) > len(argRegs) {
		return fmt.Errorf("%w: call to %s passes %d arguments", ErrTooManyArgs, c.Name, len(c.Args))
	}

	for _, arg := range c.Args {
		if cg.typeOf(arg).IsStruct() {
			return fmt.Errorf("line %d: struct arguments are not supported", arg.Line())
		}
		if err := cg.genExpr(arg); err != nil {
			return err
		}
		cg.push("%rax")
	}
	for i := len(c.Args) - 1; i >= 0; i-- {
		cg.pop(argRegs[i])
	}

	pad := cg.depth % 16
	if pad != 0 {
		cg.ins("subq", imm(int64(16-pad)), "%rsp")
	}

	sym, _ := cg.view.Symbol(c.ID())
	if sym == nil || sym.Type.Variadic {
		cg.ins("movl", "$0", "%eax")
	}
	cg.ins("call", c.Name)
	if pad != 0 {
		cg.ins("addq", imm(int64(16-pad)), "%rsp")
	}

	// int results only define %eax.
	if sym != nil && sym.Type.Return.Kind() == TypeInt {
		cg.ins("cltq")
	}
	return nil
}
