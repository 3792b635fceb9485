package compiler

import (
	"fmt"
	"strconv"
	"strings"
)

// CodeGen walks an analyzed AST and emits x86-64 assembly in AT&T syntax.
//
// Every expression leaves its value in %rax. Binary operators park the right
// operand on the stack, evaluate the left one and pop the right into %rbx.
// depth tracks those pushes so calls can keep %rsp 16-byte aligned.
type CodeGen struct {
	view      AnnotationView
	fileName  string
	out       strings.Builder
	nextLabel int
	loopStack []LoopLabel
	retLabel  string
	function  string
	strs      []string // string literals, .LC<index>
	depth     int      // bytes pushed below the frame
}

// LoopLabel is the jump context of one loop or switch.
type LoopLabel struct {
	Start string
	End   string // where 'break' jumps to
	Post  string // where 'continue' jumps to
}

// argRegs are the System V integer argument registers in order.
var argRegs = [...]string{"%rdi", "%rsi", "%rdx", "%rcx", "%r8", "%r9"}

// argRegs32 are the low halves of argRegs, used to sign-extend int parameters.
var argRegs32 = [...]string{"%edi", "%esi", "%edx", "%ecx", "%r8d", "%r9d"}

func newCodeGen(view AnnotationView, fileName string) *CodeGen {
	return &CodeGen{view: view, fileName: fileName}
}

func (cg *CodeGen) newLabel() string {
	l := fmt.Sprintf(".L%d", cg.nextLabel)
	cg.nextLabel++
	return l
}

// line writes one formatted line of output.
func (cg *CodeGen) line(format string, args ...any) {
	fmt.Fprintf(&cg.out, format+"\n", args...)
}

// ins writes one instruction with its operands.
func (cg *CodeGen) ins(op string, operands ...string) {
	cg.out.WriteString("    ")
	cg.out.WriteString(op)
	if len(operands) > 0 {
		cg.out.WriteByte(' ')
		cg.out.WriteString(strings.Join(operands, ", "))
	}
	cg.out.WriteByte('\n')
}

func (cg *CodeGen) label(l string) {
	cg.line("%s:", l)
}

func (cg *CodeGen) comment(format string, args ...any) {
	cg.line("    # "+format, args...)
}

func (cg *CodeGen) push(reg string) {
	cg.ins("pushq", reg)
	cg.depth += 8
}

func (cg *CodeGen) pop(reg string) {
	cg.ins("popq", reg)
	cg.depth -= 8
}

// imm renders an immediate operand.
func imm(v int64) string { return "$" + strconv.FormatInt(v, 10) }

// frameMem renders an %rbp-relative memory operand.
func frameMem(off int) string { return fmt.Sprintf("%d(%%rbp)", off) }

// symMem is the memory operand holding sym.
func symMem(sym *Symbol) string {
	if sym.IsGlobal() {
		return sym.Label + "(%rip)"
	}
	return frameMem(sym.FrameAddr())
}

// typeOf returns the analyzed type of e, or a guess from the node's shape
// when the analyzer left no type behind.
func (cg *CodeGen) typeOf(e Expr) *Type {
	if t, ok := cg.view.Type(e.ID()); ok && t != nil {
		return t
	}
	return probeType(e)
}

func probeType(e Expr) *Type {
	switch n := e.(type) {
	case *FloatLit:
		return MakeType(TypeDouble)
	case *StringLit:
		return MakePointer(MakeType(TypeChar))
	case *BinaryExpr:
		lt, rt := probeType(n.Left), probeType(n.Right)
		if lt.IsFloating() {
			return lt
		}
		if rt.IsFloating() {
			return rt
		}
	}
	return MakeType(TypeInt)
}

// isAggregate reports whether values of t are handled by address.
func isAggregate(t *Type) bool {
	return t.IsArray() || t.IsStruct() || t.IsFunction()
}

// load reads a value of type t from mem into %rax, widening to 64 bits.
func (cg *CodeGen) load(t *Type, mem string) {
	if t.IsPointerLike() {
		cg.ins("movq", mem, "%rax")
		return
	}
	switch t.Base {
	case TypeChar:
		cg.ins("movsbq", mem, "%rax")
	case TypeShort:
		cg.ins("movswq", mem, "%rax")
	default:
		cg.ins("movq", mem, "%rax")
	}
}

// store writes %rax to mem using the width of t.
func (cg *CodeGen) store(t *Type, mem string) {
	if t.IsPointerLike() {
		cg.ins("movq", "%rax", mem)
		return
	}
	switch t.Base {
	case TypeChar:
		cg.ins("movb", "%al", mem)
	case TypeShort:
		cg.ins("movw", "%ax", mem)
	default:
		cg.ins("movq", "%rax", mem)
	}
}

// copyWords copies size bytes from the address in %rbx to the address in
// %rax. Struct sizes are whole words.
func (cg *CodeGen) copyWords(size int) {
	for off := 0; off < size; off += wordSize {
		cg.ins("movq", fmt.Sprintf("%d(%%rbx)", off), "%rcx")
		cg.ins("movq", "%rcx", fmt.Sprintf("%d(%%rax)", off))
	}
}

func (cg *CodeGen) internString(s string) string {
	l := fmt.Sprintf(".LC%d", len(cg.strs))
	cg.strs = append(cg.strs, s)
	return l
}

// escapeString renders s for a .string directive.
func escapeString(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case c == '\n':
			sb.WriteString(`\n`)
		case c == '\t':
			sb.WriteString(`\t`)
		case c < 0x20 || c >= 0x7f:
			fmt.Fprintf(&sb, "\\%03o", c)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

//  Statements

func (cg *CodeGen) genStmts(items []Stmt) error {
	for _, s := range items {
		if err := cg.genStmt(s); err != nil {
			return err
		}
	}
	return nil
}

// genCond evaluates e and jumps to target when it is zero.
func (cg *CodeGen) genCond(e Expr, target string) error {
	if err := cg.genExpr(e); err != nil {
		return err
	}
	cg.ins("cmpq", "$0", "%rax")
	cg.ins("je", target)
	return nil
}

func (cg *CodeGen) genStmt(s Stmt) error {
	switch n := s.(type) {

	case *ExprStmt:
		if n.X == nil {
			return nil
		}
		return cg.genExpr(n.X)

	case *CompoundStmt:
		return cg.genStmts(n.Items)

	case *Declaration:
		for _, v := range n.Vars {
			if err := cg.genLocalInit(v); err != nil {
				return err
			}
		}

	case *StructDef, *EnumDef:
		// Layout and constants were resolved during analysis.

	case *IfStmt:
		elseLabel := cg.newLabel()
		endLabel := cg.newLabel()
		if err := cg.genCond(n.Cond, elseLabel); err != nil {
			return err
		}
		if err := cg.genStmt(n.Then); err != nil {
			return err
		}
		cg.ins("jmp", endLabel)
		cg.label(elseLabel)
		if n.Else != nil {
			if err := cg.genStmt(n.Else); err != nil {
				return err
			}
		}
		cg.label(endLabel)

	case *WhileStmt:
		start := cg.newLabel()
		end := cg.newLabel()
		cg.label(start)
		if err := cg.genCond(n.Cond, end); err != nil {
			return err
		}
		if err := cg.genLoopBody(n.Body, LoopLabel{Start: start, End: end, Post: start}); err != nil {
			return err
		}
		cg.ins("jmp", start)
		cg.label(end)

	case *DoWhileStmt:
		start := cg.newLabel()
		post := cg.newLabel()
		end := cg.newLabel()
		cg.label(start)
		if err := cg.genLoopBody(n.Body, LoopLabel{Start: start, End: end, Post: post}); err != nil {
			return err
		}
		cg.label(post)
		if err := cg.genExpr(n.Cond); err != nil {
			return err
		}
		cg.ins("cmpq", "$0", "%rax")
		cg.ins("jne", start)
		cg.label(end)

	case *ForStmt:
		start := cg.newLabel()
		post := cg.newLabel()
		end := cg.newLabel()
		if n.Init != nil {
			if err := cg.genStmt(n.Init); err != nil {
				return err
			}
		}
		cg.label(start)
		if n.Cond != nil {
			if err := cg.genCond(n.Cond, end); err != nil {
				return err
			}
		}
		if err := cg.genLoopBody(n.Body, LoopLabel{Start: start, End: end, Post: post}); err != nil {
			return err
		}
		cg.label(post)
		if n.Post != nil {
			if err := cg.genExpr(n.Post); err != nil {
				return err
			}
		}
		cg.ins("jmp", start)
		cg.label(end)

	case *SwitchStmt:
		return cg.genSwitch(n)

	case *ReturnStmt:
		if n.Value != nil {
			if err := cg.genExpr(n.Value); err != nil {
				return err
			}
		} else {
			cg.ins("movq", "$0", "%rax")
		}
		cg.ins("jmp", cg.retLabel)

	case *BreakStmt:
		if len(cg.loopStack) == 0 {
			cg.comment("ERROR: break outside loop")
			return nil
		}
		cg.ins("jmp", cg.loopStack[len(cg.loopStack)-1].End)

	case *ContinueStmt:
		target := ""
		if len(cg.loopStack) > 0 {
			target = cg.loopStack[len(cg.loopStack)-1].Post
		}
		if target == "" {
			cg.comment("ERROR: continue outside loop")
			return nil
		}
		cg.ins("jmp", target)

	default:
		return fmt.Errorf("line %d: cannot generate code for %s", s.Line(), s.Kind())
	}
	return nil
}

func (cg *CodeGen) genLoopBody(body Stmt, ctx LoopLabel) error {
	cg.loopStack = append(cg.loopStack, ctx)
	err := cg.genStmt(body)
	cg.loopStack = cg.loopStack[:len(cg.loopStack)-1]
	return err
}

// genSwitch compares the tag in %rax against every case constant, then lays
// the clause bodies out in source order so control falls through.
func (cg *CodeGen) genSwitch(s *SwitchStmt) error {
	if err := cg.genExpr(s.Tag); err != nil {
		return err
	}
	end := cg.newLabel()
	labels := make([]string, len(s.Clauses))
	target := end
	for i, c := range s.Clauses {
		labels[i] = cg.newLabel()
		if c.Value == nil {
			target = labels[i]
			continue
		}
		v, ok := cg.view.Const(c.Value.ID())
		if !ok {
			return fmt.Errorf("line %d: case label is not a constant", c.Line())
		}
		if needsAbs(v) {
			cg.ins("movabsq", imm(v), "%rbx")
			cg.ins("cmpq", "%rbx", "%rax")
		} else {
			cg.ins("cmpq", imm(v), "%rax")
		}
		cg.ins("je", labels[i])
	}
	cg.ins("jmp", target)

	// continue inside a switch belongs to the enclosing loop.
	ctx := LoopLabel{End: end}
	if len(cg.loopStack) > 0 {
		ctx.Post = cg.loopStack[len(cg.loopStack)-1].Post
	}
	cg.loopStack = append(cg.loopStack, ctx)
	defer func() { cg.loopStack = cg.loopStack[:len(cg.loopStack)-1] }()

	for i, c := range s.Clauses {
		cg.label(labels[i])
		if err := cg.genStmts(c.Body); err != nil {
			return err
		}
	}
	cg.label(end)
	return nil
}

// genLocalInit stores the initializer of a frame variable. Statics and
// externs live in the data section and are skipped here.
func (cg *CodeGen) genLocalInit(v *InitDeclarator) error {
	if v.Init == nil {
		return nil
	}
	sym, ok := cg.view.Symbol(v.ID())
	if !ok || sym.IsGlobal() {
		return nil
	}
	t := sym.Type

	_, isList := v.Init.(*InitList)
	_, isStr := v.Init.(*StringLit)
	if isList || (isStr && t.IsArray()) {
		// Elements without an initializer are zero.
		for off := 0; off < sym.Size; off += wordSize {
			cg.ins("movq", "$0", frameMem(sym.FrameAddr()+off))
		}
		return cg.genInitAt(t, v.Init, sym.FrameAddr())
	}

	if t.IsStruct() {
		if err := cg.genExpr(v.Init); err != nil {
			return err
		}
		cg.ins("movq", "%rax", "%rbx")
		cg.ins("leaq", symMem(sym), "%rax")
		cg.copyWords(t.Size())
		return nil
	}

	if err := cg.genExpr(v.Init); err != nil {
		return err
	}
	cg.store(t, symMem(sym))
	return nil
}

// genInitAt stores init into the object of type t at frame address addr.
// Nested lists fill their sub-array or member in place.
func (cg *CodeGen) genInitAt(t *Type, init Expr, addr int) error {
	switch n := init.(type) {
	case *InitList:
		switch {
		case t.IsArray():
			elem := t.Elem()
			for i, e := range n.Elems {
				if t.Dims[0] > 0 && i >= t.Dims[0] {
					break
				}
				if err := cg.genInitAt(elem, e, addr+i*elem.Size()); err != nil {
					return err
				}
			}
		case t.IsStruct():
			for i, e := range n.Elems {
				mt, off := MakeType(TypeInt), i*wordSize
				if i < len(t.Members) {
					mt, off = t.Members[i].Type, t.Members[i].Offset
				}
				if err := cg.genInitAt(mt, e, addr+off); err != nil {
					return err
				}
			}
		default:
			if len(n.Elems) > 0 {
				return cg.genInitAt(t, n.Elems[0], addr)
			}
		}
		return nil

	case *StringLit:
		if t.IsArray() {
			for i := 0; i < len(n.Value); i++ {
				if t.Dims[0] > 0 && i >= t.Dims[0] {
					break
				}
				cg.ins("movb", imm(int64(int8(n.Value[i]))), frameMem(addr+i))
			}
			return nil
		}
	}

	if err := cg.genExpr(init); err != nil {
		return err
	}
	cg.store(t, frameMem(addr))
	return nil
}

//  Functions and data

func (cg *CodeGen) genFunction(fn *FuncDef) error {
	name := fn.Name()
	frame, ok := cg.view.Frame(fn.ID())
	if !ok {
		return fmt.Errorf("line %d: function %s was not analyzed", fn.Line(), name)
	}
	params := fn.Decl.Params.Params
	if len(params) > len(argRegs) {
		return fmt.Errorf("%w: function %s declares %d parameters", ErrTooManyArgs, name, len(params))
	}

	cg.function = name
	cg.retLabel = cg.newLabel()
	cg.depth = 0

	cg.out.WriteByte('\n')
	if !fn.Spec.Static {
		cg.line("    .globl %s", name)
	}
	cg.line("    .type %s, @function", name)
	cg.label(name)
	cg.ins("pushq", "%rbp")
	cg.ins("movq", "%rsp", "%rbp")
	if size := frame.Size(); size > 0 {
		cg.ins("subq", imm(int64(size)), "%rsp")
	}

	for i, p := range params {
		sym, ok := cg.view.Symbol(p.ID())
		if !ok {
			continue
		}
		reg := argRegs[i]
		if sym.Type.Kind() == TypeInt {
			cg.ins("movslq", argRegs32[i], reg)
		}
		cg.ins("movq", reg, "%rax")
		cg.store(sym.Type, symMem(sym))
	}

	if err := cg.genStmts(fn.Body.Items); err != nil {
		return err
	}

	if name == "main" {
		cg.ins("movq", "$0", "%rax")
	}
	cg.label(cg.retLabel)
	cg.ins("movq", "%rbp", "%rsp")
	cg.ins("popq", "%rbp")
	cg.ins("ret")
	cg.line("    .size %s, .-%s", name, name)
	return nil
}

// staticDecls collects every variable with static storage in source order:
// file-scope declarations first-seen, then function-local statics.
func staticDecls(prog *Program) []*InitDeclarator {
	var out []*InitDeclarator
	for _, item := range prog.Items {
		switch n := item.(type) {
		case *Declaration:
			out = append(out, n.Vars...)
		case *FuncDef:
			if n.Body == nil {
				continue
			}
			Walk(n.Body, func(nd Node) bool {
				if d, ok := nd.(*Declaration); ok && d.Spec.Static {
					out = append(out, d.Vars...)
				}
				return true
			})
		}
	}
	return out
}

// genData emits the .data section.
func (cg *CodeGen) genData(prog *Program) error {
	first := true
	for _, v := range staticDecls(prog) {
		sym, ok := cg.view.Symbol(v.ID())
		if !ok || sym.Extern || sym.Decl != v.ID() || sym.Kind != SymVariable {
			continue
		}
		if first {
			cg.line("    .data")
			first = false
		}
		if !sym.Static {
			cg.line("    .globl %s", sym.Label)
		}
		cg.line("    .align 8")
		cg.line("    .type %s, @object", sym.Label)
		cg.line("    .size %s, %d", sym.Label, sym.Size)
		cg.label(sym.Label)

		n := 0
		if v.Init != nil {
			var err error
			if n, err = cg.genDataInit(sym.Type, v.Init); err != nil {
				return err
			}
		}
		if rest := sym.Size - n; rest > 0 {
			cg.line("    .zero %d", rest)
		}
	}
	return nil
}

// genDataInit emits directives for init as a value of type t and returns the
// number of bytes written, never more than t's size.
func (cg *CodeGen) genDataInit(t *Type, init Expr) (int, error) {
	size := t.Size()
	pad := func(n int) int { return cg.padTo(n, size) }

	switch n := init.(type) {
	case *InitList:
		written := 0
		switch {
		case t.IsArray():
			elem := t.Elem()
			for i, e := range n.Elems {
				if t.Dims[0] > 0 && i >= t.Dims[0] {
					break
				}
				w, err := cg.genDataInit(elem, e)
				if err != nil {
					return 0, err
				}
				written += cg.padTo(w, elem.Size())
			}
		case t.IsStruct():
			for i, e := range n.Elems {
				if i >= len(t.Members) {
					break
				}
				m := t.Members[i]
				if m.Offset > written {
					cg.line("    .zero %d", m.Offset-written)
					written = m.Offset
				}
				w, err := cg.genDataInit(m.Type, e)
				if err != nil {
					return 0, err
				}
				written += w
			}
		default:
			if len(n.Elems) > 0 {
				return cg.genDataInit(t, n.Elems[0])
			}
		}
		return pad(written), nil

	case *StringLit:
		if t.IsArray() {
			s := n.Value
			if t.Dims[0] > 0 && len(s) >= t.Dims[0] {
				cg.line("    .ascii \"%s\"", escapeString(s[:t.Dims[0]]))
				return t.Dims[0], nil
			}
			cg.line("    .string \"%s\"", escapeString(s))
			return pad(len(s) + 1), nil
		}
		cg.line("    .quad %s", cg.internString(n.Value))
		return pad(wordSize), nil
	}

	v, ok := cg.view.Const(init.ID())
	if !ok {
		return 0, fmt.Errorf("line %d: initializer element is not constant", init.Line())
	}
	switch {
	case !t.IsPointerLike() && t.Base == TypeChar:
		cg.line("    .byte %d", int8(v))
		return 1, nil
	case !t.IsPointerLike() && t.Base == TypeShort:
		cg.line("    .value %d", int16(v))
		return 2, nil
	}
	cg.line("    .quad %d", v)
	return pad(wordSize), nil
}

// padTo zero-fills an element that was written short and returns its full size.
func (cg *CodeGen) padTo(written, size int) int {
	if written < size {
		cg.line("    .zero %d", size-written)
	}
	return size
}

// Generate emits the assembly for an analyzed program: data first, then
// every function in source order, then the string literals discovered along
// the way.
func Generate(prog *Program, view AnnotationView, fileName string) (string, error) {
	cg := newCodeGen(view, fileName)

	if fileName != "" {
		cg.line("    .file \"%s\"", escapeString(fileName))
	}
	if err := cg.genData(prog); err != nil {
		return "", err
	}

	cg.line("    .text")
	for _, item := range prog.Items {
		fn, ok := item.(*FuncDef)
		if !ok || fn.Body == nil {
			continue
		}
		if err := cg.genFunction(fn); err != nil {
			return "", err
		}
	}

	if len(cg.strs) > 0 {
		cg.out.WriteByte('\n')
		cg.line("    .section .rodata")
		for i, s := range cg.strs {
			cg.label(fmt.Sprintf(".LC%d", i))
			cg.line("    .string \"%s\"", escapeString(s))
		}
	}
	cg.line("    .section .note.GNU-stack,\"\",@progbits")
	return cg.out.String(), nil
}
