package compiler

// Annotations is the side table the analyzer fills in: resolved symbols for
// identifiers and declarators, static types for expressions, frames for
// function definitions and folded values for sizeof. It is keyed by NodeID so
// the syntax tree itself stays immutable after parsing.
type Annotations struct {
	symbols map[NodeID]*Symbol
	types   map[NodeID]*Type
	frames  map[NodeID]*Frame
	consts  map[NodeID]int64
}

func NewAnnotations() *Annotations {
	return &Annotations{
		symbols: make(map[NodeID]*Symbol),
		types:   make(map[NodeID]*Type),
		frames:  make(map[NodeID]*Frame),
		consts:  make(map[NodeID]int64),
	}
}

func (a *Annotations) SetSymbol(id NodeID, sym *Symbol) { a.symbols[id] = sym }
func (a *Annotations) SetType(id NodeID, t *Type)       { a.types[id] = t }
func (a *Annotations) SetFrame(id NodeID, f *Frame)     { a.frames[id] = f }
func (a *Annotations) SetConst(id NodeID, v int64)      { a.consts[id] = v }

// View returns the read-only face of the table handed to the code generator.
func (a *Annotations) View() AnnotationView {
	return AnnotationView{a: a}
}

// AnnotationView exposes lookups only. A zero AnnotationView answers every
// query with "not found".
type AnnotationView struct {
	a *Annotations
}

func (v AnnotationView) Symbol(id NodeID) (*Symbol, bool) {
	if v.a == nil {
		return nil, false
	}
	sym, ok := v.a.symbols[id]
	return sym, ok
}

func (v AnnotationView) Type(id NodeID) (*Type, bool) {
	if v.a == nil {
		return nil, false
	}
	t, ok := v.a.types[id]
	return t, ok
}

func (v AnnotationView) Frame(id NodeID) (*Frame, bool) {
	if v.a == nil {
		return nil, false
	}
	f, ok := v.a.frames[id]
	return f, ok
}

func (v AnnotationView) Const(id NodeID) (int64, bool) {
	if v.a == nil {
		return 0, false
	}
	c, ok := v.a.consts[id]
	return c, ok
}
