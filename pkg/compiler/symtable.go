package compiler

import (
	"fmt"
	"sort"
	"strings"

	"modernc.org/mathutil"
)

// SymbolKind distinguishes the entities a name can resolve to.
type SymbolKind int

const (
	SymVariable SymbolKind = iota
	SymFunction
	SymParameter
	SymEnumConst
)

func (k SymbolKind) String() string {
	switch k {
	case SymVariable:
		return "variable"
	case SymFunction:
		return "function"
	case SymParameter:
		return "parameter"
	case SymEnumConst:
		return "enum-constant"
	}
	return fmt.Sprintf("SymbolKind(%d)", int(k))
}

// Symbol is a named, typed program entity with its storage location.
//
// Locals and parameters live in the frame: a symbol at Offset o with Size s
// occupies the bytes [rbp-(o+s), rbp-o). Globals and statics have a Label
// instead and live in the data section.
type Symbol struct {
	Name    string
	Type    *Type
	Kind    SymbolKind
	Level   int // scope depth, 0 is the global scope
	Offset  int
	Size    int
	Decl    NodeID // declaring node
	Defined bool   // false for a function that has only been prototyped
	Label   string
	Static  bool
	Extern  bool
	Value   int64 // enum constants
}

// IsGlobal reports whether the symbol is addressed through a label.
func (s *Symbol) IsGlobal() bool { return s.Label != "" }

// FrameAddr is the %rbp-relative address of the lowest byte of the slot.
func (s *Symbol) FrameAddr() int { return -(s.Offset + s.Size) }

// Scope is one lexical block. Lookup only ever walks toward the root.
type Scope struct {
	parent     *Scope
	symbols    []*Symbol
	level      int
	nextOffset int // next free byte in the frame
	highWater  int // largest nextOffset seen here or in exited children
	frame      *Frame
}

func (s *Scope) find(name string) (*Symbol, bool) {
	for _, sym := range s.symbols {
		if sym.Name == name {
			return sym, true
		}
	}
	return nil, false
}

// Frame owns every local symbol of one function, in declaration order. It
// outlives the scopes that made the names visible so the code generator can
// still resolve block-scoped locals after analysis.
type Frame struct {
	Function string
	Symbols  []*Symbol
	size     int
}

// Size is the number of bytes the function's locals need.
func (f *Frame) Size() int { return f.size }

// StructLayout records a struct definition.
type StructLayout struct {
	Name    string
	Members []Member
	Size    int
}

// SymbolTable tracks the scope chain during analysis.
// Functions, globals and struct layouts live in the global scope; each
// function body gets a fresh Frame.
type SymbolTable struct {
	global  *Scope
	current *Scope
	frames  []*Frame
	structs map[string]*StructLayout
	statics int // suffix counter for function-local static labels
}

func NewSymbolTable() *SymbolTable {
	g := &Scope{}
	return &SymbolTable{
		global:  g,
		current: g,
		structs: make(map[string]*StructLayout),
	}
}

// Level is the depth of the current scope; 0 is global.
func (s *SymbolTable) Level() int { return s.current.level }

// InFunction reports whether a function scope is open.
func (s *SymbolTable) InFunction() bool { return s.current.frame != nil }

// EnterFunction opens the function-level scope and a new frame for name.
func (s *SymbolTable) EnterFunction(name string) {
	f := &Frame{Function: name}
	s.current = &Scope{parent: s.global, level: 1, frame: f}
}

// ExitFunction closes every open scope back to the global one and returns the
// function's frame.
func (s *SymbolTable) ExitFunction() *Frame {
	for s.current != s.global && s.current.parent != s.global {
		s.ExitScope()
	}
	f := s.current.frame
	if f == nil {
		return nil
	}
	f.size = alignTo(mathutil.Max(f.size, s.current.highWater), 16)
	s.frames = append(s.frames, f)
	s.current = s.global
	return f
}

// EnterScope opens a nested block. The child continues the parent's offset
// counter so nested locals never overlap the enclosing ones.
func (s *SymbolTable) EnterScope() {
	s.current = &Scope{
		parent:     s.current,
		level:      s.current.level + 1,
		nextOffset: s.current.nextOffset,
		highWater:  s.current.nextOffset,
		frame:      s.current.frame,
	}
}

// ExitScope pops the current block and carries its offset counter back to
// the parent so later siblings get fresh slots.
func (s *SymbolTable) ExitScope() {
	child := s.current
	if child.parent == nil {
		panic("ExitScope called on the global scope")
	}
	parent := child.parent
	parent.nextOffset = mathutil.Max(parent.nextOffset, child.nextOffset)
	parent.highWater = mathutil.Max(parent.highWater, child.highWater)
	if f := child.frame; f != nil {
		f.size = mathutil.Max(f.size, child.highWater)
	}
	s.current = parent
}

// Insert adds sym to the current scope. It reports false, leaving the table
// unchanged, when the name is already declared in this same scope.
func (s *SymbolTable) Insert(sym *Symbol) bool {
	if _, exists := s.current.find(sym.Name); exists {
		return false
	}
	sc := s.current
	sym.Level = sc.level

	switch {
	case sym.Kind == SymFunction || sym.Kind == SymEnumConst:
		// No storage.
	case sc == s.global:
		sym.Size = sym.Type.StorageSize()
		if sym.Label == "" {
			sym.Label = sym.Name
		}
	case sym.Static || sym.Extern:
		sym.Size = sym.Type.StorageSize()
		if sym.Extern {
			sym.Label = sym.Name
		} else {
			s.statics++
			sym.Label = fmt.Sprintf("%s.%d", sym.Name, s.statics)
		}
	default:
		sym.Size = sym.Type.StorageSize()
		sym.Offset = sc.nextOffset
		sc.nextOffset += sym.Size
		sc.highWater = mathutil.Max(sc.highWater, sc.nextOffset)
		if sc.frame != nil {
			sc.frame.Symbols = append(sc.frame.Symbols, sym)
		}
	}

	sc.symbols = append(sc.symbols, sym)
	return true
}

// InsertGlobal adds sym to the global scope regardless of the current one.
func (s *SymbolTable) InsertGlobal(sym *Symbol) bool {
	saved := s.current
	s.current = s.global
	ok := s.Insert(sym)
	s.current = saved
	return ok
}

// Lookup resolves name from the innermost scope outward.
func (s *SymbolTable) Lookup(name string) (*Symbol, bool) {
	for sc := s.current; sc != nil; sc = sc.parent {
		if sym, ok := sc.find(name); ok {
			return sym, true
		}
	}
	return nil, false
}

// LookupCurrent checks the innermost scope only.
func (s *SymbolTable) LookupCurrent(name string) (*Symbol, bool) {
	return s.current.find(name)
}

// LookupGlobal checks the global scope only.
func (s *SymbolTable) LookupGlobal(name string) (*Symbol, bool) {
	return s.global.find(name)
}

// Globals returns the global-scope symbols in declaration order.
func (s *SymbolTable) Globals() []*Symbol {
	return s.global.symbols
}

// DefineStruct records a struct layout; it reports false when a struct of
// that name already has members.
func (s *SymbolTable) DefineStruct(def *StructLayout) bool {
	if old, ok := s.structs[def.Name]; ok && len(old.Members) > 0 {
		return false
	}
	s.structs[def.Name] = def
	return true
}

func (s *SymbolTable) GetStruct(name string) (*StructLayout, bool) {
	def, ok := s.structs[name]
	return def, ok
}

// Frames returns the frames of every function analyzed so far.
func (s *SymbolTable) Frames() []*Frame { return s.frames }

func alignTo(n, align int) int {
	return (n + align - 1) / align * align
}

// String dumps the table in a stable order for debugging.
func (s *SymbolTable) String() string {
	var sb strings.Builder
	sb.WriteString("Symbol Table\n")

	globals := append([]*Symbol(nil), s.global.symbols...)
	sort.Slice(globals, func(i, j int) bool { return globals[i].Name < globals[j].Name })
	sb.WriteString("  Globals:\n")
	for _, sym := range globals {
		switch sym.Kind {
		case SymFunction:
			state := "defined"
			if !sym.Defined {
				state = "declared"
			}
			fmt.Fprintf(&sb, "    %-12s %-9s %s (%s)\n", sym.Name, sym.Kind, sym.Type, state)
		case SymEnumConst:
			fmt.Fprintf(&sb, "    %-12s %-9s = %d\n", sym.Name, sym.Kind, sym.Value)
		default:
			fmt.Fprintf(&sb, "    %-12s %-9s %s label=%s size=%d\n", sym.Name, sym.Kind, sym.Type, sym.Label, sym.Size)
		}
	}

	if len(s.structs) > 0 {
		names := make([]string, 0, len(s.structs))
		for n := range s.structs {
			names = append(names, n)
		}
		sort.Strings(names)
		sb.WriteString("  Structs:\n")
		for _, n := range names {
			def := s.structs[n]
			fmt.Fprintf(&sb, "    struct %s (size %d)\n", n, def.Size)
			for _, m := range def.Members {
				fmt.Fprintf(&sb, "      %-10s %-10s offset=%d\n", m.Name, m.Type, m.Offset)
			}
		}
	}

	for _, f := range s.frames {
		fmt.Fprintf(&sb, "  Function %s (frame %d bytes):\n", f.Function, f.Size())
		for _, sym := range f.Symbols {
			fmt.Fprintf(&sb, "    %-12s %-9s %-12s level=%d offset=%d size=%d\n",
				sym.Name, sym.Kind, sym.Type, sym.Level, sym.Offset, sym.Size)
		}
	}
	return sb.String()
}
