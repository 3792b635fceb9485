package compiler

import (
	"strings"
	"testing"

	"github.com/nalgeon/be"
)

func local(name string, t *Type) *Symbol {
	return &Symbol{Name: name, Type: t, Kind: SymVariable}
}

func TestSymbolTableScopes(t *testing.T) {
	st := NewSymbolTable()
	intT := MakeType(TypeInt)

	be.True(t, st.InsertGlobal(local("g", intT)))
	be.Equal(t, st.Level(), 0)
	be.True(t, !st.InFunction())

	st.EnterFunction("f")
	be.Equal(t, st.Level(), 1)
	be.True(t, st.InFunction())

	a := local("a", intT)
	be.True(t, st.Insert(a))
	be.Equal(t, a.Offset, 0)
	be.Equal(t, a.FrameAddr(), -8)
	be.Equal(t, a.Level, 1)

	st.EnterScope()
	b := local("b", intT)
	be.True(t, st.Insert(b))
	be.Equal(t, b.Level, 2)
	be.Equal(t, b.FrameAddr(), -16)

	found, ok := st.Lookup("a")
	be.True(t, ok)
	be.Equal(t, found, a)
	_, ok = st.LookupCurrent("a")
	be.True(t, !ok)
	found, ok = st.Lookup("g")
	be.True(t, ok)
	be.True(t, found.IsGlobal())
	st.ExitScope()

	_, ok = st.Lookup("b")
	be.True(t, !ok)

	// A sibling block gets fresh storage.
	st.EnterScope()
	c := local("c", intT)
	st.Insert(c)
	be.True(t, c.FrameAddr() != b.FrameAddr())
	be.Equal(t, c.Offset, 16)
	st.ExitScope()

	d := local("d", MakeArray(MakeType(TypeChar), 3))
	st.Insert(d)
	be.Equal(t, d.Offset, 24)
	be.Equal(t, d.Size, 8)

	f := st.ExitFunction()
	be.Equal(t, f.Function, "f")
	be.Equal(t, f.Size(), 32)
	be.Equal(t, len(f.Symbols), 4)
	be.Equal(t, st.Level(), 0)
	be.Equal(t, len(st.Frames()), 1)
}

func TestSymbolTableRedeclaration(t *testing.T) {
	st := NewSymbolTable()
	intT := MakeType(TypeInt)

	st.EnterFunction("main")
	be.True(t, st.Insert(local("x", intT)))
	be.True(t, !st.Insert(local("x", intT)))

	st.EnterScope()
	shadow := local("x", MakeType(TypeChar))
	be.True(t, st.Insert(shadow))
	found, _ := st.Lookup("x")
	be.Equal(t, found, shadow)
	st.ExitScope()

	found, _ = st.Lookup("x")
	be.Equal(t, found.Type.Kind(), TypeInt)
	st.ExitFunction()
}

func TestSymbolTableFrameAlignment(t *testing.T) {
	st := NewSymbolTable()
	st.EnterFunction("f")
	st.Insert(local("a", MakeType(TypeInt)))
	f := st.ExitFunction()
	be.Equal(t, f.Size(), 16)

	st.EnterFunction("empty")
	f = st.ExitFunction()
	be.Equal(t, f.Size(), 0)
}

func TestSymbolTableExitFunctionClosesBlocks(t *testing.T) {
	st := NewSymbolTable()
	st.EnterFunction("f")
	st.EnterScope()
	st.EnterScope()
	st.Insert(local("deep", MakeArray(MakeType(TypeInt), 3)))
	f := st.ExitFunction()
	be.Equal(t, f.Size(), 32)
	be.Equal(t, st.Level(), 0)
	_, ok := st.Lookup("deep")
	be.True(t, !ok)
}

func TestSymbolTableStorageClasses(t *testing.T) {
	st := NewSymbolTable()
	intT := MakeType(TypeInt)

	st.EnterFunction("f")
	s := &Symbol{Name: "count", Type: intT, Kind: SymVariable, Static: true}
	st.Insert(s)
	be.Equal(t, s.Label, "count.1")
	be.True(t, s.IsGlobal())

	e := &Symbol{Name: "shared", Type: intT, Kind: SymVariable, Extern: true}
	st.Insert(e)
	be.Equal(t, e.Label, "shared")

	fn := &Symbol{Name: "helper", Type: MakeFunction(intT, nil, false), Kind: SymFunction}
	st.Insert(fn)
	be.Equal(t, fn.Size, 0)

	f := st.ExitFunction()
	be.Equal(t, len(f.Symbols), 0)
	be.Equal(t, f.Size(), 0)
}

func TestSymbolTableStructs(t *testing.T) {
	st := NewSymbolTable()
	be.True(t, st.DefineStruct(&StructLayout{Name: "P"}))
	def := &StructLayout{Name: "P", Members: []Member{{Name: "x", Type: MakeType(TypeInt)}}, Size: 8}
	be.True(t, st.DefineStruct(def))
	be.True(t, !st.DefineStruct(&StructLayout{Name: "P", Members: def.Members}))

	got, ok := st.GetStruct("P")
	be.True(t, ok)
	be.Equal(t, got.Size, 8)
}

func TestSymbolTableExitGlobalPanics(t *testing.T) {
	defer func() {
		be.True(t, recover() != nil)
	}()
	NewSymbolTable().ExitScope()
}

func TestSymbolTableString(t *testing.T) {
	st := NewSymbolTable()
	st.InsertGlobal(&Symbol{Name: "main", Type: MakeFunction(MakeType(TypeInt), nil, false), Kind: SymFunction, Defined: true})
	st.EnterFunction("main")
	st.Insert(local("x", MakeType(TypeInt)))
	st.ExitFunction()

	out := st.String()
	be.True(t, strings.Contains(out, "Symbol Table"))
	be.True(t, strings.Contains(out, "(defined)"))
	be.True(t, strings.Contains(out, "Function main (frame 16 bytes)"))
}
