package compiler

import (
	"fmt"
	"slices"
	"strings"
)

// TypeKind is the base kind of a C type.
type TypeKind int

const (
	TypeInt TypeKind = iota
	TypeFloat
	TypeChar
	TypeVoid
	TypeShort
	TypeLong
	TypeDouble
	TypeUnsigned
	TypePointer
	TypeArray
	TypeFunction
	TypeStruct
	TypeUnknown
)

var typeKindNames = [...]string{
	TypeInt:      "int",
	TypeFloat:    "float",
	TypeChar:     "char",
	TypeVoid:     "void",
	TypeShort:    "short",
	TypeLong:     "long",
	TypeDouble:   "double",
	TypeUnsigned: "unsigned",
	TypePointer:  "pointer",
	TypeArray:    "array",
	TypeFunction: "function",
	TypeStruct:   "struct",
	TypeUnknown:  "unknown",
}

func (k TypeKind) String() string {
	if int(k) >= 0 && int(k) < len(typeKindNames) {
		return typeKindNames[k]
	}
	return fmt.Sprintf("TypeKind(%d)", int(k))
}

// wordSize is the slot size of every scalar that is not a char or short.
const wordSize = 8

// Member is one field of a struct layout.
type Member struct {
	Name   string
	Type   *Type
	Offset int
}

// Type describes a C type.
//
// The scalar element kind lives in Base; pointers and arrays are layered on
// top of it:
//
//	int **a[3][4]
//	^^^ ^^  ^^^^^^
//	|   |   Dims = [3 4]   (Dims[0] is the outermost extent)
//	|   Pointer = 2        (applies to the element)
//	Base = TypeInt
//
// A function type has Base TypeFunction, a Return type and Params.
type Type struct {
	Base     TypeKind
	Pointer  int   // count of '*'
	Dims     []int // nil when the type is not an array
	Const    bool
	Volatile bool

	Return   *Type
	Params   []*Type
	Variadic bool

	StructName string
	Members    []Member // nil when the layout is not known
}

// MakeType returns a fresh type of the given base kind with no indirection.
func MakeType(base TypeKind) *Type {
	return &Type{Base: base}
}

// MakePointer returns a copy of base with one more pointer level.
func MakePointer(base *Type) *Type {
	t := base.clone()
	t.Pointer++
	return t
}

// MakeArray returns a copy of base with an extra outermost dimension of size
// elements. A size of -1 marks an extent that is not known yet.
func MakeArray(base *Type, size int) *Type {
	t := base.clone()
	t.Dims = append([]int{size}, base.Dims...)
	return t
}

// MakeFunction returns a function type returning ret.
func MakeFunction(ret *Type, params []*Type, variadic bool) *Type {
	return &Type{Base: TypeFunction, Return: ret, Params: params, Variadic: variadic}
}

func (t *Type) clone() *Type {
	c := *t
	c.Dims = slices.Clone(t.Dims)
	c.Params = slices.Clone(t.Params)
	c.Members = slices.Clone(t.Members)
	return &c
}

// Kind reports the outermost kind: array, then pointer, then the base.
func (t *Type) Kind() TypeKind {
	switch {
	case t == nil:
		return TypeUnknown
	case len(t.Dims) > 0:
		return TypeArray
	case t.Pointer > 0:
		return TypePointer
	default:
		return t.Base
	}
}

func (t *Type) IsArray() bool   { return t != nil && len(t.Dims) > 0 }
func (t *Type) IsPointer() bool { return t != nil && len(t.Dims) == 0 && t.Pointer > 0 }
func (t *Type) IsUnknown() bool { return t == nil || t.Kind() == TypeUnknown }

// IsPointerLike reports whether t can be dereferenced or subscripted.
func (t *Type) IsPointerLike() bool { return t.IsArray() || t.IsPointer() }

func isNumericKind(k TypeKind) bool {
	switch k {
	case TypeInt, TypeFloat, TypeChar, TypeShort, TypeLong, TypeDouble, TypeUnsigned:
		return true
	}
	return false
}

// IsNumeric reports whether t is a plain arithmetic value.
func (t *Type) IsNumeric() bool {
	return t != nil && !t.IsPointerLike() && isNumericKind(t.Base)
}

// IsInteger reports whether t is an integer value (not floating, not a pointer).
func (t *Type) IsInteger() bool {
	return t.IsNumeric() && t.Base != TypeFloat && t.Base != TypeDouble
}

// IsFloating reports whether t is a float or double value.
func (t *Type) IsFloating() bool {
	return t.IsNumeric() && (t.Base == TypeFloat || t.Base == TypeDouble)
}

func (t *Type) IsStruct() bool {
	return t != nil && !t.IsPointerLike() && t.Base == TypeStruct
}

func (t *Type) IsFunction() bool {
	return t != nil && t.Base == TypeFunction
}

// Elem peels one array dimension, or one pointer level when t is not an
// array. Anything else yields the unknown type.
func (t *Type) Elem() *Type {
	switch {
	case t.IsArray():
		e := t.clone()
		e.Dims = e.Dims[1:]
		if len(e.Dims) == 0 {
			e.Dims = nil
		}
		return e
	case t.IsPointer():
		e := t.clone()
		e.Pointer--
		return e
	}
	return MakeType(TypeUnknown)
}

// Decay converts an array to a pointer to its scalar element; other types are
// returned unchanged.
func (t *Type) Decay() *Type {
	if !t.IsArray() {
		return t
	}
	d := t.clone()
	d.Dims = nil
	d.Pointer++
	return d
}

// ScalarSize is the size of one element once every dimension has been
// subscripted away.
func (t *Type) ScalarSize() int {
	if t == nil {
		return wordSize
	}
	if t.Pointer > 0 {
		return wordSize
	}
	switch t.Base {
	case TypeChar:
		return 1
	case TypeShort:
		return 2
	case TypeStruct:
		return structSize(t.Members)
	}
	return wordSize
}

// Size is sizeof(t) in bytes.
func (t *Type) Size() int {
	n := t.ScalarSize()
	for _, d := range t.Dims {
		if d > 0 {
			n *= d
		}
	}
	return n
}

// StorageSize is the frame space a variable of type t occupies: Size rounded
// up to a whole number of 8-byte slots.
func (t *Type) StorageSize() int {
	return alignTo(t.Size(), wordSize)
}

// Stride is the byte distance between consecutive elements when t is
// subscripted: the product of the remaining inner dimensions times the scalar
// size for arrays, the pointee size for pointers.
func (t *Type) Stride() int {
	if t.IsPointerLike() {
		return t.Elem().Size()
	}
	return wordSize
}

// structSize lays members out on 8-byte boundaries. Without member metadata
// the size covers the two-word x/y layout that member access falls back to.
func structSize(members []Member) int {
	if len(members) == 0 {
		return 2 * wordSize
	}
	last := members[len(members)-1]
	return alignTo(last.Offset+last.Type.Size(), wordSize)
}

// Member looks a field up by name.
func (t *Type) Member(name string) (Member, bool) {
	for _, m := range t.Members {
		if m.Name == name {
			return m, true
		}
	}
	return Member{}, false
}

// Compatible reports whether a value of type a may be used where b is
// expected without a diagnostic: base kinds must match, treating every
// numeric kind as interchangeable, and pointer levels must be equal. Array
// extents are ignored. A void pointer matches any pointer of the same level.
func Compatible(a, b *Type) bool {
	if a == nil || b == nil {
		return false
	}
	if a.Pointer != b.Pointer {
		return false
	}
	if a.Base == b.Base {
		return true
	}
	if isNumericKind(a.Base) && isNumericKind(b.Base) {
		return true
	}
	return a.Pointer > 0 && (a.Base == TypeVoid || b.Base == TypeVoid)
}

// String renders t for diagnostics, e.g. "int**[3]" or "struct Point".
func (t *Type) String() string {
	if t == nil {
		return "unknown"
	}
	var sb strings.Builder
	if t.Const {
		sb.WriteString("const ")
	}
	switch t.Base {
	case TypeFunction:
		sb.WriteString("function(")
		for i, p := range t.Params {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(p.String())
		}
		if t.Variadic {
			if len(t.Params) > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("...")
		}
		sb.WriteString(")->")
		sb.WriteString(t.Return.String())
	case TypeStruct:
		sb.WriteString("struct ")
		sb.WriteString(t.StructName)
	default:
		sb.WriteString(t.Base.String())
	}
	sb.WriteString(strings.Repeat("*", t.Pointer))
	for _, d := range t.Dims {
		if d < 0 {
			sb.WriteString("[]")
		} else {
			fmt.Fprintf(&sb, "[%d]", d)
		}
	}
	return sb.String()
}
