package bytecode

import (
	"fmt"
	"math"
	"strconv"
)

// ValueType is the tag byte of a Value. Numbering is part of the
// serialized bytecode format and must never change.
type ValueType uint8

const (
	TInteger ValueType = 0
	TReal    ValueType = 1
	TString  ValueType = 2
	TBoolean ValueType = 3
	TRune    ValueType = 4
	TArray   ValueType = 5
	TMap     ValueType = 6
	TNull    ValueType = 7
	TFunction ValueType = 8
	TClosure ValueType = 9
	TModule  ValueType = 10
)

func (t ValueType) String() string {
	switch t {
	case TInteger:
		return "⟁"
	case TReal:
		return "⧆"
	case TString:
		return "⌘"
	case TBoolean:
		return "☍"
	case TRune:
		return "ᚱ"
	case TArray:
		return "⌬"
	case TMap:
		return "⌖"
	case TNull:
		return "∅"
	case TFunction:
		return "λ"
	case TClosure:
		return "λ⊃"
	case TModule:
		return "📦"
	default:
		return "?"
	}
}

// ValidValueType reports whether b decodes to a defined ValueType.
func ValidValueType(b byte) (ValueType, bool) {
	t := ValueType(b)
	switch t {
	case TInteger, TReal, TString, TBoolean, TRune, TArray, TMap, TNull, TFunction, TClosure, TModule:
		return t, true
	}
	return t, false
}

// Closure owns a function index and a by-value snapshot of its captured
// outer locals, taken at MakeClosure time.
type Closure struct {
	FuncIndex int
	Captures  []Value
}

// Value is Obfusku's tagged-union runtime value. Primitives pack their
// payload into Data; heap values (strings, arrays, maps, closures) live
// behind Obj. A Value is always dispatched on Type, never on the shape
// of its fields.
type Value struct {
	Type ValueType
	Data uint64 // Integer bits, Real bits, Boolean 0/1, Rune scalar, Function/Module index
	Obj  any    // String, *[]Value (Array), *MapValue, *Closure
}

func Null() Value               { return Value{Type: TNull} }
func IntVal(v int64) Value      { return Value{Type: TInteger, Data: uint64(v)} }
func RealVal(v float64) Value   { return Value{Type: TReal, Data: math.Float64bits(v)} }
func BoolVal(v bool) Value {
	var d uint64
	if v {
		d = 1
	}
	return Value{Type: TBoolean, Data: d}
}
func RuneVal(v rune) Value      { return Value{Type: TRune, Data: uint64(uint32(v))} }
func StringVal(v string) Value  { return Value{Type: TString, Obj: v} }
func ArrayVal(v []Value) Value  { return Value{Type: TArray, Obj: &v} }
func MapVal(m *MapValue) Value  { return Value{Type: TMap, Obj: m} }
func FunctionVal(idx int) Value { return Value{Type: TFunction, Data: uint64(idx)} }
func ClosureVal(c *Closure) Value { return Value{Type: TClosure, Obj: c} }
func ModuleVal(idx int) Value   { return Value{Type: TModule, Data: uint64(idx)} }

func (v Value) AsInt() int64      { return int64(v.Data) }
func (v Value) AsReal() float64   { return math.Float64frombits(v.Data) }
func (v Value) AsBool() bool      { return v.Data == 1 }
func (v Value) AsRune() rune      { return rune(uint32(v.Data)) }
func (v Value) AsString() string  { return v.Obj.(string) }
func (v Value) AsArray() []Value  { return *(v.Obj.(*[]Value)) }
func (v Value) ArrayPtr() *[]Value { return v.Obj.(*[]Value) }
func (v Value) AsMap() *MapValue  { return v.Obj.(*MapValue) }
func (v Value) AsClosure() *Closure { return v.Obj.(*Closure) }
func (v Value) AsIndex() int      { return int(v.Data) }

// IsTruthy implements the language's truthiness rule: empty, zero, and
// null values are false; functions, closures, and modules are true.
func (v Value) IsTruthy() bool {
	switch v.Type {
	case TNull:
		return false
	case TBoolean:
		return v.AsBool()
	case TInteger:
		return v.AsInt() != 0
	case TReal:
		return v.AsReal() != 0.0
	case TString:
		return v.AsString() != ""
	case TRune:
		return v.AsRune() != 0
	case TArray:
		return len(v.AsArray()) > 0
	case TMap:
		return v.AsMap().Len() > 0
	case TFunction, TClosure, TModule:
		return true
	default:
		return false
	}
}

// Hashable reports whether v is eligible as a Map key.
func (v Value) Hashable() bool {
	switch v.Type {
	case TInteger, TString, TBoolean, TRune, TNull:
		return true
	default:
		return false
	}
}

// hashKey produces a comparable Go value usable as a map key for v, only
// valid when Hashable() is true.
func (v Value) hashKey() any {
	switch v.Type {
	case TInteger:
		return v.AsInt()
	case TString:
		return v.AsString()
	case TBoolean:
		return v.AsBool()
	case TRune:
		return v.AsRune()
	case TNull:
		return nil
	default:
		return v
	}
}

// Equals implements structural equality; cross-type comparisons are
// always false except the identical-tag case (OpEq/OpNe never error).
func (v Value) Equals(other Value) bool {
	if v.Type != other.Type {
		return false
	}
	switch v.Type {
	case TInteger, TBoolean, TRune, TFunction, TModule:
		return v.Data == other.Data
	case TReal:
		return v.Data == other.Data
	case TNull:
		return true
	case TString:
		return v.AsString() == other.AsString()
	case TArray:
		a, b := v.AsArray(), other.AsArray()
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if !a[i].Equals(b[i]) {
				return false
			}
		}
		return true
	case TMap:
		return v.AsMap().equals(other.AsMap())
	case TClosure:
		ac, bc := v.AsClosure(), other.AsClosure()
		if ac.FuncIndex != bc.FuncIndex || len(ac.Captures) != len(bc.Captures) {
			return false
		}
		for i := range ac.Captures {
			if !ac.Captures[i].Equals(bc.Captures[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Display renders v's human-readable form, as used by Print/PrintLit and
// string Interpolate substitution. Boolean and Null render as their
// source glyphs (◉/◎/∅) so output is stable across hosts.
func (v Value) Display() string {
	switch v.Type {
	case TInteger:
		return strconv.FormatInt(v.AsInt(), 10)
	case TReal:
		return strconv.FormatFloat(v.AsReal(), 'g', -1, 64)
	case TString:
		return v.AsString()
	case TBoolean:
		if v.AsBool() {
			return "◉"
		}
		return "◎"
	case TRune:
		return string(v.AsRune())
	case TNull:
		return "∅"
	case TArray:
		elems := v.AsArray()
		parts := make([]string, len(elems))
		for i, e := range elems {
			parts[i] = e.Display()
		}
		return "[" + join(parts, ", ") + "]"
	case TMap:
		return v.AsMap().Display()
	case TFunction:
		return fmt.Sprintf("λ#%d", v.AsIndex())
	case TClosure:
		return fmt.Sprintf("λ⊃#%d", v.AsClosure().FuncIndex)
	case TModule:
		return fmt.Sprintf("📦#%d", v.AsIndex())
	default:
		return "?"
	}
}

func join(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}
