// Package serialize encodes and decodes a Chunk to Obfusku's bytecode
// file format: a magic/version header followed by the code, constant,
// string, line-map and function-table sections, all little-endian.
package serialize

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sxnnyside/obfusku/internal/bytecode"
	"github.com/sxnnyside/obfusku/internal/config"
)

var magic = [4]byte{'O', 'B', 'F', 'K'}

// Write encodes chunk to w: magic, version, chunk name, then the
// code/constants/strings/lines/functions sections.
func Write(w io.Writer, chunk *bytecode.Chunk) error {
	bw := bufio.NewWriter(w)
	e := &encoder{w: bw}

	e.bytes(magic[:])
	e.bytes([]byte{config.VersionMajor, config.VersionMinor, config.VersionPatch, 0})
	e.string16(chunk.Name)

	e.u32(uint32(len(chunk.Code)))
	e.bytes(chunk.Code)

	e.u16(uint16(len(chunk.Constants)))
	for _, v := range chunk.Constants {
		e.value(v)
	}

	e.u16(uint16(len(chunk.Strings)))
	for _, s := range chunk.Strings {
		e.string16(s)
	}

	e.u32(uint32(len(chunk.Lines)))
	for _, l := range chunk.Lines {
		e.u32(uint32(l))
	}

	e.u16(uint16(len(chunk.Functions)))
	for _, fn := range chunk.Functions {
		e.string16(fn.Name)
		e.bytes([]byte{fn.Arity})
		e.u16(uint16(len(fn.Params)))
		for _, p := range fn.Params {
			e.string16(p.Name)
			e.bytes([]byte{byte(p.Type)})
		}
		e.u32(uint32(fn.Start))
		e.u32(uint32(fn.Length))
	}

	if e.err != nil {
		return e.err
	}
	return bw.Flush()
}

// Read decodes a Chunk from r, validating the magic and major version.
func Read(r io.Reader) (*bytecode.Chunk, error) {
	d := &decoder{r: bufio.NewReader(r)}

	var gotMagic [4]byte
	d.bytes(gotMagic[:])
	if d.err == nil && gotMagic != magic {
		return nil, fmt.Errorf("serialize: bad magic %q", gotMagic)
	}

	var ver [4]byte
	d.bytes(ver[:])
	if d.err == nil && ver[0] != config.VersionMajor {
		return nil, fmt.Errorf("serialize: unsupported major version %d (runtime is %d)", ver[0], config.VersionMajor)
	}

	name := d.string16()
	chunk := bytecode.NewChunk(name)

	codeLen := d.u32()
	chunk.Code = make([]byte, codeLen)
	d.bytes(chunk.Code)

	constCount := d.u16()
	chunk.Constants = make([]bytecode.Value, constCount)
	for i := range chunk.Constants {
		chunk.Constants[i] = d.value()
	}

	strCount := d.u16()
	chunk.Strings = make([]string, strCount)
	for i := range chunk.Strings {
		chunk.Strings[i] = d.string16()
	}

	lineCount := d.u32()
	chunk.Lines = make([]int, lineCount)
	for i := range chunk.Lines {
		chunk.Lines[i] = int(d.u32())
	}

	fnCount := d.u16()
	chunk.Functions = make([]bytecode.FunctionInfo, fnCount)
	for i := range chunk.Functions {
		fn := &chunk.Functions[i]
		fn.Name = d.string16()
		fn.Arity = d.byte()
		paramCount := d.u16()
		fn.Params = make([]bytecode.Param, paramCount)
		for j := range fn.Params {
			fn.Params[j].Name = d.string16()
			fn.Params[j].Type = bytecode.ValueType(d.byte())
		}
		fn.Start = int(d.u32())
		fn.Length = int(d.u32())
	}

	if d.err != nil {
		return nil, d.err
	}
	return chunk, nil
}

// --- encoder ---

type encoder struct {
	w   *bufio.Writer
	err error
}

func (e *encoder) bytes(b []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(b)
}

func (e *encoder) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.bytes(b[:])
}

func (e *encoder) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.bytes(b[:])
}

func (e *encoder) string16(s string) {
	e.u16(uint16(len(s)))
	e.bytes([]byte(s))
}

func (e *encoder) value(v bytecode.Value) {
	e.bytes([]byte{byte(v.Type)})
	switch v.Type {
	case bytecode.TNull:
		// no payload
	case bytecode.TInteger:
		e.u32(uint32(v.AsInt()))
		e.u32(uint32(v.AsInt() >> 32))
	case bytecode.TReal:
		e.u32(uint32(v.Data))
		e.u32(uint32(v.Data >> 32))
	case bytecode.TBoolean:
		if v.AsBool() {
			e.bytes([]byte{1})
		} else {
			e.bytes([]byte{0})
		}
	case bytecode.TString:
		e.string16(v.AsString())
	case bytecode.TRune:
		e.u32(uint32(v.AsRune()))
	case bytecode.TArray:
		arr := v.AsArray()
		e.u16(uint16(len(arr)))
		for _, el := range arr {
			e.value(el)
		}
	case bytecode.TMap:
		m := v.AsMap()
		keys, values := m.Keys(), m.Values()
		e.u16(uint16(len(keys)))
		for i := range keys {
			e.value(keys[i])
			e.value(values[i])
		}
	case bytecode.TFunction:
		e.u16(uint16(v.AsIndex()))
	case bytecode.TClosure:
		c := v.AsClosure()
		e.u16(uint16(c.FuncIndex))
		e.u16(uint16(len(c.Captures)))
		for _, cap := range c.Captures {
			e.value(cap)
		}
	case bytecode.TModule:
		e.u16(uint16(v.AsIndex()))
	}
}

// --- decoder ---

type decoder struct {
	r   *bufio.Reader
	err error
}

func (d *decoder) bytes(b []byte) {
	if d.err != nil {
		return
	}
	_, d.err = io.ReadFull(d.r, b)
}

func (d *decoder) byte() byte {
	var b [1]byte
	d.bytes(b[:])
	return b[0]
}

func (d *decoder) u16() uint16 {
	var b [2]byte
	d.bytes(b[:])
	return binary.LittleEndian.Uint16(b[:])
}

func (d *decoder) u32() uint32 {
	var b [4]byte
	d.bytes(b[:])
	return binary.LittleEndian.Uint32(b[:])
}

func (d *decoder) string16() string {
	n := d.u16()
	b := make([]byte, n)
	d.bytes(b)
	return string(b)
}

func (d *decoder) value() bytecode.Value {
	t, ok := bytecode.ValidValueType(d.byte())
	if !ok {
		if d.err == nil {
			d.err = fmt.Errorf("serialize: invalid value type tag")
		}
		return bytecode.Null()
	}
	switch t {
	case bytecode.TNull:
		return bytecode.Null()
	case bytecode.TInteger:
		lo, hi := d.u32(), d.u32()
		return bytecode.IntVal(int64(uint64(lo) | uint64(hi)<<32))
	case bytecode.TReal:
		lo, hi := d.u32(), d.u32()
		bits := uint64(lo) | uint64(hi)<<32
		return bytecode.Value{Type: bytecode.TReal, Data: bits}
	case bytecode.TBoolean:
		return bytecode.BoolVal(d.byte() != 0)
	case bytecode.TString:
		return bytecode.StringVal(d.string16())
	case bytecode.TRune:
		return bytecode.RuneVal(rune(d.u32()))
	case bytecode.TArray:
		n := d.u16()
		arr := make([]bytecode.Value, n)
		for i := range arr {
			arr[i] = d.value()
		}
		return bytecode.ArrayVal(arr)
	case bytecode.TMap:
		n := int(d.u16())
		m := bytecode.NewMapValue(n)
		for i := 0; i < n; i++ {
			k := d.value()
			v := d.value()
			m.Set(k, v)
		}
		return bytecode.MapVal(m)
	case bytecode.TFunction:
		return bytecode.FunctionVal(int(d.u16()))
	case bytecode.TClosure:
		funcIdx := int(d.u16())
		n := d.u16()
		captures := make([]bytecode.Value, n)
		for i := range captures {
			captures[i] = d.value()
		}
		return bytecode.ClosureVal(&bytecode.Closure{FuncIndex: funcIdx, Captures: captures})
	case bytecode.TModule:
		return bytecode.ModuleVal(int(d.u16()))
	}
	return bytecode.Null()
}
