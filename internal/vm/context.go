package vm

import (
	"github.com/sxnnyside/obfusku/internal/bytecode"
	"github.com/sxnnyside/obfusku/internal/config"
)

// Variable is one binding in a Scope.
type Variable struct {
	Value    bytecode.Value
	Type     bytecode.ValueType
	Optional bool
	Mutable  bool
}

// Scope is an insertion-ordered identifier -> Variable mapping. Lookup
// for a CallFrame searches its own Scope then falls through to globals;
// Scope itself only ever searches its own bindings.
type Scope struct {
	vars  map[string]*Variable
	order []string
}

func NewScope() *Scope {
	return &Scope{vars: make(map[string]*Variable)}
}

// Declare binds name to value for the first time in this scope. It
// fails if name is already declared here.
func (s *Scope) Declare(name string, value bytecode.Value, t bytecode.ValueType, optional bool) error {
	if _, exists := s.vars[name]; exists {
		return &RuntimeError{Kind: ErrDuplicateDeclaration, Detail: name}
	}
	s.vars[name] = &Variable{Value: value, Type: t, Optional: optional, Mutable: true}
	s.order = append(s.order, name)
	return nil
}

// Get returns name's Variable from this scope only.
func (s *Scope) Get(name string) (*Variable, bool) {
	v, ok := s.vars[name]
	return v, ok
}

// Set assigns value to an already-declared name in this scope. Null may
// only be assigned to an optional variable; any other value's type tag
// must equal the declared type.
func (s *Scope) Set(name string, value bytecode.Value) error {
	v, ok := s.vars[name]
	if !ok {
		return &RuntimeError{Kind: ErrUndeclaredVariable, Detail: name}
	}
	if value.Type == bytecode.TNull {
		if !v.Optional {
			return &RuntimeError{Kind: ErrNullToNonOptional, Detail: name}
		}
	} else if value.Type != v.Type {
		return typeMismatch(v.Type.String(), value.Type.String())
	}
	v.Value = value
	return nil
}

// ExceptionHandler is the snapshot captured at TryBegin, used to unwind
// the stack and frames on Throw.
type ExceptionHandler struct {
	HandlerIP  int
	FinallyIP  int
	HasFinally bool
	StackDepth int
	FrameDepth int
	ChunkIndex int
}

// CallFrame is one in-progress function invocation.
type CallFrame struct {
	ChunkIndex int
	IP         int
	BaseSP     int
	Name       string
	Locals     *Scope
	Closure    *bytecode.Closure // nil unless invoked via CallClosure with a Closure value
}

func NewCallFrame(chunkIndex, baseSP int, name string) *CallFrame {
	return &CallFrame{ChunkIndex: chunkIndex, BaseSP: baseSP, Name: name, Locals: NewScope()}
}

func NewCallFrameWithClosure(chunkIndex, baseSP int, name string, c *bytecode.Closure) *CallFrame {
	f := NewCallFrame(chunkIndex, baseSP, name)
	f.Closure = c
	return f
}

// Context owns every piece of mutable state one execution shares across
// its lifetime: loaded chunks, the call-frame stack, globals, the
// accumulator and its save/restore stack, the exception-handler stack,
// and the halt flag.
type Context struct {
	Chunks []*bytecode.Chunk
	Frames []*CallFrame
	Global *Scope

	Accumulator     int64
	accumulatorSave []int64

	Handlers         []*ExceptionHandler
	CurrentException bytecode.Value

	Halted       bool
	maxCallDepth int

	Stdout stdWriter
	Stdin  stdReader
}

type stdWriter interface {
	WriteString(s string) (int, error)
}
type stdReader interface {
	ReadLine() (string, error)
}

// NewContext builds a fresh Context over the given chunks, ready to run
// from chunk 0.
func NewContext(chunks []*bytecode.Chunk, out stdWriter, in stdReader) *Context {
	return &Context{
		Chunks:           chunks,
		Global:           NewScope(),
		CurrentException: bytecode.Null(),
		maxCallDepth:     config.MaxCallDepth,
		Stdout:           out,
		Stdin:            in,
	}
}

func (c *Context) GetChunk(i int) *bytecode.Chunk {
	if i < 0 || i >= len(c.Chunks) {
		return nil
	}
	return c.Chunks[i]
}

func (c *Context) CurrentFrame() *CallFrame {
	if len(c.Frames) == 0 {
		return nil
	}
	return c.Frames[len(c.Frames)-1]
}

func (c *Context) PushFrame(f *CallFrame) error {
	if len(c.Frames) >= c.maxCallDepth {
		return &RuntimeError{Kind: ErrCallStackOverflow}
	}
	c.Frames = append(c.Frames, f)
	return nil
}

func (c *Context) PopFrame() (*CallFrame, error) {
	if len(c.Frames) == 0 {
		return nil, &RuntimeError{Kind: ErrCallStackUnderflow}
	}
	f := c.Frames[len(c.Frames)-1]
	c.Frames = c.Frames[:len(c.Frames)-1]
	return f, nil
}

func (c *Context) InLoop() bool {
	// Loop membership is guaranteed at compile time: break/continue never
	// reach the interpreter as distinct opcodes, they are lowered to
	// patched Jump/Loop instructions. Retained as a hook for a host that
	// hand-assembles bytecode.
	return true
}

// DeclareVariable declares name in the innermost active scope: the
// current frame's locals if any frame is active, otherwise globals.
func (c *Context) DeclareVariable(name string, value bytecode.Value, t bytecode.ValueType, optional bool) error {
	if f := c.CurrentFrame(); f != nil {
		return f.Locals.Declare(name, value, t, optional)
	}
	return c.Global.Declare(name, value, t, optional)
}

// GetVariable resolves name: current frame's locals, then globals.
func (c *Context) GetVariable(name string) (bytecode.Value, error) {
	if f := c.CurrentFrame(); f != nil {
		if v, ok := f.Locals.Get(name); ok {
			return v.Value, nil
		}
	}
	if v, ok := c.Global.Get(name); ok {
		return v.Value, nil
	}
	return bytecode.Value{}, &RuntimeError{Kind: ErrUndeclaredVariable, Detail: name}
}

// SetVariable assigns to name, searching locals then globals.
func (c *Context) SetVariable(name string, value bytecode.Value) error {
	if f := c.CurrentFrame(); f != nil {
		if _, ok := f.Locals.Get(name); ok {
			return f.Locals.Set(name, value)
		}
	}
	if _, ok := c.Global.Get(name); ok {
		return c.Global.Set(name, value)
	}
	return &RuntimeError{Kind: ErrUndeclaredVariable, Detail: name}
}

func (c *Context) GetGlobal(name string) (bytecode.Value, error) {
	if v, ok := c.Global.Get(name); ok {
		return v.Value, nil
	}
	return bytecode.Value{}, &RuntimeError{Kind: ErrUndeclaredVariable, Detail: name}
}

func (c *Context) SetGlobal(name string, value bytecode.Value) error {
	if _, ok := c.Global.Get(name); ok {
		return c.Global.Set(name, value)
	}
	return &RuntimeError{Kind: ErrUndeclaredVariable, Detail: name}
}

// PushAccumulator saves the current accumulator value for a nested loop.
func (c *Context) PushAccumulator() {
	c.accumulatorSave = append(c.accumulatorSave, c.Accumulator)
}

// PopAccumulator restores the most recently saved accumulator value.
func (c *Context) PopAccumulator() {
	if n := len(c.accumulatorSave); n > 0 {
		c.Accumulator = c.accumulatorSave[n-1]
		c.accumulatorSave = c.accumulatorSave[:n-1]
	}
}

// PushHandler records h as the innermost active exception handler.
func (c *Context) PushHandler(h *ExceptionHandler) {
	c.Handlers = append(c.Handlers, h)
}

// PopHandler removes the innermost active exception handler.
func (c *Context) PopHandler() *ExceptionHandler {
	if n := len(c.Handlers); n > 0 {
		h := c.Handlers[n-1]
		c.Handlers = c.Handlers[:n-1]
		return h
	}
	return nil
}
