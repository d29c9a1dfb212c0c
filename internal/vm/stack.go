// Package vm implements the runtime context and interpreter loop: the
// operand stack, call frames, scopes, the accumulator register, exception
// handling, and the fetch-decode-execute cycle over a Chunk.
package vm

import (
	"github.com/sxnnyside/obfusku/internal/bytecode"
	"github.com/sxnnyside/obfusku/internal/config"
)

// Stack is the bounded LIFO operand stack. Overflow and underflow are
// both RuntimeError-fatal.
type Stack struct {
	values   []bytecode.Value
	maxDepth int
}

// NewStack returns an empty Stack capped at maxDepth entries.
func NewStack(maxDepth int) *Stack {
	if maxDepth <= 0 {
		maxDepth = config.MaxStackDepth
	}
	return &Stack{maxDepth: maxDepth}
}

func (s *Stack) Len() int { return len(s.values) }

func (s *Stack) Push(v bytecode.Value) error {
	if len(s.values) >= s.maxDepth {
		return &RuntimeError{Kind: ErrStackOverflow}
	}
	s.values = append(s.values, v)
	return nil
}

func (s *Stack) Pop() (bytecode.Value, error) {
	if len(s.values) == 0 {
		return bytecode.Value{}, &RuntimeError{Kind: ErrStackUnderflow}
	}
	v := s.values[len(s.values)-1]
	s.values = s.values[:len(s.values)-1]
	return v, nil
}

// PopN pops n values, returning them oldest-pushed-first.
func (s *Stack) PopN(n int) ([]bytecode.Value, error) {
	if len(s.values) < n {
		return nil, &RuntimeError{Kind: ErrStackUnderflow}
	}
	start := len(s.values) - n
	out := make([]bytecode.Value, n)
	copy(out, s.values[start:])
	s.values = s.values[:start]
	return out, nil
}

func (s *Stack) Peek() (bytecode.Value, error) {
	return s.PeekAt(0)
}

// PeekAt returns the value depth entries from the top (0 is the top).
func (s *Stack) PeekAt(depth int) (bytecode.Value, error) {
	idx := len(s.values) - 1 - depth
	if idx < 0 || idx >= len(s.values) {
		return bytecode.Value{}, &RuntimeError{Kind: ErrStackUnderflow}
	}
	return s.values[idx], nil
}

// SetAt overwrites the value depth entries from the top.
func (s *Stack) SetAt(depth int, v bytecode.Value) error {
	idx := len(s.values) - 1 - depth
	if idx < 0 || idx >= len(s.values) {
		return &RuntimeError{Kind: ErrStackUnderflow}
	}
	s.values[idx] = v
	return nil
}

func (s *Stack) Dup() error {
	v, err := s.Peek()
	if err != nil {
		return err
	}
	return s.Push(v)
}

func (s *Stack) Swap() error {
	a, err := s.Peek()
	if err != nil {
		return err
	}
	b, err := s.PeekAt(1)
	if err != nil {
		return err
	}
	s.SetAt(0, b)
	s.SetAt(1, a)
	return nil
}

// Rotate implements (a b c -> c a b): the top becomes third-from-top,
// and the other two shift up.
func (s *Stack) Rotate() error {
	c, err := s.PeekAt(0)
	if err != nil {
		return err
	}
	b, err := s.PeekAt(1)
	if err != nil {
		return err
	}
	a, err := s.PeekAt(2)
	if err != nil {
		return err
	}
	s.SetAt(0, b)
	s.SetAt(1, a)
	s.SetAt(2, c)
	return nil
}

func (s *Stack) Clear() { s.values = s.values[:0] }

// Truncate shrinks the stack down to depth entries, used to unwind on
// Throw.
func (s *Stack) Truncate(depth int) {
	if depth < len(s.values) {
		s.values = s.values[:depth]
	}
}
