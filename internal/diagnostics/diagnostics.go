// Package diagnostics carries positioned, human-readable errors. The
// lexer and compiler report errors through their own Error types.
package diagnostics

import (
	"fmt"

	"github.com/sxnnyside/obfusku/internal/sourcemap"
)

// Severity classifies a Diagnostic.
type Severity uint8

const (
	SeverityError Severity = iota
	SeverityWarning
)

// Diagnostic is one positioned message.
type Diagnostic struct {
	Severity Severity
	Message  string
	Pos      sourcemap.Pos
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s at %s: %s", d.Severity, d.Pos, d.Message)
}

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Diagnostics collects Diagnostic values as compilation proceeds.
type Diagnostics struct {
	items []Diagnostic
}

// Add appends a new error-severity diagnostic.
func (d *Diagnostics) Add(message string, pos sourcemap.Pos) {
	d.items = append(d.items, Diagnostic{Severity: SeverityError, Message: message, Pos: pos})
}

// AddWarning appends a new warning-severity diagnostic.
func (d *Diagnostics) AddWarning(message string, pos sourcemap.Pos) {
	d.items = append(d.items, Diagnostic{Severity: SeverityWarning, Message: message, Pos: pos})
}

// HasErrors reports whether any error-severity diagnostic was recorded.
func (d *Diagnostics) HasErrors() bool {
	for _, it := range d.items {
		if it.Severity == SeverityError {
			return true
		}
	}
	return false
}

// All returns every collected diagnostic in recording order.
func (d *Diagnostics) All() []Diagnostic {
	return d.items
}

// Render formats every diagnostic using sm for source-excerpt context.
func (d *Diagnostics) Render(sm *sourcemap.Map) string {
	out := ""
	for _, it := range d.items {
		out += sm.FormatError(it.Pos, it.Message)
	}
	return out
}
