// Package config holds process-wide constants and the optional on-disk
// project configuration for Obfusku tooling.
package config

import "strings"

// Version is the engine version, overridable at build time with
// -ldflags "-X github.com/sxnnyside/obfusku/internal/config.Version=...".
var Version = "0.3.0"

// VersionMajor/Minor/Patch are the numeric components written into the
// serialized bytecode header. A file is accepted only if its major
// version matches these.
const (
	VersionMajor byte = 1
	VersionMinor byte = 0
	VersionPatch byte = 0
)

// Recognized source and artifact file extensions.
const (
	SourceExt   = ".obk" // spell source
	ModuleExt   = ".obx" // importable module source
	CompiledExt = ".obc" // serialized chunk
)

// SourceFileExtensions lists every extension the loader and CLI treat as
// Obfusku source, in resolution-preference order.
var SourceFileExtensions = []string{SourceExt, ModuleExt}

// HasSourceExt reports whether path ends in a recognized source extension.
func HasSourceExt(path string) bool {
	for _, ext := range SourceFileExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// TrimSourceExt removes a recognized source extension from path, if present.
func TrimSourceExt(path string) string {
	for _, ext := range SourceFileExtensions {
		if strings.HasSuffix(path, ext) {
			return strings.TrimSuffix(path, ext)
		}
	}
	return path
}

// Runtime resource bounds, per the operand-stack and call-frame caps.
const (
	MaxStackDepth = 65536
	MaxCallDepth  = 1024
)

// IsTestMode is a process-wide flag for test harnesses; no code in this
// module reads it.
var IsTestMode = false
