// Package gtfobins resolves living-off-the-land payload templates: given a
// binary present on the victim and a desired capability (read a file, write
// a file, spawn a shell), it produces the exact shell command to run and the
// streaming discipline the surrounding byte-stream machinery must use.
package gtfobins

import "fmt"

// Capability is what a payload method achieves on the victim.
type Capability uint8

const (
	// CapRead reads a remote file's bytes back over the channel.
	CapRead Capability = 1 << iota

	// CapWrite writes a declared number of bytes to a remote file.
	CapWrite

	// CapShell spawns an interactive shell, possibly with elevated
	// privileges.
	CapShell

	// CapWriteStream writes an unbounded stream to a remote file,
	// terminated by the method's exit input instead of a length.
	CapWriteStream
)

// String names a single capability bit.
func (c Capability) String() string {
	switch c {
	case CapRead:
		return "read"
	case CapWrite:
		return "write"
	case CapShell:
		return "shell"
	case CapWriteStream:
		return "write_stream"
	}
	return fmt.Sprintf("capability(%d)", uint8(c))
}

// StreamMode is the encoding discipline a payload template uses to move
// bytes through a text-oriented shell.
type StreamMode uint8

const (
	// StreamPrint means data appears verbatim in terminal-visible output.
	// Only safe for content that round-trips through line printing;
	// writes must pass the printability guard first.
	StreamPrint StreamMode = 1 << iota

	// StreamRaw is exact byte-for-byte passthrough. Requires a known
	// length up front: a raw byte channel has no other EOF signal.
	StreamRaw

	// StreamBase64 carries base64 text on the wire, decoded or encoded as
	// a wrapper around the raw stream.
	StreamBase64

	// StreamHex carries hex text on the wire.
	StreamHex
)

// StreamAny accepts every stream mode during resolution.
const StreamAny = StreamPrint | StreamRaw | StreamBase64 | StreamHex

// String names a single stream mode bit.
func (s StreamMode) String() string {
	switch s {
	case StreamPrint:
		return "print"
	case StreamRaw:
		return "raw"
	case StreamBase64:
		return "base64"
	case StreamHex:
		return "hex"
	}
	return fmt.Sprintf("stream(%d)", uint8(s))
}

// WhichFunc locates a binary on the victim, returning its absolute path or
// "" when it cannot be found. The catalog never performs its own I/O.
type WhichFunc func(name string) string

// ResolutionReason classifies why a method could not be resolved. These are
// expected, recoverable conditions: callers iterate to the next candidate
// binary or capability rather than treating them as fatal.
type ResolutionReason int

const (
	// NoTemplate: the catalog has no entry for the binary at all.
	NoTemplate ResolutionReason = iota

	// UnsupportedCapability: the binary exists in the catalog but offers
	// no template for the requested capability or stream filter.
	UnsupportedCapability

	// MissingDependency: a template references another binary that could
	// not be located on the victim.
	MissingDependency
)

// ResolutionError reports a failed resolution attempt. It is a value-style
// result, not exception-driven control flow: "try the next candidate" is an
// ordinary branch on Reason.
type ResolutionError struct {
	Binary  string
	Reason  ResolutionReason
	Missing string // dependency name when Reason == MissingDependency
}

// Error satisfies the error interface for logging; callers branch on Reason.
func (e *ResolutionError) Error() string {
	switch e.Reason {
	case NoTemplate:
		return fmt.Sprintf("gtfobins: no templates for %q", e.Binary)
	case UnsupportedCapability:
		return fmt.Sprintf("gtfobins: %q does not support the requested capability", e.Binary)
	case MissingDependency:
		return fmt.Sprintf("gtfobins: %q requires %q which was not found", e.Binary, e.Missing)
	}
	return fmt.Sprintf("gtfobins: resolution failed for %q", e.Binary)
}
