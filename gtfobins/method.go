package gtfobins

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	shellquote "github.com/kballard/go-shellquote"
)

// Method is a payload template resolved against a concrete victim: binary
// located, dependency placeholders substituted, stream mode fixed. Immutable
// once resolved.
type Method struct {
	Binary     string
	Path       string
	Capability Capability
	Stream     StreamMode

	// NeedsLength means the payload pre-declares its total byte count and
	// the write stream must be bounded (and padded) to exactly that.
	NeedsLength bool

	// BlockRead means reads are driven as a per-block request/response
	// loop rather than one streamed subprocess.
	BlockRead bool

	// Suid marks methods that rely on elevated execution permissions.
	Suid bool

	// SudoUser, when set, prefixes the payload with a sudo invocation for
	// that user. Password prompt handling is the caller's job.
	SudoUser string

	payload string
	input   string
	exit    string
}

// Args carries the per-invocation values substituted into a resolved
// template.
type Args struct {
	File   string
	Length int64
	Block  int64
}

var placeholderPattern = regexp.MustCompile(`\{([a-z0-9_]+)\}`)

// builtinPlaceholders are substituted at invocation time, not treated as
// binary dependencies during resolution.
var builtinPlaceholders = map[string]bool{
	"path":   true,
	"lfile":  true,
	"length": true,
	"block":  true,
}

// Resolve looks up name's templates for the requested capability, filtered
// by stream mode, and substitutes dependency placeholders through which.
// Failures are reported as a ResolutionError value; callers iterate to the
// next candidate.
func (c *Catalog) Resolve(name string, capability Capability, filter StreamMode, which WhichFunc) (*Method, *ResolutionError) {
	return c.resolve(name, capability, filter, which, false)
}

// ResolveSuid resolves name's shell templates restricted to recipes that
// preserve elevated file-mode privileges (bash -p and friends). Plain shell
// recipes drop the effective uid and are useless against a SUID binary.
func (c *Catalog) ResolveSuid(name string, which WhichFunc) (*Method, *ResolutionError) {
	return c.resolve(name, CapShell, StreamAny, which, true)
}

func (c *Catalog) resolve(name string, capability Capability, filter StreamMode, which WhichFunc, suidOnly bool) (*Method, *ResolutionError) {
	base := path.Base(name)
	entry, ok := c.entries[base]
	if !ok {
		return nil, &ResolutionError{Binary: base, Reason: NoTemplate}
	}

	binPath := name
	if !strings.Contains(name, "/") {
		binPath = which(name)
		if binPath == "" {
			return nil, &ResolutionError{Binary: base, Reason: MissingDependency, Missing: name}
		}
	}

	templates := entry[capability]
	lastErr := &ResolutionError{Binary: base, Reason: UnsupportedCapability}
	for _, tpl := range templates {
		if filter&tpl.Stream == 0 {
			continue
		}
		if suidOnly && !tpl.Suid {
			continue
		}
		payload, missing := substituteDeps(tpl.Payload, binPath, which)
		if missing != "" {
			lastErr = &ResolutionError{Binary: base, Reason: MissingDependency, Missing: missing}
			continue
		}
		input, missing := substituteDeps(tpl.Input, binPath, which)
		if missing != "" {
			lastErr = &ResolutionError{Binary: base, Reason: MissingDependency, Missing: missing}
			continue
		}
		exit := tpl.Exit
		if exit == "" && capability == CapWriteStream {
			// Stream writers read stdin until EOF; EOT ends them in
			// raw mode.
			exit = "\x04"
		}
		return &Method{
			Binary:      base,
			Path:        binPath,
			Capability:  capability,
			Stream:      tpl.Stream,
			NeedsLength: tpl.NeedsLength,
			BlockRead:   tpl.BlockRead,
			Suid:        tpl.Suid,
			payload:     payload,
			input:       input,
			exit:        exit,
		}, nil
	}
	return nil, lastErr
}

// ResolveAny tries every catalog binary in preference order until one
// resolves. Missing binaries and unsupported capabilities are skipped, never
// raised; the last failure is returned only when every candidate is
// exhausted.
func (c *Catalog) ResolveAny(capability Capability, filter StreamMode, which WhichFunc) (*Method, *ResolutionError) {
	var lastErr *ResolutionError
	for _, name := range c.Binaries() {
		method, rerr := c.Resolve(name, capability, filter, which)
		if rerr == nil {
			return method, nil
		}
		lastErr = rerr
	}
	if lastErr == nil {
		lastErr = &ResolutionError{Reason: NoTemplate}
	}
	return nil, lastErr
}

// ResolveSudo resolves name and composes a `sudo -u user` prefix onto the
// payload. The caller layers in password prompt detection before treating
// the payload as launched.
func (c *Catalog) ResolveSudo(name, user string, capability Capability, filter StreamMode, which WhichFunc) (*Method, *ResolutionError) {
	method, rerr := c.Resolve(name, capability, filter, which)
	if rerr != nil {
		return nil, rerr
	}
	method.SudoUser = user
	return method, nil
}

// substituteDeps replaces {path} and every non-builtin {name} placeholder,
// resolving dependencies through which. Returns the first unresolvable
// dependency name, if any.
func substituteDeps(template, binPath string, which WhichFunc) (string, string) {
	if template == "" {
		return "", ""
	}
	missing := ""
	out := placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		name := m[1 : len(m)-1]
		if name == "path" {
			return binPath
		}
		if builtinPlaceholders[name] {
			return m
		}
		dep := which(name)
		if dep == "" {
			if missing == "" {
				missing = name
			}
			return m
		}
		return dep
	})
	if missing != "" {
		return "", missing
	}
	return out, ""
}

// Payload renders the shell command for one invocation. The remote file path
// is shell-quoted so operator-supplied names cannot alter the command's
// structure.
func (m *Method) Payload(args Args) string {
	out := m.payload
	if strings.Contains(out, "{lfile}") {
		out = strings.ReplaceAll(out, "{lfile}", shellquote.Join(args.File))
	}
	out = strings.ReplaceAll(out, "{length}", strconv.FormatInt(args.Length, 10))
	out = strings.ReplaceAll(out, "{block}", strconv.FormatInt(args.Block, 10))
	if m.SudoUser != "" {
		out = fmt.Sprintf("sudo -u %s %s", shellquote.Join(m.SudoUser), out)
	}
	return out
}

// Input renders the stdin bootstrap data, empty when the template declares
// none.
func (m *Method) Input(args Args) []byte {
	if m.input == "" {
		return nil
	}
	out := strings.ReplaceAll(m.input, "{lfile}", shellquote.Join(args.File))
	return []byte(out)
}

// ExitCommand is the byte sequence that terminates the remote process early.
func (m *Method) ExitCommand() []byte {
	if m.exit == "" {
		return nil
	}
	return []byte(m.exit)
}

// String renders a short description for tables and logs.
func (m *Method) String() string {
	return fmt.Sprintf("%s (%s, %s)", m.Path, m.Capability, m.Stream)
}
