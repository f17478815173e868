package gtfobins

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

//go:embed catalog.json
var catalogJSON []byte

// Template is one payload recipe, fully typed at load time. The catalog
// carries two JSON shapes (a bare payload string, or an object with optional
// fields); both decode into this struct so resolution never branches on
// JSON shape.
type Template struct {
	// Payload is the shell command with placeholders: {path} for the
	// resolved binary, {lfile} for the remote file, {length} for a
	// declared byte count, {block} for the block-read index, and {name}
	// for any other catalog binary the recipe depends on.
	Payload string

	// Input is bootstrap data sent to the process's stdin right after
	// launch.
	Input string

	// Exit terminates the remote process early; sent during the EOF
	// transition.
	Exit string

	// Stream is the encoding discipline this recipe uses on the wire.
	Stream StreamMode

	// Suid marks recipes that only pay off when the binary carries the
	// setuid bit (or runs under sudo).
	Suid bool

	// NeedsLength marks write recipes that pre-declare the total byte
	// count and block until it is satisfied.
	NeedsLength bool

	// BlockRead marks PRINT recipes driven as a request/response loop,
	// one fixed-size block per command.
	BlockRead bool
}

// rawTemplate decodes the catalog's two template shapes.
type rawTemplate struct {
	Payload string `json:"payload"`
	Input   string `json:"input"`
	Exit    string `json:"exit"`
	Stream  string `json:"stream"`
	Suid    bool   `json:"suid"`
	Length  bool   `json:"length"`
	Block   bool   `json:"block"`
}

func (t *rawTemplate) UnmarshalJSON(data []byte) error {
	// Plain-string shape: a PRINT payload with no extras.
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t.Payload = s
		return nil
	}
	type object rawTemplate
	var o object
	if err := json.Unmarshal(data, &o); err != nil {
		return err
	}
	*t = rawTemplate(o)
	return nil
}

// Catalog maps binary names to per-capability templates. Loaded once;
// immutable afterwards.
type Catalog struct {
	entries map[string]map[Capability][]Template
}

var capabilityNames = map[string]Capability{
	"read":         CapRead,
	"write":        CapWrite,
	"shell":        CapShell,
	"write_stream": CapWriteStream,
}

var streamNames = map[string]StreamMode{
	"":       StreamPrint,
	"print":  StreamPrint,
	"raw":    StreamRaw,
	"base64": StreamBase64,
	"hex":    StreamHex,
}

// Load parses the embedded catalog, resolving every template to its typed
// form up front so malformed entries fail at startup, not mid-operation.
func Load() (*Catalog, error) {
	return parse(catalogJSON)
}

func parse(data []byte) (*Catalog, error) {
	var raw map[string]map[string][]rawTemplate
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	cat := &Catalog{entries: make(map[string]map[Capability][]Template, len(raw))}
	for bin, caps := range raw {
		entry := make(map[Capability][]Template, len(caps))
		for capName, rawTpls := range caps {
			capability, ok := capabilityNames[capName]
			if !ok {
				return nil, fmt.Errorf("catalog entry %q: unknown capability %q", bin, capName)
			}
			tpls := make([]Template, 0, len(rawTpls))
			for _, rt := range rawTpls {
				mode, ok := streamNames[rt.Stream]
				if !ok {
					return nil, fmt.Errorf("catalog entry %q: unknown stream mode %q", bin, rt.Stream)
				}
				if rt.Payload == "" {
					return nil, fmt.Errorf("catalog entry %q: template without payload", bin)
				}
				tpls = append(tpls, Template{
					Payload:     rt.Payload,
					Input:       rt.Input,
					Exit:        rt.Exit,
					Stream:      mode,
					Suid:        rt.Suid,
					NeedsLength: rt.Length,
					BlockRead:   rt.Block,
				})
			}
			entry[capability] = tpls
		}
		cat.entries[bin] = entry
	}
	return cat, nil
}

var (
	defaultCatalog *Catalog
	defaultOnce    sync.Once
)

// Default returns the embedded catalog, loaded once. The embedded data is
// validated by tests, so a parse failure here is a build defect.
func Default() *Catalog {
	defaultOnce.Do(func() {
		cat, err := Load()
		if err != nil {
			panic(fmt.Sprintf("embedded gtfobins catalog is invalid: %v", err))
		}
		defaultCatalog = cat
	})
	return defaultCatalog
}

// Binaries lists the catalog's binary names in resolution preference order.
func (c *Catalog) Binaries() []string {
	seen := make(map[string]bool, len(c.entries))
	out := make([]string, 0, len(c.entries))
	for _, name := range preferredOrder {
		if _, ok := c.entries[name]; ok {
			out = append(out, name)
			seen[name] = true
		}
	}
	rest := make([]string, 0, len(c.entries))
	for name := range c.entries {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// preferredOrder ranks candidates by transfer fidelity and ubiquity:
// encoded modes beat PRINT for arbitrary bytes, and common binaries come
// before exotic ones so fallback iteration terminates quickly.
var preferredOrder = []string{
	"base64", "openssl", "xxd", "dd", "cat", "head", "tee",
	"bash", "sh", "env", "setsid", "find", "python3", "vim",
}
