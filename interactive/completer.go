package interactive

import (
	"strings"
)

// ANSI color codes
const (
	Reset    = "\x1b[0m"
	Bold     = "\x1b[1m"
	GreenFG  = "\x1b[32m"
	YellowFG = "\x1b[33m"
	RedFG    = "\x1b[31m"
	BlueFG   = "\x1b[34m"
	CyanFG   = "\x1b[36m"
)

// CommandInfo stores information about a command
type CommandInfo struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
}

// Completer handles command completion and validation
type Completer struct {
	commands map[string]*CommandInfo
}

// NewCompleter creates a completer populated with the console command set.
func NewCompleter() *Completer {
	commands := map[string]*CommandInfo{
		"help":     {Name: "help", Aliases: []string{"h", "?"}, Description: "Show help information"},
		"info":     {Name: "info", Aliases: []string{"i"}, Description: "Show remote host identity"},
		"run":      {Name: "run", Aliases: []string{"r"}, Description: "Run a remote command", Usage: "run <command>"},
		"download": {Name: "download", Aliases: []string{"dl", "get"}, Description: "Download a remote file", Usage: "download <remote> [local]"},
		"upload":   {Name: "upload", Aliases: []string{"ul", "put"}, Description: "Upload a local file", Usage: "upload <local> [remote]"},
		"cat":      {Name: "cat", Aliases: nil, Description: "Print a remote file", Usage: "cat <remote>"},
		"which":    {Name: "which", Aliases: nil, Description: "Locate a binary on the victim", Usage: "which <name>"},
		"methods":  {Name: "methods", Aliases: nil, Description: "List catalog binaries present on the victim"},
		"escalate": {Name: "escalate", Aliases: []string{"esc", "privesc"}, Description: "Enumerate and attempt privilege escalation", Usage: "escalate [password]"},
		"findings": {Name: "findings", Aliases: nil, Description: "Enumerate escalation paths without attempting them"},
		"loot":     {Name: "loot", Aliases: nil, Description: "List captured loot for this session"},
		"shell":    {Name: "shell", Aliases: []string{"sh"}, Description: "Drop into a raw remote shell"},
		"clear":    {Name: "clear", Aliases: []string{"cls"}, Description: "Clear screen"},
		"exit":     {Name: "exit", Aliases: []string{"quit", "q"}, Description: "Close the session and exit"},
	}

	return &Completer{commands: commands}
}

// IsValidCommand checks if a command is valid
func (c *Completer) IsValidCommand(cmd string) bool {
	cmd = strings.ToLower(strings.TrimSpace(cmd))
	if _, ok := c.commands[cmd]; ok {
		return true
	}
	for _, info := range c.commands {
		for _, alias := range info.Aliases {
			if alias == cmd {
				return true
			}
		}
	}
	return false
}

// Canonical resolves aliases to the primary command name, empty when cmd is
// unknown.
func (c *Completer) Canonical(cmd string) string {
	cmd = strings.ToLower(strings.TrimSpace(cmd))
	if _, ok := c.commands[cmd]; ok {
		return cmd
	}
	for name, info := range c.commands {
		for _, alias := range info.Aliases {
			if alias == cmd {
				return name
			}
		}
	}
	return ""
}

// Commands returns the command table for help rendering.
func (c *Completer) Commands() map[string]*CommandInfo {
	return c.commands
}
