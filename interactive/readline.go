package interactive

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
)

// ReadlineInput wraps readline for input with completion and history
type ReadlineInput struct {
	rl        *readline.Instance
	completer *Completer
	prompt    string
}

// getHistoryPath returns a path for the history file
func getHistoryPath() string {
	if u, err := user.Current(); err == nil {
		historyDir := filepath.Join(u.HomeDir, ".grapnel")
		os.MkdirAll(historyDir, 0700)
		return filepath.Join(historyDir, "history")
	}
	return "/tmp/grapnel_history"
}

// NewReadlineInput creates a new readline input handler
func NewReadlineInput(prompt string, completer *Completer) (*ReadlineInput, error) {
	if completer == nil {
		completer = NewCompleter()
	}

	items := make([]readline.PrefixCompleterInterface, 0)
	for name := range completer.commands {
		items = append(items, readline.PcItem(name))
	}
	for _, info := range completer.commands {
		for _, alias := range info.Aliases {
			items = append(items, readline.PcItem(alias))
		}
	}

	config := &readline.Config{
		Prompt:            prompt,
		HistoryFile:       getHistoryPath(),
		AutoComplete:      readline.NewPrefixCompleter(items...),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	}

	rl, err := readline.NewEx(config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize readline: %w", err)
	}

	return &ReadlineInput{
		rl:        rl,
		completer: completer,
		prompt:    prompt,
	}, nil
}

// SetPrompt updates the prompt
func (r *ReadlineInput) SetPrompt(prompt string) {
	r.prompt = prompt
	r.rl.SetPrompt(prompt)
}

// ReadLine reads a line with completion
func (r *ReadlineInput) ReadLine() (string, error) {
	line, err := r.rl.Readline()
	if err != nil {
		if err == readline.ErrInterrupt {
			return "", io.EOF
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Close closes the readline instance
func (r *ReadlineInput) Close() error {
	if r.rl != nil {
		return r.rl.Close()
	}
	return nil
}

// FallbackInput is a simple fallback when readline is not available
type FallbackInput struct {
	scanner *bufio.Scanner
	prompt  string
}

// NewFallbackInput creates a simple input handler without readline
func NewFallbackInput(prompt string) *FallbackInput {
	return &FallbackInput{
		scanner: bufio.NewScanner(os.Stdin),
		prompt:  prompt,
	}
}

// ReadLine reads a line using standard input
func (f *FallbackInput) ReadLine() (string, error) {
	fmt.Print(f.prompt)
	if !f.scanner.Scan() {
		return "", io.EOF
	}
	return strings.TrimSpace(f.scanner.Text()), nil
}

// SetPrompt updates the prompt
func (f *FallbackInput) SetPrompt(prompt string) {
	f.prompt = prompt
}

// Close does nothing for fallback input
func (f *FallbackInput) Close() error {
	return nil
}
