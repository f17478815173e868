package victim

import (
	"encoding/base64"
	"io"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grapnel/grapnel/channel"
	"github.com/grapnel/grapnel/gtfobins"
)

var (
	framedRun = regexp.MustCompile(`^echo; echo ([A-Za-z0-9]{12}); (.+); echo ([A-Za-z0-9]{12})$`)
	framedBg  = regexp.MustCompile(`^echo; echo ([A-Za-z0-9]{12}); PS1=; set \+m; \{ (.+); \} && echo ([A-Za-z0-9]{12}) \|\| echo [A-Za-z0-9]{12} &$`)
	framedFg  = regexp.MustCompile(`^echo; echo ([A-Za-z0-9]{12}); PS1=; set \+m; (.+); echo ([A-Za-z0-9]{12})$`)

	probeReadPattern = regexp.MustCompile(`^test -r (\S+) && echo R`)
	catPattern       = regexp.MustCompile(`^(\S+/cat) (\S+) 2>/dev/null$`)
	base64Pattern    = regexp.MustCompile(`^(\S+/base64) -w0 (\S+) 2>/dev/null$`)
)

// fakeVictim emulates the remote host: a binary table, a file table, and an
// identity, answering framed protocol lines the way a POSIX shell would.
type fakeVictim struct {
	user   string
	bins   map[string]string
	files  map[string]string
	denied map[string]bool

	// onLine observes every unframed line (raw sends).
	onLine func(line string)
}

func (f *fakeVictim) responder() func(line []byte) [][]byte {
	return func(line []byte) [][]byte {
		text := string(line)
		if m := framedBg.FindStringSubmatch(text); m != nil {
			return [][]byte{
				[]byte("\n" + m[1] + "\n"),
				[]byte(f.exec(m[2])),
				[]byte(m[3] + "\n"),
			}
		}
		if m := framedFg.FindStringSubmatch(text); m != nil {
			return [][]byte{[]byte("\n" + m[1] + "\n")}
		}
		if m := framedRun.FindStringSubmatch(text); m != nil {
			return [][]byte{
				[]byte("\n" + m[1] + "\n"),
				[]byte(f.exec(m[2])),
				[]byte(m[3] + "\n"),
			}
		}
		if f.onLine != nil {
			f.onLine(text)
		}
		return nil
	}
}

func (f *fakeVictim) exec(cmd string) string {
	switch {
	case cmd == "hostname; whoami; uname -s; uname -r":
		return "target01\n" + f.user + "\nLinux\n6.1.0-test\n"
	case cmd == "whoami":
		return f.user + "\n"
	case strings.HasPrefix(cmd, "command -v "):
		name := strings.TrimPrefix(cmd, "command -v ")
		if path, ok := f.bins[name]; ok {
			return path + "\n"
		}
		return ""
	case strings.HasPrefix(cmd, "if test -e "):
		return "W\n"
	case strings.HasPrefix(cmd, "mktemp "):
		return "/tmp/.grapnel42\n"
	}
	if m := probeReadPattern.FindStringSubmatch(cmd); m != nil {
		path := m[1]
		if f.denied[path] {
			return "P\n"
		}
		if _, ok := f.files[path]; ok {
			return "R\n"
		}
		return "M\n"
	}
	if m := catPattern.FindStringSubmatch(cmd); m != nil {
		return f.files[m[2]]
	}
	if m := base64Pattern.FindStringSubmatch(cmd); m != nil {
		return base64.StdEncoding.EncodeToString([]byte(f.files[m[2]])) + "\n"
	}
	return ""
}

func newTestSession(t *testing.T, fake *fakeVictim) (*Session, *channel.Scripted) {
	t.Helper()
	ch := channel.NewScripted()
	ch.Responder = fake.responder()
	return NewSession(ch, Options{}), ch
}

func TestSession_Run(t *testing.T) {
	fake := &fakeVictim{user: "www-data"}
	s, _ := newTestSession(t, fake)

	out, err := s.Run("whoami")
	require.NoError(t, err)
	assert.Equal(t, "www-data\n", string(out))
}

func TestSession_WhichCachesLookups(t *testing.T) {
	fake := &fakeVictim{user: "root", bins: map[string]string{"cat": "/bin/cat"}}
	s, ch := newTestSession(t, fake)

	assert.Equal(t, "/bin/cat", s.Which("cat"))
	assert.Equal(t, "/bin/cat", s.Which("cat"))
	assert.Equal(t, "", s.Which("xxd"))
	assert.Equal(t, "", s.Which("xxd"))

	sent := string(ch.Sent())
	assert.Equal(t, 1, strings.Count(sent, "command -v cat"))
	assert.Equal(t, 1, strings.Count(sent, "command -v xxd"))
}

func TestSession_GatherInfoCached(t *testing.T) {
	fake := &fakeVictim{user: "root"}
	s, ch := newTestSession(t, fake)

	info, err := s.GatherInfo()
	require.NoError(t, err)
	assert.Equal(t, "target01", info.Hostname)
	assert.Equal(t, "root", info.Username)
	assert.Equal(t, "Linux", info.OS)
	assert.Equal(t, "6.1.0-test", info.Kernel)

	before := len(ch.Sent())
	_, err = s.GatherInfo()
	require.NoError(t, err)
	assert.Equal(t, before, len(ch.Sent()), "second call must hit the cache")
}

func TestSession_BusyWhileStreamOpen(t *testing.T) {
	fake := &fakeVictim{
		user:  "root",
		bins:  map[string]string{"cat": "/bin/cat"},
		files: map[string]string{"/etc/hostname": "target01\n"},
	}
	s, _ := newTestSession(t, fake)

	r, err := s.Open("/etc/hostname")
	require.NoError(t, err)

	_, err = s.Run("whoami")
	assert.ErrorIs(t, err, ErrBusy)

	_, err = s.Open("/etc/hostname")
	assert.ErrorIs(t, err, ErrBusy)

	// Draining the stream to EOF releases the session.
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "target01\n", string(out))

	_, err = s.Run("whoami")
	assert.NoError(t, err)
}

func TestSession_CloseIsTerminal(t *testing.T) {
	fake := &fakeVictim{user: "root"}
	s, _ := newTestSession(t, fake)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Run("whoami")
	assert.ErrorIs(t, err, channel.ErrClosed)
}

func TestSession_SpawnShellAnswersSudoPrompt(t *testing.T) {
	fake := &fakeVictim{user: "www-data"}
	ch := channel.NewScripted()

	var rawLines []string
	fake.onLine = func(line string) { rawLines = append(rawLines, line) }
	ch.Responder = func(line []byte) [][]byte {
		text := string(line)
		if strings.HasPrefix(text, "sudo -u root ") {
			fake.onLine(text)
			return [][]byte{[]byte("[sudo] password for root: ")}
		}
		return fake.responder()(line)
	}
	s := NewSession(ch, Options{})

	method, rerr := gtfobins.Default().ResolveSudo("vim", "root", gtfobins.CapShell, gtfobins.StreamAny,
		func(name string) string { return "/usr/bin/" + name })
	require.Nil(t, rerr)

	require.NoError(t, s.SpawnShell(method, "hunter2"))

	sent := string(ch.Sent())
	assert.Contains(t, sent, "sudo -u root /usr/bin/vim")
	assert.Contains(t, sent, "hunter2\n")
	require.NotEmpty(t, rawLines)
}
