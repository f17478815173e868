package victim

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_FileNotFound(t *testing.T) {
	fake := &fakeVictim{user: "root", bins: map[string]string{"cat": "/bin/cat"}}
	s, _ := newTestSession(t, fake)

	_, err := s.Open("/etc/nonexistent")

	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestOpen_PermissionDenied(t *testing.T) {
	fake := &fakeVictim{
		user:   "www-data",
		bins:   map[string]string{"cat": "/bin/cat"},
		files:  map[string]string{"/etc/shadow": "root:$6$...\n"},
		denied: map[string]bool{"/etc/shadow": true},
	}
	s, _ := newTestSession(t, fake)

	_, err := s.Open("/etc/shadow")

	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestOpen_NoTransferMethod(t *testing.T) {
	fake := &fakeVictim{
		user:  "root",
		bins:  map[string]string{},
		files: map[string]string{"/etc/hostname": "target01\n"},
	}
	s, _ := newTestSession(t, fake)

	_, err := s.Open("/etc/hostname")

	assert.ErrorIs(t, err, ErrNoMethod)
}

func TestOpen_DecodesBase64Carrier(t *testing.T) {
	// Content with bytes that would never survive PRINT mode.
	content := "binary\x00\x01\xffdata"
	fake := &fakeVictim{
		user:  "root",
		bins:  map[string]string{"base64": "/usr/bin/base64", "cat": "/bin/cat"},
		files: map[string]string{"/opt/blob": content},
	}
	s, _ := newTestSession(t, fake)

	r, err := s.Open("/opt/blob")
	require.NoError(t, err)

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, content, string(out))
	require.NoError(t, r.Close())
}

func TestCreate_StreamsThroughTee(t *testing.T) {
	fake := &fakeVictim{
		user: "root",
		bins: map[string]string{"tee": "/usr/bin/tee"},
	}
	s, ch := newTestSession(t, fake)

	w, err := s.Create("/tmp/notes.txt", 0)
	require.NoError(t, err)

	_, err = w.Write([]byte("remember the milk\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	sent := string(ch.Sent())
	assert.Contains(t, sent, "/usr/bin/tee /tmp/notes.txt > /dev/null")
	assert.Contains(t, sent, "remember the milk\n")
	// The stream writer is terminated with EOT during close.
	assert.Contains(t, sent, "\x04")

	// Session is free again after close.
	_, err = s.Run("whoami")
	assert.NoError(t, err)
}

func TestCreate_PrintCarrierRejectsBinary(t *testing.T) {
	fake := &fakeVictim{
		user: "root",
		bins: map[string]string{"tee": "/usr/bin/tee"},
	}
	s, _ := newTestSession(t, fake)

	w, err := s.Create("/tmp/blob", 0)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte{0x7f, 0x45, 0x4c, 0x46})
	assert.Error(t, err)
}

func TestTempfile(t *testing.T) {
	fake := &fakeVictim{
		user: "root",
		bins: map[string]string{"tee": "/usr/bin/tee"},
	}
	s, _ := newTestSession(t, fake)

	w, path, err := s.Tempfile(0)
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, "/tmp/.grapnel42", path)
	assert.True(t, strings.HasPrefix(path, "/tmp/"))
}

func TestOpenText_UnknownCharset(t *testing.T) {
	fake := &fakeVictim{
		user:  "root",
		bins:  map[string]string{"cat": "/bin/cat"},
		files: map[string]string{"/etc/motd": "welcome\n"},
	}
	s, _ := newTestSession(t, fake)

	_, err := s.OpenText("/etc/motd", "no-such-charset")

	assert.Error(t, err)

	// The failed open must not leave the session busy.
	_, err = s.Run("whoami")
	assert.NoError(t, err)
}

func TestOpenText_PlainPassthrough(t *testing.T) {
	fake := &fakeVictim{
		user:  "root",
		bins:  map[string]string{"cat": "/bin/cat"},
		files: map[string]string{"/etc/motd": "welcome\n"},
	}
	s, _ := newTestSession(t, fake)

	r, err := s.OpenText("/etc/motd", "")
	require.NoError(t, err)

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "welcome\n", string(out))
}
