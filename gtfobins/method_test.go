package gtfobins

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// whichFrom builds a resolver over a fixed binary table.
func whichFrom(paths map[string]string) WhichFunc {
	return func(name string) string {
		return paths[name]
	}
}

var fullSystem = map[string]string{
	"cat":     "/bin/cat",
	"head":    "/usr/bin/head",
	"dd":      "/bin/dd",
	"base64":  "/usr/bin/base64",
	"openssl": "/usr/bin/openssl",
	"xxd":     "/usr/bin/xxd",
	"tee":     "/usr/bin/tee",
	"bash":    "/bin/bash",
	"sh":      "/bin/sh",
	"env":     "/usr/bin/env",
	"setsid":  "/usr/bin/setsid",
	"find":    "/usr/bin/find",
	"python3": "/usr/bin/python3",
	"vim":     "/usr/bin/vim",
}

func TestResolve_Read(t *testing.T) {
	cat := Default()

	method, rerr := cat.Resolve("cat", CapRead, StreamAny, whichFrom(fullSystem))
	require.Nil(t, rerr)

	assert.Equal(t, "cat", method.Binary)
	assert.Equal(t, "/bin/cat", method.Path)
	assert.Equal(t, CapRead, method.Capability)
	assert.Equal(t, StreamPrint, method.Stream)
}

func TestResolve_UnknownBinary(t *testing.T) {
	cat := Default()

	_, rerr := cat.Resolve("nonesuch", CapRead, StreamAny, whichFrom(fullSystem))

	require.NotNil(t, rerr)
	assert.Equal(t, NoTemplate, rerr.Reason)
	assert.Equal(t, "nonesuch", rerr.Binary)
}

func TestResolve_BinaryNotOnVictim(t *testing.T) {
	cat := Default()

	_, rerr := cat.Resolve("cat", CapRead, StreamAny, whichFrom(nil))

	require.NotNil(t, rerr)
	assert.Equal(t, MissingDependency, rerr.Reason)
	assert.Equal(t, "cat", rerr.Missing)
}

func TestResolve_UnsupportedCapability(t *testing.T) {
	cat := Default()

	_, rerr := cat.Resolve("cat", CapShell, StreamAny, whichFrom(fullSystem))

	require.NotNil(t, rerr)
	assert.Equal(t, UnsupportedCapability, rerr.Reason)
}

func TestResolve_StreamFilterExcludesAll(t *testing.T) {
	cat := Default()

	// dd reads are PRINT block reads; demanding base64 leaves nothing.
	_, rerr := cat.Resolve("dd", CapRead, StreamBase64, whichFrom(fullSystem))

	require.NotNil(t, rerr)
	assert.Equal(t, UnsupportedCapability, rerr.Reason)
}

func TestResolve_SubstitutesDependencies(t *testing.T) {
	cat := Default()

	method, rerr := cat.Resolve("env", CapShell, StreamAny, whichFrom(fullSystem))
	require.Nil(t, rerr)

	assert.Equal(t, "/usr/bin/env /bin/sh -i", method.Payload(Args{}))
}

func TestResolve_MissingDependency(t *testing.T) {
	cat := Default()

	paths := map[string]string{"env": "/usr/bin/env"}
	_, rerr := cat.Resolve("env", CapShell, StreamAny, whichFrom(paths))

	require.NotNil(t, rerr)
	assert.Equal(t, MissingDependency, rerr.Reason)
	assert.Equal(t, "sh", rerr.Missing)
}

func TestResolve_AbsolutePathSkipsLookup(t *testing.T) {
	cat := Default()

	// A caller-supplied absolute path (a SUID find, say) is trusted as-is.
	method, rerr := cat.Resolve("/opt/weird/find", CapShell, StreamAny, whichFrom(fullSystem))
	require.Nil(t, rerr)

	assert.Equal(t, "/opt/weird/find", method.Path)
	assert.True(t, method.Suid)
}

func TestResolve_WriteStreamDefaultsToEOTExit(t *testing.T) {
	cat := Default()

	method, rerr := cat.Resolve("base64", CapWriteStream, StreamAny, whichFrom(fullSystem))
	require.Nil(t, rerr)

	assert.Equal(t, []byte{0x04}, method.ExitCommand())
}

func TestResolve_ShellKeepsDeclaredExit(t *testing.T) {
	cat := Default()

	method, rerr := cat.Resolve("bash", CapShell, StreamAny, whichFrom(fullSystem))
	require.Nil(t, rerr)

	assert.Equal(t, []byte("exit\n"), method.ExitCommand())
	assert.False(t, method.Suid)
}

func TestResolveAny_PrefersEncodedCarrier(t *testing.T) {
	cat := Default()

	method, rerr := cat.ResolveAny(CapRead, StreamAny, whichFrom(fullSystem))
	require.Nil(t, rerr)

	assert.Equal(t, "base64", method.Binary)
	assert.Equal(t, StreamBase64, method.Stream)
}

func TestResolveAny_FallsBackPastMissingBinaries(t *testing.T) {
	cat := Default()

	paths := map[string]string{"cat": "/bin/cat"}
	method, rerr := cat.ResolveAny(CapRead, StreamAny, whichFrom(paths))
	require.Nil(t, rerr)

	assert.Equal(t, "cat", method.Binary)
}

func TestResolveAny_NothingAvailable(t *testing.T) {
	cat := Default()

	_, rerr := cat.ResolveAny(CapRead, StreamAny, whichFrom(nil))

	assert.NotNil(t, rerr)
}

func TestResolveSuid_PicksPrivilegePreservingVariant(t *testing.T) {
	cat := Default()

	method, rerr := cat.ResolveSuid("bash", whichFrom(fullSystem))
	require.Nil(t, rerr)

	assert.True(t, method.Suid)
	assert.Contains(t, method.Payload(Args{}), "-p")
}

func TestResolveSuid_NoPrivilegePreservingRecipe(t *testing.T) {
	cat := Default()

	_, rerr := cat.ResolveSuid("sh", whichFrom(fullSystem))

	require.NotNil(t, rerr)
	assert.Equal(t, UnsupportedCapability, rerr.Reason)
}

func TestResolveSudo_ComposesPrefix(t *testing.T) {
	cat := Default()

	method, rerr := cat.ResolveSudo("vim", "deploy", CapShell, StreamAny, whichFrom(fullSystem))
	require.Nil(t, rerr)

	assert.Equal(t, "deploy", method.SudoUser)
	payload := method.Payload(Args{})
	assert.Contains(t, payload, "sudo -u deploy ")
	assert.Contains(t, payload, "/usr/bin/vim")
}

func TestPayload_QuotesRemotePath(t *testing.T) {
	cat := Default()

	method, rerr := cat.Resolve("cat", CapRead, StreamAny, whichFrom(fullSystem))
	require.Nil(t, rerr)

	payload := method.Payload(Args{File: "/tmp/my file; rm -rf /"})
	assert.Equal(t, "/bin/cat '/tmp/my file; rm -rf /' 2>/dev/null", payload)
}

func TestPayload_SubstitutesLengthAndBlock(t *testing.T) {
	cat := Default()

	writer, rerr := cat.Resolve("dd", CapWrite, StreamAny, whichFrom(fullSystem))
	require.Nil(t, rerr)
	assert.Contains(t, writer.Payload(Args{File: "/tmp/out", Length: 4096}), "bs=4096")

	reader, rerr := cat.Resolve("dd", CapRead, StreamAny, whichFrom(fullSystem))
	require.Nil(t, rerr)
	assert.True(t, reader.BlockRead)
	assert.Contains(t, reader.Payload(Args{File: "/tmp/in", Block: 7}), "skip=7")
}

func TestResolutionError_Messages(t *testing.T) {
	cases := []struct {
		err  ResolutionError
		want string
	}{
		{ResolutionError{Binary: "cat", Reason: NoTemplate}, "cat"},
		{ResolutionError{Binary: "env", Reason: MissingDependency, Missing: "sh"}, "sh"},
		{ResolutionError{Binary: "tee", Reason: UnsupportedCapability}, "tee"},
	}
	for _, tc := range cases {
		assert.Contains(t, tc.err.Error(), tc.want)
	}
}
