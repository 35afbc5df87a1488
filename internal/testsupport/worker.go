package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteScript writes an executable shell script into a temp dir and returns
// its path. Used to stand in for the worker binary in process-level tests.
func WriteScript(t testing.TB, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	content := "#!/bin/sh\n" + body
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatalf("write script %s: %v", name, err)
	}
	return path
}

// EchoWorkerScript behaves like a minimal memory worker: it answers every
// request with a successful result that echoes the request id, so handshake
// and simple round trips succeed. Replies carry the current protocol
// version.
const EchoWorkerScript = `while IFS= read -r line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":"\([^"]*\)".*/\1/p')
  [ -z "$id" ] && continue
  printf '{"jsonrpc":"2.0","id":"%s","result":{"protocol":"1","worker":"stub","status":"ok"}}\n' "$id"
done
`

// SilentWorkerScript accepts input but never responds, for handshake-timeout
// tests. It exits when stdin closes.
const SilentWorkerScript = `while IFS= read -r line; do :; done
`

// CrashingWorkerScript exits immediately with a diagnostic on stderr.
const CrashingWorkerScript = `echo "fatal: cannot open store" >&2
exit 3
`
