// Package testsupport provides shared fixtures for package tests.
package testsupport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"ircgate/internal/state"
)

// Secret is the control secret every test fixture uses.
const Secret = "test-secret"

// StateDoc returns a minimal valid state document using the fixture secret.
// The control port is zero so listeners bind ephemerally in tests.
func StateDoc() state.Document {
	return state.Document{
		Control: state.Control{
			Secret: Secret,
			Host:   "127.0.0.1",
			Port:   0,
		},
		Networks: map[string]state.Network{},
	}
}

// NewStateStore writes doc to a temp file and opens a store over it.
func NewStateStore(t testing.TB, doc state.Document) *state.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	WriteStateDoc(t, path, doc)
	st, err := state.Open(path)
	if err != nil {
		t.Fatalf("open test state store: %v", err)
	}
	return st
}

// WriteStateDoc marshals doc to path.
func WriteStateDoc(t testing.TB, path string, doc state.Document) {
	t.Helper()
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		t.Fatalf("encode test state doc: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write test state doc: %v", err)
	}
}
