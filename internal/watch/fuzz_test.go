package watch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ppiankov/steward/internal/gate"
	"github.com/ppiankov/steward/internal/store"
)

func FuzzApplyFile(f *testing.F) {
	f.Add([]byte(`{"kind":"approval","id":"ap-1","approve":true,"by":"alice"}`))
	f.Add([]byte(`{"kind":"gate","id":"g-1","approve":false,"option":"skip","by":"bob","comment":"x"}`))
	f.Add([]byte{})
	f.Add([]byte(`{not json`))
	f.Add([]byte(`{"kind":"unknown","id":"x","by":"y"}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		repo := store.NewMemory()
		a := NewApplier(gate.NewRequests(repo), repo)

		path := filepath.Join(t.TempDir(), "decision.json")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Skip()
		}

		// Must not panic on any input, and must always remove the file.
		_ = a.ApplyFile(path)
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("decision file left behind for input %q", data)
		}
	})
}
