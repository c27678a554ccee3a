package config

import (
	"os"
	"path/filepath"
	"testing"
)

// FuzzLoadTOML ensures arbitrary config content never panics the loader.
func FuzzLoadTOML(f *testing.F) {
	f.Add("mode = \"production\"\n[service]\nbinary = \"x\"\n")
	f.Add("[readiness]\nattempts = \"many\"\n")
	f.Add("")
	f.Fuzz(func(t *testing.T, body string) {
		p := filepath.Join(t.TempDir(), "c.toml")
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Skip()
		}
		c, err := Load(p)
		if err != nil {
			return
		}
		_ = c.Validate()
	})
}
