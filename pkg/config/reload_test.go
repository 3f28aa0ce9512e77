package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stagehand/stagehand/pkg/config"
	"github.com/stagehand/stagehand/pkg/logger"
	"github.com/stagehand/stagehand/pkg/types"
)

func writeConfig(t *testing.T, path string, cfg *types.StagehandConfig) {
	t.Helper()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		t.Fatalf("failed to marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
}

// bumpModTime pushes the file mtime into the future so a rewrite is
// always seen as newer, regardless of filesystem timestamp resolution.
func bumpModTime(t *testing.T, path string) {
	t.Helper()

	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("failed to bump mtime: %v", err)
	}
}

func newTestReloader(t *testing.T) (*config.Reloader, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "stagehand.config.json")
	writeConfig(t, path, &types.StagehandConfig{
		Version: "1.0",
		Runtime: types.RuntimePython2,
	})

	cfg, err := config.NewManager().LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load initial config: %v", err)
	}

	log := logger.CreateLogger("", "error")
	return config.NewReloader(path, cfg, log), path
}

func TestReloader_PicksUpChange(t *testing.T) {
	r, path := newTestReloader(t)

	writeConfig(t, path, &types.StagehandConfig{
		Version: "1.0",
		Runtime: types.RuntimePython3,
	})
	bumpModTime(t, path)

	cfg, changed, err := r.Reload()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if !changed {
		t.Fatal("expected reload to report a change")
	}
	if cfg.Runtime != types.RuntimePython3 {
		t.Errorf("expected runtime python3, got %s", cfg.Runtime)
	}
	if r.Current().Runtime != types.RuntimePython3 {
		t.Error("Current() did not pick up the new configuration")
	}
}

func TestReloader_KeepsLastGoodOnBrokenSave(t *testing.T) {
	r, path := newTestReloader(t)

	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("failed to break config: %v", err)
	}
	bumpModTime(t, path)

	cfg, changed, err := r.Reload()
	if err == nil {
		t.Fatal("expected error for broken config")
	}
	if changed {
		t.Error("broken save must not count as a change")
	}
	if cfg == nil || cfg.Runtime != types.RuntimePython2 {
		t.Error("expected previous configuration to stay in effect")
	}

	// A later valid save recovers
	writeConfig(t, path, &types.StagehandConfig{
		Version: "1.0",
		Runtime: types.RuntimePython3,
	})
	bumpModTime(t, path)

	cfg, changed, err = r.Reload()
	if err != nil {
		t.Fatalf("reload after fix failed: %v", err)
	}
	if !changed || cfg.Runtime != types.RuntimePython3 {
		t.Errorf("expected recovery to python3, got changed=%v runtime=%s", changed, cfg.Runtime)
	}
}

func TestReloader_UntouchedFileIsNoOp(t *testing.T) {
	r, _ := newTestReloader(t)

	cfg, changed, err := r.Reload()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if changed {
		t.Error("untouched file must not report a change")
	}
	if cfg.Runtime != types.RuntimePython2 {
		t.Errorf("expected python2, got %s", cfg.Runtime)
	}
}

func TestReloader_TouchWithoutContentChange(t *testing.T) {
	r, path := newTestReloader(t)

	// Same content, newer mtime. Happens when a file is saved unchanged.
	writeConfig(t, path, &types.StagehandConfig{
		Version: "1.0",
		Runtime: types.RuntimePython2,
	})
	bumpModTime(t, path)

	_, changed, err := r.Reload()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if changed {
		t.Error("identical content must not report a change")
	}
}

func TestReloader_MissingFile(t *testing.T) {
	r, path := newTestReloader(t)

	if err := os.Remove(path); err != nil {
		t.Fatalf("failed to remove config: %v", err)
	}

	cfg, changed, err := r.Reload()
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	if changed {
		t.Error("missing file must not count as a change")
	}
	if cfg == nil || cfg.Runtime != types.RuntimePython2 {
		t.Error("expected previous configuration to stay in effect")
	}
}
