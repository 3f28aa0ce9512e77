package provision_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stagehand/stagehand/pkg/provision"
	"github.com/stagehand/stagehand/pkg/tasks"
	"github.com/stagehand/stagehand/pkg/toolchain"
	"github.com/stagehand/stagehand/pkg/types"
)

// writeStubTool writes an executable script that fakes a provisioning
// tool. It records its arguments and lays down a minimal python2
// environment, including a pip stub, under the envDir it receives.
func writeStubTool(t *testing.T, dir string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub tool scripts require a POSIX shell")
	}

	script := `#!/bin/sh
env_dir="$1"
echo "$@" >> "$(dirname "$0")/tool-calls.txt"
mkdir -p "$env_dir/lib/python2.7/site-packages"
mkdir -p "$env_dir/bin"
cat > "$env_dir/bin/pip" <<'PIP'
#!/bin/sh
echo "$@" >> "$(dirname "$0")/../pip-calls.txt"
PIP
chmod +x "$env_dir/bin/pip"
`
	path := filepath.Join(dir, "stub-virtualenv")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("failed to write stub tool: %v", err)
	}
	return path
}

func writePipStub(t *testing.T, envDir, script string) {
	t.Helper()
	binDir := filepath.Join(envDir, "bin")
	if err := os.MkdirAll(binDir, 0755); err != nil {
		t.Fatalf("failed to create bin dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(binDir, "pip"), []byte(script), 0755); err != nil {
		t.Fatalf("failed to write pip stub: %v", err)
	}
}

func testConfig(toolPath string) *types.StagehandConfig {
	return &types.StagehandConfig{
		Version:   "1.0",
		Runtime:   types.RuntimePython2,
		Workspace: types.WorkspaceConfig{EnvDir: "env"},
		Provisioner: &types.ProvisionerConfig{
			Tool: toolPath,
		},
	}
}

func TestLookupTools_Missing(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("PATH", t.TempDir())

	config := testConfig("no-such-provisioner")
	p := provision.New(tmpDir, config)

	err := p.LookupTools(context.Background(), &tasks.StepContext{})
	if err == nil {
		t.Fatal("expected error for missing tool")
	}
	if !errors.Is(err, toolchain.ErrToolNotFound) {
		t.Errorf("expected ErrToolNotFound, got %v", err)
	}
}

func TestLookupTools_Found(t *testing.T) {
	tmpDir := t.TempDir()
	stub := writeStubTool(t, tmpDir)

	p := provision.New(tmpDir, testConfig(stub))

	var log bytes.Buffer
	if err := p.LookupTools(context.Background(), &tasks.StepContext{Log: &log}); err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !strings.Contains(log.String(), stub) {
		t.Errorf("expected step log to mention %s, got %q", stub, log.String())
	}
}

func TestCreateDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	p := provision.New(tmpDir, testConfig("unused"))

	if err := p.CreateDirectories(context.Background(), &tasks.StepContext{}); err != nil {
		t.Fatalf("create directories failed: %v", err)
	}

	libDir := filepath.Join(tmpDir, "src", "lib")
	if info, err := os.Stat(libDir); err != nil || !info.IsDir() {
		t.Errorf("expected lib directory at %s", libDir)
	}

	// Second run is a no-op
	if err := p.CreateDirectories(context.Background(), &tasks.StepContext{}); err != nil {
		t.Errorf("expected idempotent create, got %v", err)
	}
}

func TestCreateEnvironment(t *testing.T) {
	tmpDir := t.TempDir()
	stub := writeStubTool(t, tmpDir)

	p := provision.New(tmpDir, testConfig(stub))

	var log bytes.Buffer
	step := &tasks.StepContext{Log: &log}

	if err := p.CreateEnvironment(context.Background(), step); err != nil {
		t.Fatalf("create environment failed: %v", err)
	}

	packagesDir := filepath.Join(tmpDir, "env", "lib", "python2.7", "site-packages")
	if info, err := os.Stat(packagesDir); err != nil || !info.IsDir() {
		t.Fatalf("expected package directory at %s", packagesDir)
	}
	if !strings.Contains(log.String(), "Executing:") {
		t.Errorf("expected command trace in step log, got %q", log.String())
	}

	calls, err := os.ReadFile(filepath.Join(tmpDir, "tool-calls.txt"))
	if err != nil {
		t.Fatalf("expected tool invocation record: %v", err)
	}
	if !strings.Contains(string(calls), filepath.Join(tmpDir, "env")) {
		t.Errorf("expected tool to receive envDir, got %q", calls)
	}

	// Existing environment reports fresh
	err = p.CreateEnvironment(context.Background(), step)
	if !errors.Is(err, tasks.ErrUpToDate) {
		t.Errorf("expected ErrUpToDate for existing environment, got %v", err)
	}
}

func TestCreateEnvironment_Node(t *testing.T) {
	tmpDir := t.TempDir()
	stub := writeStubTool(t, tmpDir)

	config := testConfig(stub)
	config.Runtime = types.RuntimeNode

	p := provision.New(tmpDir, config)

	if err := p.CreateEnvironment(context.Background(), &tasks.StepContext{}); err != nil {
		t.Fatalf("create environment failed: %v", err)
	}

	// Node has no creation command; the package directory is created
	// directly and the tool is never invoked.
	packagesDir := filepath.Join(tmpDir, "env", "node_modules")
	if info, err := os.Stat(packagesDir); err != nil || !info.IsDir() {
		t.Errorf("expected node_modules at %s", packagesDir)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "tool-calls.txt")); !os.IsNotExist(err) {
		t.Error("expected no tool invocation for node environment creation")
	}
}

func TestInstallManifest(t *testing.T) {
	tmpDir := t.TempDir()
	stub := writeStubTool(t, tmpDir)

	manifest := filepath.Join(tmpDir, "requirements.txt")
	if err := os.WriteFile(manifest, []byte("WebOb==1.1.1\n"), 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}

	envDir := filepath.Join(tmpDir, "env")
	writePipStub(t, envDir, "#!/bin/sh\necho \"$@\" >> \"$(dirname \"$0\")/../pip-calls.txt\"\n")

	p := provision.New(tmpDir, testConfig(stub))

	if err := p.InstallManifest(context.Background(), &tasks.StepContext{}); err != nil {
		t.Fatalf("install failed: %v", err)
	}

	snapshot := filepath.Join(envDir, "requirements.txt")
	data, err := os.ReadFile(snapshot)
	if err != nil {
		t.Fatalf("expected manifest snapshot at %s: %v", snapshot, err)
	}
	if string(data) != "WebOb==1.1.1\n" {
		t.Errorf("expected snapshot to copy manifest, got %q", data)
	}

	calls, err := os.ReadFile(filepath.Join(envDir, "pip-calls.txt"))
	if err != nil {
		t.Fatalf("expected pip invocation record: %v", err)
	}
	if !strings.Contains(string(calls), "install -r "+manifest) {
		t.Errorf("expected pip install -r invocation, got %q", calls)
	}

	// Unchanged manifest reports fresh without invoking pip again
	err = p.InstallManifest(context.Background(), &tasks.StepContext{})
	if !errors.Is(err, tasks.ErrUpToDate) {
		t.Fatalf("expected ErrUpToDate for unchanged manifest, got %v", err)
	}

	// Touching the manifest makes the snapshot stale again
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(manifest, future, future); err != nil {
		t.Fatalf("failed to bump manifest mtime: %v", err)
	}
	if err := p.InstallManifest(context.Background(), &tasks.StepContext{}); err != nil {
		t.Fatalf("expected reinstall after manifest change, got %v", err)
	}
}

func TestInstallManifest_MissingManifest(t *testing.T) {
	tmpDir := t.TempDir()
	p := provision.New(tmpDir, testConfig("unused"))

	err := p.InstallManifest(context.Background(), &tasks.StepContext{})
	if err == nil || !strings.Contains(err.Error(), "manifest not found") {
		t.Errorf("expected manifest not found error, got %v", err)
	}
}

func TestInstallManifest_FailureLeavesNoSnapshot(t *testing.T) {
	tmpDir := t.TempDir()
	stub := writeStubTool(t, tmpDir)

	manifest := filepath.Join(tmpDir, "requirements.txt")
	if err := os.WriteFile(manifest, []byte("WebOb==1.1.1\n"), 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}

	envDir := filepath.Join(tmpDir, "env")
	writePipStub(t, envDir, "#!/bin/sh\necho 'could not find a version' >&2\nexit 1\n")

	p := provision.New(tmpDir, testConfig(stub))

	var log bytes.Buffer
	err := p.InstallManifest(context.Background(), &tasks.StepContext{Log: &log})
	if err == nil {
		t.Fatal("expected install failure")
	}
	if errors.Is(err, tasks.ErrUpToDate) {
		t.Fatalf("expected hard failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "could not find a version") {
		t.Errorf("expected captured tool output in error, got %v", err)
	}

	if _, statErr := os.Stat(filepath.Join(envDir, "requirements.txt")); !os.IsNotExist(statErr) {
		t.Error("expected no snapshot after failed install")
	}

	// The failed run retries
	writePipStub(t, envDir, "#!/bin/sh\nexit 0\n")
	if err := p.InstallManifest(context.Background(), &tasks.StepContext{}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
}

func TestWriteMarkers(t *testing.T) {
	tmpDir := t.TempDir()

	config := testConfig("unused")
	config.SDK = &types.SDKConfig{Path: "/opt/cloud_sdk"}
	config.DevLib = &types.DevLibConfig{Path: "/srv/shared/devlib", Marker: "devlib"}

	packagesDir := filepath.Join(tmpDir, "env", "lib", "python2.7", "site-packages")
	if err := os.MkdirAll(packagesDir, 0755); err != nil {
		t.Fatalf("failed to create package directory: %v", err)
	}

	p := provision.New(tmpDir, config)

	if err := p.WriteMarkers(context.Background(), &tasks.StepContext{}); err != nil {
		t.Fatalf("write markers failed: %v", err)
	}

	sdkMarker := filepath.Join(packagesDir, "cloud_sdk.pth")
	data, err := os.ReadFile(sdkMarker)
	if err != nil {
		t.Fatalf("expected sdk marker at %s: %v", sdkMarker, err)
	}
	if string(data) != "/opt/cloud_sdk\n" {
		t.Errorf("expected single path plus newline, got %q", data)
	}

	devlibMarker := filepath.Join(packagesDir, "devlib.pth")
	if data, err := os.ReadFile(devlibMarker); err != nil || string(data) != "/srv/shared/devlib\n" {
		t.Errorf("expected devlib marker content, got %q (%v)", data, err)
	}

	// Unchanged markers report fresh
	err = p.WriteMarkers(context.Background(), &tasks.StepContext{})
	if !errors.Is(err, tasks.ErrUpToDate) {
		t.Errorf("expected ErrUpToDate for current markers, got %v", err)
	}

	// A changed path rewrites only the affected marker
	config.SDK.Path = "/opt/cloud_sdk-2"
	if err := p.WriteMarkers(context.Background(), &tasks.StepContext{}); err != nil {
		t.Fatalf("expected rewrite after path change, got %v", err)
	}
	if data, _ := os.ReadFile(sdkMarker); string(data) != "/opt/cloud_sdk-2\n" {
		t.Errorf("expected rewritten marker, got %q", data)
	}
}

func TestWriteMarkers_NoneConfigured(t *testing.T) {
	tmpDir := t.TempDir()

	packagesDir := filepath.Join(tmpDir, "env", "lib", "python2.7", "site-packages")
	if err := os.MkdirAll(packagesDir, 0755); err != nil {
		t.Fatalf("failed to create package directory: %v", err)
	}

	p := provision.New(tmpDir, testConfig("unused"))

	err := p.WriteMarkers(context.Background(), &tasks.StepContext{})
	if !errors.Is(err, tasks.ErrUpToDate) {
		t.Errorf("expected ErrUpToDate with no markers configured, got %v", err)
	}
}

func TestWriteMarkers_MissingPackagesDir(t *testing.T) {
	tmpDir := t.TempDir()

	config := testConfig("unused")
	config.SDK = &types.SDKConfig{Path: "/opt/cloud_sdk"}

	p := provision.New(tmpDir, config)

	err := p.WriteMarkers(context.Background(), &tasks.StepContext{})
	if err == nil || !strings.Contains(err.Error(), "package directory not found") {
		t.Errorf("expected package directory error, got %v", err)
	}
}
