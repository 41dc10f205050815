package provisioner

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/envforge/internal/config"
	"github.com/oshokin/envforge/internal/envctx"
	"github.com/oshokin/envforge/internal/logger"
	"github.com/oshokin/envforge/internal/manifest"
	"github.com/oshokin/envforge/internal/tools"
)

// fakeRunner records every invocation and answers through a scripted
// responder. The default responder succeeds silently.
type fakeRunner struct {
	calls   [][]string
	respond func(name string, args []string) (string, int)
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) (string, int) {
	return r.invoke(name, args)
}

func (r *fakeRunner) RunIn(_ context.Context, _, name string, args ...string) (string, int) {
	return r.invoke(name, args)
}

func (r *fakeRunner) invoke(name string, args []string) (string, int) {
	r.calls = append(r.calls, append([]string{name}, args...))

	if r.respond == nil {
		return "", 0
	}

	return r.respond(name, args)
}

// commandLines renders the recorded invocations for containment assertions.
func (r *fakeRunner) commandLines() []string {
	lines := make([]string, 0, len(r.calls))
	for _, call := range r.calls {
		lines = append(lines, strings.Join(call, " "))
	}

	return lines
}

func (r *fakeRunner) countMatching(fragment string) int {
	count := 0

	for _, line := range r.commandLines() {
		if strings.Contains(line, fragment) {
			count++
		}
	}

	return count
}

// fakeFetcher satisfies artifactFetcher without touching the network.
type fakeFetcher struct{}

func (fakeFetcher) Fetch(context.Context, string, string) error  { return nil }
func (fakeFetcher) Direct(context.Context, string, string) error { return nil }

// fakeEnsurer records ensured tool names and always reports presence.
type fakeEnsurer struct {
	ensured []string
}

func (e *fakeEnsurer) Ensure(_ context.Context, req tools.Requirement) error {
	e.ensured = append(e.ensured, req.Name)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		InstallPath:      "/srv/studio",
		TempPath:         "/scratch",
		SourceRepo:       "https://example.com/apps/studio.git",
		PythonMinVersion: "3.10",
		PreservedFolders: []string{"models", "output"},
		RemoveRetries:    2,
		RemoveDelay:      time.Millisecond,
	}
}

// newTestPipeline builds a pipeline over an in-memory filesystem with every
// external collaborator faked out.
func newTestPipeline(t *testing.T, cfg *config.Config) (*pipeline, *fakeRunner, afero.Fs) {
	t.Helper()

	fs := afero.NewMemMapFs()
	paths := newSession(cfg)

	log, err := logger.OpenSession(fs, paths.LogsDir, logFilename)
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, log.Close()) })

	run := &fakeRunner{}

	p := &pipeline{
		cfg:     cfg,
		paths:   paths,
		fs:      fs,
		log:     log,
		run:     run,
		fetch:   fakeFetcher{},
		env:     envctx.New("/usr/bin"),
		tools:   &fakeEnsurer{},
		confirm: func(string) bool { return true },
	}

	return p, run, fs
}

func requireDir(t *testing.T, fs afero.Fs, path string) {
	t.Helper()

	exists, err := afero.DirExists(fs, path)
	require.NoError(t, err)
	require.True(t, exists, "expected directory %s", path)
}

func TestRunFreshMachine(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.AcceleratedWheels = []string{"fastmath-2.1.0-py3-none-any.whl"}

	p, run, fs := newTestPipeline(t, cfg)

	// Host interpreter resolvable on the fake PATH.
	require.NoError(t, afero.WriteFile(fs, "/usr/bin/python3", []byte("#!"), 0o755))

	// Pre-populated artifact cache.
	wheelPath := p.paths.CacheDir + "/fastmath-2.1.0-py3-none-any.whl"
	require.NoError(t, afero.WriteFile(fs, wheelPath, []byte("wheel"), 0o644))

	// Manifest with one fresh plugin and one already checked out.
	manifestBody := `plugins:
  - name: nodes
    repo: https://example.com/plugins/nodes.git
  - name: gallery
    repo: https://example.com/plugins/gallery.git
`
	require.NoError(t, afero.WriteFile(fs, p.paths.ManifestPath, []byte(manifestBody), 0o644))
	require.NoError(t, fs.MkdirAll(p.paths.PluginsDir+"/gallery", 0o755))

	run.respond = func(name string, args []string) (string, int) {
		line := name + " " + strings.Join(args, " ")

		switch {
		case strings.Contains(line, "--version"):
			return "Python 3.11.4", 0
		case strings.Contains(line, "-m venv"):
			require.NoError(t, fs.MkdirAll(p.paths.VenvDir, 0o755))
			return "", 0
		case strings.Contains(line, "git clone "+cfg.SourceRepo):
			require.NoError(t, fs.MkdirAll(p.paths.AppDir, 0o755))
			return "", 0
		case strings.Contains(line, "pip show"):
			return "Name: fastmath\nVersion: 2.1.0", 0
		default:
			return "", 0
		}
	}

	require.NoError(t, p.runStages(context.Background()))

	requireDir(t, fs, p.paths.VenvDir)

	// The application clone happened exactly once, the pre-existing plugin
	// was skipped and the fresh one cloned.
	require.Equal(t, 1, run.countMatching("git clone "+cfg.SourceRepo))
	require.Equal(t, 1, run.countMatching("git clone https://example.com/plugins/nodes.git"))
	require.Equal(t, 0, run.countMatching("git clone https://example.com/plugins/gallery.git"))

	// The cached wheel was installed and its version queried.
	require.Equal(t, 1, run.countMatching("pip install "+wheelPath))
	require.Equal(t, 1, run.countMatching("pip show fastmath"))
}

func TestRunDeclinedResetAborts(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	p, run, fs := newTestPipeline(t, cfg)

	require.NoError(t, fs.MkdirAll(p.paths.AppDir, 0o755))

	p.confirm = func(string) bool { return false }

	err := p.runStages(context.Background())
	require.ErrorIs(t, err, errUserDeclined)

	// The existing checkout survives and nothing was cloned.
	requireDir(t, fs, p.paths.AppDir)
	require.Equal(t, 0, run.countMatching("git clone"))
}

func TestAcquireSourceParksPreservedFolders(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	p, run, fs := newTestPipeline(t, cfg)

	require.NoError(t, afero.WriteFile(fs, p.paths.AppDir+"/models/weights.bin", []byte("w"), 0o644))
	require.NoError(t, fs.MkdirAll(p.paths.AppDir+"/cache", 0o755))

	run.respond = func(name string, args []string) (string, int) {
		if name == "git" {
			require.NoError(t, fs.MkdirAll(p.paths.AppDir, 0o755))
		}

		return "", 0
	}

	require.NoError(t, p.acquireSource(context.Background()))

	// The preserved folder was parked, the rest of the checkout was not.
	exists, err := afero.Exists(fs, p.paths.BackupDir+"/models/weights.bin")
	require.NoError(t, err)
	require.True(t, exists)

	parkedCache, err := afero.DirExists(fs, p.paths.BackupDir+"/cache")
	require.NoError(t, err)
	require.False(t, parkedCache)
}

func TestMigrateFoldersSkipsPopulatedTarget(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	p, _, fs := newTestPipeline(t, cfg)

	require.NoError(t, afero.WriteFile(fs, p.paths.BackupDir+"/models/old.bin", []byte("old"), 0o644))
	require.NoError(t, afero.WriteFile(fs, p.paths.BackupDir+"/output/run.png", []byte("img"), 0o644))
	require.NoError(t, afero.WriteFile(fs, p.paths.AppDir+"/models/new.bin", []byte("new"), 0o644))

	require.NoError(t, p.migrateFolders(context.Background()))

	// Populated target kept its content, the parked copy stayed put.
	kept, err := afero.Exists(fs, p.paths.AppDir+"/models/new.bin")
	require.NoError(t, err)
	require.True(t, kept)

	parked, err := afero.Exists(fs, p.paths.BackupDir+"/models/old.bin")
	require.NoError(t, err)
	require.True(t, parked)

	// The empty target was restored.
	restored, err := afero.Exists(fs, p.paths.AppDir+"/output/run.png")
	require.NoError(t, err)
	require.True(t, restored)
}

func TestInstallBaseDependenciesSkipsWithoutRequirements(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	p, run, fs := newTestPipeline(t, cfg)

	require.NoError(t, fs.MkdirAll(p.paths.AppDir, 0o755))
	p.python = "/srv/studio/studio/venv/bin/python"

	require.NoError(t, p.installBaseDependencies(context.Background()))
	require.Empty(t, run.calls)
}

func TestInstallAcceleratedMissingArtifactContinues(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.AcceleratedWheels = []string{"absent-1.0-py3-none-any.whl", "present-1.0-py3-none-any.whl"}

	p, run, fs := newTestPipeline(t, cfg)
	p.python = "python"

	presentPath := p.paths.CacheDir + "/present-1.0-py3-none-any.whl"
	require.NoError(t, afero.WriteFile(fs, presentPath, []byte("wheel"), 0o644))

	require.NoError(t, p.installAcceleratedComponents(context.Background()))

	// Only the present artifact reached pip.
	require.Equal(t, 0, run.countMatching("absent-1.0"))
	require.Equal(t, 1, run.countMatching("pip install "+presentPath))
}

func TestInstallAcceleratedFailingInstallAborts(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.AcceleratedWheels = []string{"broken-1.0-py3-none-any.whl"}

	p, run, fs := newTestPipeline(t, cfg)
	p.python = "python"

	require.NoError(t, afero.WriteFile(fs,
		p.paths.CacheDir+"/broken-1.0-py3-none-any.whl", []byte("wheel"), 0o644))

	run.respond = func(_ string, args []string) (string, int) {
		if strings.Contains(strings.Join(args, " "), "pip install") {
			return "error", 1
		}

		return "", 0
	}

	err := p.installAcceleratedComponents(context.Background())
	require.ErrorIs(t, err, errComponentInstallFailed)
}

func TestInstallComponentSurvivesVersionQueryFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	p, run, _ := newTestPipeline(t, cfg)
	p.python = "python"

	run.respond = func(_ string, args []string) (string, int) {
		if strings.Contains(strings.Join(args, " "), "pip show") {
			return "", 1
		}

		return "", 0
	}

	result := p.installComponent(context.Background(), "/scratch/wheels/fastmath-2.1.0-py3-none-any.whl")
	require.True(t, result.OK)
	require.Empty(t, result.Version)
}

func TestInstallPluginsSkipsWithoutManifest(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	p, run, _ := newTestPipeline(t, cfg)

	require.NoError(t, p.installPlugins(context.Background()))
	require.Empty(t, run.calls)
}

func TestInstallPluginsMalformedManifestAborts(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	p, _, fs := newTestPipeline(t, cfg)

	require.NoError(t, afero.WriteFile(fs, p.paths.ManifestPath,
		[]byte("plugins:\n  - repo: https://example.com/p.git\n"), 0o644))

	require.Error(t, p.installPlugins(context.Background()))
}

func TestInstallPluginCloneFailureSurvived(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	p, run, _ := newTestPipeline(t, cfg)
	p.python = "python"

	run.respond = func(name string, _ []string) (string, int) {
		if name == "git" {
			return "fatal: repository not found", 128
		}

		return "", 0
	}

	p.installPlugin(context.Background(), manifest.Entry{
		Name: "nodes",
		Repo: "https://example.com/plugins/nodes.git",
	})

	// The clone was attempted, dependency install never ran.
	require.Equal(t, 1, run.countMatching("git clone"))
	require.Equal(t, 0, run.countMatching("pip install"))
}

func TestBootstrapToolsEnsuresGitAndAria2(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	require.NoError(t, config.Validate(cfg))

	p, _, _ := newTestPipeline(t, cfg)

	ensurer := &fakeEnsurer{}
	p.tools = ensurer

	require.NoError(t, p.bootstrapTools(context.Background()))
	require.Equal(t, []string{"git", "aria2"}, ensurer.ensured)
}

func TestParseInterpreterVersion(t *testing.T) {
	t.Parallel()

	parsed, err := parseInterpreterVersion("Python 3.11.4\n")
	require.NoError(t, err)
	require.Equal(t, "3.11.4", parsed.String())

	_, err = parseInterpreterVersion("command not found")
	require.Error(t, err)
}

func TestCreateRuntimeRejectsOldInterpreter(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	p, run, fs := newTestPipeline(t, cfg)

	require.NoError(t, afero.WriteFile(fs, "/usr/bin/python3", []byte("#!"), 0o755))

	run.respond = func(_ string, args []string) (string, int) {
		if len(args) == 1 && args[0] == "--version" {
			return "Python 3.8.10", 0
		}

		return "", 0
	}

	err := p.createRuntime(context.Background())
	require.ErrorIs(t, err, errInterpreterTooOld)
	require.Equal(t, 0, run.countMatching("-m venv"))
}

func TestCreateRuntimeReusesExisting(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	p, run, fs := newTestPipeline(t, cfg)

	require.NoError(t, fs.MkdirAll(p.paths.VenvDir, 0o755))

	require.NoError(t, p.createRuntime(context.Background()))
	require.Empty(t, run.calls)
	require.NotEmpty(t, p.python)
}

func TestReportedVersion(t *testing.T) {
	t.Parallel()

	output := "Name: fastmath\nVersion: 2.1.0\nSummary: fast math\n"
	require.Equal(t, "2.1.0", reportedVersion(output))
	require.Empty(t, reportedVersion("no version here"))
}
