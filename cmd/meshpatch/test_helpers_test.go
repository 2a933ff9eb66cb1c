package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"meshpatch/internal/config"
	"meshpatch/internal/store"
	"meshpatch/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	authorDir  string
	projectDir string
}

func baseScene() testsupport.Scene {
	return testsupport.Chain("Hips", "Spine", "Head").With(
		testsupport.SceneNode{Name: "Body", Class: "Mesh", Parent: "Hips"},
	)
}

func outfitScene() testsupport.Scene {
	return baseScene().With(testsupport.SceneNode{Name: "Hat", Class: "Mesh", Parent: "Head"})
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	cfg.Logging.Level = "error"
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", filepath.Join(base, "home"))

	configPath := filepath.Join(base, "meshpatch.toml")
	writeTestConfig(t, configPath, cfg)

	env := &cliTestEnv{
		cfg:        cfg,
		configPath: configPath,
		authorDir:  filepath.Join(base, "author"),
		projectDir: filepath.Join(base, "project"),
	}
	testsupport.WriteFBX(t, env.authorPath("Avatar.fbx"), baseScene())
	testsupport.WriteFBX(t, env.authorPath("Outfit.fbx"), outfitScene())
	testsupport.WriteFBX(t, env.projectPath("Avatar.fbx"), baseScene())
	return env
}

func (e *cliTestEnv) authorPath(name string) string  { return filepath.Join(e.authorDir, name) }
func (e *cliTestEnv) projectPath(name string) string { return filepath.Join(e.projectDir, name) }

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return runCLI(t, append([]string{"--config", e.configPath}, args...), "")
}

// buildOutfit records the Outfit edit and returns the new asset.
func (e *cliTestEnv) buildOutfit(t *testing.T, extra ...string) store.Asset {
	t.Helper()
	args := append([]string{"build", e.authorPath("Avatar.fbx"), e.authorPath("Outfit.fbx")}, extra...)
	if _, _, err := e.run(t, args...); err != nil {
		t.Fatalf("build: %v", err)
	}
	out, _, err := e.run(t, "list", "--json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var assets []store.Asset
	if err := json.Unmarshal([]byte(out), &assets); err != nil {
		t.Fatalf("decode list: %v\n%s", err, out)
	}
	if len(assets) == 0 {
		t.Fatal("expected an asset after build")
	}
	return assets[len(assets)-1]
}

func runCLI(t *testing.T, args []string, stdin string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
