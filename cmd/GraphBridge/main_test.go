package main

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skuntir.com/GraphBridge/internal/config"
)

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&errOut)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func writeConfig(t *testing.T, home, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conf.yaml")
	data := "home_path: " + home + "\n" + body
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestEmbeddedDefaultConfigValidates(t *testing.T) {
	t.Setenv("TEXMACS_HOME_PATH", "/tmp/tmhome")

	cfg, err := config.Parse(embeddedDefaultConfig)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/tmp/tmhome", cfg.HomePath)
	assert.Equal(t, "dot", cfg.DefaultPlugin)
	dot, ok := cfg.Plugin("dot")
	require.True(t, ok)
	assert.Contains(t, dot.Flags, "{{png_file}}")
}

func TestEnsureConfigFile_KeepsExistingUnlessOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "default.yaml")

	require.NoError(t, ensureConfigFile(path, false))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, embeddedDefaultConfig, b)

	require.NoError(t, os.WriteFile(path, []byte("OLD"), 0o644))
	require.NoError(t, ensureConfigFile(path, false))
	b, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "OLD", string(b))

	require.NoError(t, ensureConfigFile(path, true))
	b, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, embeddedDefaultConfig, b)
}

func TestDefaultConfigPath_UsesXDGConfigHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	p, err := defaultConfigPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/xdg/GraphBridge/conf/default.yaml", p)
}

func TestRegenDefaultConfigFlag_OverwritesConfigFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "default.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("OLD"), 0o644))

	out, _, err := execute(t, "", "--regen-default-config", "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, cfgPath+"\n", out)

	b, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(b), "plugins:")
}

func TestPathsCommand(t *testing.T) {
	home := t.TempDir()
	cfgPath := writeConfig(t, home, "width: 10\nheight: 20\nplugins: []\n")

	out, _, err := execute(t, "", "paths", "plot", "--config", cfgPath, "--width", "100", "--height", "50")
	require.NoError(t, err)

	tmp := home + "/system/tmp/"
	assert.Contains(t, out, "tmp_dir  "+tmp+"\n")
	assert.Contains(t, out, "png      "+tmp+"plot.png?width=100&height=50\n")
	assert.Contains(t, out, "eps      "+tmp+"plot.eps?width=100&height=50\n")
}

func TestPathsCommand_InvalidConfig(t *testing.T) {
	cfgPath := writeConfig(t, "/h", "width: -1\n")
	_, _, err := execute(t, "", "paths", "plot", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

const shellEngines = `plugins:
  - name: cat
    binary: /bin/sh
    version_args: ["-c", "echo cat engine 1.0"]
    flags: ["-c", "cat > {{png_file}}"]
  - name: broken
    binary: /nonexistent/engine
  - name: off
    binary: /bin/sh
    enabled: false
`

func TestPluginsCommand(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("linux only")
	}
	cfgPath := writeConfig(t, t.TempDir(), shellEngines)

	out, _, err := execute(t, "", "plugins", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "cat           available    /bin/sh\n")
	assert.Contains(t, out, "broken        unavailable  /nonexistent/engine\n")
	assert.Contains(t, out, "off           disabled     /bin/sh\n")
}

func TestSessionCommand_RendersBlock(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("linux only")
	}
	home := t.TempDir()
	cfgPath := writeConfig(t, home, "default_plugin: cat\n"+shellEngines)

	out, _, err := execute(t, "digraph { a -> b }\n<EOF>\n", "--config", cfgPath, "--width", "64", "--height", "32")
	require.NoError(t, err)

	png := home + "/system/tmp/cat.png"
	assert.Equal(t,
		"\x02verbatim:GraphBridge engines: cat\n\x05"+
			"\x02verbatim:cat engine 1.0\n\x05"+
			"\x02prompt#cat] \x05"+
			"\x02file:"+png+"?width=64&height=32\x05"+
			"\x02prompt#cat] \x05",
		out)

	b, err := os.ReadFile(png)
	require.NoError(t, err)
	assert.Equal(t, "digraph { a -> b }", string(b))
}

func TestSessionCommand_NoEngineAvailable(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir(), "plugins:\n  - name: broken\n    binary: /nonexistent/engine\n")

	_, errOut, err := execute(t, "", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, errOut, "\x02verbatim:no graph engine available\n\x05")
}
