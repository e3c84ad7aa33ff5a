package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polybot/yolo-service/internal/app"
)

// Commands load settings through viper's global instance, so these tests
// do not run in parallel.

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	ctx := &app.Context{}
	root := RootCommand(ctx)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	ctx.Close()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestConfigCommandMasksSecrets(t *testing.T) {
	t.Setenv("YOLO_MYSQL_PASSWORD", "")
	path := writeConfig(t, "main:\n  name: cli-test\noutput:\n  mysql:\n    password: hunter2\n")

	out, err := execute(t, "--config", path, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "name: cli-test")
	assert.Contains(t, out, "backend: sqlite")
	assert.Contains(t, out, "********")
	assert.NotContains(t, out, "hunter2")
}

func TestDebugFlagRaisesLogLevel(t *testing.T) {
	path := writeConfig(t, "main:\n  name: cli-test\n")

	viper.Reset()
	t.Cleanup(viper.Reset)
	ctx := &app.Context{}
	t.Cleanup(ctx.Close)
	root := RootCommand(ctx)
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--debug", "--config", path, "config"})
	require.NoError(t, root.Execute())

	require.NotNil(t, ctx.Settings)
	assert.True(t, ctx.Settings.Debug)
	assert.Equal(t, "debug", ctx.Settings.Logging.DefaultLevel)
}

func TestPredictRequiresBucketAndRegion(t *testing.T) {
	path := writeConfig(t, "main:\n  name: cli-test\n")

	_, err := execute(t, "--config", path, "predict", "file_71.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}

func TestMissingConfigFileFails(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "config")
	require.Error(t, err)
}

func TestSubcommandsRegistered(t *testing.T) {
	root := RootCommand(&app.Context{})
	for _, name := range []string{"serve", "consume", "predict", "config"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
	consume, _, err := root.Find([]string{"consume"})
	require.NoError(t, err)
	assert.NotNil(t, consume.Flags().Lookup("remote"))
}
