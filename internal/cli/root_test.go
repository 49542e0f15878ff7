package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memvault/internal/config"
)

func useTestConfig(t *testing.T) {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.MasterSecret = "cli-test-secret"
	cfg.PassphraseSalt = "cli-test-salt"
	cfg.Log.Level = "error"
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, config.Save(cfg, path))

	old := configPath
	configPath = path
	t.Cleanup(func() { configPath = old })
}

func stubExit(t *testing.T) *int {
	t.Helper()
	code := -1
	osExit = func(c int) { code = c }
	t.Cleanup(func() {
		osExit = os.Exit
		opened = nil
	})
	return &code
}

func useFormat(t *testing.T, f string) {
	t.Helper()
	old := formatFlag
	formatFlag = f
	t.Cleanup(func() { formatFlag = old })
}

func TestExitErrClosesOpenVault(t *testing.T) {
	ctx := context.Background()
	useTestConfig(t)
	code := stubExit(t)

	v := openVault(ctx)
	_, err := v.Recent(ctx, "alice", 5)
	require.NoError(t, err)

	exitErr("put", errors.New("disk full"))
	assert.Equal(t, 1, *code)
	assert.Nil(t, opened)

	_, err = v.Recent(ctx, "alice", 5)
	assert.Error(t, err, "store must be closed before the process exits")
}

func TestExitWithoutVault(t *testing.T) {
	code := stubExit(t)
	exit(2)
	assert.Equal(t, 2, *code)
}

func TestPrintResultJSON(t *testing.T) {
	useFormat(t, "json")
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	printResult(cmd, ack{OK: true, UserID: "alice"})
	assert.JSONEq(t, `{"ok":true,"user_id":"alice"}`, buf.String())
}

func TestPrintResultText(t *testing.T) {
	useFormat(t, "text")
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	printResult(cmd, ack{OK: true, UserID: "alice", ID: "a1b2c3"})
	assert.Equal(t, "ok: true\nuser_id: alice\nid: a1b2c3\n", buf.String())

	buf.Reset()
	printResult(cmd, []ack{{OK: true, ID: "x1"}, {OK: false, ID: "y2"}})
	out := buf.String()
	assert.Contains(t, out, "- ok: true\n")
	assert.Contains(t, out, "id: y2")
	assert.NotContains(t, out, "{")
}

func TestPrintResultUnknownFormat(t *testing.T) {
	useFormat(t, "xml")
	code := stubExit(t)
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	printResult(cmd, ack{OK: true})
	assert.Equal(t, 1, *code)
	assert.Empty(t, buf.String())
}
