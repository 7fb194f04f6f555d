package migrate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMigration(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1"), 0o600))
}

func TestDiscoverOrdersByVersion(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "0002_add_firmwares_up.sql")
	writeMigration(t, dir, "0001_init_up.sql")
	writeMigration(t, dir, "0010_dp_report_log_up.sql")
	// 非迁移文件被忽略
	writeMigration(t, dir, "notes.txt")
	writeMigration(t, dir, "0003_rollback_down.sql")

	steps, err := Runner{Dir: dir}.discover()
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, int64(1), steps[0].version)
	assert.Equal(t, "init", steps[0].name)
	assert.Equal(t, int64(2), steps[1].version)
	assert.Equal(t, "add_firmwares", steps[1].name)
	assert.Equal(t, int64(10), steps[2].version)
}

func TestDiscoverRejectsDuplicateVersion(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "0001_init_up.sql")
	writeMigration(t, dir, "1_init_again_up.sql")

	_, err := Runner{Dir: dir}.discover()
	assert.Error(t, err)
}

func TestUpRequiresDir(t *testing.T) {
	_, err := Runner{}.Up(context.Background(), nil)
	assert.Error(t, err)
}
