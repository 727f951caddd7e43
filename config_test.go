package apyserver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "apyserver.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigFile_OverridesOnlyPresentKeys(t *testing.T) {
	path := writeTempConfig(t, `
[asyncapy]
port = 9000
encoding = "compact"
byteorder = "little"
logging_level = "debug"
`)

	cfg := DefaultConfig()
	require.NoError(t, LoadConfigFile(&cfg, path))

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, EncodingCompact, cfg.DefaultEncoding)
	assert.False(t, cfg.BigEndian)
	assert.Equal(t, logrus.DebugLevel, cfg.LoggingLevel)

	// untouched fields retain their defaults
	assert.Equal(t, "127.0.0.1", cfg.Addr)
	assert.Equal(t, 1024, cfg.Buf)
}

func TestLoadConfigFile_RejectsInvalidByteOrder(t *testing.T) {
	path := writeTempConfig(t, `
[asyncapy]
byteorder = "sideways"
`)

	cfg := DefaultConfig()
	assert.Error(t, LoadConfigFile(&cfg, path))
}

func TestLoadConfigFile_RejectsInvalidEncoding(t *testing.T) {
	path := writeTempConfig(t, `
[asyncapy]
encoding = "xml"
`)

	cfg := DefaultConfig()
	assert.Error(t, LoadConfigFile(&cfg, path))
}

func TestLoadConfigFile_MissingFile(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, LoadConfigFile(&cfg, filepath.Join(t.TempDir(), "missing.toml")))
}
