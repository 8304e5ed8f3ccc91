package log

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func withMode(t *testing.T, mode SanitizationMode) {
	t.Helper()
	prev := Mode()
	SetMode(mode)
	t.Cleanup(func() { SetMode(prev) })
}

func TestSanitizePath(t *testing.T) {
	long := "documents/2024/quarterly/report-final.txt"

	withMode(t, ProductionMode)
	hashed := SanitizePath(long)
	assert.True(t, strings.HasPrefix(hashed, "hash:"))
	assert.NotContains(t, hashed, "report")
	assert.Equal(t, hashed, SanitizePath(long), "hashing is stable")
	assert.Equal(t, "", SanitizePath(""))

	SetMode(DevelopmentMode)
	assert.Equal(t, "short.txt", SanitizePath("short.txt"))
	assert.Equal(t, "documents/...nal.txt", SanitizePath(long))

	SetMode(DebugMode)
	assert.Equal(t, long, SanitizePath(long))
}

func TestSanitizeKey(t *testing.T) {
	withMode(t, DebugMode)
	assert.Equal(t, "sk-l****", SanitizeKey("sk-live-abcdef"))
	assert.Equal(t, "****", SanitizeKey("short"))

	SetMode(ProductionMode)
	assert.True(t, strings.HasPrefix(SanitizeKey("sk-live-abcdef"), "key_hash:"))
}

func TestParseMode(t *testing.T) {
	m, ok := ParseMode("Development")
	assert.True(t, ok)
	assert.Equal(t, DevelopmentMode, m)

	_, ok = ParseMode("verbose")
	assert.False(t, ok)
}

func TestNewLogger(t *testing.T) {
	logger, err := New("debug", "json")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	logger, err = New("", "console")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))

	_, err = New("loud", "json")
	assert.Error(t, err)
}
