package logger

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsolatedLogger_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ws.log")
	l := NewIsolatedLogger(path)

	l.Info("Hub", "client registered", map[string]interface{}{"session_id": "abc"})
	l.Debug("Hub", "below file level", nil)
	l.Error("Hub", "send failed", map[string]interface{}{"error": "boom"})
	_ = l.Sync()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		lines = append(lines, entry)
	}

	require.Len(t, lines, 2)
	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, "Hub", lines[0]["module"])
	assert.Equal(t, "client registered", lines[0]["message"])
	assert.Equal(t, "boom", lines[1]["error_ref"])
}

func TestNopLogger_AcceptsNilDetails(t *testing.T) {
	l := NewNopLogger()
	assert.NotPanics(t, func() {
		l.Warn("Test", "nothing", nil)
		_ = l.Sync()
	})
}
