package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "targets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadTargets(t *testing.T) {
	path := writeFile(t, `
batch_size: 5
delay: 1500ms
targets:
  - id: r1
    name: Din Tai Fung
    context: Paragon
  - id: r2
`)

	tf, err := loadTargets(path)
	require.NoError(t, err)
	assert.Equal(t, 5, tf.BatchSize)
	assert.Equal(t, 1500*time.Millisecond, tf.Delay)
	require.Len(t, tf.Targets, 2)
	assert.Equal(t, "Din Tai Fung", tf.Targets[0].Name)
	assert.Equal(t, "Paragon", tf.Targets[0].Context)
	assert.Equal(t, "r2", tf.Targets[1].ID)
	assert.Empty(t, tf.Targets[1].Name)
}

func TestLoadTargets_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty list", "targets: []\n", "no targets"},
		{"missing id", "targets:\n  - name: x\n", "target 0 has no id"},
		{"bad yaml", "targets: [\n", "parsing targets"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadTargets(writeFile(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := loadTargets(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading targets")
}
