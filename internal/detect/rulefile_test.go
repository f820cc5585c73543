package detect

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRules(t *testing.T) {
	rules, err := ParseRules([]byte(`
rules:
  - label: Acme firmware image
    offset: 0
    hex: "41434d45"
  - label: Widget archive
    offset: 4
    string: WDGT
`))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.True(t, rules[0].Match([]byte("ACME....")))
	assert.False(t, rules[0].Match([]byte("ACM")))
	assert.True(t, rules[1].Match([]byte("\x00\x00\x00\x00WDGT")))
}

func TestParseRules_Empty(t *testing.T) {
	rules, err := ParseRules(nil)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestParseRules_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown field", "rules:\n  - label: x\n    offst: 1\n    hex: '00'\n", "parse rule file"},
		{"missing label", "rules:\n  - hex: '00'\n", "label is required"},
		{"no bytes", "rules:\n  - label: x\n", "one of hex or string is required"},
		{"both", "rules:\n  - label: x\n    hex: '00'\n    string: a\n", "only one of hex or string"},
		{"bad hex", "rules:\n  - label: x\n    hex: zz\n", "hex:"},
		{"negative offset", "rules:\n  - label: x\n    offset: -1\n    hex: '00'\n", "outside"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRules([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "magic.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - label: Acme firmware image\n    string: ACME\n"), 0o644))

	m, err := NewFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Acme firmware image", m.DetectBytes([]byte("ACME\x00")))

	m, err = NewFromFile("")
	require.NoError(t, err)
	assert.Equal(t, "ASCII text", m.DetectBytes([]byte("ACME\n")))

	_, err = NewFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
