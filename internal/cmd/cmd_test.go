package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAPIKeys(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want map[string]string
	}{
		{"empty", "", map[string]string{}},
		{"bare key defaults org", "dsk-1", map[string]string{"dsk-1": "default"}},
		{"key with org", "dsk-1:org-acme", map[string]string{"dsk-1": "org-acme"}},
		{
			"multiple entries with whitespace",
			" dsk-1:org-acme , dsk-2 ,, dsk-3:org-b ",
			map[string]string{"dsk-1": "org-acme", "dsk-2": "default", "dsk-3": "org-b"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseAPIKeys(tt.env))
		})
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "serve", "audit", "secrets", "ingest", "synonyms", "doctor", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestResolvedVersionDev(t *testing.T) {
	assert.NotEmpty(t, resolvedVersion())
}
