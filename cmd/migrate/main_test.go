package main

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/agency-leads/migrations"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		args    []string
		want    command
		wantErr bool
	}{
		{nil, command{name: "up"}, false},
		{[]string{"down"}, command{name: "down"}, false},
		{[]string{"force", "1"}, command{name: "force", version: 1}, false},
		{[]string{"force"}, command{}, true},
		{[]string{"force", "x"}, command{}, true},
		{[]string{"drop"}, command{}, true},
	}
	for _, tt := range tests {
		got, err := parseCommand(tt.args)
		if tt.wantErr {
			assert.Error(t, err, "args %v", tt.args)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrations.FS, "*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrations.FS, "*.down.sql")
	require.NoError(t, err)
	assert.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))
}
