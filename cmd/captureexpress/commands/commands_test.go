package commands

import (
	"testing"

	"github.com/bryanchriswhite/CaptureExpress/internal/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRegion(t *testing.T) {
	r, err := parseRegion("-1920, 0,3840,1080")
	require.NoError(t, err)
	assert.Equal(t, host.Rect{X: -1920, Y: 0, Width: 3840, Height: 1080}, r)

	for _, bad := range []string{"", "1,2,3", "a,b,c,d", "1,2,3,4,5"} {
		_, err := parseRegion(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseSettingValue(t *testing.T) {
	assert.Equal(t, float64(18), parseSettingValue("18"))
	assert.Equal(t, true, parseSettingValue("true"))
	assert.Equal(t, "mkv", parseSettingValue("mkv"))
	assert.Equal(t, "quoted", parseSettingValue(`"quoted"`))
	assert.Equal(t, "[1,2]", parseSettingValue("[1,2]"))
	assert.Equal(t, "/home/me/Videos", parseSettingValue("/home/me/Videos"))
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"serve"},
		{"config", "show"},
		{"config", "set"},
		{"status"},
		{"devices"},
		{"settings", "get"},
		{"settings", "set"},
		{"record", "start"},
		{"record", "stop"},
		{"recordings"},
		{"shutdown"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"1"}, {"2", "3"}}, []columnAlignment{alignLeft, alignRight})
	assert.Contains(t, out, "A")
	assert.Contains(t, out, "3")
	assert.Empty(t, renderTable(nil, nil, nil))
}
