package stor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingUpsertAndDefaults(t *testing.T) {
	stors := newTestStors(t)

	_, err := stors.SettingStor.GetSetting("max_file_size")
	assert.Error(t, err)
	assert.Equal(t, "1024", stors.SettingStor.GetSettingWithDefault("max_file_size", "1024"))

	require.NoError(t, stors.SettingStor.SetSetting("max_file_size", "2048"))
	require.NoError(t, stors.SettingStor.SetSetting("max_file_size", "4096"))

	value, err := stors.SettingStor.GetSetting("max_file_size")
	require.NoError(t, err)
	assert.Equal(t, "4096", value)

	require.NoError(t, stors.SettingStor.SetSetting("default_expiry", "24h"))

	all, err := stors.SettingStor.GetAllSettings()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"max_file_size":  "4096",
		"default_expiry": "24h",
	}, all)
}
