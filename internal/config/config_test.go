package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, defaultTimezone, cfg.Timezone)
	assert.Equal(t, 7, cfg.PastDays())
	assert.Equal(t, 90, cfg.FutureDays())
	assert.True(t, cfg.DeleteRemoved())
	assert.Equal(t, 15*time.Minute, cfg.Interval())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
home_assistant:
  url: http://ha.local:8123/
  token: secret
  calendars: [calendar.ian]
office365:
  client_id: app
  client_secret: shh
sync:
  delete_removed_events: false
  days_future: 30
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://ha.local:8123", cfg.HomeAssistant.URL)
	assert.Equal(t, 7, cfg.PastDays())
	assert.Equal(t, 30, cfg.FutureDays())
	assert.False(t, cfg.DeleteRemoved())
	assert.False(t, cfg.Sync.UpdateDetection)
	assert.Equal(t, "common", cfg.Office365.TenantID)
	assert.Equal(t, "primary", cfg.Office365.CalendarID)
	assert.Equal(t, 30*24*time.Hour, cfg.FutureHorizon())
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sync: [unterminated"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "Not/AZone"

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrNotConfigured)
	assert.Contains(t, err.Error(), "at least one source calendar")
	assert.Contains(t, err.Error(), "office365.client_id")
	assert.Contains(t, err.Error(), "office365.client_secret")
	assert.Contains(t, err.Error(), "Not/AZone")
}

func TestValidateRequiresHomeAssistantToken(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HomeAssistant.Calendars = []string{"calendar.ian"}
	cfg.Office365.ClientID = "app"
	cfg.Office365.ClientSecret = "shh"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "home_assistant.token")

	cfg.HomeAssistant.Token = "token"
	assert.NoError(t, cfg.Validate())
}

func TestNormalizeDefaultsICSID(t *testing.T) {
	cfg := &Config{ICS: []ICSConfig{
		{URL: "https://example.com/a.ics", Name: "family"},
		{URL: "https://example.com/b.ics"},
		{URL: "https://example.com/feeds/school.v2.ics?token=x"},
		{URL: "https://cal.example.com/"},
	}}
	cfg.Normalize()

	assert.Equal(t, "family", cfg.ICS[0].ID)
	assert.Equal(t, "b", cfg.ICS[1].ID)
	assert.Equal(t, "school-v2", cfg.ICS[2].ID)
	assert.Equal(t, "cal-example-com", cfg.ICS[3].ID)
}

func TestLoadKeepsExplicitZeroWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
sync:
  days_past: 0
  days_future: 0
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.PastDays())
	assert.Equal(t, 0, cfg.FutureDays())
	assert.Equal(t, time.Duration(0), cfg.PastHorizon())
	assert.Equal(t, time.Duration(0), cfg.FutureHorizon())
}

func TestValidateRejectsUntaggableCalendarIDs(t *testing.T) {
	for _, tc := range []struct {
		name string
		ha   []string
		ics  []ICSConfig
		want string
	}{
		{name: "bare domain", ha: []string{"calendar."}, want: `"calendar."`},
		{name: "trailing space", ha: []string{"calendar. "}, want: "home_assistant.calendars"},
		{name: "ics trailing dot", ics: []ICSConfig{{ID: "school.", URL: "https://example.com/s.ics"}}, want: `ics[0].id "school."`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.HomeAssistant.URL = "http://ha.local:8123"
			cfg.HomeAssistant.Token = "token"
			cfg.HomeAssistant.Calendars = tc.ha
			cfg.ICS = tc.ics
			cfg.Office365.ClientID = "app"
			cfg.Office365.ClientSecret = "shh"

			err := cfg.Validate()
			require.ErrorIs(t, err, ErrNotConfigured)
			assert.Contains(t, err.Error(), tc.want)
			assert.Contains(t, err.Error(), "no name to tag events with")
		})
	}
}

func TestSaveRoundTripKeepsSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.HomeAssistant.Token = "ha-token"
	cfg.Office365.ClientSecret = "client-secret"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ha-token", loaded.HomeAssistant.Token)
	assert.Equal(t, "client-secret", loaded.Office365.ClientSecret)
}

func TestLocationFallsBackToLocal(t *testing.T) {
	cfg := &Config{Timezone: "Europe/London"}
	assert.Equal(t, "Europe/London", cfg.Location().String())

	cfg.Timezone = "bogus"
	assert.Equal(t, time.Local, cfg.Location())
}

func TestNormalizeMergesLegacyCalendars(t *testing.T) {
	cfg := &Config{
		HomeAssistant: HomeAssistantConfig{Calendars: []string{"calendar.ian"}},
		Sync:          SyncConfig{HACalendars: []string{"calendar.ian", "calendar.family"}},
	}
	cfg.Normalize()

	assert.Equal(t, []string{"calendar.ian", "calendar.family"}, cfg.HomeAssistant.Calendars)
	assert.Nil(t, cfg.Sync.HACalendars)
}
