package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"calmirror/internal/model"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

// ErrNotConfigured is returned by Validate when required fields are missing.
var ErrNotConfigured = errors.New("configuration incomplete")

// HomeAssistantConfig describes the Home Assistant source backend.
type HomeAssistantConfig struct {
	// URL is the base URL, e.g. "http://homeassistant.local:8123".
	URL string `yaml:"url" json:"url"`
	// Token is a long-lived access token.
	Token string `yaml:"token" json:"-"`
	// Calendars lists calendar entity ids, e.g. "calendar.ian".
	Calendars []string `yaml:"calendars" json:"calendars"`
}

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID identifies the calendar; its source tag is derived from it.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label used in logs.
	Name string `yaml:"name" json:"name"`
}

// Office365Config describes the Microsoft Graph destination.
type Office365Config struct {
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"-"`
	TenantID     string `yaml:"tenant_id" json:"tenant_id"`
	// CalendarID is "primary" or a Graph calendar id.
	CalendarID string `yaml:"calendar_id" json:"calendar_id"`
	// UserPrincipalName targets /users/{upn} instead of /me when set.
	UserPrincipalName string `yaml:"user_principal_name" json:"user_principal_name"`
	RedirectURL       string `yaml:"redirect_url" json:"redirect_url"`
	// TokenPath is where the OAuth token is persisted.
	TokenPath string `yaml:"token_path" json:"token_path"`
}

// SyncConfig holds the operating parameters of the sync engine.
type SyncConfig struct {
	// DaysPast and DaysFuture bound the sync window. Nil means the default;
	// an explicit 0 is kept.
	DaysPast   *int `yaml:"days_past" json:"days_past"`
	DaysFuture *int `yaml:"days_future" json:"days_future"`
	// DeleteRemovedEvents propagates source deletions. Nil means true.
	DeleteRemovedEvents *bool `yaml:"delete_removed_events" json:"delete_removed_events"`
	// UpdateDetection enables field-by-field update comparison. When false
	// mirrored events are only created and deleted, never rewritten.
	UpdateDetection bool `yaml:"update_detection" json:"update_detection"`
	// IntervalSeconds is the fixed pause between continuous passes.
	IntervalSeconds int `yaml:"sync_interval" json:"sync_interval"`
	// Schedule is an optional cron expression (e.g. "*/15 * * * *") that
	// replaces IntervalSeconds.
	Schedule string `yaml:"schedule" json:"schedule"`
	// HACalendars is the older location of home_assistant.calendars. Entries
	// are merged into HomeAssistant.Calendars by Normalize.
	HACalendars []string `yaml:"ha_calendars,omitempty" json:"-"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status server.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the status server. Empty disables it.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone assumed for source timestamps without an offset.
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	HomeAssistant HomeAssistantConfig `yaml:"home_assistant" json:"home_assistant"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// ICSCacheDir stores ETag/Last-Modified metadata and bodies of ICS feeds.
	ICSCacheDir string `yaml:"ics_cache_dir" json:"ics_cache_dir"`

	Office365 Office365Config `yaml:"office365" json:"office365"`

	Sync SyncConfig `yaml:"sync" json:"sync"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen      = "127.0.0.1:8080"
	defaultTimezone    = "Europe/London"
	defaultLogLevel    = "info"
	defaultTenant      = "common"
	defaultCalendarID  = "primary"
	defaultRedirectURL = "https://login.microsoftonline.com/common/oauth2/nativeclient"
	defaultTokenPath   = ".tokens/o365_token.json"
	defaultICSCacheDir = "./var/ics-cache"
	defaultDaysPast    = 7
	defaultDaysFuture  = 90
	defaultInterval    = 900
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	deleteRemoved := true
	daysPast, daysFuture := defaultDaysPast, defaultDaysFuture
	return &Config{
		Listen:   defaultListen,
		Timezone: defaultTimezone,
		LogLevel: defaultLogLevel,
		HomeAssistant: HomeAssistantConfig{
			URL:       "http://homeassistant.local:8123",
			Calendars: []string{},
		},
		ICS:         []ICSConfig{},
		ICSCacheDir: defaultICSCacheDir,
		Office365: Office365Config{
			TenantID:    defaultTenant,
			CalendarID:  defaultCalendarID,
			RedirectURL: defaultRedirectURL,
			TokenPath:   defaultTokenPath,
		},
		Sync: SyncConfig{
			DaysPast:            &daysPast,
			DaysFuture:          &daysFuture,
			DeleteRemovedEvents: &deleteRemoved,
			IntervalSeconds:     defaultInterval,
		},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
// Listen is left alone: an empty value disables the status server.
func (c *Config) Normalize() {
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	c.HomeAssistant.URL = strings.TrimRight(strings.TrimSpace(c.HomeAssistant.URL), "/")
	if c.HomeAssistant.Calendars == nil {
		c.HomeAssistant.Calendars = []string{}
	}
	for _, id := range c.Sync.HACalendars {
		if !slices.Contains(c.HomeAssistant.Calendars, id) {
			c.HomeAssistant.Calendars = append(c.HomeAssistant.Calendars, id)
		}
	}
	c.Sync.HACalendars = nil
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	for i := range c.ICS {
		// ID falls back to Name, then the feed file name, so every feed has
		// a stable tag.
		if c.ICS[i].ID == "" {
			if c.ICS[i].Name != "" {
				c.ICS[i].ID = c.ICS[i].Name
			} else {
				c.ICS[i].ID = feedIDFromURL(c.ICS[i].URL)
			}
		}
	}
	if c.ICSCacheDir == "" {
		c.ICSCacheDir = defaultICSCacheDir
	}

	if c.Office365.TenantID == "" {
		c.Office365.TenantID = defaultTenant
	}
	if c.Office365.CalendarID == "" {
		c.Office365.CalendarID = defaultCalendarID
	}
	if c.Office365.RedirectURL == "" {
		c.Office365.RedirectURL = defaultRedirectURL
	}
	if c.Office365.TokenPath == "" {
		c.Office365.TokenPath = defaultTokenPath
	}

	// Negative horizons are rejected by Validate; only unset values are defaulted.
	if c.Sync.DaysPast == nil {
		n := defaultDaysPast
		c.Sync.DaysPast = &n
	}
	if c.Sync.DaysFuture == nil {
		n := defaultDaysFuture
		c.Sync.DaysFuture = &n
	}
	if c.Sync.DeleteRemovedEvents == nil {
		deleteRemoved := true
		c.Sync.DeleteRemovedEvents = &deleteRemoved
	}
	if c.Sync.IntervalSeconds <= 0 {
		c.Sync.IntervalSeconds = defaultInterval
	}
}

// Validate reports every missing required field at once.
func (c *Config) Validate() error {
	var problems []string

	if len(c.HomeAssistant.Calendars) > 0 {
		if c.HomeAssistant.URL == "" {
			problems = append(problems, "home_assistant.url is required")
		}
		if c.HomeAssistant.Token == "" {
			problems = append(problems, "home_assistant.token is required")
		}
	}
	// Mirrored events are recognised by their "[Tag]" title prefix, so every
	// calendar id must yield a non-empty tag.
	for _, id := range c.HomeAssistant.Calendars {
		if model.SourceTag(id) == "" {
			problems = append(problems, fmt.Sprintf("home_assistant.calendars: %q has no name to tag events with", id))
		}
	}
	for i, src := range c.ICS {
		if src.URL == "" {
			problems = append(problems, fmt.Sprintf("ics[%d].url is required", i))
		}
		if model.SourceTag(src.ID) == "" {
			problems = append(problems, fmt.Sprintf("ics[%d].id %q has no name to tag events with", i, src.ID))
		}
	}
	if len(c.HomeAssistant.Calendars) == 0 && len(c.ICS) == 0 {
		problems = append(problems, "at least one source calendar (home_assistant.calendars or ics) is required")
	}
	if c.Office365.ClientID == "" {
		problems = append(problems, "office365.client_id is required")
	}
	if c.Office365.ClientSecret == "" {
		problems = append(problems, "office365.client_secret is required")
	}
	if c.PastDays() < 0 || c.FutureDays() < 0 {
		problems = append(problems, "sync.days_past and sync.days_future must not be negative")
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			problems = append(problems, fmt.Sprintf("timezone %q: %v", c.Timezone, err))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotConfigured, strings.Join(problems, "; "))
}

// feedIDFromURL names a feed after its file name ("https://host/family.ics"
// -> "family"), or its host when the path carries none. Dots become dashes
// since the source tag is taken after the last dot.
func feedIDFromURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	name = strings.TrimSuffix(name, path.Ext(name))
	if name == "" || name == "." || name == "/" {
		name = u.Hostname()
	}
	return strings.ReplaceAll(name, ".", "-")
}

// DeleteRemoved reports whether source deletions are propagated.
func (c *Config) DeleteRemoved() bool {
	return c.Sync.DeleteRemovedEvents == nil || *c.Sync.DeleteRemovedEvents
}

// PastDays is sync.days_past, or its default when unset.
func (c *Config) PastDays() int {
	if c.Sync.DaysPast == nil {
		return defaultDaysPast
	}
	return *c.Sync.DaysPast
}

// FutureDays is sync.days_future, or its default when unset.
func (c *Config) FutureDays() int {
	if c.Sync.DaysFuture == nil {
		return defaultDaysFuture
	}
	return *c.Sync.DaysFuture
}

// PastHorizon is how far back each pass looks.
func (c *Config) PastHorizon() time.Duration {
	return time.Duration(c.PastDays()) * 24 * time.Hour
}

// FutureHorizon is how far ahead each pass looks.
func (c *Config) FutureHorizon() time.Duration {
	return time.Duration(c.FutureDays()) * 24 * time.Hour
}

// Interval is the fixed pause between continuous passes.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Sync.IntervalSeconds) * time.Second
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//
// Load does not validate; callers run Validate once they know which
// sections the command needs.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, ".calmirror-config-*.tmp")
}

// WriteFileAtomic writes data to path via a temp file in the same directory
// and a rename, leaving the file with 0600 permissions.
func WriteFileAtomic(path string, data []byte, pattern string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
