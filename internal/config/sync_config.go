package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Well-known collection names
const (
	CollectionCourses   = "courses"
	CollectionEvents    = "events"
	CollectionTrainings = "trainings"
	CollectionVideos    = "videos"
	CollectionImages    = "images"
	CollectionMessages  = "messages"
)

// Rate limit call sites
const (
	PolicyMessages = "messages"
	PolicyListing  = "listing"
	PolicyLogin    = "login"
)

// SyncConfig holds snapshot, retention and admission settings
type SyncConfig struct {
	// ============ COLLECTIONS ============
	Collections map[string]CollectionConfig `json:"collections" yaml:"collections"`

	// ============ ADMISSION ============
	RateLimits map[string]RatePolicy `json:"rate_limits" yaml:"rate_limits"`
	// seconds between limiter sweeps of idle identifiers
	LimiterSweepInterval int `json:"limiter_sweep_interval" yaml:"limiter_sweep_interval"`
}

// CollectionConfig holds sync configuration for a specific collection
type CollectionConfig struct {
	SnapshotEnabled bool            `json:"snapshot_enabled" yaml:"snapshot_enabled"`
	KeyField        string          `json:"key_field" yaml:"key_field"`
	Retention       RetentionPolicy `json:"retention" yaml:"retention"`
}

// RetentionPolicy marks records inactive once they exceed an age threshold
type RetentionPolicy struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	MaxAgeDays     int    `json:"max_age_days" yaml:"max_age_days"`
	ReferenceField string `json:"reference_field" yaml:"reference_field"`
	Interval       int    `json:"interval" yaml:"interval"` // seconds
}

// MaxAge returns the threshold as a duration
func (p RetentionPolicy) MaxAge() time.Duration {
	return time.Duration(p.MaxAgeDays) * 24 * time.Hour
}

// TickInterval returns the scheduler interval, defaulting to one hour
func (p RetentionPolicy) TickInterval() time.Duration {
	if p.Interval <= 0 {
		return time.Hour
	}
	return time.Duration(p.Interval) * time.Second
}

// RatePolicy is the admission policy of one call site
type RatePolicy struct {
	MaxRequests int `json:"max_requests" yaml:"max_requests"`
	Window      int `json:"window" yaml:"window"` // seconds
}

// WindowDuration returns the sliding window length
func (p RatePolicy) WindowDuration() time.Duration {
	return time.Duration(p.Window) * time.Second
}

// LoadSyncConfig loads sync configuration from SYNC_CONFIG_PATH, falling back to defaults.
// Every collection and rate limit entry in the file is merged field by field onto the
// default entry of the same name, so a file only has to name what it changes.
func LoadSyncConfig() (*SyncConfig, error) {
	cfg := DefaultSyncConfig()

	if configPath := os.Getenv("SYNC_CONFIG_PATH"); configPath != "" {
		if err := loadSyncConfigFromFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load sync config %s: %w", configPath, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// syncConfigFile keeps entries undecoded until they can be laid over the defaults
type syncConfigFile[R any] struct {
	Collections          map[string]R `json:"collections" yaml:"collections"`
	RateLimits           map[string]R `json:"rate_limits" yaml:"rate_limits"`
	LimiterSweepInterval *int         `json:"limiter_sweep_interval" yaml:"limiter_sweep_interval"`
}

// loadSyncConfigFromFile decodes a JSON or YAML file on top of cfg
func loadSyncConfigFromFile(path string, cfg *SyncConfig) error {
	//nolint:gosec // operator supplied path
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var file syncConfigFile[yaml.Node]
		if err := yaml.Unmarshal(data, &file); err != nil {
			return err
		}
		return mergeSyncConfig(cfg, file, func(n yaml.Node, out any) error { return n.Decode(out) })
	default:
		var file syncConfigFile[json.RawMessage]
		if err := json.Unmarshal(data, &file); err != nil {
			return err
		}
		return mergeSyncConfig(cfg, file, func(raw json.RawMessage, out any) error { return json.Unmarshal(raw, out) })
	}
}

func mergeSyncConfig[R any](cfg *SyncConfig, file syncConfigFile[R], decode func(R, any) error) error {
	for name, raw := range file.Collections {
		entry := cfg.Collections[name]
		if err := decode(raw, &entry); err != nil {
			return fmt.Errorf("collection %s: %w", name, err)
		}
		cfg.Collections[name] = entry
	}
	for site, raw := range file.RateLimits {
		entry := cfg.RateLimits[site]
		if err := decode(raw, &entry); err != nil {
			return fmt.Errorf("rate limit %s: %w", site, err)
		}
		cfg.RateLimits[site] = entry
	}
	if file.LimiterSweepInterval != nil {
		cfg.LimiterSweepInterval = *file.LimiterSweepInterval
	}
	return nil
}

// Validate checks the configuration for values the subsystem cannot run with
func (c *SyncConfig) Validate() error {
	for name, coll := range c.Collections {
		if coll.KeyField == "" {
			return fmt.Errorf("collection %s: key_field is required", name)
		}
		if coll.Retention.Enabled {
			if coll.Retention.MaxAgeDays <= 0 {
				return fmt.Errorf("collection %s: retention max_age_days must be positive", name)
			}
			if coll.Retention.ReferenceField == "" {
				return fmt.Errorf("collection %s: retention reference_field is required", name)
			}
		}
	}
	for site, p := range c.RateLimits {
		if p.MaxRequests <= 0 || p.Window <= 0 {
			return fmt.Errorf("rate limit %s: max_requests and window must be positive", site)
		}
	}
	return nil
}

// Policy returns the rate policy for a call site
func (c *SyncConfig) Policy(site string) (RatePolicy, bool) {
	p, ok := c.RateLimits[site]
	return p, ok
}

// LongestWindow returns the largest configured window; identifiers idle for longer can be dropped.
func (c *SyncConfig) LongestWindow() time.Duration {
	longest := time.Minute
	for _, p := range c.RateLimits {
		if w := p.WindowDuration(); w > longest {
			longest = w
		}
	}
	return longest
}

// SweepInterval returns the limiter sweep period
func (c *SyncConfig) SweepInterval() time.Duration {
	if c.LimiterSweepInterval <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.LimiterSweepInterval) * time.Second
}

// CollectionNames returns configured collection names in stable order
func (c *SyncConfig) CollectionNames() []string {
	names := make([]string, 0, len(c.Collections))
	for name := range c.Collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultSyncConfig returns default sync configuration
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		Collections: map[string]CollectionConfig{
			CollectionCourses: {
				SnapshotEnabled: getBoolEnv("SYNC_COURSES", true),
				KeyField:        "title",
			},
			CollectionEvents: {
				SnapshotEnabled: getBoolEnv("SYNC_EVENTS", true),
				KeyField:        "title",
			},
			CollectionTrainings: {
				SnapshotEnabled: getBoolEnv("SYNC_TRAININGS", true),
				KeyField:        "certificate_id",
			},
			CollectionVideos: {
				SnapshotEnabled: getBoolEnv("SYNC_VIDEOS", true),
				KeyField:        "title",
			},
			CollectionImages: {
				SnapshotEnabled: getBoolEnv("SYNC_IMAGES", true),
				KeyField:        "image_key",
			},
			CollectionMessages: {
				SnapshotEnabled: getBoolEnv("SYNC_MESSAGES", true),
				KeyField:        "reference",
				Retention: RetentionPolicy{
					Enabled:        true,
					MaxAgeDays:     getIntEnv("MESSAGE_RETENTION_DAYS", 28),
					ReferenceField: "created_at",
					Interval:       getIntEnv("MESSAGE_RETENTION_INTERVAL", 3600),
				},
			},
		},
		RateLimits: map[string]RatePolicy{
			PolicyMessages: {
				MaxRequests: getIntEnv("RATE_MESSAGES_MAX", 5),
				Window:      getIntEnv("RATE_MESSAGES_WINDOW", 600),
			},
			PolicyListing: {
				MaxRequests: getIntEnv("RATE_LISTING_MAX", 120),
				Window:      getIntEnv("RATE_LISTING_WINDOW", 60),
			},
			PolicyLogin: {
				MaxRequests: getIntEnv("RATE_LOGIN_MAX", 10),
				Window:      getIntEnv("RATE_LOGIN_WINDOW", 300),
			},
		},
		LimiterSweepInterval: getIntEnv("RATE_SWEEP_INTERVAL", 300),
	}
}
