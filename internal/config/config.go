package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/vcon-dev/vcon-server-sub001/internal/domain"

	"gopkg.in/yaml.v3"
)

// Document is the root configuration: the four definition collections plus
// the engine settings. Chains additionally carry their ordered link list and
// queue bindings.
type Document struct {
	Links    map[string]domain.LinkDef    `yaml:"links"`
	Storages map[string]domain.StorageDef `yaml:"storages"`
	Chains   map[string]domain.Chain      `yaml:"chains"`
	Adapters map[string]domain.AdapterDef `yaml:"adapters"`
	Settings Settings                     `yaml:"settings"`
}

// Settings are the engine knobs the surrounding environment drives.
type Settings struct {
	DBPath string `yaml:"db_path"`

	LogLevel string `yaml:"log_level"`

	// Record lifetime. DLQTTLSeconds must be strictly greater than
	// DefaultTTLSeconds when non-zero; zero disables the dead-letter
	// retention extension entirely.
	DefaultTTLSeconds int `yaml:"default_ttl_seconds"`
	DLQTTLSeconds     int `yaml:"dlq_ttl_seconds"`

	// Worker and follower pacing.
	PopTimeoutSeconds    int `yaml:"pop_timeout_seconds"`
	TickIntervalSeconds  int `yaml:"tick_interval_seconds"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`

	// Retry policy for failed chain executions.
	RetryMaxAttempts int    `yaml:"retry_max_attempts"`
	RetryBackoff     string `yaml:"retry_backoff"` // "fixed" | "exponential"
	RetryBaseSeconds int    `yaml:"retry_base_seconds"`

	API       APISettings      `yaml:"api"`
	Followers []FollowerTarget `yaml:"followers"`
}

type APISettings struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Token   string `yaml:"token"`
}

// FollowerTarget configures replication from one remote peer.
type FollowerTarget struct {
	Name         string `yaml:"name"`
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	EgressList   string `yaml:"egress_list"`
	LocalIngress string `yaml:"local_ingress"`
	FetchLimit   int    `yaml:"fetch_limit"`
	FlushFirst   bool   `yaml:"flush_first"`
	FlushSleepMs int    `yaml:"flush_sleep_ms"` // 0 = half the tick interval
}

func (s Settings) DefaultTTL() time.Duration {
	return time.Duration(s.DefaultTTLSeconds) * time.Second
}

func (s Settings) DLQTTL() time.Duration {
	return time.Duration(s.DLQTTLSeconds) * time.Second
}

func (s Settings) PopTimeout() time.Duration {
	return time.Duration(s.PopTimeoutSeconds) * time.Second
}

func (s Settings) TickInterval() time.Duration {
	return time.Duration(s.TickIntervalSeconds) * time.Second
}

func (s Settings) RetryBase() time.Duration {
	return time.Duration(s.RetryBaseSeconds) * time.Second
}

// DefaultConfigDir returns the default config directory (~/.vcon-server).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vcon-server"
	}
	return filepath.Join(home, ".vcon-server")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load reads, env-expands, parses, and validates the configuration document.
// Any failure leaves nothing mutated; callers keep whatever configuration
// they already had.
func Load(path string) (*Document, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse parses a configuration document from raw YAML.
func Parse(data []byte) (*Document, error) {
	data = []byte(ExpandEnvVars(string(data)))

	doc := Defaults()
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}

	// The map key is the chain's name; copy it onto the value so the rest of
	// the engine can pass chains around by value.
	for name, chain := range doc.Chains {
		chain.Name = name
		doc.Chains[name] = chain
	}

	if err := Validate(doc); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return doc, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset
// or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// Save writes the document back out as YAML. Used by `init` and the export
// path of the distributor.
func Save(path string, doc *Document) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks the document, collecting every problem rather than
// stopping at the first.
func Validate(doc *Document) error {
	var errs []string

	s := doc.Settings
	if s.DefaultTTLSeconds < 1 {
		errs = append(errs, "settings.default_ttl_seconds must be >= 1")
	}
	if s.DLQTTLSeconds != 0 && s.DLQTTLSeconds <= s.DefaultTTLSeconds {
		errs = append(errs, "settings.dlq_ttl_seconds must be strictly greater than default_ttl_seconds (or 0 to disable)")
	}
	if s.RetryMaxAttempts < 1 {
		errs = append(errs, "settings.retry_max_attempts must be >= 1")
	}
	switch s.RetryBackoff {
	case "fixed", "exponential":
	default:
		errs = append(errs, "settings.retry_backoff must be one of: fixed, exponential")
	}
	if s.API.Port < 0 || s.API.Port > 65535 {
		errs = append(errs, "settings.api.port must be between 0 and 65535")
	}
	if s.PopTimeoutSeconds < 1 {
		errs = append(errs, "settings.pop_timeout_seconds must be >= 1")
	}
	if s.TickIntervalSeconds < 1 {
		errs = append(errs, "settings.tick_interval_seconds must be >= 1")
	}

	for name, chain := range doc.Chains {
		if len(chain.IngressLists) == 0 {
			errs = append(errs, fmt.Sprintf("chains.%s: at least one ingress list is required", name))
		}
		for _, link := range chain.Links {
			if _, ok := doc.Links[link]; !ok {
				errs = append(errs, fmt.Sprintf("chains.%s references unknown link: %s", name, link))
			}
		}
		for _, storage := range chain.Storages {
			if _, ok := doc.Storages[storage]; !ok {
				errs = append(errs, fmt.Sprintf("chains.%s references unknown storage: %s", name, storage))
			}
		}
		if chain.Workers < 0 {
			errs = append(errs, fmt.Sprintf("chains.%s: workers must be >= 0", name))
		}
	}

	for i, f := range doc.Settings.Followers {
		if f.URL == "" {
			errs = append(errs, fmt.Sprintf("settings.followers[%d]: url is required", i))
		}
		if f.EgressList == "" {
			errs = append(errs, fmt.Sprintf("settings.followers[%d]: egress_list is required", i))
		}
		if f.LocalIngress == "" {
			errs = append(errs, fmt.Sprintf("settings.followers[%d]: local_ingress is required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
