package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

// EnvConfigPath names the environment variable holding a config path.
const EnvConfigPath = "NEWSREADER_CONFIG"

type Config struct {
	Output    Output    `yaml:"output"`
	Feeds     Feeds     `yaml:"feeds"`
	Extractor Extractor `yaml:"extractor"`
	Speech    Speech    `yaml:"speech"`
	Refresh   Refresh   `yaml:"refresh"`
	Server    Server    `yaml:"server"`
	Logging   Logging   `yaml:"logging"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Feeds struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
	// Location is the IANA zone assumed for feed dates without an offset.
	Location string `yaml:"location"`
}

type Extractor struct {
	Timeout             time.Duration     `yaml:"timeout"`
	Attempts            int               `yaml:"attempts"`
	TimeoutBackoff      time.Duration     `yaml:"timeout_backoff"`
	IOBackoff           time.Duration     `yaml:"io_backoff"`
	UserAgent           string            `yaml:"user_agent"`
	ReadabilityFallback bool              `yaml:"readability_fallback"`
	Selectors           map[string]string `yaml:"selectors"`
}

type Speech struct {
	Command         []string `yaml:"command"`
	Language        string   `yaml:"language"`
	DetectLanguages []string `yaml:"detect_languages"`
	ChunkSize       int      `yaml:"chunk_size"`
}

type Refresh struct {
	// Schedule is a cron spec; empty disables scheduled refreshes.
	Schedule string `yaml:"schedule"`
	Source   string `yaml:"source"`
	Category string `yaml:"category"`
	Prefetch int    `yaml:"prefetch"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for newsreader.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "newsreader")
}

// DataDir returns the XDG data directory for newsreader.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "newsreader")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > $NEWSREADER_CONFIG > ~/.config/newsreader/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit == "" {
		explicit = os.Getenv(EnvConfigPath)
	}
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'newsreader init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded default config: %v", err))
	}
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Feeds: Feeds{
			Timeout:  10 * time.Second,
			Location: "Asia/Ho_Chi_Minh",
		},
		Extractor: Extractor{
			Timeout:        30 * time.Second,
			Attempts:       2,
			TimeoutBackoff: 2 * time.Second,
			IOBackoff:      time.Second,
		},
		Speech: Speech{
			Command:         []string{"espeak-ng", "--stdin", "-v", "{lang}"},
			Language:        "vi",
			DetectLanguages: []string{"vi", "en"},
			ChunkSize:       3500,
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Extractor.Attempts < 1 {
		return nil, fmt.Errorf("extractor.attempts must be at least 1, got %d", cfg.Extractor.Attempts)
	}
	if len(cfg.Speech.Command) == 0 {
		return nil, fmt.Errorf("speech.command must not be empty")
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DBPath returns the article database path inside the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.GetDataDir(), "newsreader.db")
}

// FeedLocation loads the zone for offset-less feed dates, falling back to
// UTC when it is unknown.
func (c *Config) FeedLocation() *time.Location {
	if c.Feeds.Location == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Feeds.Location)
	if err != nil {
		log.Warnf("unknown feeds.location %q, using UTC: %v", c.Feeds.Location, err)
		return time.UTC
	}
	return loc
}

// LogLevel maps logging.level onto a logrus level. WARN is accepted for
// warning.
func (c *Config) LogLevel() log.Level {
	level, err := log.ParseLevel(strings.ToLower(c.Logging.Level))
	if err != nil {
		return log.InfoLevel
	}
	return level
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
