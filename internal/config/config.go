// Package config loads the gateway configuration.
//
// Sources, lowest precedence first: built-in defaults, the YAML file, then
// environment variables named TIDEWATCH_<SECTION>_<KEY> (for example
// TIDEWATCH_STORE_URL). The merged result is checked against an embedded
// CUE schema before use; see Validate.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
	_ "time/tzdata" // embedded zone database

	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// DefaultPath is where the gateway looks for its config file.
const DefaultPath = "/etc/tidewatch/config.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TIDEWATCH"

// Config is the complete gateway configuration.
type Config struct {
	Device      Device      `mapstructure:"device" json:"device"`
	Site        Site        `mapstructure:"site" json:"site"`
	Store       Store       `mapstructure:"store" json:"store"`
	Calibration Calibration `mapstructure:"calibration" json:"calibration"`
	Dirs        Dirs        `mapstructure:"dirs" json:"dirs"`
	Loop        Loop        `mapstructure:"loop" json:"loop"`
	Menu        Menu        `mapstructure:"menu" json:"menu"`
	Transfer    Transfer    `mapstructure:"transfer" json:"transfer"`
	Anchor      Anchor      `mapstructure:"anchor" json:"anchor"`
	Metrics     Metrics     `mapstructure:"metrics" json:"metrics"`
}

// Device is the serial link to the logger.
type Device struct {
	Path        string        `mapstructure:"path" json:"path"`
	Baud        int           `mapstructure:"baud" json:"baud"`
	ReadTimeout time.Duration `mapstructure:"read_timeout" json:"read_timeout"`

	// OpenSettle is how long to wait after the device node first appears.
	OpenSettle time.Duration `mapstructure:"open_settle" json:"open_settle"`

	ReopenDelay    time.Duration `mapstructure:"reopen_delay" json:"reopen_delay"`
	ReopenAttempts int           `mapstructure:"reopen_attempts" json:"reopen_attempts"`
}

// Site identifies the sensor in the store.
type Site struct {
	Place string `mapstructure:"place" json:"place"`
	ID    string `mapstructure:"id" json:"id"`

	// Timezone is the IANA zone the logger's clock runs in, or "Local".
	Timezone string `mapstructure:"timezone" json:"timezone"`
}

// Location resolves Timezone.
func (s Site) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("site.timezone: %w", err)
	}
	return loc, nil
}

// Store selects and configures the time-series store.
type Store struct {
	// URL is "none" (publishing disabled), "sqlite:<path>", or an
	// http(s) base URL.
	URL      string        `mapstructure:"url" json:"url"`
	User     string        `mapstructure:"user" json:"user"`
	Password string        `mapstructure:"password" json:"password"`
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout"`
	MaxTries int           `mapstructure:"max_tries" json:"max_tries"`
}

// Store kinds returned by Kind.
const (
	StoreDiscard = "discard"
	StoreSQLite  = "sqlite"
	StoreHTTP    = "http"
)

// Kind classifies URL. Any URL starting with "no" disables publishing.
func (s Store) Kind() string {
	switch {
	case strings.HasPrefix(s.URL, "no"):
		return StoreDiscard
	case strings.HasPrefix(s.URL, "sqlite:"):
		return StoreSQLite
	default:
		return StoreHTTP
	}
}

// SQLitePath returns the database path of a sqlite: URL.
func (s Store) SQLitePath() string {
	return strings.TrimPrefix(s.URL, "sqlite:")
}

// Calibration converts raw pressure for the store.
type Calibration struct {
	Offset     float64 `mapstructure:"offset" json:"offset"`
	TempFactor float64 `mapstructure:"temp_factor" json:"temp_factor"`
}

// Dirs are the gateway's data directories.
type Dirs struct {
	// Logged holds the daily local log.
	Logged string `mapstructure:"logged" json:"logged"`

	// Downloaded receives card files.
	Downloaded string `mapstructure:"downloaded" json:"downloaded"`
}

// Loop tunes the ingestion loop.
type Loop struct {
	PollFast     time.Duration `mapstructure:"poll_fast" json:"poll_fast"`
	PollSlow     time.Duration `mapstructure:"poll_slow" json:"poll_slow"`
	MaxDataDelay time.Duration `mapstructure:"max_data_delay" json:"max_data_delay"`
	SyncOnStart  bool          `mapstructure:"sync_on_start" json:"sync_on_start"`
}

// Menu describes the logger firmware's menu.
type Menu struct {
	MainBanner string `mapstructure:"main_banner" json:"main_banner"`
	FileBanner string `mapstructure:"file_banner" json:"file_banner"`
	ListingEnd string `mapstructure:"listing_end" json:"listing_end"`

	Noop     string `mapstructure:"noop" json:"noop"`
	FileMode string `mapstructure:"file_mode" json:"file_mode"`
	List     string `mapstructure:"list" json:"list"`
	Send     string `mapstructure:"send" json:"send"`
	Exit     string `mapstructure:"exit" json:"exit"`

	ProbeTimeout    time.Duration `mapstructure:"probe_timeout" json:"probe_timeout"`
	FileModeTimeout time.Duration `mapstructure:"file_mode_timeout" json:"file_mode_timeout"`
	ListingTimeout  time.Duration `mapstructure:"listing_timeout" json:"listing_timeout"`
	ExitTimeout     time.Duration `mapstructure:"exit_timeout" json:"exit_timeout"`
	SeekTimeout     time.Duration `mapstructure:"seek_timeout" json:"seek_timeout"`
	Settle          time.Duration `mapstructure:"settle" json:"settle"`

	ListingAttempts int `mapstructure:"listing_attempts" json:"listing_attempts"`
	ExitAttempts    int `mapstructure:"exit_attempts" json:"exit_attempts"`
}

// Transfer is the external file-receive program.
type Transfer struct {
	Command string `mapstructure:"command" json:"command"`
}

// Anchor tunes catch-up dedupe.
type Anchor struct {
	// Slack extends the dedupe boundary past the store's newest record.
	Slack time.Duration `mapstructure:"slack" json:"slack"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	// Addr is the listen address; empty disables the endpoint.
	Addr string `mapstructure:"addr" json:"addr"`
}

// defaults lists every key. Viper only binds environment variables for
// keys it knows about, so each key needs an entry here.
var defaults = map[string]any{
	"device.path":            "/dev/rfcomm0",
	"device.baud":            115200,
	"device.read_timeout":    "3s",
	"device.open_settle":     "10s",
	"device.reopen_delay":    "3s",
	"device.reopen_attempts": 0,

	"site.place":    "",
	"site.id":       "",
	"site.timezone": "Local",

	"store.url":       "none",
	"store.user":      "",
	"store.password":  "",
	"store.timeout":   "10s",
	"store.max_tries": 2,

	"calibration.offset":      0.0,
	"calibration.temp_factor": 0.0,

	"dirs.logged":     "/var/lib/tidewatch/logged",
	"dirs.downloaded": "/var/lib/tidewatch/downloaded",

	"loop.poll_fast":      "200us",
	"loop.poll_slow":      "1s",
	"loop.max_data_delay": "15m",
	"loop.sync_on_start":  true,

	"menu.main_banner":       "Menu: Main Menu",
	"menu.file_banner":       "ZModem",
	"menu.listing_end":       "End of Directory",
	"menu.noop":              " ",
	"menu.file_mode":         "s",
	"menu.list":              "dir",
	"menu.send":              "sz",
	"menu.exit":              "x",
	"menu.probe_timeout":     "300ms",
	"menu.file_mode_timeout": "10s",
	"menu.listing_timeout":   "90s",
	"menu.exit_timeout":      "30s",
	"menu.seek_timeout":      "0s",
	"menu.settle":            "1s",
	"menu.listing_attempts":  5,
	"menu.exit_attempts":     3,

	"transfer.command": "rz --overwrite < /dev/rfcomm0 > /dev/rfcomm0",

	"anchor.slack": "0s",

	"metrics.addr": "",
}

// Load reads path from fsys and merges defaults and environment overrides.
// A missing file is an error unless path is DefaultPath, so a bare install
// can run from the environment alone. The result is not validated.
func Load(fsys afero.Fs, path string) (Config, error) {
	v := viper.New()
	v.SetFs(fsys)
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if !(path == DefaultPath && isNotFound(err)) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// LoadAndValidate is Load followed by Validate.
func LoadAndValidate(fsys afero.Fs, path string) (Config, error) {
	cfg, err := Load(fsys, path)
	if err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}
