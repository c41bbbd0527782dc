// Package config provides configuration management for the decision terminal.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

// Mode selects where ticks come from and whether fills are simulated.
type Mode string

const (
	// ModeLive consumes the broker websocket feed.
	ModeLive Mode = "LIVE"
	// ModePaper consumes the live feed but fills on paper. Default.
	ModePaper Mode = "PAPER"
	// ModeSim replays recorded intraday bars on a simulated clock.
	ModeSim Mode = "SIM"
)

// Valid reports whether m is a recognized run mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeLive, ModePaper, ModeSim:
		return true
	}
	return false
}

// TimeOfDay is a wall-clock time within the trading day, second precision.
type TimeOfDay struct {
	Hour int
	Min  int
	Sec  int
}

// ParseTimeOfDay parses "HH:MM:SS" clock strings.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04:05", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("time of day %q: %w", s, err)
	}
	return TimeOfDay{Hour: t.Hour(), Min: t.Minute(), Sec: t.Second()}, nil
}

// String formats the time as "HH:MM:SS".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Min, t.Sec)
}

// Seconds returns seconds since midnight, for ordering comparisons.
func (t TimeOfDay) Seconds() int {
	return t.Hour*3600 + t.Min*60 + t.Sec
}

// IsZero reports whether t is the unset zero value.
func (t TimeOfDay) IsZero() bool {
	return t.Hour == 0 && t.Min == 0 && t.Sec == 0
}

// UnmarshalYAML decodes an "HH:MM:SS" scalar into a TimeOfDay.
func (t *TimeOfDay) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalYAML encodes a TimeOfDay in its "HH:MM:SS" form.
func (t TimeOfDay) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}

// Config represents the complete application configuration.
type Config struct {
	Symbols  []string       `yaml:"symbols"`
	Paths    PathsConfig    `yaml:"paths"`
	Risk     RiskConfig     `yaml:"risk"`
	Cutovers CutoversConfig `yaml:"cutovers"`
	Picker   PickerConfig   `yaml:"picker"`
	Engine   EngineConfig   `yaml:"engine"`
	Feed     FeedConfig     `yaml:"feed"`
	Replay   ReplayConfig   `yaml:"replay"`
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`

	// Environment-driven knobs, not part of the YAML schema.
	Mode       Mode `yaml:"-"`
	EnableAgg5 bool `yaml:"-"` // append closed 5-min bars to the intraday CSVs
	ResetState bool `yaml:"-"` // discard live_state.json on startup
}

// PathsConfig locates the on-disk data directories.
type PathsConfig struct {
	Intraday string `yaml:"intraday"`
	Masters  string `yaml:"masters"`
	Journal  string `yaml:"journal"`
	State    string `yaml:"state"`
}

// StateFile returns the path of the persisted live state document.
func (p PathsConfig) StateFile() string {
	return filepath.Join(p.State, "live_state.json")
}

// PlanSnapshotFile returns the working plan snapshot path for a trading day.
func (p PathsConfig) PlanSnapshotFile(day string) string {
	return filepath.Join(p.State, fmt.Sprintf("plan_snapshot_%s.json", day))
}

// PlanArchiveFile returns the archived plan snapshot path for a trading day.
func (p PathsConfig) PlanArchiveFile(day string) string {
	return filepath.Join(p.State, "plan_snapshots", day+".json")
}

// FillsDB returns the path of the sqlite fill journal.
func (p PathsConfig) FillsDB() string {
	return filepath.Join(p.Journal, "fills.db")
}

// FillsCSV returns the path of the append-only trade log.
func (p PathsConfig) FillsCSV() string {
	return filepath.Join(p.Journal, "fills.csv")
}

// IntradayCSV returns the 5-minute bar file for a symbol.
func (p PathsConfig) IntradayCSV(symbol string) string {
	return filepath.Join(p.Intraday, symbol+"_5minute.csv")
}

// MasterCSV returns the daily master file for a symbol.
func (p PathsConfig) MasterCSV(symbol string) string {
	return filepath.Join(p.Masters, symbol+"_5MINUTE_MASTER.csv")
}

// RiskConfig defines position-sizing and daily loss parameters, in rupees.
type RiskConfig struct {
	DailyRs    float64 `yaml:"daily_rs"`
	PerTradeRs float64 `yaml:"per_trade_rs"`
	RAtrMult   float64 `yaml:"r_atr_mult"`
}

// CutoversConfig defines the IST clock times that gate tag computation
// and the end-of-day flatten.
type CutoversConfig struct {
	PDC        TimeOfDay `yaml:"pdc"`
	OL         TimeOfDay `yaml:"ol"`
	OT         TimeOfDay `yaml:"ot"`
	EODFlatten TimeOfDay `yaml:"eod_flatten"`
}

// PickerConfig defines the frequency-table fallback ladder.
type PickerConfig struct {
	NMinL3      int     `yaml:"nmin_l3"`
	NMinL2      int     `yaml:"nmin_l2"`
	NMinL1      int     `yaml:"nmin_l1"`
	NMinL0      int     `yaml:"nmin_l0"`
	ConfMin     float64 `yaml:"conf_min"`
	TRGuardConf float64 `yaml:"tr_guard_conf"`
}

// EngineConfig defines execution-engine cadence parameters.
type EngineConfig struct {
	CycleSeconds      int `yaml:"cycle_seconds"`
	PersistDebounceMs int `yaml:"persist_debounce_ms"`
}

// Cycle returns the maintenance cycle interval.
func (e EngineConfig) Cycle() time.Duration {
	return time.Duration(e.CycleSeconds) * time.Second
}

// PersistDebounce returns the minimum gap between state persists.
func (e EngineConfig) PersistDebounce() time.Duration {
	return time.Duration(e.PersistDebounceMs) * time.Millisecond
}

// FeedConfig defines the live tick source settings.
type FeedConfig struct {
	WSURL         string `yaml:"ws_url"`
	APIKey        string `yaml:"api_key"`
	ReconnectMinS int    `yaml:"reconnect_min_s"`
	ReconnectMaxS int    `yaml:"reconnect_max_s"`
	Queue         int    `yaml:"queue"`
}

// ReconnectMin returns the initial reconnect backoff.
func (f FeedConfig) ReconnectMin() time.Duration {
	return time.Duration(f.ReconnectMinS) * time.Second
}

// ReconnectMax returns the reconnect backoff ceiling.
func (f FeedConfig) ReconnectMax() time.Duration {
	return time.Duration(f.ReconnectMaxS) * time.Second
}

// ReplayConfig defines SIM-mode playback settings.
type ReplayConfig struct {
	// Speed scales playback; 0 replays as fast as possible, 1 is realtime.
	Speed float64 `yaml:"speed"`
	Seed  int64   `yaml:"seed"`
}

// HTTPConfig defines the read-only dashboard server settings.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
	APIKey string `yaml:"api_key"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads and parses the configuration file from the specified path.
// A .env file in the working directory is loaded first when present.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyEnvOverrides(&config)
	setDefaults(&config)
	resolvePaths(&config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides maps process environment onto the config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MODE"); v != "" {
		cfg.Mode = Mode(strings.ToUpper(v))
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	cfg.EnableAgg5 = envBool("ENABLE_AGG5", true)
	cfg.ResetState = envBool("RESET_STATE", false)
}

func envBool(name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// setDefaults fills unset values with the documented defaults.
func setDefaults(cfg *Config) {
	if cfg.Mode == "" {
		cfg.Mode = ModePaper
	}
	if cfg.Paths.Intraday == "" {
		cfg.Paths.Intraday = "data/intraday"
	}
	if cfg.Paths.Masters == "" {
		cfg.Paths.Masters = "data/masters"
	}
	if cfg.Paths.Journal == "" {
		cfg.Paths.Journal = "data/journal"
	}
	if cfg.Paths.State == "" {
		cfg.Paths.State = "data/state"
	}
	if cfg.Risk.DailyRs == 0 {
		cfg.Risk.DailyRs = 10000
	}
	if cfg.Risk.PerTradeRs == 0 {
		cfg.Risk.PerTradeRs = 1000
	}
	if cfg.Risk.RAtrMult == 0 {
		cfg.Risk.RAtrMult = 1.0
	}
	if cfg.Cutovers.PDC.IsZero() {
		cfg.Cutovers.PDC = TimeOfDay{Hour: 9, Min: 25}
	}
	if cfg.Cutovers.OL.IsZero() {
		cfg.Cutovers.OL = TimeOfDay{Hour: 9, Min: 30}
	}
	if cfg.Cutovers.OT.IsZero() {
		cfg.Cutovers.OT = TimeOfDay{Hour: 9, Min: 40, Sec: 1}
	}
	if cfg.Cutovers.EODFlatten.IsZero() {
		cfg.Cutovers.EODFlatten = TimeOfDay{Hour: 15, Min: 5}
	}
	if cfg.Picker.NMinL3 == 0 {
		cfg.Picker.NMinL3 = 8
	}
	if cfg.Picker.NMinL2 == 0 {
		cfg.Picker.NMinL2 = 12
	}
	if cfg.Picker.NMinL1 == 0 {
		cfg.Picker.NMinL1 = 20
	}
	if cfg.Picker.NMinL0 == 0 {
		cfg.Picker.NMinL0 = 3
	}
	if cfg.Picker.ConfMin == 0 {
		cfg.Picker.ConfMin = 0.55
	}
	if cfg.Picker.TRGuardConf == 0 {
		cfg.Picker.TRGuardConf = 0.65
	}
	if cfg.Engine.CycleSeconds == 0 {
		cfg.Engine.CycleSeconds = 2
	}
	if cfg.Engine.PersistDebounceMs == 0 {
		cfg.Engine.PersistDebounceMs = 250
	}
	if cfg.Feed.ReconnectMinS == 0 {
		cfg.Feed.ReconnectMinS = 5
	}
	if cfg.Feed.ReconnectMaxS == 0 {
		cfg.Feed.ReconnectMaxS = 60
	}
	if cfg.Feed.Queue == 0 {
		cfg.Feed.Queue = 5000
	}
	if cfg.Replay.Seed == 0 {
		cfg.Replay.Seed = 1
	}
	if cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = ":8721"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// resolvePaths prefixes relative data paths with DATA_DIR when set.
func resolvePaths(cfg *Config) {
	base := os.Getenv("DATA_DIR")
	if base == "" {
		return
	}
	for _, p := range []*string{
		&cfg.Paths.Intraday,
		&cfg.Paths.Masters,
		&cfg.Paths.Journal,
		&cfg.Paths.State,
	} {
		if !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if !c.Mode.Valid() {
		return fmt.Errorf("MODE must be LIVE, PAPER or SIM, got %q", c.Mode)
	}

	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols must list at least one instrument")
	}
	seen := make(map[string]bool, len(c.Symbols))
	for _, s := range c.Symbols {
		if s == "" {
			return fmt.Errorf("symbols must not contain empty entries")
		}
		if seen[s] {
			return fmt.Errorf("symbols contains %q twice", s)
		}
		seen[s] = true
	}

	if c.Risk.DailyRs <= 0 {
		return fmt.Errorf("risk.daily_rs must be > 0")
	}
	if c.Risk.PerTradeRs <= 0 {
		return fmt.Errorf("risk.per_trade_rs must be > 0")
	}
	if c.Risk.PerTradeRs > c.Risk.DailyRs {
		return fmt.Errorf("risk.per_trade_rs (%.0f) must be <= risk.daily_rs (%.0f)",
			c.Risk.PerTradeRs, c.Risk.DailyRs)
	}
	if c.Risk.RAtrMult <= 0 {
		return fmt.Errorf("risk.r_atr_mult must be > 0")
	}

	cut := c.Cutovers
	if cut.PDC.Seconds() >= cut.OL.Seconds() ||
		cut.OL.Seconds() >= cut.OT.Seconds() ||
		cut.OT.Seconds() >= cut.EODFlatten.Seconds() {
		return fmt.Errorf("cutovers must be ordered pdc < ol < ot < eod_flatten, got %s %s %s %s",
			cut.PDC, cut.OL, cut.OT, cut.EODFlatten)
	}

	if c.Picker.NMinL3 <= 0 || c.Picker.NMinL2 <= 0 || c.Picker.NMinL1 <= 0 || c.Picker.NMinL0 <= 0 {
		return fmt.Errorf("picker nmin thresholds must all be > 0")
	}
	if c.Picker.ConfMin <= 0 || c.Picker.ConfMin > 1 {
		return fmt.Errorf("picker.conf_min must be in (0,1]")
	}
	if c.Picker.TRGuardConf <= 0 || c.Picker.TRGuardConf > 1 {
		return fmt.Errorf("picker.tr_guard_conf must be in (0,1]")
	}

	if c.Engine.CycleSeconds < 1 {
		return fmt.Errorf("engine.cycle_seconds must be >= 1")
	}
	if c.Engine.PersistDebounceMs < 0 {
		return fmt.Errorf("engine.persist_debounce_ms must be >= 0")
	}

	if c.Mode == ModeLive && c.Feed.WSURL == "" {
		return fmt.Errorf("feed.ws_url is required in LIVE mode")
	}
	if c.Feed.ReconnectMinS < 1 {
		return fmt.Errorf("feed.reconnect_min_s must be >= 1")
	}
	if c.Feed.ReconnectMaxS < c.Feed.ReconnectMinS {
		return fmt.Errorf("feed.reconnect_max_s (%d) must be >= feed.reconnect_min_s (%d)",
			c.Feed.ReconnectMaxS, c.Feed.ReconnectMinS)
	}
	if c.Feed.Queue <= 0 {
		return fmt.Errorf("feed.queue must be > 0")
	}

	if c.Replay.Speed < 0 {
		return fmt.Errorf("replay.speed must be >= 0")
	}

	if c.HTTP.Listen == "" {
		return fmt.Errorf("http.listen is required")
	}

	return nil
}

// IsSim reports whether the terminal replays recorded data.
func (c *Config) IsSim() bool { return c.Mode == ModeSim }
