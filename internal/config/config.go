// Package config loads nfefetch.yaml, applies .env and NFEFETCH_*
// overrides, and validates the result against an embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/roach88/nfefetch/internal/backend"
	"github.com/roach88/nfefetch/internal/detect"
	"github.com/roach88/nfefetch/internal/engine"
	"github.com/roach88/nfefetch/internal/keys"
	"github.com/roach88/nfefetch/internal/missing"
	"github.com/roach88/nfefetch/internal/model"
	"github.com/roach88/nfefetch/internal/notify"
	"github.com/roach88/nfefetch/internal/timing"
)

//go:embed schema.cue
var schemaCUE []byte

// DefaultFile is read when no --config flag is given. It may be absent.
const DefaultFile = "nfefetch.yaml"

// EnvFile is the dotenv file loaded next to the config file.
const EnvFile = ".env"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NFEFETCH_"

// DefaultPortalURL is the NF-e portal's public query page.
const DefaultPortalURL = "https://www.nfe.fazenda.gov.br/portal/consultaRecaptcha.aspx?tipoConsulta=resumo&tipoConteudo=7PhJ+gAVw2g="

// Driver selects the browser library behind the locator backend.
type Driver string

const (
	DriverPlaywright Driver = "playwright"
	DriverRod        Driver = "rod"
)

// Browser configures the launched browser.
type Browser struct {
	Headless bool   `yaml:"headless" json:"headless"`
	Width    int    `yaml:"width" json:"width"`
	Height   int    `yaml:"height" json:"height"`
	ExecPath string `yaml:"exec_path" json:"exec_path"`
}

// Notify configures the optional NATS event stream.
type Notify struct {
	NATSURL string `yaml:"nats_url" json:"nats_url"`
	Subject string `yaml:"subject" json:"subject"`
}

// Config is the full application configuration.
type Config struct {
	PortalURL      string `yaml:"portal_url" json:"portal_url"`
	OutputDir      string `yaml:"output_dir" json:"output_dir"`
	MissingLog     string `yaml:"missing_log" json:"missing_log"`
	SettingsDB     string `yaml:"settings_db" json:"settings_db"`
	BatchRoot      string `yaml:"batch_root" json:"batch_root"`
	DiagnosticsDir string `yaml:"diagnostics_dir" json:"diagnostics_dir"`
	LogFile        string `yaml:"log_file" json:"log_file"`

	Backend       string `yaml:"backend" json:"backend"`
	LocatorDriver string `yaml:"locator_driver" json:"locator_driver"`
	Captcha       string `yaml:"captcha" json:"captcha"`

	Speed          int `yaml:"speed" json:"speed"`
	DetectTimeout  int `yaml:"detect_timeout" json:"detect_timeout"`
	ReliefEvery    int `yaml:"relief_every" json:"relief_every"`
	MaxKeys        int `yaml:"max_keys" json:"max_keys"`
	LocatorTimeout int `yaml:"locator_timeout" json:"locator_timeout"`

	Browser   Browser            `yaml:"browser" json:"browser"`
	Selectors map[string]string  `yaml:"selectors" json:"selectors"`
	Timing    map[string]float64 `yaml:"timing" json:"timing"`
	Notify    Notify             `yaml:"notify" json:"notify"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		PortalURL:      DefaultPortalURL,
		OutputDir:      "XML Concluidos",
		MissingLog:     missing.DefaultFileName,
		SettingsDB:     "nfefetch.db",
		BatchRoot:      "lotes",
		DiagnosticsDir: "diagnostics",
		Backend:        string(backend.KindCoordinate),
		LocatorDriver:  string(DriverPlaywright),
		Captcha:        string(backend.CaptchaManual),
		Speed:          0,
		DetectTimeout:  detect.DefaultTimeout,
		ReliefEvery:    engine.DefaultReliefEvery,
		MaxKeys:        keys.DefaultLimit,
		LocatorTimeout: int(backend.DefaultLocatorTimeout / time.Second),
		Browser:        Browser{Width: 1366, Height: 768},
		Selectors:      map[string]string{},
		Timing:         map[string]float64{},
		Notify:         Notify{Subject: notify.DefaultSubject},
	}
}

// Env looks up one environment variable.
type Env func(key string) (string, bool)

// Load builds the configuration. path may be empty, in which case
// DefaultFile is used if it exists. Values come, lowest precedence first,
// from the defaults, the YAML file, the .env file beside it, and the
// process environment given by env (nil means os.LookupEnv).
func Load(fsys afero.Fs, path string, env Env) (Config, error) {
	if env == nil {
		env = os.LookupEnv
	}
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := afero.ReadFile(fsys, path)
	switch {
	case err == nil:
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	dotenv, err := readDotenv(fsys, filepath.Join(filepath.Dir(path), EnvFile))
	if err != nil {
		return Config{}, err
	}
	lookup := func(key string) (string, bool) {
		if v, ok := env(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func readDotenv(fsys afero.Fs, path string) (map[string]string, error) {
	f, err := fsys.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	defer f.Close()
	values, err := godotenv.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return values, nil
}

type envVar struct {
	name string
	set  func(cfg *Config, v string) error
}

func setString(dst func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		*dst(cfg) = v
		return nil
	}
}

func setInt(dst func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*dst(cfg) = n
		return nil
	}
}

var envVars = []envVar{
	{"PORTAL_URL", setString(func(c *Config) *string { return &c.PortalURL })},
	{"OUTPUT_DIR", setString(func(c *Config) *string { return &c.OutputDir })},
	{"MISSING_LOG", setString(func(c *Config) *string { return &c.MissingLog })},
	{"SETTINGS_DB", setString(func(c *Config) *string { return &c.SettingsDB })},
	{"BATCH_ROOT", setString(func(c *Config) *string { return &c.BatchRoot })},
	{"LOG_FILE", setString(func(c *Config) *string { return &c.LogFile })},
	{"BACKEND", setString(func(c *Config) *string { return &c.Backend })},
	{"LOCATOR_DRIVER", setString(func(c *Config) *string { return &c.LocatorDriver })},
	{"CAPTCHA", setString(func(c *Config) *string { return &c.Captcha })},
	{"CHROME_PATH", setString(func(c *Config) *string { return &c.Browser.ExecPath })},
	{"NATS_URL", setString(func(c *Config) *string { return &c.Notify.NATSURL })},
	{"SPEED", setInt(func(c *Config) *int { return &c.Speed })},
	{"DETECT_TIMEOUT", setInt(func(c *Config) *int { return &c.DetectTimeout })},
	{"HEADLESS", func(c *Config, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		c.Browser.Headless = b
		return nil
	}},
}

func applyEnv(cfg *Config, lookup Env) error {
	for _, ev := range envVars {
		v, ok := lookup(EnvPrefix + ev.name)
		if !ok {
			continue
		}
		if err := ev.set(cfg, v); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, ev.name, err)
		}
	}
	return nil
}

// Validate checks the configuration against the embedded schema.
func (c Config) Validate() error {
	if c.Selectors == nil {
		c.Selectors = map[string]string{}
	}
	if c.Timing == nil {
		c.Timing = map[string]float64{}
	}

	cctx := cuecontext.New()
	schema := cctx.CompileBytes(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	v := def.Unify(cctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid configuration:\n%s", strings.TrimSpace(cueerrors.Details(err, nil)))
	}
	return nil
}

// BackendKind returns the configured backend.
func (c Config) BackendKind() backend.Kind { return backend.Kind(c.Backend) }

// CaptchaPolicy returns the configured captcha policy.
func (c Config) CaptchaPolicy() backend.CaptchaPolicy { return backend.CaptchaPolicy(c.Captcha) }

// Driver returns the configured locator driver.
func (c Config) Driver() Driver { return Driver(c.LocatorDriver) }

// TimingBase returns the base wait table with configured overrides.
func (c Config) TimingBase() timing.Base {
	base := timing.DefaultBase()
	for name, secs := range c.Timing {
		base[timing.Stage(name)] = time.Duration(secs * float64(time.Second))
	}
	return base
}

// LocatorSelectors returns the portal selectors with configured
// overrides. An override with an empty value disables the step.
func (c Config) LocatorSelectors() backend.Selectors {
	sel := backend.DefaultSelectors()
	for name, v := range c.Selectors {
		if step, ok := model.StepByName(name); ok {
			sel[step] = v
		}
	}
	return sel
}

// LocatorWait is the wait-for-element bound.
func (c Config) LocatorWait() time.Duration {
	return time.Duration(c.LocatorTimeout) * time.Second
}

// MissingLogPath resolves the missing-documents log. A bare file name is
// placed inside the output directory.
func (c Config) MissingLogPath() string {
	if filepath.Dir(c.MissingLog) == "." && !filepath.IsAbs(c.MissingLog) {
		return filepath.Join(c.OutputDir, c.MissingLog)
	}
	return c.MissingLog
}
