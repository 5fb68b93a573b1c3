package model

import (
	"io"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

// Enum helpers (optional).
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Built-in defaults, used when the config file or a field is absent. The
// install command renders them into /etc/wpcronrun/config.yaml so operators
// see every knob spelled out.
const (
	DefaultConfigPath   = "/etc/wpcronrun/config.yaml"
	DefaultRegistryPath = "/etc/wpcronrun/sites.list"
	DefaultTrustedUser  = "root"
	DefaultMaxEntries   = 1000

	DefaultMaxParallel     = 5
	DefaultStagger         = "500ms"
	DefaultJobTimeout      = "5m"
	DefaultCPUPercent      = 80
	DefaultLoadFactor      = 2.0
	DefaultThrottleBackoff = "5s"
	DefaultThrottleSample  = "250ms"

	DefaultWPCLIBinary = "wp"
	DefaultPHPBinary   = "php"

	DefaultLogTag   = "wpcronrun"
	DefaultSchedule = "*/5 * * * *"
	DefaultUnitDir  = "/etc/systemd/system"
)

// DefaultAllowedRoots is where Virtualmin keeps virtual server homes.
var DefaultAllowedRoots = []string{"/home"}

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

type Config struct {
	Version  int             `json:"version" yaml:"version"` // fixed 0 for now
	Registry *RegistryConfig `json:"registry,omitempty" yaml:"registry,omitempty"`
	Policy   *PolicyConfig   `json:"policy,omitempty" yaml:"policy,omitempty"`
	Dispatch *DispatchConfig `json:"dispatch,omitempty" yaml:"dispatch,omitempty"`
	Handler  *HandlerConfig  `json:"handler,omitempty" yaml:"handler,omitempty"`
	Log      *LogConfig      `json:"log,omitempty" yaml:"log,omitempty"`
	Summary  *SummaryConfig  `json:"summary,omitempty" yaml:"summary,omitempty"`
	Schedule *string         `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Install  *InstallConfig  `json:"install,omitempty" yaml:"install,omitempty"`
}

// RegistryConfig locates the site registry and its trust anchor.
type RegistryConfig struct {
	Path        *string `json:"path,omitempty" yaml:"path,omitempty"`
	TrustedUser *string `json:"trusted_user,omitempty" yaml:"trusted_user,omitempty"`
	MaxEntries  *int    `json:"max_entries,omitempty" yaml:"max_entries,omitempty"`
}

// PolicyConfig extends the built-in security policy.
type PolicyConfig struct {
	AllowedRoots       []string `json:"allowed_roots,omitempty" yaml:"allowed_roots,omitempty"`
	DeniedUsers        []string `json:"denied_users,omitempty" yaml:"denied_users,omitempty"`
	DeniedUserPrefixes []string `json:"denied_user_prefixes,omitempty" yaml:"denied_user_prefixes,omitempty"`
}

// DispatchConfig bounds the batch. Durations are strings ("500ms", "5m").
type DispatchConfig struct {
	MaxParallel *int            `json:"max_parallel,omitempty" yaml:"max_parallel,omitempty"`
	Stagger     *string         `json:"stagger,omitempty" yaml:"stagger,omitempty"`
	JobTimeout  *string         `json:"job_timeout,omitempty" yaml:"job_timeout,omitempty"`
	Throttle    *ThrottleConfig `json:"throttle,omitempty" yaml:"throttle,omitempty"`
}

// ThrottleConfig tunes the resource monitor consulted before admissions.
type ThrottleConfig struct {
	CPUPercent *float64 `json:"cpu_percent,omitempty" yaml:"cpu_percent,omitempty"`
	LoadFactor *float64 `json:"load_factor,omitempty" yaml:"load_factor,omitempty"`
	Backoff    *string  `json:"backoff,omitempty" yaml:"backoff,omitempty"`
	Sample     *string  `json:"sample,omitempty" yaml:"sample,omitempty"`
}

// HandlerConfig names the task handler binaries. Bare names resolve via PATH.
type HandlerConfig struct {
	WPCLI *string `json:"wp_cli,omitempty" yaml:"wp_cli,omitempty"`
	PHP   *string `json:"php,omitempty" yaml:"php,omitempty"`
}

type LogConfig struct {
	Verbose *bool   `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	Format  *string `json:"format,omitempty" yaml:"format,omitempty"` // "text" | "json"
	Journal *bool   `json:"journal,omitempty" yaml:"journal,omitempty"`
	Tag     *string `json:"tag,omitempty" yaml:"tag,omitempty"`
}

// SummaryConfig optionally persists run summaries as JSON files.
type SummaryConfig struct {
	Dir *string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// InstallConfig steers the install command only; the runner ignores it.
type InstallConfig struct {
	UnitDir *string `json:"unit_dir,omitempty" yaml:"unit_dir,omitempty"`
	Crontab *bool   `json:"crontab,omitempty" yaml:"crontab,omitempty"`
}

// LoadConfig validates YAML from r against the CUE schema and decodes it.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}

	return out, nil
}

// DefaultConfig returns the built-in configuration with every knob set to
// its default, suitable for rendering to a file.
func DefaultConfig() Config {
	return Config{
		Version: 0,
		Registry: &RegistryConfig{
			Path:        ptr(DefaultRegistryPath),
			TrustedUser: ptr(DefaultTrustedUser),
			MaxEntries:  ptr(DefaultMaxEntries),
		},
		Policy: &PolicyConfig{
			AllowedRoots: append([]string(nil), DefaultAllowedRoots...),
		},
		Dispatch: &DispatchConfig{
			MaxParallel: ptr(DefaultMaxParallel),
			Stagger:     ptr(DefaultStagger),
			JobTimeout:  ptr(DefaultJobTimeout),
			Throttle: &ThrottleConfig{
				CPUPercent: ptr(float64(DefaultCPUPercent)),
				LoadFactor: ptr(DefaultLoadFactor),
				Backoff:    ptr(DefaultThrottleBackoff),
				Sample:     ptr(DefaultThrottleSample),
			},
		},
		Handler: &HandlerConfig{
			WPCLI: ptr(DefaultWPCLIBinary),
			PHP:   ptr(DefaultPHPBinary),
		},
		Log: &LogConfig{
			Verbose: ptr(false),
			Format:  ptr(LogFormatText),
			Journal: ptr(true),
			Tag:     ptr(DefaultLogTag),
		},
		Schedule: ptr(DefaultSchedule),
		Install: &InstallConfig{
			UnitDir: ptr(DefaultUnitDir),
			Crontab: ptr(false),
		},
	}
}

func ptr[T any](v T) *T {
	return &v
}
