package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Paths    PathsConfig    `mapstructure:"paths"`
	Runtime  RuntimeConfig  `mapstructure:"runtime"`
	Compiler CompilerConfig `mapstructure:"compiler"`
	Device   DeviceConfig   `mapstructure:"device"`
	Target   Target         `mapstructure:"target"`
	Verify   VerifyConfig   `mapstructure:"verify"`
	Bench    BenchConfig    `mapstructure:"bench"`
	LogLevel string         `mapstructure:"log_level"`
}

type PathsConfig struct {
	CatalogPath string `mapstructure:"catalog_path"`
	ResultsPath string `mapstructure:"results_path"`
	LibDir      string `mapstructure:"lib_dir"`
}

type RuntimeConfig struct {
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	ORTVersion     string `mapstructure:"ort_version"`
	APIVersion     uint32 `mapstructure:"api_version"`
}

type CompilerConfig struct {
	CLIPath     string `mapstructure:"cli_path"`
	ReuseCached bool   `mapstructure:"reuse_cached"`
}

type DeviceConfig struct {
	CLIPath string `mapstructure:"cli_path"`
}

type VerifyConfig struct {
	Mode string  `mapstructure:"mode"`
	Atol float64 `mapstructure:"atol"`
	Rtol float64 `mapstructure:"rtol"`
	Seed int64   `mapstructure:"seed"`
}

type BenchConfig struct {
	Warmup int `mapstructure:"warmup"`
	Repeat int `mapstructure:"repeat"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			CatalogPath: "models/catalog.yaml",
			ResultsPath: "benchmark_results.md",
			LibDir:      ".",
		},
		Runtime: RuntimeConfig{
			ORTLibraryPath: "",
			ORTVersion:     "",
			APIVersion:     23,
		},
		Compiler: CompilerConfig{
			CLIPath:     "ort-aot",
			ReuseCached: false,
		},
		Device: DeviceConfig{
			CLIPath: "aot-android-bench",
		},
		Target: DefaultTarget(),
		Verify: VerifyConfig{
			Mode: VerifyModePrimary,
			Atol: 1e-2,
			Rtol: 1e-3,
			Seed: 42,
		},
		Bench: BenchConfig{
			Warmup: 10,
			Repeat: 100,
		},
		LogLevel: "",
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-catalog-path", defaults.Paths.CatalogPath, "Path to the model catalog (yaml)")
	fs.String("paths-results-path", defaults.Paths.ResultsPath, "Where the pipe-table results are written")
	fs.String("paths-lib-dir", defaults.Paths.LibDir, "Directory for compiled lib<model>.so artifacts")
	fs.String("runtime-ort-library-path", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("ort-lib", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library (alias for --runtime-ort-library-path)")
	fs.String("runtime-ort-version", defaults.Runtime.ORTVersion, "Expected ONNX Runtime version")
	fs.Uint32("runtime-api-version", defaults.Runtime.APIVersion, "ONNX Runtime C API version")
	fs.String("compiler-cli-path", defaults.Compiler.CLIPath, "Path to the AOT compiler executable")
	fs.Bool("compiler-reuse-cached", defaults.Compiler.ReuseCached, "Skip compilation when artifacts already exist")
	fs.String("device-cli-path", defaults.Device.CLIPath, "Path to the mobile device benchmark executable")
	fs.String("target-arch", defaults.Target.Arch, "Compilation target (x86_64|arm64-v8a)")
	fs.String("target-device", defaults.Target.Device, "Device id for mobile targets")
	fs.String("verify-mode", defaults.Verify.Mode, "Output verification scope (primary|all)")
	fs.Float64("verify-atol", defaults.Verify.Atol, "Absolute tolerance for output equivalence")
	fs.Float64("verify-rtol", defaults.Verify.Rtol, "Relative tolerance for output equivalence")
	fs.Int64("verify-seed", defaults.Verify.Seed, "Random seed applied before reference execution")
	fs.Int("bench-warmup", defaults.Bench.Warmup, "Untimed warmup iterations per graph")
	fs.Int("bench-repeat", defaults.Bench.Repeat, "Timed iterations per graph")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error); overrides --verbose")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("AOTBENCH")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("runtime.ort_library_path", "AOTBENCH_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("aotbench")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	target, err := NormalizeTarget(cfg.Target)
	if err != nil {
		return Config{}, err
	}
	cfg.Target = target

	mode, err := NormalizeVerifyMode(cfg.Verify.Mode)
	if err != nil {
		return Config{}, err
	}
	cfg.Verify.Mode = mode

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.catalog_path", c.Paths.CatalogPath)
	v.SetDefault("paths.results_path", c.Paths.ResultsPath)
	v.SetDefault("paths.lib_dir", c.Paths.LibDir)
	v.SetDefault("runtime.ort_library_path", c.Runtime.ORTLibraryPath)
	v.SetDefault("runtime.ort_version", c.Runtime.ORTVersion)
	v.SetDefault("runtime.api_version", c.Runtime.APIVersion)
	v.SetDefault("compiler.cli_path", c.Compiler.CLIPath)
	v.SetDefault("compiler.reuse_cached", c.Compiler.ReuseCached)
	v.SetDefault("device.cli_path", c.Device.CLIPath)
	v.SetDefault("target.arch", c.Target.Arch)
	v.SetDefault("target.device", c.Target.Device)
	v.SetDefault("verify.mode", c.Verify.Mode)
	v.SetDefault("verify.atol", c.Verify.Atol)
	v.SetDefault("verify.rtol", c.Verify.Rtol)
	v.SetDefault("verify.seed", c.Verify.Seed)
	v.SetDefault("bench.warmup", c.Bench.Warmup)
	v.SetDefault("bench.repeat", c.Bench.Repeat)
	v.SetDefault("log_level", c.LogLevel)
}

// flagKeys maps each config key to the flag that sets it.
var flagKeys = []struct{ key, flag string }{
	{"paths.catalog_path", "paths-catalog-path"},
	{"paths.results_path", "paths-results-path"},
	{"paths.lib_dir", "paths-lib-dir"},
	{"runtime.ort_library_path", "runtime-ort-library-path"},
	{"runtime.ort_version", "runtime-ort-version"},
	{"runtime.api_version", "runtime-api-version"},
	{"compiler.cli_path", "compiler-cli-path"},
	{"compiler.reuse_cached", "compiler-reuse-cached"},
	{"device.cli_path", "device-cli-path"},
	{"target.arch", "target-arch"},
	{"target.device", "target-device"},
	{"verify.mode", "verify-mode"},
	{"verify.atol", "verify-atol"},
	{"verify.rtol", "verify-rtol"},
	{"verify.seed", "verify-seed"},
	{"bench.warmup", "bench-warmup"},
	{"bench.repeat", "bench-repeat"},
	{"log_level", "log-level"},
}

// bindFlags binds each flag onto its dotted key so that an unset flag falls
// through to env and config file values. --ort-lib wins over
// --runtime-ort-library-path when it was given.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, fk := range flagKeys {
		f := fs.Lookup(fk.flag)
		if fk.key == "runtime.ort_library_path" {
			if alt := fs.Lookup("ort-lib"); alt != nil && alt.Changed {
				f = alt
			}
		}
		if f == nil {
			continue
		}
		if err := v.BindPFlag(fk.key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", fk.flag, err)
		}
	}
	return nil
}
