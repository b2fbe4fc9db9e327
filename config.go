package dxrt

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds runtime-tunable behavior for an Engine. Unlike the original
// runtime's process-wide Configuration singleton, Config is an explicit
// value passed to Open/OpenBytes via WithEngineConfig — callers that need isolated
// engines in the same process (e.g. tests) get isolated configuration too.
type Config struct {
	// Debug enables verbose per-task tracing to the logger.
	Debug bool
	// Profiler enables latency histogram collection in Metrics.
	Profiler bool
	// DynamicCPUThread enables the CPU fallback worker's thread autoscaler
	// (C9); when false the worker keeps its initial, model-size-based
	// thread count (clamped to MinCPUThreads..MaxCPUThreads) unscaled.
	DynamicCPUThread bool
	// ShowProfile logs a summary via the profiler on Engine.Close.
	ShowProfile bool
	// ShowModelInfo logs the parsed model graph on Engine.Open.
	ShowModelInfo bool
	// MinCPUThreads and MaxCPUThreads bound the fallback worker pool.
	MinCPUThreads int
	MaxCPUThreads int
	// BufferCount overrides the per-task buffer-set count (C1).
	BufferCount int
	// MaxPPUFilterNum bounds the number of post-processor filters accepted
	// from a PPU/PPCPU result frame.
	MaxPPUFilterNum int
}

// DefaultConfig returns the baseline configuration: profiling on, dynamic
// CPU scaling on, debug tracing off.
func DefaultConfig() *Config {
	return &Config{
		Debug:            false,
		Profiler:         true,
		DynamicCPUThread: true,
		ShowProfile:      false,
		ShowModelInfo:    false,
		MinCPUThreads:    MinEachCPUTaskThreads,
		MaxCPUThreads:    MaxEachCPUTaskThreads,
		BufferCount:      DefaultBufferCount,
		MaxPPUFilterNum:  1024,
	}
}

// LoadConfig builds a Config from environment variables (DXRT_* prefix) and
// an optional config file, following the same override precedence viper
// gives the rest of the corpus: explicit Option > env > file > default.
func LoadConfig(configPath string, opts ...Option) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DXRT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("debug", false)
	v.SetDefault("profiler", true)
	v.SetDefault("dynamic_cpu_thread", true)
	v.SetDefault("show_profile", false)
	v.SetDefault("show_model_info", false)
	v.SetDefault("min_cpu_threads", MinEachCPUTaskThreads)
	v.SetDefault("max_cpu_threads", MaxEachCPUTaskThreads)
	v.SetDefault("buffer_count", DefaultBufferCount)
	v.SetDefault("max_ppu_filter_num", 1024)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, WrapError("LoadConfig", err)
		}
	}

	cfg := &Config{
		Debug:            v.GetBool("debug"),
		Profiler:         v.GetBool("profiler"),
		DynamicCPUThread: v.GetBool("dynamic_cpu_thread"),
		ShowProfile:      v.GetBool("show_profile"),
		ShowModelInfo:    v.GetBool("show_model_info"),
		MinCPUThreads:    v.GetInt("min_cpu_threads"),
		MaxCPUThreads:    v.GetInt("max_cpu_threads"),
		BufferCount:      v.GetInt("buffer_count"),
		MaxPPUFilterNum:  v.GetInt("max_ppu_filter_num"),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.MinCPUThreads < 1 {
		return nil, NewError("LoadConfig", ErrInvalidArgument, "min_cpu_threads must be >= 1")
	}
	if cfg.MaxCPUThreads < cfg.MinCPUThreads {
		return nil, NewError("LoadConfig", ErrInvalidArgument, "max_cpu_threads must be >= min_cpu_threads")
	}

	return cfg, nil
}

// Option mutates a Config in LoadConfig; applied after file/env resolution.
type Option func(*Config)

func WithDebug(enabled bool) Option {
	return func(c *Config) { c.Debug = enabled }
}

func WithProfiler(enabled bool) Option {
	return func(c *Config) { c.Profiler = enabled }
}

func WithDynamicCPUThread(enabled bool) Option {
	return func(c *Config) { c.DynamicCPUThread = enabled }
}

func WithCPUThreadBounds(min, max int) Option {
	return func(c *Config) {
		c.MinCPUThreads = min
		c.MaxCPUThreads = max
	}
}

func WithBufferCount(n int) Option {
	return func(c *Config) { c.BufferCount = n }
}
