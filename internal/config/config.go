// Package config loads runtime configuration from flags, environment
// variables, and an optional YAML file, in that precedence order.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Paths   PathsConfig   `mapstructure:"paths"`
	Runtime RuntimeConfig `mapstructure:"runtime"`
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
}

type PathsConfig struct {
	// Expdir holds config.yml, generator.safetensors, and the extractor
	// ONNX exports.
	Expdir          string `mapstructure:"expdir"`
	TokenModelPath  string `mapstructure:"token_model_path"`
	PromptModelPath string `mapstructure:"prompt_model_path"`
}

type RuntimeConfig struct {
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	ORTAPIVersion  int    `mapstructure:"ort_api_version"`
	ConvWorkers    int    `mapstructure:"conv_workers"`
}

type ServerConfig struct {
	ListenAddr     string `mapstructure:"listen_addr"`
	MaxAudioBytes  int    `mapstructure:"max_audio_bytes"`
	RequestTimeout int    `mapstructure:"request_timeout"`
	Workers        int    `mapstructure:"workers"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
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
			Expdir:          "pretrained",
			TokenModelPath:  "",
			PromptModelPath: "",
		},
		Runtime: RuntimeConfig{
			ORTLibraryPath: "",
			ORTAPIVersion:  0,
			ConvWorkers:    0,
		},
		Server: ServerConfig{
			ListenAddr:     ":8080",
			MaxAudioBytes:  16 << 20,
			RequestTimeout: 120,
			Workers:        2,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-expdir", defaults.Paths.Expdir, "Experiment directory with config.yml and generator.safetensors")
	fs.String("paths-token-model-path", defaults.Paths.TokenModelPath, "Path to the vq-wav2vec ONNX export (default: inside expdir)")
	fs.String("paths-prompt-model-path", defaults.Paths.PromptModelPath, "Path to the WavLM ONNX export (default: inside expdir)")
	fs.String("runtime-ort-library-path", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("ort-lib", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library (alias for --runtime-ort-library-path)")
	fs.Int("runtime-ort-api-version", defaults.Runtime.ORTAPIVersion, "ONNX Runtime C API version (0 selects the default)")
	fs.Int("runtime-conv-workers", defaults.Runtime.ConvWorkers, "Worker goroutines for convolution kernels (0 uses GOMAXPROCS)")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("server-max-audio-bytes", defaults.Server.MaxAudioBytes, "Maximum accepted WAV upload size in bytes")
	fs.Int("server-request-timeout", defaults.Server.RequestTimeout, "Per-request conversion deadline in seconds")
	fs.Int("server-workers", defaults.Server.Workers, "Max concurrent conversion requests")
	fs.String("log-level", defaults.Log.Level, "Log level (debug|info|warn|error)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := v.BindPFlags(opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}
	registerAliases(v)

	v.SetEnvPrefix("VEC2WAV2")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("runtime.ort_library_path", "VEC2WAV2_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("vec2wav2")
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

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.expdir", c.Paths.Expdir)
	v.SetDefault("paths.token_model_path", c.Paths.TokenModelPath)
	v.SetDefault("paths.prompt_model_path", c.Paths.PromptModelPath)
	v.SetDefault("runtime.ort_library_path", c.Runtime.ORTLibraryPath)
	v.SetDefault("runtime.ort_api_version", c.Runtime.ORTAPIVersion)
	v.SetDefault("runtime.conv_workers", c.Runtime.ConvWorkers)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.max_audio_bytes", c.Server.MaxAudioBytes)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("log.level", c.Log.Level)
}

func registerAliases(v *viper.Viper) {
	v.RegisterAlias("paths.expdir", "paths-expdir")
	v.RegisterAlias("paths.token_model_path", "paths-token-model-path")
	v.RegisterAlias("paths.prompt_model_path", "paths-prompt-model-path")
	v.RegisterAlias("runtime.ort_library_path", "runtime-ort-library-path")
	v.RegisterAlias("runtime.ort_library_path", "ort-lib")
	v.RegisterAlias("runtime.ort_api_version", "runtime-ort-api-version")
	v.RegisterAlias("runtime.conv_workers", "runtime-conv-workers")
	v.RegisterAlias("server.listen_addr", "server-listen-addr")
	v.RegisterAlias("server.max_audio_bytes", "server-max-audio-bytes")
	v.RegisterAlias("server.request_timeout", "server-request-timeout")
	v.RegisterAlias("server.workers", "server-workers")
	v.RegisterAlias("log.level", "log-level")
}
