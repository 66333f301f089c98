package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"lconvert/pattern"
)

var (
	ErrUsage        = errors.New("invalid arguments")
	ErrFileNotFound = errors.New("file not found")
)

type Config struct {
	ExtensionMap         pattern.ExtensionMap `mapstructure:"extension-map"`
	Output               string               `mapstructure:"output"`
	MaxConcurrency       int                  `mapstructure:"n-subprocesses"`
	DisablePatternAppend bool                 `mapstructure:"disable-pattern-append"`
	CaseSensitive        bool                 `mapstructure:"case-sensitive"`
	AllowOverride        bool                 `mapstructure:"allow-override"`
	Options              string               `mapstructure:"options"`
	FFmpegBin            string               `mapstructure:"ffmpeg-bin"`
	FFprobeBin           string               `mapstructure:"ffprobe-bin"`
	Timeout              time.Duration        `mapstructure:"timeout"`
	MinFreeDisk          int64                `mapstructure:"min-free-disk"`
	MinFreeMem           int64                `mapstructure:"min-free-mem"`
	MaxCPU               float64              `mapstructure:"max-cpu"`
	StatusAddr           string               `mapstructure:"status-addr"`
	StatusKey            string               `mapstructure:"status-key"`
	Report               string               `mapstructure:"report"`
	DryRun               bool                 `mapstructure:"dry-run"`
	NoProgress           bool                 `mapstructure:"no-progress"`
	Verbose              bool                 `mapstructure:"verbose"`
	Color                string               `mapstructure:"color"`
	LogFile              string               `mapstructure:"log"`
	ShowVersion          bool                 `mapstructure:"version"`

	// Inputs are the positional arguments, TrailingOptions everything after "--".
	Inputs          []string `mapstructure:"-"`
	TrailingOptions []string `mapstructure:"-"`
}

// decodeHook turns the string forms of flags, env values and config file
// entries into typed fields: Go durations such as "90s", sizes such as
// "200MB" and "in=out,..." extension maps.
func decodeHook() mapstructure.DecodeHookFunc {
	durationType := reflect.TypeOf(time.Duration(0))
	extensionMapType := reflect.TypeOf(pattern.ExtensionMap(nil))

	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		s, ok := data.(string)
		if !ok || f.Kind() != reflect.String {
			return data, nil
		}
		switch {
		case t == durationType:
			return time.ParseDuration(s)
		case t == extensionMapType:
			if s == "" {
				return pattern.ExtensionMap(nil), nil
			}
			return pattern.ParseExtensionMap(s)
		case t.Kind() == reflect.Int64:
			var size datasize.ByteSize
			if err := size.UnmarshalText([]byte(s)); err != nil {
				// Plain numbers are left to the weakly typed decoder.
				return data, nil
			}
			return int64(size.Bytes()), nil
		}
		return data, nil
	}
}

// NewFlagSet declares every command-line flag. Flag names double as the
// config file keys and, upper-cased with an LCONVERT_ prefix, as the
// environment variable names.
func NewFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("lconvert", pflag.ContinueOnError)
	fs.SortFlags = false
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: lconvert [flags] INPUT... [-- FFMPEG_OPTIONS...]\n\nFlags:\n")
		fs.PrintDefaults()
	}

	fs.StringP("extension-map", "m", "", `extension map, e.g. "flac=mp3,ogg=mp3" or "wav" for every input`)
	fs.StringP("output", "o", pattern.DefaultPattern, "output path pattern")
	fs.IntP("n-subprocesses", "n", 4, "maximum number of concurrent ffmpeg processes")
	fs.BoolP("disable-pattern-append", "d", false, "do not append {{tree}}/{{file}} to a pattern without placeholders")
	fs.BoolP("case-sensitive", "c", false, "match input extensions case-sensitively")
	fs.BoolP("allow-override", "y", false, "overwrite existing output files")

	fs.String("options", "", "extra ffmpeg output options, split like a shell would")
	fs.String("ffmpeg-bin", "ffmpeg", "ffmpeg executable")
	fs.String("ffprobe-bin", "ffprobe", "ffprobe executable")
	fs.String("timeout", "0s", "kill a conversion after this long (0 disables)")
	fs.String("min-free-disk", "0", "do not start a conversion below this much free disk space, e.g. 500MB")
	fs.String("min-free-mem", "0", "do not start a conversion below this much available memory")
	fs.Float64("max-cpu", 0, "do not start a conversion above this CPU usage percentage (0 disables)")
	fs.String("status-addr", "", "serve batch status over HTTP on this address, e.g. 127.0.0.1:8080")
	fs.String("status-key", "", "bearer token required by the status server")
	fs.String("report", "", "write a YAML report of the batch to this file")
	fs.Bool("dry-run", false, "print planned conversions without running ffmpeg")
	fs.Bool("no-progress", false, "disable progress bars")
	fs.BoolP("verbose", "v", false, "verbose logging")
	fs.String("color", "auto", "colorize output: auto, always or never")
	fs.String("log", "", "also append log lines to this file")
	fs.String("config", "", "config file (default ./lconvert_config.yaml)")
	fs.Bool("version", false, "print version and exit")
	return fs
}

// Load parses args (without the program name) and layers, lowest to
// highest: flag defaults, config file, environment, explicit flags.
func Load(args []string) (*Config, error) {
	fs := NewFlagSet()
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	vp := viper.New()
	if path, _ := fs.GetString("config"); path != "" {
		vp.SetConfigFile(path)
		if err := vp.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("could not read config file: %w", err)
		}
	} else {
		vp.SetConfigName("lconvert_config")
		vp.SetConfigType("yaml")
		vp.AddConfigPath(".")
		vp.AddConfigPath("$HOME/.config/lconvert")
		if err := vp.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("could not read config file: %w", err)
			}
		}
	}

	vp.SetEnvPrefix("LCONVERT")
	vp.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	vp.AutomaticEnv()

	if err := vp.BindPFlags(fs); err != nil {
		return nil, err
	}

	var cfg Config
	if err := vp.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	positional := fs.Args()
	if dash := fs.ArgsLenAtDash(); dash >= 0 {
		cfg.Inputs = positional[:dash]
		cfg.TrailingOptions = positional[dash:]
	} else {
		cfg.Inputs = positional
	}
	return &cfg, nil
}

// Validate checks the values Load cannot check on its own.
func (c *Config) Validate() error {
	if len(c.Inputs) == 0 {
		return fmt.Errorf("%w: no input files given", ErrUsage)
	}
	if len(c.ExtensionMap) == 0 {
		return fmt.Errorf("%w: an extension map is required (-m)", pattern.ErrInvalidExtensionMap)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("%w: --n-subprocesses must be at least 1, got %d", ErrUsage, c.MaxConcurrency)
	}
	if _, err := pattern.Parse(c.Output); err != nil {
		return err
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: --timeout must not be negative", ErrUsage)
	}
	if c.MaxCPU < 0 || c.MaxCPU > 100 {
		return fmt.Errorf("%w: --max-cpu must be between 0 and 100", ErrUsage)
	}
	switch c.Color {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("%w: --color must be auto, always or never", ErrUsage)
	}
	return nil
}

// ExpandInputs expands glob patterns among the inputs. Paths that exist are
// kept as given, so names like "song [live].mp3" are never read as patterns.
// A pattern or path that matches nothing is an error.
func ExpandInputs(inputs []string) ([]string, error) {
	var out []string
	for _, in := range inputs {
		if _, err := os.Stat(in); err == nil {
			out = append(out, in)
			continue
		}
		matches, err := filepath.Glob(in)
		if err != nil {
			return nil, fmt.Errorf("%w: bad pattern '%s': %v", ErrUsage, in, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("%w: '%s'", ErrFileNotFound, in)
		}
		out = append(out, matches...)
	}
	return out, nil
}
