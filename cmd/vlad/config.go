package main

import (
	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/urfave/cli/v2"
	"github.com/vkngwrapper/vlad/heap"
	"github.com/vkngwrapper/vlad/heap/source"
	"github.com/vkngwrapper/vlad/trace"
	"golang.org/x/exp/slog"
)

// config holds every setting that can come from the TOML file. Flags that are set on the
// command line win over the file.
type config struct {
	Capacity  uint32 `toml:"capacity"`
	Format    string `toml:"format"`
	Verbosity string `toml:"verbosity"`
	Source    string `toml:"source"`
	MaxBytes  int    `toml:"max_bytes"`
}

func defaultConfig() config {
	return config{
		Capacity:  heap.MinCapacity,
		Format:    trace.FormatText.String(),
		Verbosity: "warn",
		Source:    "go",
	}
}

var levelMapping = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func loadConfig(ctx *cli.Context) (config, error) {
	cfg := defaultConfig()

	if path := ctx.String(configFlag.Name); path != "" {
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return cfg, errors.Wrapf(err, "load config %s", path)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return cfg, errors.Newf("config %s: unknown setting %q", path, undecoded[0].String())
		}
	}

	if ctx.IsSet(capacityFlag.Name) {
		cfg.Capacity = uint32(ctx.Uint(capacityFlag.Name))
	}
	if ctx.IsSet(formatFlag.Name) {
		cfg.Format = ctx.String(formatFlag.Name)
	}
	if ctx.IsSet(verbosityFlag.Name) {
		cfg.Verbosity = ctx.String(verbosityFlag.Name)
	}
	if ctx.IsSet(sourceFlag.Name) {
		cfg.Source = ctx.String(sourceFlag.Name)
	}
	if ctx.IsSet(maxBytesFlag.Name) {
		cfg.MaxBytes = ctx.Int(maxBytesFlag.Name)
	}

	return cfg, cfg.validate()
}

func (c config) validate() error {
	if _, err := trace.ParseFormat(c.Format); err != nil {
		return err
	}
	if _, ok := levelMapping[c.Verbosity]; !ok {
		return errors.Newf("unknown verbosity %q", c.Verbosity)
	}
	if c.Source != "go" && c.Source != "mmap" {
		return errors.Newf("unknown buffer source %q", c.Source)
	}
	if c.MaxBytes < 0 {
		return errors.Newf("max_bytes must not be negative, found %d", c.MaxBytes)
	}
	return nil
}

func (c config) format() trace.Format {
	format, _ := trace.ParseFormat(c.Format)
	return format
}

func (c config) level() slog.Level {
	return levelMapping[c.Verbosity]
}

func (c config) bufferSource() source.BufferSource {
	var src source.BufferSource = source.GoSource{}
	if c.Source == "mmap" {
		src = source.MmapSource{}
	}
	if c.MaxBytes > 0 {
		src = source.CappedSource{Limit: c.MaxBytes, Source: src}
	}
	return src
}
