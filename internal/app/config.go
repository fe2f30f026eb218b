// Package app holds the core's Config value and the flag parsing that
// builds one. Flag/config parsing is an external collaborator's
// contract: the core (internal/player, internal/videostream, ...) only
// ever consumes a Config, never a flag.FlagSet. cmd/futatabi/main.go is
// the only caller of ParseFlags.
package app

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
)

// Config is the fully-resolved set of knobs for the CLI surface the
// core honors, plus the ambient flags this build adds (logging,
// metrics, tracing) and the supplemented flags pulled from
// original_source's flags.h (source labels, cue padding).
type Config struct {
	Width, Height int

	// FrameRateNum/FrameRateDen implement --frame-rate N[/M]; FPS()
	// divides them. Defaults to 60/1.
	FrameRateNum int
	FrameRateDen int

	SlowDownInput        bool
	InterpolationQuality int // 0 (off) .. 4, validated against gpu.Quality's range by the caller
	WorkingDirectory     string
	HTTPPort             int
	TallyURL             string
	CueInPointPadding    float64 // seconds
	CueOutPointPadding   float64 // seconds
	MidiMapping          string
	SourceLabels         map[uint32]string

	LogLevel     string
	LogFormat    string
	MetricsAddr  string // empty means "serve /metrics on HTTPPort"
	OTelEndpoint string
}

// FPS returns the configured frame rate as a float64.
func (c Config) FPS() float64 {
	if c.FrameRateDen <= 0 {
		return float64(c.FrameRateNum)
	}
	return float64(c.FrameRateNum) / float64(c.FrameRateDen)
}

// Validate rejects a Config whose values would make the core
// misbehave (e.g. a zero frame rate would divide-by-zero in the
// timeline math), validating once at startup rather than scattering
// checks through the core.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("app: width and height must be positive, got %dx%d", c.Width, c.Height)
	}
	if c.FrameRateNum <= 0 {
		return fmt.Errorf("app: frame rate numerator must be positive, got %d", c.FrameRateNum)
	}
	if c.InterpolationQuality < 0 || c.InterpolationQuality > 4 {
		return fmt.Errorf("app: interpolation quality must be in [0,4], got %d", c.InterpolationQuality)
	}
	if c.WorkingDirectory == "" {
		return fmt.Errorf("app: working directory must be set")
	}
	if c.HTTPPort <= 0 {
		return fmt.Errorf("app: http port must be positive, got %d", c.HTTPPort)
	}
	return nil
}

// sourceLabelFlag implements flag.Value so --source-label can be
// repeated (N:LABEL each time), the same pattern original_source's
// flags.h uses for repeatable -source_label=N,label arguments.
type sourceLabelFlag struct{ dest map[uint32]string }

func (f sourceLabelFlag) String() string { return "" }

func (f sourceLabelFlag) Set(s string) error {
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return fmt.Errorf("--source-label: expected N:LABEL, got %q", s)
	}
	n, err := strconv.ParseUint(s[:idx], 10, 32)
	if err != nil {
		return fmt.Errorf("--source-label: bad stream index %q: %w", s[:idx], err)
	}
	f.dest[uint32(n)] = s[idx+1:]
	return nil
}

// frameRateFlag implements flag.Value for --frame-rate N[/M].
type frameRateFlag struct{ num, den *int }

func (f frameRateFlag) String() string { return "" }

func (f frameRateFlag) Set(s string) error {
	parts := strings.SplitN(s, "/", 2)
	n, err := strconv.Atoi(parts[0])
	if err != nil {
		return fmt.Errorf("--frame-rate: bad numerator %q: %w", parts[0], err)
	}
	*f.num = n
	*f.den = 1
	if len(parts) == 2 {
		d, err := strconv.Atoi(parts[1])
		if err != nil {
			return fmt.Errorf("--frame-rate: bad denominator %q: %w", parts[1], err)
		}
		*f.den = d
	}
	return nil
}

// ParseFlags parses args (typically os.Args[1:]) into a Config, applying
// the same defaults the source's flags.h documents (1280x720, 60fps,
// quality 1, port 9095).
func ParseFlags(progName string, args []string) (Config, error) {
	fs := flag.NewFlagSet(progName, flag.ContinueOnError)

	cfg := Config{
		FrameRateNum: 60,
		FrameRateDen: 1,
		SourceLabels: make(map[uint32]string),
	}

	fs.IntVar(&cfg.Width, "width", 1280, "width of all incoming video streams, in pixels")
	fs.IntVar(&cfg.Height, "height", 720, "height of all incoming video streams, in pixels")
	fs.Var(frameRateFlag{&cfg.FrameRateNum, &cfg.FrameRateDen}, "frame-rate", "output frame rate, as N or N/M (default 60)")
	fs.BoolVar(&cfg.SlowDownInput, "slow-down-input", false, "pace ingest to the nominal frame rate instead of as fast as it arrives (useful for replaying a capture file)")
	fs.IntVar(&cfg.InterpolationQuality, "interpolation-quality", 1, "DIS interpolation quality, 0 (off) through 4 (best)")
	fs.StringVar(&cfg.WorkingDirectory, "working-directory", ".", "directory holding frames/ and the catalog")
	fs.IntVar(&cfg.HTTPPort, "http-port", 9095, "port to listen for HTTP clients on")
	fs.StringVar(&cfg.TallyURL, "tally-url", "", "URL to poll for tally-light state (optional)")
	fs.Float64Var(&cfg.CueInPointPadding, "cue-in-point-padding", 0, "seconds to pad before a clip's marked in-point")
	fs.Float64Var(&cfg.CueOutPointPadding, "cue-out-point-padding", 0, "seconds to pad after a clip's marked out-point")
	fs.StringVar(&cfg.MidiMapping, "midi-mapping", "", "path to a MIDI mapping file (plumbed through, not interpreted by the core)")
	fs.Var(sourceLabelFlag{cfg.SourceLabels}, "source-label", "N:LABEL, repeatable, names stream N for display")

	fs.StringVar(&cfg.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", "text", "log format: text or json")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "address to serve /metrics on; empty serves it on --http-port")
	fs.StringVar(&cfg.OTelEndpoint, "otel-endpoint", "", "OTLP/HTTP endpoint for tracing; also settable via OTEL_EXPORTER_OTLP_ENDPOINT")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	return cfg, nil
}
