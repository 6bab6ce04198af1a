package logx

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fastjson"
)

// ---- Config ----

type Config struct {
	// Level is the default threshold for sinks that don't set their own.
	Level   string
	Console ConsoleConfig
	Files   []FileConfig
	Alert   AlertConfig
}

type ConsoleConfig struct {
	Enabled bool
	// Format is "pretty" (zerolog console) or a text layout. Empty means DefaultLayout.
	Format string
}

type FileConfig struct {
	Name   string
	Path   string
	Level  string
	Filter string // see ParseFilter
	// Format is "json" or a text layout. Empty means DefaultLayout.
	Format string

	// Rotate is zero for a plain append-only file.
	Rotate  time.Duration
	Backups int
}

type AlertConfig struct {
	Enabled    bool
	WebhookURL string
	// Level below ERROR is raised to ERROR.
	Level string
	// Filter defaults to "exclude_level:debug".
	Filter string
	// Match is an optional classification rule: only messages containing it
	// (case-insensitive) are alerted.
	Match      string
	Timeout    time.Duration
	RatePerSec int
}

// DefaultConfig mirrors the stock deployment: pretty console, a general log,
// a daily error log kept 7 days, a daily audit log of empty searches kept 30
// days, and webhook alerts for errors.
func DefaultConfig() Config {
	return Config{
		Level:   "info",
		Console: ConsoleConfig{Enabled: true, Format: "pretty"},
		Files: []FileConfig{
			{Name: "general", Path: "logs.log", Level: "info", Format: SourceLayout},
			{Name: "errors", Path: "important_errors.log", Level: "error", Rotate: 24 * time.Hour, Backups: 7},
			{
				Name: "audit", Path: "unsuccessful_searches.log", Level: "info",
				Filter: "contains:number of results: 0", Rotate: 24 * time.Hour, Backups: 30,
			},
		},
		Alert: AlertConfig{Enabled: true, Level: "error", Filter: "exclude_level:debug"},
	}
}

// ---- Router ----

// Router owns the process logging pipeline. Configure builds the sinks once;
// after that the sink set is read-only and records are fanned out to it.
type Router struct {
	cfg      Config
	fallback io.Writer
	extra    []*Sink
	client   *http.Client
	clock    Clock

	once   sync.Once
	sinks  []*Sink
	logger Logger

	parsers fastjson.ParserPool
}

type Option func(*Router)

// WithSink adds a pre-built sink next to the configured ones.
func WithSink(s *Sink) Option {
	return func(r *Router) {
		if s != nil {
			r.extra = append(r.extra, s)
		}
	}
}

// WithFallback sets where sink failures are reported (default stderr).
func WithFallback(w io.Writer) Option {
	return func(r *Router) {
		if w != nil {
			r.fallback = w
		}
	}
}

// WithHTTPClient sets the client used by the alert sink.
func WithHTTPClient(c *http.Client) Option { return func(r *Router) { r.client = c } }

// WithClock drives rotation boundaries of rotating file sinks.
func WithClock(c Clock) Option { return func(r *Router) { r.clock = c } }

func NewRouter(cfg Config, opts ...Option) *Router {
	r := &Router{cfg: cfg, fallback: Stderr()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Configure builds the sinks and returns the root logger. Only the first call
// does any work; later calls return the same logger.
func (r *Router) Configure() Logger {
	first := false
	r.once.Do(func() {
		first = true
		r.configure()
	})
	if !first {
		r.logger.Debug("logging already configured; ignoring repeated configure")
	}
	return r.logger
}

func (r *Router) configure() {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = consoleTimeFormat

	def := ParseLevel(r.cfg.Level, LevelInfo)
	sinks, errs := r.buildSinks(def)
	sinks = append(sinks, r.extra...)
	if len(sinks) == 0 {
		sinks = append(sinks, &Sink{
			Name: "console", Threshold: def,
			Formatter: JSONFormatter{}, Output: NewWriterOutput(newConsoleWriter(Stdout())),
		})
	}
	for _, err := range errs {
		fmt.Fprintf(r.fallback, "logx: %v\n", err)
	}
	r.sinks = sinks

	// zerolog drops events below every sink's threshold before encoding.
	floor := LevelCritical
	for _, s := range sinks {
		if s.Threshold < floor {
			floor = s.Threshold
		}
	}
	zl := zerolog.New(r).Level(floor).With().Timestamp().Logger()
	r.logger = newLogger(zl)
}

func (r *Router) buildSinks(def Level) ([]*Sink, []error) {
	var (
		sinks []*Sink
		errs  []error
	)

	if r.cfg.Console.Enabled {
		s := &Sink{Name: "console", Threshold: def}
		if strings.EqualFold(strings.TrimSpace(r.cfg.Console.Format), "pretty") {
			s.Formatter = JSONFormatter{}
			s.Output = NewWriterOutput(newConsoleWriter(Stdout()))
		} else {
			s.Formatter = TextFormatter{Layout: r.cfg.Console.Format}
			s.Output = NewWriterOutput(Stdout())
		}
		sinks = append(sinks, s)
	}

	for _, fc := range r.cfg.Files {
		s, err := r.fileSink(fc, def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sinks = append(sinks, s)
	}

	if r.cfg.Alert.Enabled {
		s, err := r.alertSink(r.cfg.Alert)
		if err != nil {
			errs = append(errs, err)
		} else {
			sinks = append(sinks, s)
		}
	}
	return sinks, errs
}

func (r *Router) fileSink(fc FileConfig, def Level) (*Sink, error) {
	name := fc.Name
	if name == "" {
		name = fc.Path
	}
	filter, err := ParseFilter(fc.Filter)
	if err != nil {
		return nil, fmt.Errorf("sink %s: %w", name, err)
	}

	var out Output
	if fc.Rotate > 0 {
		ro, err := NewRotatingOutput(RotateConfig{Path: fc.Path, Every: fc.Rotate, Backups: fc.Backups, Clock: r.clock})
		if err != nil {
			return nil, fmt.Errorf("sink %s: %w", name, err)
		}
		out = ro
	} else {
		fo, err := openAppend(fc.Path)
		if err != nil {
			return nil, fmt.Errorf("sink %s: %w", name, err)
		}
		out = fo
	}

	var f Formatter = TextFormatter{Layout: fc.Format}
	if strings.EqualFold(strings.TrimSpace(fc.Format), "json") {
		f = JSONFormatter{}
	}
	return &Sink{
		Name:      name,
		Threshold: ParseLevel(fc.Level, def),
		Filter:    filter,
		Formatter: f,
		Output:    out,
	}, nil
}

func (r *Router) alertSink(ac AlertConfig) (*Sink, error) {
	lvl := ParseLevel(ac.Level, LevelError)
	if lvl < LevelError {
		lvl = LevelError
	}
	raw := ac.Filter
	if strings.TrimSpace(raw) == "" {
		raw = "exclude_level:debug"
	}
	base, err := ParseFilter(raw)
	if err != nil {
		return nil, fmt.Errorf("sink alert: %w", err)
	}
	var match Filter
	if m := strings.TrimSpace(ac.Match); m != "" {
		match = ContentMatch{Substr: m}
	}

	opts := []AlertOption{WithAlertFallback(r.fallback), WithAlertRate(ac.RatePerSec)}
	if r.client != nil {
		opts = append(opts, WithAlertClient(r.client))
	} else {
		opts = append(opts, WithAlertTimeout(ac.Timeout))
	}
	if strings.TrimSpace(ac.WebhookURL) == "" {
		fmt.Fprintln(r.fallback, "logx: alert sink enabled but webhook url is not set; alerts will not be delivered")
	}
	return &Sink{
		Name:      "alert",
		Threshold: lvl,
		Filter:    Combine(base, match),
		Formatter: TextFormatter{Layout: DefaultLayout},
		Output:    NewAlertOutput(ac.WebhookURL, opts...),
	}, nil
}

// Sinks returns the configured sinks (nil before Configure).
func (r *Router) Sinks() []*Sink {
	return append([]*Sink(nil), r.sinks...)
}

// Write implements io.Writer for zerolog.
func (r *Router) Write(p []byte) (int, error) {
	return r.WriteLevel(zerolog.NoLevel, p)
}

// WriteLevel decodes one line and hands it to every accepting sink.
// Sink failures are reported on the fallback writer, never to the caller.
func (r *Router) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	rec, err := decodeRecord(&r.parsers, level, p)
	if err != nil {
		fmt.Fprintf(r.fallback, "logx: dropping undecodable log line: %v\n", err)
		return len(p), nil
	}
	for _, s := range r.sinks {
		if !s.Accepts(rec) {
			continue
		}
		if err := s.Emit(rec); err != nil {
			fmt.Fprintf(r.fallback, "logx: sink %s: %v\n", s.Name, err)
		}
	}
	return len(p), nil
}

// Close closes every sink output.
func (r *Router) Close() error {
	var errs []error
	for _, s := range r.sinks {
		if s.Output == nil {
			continue
		}
		if err := s.Output.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}
