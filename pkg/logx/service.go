package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	timeFormat      = "2006-01-02T15:04:05.000Z07:00"
	defaultLogFile  = "./schedd.log"
	defaultSinkRate = 1
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Stderr  SinkConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// SinkConfig mirrors lines at or above MinLevel (default error) to stderr,
// at most RatePerSec per second. Lines over the budget are dropped.
type SinkConfig struct {
	Enabled    bool
	MinLevel   string
	RatePerSec int
}

// Service owns the log outputs and swaps them on Apply.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu   sync.Mutex
	file *logFile
	sink *stderrSink

	console io.Writer
	stderr  io.Writer
}

// New builds a Service from cfg and returns it with its root Logger.
func New(cfg Config) (*Service, Logger) {
	s := newService(cfg, os.Stdout, os.Stderr)
	return s, Logger{svc: s}
}

func init() {
	zerolog.TimeFieldFormat = timeFormat
	zerolog.ErrorFieldName = "err"
}

func newService(cfg Config, console, stderr io.Writer) *Service {
	s := &Service{console: console, stderr: stderr}
	s.Apply(cfg)
	return s
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// Apply rebuilds the outputs for cfg. The log file stays open when its path
// did not change.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter(s.console))
	}

	path := strings.TrimSpace(cfg.File.Path)
	if path == "" {
		path = defaultLogFile
	}
	switch {
	case !cfg.File.Enabled:
		s.closeFile()
	case s.file != nil && s.file.path == path:
		writers = append(writers, s.file)
	default:
		s.closeFile()
		f, err := openLogFile(path)
		if err != nil {
			fmt.Fprintf(s.stderr, "logx: %v\n", err)
			break
		}
		s.file = f
		writers = append(writers, f)
	}

	s.sink = nil
	if cfg.Stderr.Enabled {
		rps := max(defaultSinkRate, cfg.Stderr.RatePerSec)
		s.sink = &stderrSink{
			out: s.stderr,
			min: parseLevel(cfg.Stderr.MinLevel, zerolog.ErrorLevel),
			lim: rate.NewLimiter(rate.Limit(rps), rps),
		}
		writers = append(writers, s.sink)
	}

	if len(writers) == 0 {
		writers = append(writers, consoleWriter(s.console))
	}
	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

// Reopen reopens the log file at the same path. Call it after the file was
// rotated away.
func (s *Service) Reopen() error {
	s.mu.Lock()
	f := s.file
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.reopen()
}

// Dropped returns how many lines the stderr sink discarded over its rate
// since the last Apply.
func (s *Service) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink == nil {
		return 0
	}
	return s.sink.dropped.Load()
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeFile()
}

func (s *Service) closeFile() error {
	if s.file == nil {
		return nil
	}
	err := s.file.close()
	s.file = nil
	return err
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:           w,
		TimeFormat:    timeFormat,
		PartsOrder:    []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, ComponentKey, zerolog.CallerFieldName, zerolog.MessageFieldName},
		FieldsExclude: []string{ComponentKey},
	}
}

// logFile is an append-only file that can be swapped under concurrent
// writers.
type logFile struct {
	path string
	mu   sync.Mutex
	f    *os.File
}

func openLogFile(path string) (*logFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return &logFile{path: path, f: f}, nil
}

func (lf *logFile) Write(p []byte) (int, error) {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if lf.f == nil {
		return len(p), nil
	}
	return lf.f.Write(p)
}

func (lf *logFile) reopen() error {
	f, err := os.OpenFile(lf.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("reopen log file %q: %w", lf.path, err)
	}
	lf.mu.Lock()
	old := lf.f
	lf.f = f
	lf.mu.Unlock()
	if old != nil {
		return old.Close()
	}
	return nil
}

func (lf *logFile) close() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if lf.f == nil {
		return nil
	}
	err := lf.f.Close()
	lf.f = nil
	return err
}

// stderrSink is immutable once built; Apply replaces it.
type stderrSink struct {
	out     io.Writer
	min     zerolog.Level
	lim     *rate.Limiter
	dropped atomic.Uint64
}

func (w *stderrSink) Write(p []byte) (int, error) { return w.WriteLevel(zerolog.NoLevel, p) }

func (w *stderrSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < w.min || level == zerolog.NoLevel {
		return len(p), nil
	}
	// Never block the caller.
	if !w.lim.Allow() {
		w.dropped.Add(1)
		return len(p), nil
	}
	_, _ = w.out.Write(p)
	return len(p), nil
}

var levelNames = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
}

func parseLevel(s string, def zerolog.Level) zerolog.Level {
	if lv, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return lv
	}
	return def
}

// ValidLevel reports whether s names a level. Empty is valid and means the
// default.
func ValidLevel(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return true
	}
	_, ok := levelNames[s]
	return ok
}
