// Package logging provides category-based file logging for cxxtract.
// Each category writes to its own date-prefixed log file under the state
// directory so that a noisy subsystem (the parser pool, say) can be tailed
// or disabled without drowning out the rest. Loggers are cheap no-ops when
// their category is disabled.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Category names one logging stream. Each enabled category owns a file.
type Category string

const (
	CategoryBoot      Category = "boot"
	CategoryStore     Category = "store"
	CategoryWorkspace Category = "workspace"
	CategoryCompileDB Category = "compiledb"
	CategoryRecall    Category = "recall"
	CategoryParser    Category = "parser"
	CategoryWriter    Category = "writer"
	CategoryContext   Category = "context"
	CategoryEngine    Category = "engine"
	CategorySync      Category = "sync"
	CategoryJobs      Category = "jobs"
	CategoryVector    Category = "vector"
)

// allCategories is the closed set; Get on anything else still works but
// inherits the default enablement.
var allCategories = []Category{
	CategoryBoot, CategoryStore, CategoryWorkspace, CategoryCompileDB,
	CategoryRecall, CategoryParser, CategoryWriter, CategoryContext,
	CategoryEngine, CategorySync, CategoryJobs, CategoryVector,
}

// settings mirrors the optional logging.json in the state directory.
type settings struct {
	Debug      bool            `json:"debug"`
	JSONFormat bool            `json:"json_format"`
	Categories map[string]bool `json:"categories"`
}

const (
	envLogDir = "CXXTRACT_LOG_DIR"
	envDebug  = "CXXTRACT_DEBUG"
	stateDir  = ".cxxtract"
)

var (
	mu      sync.RWMutex
	loggers = make(map[Category]*Logger)
	cfg     *settings
	cfgOnce sync.Once
	logDir  string
)

// loadSettings reads logging.json once. A missing file means file logging
// stays disabled unless CXXTRACT_LOG_DIR forces it on.
func loadSettings() {
	cfgOnce.Do(func() {
		s := &settings{Categories: map[string]bool{}}

		if dir := os.Getenv(envLogDir); dir != "" {
			logDir = dir
			for _, c := range allCategories {
				s.Categories[string(c)] = true
			}
		}

		cfgPath := filepath.Join(stateDir, "logging.json")
		if data, err := os.ReadFile(cfgPath); err == nil {
			var fileCfg settings
			if err := json.Unmarshal(data, &fileCfg); err == nil {
				s.Debug = fileCfg.Debug
				s.JSONFormat = fileCfg.JSONFormat
				for k, v := range fileCfg.Categories {
					s.Categories[k] = v
				}
				if logDir == "" {
					logDir = filepath.Join(stateDir, "logs")
				}
			}
		}

		if os.Getenv(envDebug) == "1" || os.Getenv(envDebug) == "true" {
			s.Debug = true
		}
		cfg = s
	})
}

// Logger writes leveled lines for one category. A disabled logger keeps all
// methods callable but does nothing. Derived loggers from WithField share
// the underlying file and its mutex.
type Logger struct {
	category Category
	enabled  bool
	debug    bool
	jsonFmt  bool
	fields   map[string]string
	out      *output
}

type output struct {
	mu   sync.Mutex
	file *os.File
}

func (o *output) writeLine(line string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.file != nil {
		fmt.Fprintln(o.file, line)
	}
}

func (o *output) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.file != nil {
		o.file.Close()
		o.file = nil
	}
}

// entry is the JSON line shape when json_format is on.
type entry struct {
	Timestamp string            `json:"ts"`
	Level     string            `json:"level"`
	Category  string            `json:"category"`
	Message   string            `json:"msg"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Get returns the logger for a category, creating it on first use.
func Get(category Category) *Logger {
	mu.RLock()
	l, ok := loggers[category]
	mu.RUnlock()
	if ok {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if l, ok = loggers[category]; ok {
		return l
	}
	l = newLogger(category)
	loggers[category] = l
	return l
}

func newLogger(category Category) *Logger {
	loadSettings()

	l := &Logger{
		category: category,
		enabled:  cfg.Categories[string(category)],
		debug:    cfg.Debug,
		jsonFmt:  cfg.JSONFormat,
	}
	if !l.enabled {
		return l
	}

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		l.enabled = false
		return l
	}
	name := fmt.Sprintf("%s_%s.log", time.Now().Format("2006-01-02"), category)
	f, err := os.OpenFile(filepath.Join(logDir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		l.enabled = false
		return l
	}
	l.out = &output{file: f}
	return l
}

// WithField returns a derived logger that stamps every line with key=value.
func (l *Logger) WithField(key, value string) *Logger {
	if !l.enabled {
		return l
	}
	fields := make(map[string]string, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	fields[key] = value
	return &Logger{
		category: l.category,
		enabled:  l.enabled,
		debug:    l.debug,
		jsonFmt:  l.jsonFmt,
		fields:   fields,
		out:      l.out,
	}
}

func (l *Logger) write(level, format string, args ...interface{}) {
	if !l.enabled || l.out == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	var line string
	if l.jsonFmt {
		b, err := json.Marshal(entry{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Level:     level,
			Category:  string(l.category),
			Message:   msg,
			Fields:    l.fields,
		})
		if err != nil {
			return
		}
		line = string(b)
	} else {
		var sb strings.Builder
		sb.WriteString(time.Now().Format("2006-01-02 15:04:05.000"))
		sb.WriteString(" [")
		sb.WriteString(level)
		sb.WriteString("] ")
		for k, v := range l.fields {
			sb.WriteString(k)
			sb.WriteString("=")
			sb.WriteString(v)
			sb.WriteString(" ")
		}
		sb.WriteString(msg)
		line = sb.String()
	}

	l.out.writeLine(line)
}

// Debug logs only when debug mode is on for this process.
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.debug {
		return
	}
	l.write("DEBUG", format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.write("INFO", format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.write("WARN", format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.write("ERROR", format, args...)
}

// Enabled reports whether this category writes anywhere.
func (l *Logger) Enabled() bool { return l.enabled }

// CloseAll flushes and closes every open category file. Call on shutdown.
func CloseAll() {
	mu.Lock()
	defer mu.Unlock()
	for _, l := range loggers {
		if l.out != nil {
			l.out.close()
		}
		l.enabled = false
	}
	loggers = make(map[Category]*Logger)
}

// Timer measures one operation and logs its duration on Stop.
type Timer struct {
	category  Category
	operation string
	start     time.Time
}

// StartTimer begins timing an operation within a category.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, operation: operation, start: time.Now()}
}

// Stop logs the elapsed time at debug level.
func (t *Timer) Stop() {
	Get(t.category).Debug("%s took %s", t.operation, time.Since(t.start).Round(time.Microsecond))
}

// StopWithThreshold logs at warn level when elapsed exceeds the threshold,
// otherwise at debug.
func (t *Timer) StopWithThreshold(threshold time.Duration) {
	elapsed := time.Since(t.start)
	l := Get(t.category)
	if elapsed > threshold {
		l.Warn("%s took %s (threshold %s)", t.operation, elapsed.Round(time.Microsecond), threshold)
		return
	}
	l.Debug("%s took %s", t.operation, elapsed.Round(time.Microsecond))
}

// Per-category convenience functions for the hot paths. These keep call
// sites short: logging.Store("upserted %s", key) instead of a Get chain.

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func BootError(format string, args ...interface{}) { Get(CategoryBoot).Error(format, args...) }

func Store(format string, args ...interface{})      { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }
func StoreWarn(format string, args ...interface{})  { Get(CategoryStore).Warn(format, args...) }
func StoreError(format string, args ...interface{}) { Get(CategoryStore).Error(format, args...) }

func Recall(format string, args ...interface{})      { Get(CategoryRecall).Info(format, args...) }
func RecallDebug(format string, args ...interface{}) { Get(CategoryRecall).Debug(format, args...) }
func RecallWarn(format string, args ...interface{})  { Get(CategoryRecall).Warn(format, args...) }

func Parser(format string, args ...interface{})      { Get(CategoryParser).Info(format, args...) }
func ParserDebug(format string, args ...interface{}) { Get(CategoryParser).Debug(format, args...) }
func ParserWarn(format string, args ...interface{})  { Get(CategoryParser).Warn(format, args...) }
func ParserError(format string, args ...interface{}) { Get(CategoryParser).Error(format, args...) }

func Writer(format string, args ...interface{})      { Get(CategoryWriter).Info(format, args...) }
func WriterDebug(format string, args ...interface{}) { Get(CategoryWriter).Debug(format, args...) }
func WriterWarn(format string, args ...interface{})  { Get(CategoryWriter).Warn(format, args...) }
func WriterError(format string, args ...interface{}) { Get(CategoryWriter).Error(format, args...) }

func Engine(format string, args ...interface{})      { Get(CategoryEngine).Info(format, args...) }
func EngineDebug(format string, args ...interface{}) { Get(CategoryEngine).Debug(format, args...) }
func EngineWarn(format string, args ...interface{})  { Get(CategoryEngine).Warn(format, args...) }

func Sync(format string, args ...interface{})      { Get(CategorySync).Info(format, args...) }
func SyncDebug(format string, args ...interface{}) { Get(CategorySync).Debug(format, args...) }
func SyncWarn(format string, args ...interface{})  { Get(CategorySync).Warn(format, args...) }
func SyncError(format string, args ...interface{}) { Get(CategorySync).Error(format, args...) }
