package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Types int

const (
	Info Types = iota
	Error
	Warn
	Fatal
)

type Logger struct {
	tag string
	zl  zerolog.Logger
}

type manager struct {
	base    zerolog.Logger
	logFile *os.File
}

var (
	logManager *manager
	mu         sync.RWMutex
	once       sync.Once
)

// InitLogger configures the process logger. In dev mode output goes to view when it is
// set (the TUI debug console), otherwise to stderr. A non-empty logPath adds a
// timestamped log file. Only the first call has an effect.
func InitLogger(dev bool, logPath string, view io.Writer) {
	once.Do(func() {
		var writers []io.Writer
		level := zerolog.InfoLevel
		if dev {
			level = zerolog.DebugLevel
			out := view
			if out == nil {
				out = os.Stderr
			}
			writers = append(writers, zerolog.ConsoleWriter{Out: out, NoColor: view != nil, TimeFormat: time.TimeOnly})
		} else if view == nil {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
		}

		m := &manager{}
		if logPath != "" {
			timestamp := time.Now().Format("20060102_150405")
			fileName := fmt.Sprintf("relay_log_%s.log", timestamp)
			filePath := filepath.Join(logPath, fileName)

			file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err != nil {
				log.Fatalf("Failed to open log file: %s", err)
			}
			m.logFile = file
			writers = append(writers, file)
		}

		var out io.Writer = io.Discard
		if len(writers) > 0 {
			out = zerolog.MultiLevelWriter(writers...)
		}
		m.base = zerolog.New(out).Level(level).With().Timestamp().Logger()

		mu.Lock()
		logManager = m
		mu.Unlock()
	})
}

func current() *manager {
	mu.RLock()
	m := logManager
	mu.RUnlock()
	if m != nil {
		return m
	}
	return &manager{
		base: zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
			With().Timestamp().Logger(),
	}
}

func NewLogger(tag string) *Logger {
	return &Logger{
		tag: tag,
		zl:  current().base.With().Str("tag", tag).Logger(),
	}
}

// With returns a child logger carrying an extra structured field.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{
		tag: l.tag,
		zl:  l.zl.With().Interface(key, value).Logger(),
	}
}

// Zerolog exposes the underlying logger for call sites that want the event API.
func (l *Logger) Zerolog() *zerolog.Logger {
	return &l.zl
}

func (l *Logger) log(logTypes Types, v ...interface{}) {
	message := fmt.Sprint(v...)

	var ev *zerolog.Event
	switch logTypes {
	case Error:
		ev = l.zl.Error()
	case Warn:
		ev = l.zl.Warn()
	case Fatal:
		ev = l.zl.WithLevel(zerolog.FatalLevel)
	default:
		ev = l.zl.Info()
	}
	ev.Msg(message)
}

func (l *Logger) Debug(v ...interface{}) {
	l.zl.Debug().Msg(fmt.Sprint(v...))
}

func (l *Logger) Info(v ...interface{}) {
	l.log(Info, v...)
}

func (l *Logger) Error(v ...interface{}) {
	l.log(Error, v...)
}

func (l *Logger) Warn(v ...interface{}) {
	l.log(Warn, v...)
}

func (l *Logger) Fatal(v ...interface{}) {
	l.log(Fatal, v...)
	os.Exit(1)
}

// Close releases the log file, if any.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if logManager != nil && logManager.logFile != nil {
		logManager.logFile.Close()
		logManager.logFile = nil
	}
}
