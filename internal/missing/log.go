// Package missing maintains the append-only log of keys whose XML never
// appeared, and turns that log back into a retry list.
//
// Each line has the form
//
//	2024-03-01 09:15:42 - NFe: 35230612345678000190550010000012341000012345
//
// The log is never truncated by nfefetch: it accumulates across runs and
// batch lists until the user removes it.
package missing

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/roach88/nfefetch/internal/clock"
	"github.com/roach88/nfefetch/internal/model"
)

// Delimiter separates the timestamp from the key on every line.
const Delimiter = " - NFe: "

// TimestampLayout is the line timestamp format.
const TimestampLayout = "2006-01-02 15:04:05"

// DefaultFileName is the log's file name inside the output directory.
const DefaultFileName = "XMLs_Nao_Encontrados.txt"

// FormatLine renders one log line without the trailing newline.
func FormatLine(at time.Time, key model.DocumentKey) string {
	return at.Format(TimestampLayout) + Delimiter + key.String()
}

// Log appends missing keys to a text file.
type Log struct {
	mu     sync.Mutex
	fs     afero.Fs
	path   string
	clock  clock.Clock
	logger *slog.Logger
}

// NewLog returns a log writing to path on fs.
func NewLog(fs afero.Fs, path string, clk clock.Clock, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Log{fs: fs, path: path, clock: clk, logger: logger}
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

// Record appends one line for key, creating the file if needed.
func (l *Log) Record(key model.DocumentKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "." {
		if err := l.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create missing-log directory: %w", err)
		}
	}
	f, err := l.fs.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open missing log: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, FormatLine(l.clock.Now(), key)); err != nil {
		return fmt.Errorf("append missing log: %w", err)
	}
	l.logger.Info("key logged as missing", "key", key.Short(), "file", l.path)
	return nil
}

// Keys reads the log back as a retry list. A missing file yields an
// empty list.
func (l *Log) Keys() ([]model.DocumentKey, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := l.fs.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open missing log: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Lines counts the lines currently in the log.
func (l *Log) Lines() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := afero.ReadFile(l.fs, l.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strings.Count(string(data), "\n"), nil
}

// Parse extracts keys from log text. Only lines containing Delimiter are
// considered, the last whitespace-separated token after it must be a
// 44-digit key, and duplicates are dropped keeping the first occurrence.
func Parse(r io.Reader) ([]model.DocumentKey, error) {
	var keys []model.DocumentKey
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		idx := strings.Index(line, Delimiter)
		if idx < 0 {
			continue
		}
		fields := strings.Fields(line[idx+len(Delimiter):])
		if len(fields) == 0 {
			continue
		}
		token := fields[len(fields)-1]
		if !model.IsValidKey(token) {
			continue
		}
		keys = append(keys, model.DocumentKey(token))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read missing log: %w", err)
	}
	return model.Dedupe(keys), nil
}
