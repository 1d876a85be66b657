// Package sdlog appends signal snapshots to CSV files on the SD card.
//
// Rows are formatted into a memory buffer on the main loop; the buffer is
// only written out by Flush, which the scheduler calls in background
// windows so card latency never stalls input or rendering. A new file is
// started on every boot and whenever the current one reaches RotateBytes.
package sdlog

import (
	"errors"
	"io"
	"log/slog"
	"sort"
	"strconv"

	"github.com/harveysanders/miatadash/telemetry/signal"
)

const (
	// RotateBytes is the size at which a new file is started.
	RotateBytes = 100 << 20
	// DefaultIntervalMs is the default row period (10 Hz).
	DefaultIntervalMs = 100
	// BufferSize bounds the pending row buffer.
	BufferSize = 8 << 10

	// maxRowLen bounds one formatted row.
	maxRowLen = 192

	namePrefix = "LOG"
	nameSuffix = ".CSV"
)

var ErrNoCard = errors.New("sdlog: no filesystem")

// FS is the filesystem surface the logger needs.
type FS interface {
	// Create creates or truncates name for writing.
	Create(name string) (io.WriteCloser, error)
	// List returns the names in the log directory.
	List() ([]string, error)
}

// State is the logger state.
type State uint8

const (
	Stopped State = iota
	Running
	Paused
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	}
	return "stopped"
}

// Config configures a Logger.
type Config struct {
	FS     FS
	Source signal.Reader
	Logger *slog.Logger
	// IntervalMs is the row period. Defaults to DefaultIntervalMs.
	IntervalMs uint32
	// RotateBytes overrides the rotation size.
	RotateBytes int64
}

// Stats are the logger counters.
type Stats struct {
	Rows        uint32
	Dropped     uint32
	WriteErrors uint32
	Files       uint32
}

// Logger is the CSV logger. All methods run on the main loop.
type Logger struct {
	cfg Config
	log *slog.Logger

	state   State
	file    io.WriteCloser
	name    string
	next    int
	written int64
	lastRow uint32
	hasRow  bool

	buf      []byte
	reported bool
	stats    Stats
}

// New returns a stopped logger.
func New(cfg Config) *Logger {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(127)}))
	}
	if cfg.IntervalMs == 0 {
		cfg.IntervalMs = DefaultIntervalMs
	}
	if cfg.RotateBytes == 0 {
		cfg.RotateBytes = RotateBytes
	}
	return &Logger{cfg: cfg, log: logger, buf: make([]byte, 0, BufferSize)}
}

// FileName returns the name of log file n.
func FileName(n int) string {
	b := make([]byte, 0, 12)
	b = append(b, namePrefix...)
	s := strconv.Itoa(n)
	for i := len(s); i < 5; i++ {
		b = append(b, '0')
	}
	b = append(b, s...)
	b = append(b, nameSuffix...)
	return string(b)
}

func parseName(name string) (int, bool) {
	if len(name) != len(namePrefix)+5+len(nameSuffix) ||
		name[:len(namePrefix)] != namePrefix || name[len(name)-len(nameSuffix):] != nameSuffix {
		return 0, false
	}
	n, err := strconv.Atoi(name[len(namePrefix) : len(namePrefix)+5])
	return n, err == nil
}

// Files returns the log files on the card in order.
func (l *Logger) Files() ([]string, error) {
	if l.cfg.FS == nil {
		return nil, ErrNoCard
	}
	names, err := l.cfg.FS.List()
	if err != nil {
		return nil, err
	}
	var logs []string
	for _, n := range names {
		if _, ok := parseName(n); ok {
			logs = append(logs, n)
		}
	}
	sort.Strings(logs)
	return logs, nil
}

// Start opens a new log file and begins sampling. Starting a running
// logger is a no-op.
func (l *Logger) Start(nowMs uint32) error {
	if l.state == Running {
		return nil
	}
	if l.state == Paused {
		l.state = Running
		return nil
	}
	if err := l.open(); err != nil {
		return err
	}
	l.state = Running
	l.hasRow = false
	l.log.Info("sdlog:started", slog.String("file", l.name))
	return nil
}

// Pause stops sampling but keeps the file open.
func (l *Logger) Pause() {
	if l.state == Running {
		l.state = Paused
	}
}

// Resume continues a paused log.
func (l *Logger) Resume() {
	if l.state == Paused {
		l.state = Running
	}
}

// Stop flushes and closes the current file.
func (l *Logger) Stop() error {
	if l.state == Stopped {
		return nil
	}
	err := l.Flush()
	l.closeFile()
	l.state = Stopped
	l.log.Info("sdlog:stopped", slog.Uint64("rows", uint64(l.stats.Rows)))
	return err
}

// State returns the logger state.
func (l *Logger) State() State { return l.state }

// Current returns the name of the open file, if any.
func (l *Logger) Current() string { return l.name }

// Stats returns a copy of the counters.
func (l *Logger) Stats() Stats { return l.stats }

// Sample appends a row if the logger is running and a row is due. Rows
// that do not fit the buffer are dropped and counted.
func (l *Logger) Sample(nowMs uint32) {
	if l.state != Running || l.cfg.Source == nil {
		return
	}
	if l.hasRow && nowMs-l.lastRow < l.cfg.IntervalMs {
		return
	}
	s, ok := l.cfg.Source.Load()
	if !ok {
		return
	}
	l.lastRow, l.hasRow = nowMs, true
	if len(l.buf)+maxRowLen > cap(l.buf) {
		l.stats.Dropped++
		return
	}
	l.buf = AppendRow(l.buf, nowMs, &s)
	l.stats.Rows++
}

// Pending returns the number of buffered bytes.
func (l *Logger) Pending() int { return len(l.buf) }

// Flush writes buffered rows. A write error drops the buffer, closes the
// file and starts a new file at the next flush.
func (l *Logger) Flush() error {
	if len(l.buf) == 0 {
		return nil
	}
	if l.file == nil {
		if err := l.open(); err != nil {
			l.buf = l.buf[:0]
			return err
		}
	}
	n, err := l.file.Write(l.buf)
	l.written += int64(n)
	l.buf = l.buf[:0]
	if err != nil {
		l.stats.WriteErrors++
		if !l.reported {
			l.reported = true
			l.log.Error("sdlog:write-failed", slog.String("file", l.name), slog.String("err", err.Error()))
		}
		l.closeFile()
		return err
	}
	l.reported = false
	if l.written >= l.cfg.RotateBytes {
		l.closeFile()
		return l.open()
	}
	return nil
}

func (l *Logger) open() error {
	if l.cfg.FS == nil {
		return ErrNoCard
	}
	if l.next == 0 {
		files, err := l.Files()
		if err != nil {
			return errors.New("sdlog list: " + err.Error())
		}
		l.next = 1
		if len(files) > 0 {
			last, _ := parseName(files[len(files)-1])
			l.next = last + 1
		}
	}
	name := FileName(l.next)
	f, err := l.cfg.FS.Create(name)
	if err != nil {
		return errors.New("sdlog create " + name + ": " + err.Error())
	}
	l.next++
	hdr := AppendHeader(make([]byte, 0, 128))
	if _, err := f.Write(hdr); err != nil {
		f.Close()
		return errors.New("sdlog header: " + err.Error())
	}
	l.file, l.name, l.written = f, name, int64(len(hdr))
	l.stats.Files++
	return nil
}

func (l *Logger) closeFile() {
	if l.file == nil {
		return
	}
	if err := l.file.Close(); err != nil {
		l.log.Warn("sdlog:close-failed", slog.String("file", l.name), slog.String("err", err.Error()))
	}
	l.file, l.name = nil, ""
}
