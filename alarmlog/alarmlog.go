// Package alarmlog implements the alarm engine's append-only baled XML
// log (spec §4.7). The on-disk file is always a well-formed XML
// document rooted at <alarm-log>; after every write the file ends with
// "</alarm-log>\r\n" so a process that dies mid-write leaves behind a
// file that still parses.
package alarmlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/campbell-alarms/engine/internal/clock"
	internalerrors "github.com/campbell-alarms/engine/internal/errors"
	"github.com/campbell-alarms/engine/internal/metrics"
)

const (
	openTag  = "<alarm-log>\r\n"
	closeTag = "</alarm-log>\r\n"
)

// Config controls where the log lives and when it bales (rotates).
type Config struct {
	// Directory is the folder the log file and its bales live in.
	Directory string
	// BaseFileName is the active file's name, e.g. "alarms.log". Bales
	// are named "<base>.<N>.<ext>" with the same extension.
	BaseFileName string
	// MaxSize bales the active file once it reaches this many bytes.
	// Zero disables size-based baling.
	MaxSize int64
	// MaxInterval bales the active file once it has been open this
	// long. Zero disables interval-based baling.
	MaxInterval time.Duration
	// Count is the number of bale files retained; the oldest is
	// dropped once this is exceeded. Zero means unbounded.
	Count int
	// Enabled gates whether WriteEvent does anything at all; a
	// disabled logger silently discards events (spec §4.7 "log" is
	// optional configuration).
	Enabled bool
}

// Logger owns the active bale file and performs the envelope
// maintenance and rotation described in spec §4.7.
type Logger struct {
	cfg    Config
	clock  clock.Clock
	metric *metrics.Metrics

	mu        sync.Mutex
	file      *os.File
	size      int64
	openedAt  time.Time
	closeTagPos int64
}

// New constructs a Logger. The active file is opened lazily on the
// first WriteEvent call so a disabled logger never touches the
// filesystem. c and m may be nil, in which case the system clock and
// no metrics are used.
func New(cfg Config, c clock.Clock, m *metrics.Metrics) *Logger {
	if c == nil {
		c = clock.System{}
	}
	return &Logger{cfg: cfg, clock: c, metric: m}
}

// WriteEvent first bales the active file if it has grown too large or
// too old, then appends fragment (a self-closed XML element, already
// rendered by the caller) inside the log envelope, rewriting the
// closing tag so the file remains valid XML.
func (l *Logger) WriteEvent(fragment []byte) error {
	if !l.cfg.Enabled {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		if err := l.openOutput(); err != nil {
			return err
		}
	}
	if err := l.maybeBaleLocked(); err != nil {
		return err
	}
	if l.file == nil {
		if err := l.openOutput(); err != nil {
			return err
		}
	}

	if _, err := l.file.Seek(l.closeTagPos, 0); err != nil {
		return internalerrors.Wrap(internalerrors.ErrCodeLoggerIO, "seeking alarm log", err)
	}
	if _, err := l.file.Write(fragment); err != nil {
		return internalerrors.Wrap(internalerrors.ErrCodeLoggerIO, "writing alarm log fragment", err)
	}
	l.closeTagPos += int64(len(fragment))
	if _, err := l.file.Write([]byte(closeTag)); err != nil {
		return internalerrors.Wrap(internalerrors.ErrCodeLoggerIO, "writing alarm log envelope", err)
	}
	l.size = l.closeTagPos + int64(len(closeTag))
	return l.file.Sync()
}

// Close flushes and releases the active file handle.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *Logger) activePath() string {
	return filepath.Join(l.cfg.Directory, l.cfg.BaseFileName)
}

// openOutput opens (creating if needed) the active file and recovers
// its envelope: an empty file gets a fresh "<alarm-log>\r\n</alarm-log>\r\n"
// skeleton; a non-empty file is scanned backward for the literal
// "</alarm-log>" token and the write position truncated to just before
// it, discarding anything after (spec §4.7 "scan from the end of the
// file backward").
func (l *Logger) openOutput() error {
	if err := os.MkdirAll(l.cfg.Directory, 0o755); err != nil {
		return internalerrors.Wrap(internalerrors.ErrCodeLoggerIO, "creating alarm log directory", err)
	}
	path := l.activePath()
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return internalerrors.Wrap(internalerrors.ErrCodeLoggerIO, "opening alarm log", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return internalerrors.Wrap(internalerrors.ErrCodeLoggerIO, "statting alarm log", err)
	}

	if info.Size() == 0 {
		return l.initEmptyEnvelope(f)
	}

	pos, err := findCloseTagBackward(f, info.Size())
	if err != nil {
		// No valid envelope anywhere in the file (e.g. truncated
		// mid-write): treat it as if it were empty rather than
		// refusing to open the logger at all (spec §4.7/§8 scenario 6).
		if truncErr := f.Truncate(0); truncErr != nil {
			f.Close()
			return internalerrors.Wrap(internalerrors.ErrCodeLoggerIO, "discarding unreadable alarm log", truncErr)
		}
		if _, seekErr := f.Seek(0, 0); seekErr != nil {
			f.Close()
			return internalerrors.Wrap(internalerrors.ErrCodeLoggerIO, "seeking alarm log", seekErr)
		}
		return l.initEmptyEnvelope(f)
	}
	if err := f.Truncate(pos); err != nil {
		f.Close()
		return internalerrors.Wrap(internalerrors.ErrCodeLoggerIO, "truncating alarm log after envelope", err)
	}
	if _, err := f.WriteAt([]byte(closeTag), pos); err != nil {
		f.Close()
		return internalerrors.Wrap(internalerrors.ErrCodeLoggerIO, "rewriting alarm log envelope", err)
	}
	l.file = f
	l.closeTagPos = pos
	l.size = pos + int64(len(closeTag))
	l.openedAt = fileModTime(info, l.clock.Now())
	return nil
}

// initEmptyEnvelope writes a fresh "<alarm-log>\r\n</alarm-log>\r\n"
// skeleton into f (already truncated/empty at offset 0) and installs
// it as the logger's active file.
func (l *Logger) initEmptyEnvelope(f *os.File) error {
	if _, err := f.WriteString(openTag); err != nil {
		f.Close()
		return internalerrors.Wrap(internalerrors.ErrCodeLoggerIO, "initializing alarm log envelope", err)
	}
	closePos, err := f.Seek(0, 1)
	if err != nil {
		f.Close()
		return internalerrors.Wrap(internalerrors.ErrCodeLoggerIO, "seeking alarm log", err)
	}
	if _, err := f.WriteString(closeTag); err != nil {
		f.Close()
		return internalerrors.Wrap(internalerrors.ErrCodeLoggerIO, "initializing alarm log envelope", err)
	}
	l.file = f
	l.closeTagPos = closePos
	l.size = closePos + int64(len(closeTag))
	l.openedAt = l.clock.Now()
	return nil
}

// findCloseTagBackward scans a file for the rightmost occurrence of
// "</alarm-log>" and returns its byte offset, mirroring
// search_file_backward in the original AlarmLogger::open_output.
func findCloseTagBackward(f *os.File, size int64) (int64, error) {
	const chunkSize = 4096
	needle := []byte(closeTag[:len(closeTag)-2]) // without trailing \r\n
	buf := make([]byte, 0, chunkSize+int64Min(int64(len(needle)), chunkSize))

	var tail []byte
	for offset := size; offset > 0; {
		readSize := int64(chunkSize)
		if offset < readSize {
			readSize = offset
		}
		offset -= readSize
		chunk := make([]byte, readSize)
		if _, err := f.ReadAt(chunk, offset); err != nil {
			return 0, internalerrors.Wrap(internalerrors.ErrCodeLoggerIO, "scanning alarm log for envelope", err)
		}
		buf = append(chunk, tail...)
		if idx := lastIndex(buf, needle); idx >= 0 {
			return offset + int64(idx), nil
		}
		// keep enough of the chunk's head around in case the needle
		// straddles this chunk boundary and the previous one
		keep := len(needle) - 1
		if keep > len(buf) {
			keep = len(buf)
		}
		tail = append([]byte(nil), buf[:keep]...)
	}
	return 0, internalerrors.New(internalerrors.ErrCodeConfigMalformed, fmt.Sprintf("alarm log %q has no </alarm-log> envelope", needle))
}

func lastIndex(haystack, needle []byte) int {
	for i := len(haystack) - len(needle); i >= 0; i-- {
		match := true
		for j := 0; j < len(needle); j++ {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func int64Min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func fileModTime(info os.FileInfo, fallback time.Time) time.Time {
	if info == nil {
		return fallback
	}
	return info.ModTime()
}

// maybeBaleLocked rotates the active file to a numbered bale when it
// has grown past MaxSize or stayed open past MaxInterval, then drops
// the oldest bale once Count is exceeded. Caller must hold l.mu.
func (l *Logger) maybeBaleLocked() error {
	if l.file == nil {
		return nil
	}
	exceededSize := l.cfg.MaxSize > 0 && l.size >= l.cfg.MaxSize
	exceededAge := l.cfg.MaxInterval > 0 && l.clock.Now().Sub(l.openedAt) >= l.cfg.MaxInterval
	if !exceededSize && !exceededAge {
		return nil
	}
	if err := l.file.Close(); err != nil {
		return internalerrors.Wrap(internalerrors.ErrCodeLoggerIO, "closing alarm log before baling", err)
	}
	l.file = nil

	if err := l.rotateBales(); err != nil {
		return err
	}
	if l.metric != nil {
		l.metric.RecordLogBaleRotation()
	}
	return nil
}

// rotateBales shifts "<base>" to "<base>.1.<ext>", ".1" to ".2", and so
// on, dropping the bale beyond Count.
func (l *Logger) rotateBales() error {
	ext := filepath.Ext(l.cfg.BaseFileName)
	stem := l.cfg.BaseFileName[:len(l.cfg.BaseFileName)-len(ext)]

	balePath := func(n int) string {
		return filepath.Join(l.cfg.Directory, fmt.Sprintf("%s.%d%s", stem, n, ext))
	}

	count := l.cfg.Count
	if count > 0 {
		oldest := balePath(count)
		if _, err := os.Stat(oldest); err == nil {
			if err := os.Remove(oldest); err != nil {
				return internalerrors.Wrap(internalerrors.ErrCodeLoggerIO, "dropping oldest alarm log bale", err)
			}
		}
	} else {
		// Unbounded: make room above the highest existing bale.
		count = 1
		for {
			if _, err := os.Stat(balePath(count)); err != nil {
				break
			}
			count++
		}
	}
	for n := count - 1; n >= 1; n-- {
		from := balePath(n)
		to := balePath(n + 1)
		if _, err := os.Stat(from); err == nil {
			if err := os.Rename(from, to); err != nil {
				return internalerrors.Wrap(internalerrors.ErrCodeLoggerIO, "shifting alarm log bales", err)
			}
		}
	}

	if err := os.Rename(l.activePath(), balePath(1)); err != nil {
		return internalerrors.Wrap(internalerrors.ErrCodeLoggerIO, "baling alarm log", err)
	}
	return nil
}
