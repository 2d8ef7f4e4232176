package alarmlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/campbell-alarms/engine/internal/clock"
)

func TestWriteEventCreatesEnvelope(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Directory: dir, BaseFileName: "alarms.log", Enabled: true}, clock.NewFake(time.Now()), nil)

	if err := l.WriteEvent([]byte(`<trigger alarm-id="a1"/>` + "\r\n")); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	l.Close()

	data, err := os.ReadFile(filepath.Join(dir, "alarms.log"))
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	s := string(data)
	if !strings.HasPrefix(s, openTag) {
		t.Errorf("missing open tag: %q", s)
	}
	if !strings.HasSuffix(s, closeTag) {
		t.Errorf("missing close tag at end: %q", s)
	}
	if !strings.Contains(s, `<trigger alarm-id="a1"/>`) {
		t.Errorf("missing event fragment: %q", s)
	}
}

func TestWriteEventDisabledIsNoop(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Directory: dir, BaseFileName: "alarms.log", Enabled: false}, clock.NewFake(time.Now()), nil)
	if err := l.WriteEvent([]byte("<x/>\r\n")); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "alarms.log")); !os.IsNotExist(err) {
		t.Fatalf("expected no file to be created, stat err = %v", err)
	}
}

func TestWriteEventRecoversExistingEnvelope(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alarms.log")
	existing := openTag + `<trigger alarm-id="a0"/>` + "\r\n" + closeTag
	if err := os.WriteFile(path, []byte(existing), 0o644); err != nil {
		t.Fatalf("seeding log: %v", err)
	}

	l := New(Config{Directory: dir, BaseFileName: "alarms.log", Enabled: true}, clock.NewFake(time.Now()), nil)
	if err := l.WriteEvent([]byte(`<clear alarm-id="a0"/>` + "\r\n")); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `<trigger alarm-id="a0"/>`) {
		t.Errorf("lost prior event on recovery: %q", s)
	}
	if !strings.Contains(s, `<clear alarm-id="a0"/>`) {
		t.Errorf("missing newly appended event: %q", s)
	}
	if !strings.HasSuffix(s, closeTag) {
		t.Errorf("envelope not closed: %q", s)
	}
	if strings.Count(s, closeTag) != 1 {
		t.Errorf("expected exactly one close tag, got %q", s)
	}
}

func TestWriteEventTreatsTruncatedFileAsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alarms.log")
	// Mid-write truncation: an open tag and a partial fragment, no
	// close tag anywhere in the file.
	truncated := openTag + `<trigger alarm-id="a0"`
	if err := os.WriteFile(path, []byte(truncated), 0o644); err != nil {
		t.Fatalf("seeding log: %v", err)
	}

	l := New(Config{Directory: dir, BaseFileName: "alarms.log", Enabled: true}, clock.NewFake(time.Now()), nil)
	if err := l.WriteEvent([]byte(`<trigger alarm-id="a1"/>` + "\r\n")); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	s := string(data)
	if !strings.HasPrefix(s, openTag) {
		t.Errorf("missing fresh open tag: %q", s)
	}
	if !strings.HasSuffix(s, closeTag) {
		t.Errorf("missing close tag: %q", s)
	}
	if strings.Contains(s, `a0`) {
		t.Errorf("expected the unparseable prior content to be discarded, got: %q", s)
	}
	if !strings.Contains(s, `<trigger alarm-id="a1"/>`) {
		t.Errorf("missing newly appended event: %q", s)
	}
}

func TestWriteEventBalesOnSizeLimit(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{
		Directory:    dir,
		BaseFileName: "alarms.log",
		Enabled:      true,
		MaxSize:      1,
		Count:        2,
	}, clock.NewFake(time.Now()), nil)

	if err := l.WriteEvent([]byte(`<a/>` + "\r\n")); err != nil {
		t.Fatalf("first WriteEvent: %v", err)
	}
	if err := l.WriteEvent([]byte(`<b/>` + "\r\n")); err != nil {
		t.Fatalf("second WriteEvent: %v", err)
	}
	l.Close()

	if _, err := os.Stat(filepath.Join(dir, "alarms.1.log")); err != nil {
		t.Errorf("expected a bale file to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "alarms.log")); err != nil {
		t.Errorf("expected the active file to exist after rebaling: %v", err)
	}
}

func TestWriteEventBalesOnIntervalAndDropsOldest(t *testing.T) {
	dir := t.TempDir()
	fake := clock.NewFake(time.Now())
	l := New(Config{
		Directory:    dir,
		BaseFileName: "alarms.log",
		Enabled:      true,
		MaxInterval:  time.Minute,
		Count:        1,
	}, fake, nil)

	if err := l.WriteEvent([]byte(`<a/>` + "\r\n")); err != nil {
		t.Fatalf("first WriteEvent: %v", err)
	}
	fake.Advance(2 * time.Minute)
	if err := l.WriteEvent([]byte(`<b/>` + "\r\n")); err != nil {
		t.Fatalf("second WriteEvent: %v", err)
	}
	fake.Advance(2 * time.Minute)
	if err := l.WriteEvent([]byte(`<c/>` + "\r\n")); err != nil {
		t.Fatalf("third WriteEvent: %v", err)
	}
	l.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	// Count=1 means at most one retained bale plus the active file.
	if len(entries) > 2 {
		t.Errorf("expected at most 2 files after bounded rotation, got %d: %v", len(entries), entries)
	}
}
