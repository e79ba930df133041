package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"wattson/internal/metrics"
	"wattson/logger"
	"wattson/models"
)

// ErrBusy is returned by With when the guard could not be acquired before
// the caller's deadline. Callers treat it as a soft failure and retry on
// their next trigger.
var ErrBusy = errors.New("store guard busy")

const (
	dailyDir   = "daily"
	archiveDir = "archive"

	debugFile        = "debug.json"
	lastFetchDayFile = "last_fetch_day.txt"
)

// Store serializes all access to the shared persistent volume. Every read
// and write against the volume must happen inside a With callback; the
// Volume handed to the callback is only valid until the callback returns.
type Store struct {
	baseDir string
	guard   chan struct{}
	log     *logger.Log
}

// Volume exposes the file primitives available while the guard is held. It
// deliberately has no way back into With, so a callback cannot deadlock by
// re-acquiring the guard it already holds.
type Volume struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{
		baseDir: baseDir,
		guard:   make(chan struct{}, 1),
		log:     logger.GetLogger(),
	}
}

// Init creates the volume directory tree.
func (s *Store) Init() error {
	return s.With(5*time.Second, func(v *Volume) error {
		if err := v.MkdirAll(dailyDir); err != nil {
			return err
		}
		return v.MkdirAll(archiveDir)
	})
}

// With acquires exclusive access to the volume for the duration of fn.
// Acquisition waits at most timeout and fails with ErrBusy; fn errors are
// propagated as-is and the guard is always released.
func (s *Store) With(timeout time.Duration, fn func(*Volume) error) error {
	start := time.Now()
	select {
	case s.guard <- struct{}{}:
	default:
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case s.guard <- struct{}{}:
		case <-timer.C:
			metrics.StoreBusyTimeouts.Inc()
			return ErrBusy
		}
	}
	metrics.StoreGuardWait.Observe(time.Since(start).Seconds())
	defer func() { <-s.guard }()

	return fn(&Volume{baseDir: s.baseDir})
}

// BaseDir returns the root of the persistent volume.
func (s *Store) BaseDir() string {
	return s.baseDir
}

/////////////////////////////////////////////////////////////////////////////
///////////////////////////// LAYOUT HELPERS ////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// RawDayPath is the volume-relative path of one raw day document.
func RawDayPath(d models.Date) string {
	return filepath.Join(dailyDir, d.String()+".json")
}

// ProcessedDayPath is the volume-relative path of one priced day record.
// Its presence is the "day is done" marker for the pipeline.
func ProcessedDayPath(d models.Date) string {
	return filepath.Join(dailyDir, d.String()+"_processed.json")
}

// ArchivePath is the volume-relative path of a closed-period summary,
// named by the literal inclusive start and end dates.
func ArchivePath(start, end models.Date) string {
	return filepath.Join(archiveDir, fmt.Sprintf("%s_%s_summary.json", start, end))
}

// DebugPath is the advisory diagnostics snapshot.
func DebugPath() string {
	return debugFile
}

// LastFetchDayPath holds the day-of-year of the last daily pipeline run.
func LastFetchDayPath() string {
	return lastFetchDayFile
}

/////////////////////////////////////////////////////////////////////////////
////////////////////////////// VOLUME PRIMITIVES ////////////////////////////
/////////////////////////////////////////////////////////////////////////////

func (v *Volume) abs(rel string) string {
	return filepath.Join(v.baseDir, rel)
}

func (v *Volume) Exists(rel string) bool {
	_, err := os.Stat(v.abs(rel))
	return err == nil
}

func (v *Volume) ReadFile(rel string) ([]byte, error) {
	data, err := os.ReadFile(v.abs(rel))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	return data, nil
}

// WriteFile writes the whole document atomically: a temp file in the target
// directory followed by a rename, so a power loss leaves either the previous
// content or the complete new one, never a partial file.
func (v *Volume) WriteFile(rel string, data []byte) error {
	target := v.abs(rel)
	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", rel, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp for %s: %w", rel, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp for %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", rel, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp for %s: %w", rel, err)
	}
	return nil
}

func (v *Volume) Append(rel string, data []byte) error {
	f, err := os.OpenFile(v.abs(rel), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s for append: %w", rel, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("append %s: %w", rel, err)
	}
	return nil
}

func (v *Volume) Remove(rel string) error {
	if err := os.Remove(v.abs(rel)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", rel, err)
	}
	return nil
}

func (v *Volume) List(rel string) ([]string, error) {
	entries, err := os.ReadDir(v.abs(rel))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", rel, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (v *Volume) MkdirAll(rel string) error {
	if err := os.MkdirAll(v.abs(rel), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", rel, err)
	}
	return nil
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadJSON decodes a stored document, tolerating a UTF-8 BOM prefix left by
// files that were edited off-device.
func (v *Volume) ReadJSON(rel string, out interface{}) error {
	data, err := v.ReadFile(rel)
	if err != nil {
		return err
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", rel, err)
	}
	return nil
}

func (v *Volume) WriteJSON(rel string, in interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s: %w", rel, err)
	}
	return v.WriteFile(rel, data)
}
