package asynclogger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/processlog/eventlog/pkg/models"
)

// ReplayScanner rereads spilled NDJSON files from a spillover directory
// and decodes their events, for an optional replay mechanism that
// re-enqueues spilled events once conditions improve. It only reads;
// callers decide when to delete or archive processed files.
type ReplayScanner struct {
	dir string
}

// NewReplayScanner opens a scanner over dir (the same path passed as
// Config.SpilloverPath).
func NewReplayScanner(dir string) *ReplayScanner {
	return &ReplayScanner{dir: dir}
}

// Files returns the spill files currently present, oldest name first
// (the dated filename format sorts chronologically as a string).
func (r *ReplayScanner) Files() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("read spillover directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if filepath.Ext(e.Name()) == ".ndjson" {
			files = append(files, filepath.Join(r.dir, e.Name()))
		}
	}
	return files, nil
}

// ReadFile decodes every event in one spill file.
func (r *ReplayScanner) ReadFile(path string) ([]*models.EventInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open spill file: %w", err)
	}
	defer f.Close()

	var events []*models.EventInput
	dec := json.NewDecoder(bufio.NewReader(f))
	for dec.More() {
		var event models.EventInput
		if err := dec.Decode(&event); err != nil {
			return events, fmt.Errorf("decode spilled event in %s: %w", path, err)
		}
		events = append(events, &event)
	}
	return events, nil
}

// Replay re-enqueues every event found across all spill files into l,
// skipping replay entirely while the circuit breaker is open (per the
// reference policy: only replay when the breaker is Closed). It returns
// the set of files it fully drained so the caller can remove them.
func (l *AsyncLogger) Replay(scanner *ReplayScanner) (drained []string, err error) {
	if l.breaker.IsOpen() {
		return nil, nil
	}

	files, err := scanner.Files()
	if err != nil {
		return nil, err
	}

	for _, path := range files {
		events, readErr := scanner.ReadFile(path)
		if readErr != nil && len(events) == 0 {
			continue
		}

		allQueued := true
		for _, event := range events {
			if !l.Log(event) {
				allQueued = false
			}
		}
		if allQueued && readErr == nil {
			drained = append(drained, path)
		}
	}
	return drained, nil
}
