package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"mediapreview/models"
)

const statsFileName = "mediapreview.json"

var counters struct {
	mu   sync.Mutex
	data models.Stats
	path string
	// writes serialises persistence so an older snapshot never lands after
	// a newer one.
	writes  sync.Mutex
	pending sync.WaitGroup
}

// InitStats loads counters from dir, creating the file with zeros when it
// does not exist yet. An empty dir keeps statistics in memory only.
func InitStats(dir string) {
	counters.mu.Lock()
	defer counters.mu.Unlock()

	counters.data = models.Stats{}
	counters.path = ""
	if dir == "" {
		return
	}
	filePath := filepath.Join(dir, statsFileName)
	counters.path = filePath

	raw, err := os.ReadFile(filePath)
	switch {
	case os.IsNotExist(err):
		if err := writeStats(filePath, models.Stats{}); err != nil {
			log.Printf("stats: could not create %s: %v", filePath, err)
		}
	case err != nil:
		log.Printf("stats: could not read %s: %v", filePath, err)
	default:
		if err := json.Unmarshal(raw, &counters.data); err != nil {
			log.Printf("stats: could not parse %s, starting from zero: %v", filePath, err)
			counters.data = models.Stats{}
		}
	}
}

// RecordDownload counts one complete raw transfer of size bytes.
func RecordDownload(size int64) {
	update(func(s *models.Stats) {
		s.RawDownloads++
		s.RawBytes += size
	})
}

// RecordLinkCopied counts a direct link handed to a clipboard.
func RecordLinkCopied() {
	update(func(s *models.Stats) { s.LinksCopied++ })
}

// GetStats returns the current counters.
func GetStats() models.Stats {
	counters.mu.Lock()
	defer counters.mu.Unlock()
	return counters.data
}

func update(fn func(*models.Stats)) {
	counters.mu.Lock()
	fn(&counters.data)
	snap, path := counters.data, counters.path
	counters.mu.Unlock()

	if path == "" {
		return
	}
	counters.pending.Add(1)
	go func() {
		defer counters.pending.Done()
		counters.writes.Lock()
		defer counters.writes.Unlock()
		// Re-read so a write queued behind a newer one stores the newest.
		counters.mu.Lock()
		if counters.path == path {
			snap = counters.data
		}
		counters.mu.Unlock()
		if err := writeStats(path, snap); err != nil {
			log.Printf("stats: %v", err)
		}
	}()
}

// FlushStats waits for queued writes to reach disk.
func FlushStats() {
	counters.pending.Wait()
}

// writeStats replaces filePath atomically through a temp file and rename.
func writeStats(filePath string, data models.Stats) error {
	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".mediapreview-stats-*.tmp")
	if err != nil {
		return fmt.Errorf("could not create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if err := json.NewEncoder(tmp).Encode(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("could not write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("could not close temp file: %w", err)
	}
	if err := os.Rename(tmpName, filePath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("could not rename %s to %s: %w", tmpName, filePath, err)
	}
	return nil
}
