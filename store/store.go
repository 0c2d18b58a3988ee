package store

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/Riotcoke123/IP2Node/models"
)

// Store is the durable record collection backing the processing cycle. The
// whole collection lives in a single pretty-printed JSON file so it stays
// inspectable with a text editor.
//
// A single mutex serialises all access. The lock is only ever held for the
// duration of local file I/O, never across a network call.
type Store struct {
	path string
	mu   sync.Mutex
}

func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the canonical store file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the persisted records in insertion order. A missing or blank
// file yields an empty slice. A file that exists but does not parse is
// treated as corrupt: logged and ignored, so a bad file never takes the
// caller down.
func (s *Store) Load() []models.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithFields(log.Fields{
				"path":  s.path,
				"error": err,
			}).Error("Failed to read store file")
		}
		return []models.Record{}
	}

	if strings.TrimSpace(string(data)) == "" {
		return []models.Record{}
	}

	var records []models.Record
	if err := json.Unmarshal(data, &records); err != nil {
		log.WithFields(log.Fields{
			"path":  s.path,
			"error": err,
		}).Error("Store file is corrupt, treating as empty")
		return []models.Record{}
	}

	if records == nil {
		records = []models.Record{}
	}
	return records
}

// Save replaces the persisted store with the given records. The content is
// first written to a side file and then moved into place with a single
// rename, so a reader or a crash never observes a half-written document.
func (s *Store) Save(records []models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write store temp file: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace store file: %w", err)
	}

	log.WithFields(log.Fields{
		"path":  s.path,
		"count": len(records),
	}).Info("Saved store")

	return nil
}
