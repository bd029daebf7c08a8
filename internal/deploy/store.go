package deploy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/comfy-endpoints/comfy-endpoints/models"
)

const deploymentsFile = "deployments.json"

// Store persists deployment records as a JSON map keyed by app id. It backs
// the status, logs, and destroy commands between deploy invocations. Access
// is single-process; concurrent deploys of the same app are serialized by
// the operator, not by this store.
type Store struct {
	dir string
}

// NewStore opens the state directory, creating it when absent.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path() string {
	return filepath.Join(s.dir, deploymentsFile)
}

func (s *Store) load() (map[string]models.DeploymentRecord, error) {
	content, err := os.ReadFile(s.path())
	if os.IsNotExist(err) {
		return map[string]models.DeploymentRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read deployment state: %w", err)
	}

	records := map[string]models.DeploymentRecord{}
	if err := json.Unmarshal(content, &records); err != nil {
		return nil, fmt.Errorf("failed to parse deployment state %s: %w", s.path(), err)
	}
	return records, nil
}

func (s *Store) save(records map[string]models.DeploymentRecord) error {
	content, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode deployment state: %w", err)
	}

	// Write-then-rename so a crash never leaves a truncated state file.
	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("failed to write deployment state: %w", err)
	}
	return os.Rename(tmp, s.path())
}

// Put upserts the record for its app id.
func (s *Store) Put(record models.DeploymentRecord) error {
	records, err := s.load()
	if err != nil {
		return err
	}
	record.UpdatedAt = time.Now().UTC()
	records[record.AppID] = record
	return s.save(records)
}

// Get returns the record for an app id, or nil when none exists.
func (s *Store) Get(appID string) (*models.DeploymentRecord, error) {
	records, err := s.load()
	if err != nil {
		return nil, err
	}
	record, ok := records[appID]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

// List returns all records.
func (s *Store) List() ([]models.DeploymentRecord, error) {
	records, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]models.DeploymentRecord, 0, len(records))
	for _, record := range records {
		out = append(out, record)
	}
	return out, nil
}

// Delete removes the record for an app id, if present.
func (s *Store) Delete(appID string) error {
	records, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := records[appID]; !ok {
		return nil
	}
	delete(records, appID)
	return s.save(records)
}
