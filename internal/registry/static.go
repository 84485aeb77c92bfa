package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/servicehub/vetted/internal/model"
)

// Entry seeds one document into a Static registry.
type Entry struct {
	DocumentType model.DocumentType
	Number       string
	HolderName   string
	Phone        string
}

// Static is an injected in-memory registry. It backs tests and local
// development, and stands in for a real government registry integration.
type Static struct {
	mu      sync.RWMutex
	records map[string]model.IdentityRecord
}

// NewStatic creates a registry seeded with the given entries.
func NewStatic(entries ...Entry) *Static {
	s := &Static{records: make(map[string]model.IdentityRecord)}
	for _, e := range entries {
		s.Add(e)
	}
	return s
}

// Add inserts or replaces a document entry.
func (s *Static) Add(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key(e.DocumentType, e.Number)] = model.IdentityRecord{
		DocumentType:   e.DocumentType,
		DocumentNumber: e.Number,
		FormatValid:    true,
		Exists:         true,
		HolderName:     e.HolderName,
		Phone:          e.Phone,
	}
}

// Verify implements Registry.
func (s *Static) Verify(_ context.Context, docType model.DocumentType, number string) (model.IdentityRecord, error) {
	if err := CheckFormat(docType, number); err != nil {
		return model.IdentityRecord{}, err
	}

	s.mu.RLock()
	rec, ok := s.records[key(docType, number)]
	s.mu.RUnlock()
	if !ok {
		return model.IdentityRecord{}, fmt.Errorf("%w: %s %q", ErrNotFound, docType, number)
	}

	rec.FetchedAt = time.Now().UTC()
	return rec, nil
}

func key(docType model.DocumentType, number string) string {
	return string(docType) + ":" + number
}
