// Package memory is an in-memory stand-in for the Google Sheets adapter,
// used in tests and when running without Google credentials.
package memory

import (
	"context"
	"fmt"
	"sync"

	"chequebot/internal/core"
)

// Export is one spreadsheet "created" by the fake.
type Export struct {
	Title   string
	Records []core.PurchaseRecord
	Groups  []core.Group
	Chart   bool
}

type Service struct {
	mu      sync.Mutex
	exports []Export
	mirror  []core.PurchaseRecord
}

func NewService() *Service {
	return &Service{}
}

func (s *Service) ExportRecords(_ context.Context, title string, records []core.PurchaseRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exports = append(s.exports, Export{Title: title, Records: records})
	return s.url(), nil
}

func (s *Service) ExportGroups(_ context.Context, title string, groups []core.Group, chart bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exports = append(s.exports, Export{Title: title, Groups: groups, Chart: chart})
	return s.url(), nil
}

func (s *Service) AppendRecords(_ context.Context, records []core.PurchaseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirror = append(s.mirror, records...)
	return nil
}

// Exports returns everything exported so far.
func (s *Service) Exports() []Export {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Export, len(s.exports))
	copy(out, s.exports)
	return out
}

// MirrorRows returns the rows appended to the mirror.
func (s *Service) MirrorRows() []core.PurchaseRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.PurchaseRecord, len(s.mirror))
	copy(out, s.mirror)
	return out
}

func (s *Service) url() string {
	return fmt.Sprintf("memory://spreadsheet/%d", len(s.exports))
}
