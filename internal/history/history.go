// Package history holds finalized odometer verification records for the
// length of a session.
package history

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/grafostech/fleet-console/internal/directory"
)

// Outcome of a verification record. Only successful reconciliations are
// ever recorded.
type Outcome string

const OutcomeSuccess Outcome = "success"

// Source names which value the user accepted.
type Source string

const (
	SourceAI     Source = "ai"
	SourceManual Source = "manual"
)

// UnknownVehicle labels records whose vehicle left the directory.
const UnknownVehicle = "Unknown vehicle"

// Record is a finalized, immutable verification record.
type Record struct {
	ID         string    `json:"id"`
	VehicleID  string    `json:"vehicle_id"`
	Mileage    int       `json:"mileage"`    // final value chosen by the user
	AIMileage  int       `json:"ai_mileage"` // value extracted by recognition
	Confidence float64   `json:"confidence"`
	Source     Source    `json:"source"`
	ImageRef   string    `json:"image_ref"`
	CreatedAt  time.Time `json:"created_at"`
	Outcome    Outcome   `json:"outcome"`
}

// Store is an in-memory, most-recent-first list of records.
type Store struct {
	mu      sync.RWMutex
	records []Record
}

// NewStore creates an empty Store
func NewStore() *Store {
	return &Store{}
}

// Prepend adds r at the front of the list.
func (s *Store) Prepend(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = slices.Insert(s.records, 0, r)
}

// List returns a copy of all records, newest first.
func (s *Store) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.records)
}

// Len returns the number of records
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Clear drops every record; used on logout.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
}

// VehicleSource resolves vehicle ids for display.
type VehicleSource interface {
	GetVehicle(id string) (*directory.Vehicle, error)
}

// Entry is a record prepared for the history view.
type Entry struct {
	Record
	VehicleLabel string `json:"vehicle_label"`
}

// Entries labels each record with its vehicle. A vehicle that no longer
// exists is shown as UnknownVehicle.
func Entries(records []Record, vehicles VehicleSource) []Entry {
	entries := make([]Entry, 0, len(records))
	for _, r := range records {
		label := UnknownVehicle
		if v, err := vehicles.GetVehicle(r.VehicleID); err == nil && v != nil {
			label = fmt.Sprintf("%s - %s", v.Name, v.Plate)
		}
		entries = append(entries, Entry{Record: r, VehicleLabel: label})
	}
	return entries
}
