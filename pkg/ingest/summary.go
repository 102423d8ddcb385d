package ingest

import (
	"fmt"
	"time"
)

// Summary counts what happened during one ingestion
type Summary struct {
	Crates          int           `json:"crates"`
	Versions        int           `json:"versions"`
	SkippedVersions int           `json:"skippedVersions"` // Version rows without an owning crate
	DependencyRows  int           `json:"dependencyRows"`
	Edges           int           `json:"edges"`
	DuplicateEdges  int           `json:"duplicateEdges"` // Rows that repeated an existing edge
	Unresolved      int           `json:"unresolved"`
	Malformed       map[Table]int `json:"malformed"`
	Duration        time.Duration `json:"duration"`
}

func newSummary() *Summary {
	return &Summary{Malformed: make(map[Table]int, len(phaseOrder))}
}

// MalformedTotal returns the malformed row count across all tables
func (s *Summary) MalformedTotal() int {
	total := 0
	for _, n := range s.Malformed {
		total += n
	}
	return total
}

// String renders the one-line summary shown after every ingestion
func (s *Summary) String() string {
	return fmt.Sprintf(
		"%d crates, %d versions, %d edges from %d dependency rows (%d duplicate); %d unresolved, %d malformed, %d versions without crate",
		s.Crates, s.Versions, s.Edges, s.DependencyRows, s.DuplicateEdges,
		s.Unresolved, s.MalformedTotal(), s.SkippedVersions,
	)
}

// RegistrySummary describes a registry that was not ingested in this run,
// such as one read back from a snapshot
func RegistrySummary(crates, edges int) *Summary {
	s := newSummary()
	s.Crates = crates
	s.Edges = edges
	return s
}
