package schema

import (
	"sort"

	"github.com/jmallove/datalith/datalog"
)

// Snapshot is an immutable in-memory Catalog. Mutation is modeled as
// copy-on-write: With returns a new snapshot with a bumped version and
// leaves the receiver untouched, so in-flight queries keep compiling
// against the snapshot they were handed.
type Snapshot struct {
	version uint64
	byIdent map[datalog.Keyword]Attribute
	byID    map[datalog.EntityID]Attribute
}

// NewSnapshot builds the initial snapshot from attrs.
func NewSnapshot(attrs ...Attribute) *Snapshot {
	s := &Snapshot{
		version: 1,
		byIdent: make(map[datalog.Keyword]Attribute, len(attrs)),
		byID:    make(map[datalog.EntityID]Attribute, len(attrs)),
	}
	for _, a := range attrs {
		s.byIdent[a.Ident] = a
		s.byID[a.ID] = a
	}
	return s
}

// With returns a new snapshot extended (or overridden) by attrs.
func (s *Snapshot) With(attrs ...Attribute) *Snapshot {
	next := &Snapshot{
		version: s.version + 1,
		byIdent: make(map[datalog.Keyword]Attribute, len(s.byIdent)+len(attrs)),
		byID:    make(map[datalog.EntityID]Attribute, len(s.byID)+len(attrs)),
	}
	for k, a := range s.byIdent {
		next.byIdent[k] = a
	}
	for id, a := range s.byID {
		next.byID[id] = a
	}
	for _, a := range attrs {
		next.byIdent[a.Ident] = a
		next.byID[a.ID] = a
	}
	return next
}

// Version returns the snapshot's monotonic version.
func (s *Snapshot) Version() uint64 { return s.version }

// Lookup implements Catalog.
func (s *Snapshot) Lookup(ident datalog.Keyword) (Attribute, error) {
	if a, ok := s.byIdent[ident]; ok {
		return a, nil
	}
	return Attribute{}, &NotFoundError{Ident: ident}
}

// LookupByID implements Catalog.
func (s *Snapshot) LookupByID(id datalog.EntityID) (Attribute, error) {
	if a, ok := s.byID[id]; ok {
		return a, nil
	}
	return Attribute{}, &NotFoundError{ID: id}
}

// Attributes returns every installed attribute ordered by ident.
func (s *Snapshot) Attributes() []Attribute {
	attrs := make([]Attribute, 0, len(s.byIdent))
	for _, a := range s.byIdent {
		attrs = append(attrs, a)
	}
	sort.Slice(attrs, func(i, j int) bool {
		return attrs[i].Ident.Compare(attrs[j].Ident) < 0
	})
	return attrs
}
