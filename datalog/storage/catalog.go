package storage

import (
	"database/sql"
	"fmt"

	"github.com/jmallove/datalith/datalog"
	"github.com/jmallove/datalith/datalog/schema"
)

// loadCatalog reads the installed attributes into a fresh snapshot.
func (s *Store) loadCatalog() (*schema.Snapshot, error) {
	rows, err := s.db.Query(
		`SELECT entid, ident, value_type, cardinality, uniq, indexed, component
		 FROM attributes ORDER BY entid`)
	if err != nil {
		return nil, fmt.Errorf("loading attribute catalog: %w", err)
	}
	defer rows.Close()

	var attrs []schema.Attribute
	for rows.Next() {
		var entid, valueType, cardinality, uniq int64
		var ident string
		var indexed, component bool
		if err := rows.Scan(&entid, &ident, &valueType, &cardinality, &uniq, &indexed, &component); err != nil {
			return nil, fmt.Errorf("scanning attribute row: %w", err)
		}
		attrs = append(attrs, schema.Attribute{
			ID:          datalog.EntityID(entid),
			Ident:       datalog.NewKeyword(ident),
			ValueType:   datalog.ValueType(valueType),
			Cardinality: schema.Cardinality(cardinality),
			Unique:      schema.Unique(uniq),
			Indexed:     indexed,
			Component:   component,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attribute rows: %w", err)
	}
	return schema.NewSnapshot(attrs...), nil
}

// AttributeSpec declares one attribute to install.
type AttributeSpec struct {
	Ident       datalog.Keyword
	ValueType   datalog.ValueType
	Cardinality schema.Cardinality
	Unique      schema.Unique
	Indexed     bool
	Component   bool
}

// InstallAttributes installs attributes and publishes a new schema
// snapshot. Reinstalling an existing ident with identical definition
// is a no-op; a conflicting redefinition is an error.
func (s *Store) InstallAttributes(specs ...AttributeSpec) ([]schema.Attribute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning schema transaction: %w", err)
	}
	defer tx.Rollback()

	installed := make([]schema.Attribute, 0, len(specs))
	var fresh []schema.Attribute
	for _, spec := range specs {
		if existing, err := s.snapshot.Lookup(spec.Ident); err == nil {
			if !sameDefinition(existing, spec) {
				return nil, fmt.Errorf("attribute %s is already installed with a different definition", spec.Ident)
			}
			installed = append(installed, existing)
			continue
		}

		id, err := allocateIDs(tx, 1)
		if err != nil {
			return nil, err
		}
		attr := schema.Attribute{
			ID:          id,
			Ident:       spec.Ident,
			ValueType:   spec.ValueType,
			Cardinality: spec.Cardinality,
			Unique:      spec.Unique,
			Indexed:     spec.Indexed,
			Component:   spec.Component,
		}
		if err := insertAttribute(tx, attr); err != nil {
			return nil, err
		}
		installed = append(installed, attr)
		fresh = append(fresh, attr)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing schema transaction: %w", err)
	}
	if len(fresh) > 0 {
		s.snapshot = s.snapshot.With(fresh...)
	}
	return installed, nil
}

func insertAttribute(tx *sql.Tx, attr schema.Attribute) error {
	_, err := tx.Exec(
		`INSERT INTO attributes (entid, ident, value_type, cardinality, uniq, indexed, component)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		int64(attr.ID), attr.Ident.String(), int64(attr.ValueType),
		int64(attr.Cardinality), int64(attr.Unique), attr.Indexed, attr.Component,
	)
	if err != nil {
		return fmt.Errorf("installing attribute %s: %w", attr.Ident, err)
	}
	return nil
}

func sameDefinition(attr schema.Attribute, spec AttributeSpec) bool {
	return attr.ValueType == spec.ValueType &&
		attr.Cardinality == spec.Cardinality &&
		attr.Unique == spec.Unique &&
		attr.Indexed == spec.Indexed &&
		attr.Component == spec.Component
}
