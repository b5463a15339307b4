package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmallove/datalith/datalog"
	"github.com/jmallove/datalith/datalog/schema"
)

// Op is one assertion or retraction in a transaction.
type Op struct {
	Assert bool
	E      datalog.EntityID
	A      datalog.Keyword
	V      datalog.TypedValue
}

// Assert builds an assertion op.
func Assert(e datalog.EntityID, a datalog.Keyword, v datalog.TypedValue) Op {
	return Op{Assert: true, E: e, A: a, V: v}
}

// Retract builds a retraction op.
func Retract(e datalog.EntityID, a datalog.Keyword, v datalog.TypedValue) Op {
	return Op{E: e, A: a, V: v}
}

// TxReport summarizes one committed transaction. Data holds the datoms
// the transaction actually wrote or removed: replaced cardinality-one
// values appear as retractions, and no-op retractions do not appear.
type TxReport struct {
	TxID      datalog.TxID
	TxInstant time.Time
	Asserted  int
	Retracted int
	Data      []datalog.Datom
}

// UniqueConflictError reports an assertion that would give two
// entities the same value under a unique attribute.
type UniqueConflictError struct {
	Attr     datalog.Keyword
	Value    datalog.TypedValue
	Existing datalog.EntityID
	Asserted datalog.EntityID
}

func (e *UniqueConflictError) Error() string {
	return fmt.Sprintf("unique conflict on %s: value %s is held by entity %d, asserted for %d",
		e.Attr, e.Value, int64(e.Existing), int64(e.Asserted))
}

// NewEntityID allocates a fresh entity id outside any data
// transaction.
func (s *Store) NewEntityID(ctx context.Context) (datalog.EntityID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning allocation: %w", err)
	}
	defer tx.Rollback()

	id, err := allocateIDs(tx, 1)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing allocation: %w", err)
	}
	return id, nil
}

// Transact applies ops atomically. Cardinality-one assertions replace
// the attribute's previous value; unique attributes reject values held
// by another entity; retractions remove exact (e, a, v) matches and
// are silent no-ops otherwise.
func (s *Store) Transact(ctx context.Context, ops []Op) (*TxReport, error) {
	catalog := s.Catalog()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	txID, err := allocateIDs(tx, 1)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if _, err := tx.Exec(`INSERT INTO transactions (tx, instant) VALUES (?, ?)`,
		int64(txID), now.UnixMicro()); err != nil {
		return nil, fmt.Errorf("recording transaction: %w", err)
	}

	report := &TxReport{TxID: datalog.TxID(txID), TxInstant: now}
	for _, op := range ops {
		attr, err := catalog.Lookup(op.A)
		if err != nil {
			return nil, err
		}
		value, err := coerceValue(op.V, attr)
		if err != nil {
			return nil, err
		}

		if op.Assert {
			if err := s.assertDatom(tx, attr, op.E, value, txID, report); err != nil {
				return nil, err
			}
		} else {
			if err := retractDatom(tx, attr, op.E, value, report); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return report, nil
}

func (s *Store) assertDatom(tx *sql.Tx, attr schema.Attribute, e datalog.EntityID, v datalog.TypedValue, txID datalog.EntityID, report *TxReport) error {
	tag, raw := datalog.EncodeSQL(v)

	if attr.IsUnique() {
		var holder int64
		err := tx.QueryRow(
			`SELECT e FROM datoms WHERE a = ? AND v = ? AND value_type_tag = ? LIMIT 1`,
			int64(attr.ID), raw, tag,
		).Scan(&holder)
		switch {
		case err == sql.ErrNoRows:
		case err != nil:
			return fmt.Errorf("checking unique %s: %w", attr.Ident, err)
		case datalog.EntityID(holder) != e:
			return &UniqueConflictError{
				Attr:     attr.Ident,
				Value:    v,
				Existing: datalog.EntityID(holder),
				Asserted: e,
			}
		}
	}

	if attr.Cardinality == schema.CardinalityOne {
		displaced, err := currentValues(tx, attr, e)
		if err != nil {
			return err
		}
		for _, old := range displaced {
			// Re-asserting the held value writes nothing; the stored
			// datom keeps its original tx.
			if old.Equal(v) {
				return nil
			}
		}
		if len(displaced) > 0 {
			if _, err := tx.Exec(`DELETE FROM datoms WHERE e = ? AND a = ?`,
				int64(e), int64(attr.ID)); err != nil {
				return fmt.Errorf("replacing %s on %d: %w", attr.Ident, int64(e), err)
			}
			for _, old := range displaced {
				report.Retracted++
				report.Data = append(report.Data, datalog.Datom{
					E: e, A: attr.ID, V: old, Tx: datalog.TxID(txID),
				})
			}
		}
	}

	// The eavt unique index makes re-asserting an existing datom a
	// no-op rather than a duplicate row.
	res, err := tx.Exec(
		`INSERT OR IGNORE INTO datoms (e, a, v, tx, value_type_tag) VALUES (?, ?, ?, ?, ?)`,
		int64(e), int64(attr.ID), raw, int64(txID), tag,
	)
	if err != nil {
		return fmt.Errorf("asserting %s on %d: %w", attr.Ident, int64(e), err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		report.Asserted++
		report.Data = append(report.Data, datalog.Datom{
			E: e, A: attr.ID, V: v, Tx: datalog.TxID(txID), Added: true,
		})
	}
	return nil
}

func retractDatom(tx *sql.Tx, attr schema.Attribute, e datalog.EntityID, v datalog.TypedValue, report *TxReport) error {
	tag, raw := datalog.EncodeSQL(v)
	res, err := tx.Exec(
		`DELETE FROM datoms WHERE e = ? AND a = ? AND v = ? AND value_type_tag = ?`,
		int64(e), int64(attr.ID), raw, tag,
	)
	if err != nil {
		return fmt.Errorf("retracting %s on %d: %w", attr.Ident, int64(e), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		report.Retracted += int(n)
		report.Data = append(report.Data, datalog.Datom{
			E: e, A: attr.ID, V: v, Tx: report.TxID,
		})
	}
	return nil
}

// currentValues reads the values an entity currently holds under attr.
func currentValues(tx *sql.Tx, attr schema.Attribute, e datalog.EntityID) ([]datalog.TypedValue, error) {
	rows, err := tx.Query(`SELECT v, value_type_tag FROM datoms WHERE e = ? AND a = ?`,
		int64(e), int64(attr.ID))
	if err != nil {
		return nil, fmt.Errorf("reading %s on %d: %w", attr.Ident, int64(e), err)
	}
	defer rows.Close()

	var out []datalog.TypedValue
	for rows.Next() {
		var raw interface{}
		var tag int64
		if err := rows.Scan(&raw, &tag); err != nil {
			return nil, err
		}
		v, err := datalog.DecodeSQL(tag, raw)
		if err != nil {
			return nil, fmt.Errorf("decoding %s on %d: %w", attr.Ident, int64(e), err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// coerceValue adapts a transacted literal to the attribute's declared
// type where a lossless interpretation exists, mirroring the query
// compiler's constant handling.
func coerceValue(v datalog.TypedValue, attr schema.Attribute) (datalog.TypedValue, error) {
	if v.Type() == attr.ValueType {
		return v, nil
	}
	if i, ok := v.Long(); ok {
		switch attr.ValueType {
		case datalog.TypeRef:
			return datalog.Ref(datalog.EntityID(i)), nil
		case datalog.TypeDouble:
			return datalog.Double(float64(i)), nil
		}
	}
	return datalog.TypedValue{}, fmt.Errorf("attribute %s holds %s, got %s",
		attr.Ident, attr.ValueType, v.Type())
}
