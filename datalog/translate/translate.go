package translate

import (
	"fmt"
	"strings"

	"github.com/jmallove/datalith/datalog"
	"github.com/jmallove/datalith/datalog/algebra"
	"github.com/jmallove/datalith/datalog/query"
)

// Translate lowers an algebrized query to one SQL statement. Every
// literal travels as a bound parameter; the text contains only
// structure.
func Translate(aq *algebra.AlgebrizedQuery) (*Statement, error) {
	b := &builder{aq: aq, cc: aq.CC}

	stmt := &Statement{Shape: aq.Projection.Shape}

	if aq.CC.KnownEmpty {
		stmt.KnownEmpty = true
		stmt.EmptyReason = aq.CC.EmptyReason
		for i, elem := range aq.Projection.Elements {
			stmt.Columns = append(stmt.Columns, ColumnDescriptor{
				Var:        elem.Var,
				Kind:       elem.Kind,
				Aggregate:  elem.Aggregate,
				Pull:       elem.Pull,
				ValueIndex: i,
				TagIndex:   -1,
				FixedType:  elem.FixedType,
			})
		}
		return stmt, nil
	}

	var err error
	if aq.Projection.HasAggregates() {
		err = b.buildAggregated(stmt)
	} else {
		err = b.buildPlain(stmt)
	}
	if err != nil {
		return nil, err
	}
	stmt.Args = b.args
	return stmt, nil
}

type builder struct {
	aq   *algebra.AlgebrizedQuery
	cc   *algebra.ConjoiningClauses
	args []interface{}
}

func (b *builder) bindValue(v datalog.TypedValue) {
	_, raw := datalog.EncodeSQL(v)
	b.args = append(b.args, raw)
}

// varExpr resolves a variable to its value expression, its tag
// expression (empty when the type is statically fixed), and the fixed
// type. Parameters are appended in render order.
func (b *builder) varExpr(sym query.Symbol) (string, string, datalog.ValueType, error) {
	op, ok := b.cc.Operand(sym)
	if !ok {
		return "", "", 0, errf("select", "variable %s has no operand", sym)
	}

	if t, single := b.cc.TypeOf(sym).Single(); single {
		value, err := b.renderOperand(op)
		return value, "", t, err
	}

	switch o := op.(type) {
	case algebra.ColumnOperand:
		if tagCol, ok := o.Col.TagColumn(); ok {
			return o.Col.String(), tagCol.String(), 0, nil
		}
		// Entity, attribute, and tx columns always hold refs.
		return o.Col.String(), "", datalog.TypeRef, nil
	case algebra.ValueOperand:
		b.args = append(b.args, encodedValue(o.Value))
		return "?", "", o.Value.Type(), nil
	case algebra.ExprOperand:
		inner, err := b.renderExpr(o.Expr)
		if err != nil {
			return "", "", 0, err
		}
		// A numeric expression of unknown width is forced to REAL so
		// the projector sees one representation.
		return "CAST(" + inner + " AS REAL)", "", datalog.TypeDouble, nil
	default:
		return "", "", 0, errf("select", "unhandled operand %T", op)
	}
}

func encodedValue(v datalog.TypedValue) interface{} {
	_, raw := datalog.EncodeSQL(v)
	return raw
}

// buildPlain renders the single-level form used when no element
// aggregates.
func (b *builder) buildPlain(stmt *Statement) error {
	proj := b.aq.Projection
	var sb strings.Builder

	// The hidden tail carries with-variables, which preserve result
	// multiplicity under DISTINCT. Ordering variables may ride along
	// only for shapes that never dedupe: a hidden order key inside
	// SELECT DISTINCT would turn distinct elements into distinct
	// (element, key) pairs.
	elemVars := make(map[query.Symbol]string)
	hidden := append([]query.Symbol(nil), proj.With...)
	if proj.Shape == query.FindScalar || proj.Shape == query.FindTuple {
		for _, ord := range b.aq.OrderBy {
			hidden = append(hidden, ord.Variable)
		}
	}

	sb.WriteString("SELECT ")
	if proj.Shape == query.FindRelation || proj.Shape == query.FindCollection {
		sb.WriteString("DISTINCT ")
	}

	col := 0
	for i, elem := range proj.Elements {
		if i > 0 {
			sb.WriteString(", ")
		}
		value, tag, fixed, err := b.varExpr(elem.Var)
		if err != nil {
			return err
		}

		alias := fmt.Sprintf("c%d", i)
		sb.WriteString(value + " AS " + alias)
		desc := ColumnDescriptor{
			Var:        elem.Var,
			Kind:       elem.Kind,
			Pull:       elem.Pull,
			ValueIndex: col,
			TagIndex:   -1,
			FixedType:  fixed,
		}
		col++
		if tag != "" {
			sb.WriteString(", " + tag + " AS " + alias + "_t")
			desc.TagIndex = col
			col++
		}
		stmt.Columns = append(stmt.Columns, desc)
		if _, seen := elemVars[elem.Var]; !seen {
			elemVars[elem.Var] = alias
		}
	}

	hiddenAlias := make(map[query.Symbol]string)
	for j, sym := range hidden {
		if _, seen := elemVars[sym]; seen {
			continue
		}
		if _, seen := hiddenAlias[sym]; seen {
			continue
		}
		value, tag, _, err := b.varExpr(sym)
		if err != nil {
			return err
		}
		alias := fmt.Sprintf("w%d", j)
		sb.WriteString(", " + value + " AS " + alias)
		if tag != "" {
			sb.WriteString(", " + tag + " AS " + alias + "_t")
		}
		hiddenAlias[sym] = alias
	}

	if err := b.renderFromWhere(&sb, b.cc); err != nil {
		return err
	}

	if err := b.renderOrderBy(&sb, func(sym query.Symbol) (string, bool) {
		if alias, ok := elemVars[sym]; ok {
			return alias, true
		}
		alias, ok := hiddenAlias[sym]
		return alias, ok
	}); err != nil {
		return err
	}

	b.renderLimit(&sb, proj.Shape)
	stmt.SQL = sb.String()
	return nil
}

// buildAggregated renders the two-level form: an inner DISTINCT select
// fixes the bag the aggregates consume (find variables plus
// with-variables), and the outer select groups and aggregates it.
// Every projected variable must have a statically fixed type here; tag
// columns do not survive grouping.
func (b *builder) buildAggregated(stmt *Statement) error {
	proj := b.aq.Projection

	for _, elem := range proj.Elements {
		if _, single := b.cc.TypeOf(elem.Var).Single(); !single {
			if _, isExpr := computedOperand(b.cc, elem.Var); !isExpr {
				return errf("select", "aggregated query projects %s with no fixed type", elem.Var)
			}
		}
	}

	// Outer select text first, then the inner subquery; parameters are
	// appended in text order, and only the inner level binds any.
	var outer strings.Builder
	outer.WriteString("SELECT ")

	var groupBy []string
	elemAlias := make(map[query.Symbol]string)
	for i, elem := range proj.Elements {
		if i > 0 {
			outer.WriteString(", ")
		}
		alias := fmt.Sprintf("c%d", i)
		vAlias := fmt.Sprintf("v%d", i)

		desc := ColumnDescriptor{
			Var:        elem.Var,
			Kind:       elem.Kind,
			Aggregate:  elem.Aggregate,
			Pull:       elem.Pull,
			ValueIndex: i,
			TagIndex:   -1,
		}

		if elem.Kind == algebra.ProjAggregate {
			outer.WriteString(fmt.Sprintf("%s(%s) AS %s", elem.Aggregate, vAlias, alias))
		} else {
			outer.WriteString(vAlias + " AS " + alias)
			groupBy = append(groupBy, vAlias)
			if _, seen := elemAlias[elem.Var]; !seen {
				elemAlias[elem.Var] = alias
			}
		}
		stmt.Columns = append(stmt.Columns, desc)
	}

	outer.WriteString(" FROM (SELECT DISTINCT ")

	for i, elem := range proj.Elements {
		if i > 0 {
			outer.WriteString(", ")
		}
		value, _, fixed, err := b.varExpr(elem.Var)
		if err != nil {
			return err
		}
		outer.WriteString(fmt.Sprintf("%s AS v%d", value, i))

		switch {
		case elem.Kind == algebra.ProjAggregate:
			stmt.Columns[i].FixedType = aggregateType(elem.Aggregate, fixed)
		default:
			stmt.Columns[i].FixedType = fixed
		}
	}

	seen := make(map[query.Symbol]bool)
	for _, elem := range proj.Elements {
		seen[elem.Var] = true
	}
	w := 0
	for _, sym := range proj.With {
		if seen[sym] {
			continue
		}
		seen[sym] = true
		value, tag, _, err := b.varExpr(sym)
		if err != nil {
			return err
		}
		alias := fmt.Sprintf("iw%d", w)
		w++
		outer.WriteString(", " + value + " AS " + alias)
		if tag != "" {
			outer.WriteString(", " + tag + " AS " + alias + "_t")
		}
	}

	if err := b.renderFromWhere(&outer, b.cc); err != nil {
		return err
	}
	outer.WriteString(")")

	if len(groupBy) > 0 {
		outer.WriteString(" GROUP BY " + strings.Join(groupBy, ", "))
	}

	if err := b.renderOrderBy(&outer, func(sym query.Symbol) (string, bool) {
		alias, ok := elemAlias[sym]
		return alias, ok
	}); err != nil {
		return err
	}

	b.renderLimit(&outer, proj.Shape)
	stmt.SQL = outer.String()
	return nil
}

// aggregateType is the statically known output type of an aggregate;
// sum, min, and max preserve the argument's type.
func aggregateType(fn string, argType datalog.ValueType) datalog.ValueType {
	switch fn {
	case "count":
		return datalog.TypeLong
	case "avg":
		return datalog.TypeDouble
	default:
		return argType
	}
}

// computedOperand reports whether a variable resolves to a computed
// expression, whose type the renderer can force.
func computedOperand(cc *algebra.ConjoiningClauses, sym query.Symbol) (*algebra.Expr, bool) {
	op, ok := cc.Operand(sym)
	if !ok {
		return nil, false
	}
	e, ok := op.(algebra.ExprOperand)
	if !ok {
		return nil, false
	}
	return e.Expr, true
}

func (b *builder) renderFromWhere(sb *strings.Builder, cc *algebra.ConjoiningClauses) error {
	if len(cc.Aliases) > 0 || len(cc.Derived) > 0 {
		sb.WriteString(" FROM ")
		sources := 0
		for _, alias := range cc.Aliases {
			if sources > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("datoms AS " + string(alias))
			sources++
		}
		for _, dt := range cc.Derived {
			if sources > 0 {
				sb.WriteString(", ")
			}
			if err := b.renderDerived(sb, dt); err != nil {
				return err
			}
			sources++
		}
	}
	if len(cc.Constraints) > 0 {
		sb.WriteString(" WHERE ")
		if err := b.renderConstraints(sb, cc.Constraints); err != nil {
			return err
		}
	}
	return nil
}

// renderDerived renders a binding disjunction as a union subquery in
// the FROM list. Each branch projects the shared variables as f{i}
// with their tag in f{i}_t.
func (b *builder) renderDerived(sb *strings.Builder, dt algebra.DerivedTable) error {
	sb.WriteString("(")
	for bi, branch := range dt.Branches {
		if bi > 0 {
			sb.WriteString(" UNION ")
		}
		sb.WriteString("SELECT ")
		for i, sym := range dt.Vars {
			if i > 0 {
				sb.WriteString(", ")
			}
			op, ok := branch.Operand(sym)
			if !ok {
				return errf("or", "branch binds no operand for %s", sym)
			}
			value, err := b.renderOperand(op)
			if err != nil {
				return err
			}
			tag, err := tagExprFor(branch, sym, op)
			if err != nil {
				return err
			}
			fmt.Fprintf(sb, "%s AS f%d, %s AS f%d_t", value, i, tag, i)
		}
		if err := b.renderFromWhere(sb, branch); err != nil {
			return err
		}
	}
	sb.WriteString(") AS " + string(dt.Alias))
	return nil
}

// tagExprFor renders a branch variable's type tag: a literal when the
// branch fixes the type, the source's tag column otherwise.
func tagExprFor(cc *algebra.ConjoiningClauses, sym query.Symbol, op algebra.Operand) (string, error) {
	if t, single := cc.TypeOf(sym).Single(); single {
		return fmt.Sprintf("%d", uint8(t)), nil
	}
	if col, ok := op.(algebra.ColumnOperand); ok {
		if tagCol, has := col.Col.TagColumn(); has {
			return tagCol.String(), nil
		}
		return fmt.Sprintf("%d", uint8(datalog.TypeRef)), nil
	}
	return "", errf("or", "branch variable %s has no statically known type", sym)
}

func (b *builder) renderOrderBy(sb *strings.Builder, aliasFor func(query.Symbol) (string, bool)) error {
	if len(b.aq.OrderBy) == 0 {
		return nil
	}
	sb.WriteString(" ORDER BY ")
	for i, ord := range b.aq.OrderBy {
		if i > 0 {
			sb.WriteString(", ")
		}
		alias, ok := aliasFor(ord.Variable)
		if !ok {
			return errf("order-by", "variable %s is not selectable", ord.Variable)
		}
		sb.WriteString(alias)
		if ord.Direction == query.OrderDesc {
			sb.WriteString(" DESC")
		} else {
			sb.WriteString(" ASC")
		}
	}
	return nil
}

// renderLimit applies the explicit limit; scalar and tuple shapes take
// the first row regardless.
func (b *builder) renderLimit(sb *strings.Builder, shape query.FindShape) {
	if shape == query.FindScalar || shape == query.FindTuple {
		sb.WriteString(" LIMIT 1")
		return
	}
	if b.aq.Limit > 0 {
		fmt.Fprintf(sb, " LIMIT %d", b.aq.Limit)
	}
}

func (b *builder) renderConstraints(sb *strings.Builder, cs []algebra.Constraint) error {
	for i, c := range cs {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		if err := b.renderConstraint(sb, c); err != nil {
			return err
		}
	}
	return nil
}

// renderConstraint lowers one constraint. The variants are a closed
// set; an unknown variant is an internal error.
func (b *builder) renderConstraint(sb *strings.Builder, c algebra.Constraint) error {
	switch con := c.(type) {
	case algebra.ColumnEquals:
		sb.WriteString(con.Left.String() + " = " + con.Right.String())

	case algebra.AttributeEquals:
		sb.WriteString(string(con.Alias) + ".a = ?")
		b.args = append(b.args, int64(con.ID))

	case algebra.EntityEquals:
		sb.WriteString(con.Col.String() + " = ?")
		b.args = append(b.args, int64(con.ID))

	case algebra.ValueEquals:
		sb.WriteString(con.Col.String() + " = ?")
		b.bindValue(con.Value)

	case algebra.TagEquals:
		sb.WriteString(con.Col.String() + " = ?")
		b.args = append(b.args, int64(con.Tag))

	case algebra.InValues:
		sb.WriteString(con.Col.String() + " IN (")
		for i, v := range con.Values {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("?")
			b.bindValue(v)
		}
		sb.WriteString(")")

	case algebra.Compare:
		left, err := b.renderOperand(con.Left)
		if err != nil {
			return err
		}
		sb.WriteString(left + " " + sqlOp(con.Op) + " ")
		right, err := b.renderOperand(con.Right)
		if err != nil {
			return err
		}
		sb.WriteString(right)

	case algebra.NotExists:
		sb.WriteString("NOT EXISTS (")
		if err := b.renderSubSelect(sb, con.Sub); err != nil {
			return err
		}
		sb.WriteString(")")

	case algebra.Exists:
		sb.WriteString("EXISTS (")
		if err := b.renderSubSelect(sb, con.Sub); err != nil {
			return err
		}
		sb.WriteString(")")

	case algebra.OrGroup:
		sb.WriteString("(")
		for i, alt := range con.Alternatives {
			if i > 0 {
				sb.WriteString(" OR ")
			}
			sb.WriteString("(")
			if err := b.renderConstraints(sb, alt); err != nil {
				return err
			}
			sb.WriteString(")")
		}
		sb.WriteString(")")

	default:
		return errf("where", "unhandled constraint %T", c)
	}
	return nil
}

func (b *builder) renderSubSelect(sb *strings.Builder, sub *algebra.ConjoiningClauses) error {
	sb.WriteString("SELECT 1")
	return b.renderFromWhere(sb, sub)
}

func (b *builder) renderOperand(op algebra.Operand) (string, error) {
	switch o := op.(type) {
	case algebra.ColumnOperand:
		return o.Col.String(), nil
	case algebra.ValueOperand:
		b.bindValue(o.Value)
		return "?", nil
	case algebra.ExprOperand:
		return b.renderExpr(o.Expr)
	default:
		return "", errf("operand", "unhandled operand %T", op)
	}
}

func (b *builder) renderExpr(e *algebra.Expr) (string, error) {
	if e.Op == "ground" {
		return b.renderOperand(e.Args[0])
	}
	parts := make([]string, len(e.Args))
	for i, arg := range e.Args {
		s, err := b.renderOperand(arg)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return "(" + strings.Join(parts, " "+e.Op+" ") + ")", nil
}

func sqlOp(op string) string {
	if op == "!=" {
		return "<>"
	}
	return op
}
