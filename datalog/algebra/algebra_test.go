package algebra

import (
	"errors"
	"testing"

	"github.com/jmallove/datalith/datalog"
	"github.com/jmallove/datalith/datalog/parser"
	"github.com/jmallove/datalith/datalog/schema"
)

func testCatalog() *schema.Snapshot {
	return schema.NewSnapshot(
		schema.Attribute{ID: 100, Ident: datalog.NewKeyword(":person/name"), ValueType: datalog.TypeString},
		schema.Attribute{ID: 101, Ident: datalog.NewKeyword(":person/age"), ValueType: datalog.TypeLong},
		schema.Attribute{ID: 102, Ident: datalog.NewKeyword(":person/email"), ValueType: datalog.TypeString, Unique: schema.UniqueIdentity},
		schema.Attribute{ID: 103, Ident: datalog.NewKeyword(":person/friend"), ValueType: datalog.TypeRef, Cardinality: schema.CardinalityMany},
		schema.Attribute{ID: 104, Ident: datalog.NewKeyword(":person/active"), ValueType: datalog.TypeBoolean},
	)
}

func mustAlgebrize(t *testing.T, text string, inputs Inputs, opts Options) *AlgebrizedQuery {
	t.Helper()
	q, err := parser.Parse(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	aq, err := Algebrize(q, testCatalog(), inputs, opts)
	if err != nil {
		t.Fatalf("algebrize: %v", err)
	}
	return aq
}

func algebrizeErr(t *testing.T, text string, inputs Inputs, opts Options) error {
	t.Helper()
	q, err := parser.Parse(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	_, err = Algebrize(q, testCatalog(), inputs, opts)
	if err == nil {
		t.Fatalf("expected algebrize error for %s", text)
	}
	return err
}

func TestAlgebrizeSinglePattern(t *testing.T) {
	aq := mustAlgebrize(t, `{:find [?e ?name] :where [[?e :person/name ?name]]}`, NewInputs(), Options{})
	cc := aq.CC

	if len(cc.Aliases) != 1 {
		t.Fatalf("expected 1 alias, got %d", len(cc.Aliases))
	}
	if got := cc.TypeOf("?name"); got != TypeSetOf(datalog.TypeString) {
		t.Errorf("?name should be narrowed to string, got %s", got)
	}
	if got := cc.TypeOf("?e"); got != TypeSetOf(datalog.TypeRef) {
		t.Errorf("?e should be narrowed to ref, got %s", got)
	}

	var attrConstraints int
	for _, c := range cc.Constraints {
		if ae, ok := c.(AttributeEquals); ok {
			attrConstraints++
			if ae.ID != 100 {
				t.Errorf("expected attribute entid 100, got %d", ae.ID)
			}
		}
	}
	if attrConstraints != 1 {
		t.Errorf("expected 1 attribute constraint, got %d", attrConstraints)
	}
}

func TestAlgebrizeJoinsSharedVariable(t *testing.T) {
	aq := mustAlgebrize(t, `{:find [?name]
	                         :where [[?e :person/name ?name]
	                                 [?e :person/age ?age]]}`, NewInputs(), Options{})
	cc := aq.CC

	if len(cc.Aliases) != 2 {
		t.Fatalf("expected 2 aliases, got %d", len(cc.Aliases))
	}
	if len(cc.Bindings["?e"]) != 2 {
		t.Fatalf("expected ?e bound in both aliases, got %d", len(cc.Bindings["?e"]))
	}

	var joins int
	for _, c := range cc.Constraints {
		if eq, ok := c.(ColumnEquals); ok {
			if eq.Left.Column == ColEntity && eq.Right.Column == ColEntity {
				joins++
			}
		}
	}
	if joins != 1 {
		t.Errorf("expected 1 entity join, got %d", joins)
	}
}

func TestAlgebrizeTypeConflict(t *testing.T) {
	err := algebrizeErr(t, `{:find [?v]
	                         :where [[?e :person/name ?v]
	                                 [?e :person/age ?v]]}`, NewInputs(), Options{})
	var conflict *TypeConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected TypeConflictError, got %T: %v", err, err)
	}
	if conflict.Var != "?v" {
		t.Errorf("expected conflict on ?v, got %s", conflict.Var)
	}
}

func TestAlgebrizeConstantTypeMismatchIsKnownEmpty(t *testing.T) {
	aq := mustAlgebrize(t, `{:find [?e] :where [[?e :person/name 42]]}`, NewInputs(), Options{})
	if !aq.CC.KnownEmpty {
		t.Fatal("a long constant against a string attribute should prove emptiness")
	}
}

func TestAlgebrizeLongCoercesToRefAttribute(t *testing.T) {
	aq := mustAlgebrize(t, `{:find [?e] :where [[?e :person/friend 17]]}`, NewInputs(), Options{})
	if aq.CC.KnownEmpty {
		t.Fatalf("long should coerce to ref, proof of emptiness is wrong: %s", aq.CC.EmptyReason)
	}

	found := false
	for _, c := range aq.CC.Constraints {
		if ve, ok := c.(ValueEquals); ok {
			if id, isRef := ve.Value.Ref(); isRef && id == 17 {
				found = true
			}
		}
	}
	if !found {
		t.Error("expected a ref-typed value constraint for entid 17")
	}
}

func TestAlgebrizeUnknownAttribute(t *testing.T) {
	err := algebrizeErr(t, `{:find [?e] :where [[?e :person/nope ?v]]}`, NewInputs(), Options{})
	var nf *schema.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected schema.NotFoundError, got %T: %v", err, err)
	}
}

type stubResolver struct {
	id    datalog.EntityID
	found bool
}

func (r stubResolver) ResolveUnique(schema.Attribute, datalog.TypedValue) (datalog.EntityID, bool, error) {
	return r.id, r.found, nil
}

func TestUniqueShortCircuitBindsEntity(t *testing.T) {
	aq := mustAlgebrize(t, `{:find [?age]
	                         :where [[?e :person/email "a@b.c"]
	                                 [?e :person/age ?age]]}`,
		NewInputs(), Options{Resolver: stubResolver{id: 42, found: true}})

	v, ok := aq.CC.ValueBound["?e"]
	if !ok {
		t.Fatal("expected ?e constant-bound by the unique resolver")
	}
	if id, isRef := v.Ref(); !isRef || id != 42 {
		t.Errorf("expected ?e bound to entity 42, got %s", v)
	}
}

func TestUniqueShortCircuitProvesEmpty(t *testing.T) {
	aq := mustAlgebrize(t, `{:find [?e] :where [[?e :person/email "a@b.c"]]}`,
		NewInputs(), Options{Resolver: stubResolver{found: false}})
	if !aq.CC.KnownEmpty {
		t.Fatal("an unmatched unique value should prove emptiness")
	}
}

func TestScalarInputSeedsTypeAndValue(t *testing.T) {
	inputs := NewInputs().Bind("?age", datalog.Long(30))
	aq := mustAlgebrize(t, `{:find [?e]
	                         :in [$ ?age]
	                         :where [[?e :person/age ?age]]}`, inputs, Options{})

	if got := aq.CC.TypeOf("?age"); got != TypeSetOf(datalog.TypeLong) {
		t.Errorf("?age should be long, got %s", got)
	}

	found := false
	for _, c := range aq.CC.Constraints {
		if ve, ok := c.(ValueEquals); ok {
			if n, isLong := ve.Value.Long(); isLong && n == 30 {
				found = true
			}
		}
	}
	if !found {
		t.Error("expected the input value constrained onto the bound column")
	}
}

func TestMissingInputIsUnbound(t *testing.T) {
	err := algebrizeErr(t, `{:find [?e] :in [$ ?age] :where [[?e :person/age ?age]]}`,
		NewInputs(), Options{})
	var unbound *UnboundVariableError
	if !errors.As(err, &unbound) {
		t.Fatalf("expected UnboundVariableError, got %T: %v", err, err)
	}
	if unbound.Var != "?age" {
		t.Errorf("expected ?age, got %s", unbound.Var)
	}
}

func TestEmptyCollectionInputIsKnownEmpty(t *testing.T) {
	inputs := NewInputs().BindAll("?name", nil)
	aq := mustAlgebrize(t, `{:find [?e]
	                         :in [$ [?name ...]]
	                         :where [[?e :person/name ?name]]}`, inputs, Options{})
	if !aq.CC.KnownEmpty {
		t.Fatal("an empty collection input should prove emptiness")
	}
}

func TestCollectionInputBecomesInConstraint(t *testing.T) {
	inputs := NewInputs().BindAll("?name", []datalog.TypedValue{
		datalog.String("Ada"), datalog.String("Grace"),
	})
	aq := mustAlgebrize(t, `{:find [?e]
	                         :in [$ [?name ...]]
	                         :where [[?e :person/name ?name]]}`, inputs, Options{})

	found := false
	for _, c := range aq.CC.Constraints {
		if in, ok := c.(InValues); ok && len(in.Values) == 2 {
			found = true
		}
	}
	if !found {
		t.Error("expected an in-values constraint from the collection input")
	}
}

func TestPredicateNarrowsToNumeric(t *testing.T) {
	aq := mustAlgebrize(t, `{:find [?e]
	                         :where [[?e :person/age ?age]
	                                 [(< ?age 30)]]}`, NewInputs(), Options{})

	found := false
	for _, c := range aq.CC.Constraints {
		if cmp, ok := c.(Compare); ok && cmp.Op == "<" {
			found = true
		}
	}
	if !found {
		t.Error("expected a rendered comparison constraint")
	}
}

func TestPredicateRejectsNonNumeric(t *testing.T) {
	err := algebrizeErr(t, `{:find [?e]
	                         :where [[?e :person/name ?n]
	                                 [(< ?n 30)]]}`, NewInputs(), Options{})
	var unsupported *UnsupportedPredicateError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedPredicateError, got %T: %v", err, err)
	}
}

func TestPredicateRequiresBoundArgs(t *testing.T) {
	err := algebrizeErr(t, `{:find [?e]
	                         :where [[(< ?age 30)]
	                                 [?e :person/age ?age]]}`, NewInputs(), Options{})
	var unbound *UnboundVariableError
	if !errors.As(err, &unbound) {
		t.Fatalf("expected UnboundVariableError, got %T: %v", err, err)
	}
}

func TestFunctionBindComputesExpression(t *testing.T) {
	aq := mustAlgebrize(t, `{:find [?next]
	                         :where [[?e :person/age ?age]
	                                 [(+ ?age 1) ?next]]}`, NewInputs(), Options{})

	expr, ok := aq.CC.Computed["?next"]
	if !ok {
		t.Fatal("expected ?next computed")
	}
	if expr.Op != "+" || len(expr.Args) != 2 {
		t.Errorf("expression built incorrectly: %s", expr)
	}
}

func TestNotRequiresOuterBinding(t *testing.T) {
	err := algebrizeErr(t, `{:find [?e]
	                         :where [[?e :person/age 25]
	                                 (not [?x :person/name "Bob"])]}`, NewInputs(), Options{})
	var unbound *UnboundVariableError
	if !errors.As(err, &unbound) {
		t.Fatalf("expected UnboundVariableError, got %T: %v", err, err)
	}
	if unbound.Var != "?x" {
		t.Errorf("expected ?x, got %s", unbound.Var)
	}
}

func TestNotBecomesCorrelatedNotExists(t *testing.T) {
	aq := mustAlgebrize(t, `{:find [?e]
	                         :where [[?e :person/age 25]
	                                 (not [?e :person/name "Bob"])]}`, NewInputs(), Options{})

	var sub *ConjoiningClauses
	for _, c := range aq.CC.Constraints {
		if ne, ok := c.(NotExists); ok {
			sub = ne.Sub
		}
	}
	if sub == nil {
		t.Fatal("expected a not-exists constraint")
	}
	if len(aq.CC.Aliases) != 1 {
		t.Errorf("the not body must not join the outer scope, got %d aliases", len(aq.CC.Aliases))
	}

	correlated := false
	for _, c := range sub.Constraints {
		if eq, ok := c.(ColumnEquals); ok && eq.Left.Alias != eq.Right.Alias {
			correlated = true
		}
	}
	if !correlated {
		t.Error("expected the sub-scope correlated to the outer entity column")
	}
}

func TestOrBranchVariableMismatch(t *testing.T) {
	err := algebrizeErr(t, `{:find [?e]
	                         :where [(or [?e :person/age 25]
	                                     [?x :person/age 30])]}`, NewInputs(), Options{})
	var unbound *UnboundVariableError
	if !errors.As(err, &unbound) {
		t.Fatalf("expected UnboundVariableError, got %T: %v", err, err)
	}
}

func TestSimpleOrSharesOneAlias(t *testing.T) {
	aq := mustAlgebrize(t, `{:find [?e]
	                         :where [(or [?e :person/age 25]
	                                     [?e :person/age 30])]}`, NewInputs(), Options{})
	cc := aq.CC

	if len(cc.Aliases) != 1 {
		t.Fatalf("single-pattern branches should share one alias, got %d", len(cc.Aliases))
	}

	var group *OrGroup
	for _, c := range cc.Constraints {
		if og, ok := c.(OrGroup); ok {
			group = &og
		}
	}
	if group == nil {
		t.Fatal("expected an or-group constraint")
	}
	if len(group.Alternatives) != 2 {
		t.Errorf("expected 2 alternatives, got %d", len(group.Alternatives))
	}
}

func TestGeneralOrBindsThroughUnion(t *testing.T) {
	aq := mustAlgebrize(t, `{:find [?e]
	                         :where [(or (and [?e :person/age 25]
	                                          [?e :person/active true])
	                                     [?e :person/age 30])]}`, NewInputs(), Options{})
	cc := aq.CC

	if len(cc.Derived) != 1 {
		t.Fatalf("expected one derived union source, got %d", len(cc.Derived))
	}
	dt := cc.Derived[0]
	if len(dt.Branches) != 2 {
		t.Fatalf("expected 2 union branches, got %d", len(dt.Branches))
	}
	if len(dt.Vars) != 1 || dt.Vars[0] != "?e" {
		t.Fatalf("expected the union to project ?e, got %v", dt.Vars)
	}
	col, ok := cc.PrimaryColumn("?e")
	if !ok || col.Alias != dt.Alias {
		t.Errorf("?e should bind to the union source, got %v", col)
	}
	if got := cc.TypeOf("?e"); got != TypeSetOf(datalog.TypeRef) {
		t.Errorf("?e should stay ref typed, got %s", got)
	}
}

func TestGeneralOrBecomesExistsDisjunction(t *testing.T) {
	aq := mustAlgebrize(t, `{:find [?e]
	                         :where [[?e :person/name ?n]
	                                 (or (and [?e :person/age 25]
	                                          [?e :person/active true])
	                                     [?e :person/age 30])]}`, NewInputs(), Options{})

	var group *OrGroup
	for _, c := range aq.CC.Constraints {
		if og, ok := c.(OrGroup); ok {
			group = &og
		}
	}
	if group == nil {
		t.Fatal("expected an or-group constraint")
	}
	for i, alt := range group.Alternatives {
		if len(alt) != 1 {
			t.Fatalf("alternative %d should hold one exists condition, got %d", i, len(alt))
		}
		if _, ok := alt[0].(Exists); !ok {
			t.Errorf("alternative %d should be an exists condition, got %T", i, alt[0])
		}
	}
}

func TestUntypedValueJoinPinsTag(t *testing.T) {
	aq := mustAlgebrize(t, `{:find [?e]
	                         :where [[?e _ ?v]
	                                 [?x :person/age ?v]]}`, NewInputs(), Options{})

	pinned := false
	for _, c := range aq.CC.Constraints {
		if te, ok := c.(TagEquals); ok {
			if te.Col.Alias == "datoms00" && te.Tag == datalog.TypeLong {
				pinned = true
			}
		}
	}
	if !pinned {
		t.Error("joining an untyped occurrence against a long attribute must pin its tag")
	}
}

func TestUntypedValueJoinTiesTagColumns(t *testing.T) {
	aq := mustAlgebrize(t, `{:find [?e ?x]
	                         :where [[?e _ ?v]
	                                 [?x _ ?v]]}`, NewInputs(), Options{})

	tied := false
	for _, c := range aq.CC.Constraints {
		if eq, ok := c.(ColumnEquals); ok {
			if eq.Left.Column == ColTag && eq.Right.Column == ColTag {
				tied = true
			}
		}
	}
	if !tied {
		t.Error("occurrences with no pinned type must join their tag columns")
	}
}

func TestNotCorrelationTiesValueTags(t *testing.T) {
	aq := mustAlgebrize(t, `{:find [?e]
	                         :where [[?e _ ?v]
	                                 (not [?e :person/age ?v])]}`, NewInputs(), Options{})

	var sub *ConjoiningClauses
	for _, c := range aq.CC.Constraints {
		if ne, ok := c.(NotExists); ok {
			sub = ne.Sub
		}
	}
	if sub == nil {
		t.Fatal("expected a not-exists constraint")
	}
	tied := false
	for _, c := range sub.Constraints {
		if eq, ok := c.(ColumnEquals); ok && eq.Left.Column == ColTag && eq.Right.Column == ColTag {
			tied = true
		}
	}
	if !tied {
		t.Error("correlating an untyped value must tie the tag columns")
	}
}

func TestUnboundFindVariable(t *testing.T) {
	err := algebrizeErr(t, `{:find [?missing] :where [[?e :person/age 25]]}`, NewInputs(), Options{})
	var unbound *UnboundVariableError
	if !errors.As(err, &unbound) {
		t.Fatalf("expected UnboundVariableError, got %T: %v", err, err)
	}
	if unbound.Var != "?missing" {
		t.Errorf("expected ?missing, got %s", unbound.Var)
	}
}

func TestProjectionRecordsFixedTypes(t *testing.T) {
	aq := mustAlgebrize(t, `{:find [?e ?name] :where [[?e :person/name ?name]]}`, NewInputs(), Options{})

	e := aq.Projection.Elements[0]
	if e.Kind != ProjEntity || !e.HasFixed || e.FixedType != datalog.TypeRef {
		t.Errorf("?e should project as a fixed-type entity, got %+v", e)
	}
	name := aq.Projection.Elements[1]
	if name.Kind != ProjValue || !name.HasFixed || name.FixedType != datalog.TypeString {
		t.Errorf("?name should project as a fixed string, got %+v", name)
	}
}

func TestProjectionAggregates(t *testing.T) {
	aq := mustAlgebrize(t, `{:find [?e (count ?x)] :where [[?e :person/friend ?x]]}`, NewInputs(), Options{})
	if !aq.Projection.HasAggregates() {
		t.Fatal("expected aggregates in projection")
	}
	agg := aq.Projection.Elements[1]
	if agg.Kind != ProjAggregate || agg.Aggregate != "count" {
		t.Errorf("count element derived incorrectly: %+v", agg)
	}
}
