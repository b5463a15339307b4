package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jmallove/datalith/datalog"
	"github.com/jmallove/datalith/datalog/algebra"
	"github.com/jmallove/datalith/datalog/project"
	"github.com/jmallove/datalith/datalog/query"
	"github.com/jmallove/datalith/datalog/schema"
	"github.com/jmallove/datalith/datalog/storage"
)

type fixture struct {
	store  *storage.Store
	engine *Engine
	ids    map[string]datalog.EntityID
}

// newFixture installs the person schema and asserts Alice (30) and
// Bob (25).
func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	s, err := storage.OpenMemory()
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	_, err = s.InstallAttributes(
		storage.AttributeSpec{Ident: datalog.NewKeyword(":person/name"), ValueType: datalog.TypeString},
		storage.AttributeSpec{Ident: datalog.NewKeyword(":person/age"), ValueType: datalog.TypeLong},
		storage.AttributeSpec{Ident: datalog.NewKeyword(":person/email"), ValueType: datalog.TypeString, Unique: schema.UniqueIdentity},
		storage.AttributeSpec{Ident: datalog.NewKeyword(":person/friend"), ValueType: datalog.TypeRef, Cardinality: schema.CardinalityMany},
		storage.AttributeSpec{Ident: datalog.NewKeyword(":person/active"), ValueType: datalog.TypeBoolean},
		storage.AttributeSpec{Ident: datalog.NewKeyword(":person/home"), ValueType: datalog.TypeRef, Component: true},
		storage.AttributeSpec{Ident: datalog.NewKeyword(":address/city"), ValueType: datalog.TypeString},
	)
	if err != nil {
		t.Fatalf("installing schema: %v", err)
	}

	f := &fixture{store: s, engine: New(s, opts), ids: make(map[string]datalog.EntityID)}
	f.addPerson(t, "alice", "Alice", 30)
	f.addPerson(t, "bob", "Bob", 25)
	return f
}

func (f *fixture) addPerson(t *testing.T, key, name string, age int64) datalog.EntityID {
	t.Helper()
	ctx := context.Background()
	e, err := f.store.NewEntityID(ctx)
	if err != nil {
		t.Fatalf("allocating %s: %v", key, err)
	}
	_, err = f.store.Transact(ctx, []storage.Op{
		storage.Assert(e, datalog.NewKeyword(":person/name"), datalog.String(name)),
		storage.Assert(e, datalog.NewKeyword(":person/age"), datalog.Long(age)),
	})
	if err != nil {
		t.Fatalf("asserting %s: %v", key, err)
	}
	f.ids[key] = e
	return e
}

func collectionStrings(t *testing.T, result *project.Result) []string {
	t.Helper()
	if result.Shape != query.FindCollection {
		t.Fatalf("expected collection shape, got %s", result.Shape)
	}
	var out []string
	for _, cell := range result.Collection() {
		s, ok := cell.Value.Str()
		if !ok {
			t.Fatalf("expected a string cell, got %s", cell.Value)
		}
		out = append(out, s)
	}
	return out
}

// The constant-age join over the two-person dataset finds only Alice.
func TestQueryCollectionByConstantValue(t *testing.T) {
	f := newFixture(t, Options{})

	result, err := f.engine.Query(context.Background(),
		`{:find [[?n ...]]
		  :where [[?e :person/name ?n]
		          [?e :person/age 30]]}`, algebra.NewInputs())
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	names := collectionStrings(t, result)
	if len(names) != 1 || names[0] != "Alice" {
		t.Errorf("expected [Alice], got %v", names)
	}
}

// Adding Carol (25) and excluding Bob by name leaves only Carol.
func TestQueryNotClauseExcludes(t *testing.T) {
	f := newFixture(t, Options{})
	carol := f.addPerson(t, "carol", "Carol", 25)

	result, err := f.engine.Query(context.Background(),
		`{:find [[?e ...]]
		  :where [[?e :person/age 25]
		          (not [?e :person/name "Bob"])]}`, algebra.NewInputs())
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	cells := result.Collection()
	if len(cells) != 1 {
		t.Fatalf("expected exactly Carol, got %d rows", len(cells))
	}
	if id, ok := cells[0].Value.Ref(); !ok || id != carol {
		t.Errorf("expected entity %d, got %s", int64(carol), cells[0].Value)
	}
}

// A self-referential component terminates and truncates at the depth
// bound instead of recursing unboundedly.
func TestPullSelfReferentialComponentTerminates(t *testing.T) {
	f := newFixture(t, Options{PullDepth: 1})
	ctx := context.Background()

	e, _ := f.store.NewEntityID(ctx)
	if _, err := f.store.Transact(ctx, []storage.Op{
		storage.Assert(e, datalog.NewKeyword(":person/name"), datalog.String("Ouro")),
		storage.Assert(e, datalog.NewKeyword(":person/home"), datalog.Ref(e)),
	}); err != nil {
		t.Fatalf("transact: %v", err)
	}

	result, err := f.engine.Query(ctx,
		`{:find [(pull ?e [*]) .]
		  :in [$ ?name]
		  :where [[?e :person/name ?name]]}`,
		algebra.NewInputs().Bind("?name", datalog.String("Ouro")))
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	cell, ok := result.Scalar()
	if !ok || cell.Node == nil {
		t.Fatal("expected a pulled node")
	}
	entries := cell.Node.Attrs[datalog.NewKeyword(":person/home")]
	if len(entries) != 1 {
		t.Fatalf("expected the component attribute present, got %v", cell.Node.Attrs)
	}
	if entries[0].Child != nil {
		t.Error("expansion must truncate at the depth bound")
	}
	if id, _ := entries[0].Value.Ref(); id != e {
		t.Errorf("the truncated entry still carries its ref, got %s", entries[0].Value)
	}
}

// A boolean true and a long 1 share the raw encoding; joining an
// untyped value against a long attribute must not conflate them.
func TestUntypedValueJoinRespectsTypes(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	carol := f.addPerson(t, "carol", "Carol", 1)
	if _, err := f.store.Transact(ctx, []storage.Op{
		storage.Assert(f.ids["bob"], datalog.NewKeyword(":person/active"), datalog.Boolean(true)),
	}); err != nil {
		t.Fatalf("transact: %v", err)
	}

	result, err := f.engine.Query(ctx,
		`{:find [[?e ...]]
		  :where [[?e _ ?v]
		          [?x :person/age ?v]
		          [?x :person/name "Carol"]]}`, algebra.NewInputs())
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	cells := result.Collection()
	if len(cells) != 1 {
		t.Fatalf("expected exactly Carol, got %d rows", len(cells))
	}
	if id, ok := cells[0].Value.Ref(); !ok || id != carol {
		t.Errorf("expected entity %d, got %s", int64(carol), cells[0].Value)
	}
}

// An or-clause whose branches bind a fresh variable runs as a union.
func TestOrClauseBindsFreshVariable(t *testing.T) {
	f := newFixture(t, Options{})

	result, err := f.engine.Query(context.Background(),
		`{:find [[?e ...]]
		  :where [(or (and [?e :person/name "Alice"]
		                   [?e :person/age 30])
		              (and [?e :person/name "Bob"]))]}`, algebra.NewInputs())
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	got := make(map[datalog.EntityID]bool)
	for _, cell := range result.Collection() {
		id, ok := cell.Value.Ref()
		if !ok {
			t.Fatalf("expected an entity cell, got %s", cell.Value)
		}
		got[id] = true
	}
	if len(got) != 2 || !got[f.ids["alice"]] || !got[f.ids["bob"]] {
		t.Errorf("expected Alice and Bob, got %v", got)
	}
}

// Pull expansion queries the store per component while the engine is
// still projecting; the expanded child must come through intact.
func TestPullExpandsComponentDuringProjection(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	home, _ := f.store.NewEntityID(ctx)
	if _, err := f.store.Transact(ctx, []storage.Op{
		storage.Assert(home, datalog.NewKeyword(":address/city"), datalog.String("London")),
		storage.Assert(f.ids["alice"], datalog.NewKeyword(":person/home"), datalog.Ref(home)),
	}); err != nil {
		t.Fatalf("transact: %v", err)
	}

	result, err := f.engine.Query(ctx,
		`{:find [(pull ?e [*]) .]
		  :where [[?e :person/name "Alice"]]}`, algebra.NewInputs())
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	cell, ok := result.Scalar()
	if !ok || cell.Node == nil {
		t.Fatal("expected a pulled node")
	}
	entries := cell.Node.Attrs[datalog.NewKeyword(":person/home")]
	if len(entries) != 1 || entries[0].Child == nil {
		t.Fatalf("expected the component expanded, got %v", cell.Node.Attrs)
	}
	cities := entries[0].Child.Attrs[datalog.NewKeyword(":address/city")]
	if len(cities) != 1 {
		t.Fatalf("expected the child to carry its city, got %v", entries[0].Child.Attrs)
	}
	if s, _ := cities[0].Value.Str(); s != "London" {
		t.Errorf("expected London, got %s", cities[0].Value)
	}
}

func TestQueryRelationWithPredicateAndOrder(t *testing.T) {
	f := newFixture(t, Options{})
	f.addPerson(t, "carol", "Carol", 35)

	result, err := f.engine.Query(context.Background(),
		`{:find [?n ?age]
		  :where [[?e :person/name ?n]
		          [?e :person/age ?age]
		          [(>= ?age 30)]]
		  :order-by [[?age :desc]]}`, algebra.NewInputs())
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	if result.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", result.Len())
	}
	first, _ := result.Rows[0][0].Value.Str()
	if first != "Carol" {
		t.Errorf("descending age should list Carol first, got %s", first)
	}
}

func TestQueryScalarAndTupleTakeFirstRow(t *testing.T) {
	f := newFixture(t, Options{})

	scalar, err := f.engine.Query(context.Background(),
		`{:find [?n .]
		  :where [[?e :person/age 30] [?e :person/name ?n]]}`, algebra.NewInputs())
	if err != nil {
		t.Fatalf("scalar query: %v", err)
	}
	cell, ok := scalar.Scalar()
	if !ok {
		t.Fatal("expected a scalar result")
	}
	if s, _ := cell.Value.Str(); s != "Alice" {
		t.Errorf("expected Alice, got %s", cell.Value)
	}

	tuple, err := f.engine.Query(context.Background(),
		`{:find [[?n ?age]]
		  :where [[?e :person/name ?n] [?e :person/age ?age] [?e :person/age 25]]}`, algebra.NewInputs())
	if err != nil {
		t.Fatalf("tuple query: %v", err)
	}
	row, ok := tuple.Tuple()
	if !ok || len(row) != 2 {
		t.Fatalf("expected one two-cell tuple, got %v", tuple.Rows)
	}
}

func TestQueryAggregatesWithCarriedEntity(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	friend := datalog.NewKeyword(":person/friend")
	alice, bob := f.ids["alice"], f.ids["bob"]
	carol := f.addPerson(t, "carol", "Carol", 35)
	if _, err := f.store.Transact(ctx, []storage.Op{
		storage.Assert(alice, friend, datalog.Ref(bob)),
		storage.Assert(alice, friend, datalog.Ref(carol)),
		storage.Assert(bob, friend, datalog.Ref(carol)),
	}); err != nil {
		t.Fatalf("transact: %v", err)
	}

	result, err := f.engine.Query(ctx,
		`{:find [?n (count ?x)]
		  :where [[?e :person/name ?n]
		          [?e :person/friend ?x]]}`, algebra.NewInputs())
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	counts := make(map[string]int64)
	for _, row := range result.Rows {
		name, _ := row[0].Value.Str()
		n, _ := row[1].Value.Long()
		counts[name] = n
	}
	if counts["Alice"] != 2 || counts["Bob"] != 1 {
		t.Errorf("friend counts wrong: %v", counts)
	}
}

func TestQueryCollectionInput(t *testing.T) {
	f := newFixture(t, Options{})

	inputs := algebra.NewInputs().BindAll("?n", []datalog.TypedValue{
		datalog.String("Alice"), datalog.String("Nobody"),
	})
	result, err := f.engine.Query(context.Background(),
		`{:find [[?e ...]]
		  :in [$ [?n ...]]
		  :where [[?e :person/name ?n]]}`, inputs)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if result.Len() != 1 {
		t.Errorf("expected only Alice matched, got %d rows", result.Len())
	}
}

// The unique-attribute short circuit and the plain compilation must
// agree.
func TestUniqueResolutionEquivalence(t *testing.T) {
	ctx := context.Background()
	text := `{:find [?age .]
	          :where [[?e :person/email "a@b.c"]
	                  [?e :person/age ?age]]}`

	run := func(opts Options) (int64, bool) {
		f := newFixture(t, opts)
		alice := f.ids["alice"]
		if _, err := f.store.Transact(ctx, []storage.Op{
			storage.Assert(alice, datalog.NewKeyword(":person/email"), datalog.String("a@b.c")),
		}); err != nil {
			t.Fatalf("transact: %v", err)
		}
		result, err := f.engine.Query(ctx, text, algebra.NewInputs())
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		cell, ok := result.Scalar()
		if !ok {
			return 0, false
		}
		n, _ := cell.Value.Long()
		return n, true
	}

	fast, fastOK := run(Options{})
	slow, slowOK := run(Options{DisableUniqueResolution: true})
	if fastOK != slowOK || fast != slow {
		t.Errorf("short circuit changed the result: %d/%t vs %d/%t", fast, fastOK, slow, slowOK)
	}
	if !fastOK || fast != 30 {
		t.Errorf("expected age 30, got %d found=%t", fast, fastOK)
	}
}

func TestKnownEmptyQuerySkipsExecution(t *testing.T) {
	f := newFixture(t, Options{})

	stmt, err := f.engine.Explain(
		`{:find [?e] :where [[?e :person/name 42]]}`, algebra.NewInputs())
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	if !stmt.KnownEmpty {
		t.Fatal("expected a known-empty statement")
	}

	result, err := f.engine.Query(context.Background(),
		`{:find [?e] :where [[?e :person/name 42]]}`, algebra.NewInputs())
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if result.Len() != 0 {
		t.Errorf("expected no rows, got %d", result.Len())
	}
}

func TestExecutionErrorIsOpaque(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.Close()

	_, err := f.engine.Query(context.Background(),
		`{:find [?e] :where [[?e :person/age 25]]}`, algebra.NewInputs())
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %T: %v", err, err)
	}
}

func TestRenderTable(t *testing.T) {
	f := newFixture(t, Options{})

	result, err := f.engine.Query(context.Background(),
		`{:find [?n ?age]
		  :where [[?e :person/name ?n] [?e :person/age ?age]]
		  :order-by [[?n :asc]]}`, algebra.NewInputs())
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	table := RenderTable(result)
	for _, want := range []string{"?n", "?age", "Alice", "Bob", "_2 rows_"} {
		if !strings.Contains(table, want) {
			t.Errorf("rendered table missing %q:\n%s", want, table)
		}
	}

	empty, _ := f.engine.Query(context.Background(),
		`{:find [?n] :where [[?e :person/name ?n] [?e :person/age 99]]}`, algebra.NewInputs())
	if !strings.Contains(RenderTable(empty), "No rows") {
		t.Error("empty results should render a no-rows marker")
	}
}
