package pull

import (
	"testing"

	"github.com/jmallove/datalith/datalog"
	"github.com/jmallove/datalith/datalog/query"
	"github.com/jmallove/datalith/datalog/schema"
)

var (
	attrName = schema.Attribute{ID: 100, Ident: datalog.NewKeyword(":person/name"), ValueType: datalog.TypeString}
	attrAge  = schema.Attribute{ID: 101, Ident: datalog.NewKeyword(":person/age"), ValueType: datalog.TypeLong}
	attrHome = schema.Attribute{ID: 102, Ident: datalog.NewKeyword(":person/home"), ValueType: datalog.TypeRef, Component: true}
	attrCity = schema.Attribute{ID: 103, Ident: datalog.NewKeyword(":address/city"), ValueType: datalog.TypeString}
	attrBest = schema.Attribute{ID: 104, Ident: datalog.NewKeyword(":person/best-friend"), ValueType: datalog.TypeRef, Component: true}
)

type mapBackend map[datalog.EntityID][]Fact

func (m mapBackend) EntityFacts(id datalog.EntityID) ([]Fact, error) {
	return m[id], nil
}

func TestPullSelectsPatternAttributes(t *testing.T) {
	backend := mapBackend{
		1: {
			{Attr: attrName, Value: datalog.String("Ada")},
			{Attr: attrAge, Value: datalog.Long(36)},
		},
	}
	engine := NewEngine(backend, 0)

	node, err := engine.Pull(1, query.PullPattern{Attrs: []datalog.Keyword{attrName.Ident}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(node.Attrs) != 1 {
		t.Fatalf("expected only the selected attribute, got %d", len(node.Attrs))
	}
	entries := node.Attrs[attrName.Ident]
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if s, ok := entries[0].Value.Str(); !ok || s != "Ada" {
		t.Errorf("expected Ada, got %s", entries[0].Value)
	}
}

func TestPullWildcardExpandsComponents(t *testing.T) {
	backend := mapBackend{
		1: {
			{Attr: attrName, Value: datalog.String("Ada")},
			{Attr: attrHome, Value: datalog.Ref(2)},
		},
		2: {
			{Attr: attrCity, Value: datalog.String("London")},
		},
	}
	engine := NewEngine(backend, 0)

	node, err := engine.Pull(1, query.PullPattern{Wildcard: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	homes := node.Attrs[attrHome.Ident]
	if len(homes) != 1 || homes[0].Child == nil {
		t.Fatal("expected the component expanded into a child node")
	}
	city := homes[0].Child.Attrs[attrCity.Ident]
	if len(city) != 1 {
		t.Fatalf("expected the child's attributes, got %v", homes[0].Child.Attrs)
	}
}

func TestPullComponentCycleTerminates(t *testing.T) {
	backend := mapBackend{
		1: {{Attr: attrBest, Value: datalog.Ref(2)}},
		2: {{Attr: attrBest, Value: datalog.Ref(1)}},
	}
	engine := NewEngine(backend, 0)

	node, err := engine.Pull(1, query.PullPattern{Wildcard: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	child := node.Attrs[attrBest.Ident][0].Child
	if child == nil {
		t.Fatal("expected the first hop expanded")
	}
	back := child.Attrs[attrBest.Ident][0]
	if back.Child != nil {
		t.Error("a cycle back to the root must not expand again")
	}
	if id, ok := back.Value.Ref(); !ok || id != 1 {
		t.Errorf("the unexpanded hop still carries its ref, got %s", back.Value)
	}
}

func TestPullDepthBound(t *testing.T) {
	backend := mapBackend{
		1: {{Attr: attrHome, Value: datalog.Ref(2)}},
		2: {{Attr: attrHome, Value: datalog.Ref(3)}},
		3: {{Attr: attrHome, Value: datalog.Ref(4)}},
		4: {{Attr: attrCity, Value: datalog.String("deep")}},
	}
	engine := NewEngine(backend, 2)

	node, err := engine.Pull(1, query.PullPattern{Wildcard: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first := node.Attrs[attrHome.Ident][0].Child
	if first == nil {
		t.Fatal("depth 1 should expand")
	}
	second := first.Attrs[attrHome.Ident][0].Child
	if second != nil {
		t.Error("expansion beyond the depth bound must stop")
	}
}
