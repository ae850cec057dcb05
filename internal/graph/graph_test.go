package graph

import (
	"errors"
	"testing"

	"nickandperla.net/herd/internal/script"
	"nickandperla.net/herd/internal/value"
)

// fixture builds a store with two single-output blocks writing x and y.
func fixture(t *testing.T) (*Graph, *value.Arena, script.BlockID, script.BlockID) {
	t.Helper()
	s := script.NewStore()
	doc := s.NewDocument("doc")
	bx := s.CreateBlock(doc, script.NoBlock)
	by := s.CreateBlock(doc, script.NoBlock)
	if err := s.AppendMutations(bx, nil, []script.Mutation{{Name: "x"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.AppendMutations(by, nil, []script.Mutation{{Name: "y"}, {Name: "x"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a := value.NewArena()
	return New(a, s), a, bx, by
}

func store(t *testing.T, a *value.Arena, vals ...value.Scalar) []value.StackItem {
	t.Helper()
	items := make([]value.StackItem, len(vals))
	for i, v := range vals {
		it, err := a.Store(v)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		items[i] = it
	}
	return items
}

func TestInternDeduplicates(t *testing.T) {
	g, a, bx, _ := fixture(t)
	e1, hit, err := g.Intern(bx, store(t, a, value.IntScalar(1)))
	if err != nil || hit {
		t.Fatalf("expected a new evaluation, got hit=%v err=%v", hit, err)
	}
	e2, hit, _ := g.Intern(bx, store(t, a, value.IntScalar(1)))
	if !hit || e2 != e1 {
		t.Errorf("expected identical outputs to share evaluation %d, got %d", e1, e2)
	}
	e3, hit, _ := g.Intern(bx, store(t, a, value.FloatScalar(1)))
	if hit || e3 == e1 {
		t.Errorf("expected a float output to be a different evaluation")
	}
	if a.Slots() != 2 {
		t.Errorf("expected duplicate outputs to be released, got %d slots", a.Slots())
	}
	if g.Hits() != 1 {
		t.Errorf("expected 1 hit, got %d", g.Hits())
	}
	ev, _ := g.Evaluation(e1)
	if ev.Refs != 2 {
		t.Errorf("expected 2 references, got %d", ev.Refs)
	}
}

func TestPushSharesNodes(t *testing.T) {
	g, a, bx, by := fixture(t)
	ex, _, _ := g.Intern(bx, store(t, a, value.IntScalar(1)))
	n1, err := g.Push(NoStack, ex)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	n2, _ := g.Push(NoStack, ex)
	if n1 != n2 {
		t.Errorf("expected the same (prev, eval) to share a node")
	}
	if err := g.ReleaseEvaluation(ex); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ey, _, _ := g.Intern(by, store(t, a, value.IntScalar(2), value.IntScalar(3)))
	top, _ := g.Push(n1, ey)
	if err := g.ReleaseEvaluation(ey); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b, _ := g.Block(top); b != by {
		t.Errorf("expected top block %d, got %d", by, b)
	}

	// x is shadowed by the newer block.
	item, ok, err := g.Lookup(top, "x")
	if err != nil || !ok {
		t.Fatalf("expected x, got ok=%v err=%v", ok, err)
	}
	if v, _ := a.Int(item); v != 3 {
		t.Errorf("expected the most recent x = 3, got %d", v)
	}
	if _, ok, _ := g.Lookup(n1, "y"); ok {
		t.Errorf("expected y to be unknown below its block")
	}

	var visited []StackID
	g.Walk(top, func(id StackID, _ Evaluation) bool {
		visited = append(visited, id)
		return true
	})
	if len(visited) != 2 || visited[0] != top || visited[1] != n1 {
		t.Errorf("unexpected walk %v", visited)
	}
}

func TestReleaseFreesChain(t *testing.T) {
	g, a, bx, by := fixture(t)
	ex, _, _ := g.Intern(bx, store(t, a, value.IntScalar(1)))
	base, _ := g.Push(NoStack, ex)
	g.ReleaseEvaluation(ex)
	ey, _, _ := g.Intern(by, store(t, a, value.IntScalar(2), value.Null))
	top, _ := g.Push(base, ey)
	g.ReleaseEvaluation(ey)

	// The caller still holds base; releasing top keeps it alive.
	if err := g.Release(top); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nodes, evals := g.Live(); nodes != 1 || evals != 1 {
		t.Errorf("expected base to survive, got %d nodes %d evals", nodes, evals)
	}
	if err := g.Release(base); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nodes, evals := g.Live(); nodes != 0 || evals != 0 {
		t.Errorf("expected an empty graph, got %d nodes %d evals", nodes, evals)
	}
	if a.Live() != 0 {
		t.Errorf("expected every output slot to be released, got %d bytes", a.Live())
	}
	if err := g.Release(base); !errors.Is(err, ErrNotLive) {
		t.Errorf("expected ErrNotLive, got %v", err)
	}
	if err := g.Release(NoStack); err != nil {
		t.Errorf("expected releasing NoStack to be a no-op, got %v", err)
	}
	if _, err := g.Push(NoStack, ex); !errors.Is(err, ErrNotLive) {
		t.Errorf("expected pushing a freed evaluation to fail, got %v", err)
	}
}

func TestRetain(t *testing.T) {
	g, a, bx, _ := fixture(t)
	ex, _, _ := g.Intern(bx, store(t, a, value.IntScalar(1)))
	n, _ := g.Push(NoStack, ex)
	g.ReleaseEvaluation(ex)
	if err := g.Retain(n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g.Release(n)
	if nodes, _ := g.Live(); nodes != 1 {
		t.Errorf("expected the retained node to survive one release")
	}
	g.Release(n)
	if err := g.Retain(n); !errors.Is(err, ErrNotLive) {
		t.Errorf("expected ErrNotLive, got %v", err)
	}
}
