package compiler

import (
	"errors"
	"strings"
	"testing"

	"nickandperla.net/herd/internal/scanner"
	"nickandperla.net/herd/internal/script"
)

func compileOK(t *testing.T, src string) (*script.Store, Unit) {
	t.Helper()
	store := script.NewStore()
	u, err := New(store).Compile("test", src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return store, u
}

func names(muts []script.Mutation) []string {
	var out []string
	for _, m := range muts {
		out = append(out, m.Name)
	}
	return out
}

func TestMutationsShareABlock(t *testing.T) {
	store, u := compileOK(t, `x = 1; y = x + z;`)
	if store.NumBlocks() != 1 {
		t.Fatalf("expected 1 block, got %d", store.NumBlocks())
	}
	if got := strings.Join(names(store.Mutations(u.Root)), ","); got != "x,y" {
		t.Errorf("expected mutations x,y, got %s", got)
	}
	deps := store.Dependencies(u.Root)
	if len(deps) != 1 || deps[0] != "z" {
		t.Errorf("expected only z as dependency, got %v", deps)
	}
	if !strings.Contains(store.Disassemble(u.Root), "LOAD_LOCAL 0") {
		t.Errorf("expected y to read x from its own block:\n%s", store.Disassemble(u.Root))
	}
}

func TestRepeatedAssignmentSplitsBlock(t *testing.T) {
	store, u := compileOK(t, `x = 1; x = x + 1;`)
	if store.NumBlocks() != 2 {
		t.Fatalf("expected 2 blocks, got %d", store.NumBlocks())
	}
	b, _ := store.Block(u.Root)
	if b.Next != 1 {
		t.Errorf("expected root to link to block 1, got %d", b.Next)
	}
	if deps := store.Dependencies(1); len(deps) != 1 || deps[0] != "x" {
		t.Errorf("expected second block to depend on x, got %v", deps)
	}
}

func TestIfLinksBodyAndFallThrough(t *testing.T) {
	store, u := compileOK(t, `if (a) { y = 1; } z = 2;`)
	if store.NumBlocks() != 3 {
		t.Fatalf("expected 3 blocks, got %d", store.NumBlocks())
	}
	cond, _ := store.Block(u.Root)
	body, _ := store.Block(1)
	if cond.Next != 2 || body.Next != 2 {
		t.Errorf("expected both the condition and the body to continue at 2, got %d and %d", cond.Next, body.Next)
	}
	if body.Root != u.Root {
		t.Errorf("expected body to belong to root %d, got %d", u.Root, body.Root)
	}
	muts := store.Mutations(u.Root)
	if len(muts) != 1 || muts[0].Name != "" {
		t.Fatalf("expected one effect-only mutation, got %v", muts)
	}
	if dis := store.Disassemble(u.Root); !strings.Contains(dis, "INVOKE") {
		t.Errorf("expected the condition to invoke the if instruction:\n%s", dis)
	}
}

func TestIfElseJumpsBeforeCondition(t *testing.T) {
	store, u := compileOK(t, `if (a) { y = 1; } else { y = 2; } z = y;`)
	cond, _ := store.Block(u.Root)
	if cond.Next != script.NoBlock {
		t.Errorf("expected condition block without successor, got %d", cond.Next)
	}
	for _, id := range []script.BlockID{1, 2} {
		b, _ := store.Block(id)
		if b.Next != 3 {
			t.Errorf("block %d: expected to continue at 3, got %d", id, b.Next)
		}
	}
	dis := store.Disassemble(u.Root)
	jump, load := strings.Index(dis, "JUMP 2"), strings.Index(dis, "LOAD")
	if jump < 0 || load < 0 || jump > load {
		t.Errorf("expected a jump to the else body ahead of the condition:\n%s", dis)
	}
}

func TestCommentsInsideBrackets(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"close brace in if body", "x = 1;\nif (x) {\n  // close } early\n  y = 1;\n}\nz = 2;\n"},
		{"quote in scope", "{\n  // say \"hi\n  y = 2;\n}\nz = 2;\n"},
		{"block comment in class", "class A {\n  /* } */ a = 1;\n}\n"},
		{"comment in array", "a = [1, // 2, ]\n 3];\n"},
		{"comment in condition", "if (x /* ) */ ) { y = 1; }\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := script.NewStore()
			if _, err := New(store).Compile("test", tt.src); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestFailedDocumentRegistersNoClass(t *testing.T) {
	store := script.NewStore()
	c := New(store)
	if _, err := c.Compile("base", `class Base { a = 1; } class Other { o = 1; }`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := c.Compile("broken", `class Base extends Other { b = 2; } class Wolf extends Base { c = 3; } x = ;`)
	if !errors.Is(err, ErrCompile) {
		t.Fatalf("expected ErrCompile, got %v", err)
	}
	if _, ok := store.ClassID("Wolf"); ok {
		t.Errorf("expected Wolf to stay unregistered")
	}
	base, _ := store.ClassID("Base")
	if cls, _ := store.Class(base); len(cls.Extends) != 0 {
		t.Errorf("expected Base to keep no bases, got %v", cls.Extends)
	}
	other, _ := store.ClassID("Other")
	if _, err := c.Compile("wolf", `class Wolf { c = 3; }`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id, ok := store.ClassID("Wolf"); !ok || id != other+1 {
		t.Errorf("expected Wolf to take id %d, got %d", other+1, id)
	}
}

func TestEmptyIfBodyStaysInBlock(t *testing.T) {
	store, _ := compileOK(t, `x = 1; if (x) {} y = 2;`)
	if store.NumBlocks() != 1 {
		t.Errorf("expected 1 block, got %d", store.NumBlocks())
	}
}

func TestClassRegistersRootAfterDocument(t *testing.T) {
	store, u := compileOK(t, `
		class Base { a = 1; }
		class Derived extends Base { b = 2; }
		c = 3;
	`)
	base, ok := store.ClassID("Base")
	if !ok {
		t.Fatalf("expected Base to be registered")
	}
	derived, _ := store.ClassID("Derived")
	if c, _ := store.Class(derived); len(c.Extends) != 1 || c.Extends[0] != base {
		t.Errorf("expected Derived to extend Base, got %v", c.Extends)
	}
	roots := store.Roots()
	if len(roots) != 3 {
		t.Fatalf("expected 3 roots, got %d", len(roots))
	}
	if roots[0].Block != u.Root || roots[0].Class != script.Global {
		t.Errorf("expected the document root first, got %+v", roots[0])
	}
	if roots[1].Class != base || roots[2].Class != derived {
		t.Errorf("expected class roots in declaration order, got %+v", roots[1:])
	}
	if !store.Lineage(derived)[base] {
		t.Errorf("expected Base in the lineage of Derived")
	}
}

func TestDiagnostics(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
		msg  string
	}{
		{"unknown operator", "x = 1 | 2;", 1, "unexpected"},
		{"missing expression", "x = ;", 1, "expected expression"},
		{"unmatched paren", "x = (1 + 2;", 1, "unmatched"},
		{"if without condition", "if x { }", 1, "expected ("},
		{"named array element", "a = [k: 1];", 1, "cannot be named"},
		{"unknown base class", "\nclass A extends B { }", 2, "unknown class"},
		{"bad statement", "x = 1;\n  42;", 2, "unexpected"},
		{"malformed string", `s = "abc`, 1, "malformed string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []Diagnostic
			store := script.NewStore()
			c := New(store, WithSink(func(d Diagnostic) { got = append(got, d) }))
			_, err := c.Compile("doc", tt.src)
			if !errors.Is(err, ErrCompile) {
				t.Fatalf("expected ErrCompile, got %v", err)
			}
			if len(got) != 1 {
				t.Fatalf("expected 1 diagnostic, got %d", len(got))
			}
			if got[0].Line != tt.line {
				t.Errorf("expected line %d, got %d (%s)", tt.line, got[0].Line, got[0])
			}
			if !strings.Contains(got[0].Message, tt.msg) {
				t.Errorf("expected message containing %q, got %q", tt.msg, got[0].Message)
			}
			if n := len(store.Roots()); n != 0 {
				t.Errorf("expected no roots after a failed compile, got %d", n)
			}
		})
	}
}

func TestHostHandler(t *testing.T) {
	r := DefaultRegistry()
	r.Handle(HandlerFunc(func(s *Scope, cur *scanner.Cursor) (bool, error) {
		if !cur.MatchKeyword("spawn") {
			return false, nil
		}
		m, err := s.Begin("spawned")
		if err != nil {
			return false, err
		}
		m.Op(script.OpPushTrue)
		return true, m.End()
	}))
	store := script.NewStore()
	u, err := New(store, WithRegistry(r)).Compile("host", `spawn; x = 1;`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.Join(names(store.Mutations(u.Root)), ","); got != "spawned,x" {
		t.Errorf("expected spawned,x, got %s", got)
	}
}

func TestDocumentsShareTerms(t *testing.T) {
	store := script.NewStore()
	c := New(store)
	for _, src := range []string{`a = "hi"; if (a) { b = 1; }`, `c = "hi"; if (c) { d = 1; }`} {
		if _, err := c.Compile("doc", src); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	// "hi" and the if instruction.
	if n := store.Terms().Len(); n != 2 {
		t.Errorf("expected 2 terms, got %d", n)
	}
}
