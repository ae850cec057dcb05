package herd

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"nickandperla.net/herd/internal/store"
)

func newRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	r, err := New(opts...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func parse(t *testing.T, r *Runtime, src string) {
	t.Helper()
	if _, err := r.Parse("test", src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func resolve(t *testing.T, r *Runtime) {
	t.Helper()
	if err := r.Resolve(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func variable(t *testing.T, r *Runtime, obj ObjectID, name string) any {
	t.Helper()
	v, ok, err := r.ObjectVariable(obj, name)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected %s to be set", name)
	}
	return r.Decode(v)
}

func TestPreludeConstants(t *testing.T) {
	r := newRuntime(t, WithMemoryLibrary())
	obj := r.AllocateObject()
	resolve(t, r)
	if got := variable(t, r, obj, "PI"); got != float32(3.1415927) {
		t.Errorf("expected PI, got %v", got)
	}
}

func TestNoPreludeOption(t *testing.T) {
	r := newRuntime(t, WithNoPrelude())
	obj := r.AllocateObject()
	resolve(t, r)
	if _, ok, err := r.ObjectVariable(obj, "PI"); err != nil || ok {
		t.Errorf("expected no PI without prelude, got ok=%v err=%v", ok, err)
	}
}

func TestCustomPrelude(t *testing.T) {
	r := newRuntime(t, WithPrelude("answer = 42;"))
	obj := r.AllocateObject()
	resolve(t, r)
	if got := variable(t, r, obj, "answer"); got != int32(42) {
		t.Errorf("expected 42, got %v", got)
	}
}

func TestLibraryPreludeOverride(t *testing.T) {
	lib := store.NewMemory()
	if _, err := lib.Put(PreludeDocument, "answer = 7;"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := newRuntime(t, WithLibrary(lib), WithPrelude("answer = 42;"))
	obj := r.AllocateObject()
	resolve(t, r)
	if got := variable(t, r, obj, "answer"); got != int32(7) {
		t.Errorf("expected the library prelude to win, got %v", got)
	}
}

func TestBadPrelude(t *testing.T) {
	if _, err := New(WithPrelude("x = ;"), WithDiagnostics(func(Diagnostic) {})); !errors.Is(err, ErrCompile) {
		t.Errorf("expected ErrCompile, got %v", err)
	}
}

func TestClasses(t *testing.T) {
	r := newRuntime(t, WithNoPrelude())
	parse(t, r, `
		class Wolf { speed = 3; }
		class Pup extends Wolf { size = speed - 2; }
		kind = "animal";
	`)
	obj := r.AllocateObject()
	if err := r.SetObjectClass(obj, "Pup"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	plain := r.AllocateObject()
	resolve(t, r)

	if got := variable(t, r, obj, "size"); got != int32(1) {
		t.Errorf("expected size 1, got %v", got)
	}
	if got := variable(t, r, obj, "kind"); got != "animal" {
		t.Errorf("expected kind animal, got %v", got)
	}
	if _, ok, _ := r.ObjectVariable(plain, "speed"); ok {
		t.Errorf("expected a global object not to run class bodies")
	}
	if got := strings.Join(r.Classes().Names(), ","); got != "Pup,Wolf" {
		t.Errorf("expected recorded classes Pup,Wolf, got %s", got)
	}
	info, ok := r.Classes().Get("Wolf")
	if !ok || len(info.Roots) != 1 {
		t.Fatalf("expected one root for Wolf, got %+v", info)
	}
	if id, _ := r.ClassID("Wolf"); info.ID != id {
		t.Errorf("expected recorded id %d, got %d", id, info.ID)
	}
	if proto, _ := r.ObjectClass(obj); proto == GlobalClass {
		t.Errorf("expected obj to keep its class")
	}
}

func TestSetObjectClassUnknown(t *testing.T) {
	r := newRuntime(t, WithNoPrelude())
	obj := r.AllocateObject()
	if err := r.SetObjectClass(obj, "Nope"); !errors.Is(err, ErrNoSuchClass) {
		t.Errorf("expected ErrNoSuchClass, got %v", err)
	}
	if _, err := r.Parse("broken", `class Ghost { g = 1; } x = ;`); !errors.Is(err, ErrCompile) {
		t.Fatalf("expected ErrCompile, got %v", err)
	}
	if err := r.SetObjectClass(obj, "Ghost"); !errors.Is(err, ErrNoSuchClass) {
		t.Errorf("expected a class from a failed document to be unknown, got %v", err)
	}
}

func TestHostClassService(t *testing.T) {
	host := NewClasses()
	r := newRuntime(t, WithNoPrelude(), WithService("classes", host))
	parse(t, r, `class Sheep { wool = 1; }`)
	r.AllocateObject()
	resolve(t, r)
	if !host.Has("Sheep") {
		t.Errorf("expected the host registry to record Sheep")
	}
	if r.Classes().Has("Sheep") {
		t.Errorf("expected the default registry to stay empty")
	}
}

func TestIncrementalDocuments(t *testing.T) {
	r := newRuntime(t, WithNoPrelude())
	parse(t, r, `x = 2;`)
	obj := r.AllocateObject()
	resolve(t, r)
	before := r.Stats().Executions

	resolve(t, r)
	r.MarkAllDirty()
	resolve(t, r)
	if got := r.Stats().Executions; got != before {
		t.Errorf("expected no executions without new blocks, got %d more", got-before)
	}

	parse(t, r, `y = x * 10;`)
	r.MarkAllDirty()
	resolve(t, r)
	if got := variable(t, r, obj, "y"); got != int32(20) {
		t.Errorf("expected 20, got %v", got)
	}
	stack, err := r.ObjectStack(obj)
	if err != nil || stack == NoStack {
		t.Fatalf("expected an evaluated stack, got %d (%v)", stack, err)
	}
	if v, ok, _ := r.GetEvaluationVariable(stack, "x"); !ok || r.Format(v) != "2" {
		t.Errorf("expected x = 2 in the history, got %s", r.Format(v))
	}
}

func TestLibrary(t *testing.T) {
	r := newRuntime(t, WithNoPrelude(), WithSQLiteLibrary(filepath.Join(t.TempDir(), "herd.db")))
	if v, err := r.Save("main", `greeting = "hi";`); err != nil || v != 1 {
		t.Fatalf("expected version 1, got %d (%v)", v, err)
	}
	if _, err := r.ParseLibrary("main"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	obj := r.AllocateObject()
	resolve(t, r)
	if v, _, _ := r.ObjectVariable(obj, "greeting"); r.Format(v) != `"hi"` {
		t.Errorf("expected \"hi\", got %s", r.Format(v))
	}
	if _, err := r.ParseLibrary("missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestNoLibrary(t *testing.T) {
	r := newRuntime(t, WithNoPrelude())
	if _, err := r.ParseLibrary("main"); !errors.Is(err, ErrNoLibrary) {
		t.Errorf("expected ErrNoLibrary, got %v", err)
	}
	if _, err := r.Save("main", "x = 1;"); !errors.Is(err, ErrNoLibrary) {
		t.Errorf("expected ErrNoLibrary, got %v", err)
	}
}

func TestParseFileAndDiagnostics(t *testing.T) {
	var diags []Diagnostic
	r := newRuntime(t, WithNoPrelude(), WithDiagnostics(func(d Diagnostic) { diags = append(diags, d) }))
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.herd")
	if err := os.WriteFile(path, []byte("x = 1;\ny = (2;"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := r.ParseFile(path); !errors.Is(err, ErrCompile) {
		t.Fatalf("expected ErrCompile, got %v", err)
	}
	if len(diags) != 1 || diags[0].Document != "bad.herd" || diags[0].Line != 2 {
		t.Errorf("unexpected diagnostics: %v", diags)
	}
	if _, err := r.ParseFile(filepath.Join(dir, "missing.herd")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestReleaseObject(t *testing.T) {
	r := newRuntime(t)
	obj := r.AllocateObject()
	resolve(t, r)
	if err := r.ReleaseObject(obj); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.Objects()) != 0 {
		t.Errorf("expected no live objects, got %v", r.Objects())
	}
	if _, err := r.ObjectStack(obj); err == nil {
		t.Errorf("expected an error for a released object")
	}
}

func TestDisassemble(t *testing.T) {
	r := newRuntime(t, WithNoPrelude())
	parse(t, r, `x = 1; if (x) { y = 2; }`)
	dis := r.Disassemble()
	for _, want := range []string{"block 0", "block 1", "INVOKE"} {
		if !strings.Contains(dis, want) {
			t.Errorf("expected %q in:\n%s", want, dis)
		}
	}
}

func TestObjectVariables(t *testing.T) {
	r := newRuntime(t, WithNoPrelude())
	parse(t, r, `b = 1; a = b; if (a) { c = 2; }`)
	obj := r.AllocateObject()
	resolve(t, r)
	names, err := r.ObjectVariables(obj)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.Join(names, ","); got != "a,b,c" {
		t.Errorf("expected a,b,c, got %s", got)
	}
	if name, ok := r.ClassName(GlobalClass); !ok || name != "" {
		t.Errorf("expected the global class to be unnamed, got %q", name)
	}
}

func TestHistoryAndDelete(t *testing.T) {
	r := newRuntime(t, WithNoPrelude(), WithMemoryLibrary())
	for _, src := range []string{"a = 1;", "a = 2;", "a = 2;"} {
		if _, err := r.Save("flock", src); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	entries, err := r.History("flock", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 || entries[0].Version != 2 || entries[1].Source != "a = 1;" {
		t.Errorf("unexpected history %+v", entries)
	}
	if err := r.Delete("flock"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entries, _ := r.History("flock", 0); len(entries) != 0 {
		t.Errorf("expected no history after delete, got %+v", entries)
	}

	bare := newRuntime(t, WithNoPrelude())
	if bare.Library() == nil {
		if _, err := bare.History("flock", 0); !errors.Is(err, ErrNoLibrary) {
			t.Errorf("expected ErrNoLibrary, got %v", err)
		}
		if err := bare.Delete("flock"); !errors.Is(err, ErrNoLibrary) {
			t.Errorf("expected ErrNoLibrary, got %v", err)
		}
	}
}
