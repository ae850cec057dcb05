// Command herd compiles herd scripts, spawns objects and resolves them.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"nickandperla.net/herd/internal/config"
	"nickandperla.net/herd/internal/store"
	"nickandperla.net/herd/pkg/herd"
)

// MainDocument is the library metadata key naming the document loaded when
// no script is given.
const MainDocument = "main"

var log = commonlog.GetLogger("herd.cli")

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// options holds the command line after merging it over the config file.
type options struct {
	cfg     *config.Config
	evalStr string
	file    string
	load    []string
	save    string
	disasm  bool
	outPath string
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("herd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath = fs.String("config", "", "Config file (default: herd.toml found from the working directory)")
		dbPath     = fs.String("db", "", "SQLite script library path (default: in memory)")
		file       = fs.String("f", "", "Compile script file")
		evalStr    = fs.String("e", "", "Compile script source")
		spawn      = fs.String("spawn", "", "Objects to create, as Class=N,... (an empty class is the global class)")
		ticks      = fs.Int("ticks", 0, "Number of resolve passes")
		vars       = fs.String("vars", "", "Comma-separated variables to print (default: all)")
		format     = fs.String("format", "", "Output format: text or cbor")
		outPath    = fs.String("o", "", "Write output to file instead of stdout")
		save       = fs.String("save", "", "Save the -f or -e source to the library under this name")
		load       = fs.String("load", "", "Comma-separated library documents to compile")
		verbosity  = fs.Int("v", 0, "Log verbosity")
		noPrelude  = fs.Bool("no-prelude", false, "Disable the standard prelude")
		disasm     = fs.Bool("disasm", false, "Print the compiled blocks instead of resolving")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.FindAndLoad(".")
	}
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}

	// Flags given explicitly override the config file.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["db"] {
		cfg.Library.DB = *dbPath
	}
	if set["no-prelude"] {
		cfg.Library.NoPrelude = *noPrelude
	}
	if set["ticks"] {
		cfg.Simulation.Ticks = *ticks
	}
	if set["spawn"] {
		cfg.Simulation.Spawn, err = parseSpawn(*spawn)
		if err != nil {
			return nil, err
		}
	}
	if set["vars"] {
		cfg.Output.Vars = splitList(*vars)
	}
	if set["format"] {
		cfg.Output.Format = *format
	}
	if set["v"] {
		cfg.Log.Verbosity = *verbosity
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{
		cfg:     cfg,
		evalStr: *evalStr,
		file:    *file,
		load:    append(cfg.Scripts.Load, splitList(*load)...),
		save:    *save,
		disasm:  *disasm,
		outPath: *outPath,
	}
	if o.outPath == "" {
		o.outPath = cfg.Resolve(cfg.Output.File)
	}
	if o.save != "" && o.file == "" && o.evalStr == "" {
		return nil, errors.New("-save needs -f or -e")
	}
	return o, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseSpawn parses "Wolf=3,Sheep=10". A bare class name spawns one object.
func parseSpawn(s string) (map[string]int, error) {
	spawn := make(map[string]int)
	for _, part := range splitList(s) {
		class, count, found := strings.Cut(part, "=")
		n := 1
		if found {
			var err error
			n, err = strconv.Atoi(strings.TrimSpace(count))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("bad spawn count in %q", part)
			}
		}
		spawn[strings.TrimSpace(class)] += n
	}
	return spawn, nil
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	o, err := parseArgs(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	cfg := o.cfg
	var logPath *string
	if cfg.Log.File != "" {
		p := cfg.Resolve(cfg.Log.File)
		logPath = &p
	}
	commonlog.Configure(cfg.Log.Verbosity, logPath)

	rtOpts := []herd.Option{
		herd.WithDiagnostics(func(d herd.Diagnostic) {
			fmt.Fprintf(stderr, "%s\n", d)
		}),
	}
	if cfg.Library.DB != "" {
		rtOpts = append(rtOpts, herd.WithSQLiteLibrary(cfg.Resolve(cfg.Library.DB)))
	} else {
		rtOpts = append(rtOpts, herd.WithMemoryLibrary())
	}
	if cfg.Library.NoPrelude {
		rtOpts = append(rtOpts, herd.WithNoPrelude())
	}

	runtime, err := herd.New(rtOpts...)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer runtime.Close()

	interactive, err := compileInputs(runtime, o, stdin)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if o.disasm {
		fmt.Fprint(stdout, runtime.Disassemble())
		return 0
	}

	if err := spawnObjects(runtime, cfg); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if interactive {
		runREPL(runtime, cfg, stdout)
		return 0
	}

	if err := tick(runtime, cfg.Simulation.Ticks); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	out := stdout
	if o.outPath != "" {
		f, err := os.Create(o.outPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer f.Close()
		out = f
	}
	if err := writeOutput(out, runtime, cfg.Output); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// compileInputs compiles library documents, configured scripts, -f and -e
// in that order. With none of them, it compiles the library's main document,
// or piped stdin. It reports true when the REPL should start instead.
func compileInputs(runtime *herd.Runtime, o *options, stdin io.Reader) (bool, error) {
	compiled := false

	for _, name := range o.load {
		if _, err := runtime.ParseLibrary(name); err != nil {
			return false, err
		}
		compiled = true
	}

	paths, err := o.cfg.ScriptPaths()
	if err != nil {
		return false, err
	}
	for _, path := range paths {
		if _, err := runtime.ParseFile(path); err != nil {
			return false, err
		}
		compiled = true
	}

	if o.file != "" {
		data, err := os.ReadFile(o.file)
		if err != nil {
			return false, err
		}
		if _, err := runtime.Parse(o.file, string(data)); err != nil {
			return false, err
		}
		if err := saveDocument(runtime, o.save, string(data)); err != nil {
			return false, err
		}
		compiled = true
	}

	if o.evalStr != "" {
		if _, err := runtime.Parse("-e", o.evalStr); err != nil {
			return false, err
		}
		if o.file == "" {
			if err := saveDocument(runtime, o.save, o.evalStr); err != nil {
				return false, err
			}
		}
		compiled = true
	}

	if compiled {
		return false, nil
	}

	if name := mainDocument(runtime); name != "" {
		log.Infof("compiling library document %q", name)
		_, err := runtime.ParseLibrary(name)
		return false, err
	}

	if isTerminal(stdin) {
		return true, nil
	}
	input, err := io.ReadAll(stdin)
	if err != nil {
		return false, fmt.Errorf("reading stdin: %w", err)
	}
	if strings.TrimSpace(string(input)) == "" {
		return false, nil
	}
	_, err = runtime.Parse("stdin", string(input))
	return false, err
}

// saveDocument stores source in the library and records it as the main
// document.
func saveDocument(runtime *herd.Runtime, name, source string) error {
	if name == "" {
		return nil
	}
	version, err := runtime.Save(name, source)
	if err != nil {
		return err
	}
	log.Infof("saved %q version %d", name, version)
	if meta, ok := runtime.Library().(store.MetadataStore); ok {
		return meta.SetMetadata(MainDocument, name)
	}
	return nil
}

func mainDocument(runtime *herd.Runtime) string {
	meta, ok := runtime.Library().(store.MetadataStore)
	if !ok {
		return ""
	}
	name, err := meta.GetMetadata(MainDocument)
	if err != nil {
		log.Warningf("reading main document: %v", err)
		return ""
	}
	return name
}

// spawnObjects creates the configured objects, in class name order. Without
// a spawn configuration one global object is created.
func spawnObjects(runtime *herd.Runtime, cfg *config.Config) error {
	if len(cfg.Simulation.Spawn) == 0 {
		runtime.AllocateObject()
		return nil
	}
	for _, class := range cfg.SpawnClasses() {
		for i := 0; i < cfg.Simulation.Spawn[class]; i++ {
			obj := runtime.AllocateObject()
			if class == "" {
				continue
			}
			if err := runtime.SetObjectClass(obj, class); err != nil {
				return err
			}
		}
	}
	return nil
}

// tick resolves ticks times, marking every object dirty before each pass.
func tick(runtime *herd.Runtime, ticks int) error {
	for i := 0; i < ticks; i++ {
		runtime.MarkAllDirty()
		if err := runtime.Resolve(); err != nil {
			return fmt.Errorf("tick %d: %w", i+1, err)
		}
		s := runtime.Stats()
		log.Debugf("tick %d: %d executions, %d group steps, %d memo hits, %d failures",
			i+1, s.Executions, s.GroupSteps, s.MemoHits, s.Failures)
	}
	return nil
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
