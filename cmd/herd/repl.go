//go:build !js || !wasm

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"nickandperla.net/herd/internal/config"
	"nickandperla.net/herd/pkg/herd"
)

func printBanner(w io.Writer) {
	fmt.Fprintln(w, "herd REPL (Ctrl+D to exit)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Each line is compiled as a new document, then every object is resolved.")
	fmt.Fprintln(w, "End a line with \\ to continue it. Commands:")
	fmt.Fprintln(w, "  :spawn Class=N   create objects      :objects  print every object")
	fmt.Fprintln(w, "  :disasm          print the blocks    :stats    print scheduler counters")
	fmt.Fprintln(w, "  :classes         list classes        :history name [N]  library versions")
	fmt.Fprintln(w, "  :delete name     delete a library document")
	fmt.Fprintln(w)
}

// session is the REPL state shared by the raw and basic line readers.
type session struct {
	runtime *herd.Runtime
	cfg     *config.Config
	out     io.Writer
	eol     string
	n       int
}

func runREPL(runtime *herd.Runtime, cfg *config.Config, out io.Writer) {
	printBanner(out)
	s := &session{runtime: runtime, cfg: cfg, out: out, eol: "\n"}

	// Check if stdin is a terminal
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		runBasicREPL(s, os.Stdin)
		return
	}

	runRawREPL(s)
}

// printf writes with the session's line ending.
func (s *session) printf(format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	if s.eol != "\n" {
		text = strings.ReplaceAll(text, "\n", s.eol)
	}
	fmt.Fprint(s.out, text)
}

// handle runs one complete input.
func (s *session) handle(input string) {
	input = strings.TrimSpace(input)
	if input == "" {
		return
	}
	if strings.HasPrefix(input, ":") {
		s.command(input[1:])
		return
	}

	s.n++
	if _, err := s.runtime.Parse(fmt.Sprintf("repl:%d", s.n), input); err != nil {
		s.printf("Error: %v\n", err)
		return
	}
	s.resolve()
}

func (s *session) resolve() {
	s.runtime.MarkAllDirty()
	if err := s.runtime.Resolve(); err != nil {
		s.printf("Error: %v\n", err)
		return
	}
	s.objects()
}

func (s *session) objects() {
	for _, obj := range s.runtime.Objects() {
		line, err := formatObject(s.runtime, obj, s.cfg.Output.Vars)
		if err != nil {
			s.printf("Error: %v\n", err)
			return
		}
		s.printf("%s\n", line)
	}
}

func (s *session) command(cmd string) {
	name, arg, _ := strings.Cut(cmd, " ")
	switch name {
	case "spawn":
		spawn, err := parseSpawn(arg)
		if err != nil {
			s.printf("Error: %v\n", err)
			return
		}
		cfg := *s.cfg
		cfg.Simulation.Spawn = spawn
		if len(spawn) == 0 {
			cfg.Simulation.Spawn = map[string]int{"": 1}
		}
		if err := spawnObjects(s.runtime, &cfg); err != nil {
			s.printf("Error: %v\n", err)
			return
		}
		s.resolve()
	case "objects":
		s.objects()
	case "disasm":
		s.printf("%s", s.runtime.Disassemble())
	case "stats":
		st := s.runtime.Stats()
		s.printf("passes %d, executions %d, group steps %d, memo hits %d, failures %d\n",
			st.Passes, st.Executions, st.GroupSteps, st.MemoHits, st.Failures)
	case "classes":
		classes := s.runtime.Classes()
		for _, n := range classes.Names() {
			info, _ := classes.Get(n)
			s.printf("%s: id %d, %d root(s), declared %d time(s)\n", n, info.ID, len(info.Roots), info.Declared)
		}
	case "history":
		doc, limit, err := parseHistoryArgs(arg)
		if err != nil {
			s.printf("Error: %v\n", err)
			return
		}
		entries, err := s.runtime.History(doc, limit)
		if err != nil {
			s.printf("Error: %v\n", err)
			return
		}
		if len(entries) == 0 {
			s.printf("No versions of %q\n", doc)
		}
		for _, e := range entries {
			s.printf("v%d %s\n%s\n", e.Version, e.Ts, e.Source)
		}
	case "delete":
		doc := strings.TrimSpace(arg)
		if doc == "" {
			s.printf("Error: usage :delete name\n")
			return
		}
		if err := s.runtime.Delete(doc); err != nil {
			s.printf("Error: %v\n", err)
			return
		}
		s.printf("Deleted %s\n", doc)
	default:
		s.printf("Unknown command: :%s\n", name)
	}
}

// parseHistoryArgs parses "name [limit]".
func parseHistoryArgs(arg string) (string, int, error) {
	fields := strings.Fields(arg)
	switch len(fields) {
	case 1:
		return fields[0], 0, nil
	case 2:
		limit, err := strconv.Atoi(fields[1])
		if err != nil || limit < 0 {
			return "", 0, fmt.Errorf("bad history limit %q", fields[1])
		}
		return fields[0], limit, nil
	}
	return "", 0, fmt.Errorf("usage :history name [limit]")
}

// lineJoiner assembles backslash-continued lines.
type lineJoiner struct {
	multiline strings.Builder
	active    bool
}

func (j *lineJoiner) prompt() string {
	if j.active {
		return "... "
	}
	return ">>> "
}

// add returns the complete input once a line does not end in a backslash.
func (j *lineJoiner) add(line string) (string, bool) {
	if strings.HasSuffix(line, "\\") {
		j.multiline.WriteString(strings.TrimSuffix(line, "\\"))
		j.multiline.WriteString("\n")
		j.active = true
		return "", false
	}
	if !j.active {
		return line, true
	}
	j.multiline.WriteString(line)
	input := j.multiline.String()
	j.multiline.Reset()
	j.active = false
	return input, true
}

// runBasicREPL handles non-TTY input (piped input)
func runBasicREPL(s *session, in io.Reader) {
	reader := bufio.NewReader(in)
	var j lineJoiner
	for {
		s.printf("%s", j.prompt())
		line, err := reader.ReadString('\n')
		if err != nil {
			s.printf("\n")
			return
		}
		if input, ok := j.add(strings.TrimRight(line, "\r\n")); ok {
			s.handle(input)
		}
	}
}

// runRawREPL handles TTY input with line editing and history
func runRawREPL(s *session) {
	fd := int(os.Stdin.Fd())

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set raw mode: %v\n", err)
		runBasicREPL(s, os.Stdin)
		return
	}
	defer term.Restore(fd, oldState)
	s.eol = "\r\n"

	var j lineJoiner
	var history []string
	for {
		s.printf("%s", j.prompt())
		line, eof := readLineRaw(fd, history)
		if eof {
			s.printf("\n")
			return
		}
		if strings.TrimSpace(line) != "" {
			history = append(history, line)
		}
		if input, ok := j.add(line); ok {
			s.handle(input)
		}
	}
}

// readLineRaw reads a line in raw mode. Up and down arrows walk history.
// Returns the line and whether EOF was encountered
func readLineRaw(fd int, history []string) (string, bool) {
	var line []rune
	cursor := 0 // Position in line (for arrow key navigation)
	hist := len(history)
	buf := make([]byte, 1)

	// Helper to redraw line from cursor position
	redrawFromCursor := func() {
		// Clear from cursor to end of line
		fmt.Print("\x1b[K")
		for i := cursor; i < len(line); i++ {
			fmt.Print(string(line[i]))
		}
		if cursor < len(line) {
			fmt.Printf("\x1b[%dD", len(line)-cursor)
		}
	}

	replace := func(text string) {
		if cursor > 0 {
			fmt.Printf("\x1b[%dD", cursor)
		}
		line = []rune(text)
		cursor = 0
		redrawFromCursor()
		if len(line) > 0 {
			fmt.Printf("\x1b[%dC", len(line))
		}
		cursor = len(line)
	}

	insert := func(r rune) {
		newLine := make([]rune, 0, len(line)+1)
		newLine = append(newLine, line[:cursor]...)
		newLine = append(newLine, r)
		newLine = append(newLine, line[cursor:]...)
		line = newLine
		cursor++
		fmt.Print(string(r))
		if cursor < len(line) {
			redrawFromCursor()
		}
	}

	for {
		n, err := os.Stdin.Read(buf)
		if err != nil || n == 0 {
			return string(line), true
		}

		b := buf[0]

		switch b {
		case 0x04: // Ctrl+D
			if len(line) == 0 {
				return "", true
			}
			if cursor < len(line) {
				line = append(line[:cursor], line[cursor+1:]...)
				redrawFromCursor()
			}

		case 0x03: // Ctrl+C
			fmt.Print("^C\r\n")
			return "", false

		case 0x0d, 0x0a: // Enter (CR or LF)
			fmt.Print("\r\n")
			return string(line), false

		case 0x7f, 0x08: // Backspace (DEL or BS)
			if cursor > 0 {
				cursor--
				line = append(line[:cursor], line[cursor+1:]...)
				fmt.Print("\b")
				redrawFromCursor()
			}

		case 0x1b: // ESC: arrow key sequence
			seq := make([]byte, 2)
			if n, err := os.Stdin.Read(seq[:1]); err != nil || n == 0 || seq[0] != '[' {
				continue
			}
			if n, err := os.Stdin.Read(seq[1:]); err != nil || n == 0 {
				continue
			}
			switch seq[1] {
			case 'A': // Up arrow
				if hist > 0 {
					hist--
					replace(history[hist])
				}
			case 'B': // Down arrow
				if hist < len(history)-1 {
					hist++
					replace(history[hist])
				} else if hist < len(history) {
					hist = len(history)
					replace("")
				}
			case 'C': // Right arrow
				if cursor < len(line) {
					cursor++
					fmt.Print("\x1b[C")
				}
			case 'D': // Left arrow
				if cursor > 0 {
					cursor--
					fmt.Print("\x1b[D")
				}
			case '3': // Delete key: ESC [ 3 ~
				delBuf := make([]byte, 1)
				os.Stdin.Read(delBuf)
				if delBuf[0] == '~' && cursor < len(line) {
					line = append(line[:cursor], line[cursor+1:]...)
					redrawFromCursor()
				}
			}

		case 0x01: // Ctrl+A - beginning of line
			if cursor > 0 {
				fmt.Printf("\x1b[%dD", cursor)
				cursor = 0
			}

		case 0x05: // Ctrl+E - end of line
			if cursor < len(line) {
				fmt.Printf("\x1b[%dC", len(line)-cursor)
				cursor = len(line)
			}

		case 0x0b: // Ctrl+K - kill to end of line
			if cursor < len(line) {
				line = line[:cursor]
				fmt.Print("\x1b[K")
			}

		case 0x15: // Ctrl+U - kill to beginning of line
			if cursor > 0 {
				fmt.Printf("\x1b[%dD", cursor)
				line = line[cursor:]
				cursor = 0
				redrawFromCursor()
			}

		default:
			if b >= 0x20 && b < 0x7f {
				insert(rune(b))
			} else if b >= 0x80 {
				// UTF-8 multi-byte sequence - read remaining bytes
				utfBuf := []byte{b}
				numBytes := 0
				if b&0xE0 == 0xC0 {
					numBytes = 1
				} else if b&0xF0 == 0xE0 {
					numBytes = 2
				} else if b&0xF8 == 0xF0 {
					numBytes = 3
				}
				for i := 0; i < numBytes; i++ {
					n, err := os.Stdin.Read(buf)
					if err != nil || n == 0 {
						break
					}
					utfBuf = append(utfBuf, buf[0])
				}
				insert([]rune(string(utfBuf))[0])
			}
		}
	}
}
