// Command obfusku is the Obfusku language CLI: run, compile, load, repl,
// and symbols subcommands over the glyph lexer/compiler/VM pipeline.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/sxnnyside/obfusku/internal/bytecode"
	"github.com/sxnnyside/obfusku/internal/compiler"
	"github.com/sxnnyside/obfusku/internal/config"
	"github.com/sxnnyside/obfusku/internal/lexer"
	"github.com/sxnnyside/obfusku/internal/modules"
	"github.com/sxnnyside/obfusku/internal/serialize"
	"github.com/sxnnyside/obfusku/internal/symbols"
	"github.com/sxnnyside/obfusku/internal/vm"
)

// projectConfig loads .obfusku.yaml from the current directory, if present,
// and returns a module Loader seeded with its search_paths.
func projectConfig() (config.ProjectConfig, *modules.Loader) {
	cfg, err := config.LoadProjectConfig(".obfusku.yaml")
	if err != nil {
		fatalf("reading .obfusku.yaml: %s", err)
	}
	return cfg, modules.NewLoader(cfg.SearchPaths)
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	debug := false
	var rest []string
	for _, a := range args {
		if a == "--debug" {
			debug = true
			continue
		}
		rest = append(rest, a)
	}
	args = rest

	switch args[0] {
	case "run":
		handleRun(args[1:], debug)
	case "compile":
		handleCompile(args[1:])
	case "load":
		handleLoad(args[1:], debug)
	case "repl":
		handleRepl(debug)
	case "symbols":
		handleSymbols(args[1:])
	case "-help", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", args[0])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: obfusku <run|compile|load|repl|symbols> [args] [--debug]")
	fmt.Fprintln(os.Stderr, "  run <file.obk>                  compile and execute a source file")
	fmt.Fprintln(os.Stderr, "  compile <file.obk> [--output o] [--disassemble]")
	fmt.Fprintln(os.Stderr, "  load <file.obc>                 execute a pre-compiled bytecode file")
	fmt.Fprintln(os.Stderr, "  repl                             interactive read-eval-print loop")
	fmt.Fprintln(os.Stderr, "  symbols [--category cat]        list the glyph registry")
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}

func compileFile(path string) *bytecode.Chunk {
	src, err := os.ReadFile(path)
	if err != nil {
		fatalf("reading %s: %s", path, err)
	}
	toks, err := lexer.New(string(src)).Tokenize()
	if err != nil {
		fatalf("%s", err)
	}
	chunk, err := compiler.Compile(toks, path)
	if err != nil {
		fatalf("%s", err)
	}
	return chunk
}

func handleRun(args []string, debug bool) {
	if len(args) == 0 {
		fatalf("usage: obfusku run <file.obk>")
	}
	cfg, loader := projectConfig()
	path, err := loader.Resolve(args[0])
	if err != nil {
		fatalf("%s", err)
	}
	runChunk(compileFile(path), debug || cfg.Debug)
}

func handleCompile(args []string) {
	if len(args) == 0 {
		fatalf("usage: obfusku compile <file.obk> [--output out.obc]")
	}
	path := args[0]
	out := config.TrimSourceExt(path) + config.CompiledExt
	disassemble := false
	for i := 1; i < len(args); i++ {
		switch args[i] {
		case "--output":
			if i+1 < len(args) {
				out = args[i+1]
				i++
			}
		case "--disassemble":
			disassemble = true
		}
	}
	c := compileFile(path)
	if disassemble {
		fmt.Print(bytecode.Disassemble(c))
	}
	f, err := os.Create(out)
	if err != nil {
		fatalf("creating %s: %s", out, err)
	}
	defer f.Close()
	if err := serialize.Write(f, c); err != nil {
		fatalf("serializing: %s", err)
	}
	fmt.Printf("compiled %s -> %s\n", path, out)
}

func handleLoad(args []string, debug bool) {
	if len(args) == 0 {
		fatalf("usage: obfusku load <file.obc>")
	}
	f, err := os.Open(args[0])
	if err != nil {
		fatalf("opening %s: %s", args[0], err)
	}
	defer f.Close()
	chunk, err := serialize.Read(f)
	if err != nil {
		fatalf("loading %s: %s", args[0], err)
	}
	runChunk(chunk, debug)
}

func handleSymbols(args []string) {
	category := ""
	for i := 0; i < len(args); i++ {
		if args[i] == "--category" && i+1 < len(args) {
			category = args[i+1]
			i++
		}
	}
	cats := map[string]symbols.Category{
		"type":       symbols.CategoryTypeDeclaration,
		"operator":   symbols.CategoryOperator,
		"control":    symbols.CategoryControlFlow,
		"io":         symbols.CategoryInputOutput,
		"special":    symbols.CategorySpecialValue,
		"modifier":   symbols.CategoryModifier,
		"delimiter":  symbols.CategoryDelimiter,
		"comparison": symbols.CategoryComparison,
		"logical":    symbols.CategoryLogical,
	}
	if category != "" {
		cat, ok := cats[category]
		if !ok {
			fatalf("unknown category %q", category)
		}
		for _, s := range symbols.InCategory(cat) {
			fmt.Printf("%s  %s\n", s.Glyph, s.Description)
		}
		return
	}
	for _, name := range []string{"type", "operator", "control", "io", "special", "modifier", "delimiter", "comparison", "logical"} {
		fmt.Printf("-- %s --\n", name)
		for _, s := range symbols.InCategory(cats[name]) {
			fmt.Printf("%s  %s\n", s.Glyph, s.Description)
		}
	}
}

func handleRepl(debug bool) {
	cfg, _ := projectConfig()
	debug = debug || cfg.Debug
	interactive := isatty.IsTerminal(os.Stdin.Fd())
	reader := bufio.NewScanner(os.Stdin)

	var history []string
	var pending []string

	if interactive {
		fmt.Println("obfusku repl — end a spell with ❧, :help for commands")
	}
	for {
		if interactive {
			if len(pending) == 0 {
				fmt.Print("⚓ ")
			} else {
				fmt.Print("… ")
			}
		}
		if !reader.Scan() {
			return
		}
		line := strings.TrimSpace(reader.Text())
		if line == "" {
			continue
		}

		if len(pending) == 0 && strings.HasPrefix(line, ":") {
			switch {
			case line == ":quit" || line == ":q":
				return
			case line == ":help" || line == ":h":
				replHelp()
				continue
			case line == ":symbols" || line == ":s":
				handleSymbols(nil)
				continue
			case line == ":debug" || line == ":d":
				debug = !debug
				fmt.Printf("debug trace %v\n", debug)
				continue
			case line == ":history" || line == ":hist":
				for i, spell := range history {
					fmt.Printf("%3d  %s\n", i+1, spell)
				}
				continue
			case line == ":clear" || line == ":c":
				fmt.Print("\033[2J\033[H")
				continue
			case line == ":reset" || line == ":r":
				history = nil
				pending = nil
				fmt.Println("session reset")
				continue
			case strings.HasPrefix(line, ":!"):
				n, err := strconv.Atoi(line[2:])
				if err != nil || n < 1 || n > len(history) {
					fmt.Fprintf(os.Stderr, "no history entry %s\n", line[2:])
					continue
				}
				line = history[n-1]
				fmt.Println(line)
			default:
				fmt.Fprintf(os.Stderr, "unknown command %s (:help for the list)\n", line)
				continue
			}
		}

		// A spell may span lines; accumulate until the end-program glyph.
		pending = append(pending, line)
		if !strings.Contains(line, "❧") {
			continue
		}
		spell := strings.Join(pending, "\n")
		pending = nil
		history = append(history, spell)

		runSpell(spell, debug)
	}
}

func replHelp() {
	fmt.Println("  :help :h        show this help")
	fmt.Println("  :symbols :s     list the glyph registry")
	fmt.Println("  :debug :d       toggle per-instruction trace")
	fmt.Println("  :history :hist  show entered spells")
	fmt.Println("  :!N             re-run spell N from history")
	fmt.Println("  :clear :c       clear the screen")
	fmt.Println("  :reset :r       forget history and pending input")
	fmt.Println("  :quit :q        exit")
}

// runSpell compiles and executes one REPL spell in a fresh context, so a
// failed or halted spell never poisons the next one.
func runSpell(src string, debug bool) {
	toks, err := lexer.New(src).Tokenize()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	chunk, err := compiler.Compile(toks, "repl")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	ctx := vm.NewContext([]*bytecode.Chunk{chunk}, osWriter{}, bufioReader{bufio.NewScanner(os.Stdin)})
	interp := vm.NewInterpreter(ctx)
	interp.Debug = debug
	if err := interp.Run(0); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}

func runChunk(c *bytecode.Chunk, debug bool) {
	ctx := vm.NewContext([]*bytecode.Chunk{c}, osWriter{}, bufioReader{bufio.NewScanner(os.Stdin)})
	interp := vm.NewInterpreter(ctx)
	interp.Debug = debug
	if err := interp.Run(0); err != nil {
		fatalf("%s", err)
	}
}

type osWriter struct{}

func (osWriter) WriteString(s string) (int, error) { return fmt.Print(s) }

type bufioReader struct{ s *bufio.Scanner }

func (b bufioReader) ReadLine() (string, error) {
	if !b.s.Scan() {
		if err := b.s.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("obfusku: unexpected end of input")
	}
	return b.s.Text(), nil
}
