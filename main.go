package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fatih/color"
	"tinygo.org/x/go-llvm"

	"github.com/quill-lang/quill/compiler"
	"github.com/quill-lang/quill/fixture"
)

var FIXTURE_SUFFIX = ".quill.toml"
var IR_SUFFIX = ".ll"

var OPT_LEVEL = "-O2" // Can be configured via flag

// defaultQuillCache gets env variable QUILLCACHE
// if it is not set sets it to default value for windows, mac, linux
func defaultQuillCache() string {
	if env := os.Getenv("QUILLCACHE"); env != "" {
		return env
	}

	homeDir, _ := os.UserHomeDir()
	var cache string
	switch runtime.GOOS {
	case "windows":
		if localAppData := os.Getenv("LocalAppData"); localAppData != "" {
			cache = filepath.Join(localAppData, "quill")
			return cache
		}
		cache = filepath.Join(homeDir, "AppData", "Local", "quill")

	case "darwin":
		cache = filepath.Join(homeDir, "Library", "Caches", "quill")

	default: // Linux and others
		if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
			cache = filepath.Join(xdg, "quill")
			return cache
		}
		cache = filepath.Join(homeDir, ".cache", "quill")
	}

	os.Setenv("QUILLCACHE", cache)
	return cache
}

// compileManifest lowers one fixture manifest to LLVM IR written next to
// the input file.
func compileManifest(path string) error {
	m, err := fixture.Load(path)
	if err != nil {
		return err
	}
	prog, err := m.Build()
	if err != nil {
		return fmt.Errorf("resolve fixture %s: %w", path, err)
	}

	ctx := llvm.NewContext()
	defer ctx.Dispose()

	c := compiler.NewCompiler(ctx, prog.Name, prog.Layout, nil)
	for _, class := range prog.Order {
		c.CompileClass(class)
	}
	for _, rc := range prog.Closures {
		c.CompileClosureHost(rc.Name, rc.Locals, rc.Expr)
	}

	if len(c.Errors) > 0 {
		for _, e := range c.Errors {
			color.Red("%s: %s", path, e)
		}
		return fmt.Errorf("%d unsupported constructs in %s", len(c.Errors), path)
	}

	ir := c.GenerateIR()
	outPath := strings.TrimSuffix(path, FIXTURE_SUFFIX) + IR_SUFFIX
	if err := os.WriteFile(outPath, []byte(ir), 0644); err != nil {
		return fmt.Errorf("write IR to %s: %w", outPath, err)
	}
	color.Green("✓ %s -> %s", filepath.Base(path), filepath.Base(outPath))
	return nil
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	skipRuntime := flag.Bool("no-runtime", false, "skip building the capture runtime")
	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	cwd := "."
	if flag.NArg() > 0 {
		cwd = flag.Arg(0)
	}

	entries, err := os.ReadDir(cwd)
	if err != nil {
		color.Red("Error reading directory %s: %v", cwd, err)
		os.Exit(1)
	}

	var manifests []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), FIXTURE_SUFFIX) {
			manifests = append(manifests, filepath.Join(cwd, entry.Name()))
		}
	}
	if len(manifests) == 0 {
		fmt.Printf("No %s files found under %s\n", FIXTURE_SUFFIX, cwd)
		return
	}

	if !*skipRuntime {
		cache := defaultQuillCache()
		if err := os.MkdirAll(cache, 0755); err != nil {
			color.Red("Error creating QUILLCACHE directory: %v", err)
			os.Exit(1)
		}
		if _, err := prepareRuntime(cache); err != nil {
			color.Red("Error preparing capture runtime: %v", err)
			os.Exit(1)
		}
	}

	failed := 0
	for _, manifest := range manifests {
		if err := compileManifest(manifest); err != nil {
			color.Red("%v", err)
			failed++
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}
