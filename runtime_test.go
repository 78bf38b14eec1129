package main

import (
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"testing"
	"time"
)

func TestRuntimeCompileFlags(t *testing.T) {
	flags := runtimeCompileFlags()

	if !slices.Contains(flags, OPT_LEVEL) {
		t.Fatalf("missing optimize flag %q in %v", OPT_LEVEL, flags)
	}
	if !slices.Contains(flags, C_STD) {
		t.Fatalf("missing C standard flag %q in %v", C_STD, flags)
	}

	if runtime.GOOS == OS_WINDOWS {
		if slices.Contains(flags, FPIC) {
			t.Fatalf("did not expect %q on windows, got %v", FPIC, flags)
		}
		return
	}
	if !slices.Contains(flags, FPIC) {
		t.Fatalf("expected %q on non-windows, got %v", FPIC, flags)
	}
}

func TestIsHashDir(t *testing.T) {
	valid := []string{"a1b2c3d4", "00000000", "deadbeef"}
	for _, name := range valid {
		if !isHashDir(name) {
			t.Errorf("expected %q to be a hash dir", name)
		}
	}
	invalid := []string{"", "a1b2c3d", "a1b2c3d4e", "zzzzzzzz", ".lock"}
	for _, name := range invalid {
		if isHashDir(name) {
			t.Errorf("did not expect %q to be a hash dir", name)
		}
	}
}

func TestRuntimeInfo(t *testing.T) {
	short1, full1, srcCount, err := runtimeInfo()
	if err != nil {
		t.Fatalf("runtimeInfo: %v", err)
	}
	if len(short1) != 8 {
		t.Fatalf("short hash %q is not 8 chars", short1)
	}
	if full1[:8] != short1 {
		t.Fatalf("short hash %q is not a prefix of %q", short1, full1)
	}
	if srcCount != 1 {
		t.Fatalf("expected 1 embedded runtime source, got %d", srcCount)
	}

	short2, full2, _, err := runtimeInfo()
	if err != nil {
		t.Fatalf("runtimeInfo: %v", err)
	}
	if short1 != short2 || full1 != full2 {
		t.Fatalf("runtimeInfo is not deterministic: %q vs %q", full1, full2)
	}
}

func TestExtractRuntime(t *testing.T) {
	dir := t.TempDir()
	if err := extractRuntime(dir); err != nil {
		t.Fatalf("extractRuntime: %v", err)
	}
	src := filepath.Join(dir, "quill_capture.c")
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("expected extracted source at %s: %v", src, err)
	}
}

func TestCleanupOldRuntimesKeepsRecent(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().Add(-30 * 24 * time.Hour)
	names := []string{"aaaaaaaa", "bbbbbbbb", "cccccccc"}
	for _, name := range names {
		sub := filepath.Join(dir, name)
		if err := os.Mkdir(sub, 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(sub, old, old); err != nil {
			t.Fatal(err)
		}
		// Stagger mtimes so the keep order is well defined.
		old = old.Add(time.Hour)
	}
	// Not a hash dir; must survive regardless of age.
	if err := os.Mkdir(filepath.Join(dir, "notahash"), 0755); err != nil {
		t.Fatal(err)
	}

	cleanupOldRuntimes(dir, 1, 7*24*60*60)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var remaining []string
	for _, e := range entries {
		remaining = append(remaining, e.Name())
	}
	if slices.Contains(remaining, "aaaaaaaa") || slices.Contains(remaining, "bbbbbbbb") {
		t.Fatalf("expected oldest runtime dirs removed, got %v", remaining)
	}
	if !slices.Contains(remaining, "cccccccc") || !slices.Contains(remaining, "notahash") {
		t.Fatalf("expected recent and non-hash dirs kept, got %v", remaining)
	}
}

func TestCleanupOldRuntimesRespectsMinAge(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"aaaaaaaa", "bbbbbbbb"} {
		if err := os.Mkdir(filepath.Join(dir, name), 0755); err != nil {
			t.Fatal(err)
		}
	}

	// Fresh directories stay even when over the keep limit.
	cleanupOldRuntimes(dir, 1, 7*24*60*60)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected fresh runtime dirs kept, got %d entries", len(entries))
	}
}
