package token

import "fmt"

// Pos identifies a location in a resolved source file. The lowering engine
// never tokenizes anything itself; positions arrive on the resolved AST from
// the upstream semantic phase and are carried through for diagnostics.
type Pos struct {
	FileName string
	Line     int
	Column   int
}

func (p Pos) IsValid() bool {
	return p.Line > 0
}

func (p Pos) String() string {
	if p.FileName == "" {
		return fmt.Sprintf("%d:%d", p.Line, p.Column)
	}
	return fmt.Sprintf("%s:%d:%d", p.FileName, p.Line, p.Column)
}

// CompileError is a user-visible diagnostic produced while lowering a
// construct. Internal invariant violations are not CompileErrors; those
// panic, because they indicate a compiler bug rather than bad input.
type CompileError struct {
	Pos Pos
	Msg string
}

func (e *CompileError) Error() string {
	if !e.Pos.IsValid() {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}
