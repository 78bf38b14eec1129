package compiler

import (
	"github.com/quill-lang/quill/ast"
)

// Capture is one enclosing-scope variable a closure body references.
type Capture struct {
	Decl  *ast.VarDecl
	ByRef bool
}

// CaptureSet is the analyzer's output: the captured variables in
// first-reference order, de-duplicated, plus whether the body contains
// nested closure expressions.
type CaptureSet struct {
	Captures  []Capture
	HasNested bool
}

func (s *CaptureSet) Empty() bool { return len(s.Captures) == 0 }

// CanBeGlobal reports whether every evaluation of the closure expression
// may share one static record instance. An empty capture set is necessary;
// a nested closure additionally blocks promotion, since proving the nested
// body needs no stack-relative address is beyond this analysis.
func (s *CaptureSet) CanBeGlobal() bool {
	return s.Empty() && !s.HasNested
}

// AnalyzeCaptures walks a closure body and collects the enclosing-scope
// variables it references. The walk descends into nested closures, so a
// reference made only by an inner closure still forces the outer one to
// capture; declarations belonging to any inner context (including the
// closure's own parameters and locals) are excluded. Free functions are
// never captured.
func AnalyzeCaptures(expr *ast.ClosureExpr) *CaptureSet {
	set := &CaptureSet{}

	inner := map[*ast.DeclContext]bool{expr.Context: true}
	seen := map[*ast.VarDecl]bool{}

	var visit func(n ast.Node) bool
	visit = func(n ast.Node) bool {
		switch v := n.(type) {
		case *ast.ClosureExpr:
			if v != expr {
				inner[v.Context] = true
				set.HasNested = true
			}
		case *ast.VarRef:
			d := v.Decl
			if d.IsFunc {
				return true
			}
			if d.Owner != nil && inner[d.Owner] {
				return true
			}
			if !seen[d] {
				seen[d] = true
				set.Captures = append(set.Captures, Capture{Decl: d, ByRef: d.ByRef})
			}
		}
		return true
	}

	for _, stmt := range expr.Body {
		ast.Inspect(stmt, visit)
	}
	return set
}
