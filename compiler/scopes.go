package compiler

import (
	"tinygo.org/x/go-llvm"

	"github.com/quill-lang/quill/ast"
)

type ScopeKind int

const (
	FuncScope ScopeKind = iota
)

// Symbol is the lowered storage for one resolved variable: the address of
// its stack slot (or capture-record slot) and its Quill type.
type Symbol struct {
	Ptr      llvm.Value
	Type     ast.Type
	Captured bool // storage lives in the current closure's capture record
}

type Scope struct {
	Symbols   map[*ast.VarDecl]*Symbol
	ScopeKind ScopeKind
}

func NewScope(sk ScopeKind) Scope {
	return Scope{
		Symbols:   make(map[*ast.VarDecl]*Symbol),
		ScopeKind: sk,
	}
}

func PushScope(scopes *[]Scope, sk ScopeKind) {
	*scopes = append(*scopes, NewScope(sk))
}

func PopScope(scopes *[]Scope) {
	if len(*scopes) == 1 {
		panic("cannot pop global scope")
	}
	*scopes = (*scopes)[:len(*scopes)-1]
}

// Put does not need a pointer, as it modifies the map within a scope, not
// the slice itself.
func Put(scopes []Scope, decl *ast.VarDecl, sym *Symbol) {
	scopes[len(scopes)-1].Symbols[decl] = sym
}

// Get searches from the innermost scope outward, stopping at a function
// boundary. A variable not found here inside a closure entry point is a
// captured variable and must be recovered through the capture record.
func Get(scopes []Scope, decl *ast.VarDecl) (*Symbol, bool) {
	for i := len(scopes) - 1; i >= 0; i-- {
		if s, ok := scopes[i].Symbols[decl]; ok {
			return s, true
		}
		if scopes[i].ScopeKind == FuncScope {
			break
		}
	}
	return nil, false
}
