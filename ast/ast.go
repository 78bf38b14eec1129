package ast

import (
	"github.com/quill-lang/quill/token"
)

// The lowering engine consumes declarations and expressions that name
// resolution and type checking have already finished with. Nothing here is
// mutable once the upstream phase hands it over.

// The base Node interface.
type Node interface {
	Tok() token.Pos
}

// All statement nodes implement this.
type Statement interface {
	Node
	statementNode()
}

// All expression nodes implement this.
type Expression interface {
	Node
	expressionNode()
	Type() Type
}

// BaseSpecifier is one edge in a class's direct base list.
type BaseSpecifier struct {
	Class   *ClassDecl
	Virtual bool
}

// Field is a non-static data member.
type Field struct {
	Name string
	Type Type
}

// ClassDecl is a resolved class declaration. Triviality and polymorphism
// flags are computed upstream; lowering treats them as facts.
type ClassDecl struct {
	Token token.Pos
	Name  string

	Bases  []*BaseSpecifier // direct bases, declaration order
	VBases []*ClassDecl     // all virtual bases (direct and inherited), declaration order
	Fields []*Field         // non-static data members, declaration order

	Dynamic bool // has or inherits virtual functions

	HasUserCopyCtor   bool
	HasUserCopyAssign bool

	TrivialCopyCtor   bool
	TrivialCopyAssign bool
	TrivialDtor       bool

	Ctors []*ConstructorDecl
	Dtor  *DestructorDecl
}

func (c *ClassDecl) Tok() token.Pos { return c.Token }

// FieldIndex returns the declaration index of f, or -1.
func (c *ClassDecl) FieldIndex(f *Field) int {
	for i, cf := range c.Fields {
		if cf == f {
			return i
		}
	}
	return -1
}

// CopyCtor returns the class's copy constructor declaration, or nil.
func (c *ClassDecl) CopyCtor() *ConstructorDecl {
	for _, ct := range c.Ctors {
		if ct.IsCopy {
			return ct
		}
	}
	return nil
}

// DeclContext marks a lexical context that can own variable declarations:
// the enclosing function, or one closure expression. Capture analysis uses
// pointer identity to decide which context a referenced variable belongs to.
type DeclContext struct {
	Name string
}

// VarDecl is a resolved variable: a local of the enclosing function, a
// parameter, or a declaration local to a closure body.
type VarDecl struct {
	Token token.Pos
	Name  string
	VType Type

	Owner *DeclContext // declaring context; nil for enclosing-function scope

	IsFunc bool // refers to a free function; never captured
	ByRef  bool // source marked this variable captured by reference
}

func (v *VarDecl) Tok() token.Pos { return v.Token }

// ConstructorDecl is a resolved constructor with its initializer list in
// source order. The sequencer reorders to declaration order itself.
type ConstructorDecl struct {
	Token  token.Pos
	Class  *ClassDecl
	Params []*VarDecl
	Inits  []*Initializer

	Implicit  bool
	IsDefault bool
	IsCopy    bool
	Trivial   bool
}

func (c *ConstructorDecl) Tok() token.Pos { return c.Token }

// DestructorDecl is a resolved destructor.
type DestructorDecl struct {
	Token   token.Pos
	Class   *ClassDecl
	Trivial bool
}

func (d *DestructorDecl) Tok() token.Pos { return d.Token }

// Initializer targets either one base sub-object or one member. Exactly one
// of Base and Member is set.
type Initializer struct {
	Token  token.Pos
	Base   *ClassDecl
	Member *Field

	// Init is the resolved initializing expression. Nil for a member means
	// default initialization (arrays are zero-filled). For class-typed
	// targets Ctor names the designated constructor and Args its operands.
	Init Expression
	Ctor *ConstructorDecl
	Args []Expression
}

func (i *Initializer) Tok() token.Pos { return i.Token }

func (i *Initializer) IsBaseInitializer() bool { return i.Base != nil }

// Expressions

// IntLit is an integer literal with its resolved type.
type IntLit struct {
	Token token.Pos
	Value int64
	LType Type
}

func (e *IntLit) expressionNode() {}
func (e *IntLit) Tok() token.Pos  { return e.Token }
func (e *IntLit) Type() Type      { return e.LType }

// FloatLit is a floating literal with its resolved type.
type FloatLit struct {
	Token token.Pos
	Value float64
	LType Type
}

func (e *FloatLit) expressionNode() {}
func (e *FloatLit) Tok() token.Pos  { return e.Token }
func (e *FloatLit) Type() Type      { return e.LType }

// VarRef is a resolved reference to a variable in scope. Inside a closure
// body a VarRef may resolve to a declaration of an enclosing scope; capture
// analysis collects exactly those.
type VarRef struct {
	Token token.Pos
	Decl  *VarDecl
}

func (e *VarRef) expressionNode() {}
func (e *VarRef) Tok() token.Pos  { return e.Token }
func (e *VarRef) Type() Type      { return e.Decl.VType }

// AddrOf takes the address of its operand.
type AddrOf struct {
	Token   token.Pos
	Operand Expression
}

func (e *AddrOf) expressionNode() {}
func (e *AddrOf) Tok() token.Pos  { return e.Token }
func (e *AddrOf) Type() Type      { return Ptr{Elem: e.Operand.Type()} }

// BinaryExpr is a resolved arithmetic or comparison expression.
type BinaryExpr struct {
	Token token.Pos
	Op    string
	Left  Expression
	Right Expression
	LType Type
}

func (e *BinaryExpr) expressionNode() {}
func (e *BinaryExpr) Tok() token.Pos  { return e.Token }
func (e *BinaryExpr) Type() Type      { return e.LType }

// ClosureExpr is a closure literal: parameters, a body, and the context
// that owns declarations made inside the body.
type ClosureExpr struct {
	Token   token.Pos
	Context *DeclContext
	Params  []*VarDecl
	Result  Type // nil for no result
	Body    []Statement
}

func (e *ClosureExpr) expressionNode() {}
func (e *ClosureExpr) Tok() token.Pos  { return e.Token }

func (e *ClosureExpr) Type() Type {
	params := make([]Type, len(e.Params))
	for i, p := range e.Params {
		params[i] = p.VType
	}
	return Closure{Params: params, Result: e.Result}
}

// CallExpr calls a closure value (or a free function) with arguments.
type CallExpr struct {
	Token  token.Pos
	Callee Expression
	Args   []Expression
}

func (e *CallExpr) expressionNode() {}
func (e *CallExpr) Tok() token.Pos  { return e.Token }

func (e *CallExpr) Type() Type {
	if ct, ok := e.Callee.Type().(Closure); ok {
		return ct.Result
	}
	return nil
}

// Statements

// DeclStatement introduces a variable local to the current body.
type DeclStatement struct {
	Token token.Pos
	Decl  *VarDecl
	Value Expression // nil for default initialization
}

func (s *DeclStatement) statementNode() {}
func (s *DeclStatement) Tok() token.Pos { return s.Token }

// AssignStatement stores a value through a resolved target.
type AssignStatement struct {
	Token  token.Pos
	Target Expression // VarRef
	Value  Expression
}

func (s *AssignStatement) statementNode() {}
func (s *AssignStatement) Tok() token.Pos { return s.Token }

// ExprStatement evaluates an expression for its effects.
type ExprStatement struct {
	Token token.Pos
	Expr  Expression
}

func (s *ExprStatement) statementNode() {}
func (s *ExprStatement) Tok() token.Pos { return s.Token }

// ReturnStatement returns from the enclosing closure body.
type ReturnStatement struct {
	Token token.Pos
	Value Expression // nil for bare return
}

func (s *ReturnStatement) statementNode() {}
func (s *ReturnStatement) Tok() token.Pos { return s.Token }

// Inspect walks the tree rooted at n in depth-first order, calling f for
// each node. If f returns false for a node its children are skipped.
// The walk descends into nested closure bodies; callers that must not
// (or must, as capture analysis does) track contexts themselves.
func Inspect(n Node, f func(Node) bool) {
	if n == nil || !f(n) {
		return
	}
	switch v := n.(type) {
	case *AddrOf:
		Inspect(v.Operand, f)
	case *BinaryExpr:
		Inspect(v.Left, f)
		Inspect(v.Right, f)
	case *ClosureExpr:
		for _, s := range v.Body {
			Inspect(s, f)
		}
	case *CallExpr:
		Inspect(v.Callee, f)
		for _, a := range v.Args {
			Inspect(a, f)
		}
	case *DeclStatement:
		if v.Value != nil {
			Inspect(v.Value, f)
		}
	case *AssignStatement:
		Inspect(v.Target, f)
		Inspect(v.Value, f)
	case *ExprStatement:
		Inspect(v.Expr, f)
	case *ReturnStatement:
		if v.Value != nil {
			Inspect(v.Value, f)
		}
	}
}
