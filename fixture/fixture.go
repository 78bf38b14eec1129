// Package fixture loads declarative class and closure descriptions from
// TOML manifests. The lowering engine normally sits behind a frontend that
// is not part of this repository; manifests stand in for it, supplying
// resolved declarations plus the precomputed layout tables the engine
// queries.
package fixture

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/quill-lang/quill/ast"
	"github.com/quill-lang/quill/layout"
)

type Manifest struct {
	Name     string        `toml:"name"`
	Classes  []ClassSpec   `toml:"class"`
	Closures []ClosureSpec `toml:"closure"`
}

type ClassSpec struct {
	Name    string `toml:"name"`
	Size    uint64 `toml:"size"`
	Align   uint64 `toml:"align"`
	Dynamic bool   `toml:"dynamic"`

	UserCopyCtor      bool `toml:"user_copy_ctor"`
	UserCopyAssign    bool `toml:"user_copy_assign"`
	TrivialCopyCtor   bool `toml:"trivial_copy_ctor"`
	TrivialCopyAssign bool `toml:"trivial_copy_assign"`
	TrivialDtor       bool `toml:"trivial_dtor"`

	Bases         []BaseSpec         `toml:"base"`
	VBases        []VBaseSpec        `toml:"vbase"`
	Fields        []FieldSpec        `toml:"field"`
	AddressPoints []AddressPointSpec `toml:"addresspoint"`
}

type BaseSpec struct {
	Class   string `toml:"class"`
	Virtual bool   `toml:"virtual"`
	Offset  uint64 `toml:"offset"`
}

// VBaseSpec records the complete-object placement of one virtual base:
// its offset, its (negative) indirection-table slot, and the index of its
// sub-table within the class's virtual-base table.
type VBaseSpec struct {
	Class     string `toml:"class"`
	Offset    uint64 `toml:"offset"`
	SlotIndex int64  `toml:"slot_index"`
	SubVBT    uint64 `toml:"sub_vbt"`
}

type FieldSpec struct {
	Name   string `toml:"name"`
	Type   string `toml:"type"`
	Offset uint64 `toml:"offset"`
}

// AddressPointSpec gives the vtable slot to install for one dynamic
// sub-object of a complete object of the enclosing class.
type AddressPointSpec struct {
	Class  string `toml:"class"`
	Offset uint64 `toml:"offset"`
	Slot   uint64 `toml:"slot"`
}

// ClosureSpec describes one closure to lower: the enclosing function's
// locals, which of them the body references, and the closure's parameters.
type ClosureSpec struct {
	Name     string        `toml:"name"`
	Params   []ParamSpec   `toml:"param"`
	Locals   []LocalSpec   `toml:"local"`
	Captures []CaptureSpec `toml:"capture"`
	Result   string        `toml:"result"`
}

type ParamSpec struct {
	Name string `toml:"name"`
	Type string `toml:"type"`
}

type LocalSpec struct {
	Name string `toml:"name"`
	Type string `toml:"type"`
}

type CaptureSpec struct {
	Var   string `toml:"var"`
	ByRef bool   `toml:"by_ref"`
}

// Load reads one manifest file.
func Load(path string) (*Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("decode fixture %s: %w", path, err)
	}
	return &m, nil
}

// Program is a manifest resolved into the engine's input types: class
// declarations by name, the layout table backing every offset query, and
// the closures to lower.
type Program struct {
	Name     string
	Classes  map[string]*ast.ClassDecl
	Order    []*ast.ClassDecl
	Layout   *layout.Table
	Closures []*ResolvedClosure
}

// ResolvedClosure pairs a closure expression with the enclosing-function
// locals the driver must materialize before emitting the literal.
type ResolvedClosure struct {
	Name   string
	Locals []*ast.VarDecl
	Expr   *ast.ClosureExpr
}

var arrayTypeRe = regexp.MustCompile(`^(.+)\[(\d+)\]$`)

// Build resolves a manifest: classes are declared first so bases and
// class-typed fields can reference any class in the file regardless of
// order.
func (m *Manifest) Build() (*Program, error) {
	p := &Program{
		Name:    m.Name,
		Classes: make(map[string]*ast.ClassDecl),
		Layout:  layout.NewTable(),
	}

	for i := range m.Classes {
		spec := &m.Classes[i]
		if _, dup := p.Classes[spec.Name]; dup {
			return nil, fmt.Errorf("class %s declared twice", spec.Name)
		}
		decl := &ast.ClassDecl{
			Name:              spec.Name,
			Dynamic:           spec.Dynamic,
			HasUserCopyCtor:   spec.UserCopyCtor,
			HasUserCopyAssign: spec.UserCopyAssign,
			TrivialCopyCtor:   spec.TrivialCopyCtor,
			TrivialCopyAssign: spec.TrivialCopyAssign,
			TrivialDtor:       spec.TrivialDtor,
		}
		if !spec.TrivialDtor {
			decl.Dtor = &ast.DestructorDecl{Class: decl}
		}
		p.Classes[spec.Name] = decl
		p.Order = append(p.Order, decl)
	}

	for i := range m.Classes {
		if err := p.resolveClass(&m.Classes[i]); err != nil {
			return nil, err
		}
	}

	for i := range m.Closures {
		rc, err := p.resolveClosure(&m.Closures[i])
		if err != nil {
			return nil, err
		}
		p.Closures = append(p.Closures, rc)
	}
	return p, nil
}

func (p *Program) resolveClass(spec *ClassSpec) error {
	decl := p.Classes[spec.Name]
	cl := p.Layout.Add(decl, spec.Size, spec.Align)

	for _, b := range spec.Bases {
		base, ok := p.Classes[b.Class]
		if !ok {
			return fmt.Errorf("class %s: unknown base %s", spec.Name, b.Class)
		}
		decl.Bases = append(decl.Bases, &ast.BaseSpecifier{Class: base, Virtual: b.Virtual})
		if !b.Virtual {
			cl.BaseOffsets[base] = b.Offset
		}
	}
	for _, vb := range spec.VBases {
		vbase, ok := p.Classes[vb.Class]
		if !ok {
			return fmt.Errorf("class %s: unknown virtual base %s", spec.Name, vb.Class)
		}
		decl.VBases = append(decl.VBases, vbase)
		cl.VBaseOffsets[vbase] = vb.Offset
		cl.VBaseIndices[vbase] = vb.SlotIndex
		cl.SubVBTIndices[vbase] = vb.SubVBT
	}
	for _, f := range spec.Fields {
		ft, err := p.parseType(f.Type)
		if err != nil {
			return fmt.Errorf("class %s, field %s: %w", spec.Name, f.Name, err)
		}
		decl.Fields = append(decl.Fields, &ast.Field{Name: f.Name, Type: ft})
		cl.FieldOffsets = append(cl.FieldOffsets, f.Offset)
	}
	for _, ap := range spec.AddressPoints {
		sub, ok := p.Classes[ap.Class]
		if !ok {
			return fmt.Errorf("class %s: address point for unknown class %s", spec.Name, ap.Class)
		}
		cl.AddressPoints[layout.SubObject{Class: sub, Offset: ap.Offset}] = ap.Slot
	}
	return nil
}

func (p *Program) resolveClosure(spec *ClosureSpec) (*ResolvedClosure, error) {
	rc := &ResolvedClosure{Name: spec.Name}

	locals := make(map[string]*ast.VarDecl)
	for _, l := range spec.Locals {
		lt, err := p.parseType(l.Type)
		if err != nil {
			return nil, fmt.Errorf("closure %s, local %s: %w", spec.Name, l.Name, err)
		}
		d := &ast.VarDecl{Name: l.Name, VType: lt}
		locals[l.Name] = d
		rc.Locals = append(rc.Locals, d)
	}

	expr := &ast.ClosureExpr{Context: &ast.DeclContext{Name: spec.Name}}
	for _, ps := range spec.Params {
		pt, err := p.parseType(ps.Type)
		if err != nil {
			return nil, fmt.Errorf("closure %s, param %s: %w", spec.Name, ps.Name, err)
		}
		expr.Params = append(expr.Params, &ast.VarDecl{Name: ps.Name, VType: pt, Owner: expr.Context})
	}
	if spec.Result != "" {
		rt, err := p.parseType(spec.Result)
		if err != nil {
			return nil, fmt.Errorf("closure %s result: %w", spec.Name, err)
		}
		expr.Result = rt
	}

	// The body is synthetic: one reference per captured variable, in
	// manifest order, which fixes the first-reference order the layout
	// depends on.
	for _, cs := range spec.Captures {
		d, ok := locals[cs.Var]
		if !ok {
			return nil, fmt.Errorf("closure %s captures unknown local %s", spec.Name, cs.Var)
		}
		d.ByRef = cs.ByRef
		expr.Body = append(expr.Body, &ast.ExprStatement{Expr: &ast.VarRef{Decl: d}})
	}
	rc.Expr = expr
	return rc, nil
}

// parseType maps a manifest type string to an engine type: the scalar
// names i1/i8/i16/i32/i64, f32/f64, c64/c128, ptr, closure, a class name,
// or Name[count] for a class array.
func (p *Program) parseType(s string) (ast.Type, error) {
	if m := arrayTypeRe.FindStringSubmatch(s); m != nil {
		elem, err := p.parseType(m[1])
		if err != nil {
			return nil, err
		}
		count, err := strconv.ParseUint(m[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad array count in %q: %w", s, err)
		}
		return ast.Array{Elem: elem, Count: count}, nil
	}

	switch s {
	case "i1":
		return ast.I1, nil
	case "i8":
		return ast.I8, nil
	case "i16":
		return ast.Int{Width: 16}, nil
	case "i32":
		return ast.I32, nil
	case "i64":
		return ast.I64, nil
	case "f32":
		return ast.Float{Width: 32}, nil
	case "f64":
		return ast.F64, nil
	case "c64":
		return ast.Complex{Width: 32}, nil
	case "c128":
		return ast.Complex{Width: 64}, nil
	case "ptr":
		return ast.Ptr{Elem: ast.I8}, nil
	case "closure":
		return ast.Closure{}, nil
	}

	if strings.HasPrefix(s, "&") {
		elem, err := p.parseType(s[1:])
		if err != nil {
			return nil, err
		}
		return ast.Ref{Elem: elem}, nil
	}
	if cls, ok := p.Classes[s]; ok {
		return ast.Class{Decl: cls}, nil
	}
	return nil, fmt.Errorf("unknown type %q", s)
}
