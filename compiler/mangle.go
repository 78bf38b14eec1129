package compiler

import (
	"fmt"

	"github.com/quill-lang/quill/ast"
)

// Symbol naming for generated functions and globals. The scheme is flat and
// C-linker safe: a fixed "_Q" prefix, a tag for the entity kind, then the
// class name. Constructor and destructor variants get distinct symbols
// because each variant is a distinct function in the object file.

const symPrefix = "_Q"

func ctorTag(v CtorVariant) string {
	switch v {
	case CtorComplete:
		return "C1"
	case CtorBase:
		return "C2"
	}
	panic(fmt.Sprintf("unknown constructor variant %d", v))
}

func dtorTag(v DtorVariant) string {
	switch v {
	case DtorDeleting:
		return "D0"
	case DtorComplete:
		return "D1"
	case DtorBase:
		return "D2"
	}
	panic(fmt.Sprintf("unknown destructor variant %d", v))
}

// MangleCtor names a constructor variant, e.g. _QC1_Box.
func MangleCtor(class *ast.ClassDecl, v CtorVariant) string {
	return symPrefix + ctorTag(v) + "_" + class.Name
}

// MangleDtor names a destructor variant, e.g. _QD2_Box.
func MangleDtor(class *ast.ClassDecl, v DtorVariant) string {
	return symPrefix + dtorTag(v) + "_" + class.Name
}

// MangleCopyAssign names the (implicit or user) copy assignment operator.
func MangleCopyAssign(class *ast.ClassDecl) string {
	return symPrefix + "As_" + class.Name
}

// MangleVTable names the vtable global of a class.
func MangleVTable(class *ast.ClassDecl) string {
	return symPrefix + "VT_" + class.Name
}

// MangleVBT names the virtual-base-table global of a class.
func MangleVBT(class *ast.ClassDecl) string {
	return symPrefix + "VBT_" + class.Name
}
