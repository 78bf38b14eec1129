package compiler

import (
	"fmt"

	"tinygo.org/x/go-llvm"

	"github.com/quill-lang/quill/ast"
	"github.com/quill-lang/quill/layout"
)

// InstallVTablePointers stores a vtable pointer at every dynamic
// sub-object of a complete object of class rooted at this. Virtual bases
// are handled first, at their complete-object offsets, because they are
// constructed before anything else; the class's own non-virtual hierarchy
// follows in one depth-first pass from offset zero.
func (c *Compiler) InstallVTablePointers(class *ast.ClassDecl, this llvm.Value) {
	if !class.Dynamic {
		return
	}
	this = c.bitcastToI8Ptr(this)
	for _, vbase := range class.VBases {
		c.installVtablePtrsRecursive(class, vbase, c.Layout.VBaseOffset(class, vbase), this)
	}
	c.installVtablePtrsRecursive(class, class, 0, this)
}

func (c *Compiler) installVtablePtrsRecursive(complete, cls *ast.ClassDecl, offset uint64, this llvm.Value) {
	if cls.Dynamic {
		c.storeVtablePtr(complete, cls, offset, this)
	}
	for _, spec := range cls.Bases {
		// Virtual bases were already visited at their complete-object
		// offsets; revisiting them here would install a second, wrong
		// address point for the shared sub-object.
		if spec.Virtual {
			continue
		}
		c.installVtablePtrsRecursive(complete, spec.Class, offset+c.Layout.BaseOffset(cls, spec.Class), this)
	}
}

// storeVtablePtr writes the address point for one (static type, offset)
// sub-object. A missing address point means the layout service and the
// class graph disagree, which is a compiler bug.
func (c *Compiler) storeVtablePtr(complete, cls *ast.ClassDecl, offset uint64, this llvm.Value) {
	ap, ok := c.Layout.AddressPoint(complete, layout.SubObject{Class: cls, Offset: offset})
	if !ok {
		panic(fmt.Sprintf("no vtable address point for %s at offset %d in %s", cls.Name, offset, complete.Name))
	}

	vtable := c.vtableGlobal(complete)
	addrPoint := c.builder.CreateGEP(c.i8PtrType(), vtable, []llvm.Value{c.ConstI64(ap)}, "vtable.addrpoint")

	fieldAddr := c.byteGEP(this, offset, "vptr.addr")
	slot := c.builder.CreateBitCast(fieldAddr, llvm.PointerType(c.i8PtrType(), 0), "")
	c.builder.CreateStore(addrPoint, slot)
}
