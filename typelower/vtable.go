package typelower

import (
	"fmt"

	"github.com/tswasm/lower/dataseg"
	"github.com/tswasm/lower/errs"
	"github.com/tswasm/lower/internal/names"
	"github.com/tswasm/lower/internal/visitor"
	"github.com/tswasm/lower/internal/wasmir"
	"github.com/tswasm/lower/sem"
)

// baseChain returns c's ancestor chain including c itself, root-first. A
// class cannot extend itself directly or transitively; the front end is
// responsible for rejecting that, but this pass still detects it rather
// than recursing forever, the same way closctx.Lookup treats a
// front-end invariant breach as fatal.
func baseChain(c *sem.Class) []*sem.Class {
	var chain []*sem.Class
	v := visitor.New(func(cur *sem.Class) bool {
		chain = append(chain, cur)
		return true
	})
	for cur := c; cur != nil; cur = cur.Base {
		if v.Visited(cur) {
			errs.Panic(fmt.Sprintf("cyclic base-class chain involving %q", cur.Name))
		}
		v.Yield(cur)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// VTableSlots returns c's method slots in vtable order: base-class slots
// first (inherited order preserved), followed by c's own newly declared
// methods; an override replaces its base slot in place rather than
// appending. The result is memoized since it is computed once per class
// and every call/new-expression site needs the same slot indices.
func (l *Lowerer) VTableSlots(c *sem.Class) []*sem.Function {
	if slots, ok := l.vtableSlots[c]; ok {
		return slots
	}
	var slots []*sem.Function
	for _, ancestor := range baseChain(c) {
		for _, m := range ancestor.Methods {
			replaced := false
			for i, existing := range slots {
				if existing.Name == m.Name {
					slots[i] = m
					replaced = true
					break
				}
			}
			if !replaced {
				slots = append(slots, m)
			}
		}
	}
	l.vtableSlots[c] = slots
	return slots
}

// MethodSlotIndex returns m's index within c's vtable, or ok=false if m
// is not one of c's slots.
func (l *Lowerer) MethodSlotIndex(c *sem.Class, name string) (index int, ok bool) {
	for i, m := range l.VTableSlots(c) {
		if m.Name == name {
			return i, true
		}
	}
	return 0, false
}

// ClassVTableType returns the struct type listing one (non-nullable)
// funcref field per method slot, memoized per class.
func (l *Lowerer) ClassVTableType(c *sem.Class) uint32 {
	if idx, ok := l.classVTable[c]; ok {
		return idx
	}
	slots := l.VTableSlots(c)
	fields := make([]wasmir.FieldType, len(slots))
	for i := range slots {
		fields[i] = wasmir.FieldType{
			Type:    wasmir.Ref(wasmir.RefType{Heap: wasmir.HeapType{Abstract: wasmir.HeapFunc}, Nullable: false}),
			Mutable: false,
		}
	}
	idx := l.mod.AddType(wasmir.StructType{Fields: fields})
	l.classVTable[c] = idx
	return idx
}

// ClassVTableGlobalName returns the mangled name of the single shared
// vtable-value global for c.
func ClassVTableGlobalName(c *sem.Class) string {
	return names.Unique(c.Name + "$vtable")
}

// ClassVTableValue constructs the one global vtable instance for c: a
// StructNew populating each slot with a RefFunc to that method's mangled
// function name.
func (l *Lowerer) ClassVTableValue(c *sem.Class, mangledMethodName func(*sem.Function) string) *wasmir.Global {
	slots := l.VTableSlots(c)
	fields := make([]wasmir.Instr, len(slots))
	for i, m := range slots {
		fields[i] = &wasmir.RefFunc{Name: mangledMethodName(m)}
	}
	return &wasmir.Global{
		Name:    ClassVTableGlobalName(c),
		Type:    wasmir.Ref(wasmir.RefType{Heap: wasmir.ConcreteHeap(l.ClassVTableType(c)), Nullable: false}),
		Mutable: false,
		Init:    &wasmir.StructNew{TypeIndex: l.ClassVTableType(c), Fields: fields},
	}
}

// ClassStructType returns the instance struct type: the vtable field
// (always index 0) followed by one field per member field, inherited
// fields first, memoized per class.
func (l *Lowerer) ClassStructType(c *sem.Class) uint32 {
	if idx, ok := l.classStruct[c]; ok {
		return idx
	}
	fields := make([]wasmir.FieldType, 0, len(c.AllFields())+1)
	fields = append(fields, wasmir.FieldType{
		Type:    wasmir.Ref(wasmir.RefType{Heap: wasmir.ConcreteHeap(l.ClassVTableType(c)), Nullable: false}),
		Mutable: false,
	})
	for _, f := range c.AllFields() {
		fields = append(fields, wasmir.FieldType{Type: l.ValueType(f.Type), Mutable: !f.ReadOnly})
	}
	idx := l.mod.AddType(wasmir.StructType{Fields: fields})
	l.classStruct[c] = idx
	return idx
}

// FieldSlotIndex returns field name's 1-based struct-field index within
// c's instance struct (field 0 is always the vtable), searching
// inherited fields first as ClassStructType lays them out.
func (l *Lowerer) FieldSlotIndex(c *sem.Class, name string) (index int, ok bool) {
	for i, f := range c.AllFields() {
		if f.Name == name {
			return i + 1, true
		}
	}
	return 0, false
}

// itableKindForField and itableKindForMethod return the itable entry
// kind for a plain field and a method; ItableOffset picks the getter and
// setter kinds itself.
func itableKindForField() dataseg.ItableEntryKind  { return dataseg.ItableField }
func itableKindForMethod() dataseg.ItableEntryKind { return dataseg.ItableMethod }

// ItableOffset returns the linear-memory offset of c's itable, writing it
// into the Data Segment Arena on first reference and returning the
// cached offset thereafter. internName interns each member name into the
// arena (deduplicated, since the same name may recur across classes).
func (l *Lowerer) ItableOffset(c *sem.Class, internName func(string) uint32) uint32 {
	if off, ok := l.itableOffset[c]; ok {
		return off
	}
	var entries []dataseg.ItableEntry
	for i, f := range c.AllFields() {
		entries = append(entries, dataseg.ItableEntry{
			NameOffset: internName(f.Name),
			Kind:       itableKindForField(),
			SlotIndex:  uint32(i + 1),
		})
	}
	for _, m := range l.VTableSlots(c) {
		kind := itableKindForMethod()
		switch m.Kind {
		case sem.FuncGetter:
			kind = dataseg.ItableGetter
		case sem.FuncSetter:
			kind = dataseg.ItableSetter
		}
		slot, _ := l.MethodSlotIndex(c, m.Name)
		entries = append(entries, dataseg.ItableEntry{
			NameOffset: internName(m.Name),
			Kind:       kind,
			SlotIndex:  uint32(slot),
		})
	}
	off := l.arena.WriteItable(c.ID, entries)
	l.itableOffset[c] = off
	return off
}
