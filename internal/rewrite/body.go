package rewrite

import (
	"github.com/pkg/errors"

	"unmock/internal/bridge"
	"unmock/internal/classfile"
)

// boxing maps a primitive descriptor to its wrapper class.
var boxing = map[byte]string{
	'Z': "java/lang/Boolean",
	'B': "java/lang/Byte",
	'C': "java/lang/Character",
	'S': "java/lang/Short",
	'I': "java/lang/Integer",
	'J': "java/lang/Long",
	'F': "java/lang/Float",
	'D': "java/lang/Double",
}

var loadOp = map[byte]byte{
	'Z': classfile.OpIload, 'B': classfile.OpIload, 'C': classfile.OpIload,
	'S': classfile.OpIload, 'I': classfile.OpIload,
	'J': classfile.OpLload, 'F': classfile.OpFload, 'D': classfile.OpDload,
}

var returnOp = map[bridge.Category]byte{
	bridge.Void:    classfile.OpReturn,
	bridge.Boolean: classfile.OpIreturn,
	bridge.Int:     classfile.OpIreturn,
	bridge.Long:    classfile.OpLreturn,
	bridge.Byte:    classfile.OpIreturn,
	bridge.Float:   classfile.OpFreturn,
	bridge.Double:  classfile.OpDreturn,
	bridge.Object:  classfile.OpAreturn,
}

// delegate replaces the body of m with a bridge call.
func (r *Rewriter) delegate(cls *classfile.Class, m *classfile.Member, res *Result) error {
	key, err := SignatureKey(cls.Name(), m)
	if err != nil {
		return err
	}
	mt, err := classfile.ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return err
	}
	cat := bridge.CategoryOf(mt.Return)

	a := classfile.NewAssembler(cls.Pool)
	stack := emitBridgeCall(a, key, m.IsStatic(), mt, cat)
	switch {
	case cat != bridge.Object:
		a.Op(returnOp[cat])
	case mt.Return.Dims == 0 && mt.Return.Base == 'S':
		a.Class(classfile.OpCheckcast, "java/lang/Short")
		a.Invoke(classfile.OpInvokevirtual, "java/lang/Short", "shortValue", "()S")
		a.Op(classfile.OpIreturn)
	case mt.Return.Dims == 0 && mt.Return.Base == 'C':
		a.Class(classfile.OpCheckcast, "java/lang/Character")
		a.Invoke(classfile.OpInvokevirtual, "java/lang/Character", "charValue", "()C")
		a.Op(classfile.OpIreturn)
	default:
		if t := mt.Return.InternalName(); t != "java/lang/Object" {
			a.Class(classfile.OpCheckcast, t)
		}
		a.Op(classfile.OpAreturn)
	}
	if err := a.Err(); err != nil {
		return err
	}

	if err := replaceBody(cls, m, a.Bytes(), stack, locals(m, mt)); err != nil {
		return err
	}
	res.Delegated++
	res.Events = append(res.Events, Event{Method: key, Target: bridgeTarget(bridge.Dispatch(cat).Name), Kind: EventDelegate})
	return nil
}

// delegateConstructor replaces a constructor body with a call to the
// superclass no-argument constructor followed by a void bridge call on this.
func (r *Rewriter) delegateConstructor(cls *classfile.Class, m *classfile.Member, res *Result) error {
	super := cls.SuperName()
	if super == "" {
		return errors.New("constructor of a class without superclass")
	}
	if err := r.checkSuperConstructor(super); err != nil {
		return err
	}
	key, err := SignatureKey(cls.Name(), m)
	if err != nil {
		return err
	}
	mt, err := classfile.ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return err
	}

	a := classfile.NewAssembler(cls.Pool)
	a.Op(classfile.OpAload0)
	a.Invoke(classfile.OpInvokespecial, super, classfile.InitName, "()V")
	stack := emitBridgeCall(a, key, false, mt, bridge.Void)
	a.Op(classfile.OpReturn)
	if err := a.Err(); err != nil {
		return err
	}

	if err := replaceBody(cls, m, a.Bytes(), stack, locals(m, mt)); err != nil {
		return err
	}
	res.Delegated++
	res.Events = append(res.Events, Event{Method: key, Target: bridgeTarget(bridge.Dispatch(bridge.Void).Name), Kind: EventDelegate})
	return nil
}

func (r *Rewriter) checkSuperConstructor(super string) error {
	if r.opts.Supers == nil {
		return nil
	}
	sc, err := r.opts.Supers.LookupClass(super)
	if err != nil {
		return errors.Wrapf(err, "superclass %s", super)
	}
	if sc != nil && sc.Method(classfile.InitName, "()V") == nil {
		return errors.Errorf("superclass %s has no no-argument constructor", classfile.DottedName(super))
	}
	return nil
}

// emitBridgeCall pushes (key, receiver, boxed arguments) and invokes the
// dispatch method for cat. It returns the max stack depth of the sequence.
func emitBridgeCall(a *classfile.Assembler, key string, static bool, mt classfile.MethodType, cat bridge.Category) uint16 {
	a.LoadString(key)
	if static {
		a.Op(classfile.OpAconstNull)
	} else {
		a.Op(classfile.OpAload0)
	}
	a.PushInt(len(mt.Params))
	a.Class(classfile.OpAnewarray, "java/lang/Object")

	stack := 3
	slot := 0
	if !static {
		slot = 1
	}
	for i, p := range mt.Params {
		a.Op(classfile.OpDup)
		a.PushInt(i)
		if p.IsPrimitive() {
			a.Local(loadOp[p.Base], slot)
			box := boxing[p.Base]
			a.Invoke(classfile.OpInvokestatic, box, "valueOf", "("+string(p.Base)+")L"+box+";")
		} else {
			a.Local(classfile.OpAload, slot)
		}
		a.Op(classfile.OpAastore)
		stack = max(stack, 5+p.Slots())
		slot += p.Slots()
	}

	d := bridge.Dispatch(cat)
	a.Invoke(classfile.OpInvokestatic, bridge.ClassName, d.Name, d.Descriptor)
	if cat == bridge.Long || cat == bridge.Double {
		stack = max(stack, 2)
	}
	return uint16(stack)
}

func locals(m *classfile.Member, mt classfile.MethodType) uint16 {
	n := mt.ParamSlots()
	if !m.IsStatic() {
		n++
	}
	return uint16(n)
}

// replaceBody installs a fresh Code attribute; the old one goes with its
// exception table, stack map and debug tables.
func replaceBody(cls *classfile.Class, m *classfile.Member, code []byte, stack, locals uint16) error {
	m.RemoveAttribute(classfile.AttrCode)
	return cls.SetCode(m, &classfile.Code{MaxStack: stack, MaxLocals: locals, Bytecode: code})
}

func bridgeTarget(method string) string {
	return classfile.DottedName(bridge.ClassName) + "." + method
}
