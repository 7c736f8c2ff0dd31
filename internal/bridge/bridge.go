// Package bridge synthesizes the dispatch class that rewritten method bodies
// call into. Each dispatch method takes (signature, receiver, arguments) and
// returns the zero value of its category; a test runtime swaps in real
// behavior by intercepting these calls.
package bridge

import (
	"unmock/internal/classfile"
)

// ClassName is the internal name of the synthesized class.
const ClassName = "de/mobilej/ABridge"

// DispatchArgs is the parameter list shared by every dispatch method.
const DispatchArgs = "(Ljava/lang/String;Ljava/lang/Object;[Ljava/lang/Object;)"

// Unpadded array allocation helper, used in place of
// dalvik.system.VMRuntime.newUnpaddedArray.
const (
	NewUnpaddedArrayName = "newUnpaddedArray"
	NewUnpaddedArrayDesc = "(Ljava/lang/Object;Ljava/lang/Class;I)Ljava/lang/Object;"
)

// Category is the return-type family a dispatch method handles.
type Category int

const (
	Void Category = iota
	Boolean
	Int
	Long
	Byte
	Float
	Double
	Object
	numCategories
)

// Method names one dispatch method.
type Method struct {
	Name       string
	Descriptor string
	ret        byte // return opcode
	zero       byte // opcode pushing the zero value, 0 for void
	stack      uint16
}

var dispatch = [numCategories]Method{
	Void:    {Name: "callVoid", Descriptor: DispatchArgs + "V", ret: classfile.OpReturn},
	Boolean: {Name: "callBoolean", Descriptor: DispatchArgs + "Z", ret: classfile.OpIreturn, zero: classfile.OpIconst0, stack: 1},
	Int:     {Name: "callInt", Descriptor: DispatchArgs + "I", ret: classfile.OpIreturn, zero: classfile.OpIconst0, stack: 1},
	Long:    {Name: "callLong", Descriptor: DispatchArgs + "J", ret: classfile.OpLreturn, zero: classfile.OpLconst0, stack: 2},
	Byte:    {Name: "callByte", Descriptor: DispatchArgs + "B", ret: classfile.OpIreturn, zero: classfile.OpIconst0, stack: 1},
	Float:   {Name: "callFloat", Descriptor: DispatchArgs + "F", ret: classfile.OpFreturn, zero: classfile.OpFconst0, stack: 1},
	Double:  {Name: "callDouble", Descriptor: DispatchArgs + "D", ret: classfile.OpDreturn, zero: classfile.OpDconst0, stack: 2},
	Object:  {Name: "callObject", Descriptor: DispatchArgs + "Ljava/lang/Object;", ret: classfile.OpAreturn, zero: classfile.OpAconstNull, stack: 1},
}

// Dispatch returns the dispatch method for a category.
func Dispatch(c Category) Method {
	if c < 0 || c >= numCategories {
		return dispatch[Object]
	}
	return dispatch[c]
}

// Categories lists every category in declaration order.
func Categories() []Category {
	out := make([]Category, 0, numCategories)
	for c := Void; c < numCategories; c++ {
		out = append(out, c)
	}
	return out
}

func (c Category) String() string {
	if c < 0 || c >= numCategories {
		return "unknown"
	}
	return dispatch[c].Name[len("call"):]
}

// CategoryOf maps a return type to its dispatch category. short, char,
// arrays and references all go through Object.
func CategoryOf(t classfile.Type) Category {
	if t.Dims > 0 {
		return Object
	}
	switch t.Base {
	case 'V':
		return Void
	case 'Z':
		return Boolean
	case 'I':
		return Int
	case 'J':
		return Long
	case 'B':
		return Byte
	case 'F':
		return Float
	case 'D':
		return Double
	}
	return Object
}

// Synthesize builds the bridge class.
func Synthesize() (*classfile.Class, error) {
	cls, err := classfile.New(ClassName, "java/lang/Object", classfile.AccPublic|classfile.AccSuper)
	if err != nil {
		return nil, err
	}

	ctor := classfile.NewAssembler(cls.Pool)
	ctor.Op(classfile.OpAload0)
	ctor.Invoke(classfile.OpInvokespecial, "java/lang/Object", classfile.InitName, "()V")
	ctor.Op(classfile.OpReturn)
	if err := add(cls, classfile.AccPublic, classfile.InitName, "()V", ctor, 1, 1); err != nil {
		return nil, err
	}

	for _, c := range Categories() {
		m := dispatch[c]
		a := classfile.NewAssembler(cls.Pool)
		if m.zero != 0 {
			a.Op(m.zero)
		}
		a.Op(m.ret)
		if err := add(cls, classfile.AccPublic|classfile.AccStatic, m.Name, m.Descriptor, a, m.stack, 3); err != nil {
			return nil, err
		}
	}

	arr := classfile.NewAssembler(cls.Pool)
	arr.Op(classfile.OpAload1)
	arr.Op(classfile.OpIload2)
	arr.Invoke(classfile.OpInvokestatic, "java/lang/reflect/Array", "newInstance", "(Ljava/lang/Class;I)Ljava/lang/Object;")
	arr.Op(classfile.OpAreturn)
	if err := add(cls, classfile.AccPublic|classfile.AccStatic, NewUnpaddedArrayName, NewUnpaddedArrayDesc, arr, 2, 3); err != nil {
		return nil, err
	}
	return cls, nil
}

func add(cls *classfile.Class, access uint16, name, desc string, a *classfile.Assembler, stack, locals uint16) error {
	if err := a.Err(); err != nil {
		return err
	}
	_, err := cls.AddMethod(access, name, desc, &classfile.Code{MaxStack: stack, MaxLocals: locals, Bytecode: a.Bytes()})
	return err
}
