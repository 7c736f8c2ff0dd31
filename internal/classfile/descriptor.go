package classfile

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// ErrBadDescriptor reports a malformed field or method descriptor.
var ErrBadDescriptor = errors.New("classfile: malformed descriptor")

// Type is a parsed field type (or a method return type, which may be void).
type Type struct {
	Dims  int    // array dimensions
	Base  byte   // B C D F I J S Z V, or L for references
	Class string // internal name when Base is 'L'
}

// IsPrimitive reports whether the type is a non-array primitive (void excluded).
func (t Type) IsPrimitive() bool {
	return t.Dims == 0 && t.Base != 'L' && t.Base != 'V'
}

// Slots returns the number of local-variable slots a value of this type uses.
func (t Type) Slots() int {
	if t.Dims == 0 && (t.Base == 'J' || t.Base == 'D') {
		return 2
	}
	return 1
}

// Descriptor returns the JVM descriptor of the type.
func (t Type) Descriptor() string {
	var b strings.Builder
	for i := 0; i < t.Dims; i++ {
		b.WriteByte('[')
	}
	if t.Base == 'L' {
		b.WriteByte('L')
		b.WriteString(t.Class)
		b.WriteByte(';')
	} else {
		b.WriteByte(t.Base)
	}
	return b.String()
}

// InternalName returns the operand used by checkcast and anewarray: the class
// name for a plain reference, the descriptor for an array.
func (t Type) InternalName() string {
	if t.Dims == 0 && t.Base == 'L' {
		return t.Class
	}
	return t.Descriptor()
}

var javaPrimitives = map[byte]string{
	'B': "byte", 'C': "char", 'D': "double", 'F': "float",
	'I': "int", 'J': "long", 'S': "short", 'Z': "boolean", 'V': "void",
}

// JavaName returns the source-level spelling, e.g. "java.lang.String[]".
func (t Type) JavaName() string {
	name := javaPrimitives[t.Base]
	if t.Base == 'L' {
		name = strings.ReplaceAll(t.Class, "/", ".")
	}
	return name + strings.Repeat("[]", t.Dims)
}

// MethodType is a parsed method descriptor.
type MethodType struct {
	Params []Type
	Return Type
}

// ParamSlots returns the local-variable slots taken by the parameters.
func (mt MethodType) ParamSlots() int {
	n := 0
	for _, p := range mt.Params {
		n += p.Slots()
	}
	return n
}

// descriptorCache memoises parsed method descriptors; framework archives repeat
// the same few thousand descriptors across tens of thousands of methods.
var descriptorCache, _ = lru.New[string, MethodType](8192)

// ParseMethodDescriptor parses "(params)return". The returned Params slice is
// shared with the cache and must not be modified.
func ParseMethodDescriptor(desc string) (MethodType, error) {
	if mt, ok := descriptorCache.Get(desc); ok {
		return mt, nil
	}
	if len(desc) < 3 || desc[0] != '(' {
		return MethodType{}, errors.Wrapf(ErrBadDescriptor, "%q", desc)
	}
	var mt MethodType
	i := 1
	for i < len(desc) && desc[i] != ')' {
		t, n, err := parseType(desc[i:], false)
		if err != nil {
			return MethodType{}, errors.Wrapf(err, "%q", desc)
		}
		mt.Params = append(mt.Params, t)
		i += n
	}
	if i >= len(desc) {
		return MethodType{}, errors.Wrapf(ErrBadDescriptor, "%q: missing ')'", desc)
	}
	ret, n, err := parseType(desc[i+1:], true)
	if err != nil {
		return MethodType{}, errors.Wrapf(err, "%q", desc)
	}
	if i+1+n != len(desc) {
		return MethodType{}, errors.Wrapf(ErrBadDescriptor, "%q: trailing data", desc)
	}
	mt.Return = ret
	descriptorCache.Add(desc, mt)
	return mt, nil
}

func parseType(s string, allowVoid bool) (Type, int, error) {
	var t Type
	i := 0
	for i < len(s) && s[i] == '[' {
		t.Dims++
		i++
	}
	if i >= len(s) {
		return Type{}, 0, ErrBadDescriptor
	}
	switch c := s[i]; c {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		t.Base = c
		return t, i + 1, nil
	case 'V':
		if !allowVoid || t.Dims > 0 {
			return Type{}, 0, ErrBadDescriptor
		}
		t.Base = c
		return t, i + 1, nil
	case 'L':
		end := strings.IndexByte(s[i:], ';')
		if end < 2 {
			return Type{}, 0, ErrBadDescriptor
		}
		t.Base = 'L'
		t.Class = s[i+1 : i+end]
		return t, i + end + 1, nil
	}
	return Type{}, 0, ErrBadDescriptor
}

// DottedName converts an internal name to its dotted form.
func DottedName(internal string) string {
	return strings.ReplaceAll(internal, "/", ".")
}

// InternalName converts a dotted class name to its internal form.
func InternalName(dotted string) string {
	return strings.ReplaceAll(dotted, ".", "/")
}
