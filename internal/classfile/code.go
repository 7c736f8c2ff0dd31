package classfile

import (
	"github.com/pkg/errors"
)

// Attribute names the rewriter cares about.
const (
	AttrCode                   = "Code"
	AttrSignature              = "Signature"
	AttrStackMapTable          = "StackMapTable"
	AttrLocalVariableTable     = "LocalVariableTable"
	AttrLocalVariableTypeTable = "LocalVariableTypeTable"
	AttrInnerClasses           = "InnerClasses"
)

// ExceptionEntry is one row of a Code attribute's exception table.
type ExceptionEntry struct {
	StartPC, EndPC, HandlerPC, CatchType uint16
}

// Code is a decoded Code attribute.
type Code struct {
	MaxStack   uint16
	MaxLocals  uint16
	Bytecode   []byte
	Exceptions []ExceptionEntry
	Attributes []*Attribute
}

// Attribute returns the first nested attribute with the given name.
func (c *Code) Attribute(name string) *Attribute {
	return findAttribute(c.Attributes, name)
}

// ParseCode decodes the payload of a Code attribute.
func ParseCode(p *Pool, data []byte) (*Code, error) {
	s := NewStream(data)
	c := &Code{}
	var err error
	if c.MaxStack, err = s.ReadUint16(); err != nil {
		return nil, err
	}
	if c.MaxLocals, err = s.ReadUint16(); err != nil {
		return nil, err
	}
	n, err := s.ReadUint32()
	if err != nil {
		return nil, err
	}
	if c.Bytecode, err = s.ReadBytes(int(n)); err != nil {
		return nil, errors.Wrap(err, "code")
	}
	count, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(count); i++ {
		var e ExceptionEntry
		for _, f := range []*uint16{&e.StartPC, &e.EndPC, &e.HandlerPC, &e.CatchType} {
			if *f, err = s.ReadUint16(); err != nil {
				return nil, errors.Wrap(err, "exception table")
			}
		}
		c.Exceptions = append(c.Exceptions, e)
	}
	if c.Attributes, err = readAttributes(s, p); err != nil {
		return nil, errors.Wrap(err, "code attributes")
	}
	return c, nil
}

// Encode serializes the Code attribute payload.
func (c *Code) Encode(p *Pool) ([]byte, error) {
	w := &Writer{}
	w.U16(c.MaxStack)
	w.U16(c.MaxLocals)
	w.U32(uint32(len(c.Bytecode)))
	w.Write(c.Bytecode)
	w.U16(uint16(len(c.Exceptions)))
	for _, e := range c.Exceptions {
		w.U16(e.StartPC)
		w.U16(e.EndPC)
		w.U16(e.HandlerPC)
		w.U16(e.CatchType)
	}
	if err := writeAttributes(w, p, c.Attributes); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Code decodes the method's Code attribute. It returns nil, nil for methods
// without one (native and abstract methods).
func (c *Class) Code(m *Member) (*Code, error) {
	a := m.Attribute(AttrCode)
	if a == nil {
		return nil, nil
	}
	code, err := ParseCode(c.Pool, a.Data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s.%s%s", c.Name(), m.Name, m.Descriptor)
	}
	return code, nil
}

// SetCode replaces (or adds) the method's Code attribute.
func (c *Class) SetCode(m *Member, code *Code) error {
	if err := c.CheckMutable(); err != nil {
		return err
	}
	data, err := code.Encode(c.Pool)
	if err != nil {
		return err
	}
	if a := m.Attribute(AttrCode); a != nil {
		a.Data = data
		return nil
	}
	m.Attributes = append(m.Attributes, &Attribute{Name: AttrCode, Data: data})
	return nil
}
