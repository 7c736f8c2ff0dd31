// Package classfile reads, edits and writes JVM classfiles.
//
// A Class is parsed once, mutated in place, and serialized with Encode. Encode
// freezes the class: every later structural edit fails with ErrFrozen, so a
// caller cannot accidentally change a class whose bytes are already on disk.
package classfile

import (
	"github.com/pkg/errors"
)

// Magic is the classfile signature.
const Magic = 0xCAFEBABE

// Access and property flags (JVMS tables 4.1-B, 4.6-A).
const (
	AccPublic       uint16 = 0x0001
	AccPrivate      uint16 = 0x0002
	AccProtected    uint16 = 0x0004
	AccStatic       uint16 = 0x0008
	AccFinal        uint16 = 0x0010
	AccSuper        uint16 = 0x0020
	AccSynchronized uint16 = 0x0020
	AccBridge       uint16 = 0x0040
	AccVarargs      uint16 = 0x0080
	AccNative       uint16 = 0x0100
	AccInterface    uint16 = 0x0200
	AccAbstract     uint16 = 0x0400
	AccStrict       uint16 = 0x0800
	AccSynthetic    uint16 = 0x1000
	AccAnnotation   uint16 = 0x2000
	AccEnum         uint16 = 0x4000
)

// Well-known member names.
const (
	InitName   = "<init>"
	ClinitName = "<clinit>"
)

var (
	ErrNotClass = errors.New("classfile: not a classfile")
	ErrFrozen   = errors.New("classfile: class is frozen")
)

// Attribute is an attribute whose payload is kept verbatim.
type Attribute struct {
	Name string
	Data []byte
}

// Member is a field or method.
type Member struct {
	Access     uint16
	Name       string
	Descriptor string
	Attributes []*Attribute
}

// IsStatic reports whether the member is static.
func (m *Member) IsStatic() bool { return m.Access&AccStatic != 0 }

// IsNative reports whether the method is native.
func (m *Member) IsNative() bool { return m.Access&AccNative != 0 }

// IsAbstract reports whether the method is abstract.
func (m *Member) IsAbstract() bool { return m.Access&AccAbstract != 0 }

// IsConstructor reports whether the method is an instance initializer.
func (m *Member) IsConstructor() bool { return m.Name == InitName }

// IsInitializer reports whether the method is the static initializer.
func (m *Member) IsInitializer() bool { return m.Name == ClinitName }

// Attribute returns the first attribute with the given name.
func (m *Member) Attribute(name string) *Attribute {
	return findAttribute(m.Attributes, name)
}

// RemoveAttribute drops every attribute with the given name.
func (m *Member) RemoveAttribute(name string) {
	m.Attributes = removeAttribute(m.Attributes, name)
}

// Class is an in-memory classfile.
type Class struct {
	Minor, Major uint16
	Pool         *Pool
	Access       uint16
	This         uint16
	Super        uint16 // 0 for java/lang/Object
	Interfaces   []uint16
	Fields       []*Member
	Methods      []*Member
	Attributes   []*Attribute

	frozen bool
}

// New creates an empty class with the given internal name and superclass.
func New(name, super string, access uint16) (*Class, error) {
	c := &Class{Major: 49, Pool: NewPool(), Access: access}
	var err error
	if c.This, err = c.Pool.AddClass(name); err != nil {
		return nil, err
	}
	if super != "" {
		if c.Super, err = c.Pool.AddClass(super); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Name returns the internal (slash-separated) class name.
func (c *Class) Name() string {
	n, _ := c.Pool.ClassName(c.This)
	return n
}

// SuperName returns the internal name of the superclass, or "" when there is none.
func (c *Class) SuperName() string {
	if c.Super == 0 {
		return ""
	}
	n, _ := c.Pool.ClassName(c.Super)
	return n
}

// IsInterface reports whether the class is an interface.
func (c *Class) IsInterface() bool { return c.Access&AccInterface != 0 }

// CheckMutable returns ErrFrozen once the class has been serialized.
func (c *Class) CheckMutable() error {
	if c.frozen {
		return errors.Wrapf(ErrFrozen, "%s", c.Name())
	}
	return nil
}

// Method returns the first method matching name and descriptor.
func (c *Class) Method(name, desc string) *Member {
	for _, m := range c.Methods {
		if m.Name == name && m.Descriptor == desc {
			return m
		}
	}
	return nil
}

// AddMethod appends a method. A non-nil code becomes its Code attribute.
func (c *Class) AddMethod(access uint16, name, desc string, code *Code) (*Member, error) {
	if err := c.CheckMutable(); err != nil {
		return nil, err
	}
	m := &Member{Access: access, Name: name, Descriptor: desc}
	if code != nil {
		if err := c.SetCode(m, code); err != nil {
			return nil, err
		}
	}
	c.Methods = append(c.Methods, m)
	return m, nil
}

// Parse decodes a classfile.
func Parse(data []byte) (*Class, error) {
	s := NewStream(data)
	magic, err := s.ReadUint32()
	if err != nil || magic != Magic {
		return nil, ErrNotClass
	}
	c := &Class{}
	if c.Minor, err = s.ReadUint16(); err != nil {
		return nil, errors.Wrap(err, "version")
	}
	if c.Major, err = s.ReadUint16(); err != nil {
		return nil, errors.Wrap(err, "version")
	}
	if c.Pool, err = readPool(s); err != nil {
		return nil, errors.Wrap(err, "constant pool")
	}
	if c.Access, err = s.ReadUint16(); err != nil {
		return nil, err
	}
	if c.This, err = s.ReadUint16(); err != nil {
		return nil, err
	}
	if _, err := c.Pool.ClassName(c.This); err != nil {
		return nil, errors.Wrap(err, "this_class")
	}
	if c.Super, err = s.ReadUint16(); err != nil {
		return nil, err
	}
	n, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(n); i++ {
		idx, err := s.ReadUint16()
		if err != nil {
			return nil, errors.Wrap(err, "interfaces")
		}
		c.Interfaces = append(c.Interfaces, idx)
	}
	if c.Fields, err = readMembers(s, c.Pool); err != nil {
		return nil, errors.Wrap(err, "fields")
	}
	if c.Methods, err = readMembers(s, c.Pool); err != nil {
		return nil, errors.Wrap(err, "methods")
	}
	if c.Attributes, err = readAttributes(s, c.Pool); err != nil {
		return nil, errors.Wrap(err, "attributes")
	}
	return c, nil
}

func readMembers(s *Stream, p *Pool) ([]*Member, error) {
	n, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	members := make([]*Member, 0, n)
	for i := 0; i < int(n); i++ {
		m := &Member{}
		if m.Access, err = s.ReadUint16(); err != nil {
			return nil, err
		}
		nameIdx, err := s.ReadUint16()
		if err != nil {
			return nil, err
		}
		descIdx, err := s.ReadUint16()
		if err != nil {
			return nil, err
		}
		if m.Name, err = p.UTF8(nameIdx); err != nil {
			return nil, err
		}
		if m.Descriptor, err = p.UTF8(descIdx); err != nil {
			return nil, err
		}
		if m.Attributes, err = readAttributes(s, p); err != nil {
			return nil, errors.Wrapf(err, "%s%s", m.Name, m.Descriptor)
		}
		members = append(members, m)
	}
	return members, nil
}

func readAttributes(s *Stream, p *Pool) ([]*Attribute, error) {
	n, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	attrs := make([]*Attribute, 0, n)
	for i := 0; i < int(n); i++ {
		nameIdx, err := s.ReadUint16()
		if err != nil {
			return nil, err
		}
		name, err := p.UTF8(nameIdx)
		if err != nil {
			return nil, err
		}
		size, err := s.ReadUint32()
		if err != nil {
			return nil, err
		}
		data, err := s.ReadBytes(int(size))
		if err != nil {
			return nil, errors.Wrapf(err, "attribute %s", name)
		}
		attrs = append(attrs, &Attribute{Name: name, Data: data})
	}
	return attrs, nil
}

// Encode serializes the class and freezes it.
func (c *Class) Encode() ([]byte, error) {
	// The body is written first because writing member and attribute names
	// may still append Utf8 entries to the pool.
	body := &Writer{}
	body.U16(c.Access)
	body.U16(c.This)
	body.U16(c.Super)
	body.U16(uint16(len(c.Interfaces)))
	for _, i := range c.Interfaces {
		body.U16(i)
	}
	if err := writeMembers(body, c.Pool, c.Fields); err != nil {
		return nil, err
	}
	if err := writeMembers(body, c.Pool, c.Methods); err != nil {
		return nil, err
	}
	if err := writeAttributes(body, c.Pool, c.Attributes); err != nil {
		return nil, err
	}

	out := &Writer{}
	out.U32(Magic)
	out.U16(c.Minor)
	out.U16(c.Major)
	c.Pool.write(out)
	out.Write(body.Bytes())
	c.frozen = true
	return out.Bytes(), nil
}

func writeMembers(w *Writer, p *Pool, members []*Member) error {
	w.U16(uint16(len(members)))
	for _, m := range members {
		name, err := p.AddUTF8(m.Name)
		if err != nil {
			return err
		}
		desc, err := p.AddUTF8(m.Descriptor)
		if err != nil {
			return err
		}
		w.U16(m.Access)
		w.U16(name)
		w.U16(desc)
		if err := writeAttributes(w, p, m.Attributes); err != nil {
			return err
		}
	}
	return nil
}

func writeAttributes(w *Writer, p *Pool, attrs []*Attribute) error {
	w.U16(uint16(len(attrs)))
	for _, a := range attrs {
		name, err := p.AddUTF8(a.Name)
		if err != nil {
			return err
		}
		w.U16(name)
		w.U32(uint32(len(a.Data)))
		w.Write(a.Data)
	}
	return nil
}

func findAttribute(attrs []*Attribute, name string) *Attribute {
	for _, a := range attrs {
		if a.Name == name {
			return a
		}
	}
	return nil
}

func removeAttribute(attrs []*Attribute, name string) []*Attribute {
	out := attrs[:0]
	for _, a := range attrs {
		if a.Name != name {
			out = append(out, a)
		}
	}
	return out
}
