package rewrite

import (
	"encoding/binary"

	"unmock/internal/classfile"
)

const restricted = classfile.AccFinal | classfile.AccPrivate | classfile.AccProtected

// openClass makes the class public and non-final. A nested class also has its
// own InnerClasses entry updated, since reflection reads the flags from there.
func openClass(cls *classfile.Class) {
	cls.Access = cls.Access&^restricted | classfile.AccPublic

	a := findAttr(cls.Attributes, classfile.AttrInnerClasses)
	if a == nil || len(a.Data) < 2 {
		return
	}
	n := int(binary.BigEndian.Uint16(a.Data))
	if len(a.Data) != 2+n*8 {
		return
	}
	for i := 0; i < n; i++ {
		off := 2 + i*8
		if binary.BigEndian.Uint16(a.Data[off:]) != cls.This {
			continue
		}
		flags := binary.BigEndian.Uint16(a.Data[off+6:])
		binary.BigEndian.PutUint16(a.Data[off+6:], flags&^restricted|classfile.AccPublic)
	}
}

// openMember makes a method public, non-final and non-native. Abstract is
// cleared once the method has a body.
func openMember(m *classfile.Member) {
	m.Access = m.Access&^(restricted|classfile.AccNative) | classfile.AccPublic
	if m.Attribute(classfile.AttrCode) != nil {
		m.Access &^= classfile.AccAbstract
	}
}

func findAttr(attrs []*classfile.Attribute, name string) *classfile.Attribute {
	for _, a := range attrs {
		if a.Name == name {
			return a
		}
	}
	return nil
}
