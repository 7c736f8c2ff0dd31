package classfile

import (
	"strings"

	"github.com/pkg/errors"
)

// RenameClass replaces every reference to the internal name from with to:
// Class constants (including this_class), member and NameAndType descriptors,
// MethodType constants, Signature attributes, local variable tables and the
// type, enum and class literal indices of annotations.
// Utf8 entries are never edited in place since string literals may share them.
func (c *Class) RenameClass(from, to string) error {
	if err := c.CheckMutable(); err != nil {
		return err
	}
	if from == "" || to == "" || from == to {
		return nil
	}
	r := renamer{from: from, to: to, pool: c.Pool}

	n := uint16(c.Pool.Count())
	for i := uint16(1); i < n; i++ {
		e := c.Pool.entries[i]
		var err error
		switch e.Tag {
		case TagClass:
			e.Ref1, err = r.utf8(e.Ref1, r.className)
		case TagNameAndType:
			e.Ref2, err = r.utf8(e.Ref2, r.signature)
		case TagMethodType:
			e.Ref1, err = r.utf8(e.Ref1, r.signature)
		default:
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "rename %s: constant %d", from, i)
		}
		if old := c.Pool.entries[i]; e.Ref1 != old.Ref1 || e.Ref2 != old.Ref2 {
			c.Pool.set(i, e)
		}
	}

	if err := r.attributes(c.Attributes); err != nil {
		return err
	}
	for _, members := range [][]*Member{c.Fields, c.Methods} {
		for _, m := range members {
			m.Descriptor = r.signature(m.Descriptor)
			if err := r.attributes(m.Attributes); err != nil {
				return errors.Wrapf(err, "rename %s: %s", from, m.Name)
			}
			if err := r.code(m); err != nil {
				return errors.Wrapf(err, "rename %s: %s%s", from, m.Name, m.Descriptor)
			}
		}
	}
	return nil
}

type renamer struct {
	from, to string
	pool     *Pool
}

// utf8 maps the Utf8 entry at i through fn and returns the index holding the result.
func (r renamer) utf8(i uint16, fn func(string) string) (uint16, error) {
	s, err := r.pool.UTF8(i)
	if err != nil {
		return 0, err
	}
	if out := fn(s); out != s {
		return r.pool.AddUTF8(out)
	}
	return i, nil
}

// className handles both plain internal names and array descriptors, which
// is how Class constants spell array types.
func (r renamer) className(s string) string {
	if s == r.from {
		return r.to
	}
	if strings.HasPrefix(s, "[") {
		return r.signature(s)
	}
	return s
}

// signature rewrites L<from> occurrences in descriptors and generic signatures.
// A match must start at a type boundary and end at ';', '<' or '.', so a
// class whose name merely extends from is left alone.
func (r renamer) signature(s string) string {
	needle := "L" + r.from
	if !strings.Contains(s, needle) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); {
		j := strings.Index(s[i:], needle)
		if j < 0 {
			b.WriteString(s[i:])
			break
		}
		at := i + j
		end := at + len(needle)
		b.WriteString(s[i:at])
		if typeStart(s, at) && end < len(s) && strings.IndexByte(";<.", s[end]) >= 0 {
			b.WriteString("L" + r.to)
		} else {
			b.WriteString(needle)
		}
		i = end
	}
	return b.String()
}

func typeStart(s string, at int) bool {
	if at == 0 {
		return true
	}
	return strings.IndexByte("()[;<>:+-^*", s[at-1]) >= 0
}

func (r renamer) descriptorIndex(i uint16) (uint16, error) {
	return r.utf8(i, r.signature)
}

func (r renamer) attributes(attrs []*Attribute) error {
	for _, a := range attrs {
		if isAnnotation(a.Name) {
			if err := walkAnnotations(a, r.descriptorIndex); err != nil {
				return err
			}
			continue
		}
		if a.Name != AttrSignature {
			continue
		}
		if len(a.Data) != 2 {
			return errors.Wrapf(ErrBadConstant, "Signature attribute of %d bytes", len(a.Data))
		}
		idx, err := r.utf8(uint16(a.Data[0])<<8|uint16(a.Data[1]), r.signature)
		if err != nil {
			return err
		}
		a.Data = []byte{byte(idx >> 8), byte(idx)}
	}
	return nil
}

// code rewrites descriptor and signature indices in the local variable tables
// and the type annotations attached to the body.
func (r renamer) code(m *Member) error {
	a := m.Attribute(AttrCode)
	if a == nil {
		return nil
	}
	code, err := ParseCode(r.pool, a.Data)
	if err != nil {
		return err
	}
	changed := false
	for _, t := range code.Attributes {
		if isAnnotation(t.Name) {
			if err := walkAnnotations(t, r.descriptorIndex); err != nil {
				return err
			}
			changed = true
			continue
		}
		if t.Name != AttrLocalVariableTable && t.Name != AttrLocalVariableTypeTable {
			continue
		}
		out, err := r.localVariables(t.Data)
		if err != nil {
			return errors.Wrap(err, t.Name)
		}
		t.Data = out
		changed = true
	}
	if !changed {
		return nil
	}
	data, err := code.Encode(r.pool)
	if err != nil {
		return err
	}
	a.Data = data
	return nil
}

// localVariables rewrites the descriptor_index (or signature_index) of each
// 10-byte entry: start_pc, length, name_index, descriptor_index, index.
func (r renamer) localVariables(data []byte) ([]byte, error) {
	s := NewStream(data)
	n, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	if s.Remaining() != int(n)*10 {
		return nil, errors.Wrapf(ErrBadConstant, "local variable table: %d entries in %d bytes", n, s.Remaining())
	}
	out := append([]byte(nil), data...)
	for k := 0; k < int(n); k++ {
		off := 2 + k*10 + 6
		idx := uint16(out[off])<<8 | uint16(out[off+1])
		nidx, err := r.utf8(idx, r.signature)
		if err != nil {
			return nil, err
		}
		out[off], out[off+1] = byte(nidx>>8), byte(nidx)
	}
	return out, nil
}
