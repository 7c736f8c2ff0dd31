package classfile

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Annotation attribute names.
const (
	AttrRuntimeVisibleAnnotations            = "RuntimeVisibleAnnotations"
	AttrRuntimeInvisibleAnnotations          = "RuntimeInvisibleAnnotations"
	AttrRuntimeVisibleParameterAnnotations   = "RuntimeVisibleParameterAnnotations"
	AttrRuntimeInvisibleParameterAnnotations = "RuntimeInvisibleParameterAnnotations"
	AttrRuntimeVisibleTypeAnnotations        = "RuntimeVisibleTypeAnnotations"
	AttrRuntimeInvisibleTypeAnnotations      = "RuntimeInvisibleTypeAnnotations"
	AttrAnnotationDefault                    = "AnnotationDefault"
)

// ErrBadAnnotation reports a malformed annotation attribute.
var ErrBadAnnotation = errors.New("classfile: malformed annotation")

// annotationWalker visits every Utf8 index in an annotation attribute that
// holds a field descriptor (annotation types, enum types, class literals)
// and replaces it in place with the index fn returns.
type annotationWalker struct {
	data []byte
	pos  int
	fn   func(uint16) (uint16, error)
}

// walkAnnotations rewrites the descriptor indices of one attribute payload.
// Attributes that carry no annotations are left alone, and a.Data is only
// replaced when the whole payload parses.
func walkAnnotations(a *Attribute, fn func(uint16) (uint16, error)) error {
	w := &annotationWalker{data: append([]byte(nil), a.Data...), fn: fn}
	var err error
	switch a.Name {
	case AttrRuntimeVisibleAnnotations, AttrRuntimeInvisibleAnnotations:
		err = w.annotations()
	case AttrRuntimeVisibleParameterAnnotations, AttrRuntimeInvisibleParameterAnnotations:
		var n byte
		if n, err = w.u1(); err == nil {
			for i := 0; i < int(n) && err == nil; i++ {
				err = w.annotations()
			}
		}
	case AttrRuntimeVisibleTypeAnnotations, AttrRuntimeInvisibleTypeAnnotations:
		var n uint16
		if n, err = w.u2(); err == nil {
			for i := 0; i < int(n) && err == nil; i++ {
				err = w.typeAnnotation()
			}
		}
	case AttrAnnotationDefault:
		err = w.elementValue()
	default:
		return nil
	}
	if err == nil && w.pos != len(w.data) {
		err = errors.Wrapf(ErrBadAnnotation, "%d trailing bytes", len(w.data)-w.pos)
	}
	if err != nil {
		return errors.Wrap(err, a.Name)
	}
	a.Data = w.data
	return nil
}

// isAnnotation reports whether name is one of the annotation attributes.
func isAnnotation(name string) bool {
	switch name {
	case AttrRuntimeVisibleAnnotations, AttrRuntimeInvisibleAnnotations,
		AttrRuntimeVisibleParameterAnnotations, AttrRuntimeInvisibleParameterAnnotations,
		AttrRuntimeVisibleTypeAnnotations, AttrRuntimeInvisibleTypeAnnotations,
		AttrAnnotationDefault:
		return true
	}
	return false
}

func (w *annotationWalker) u1() (byte, error) {
	if w.pos+1 > len(w.data) {
		return 0, errors.Wrapf(ErrBadAnnotation, "truncated at %d", w.pos)
	}
	w.pos++
	return w.data[w.pos-1], nil
}

func (w *annotationWalker) u2() (uint16, error) {
	if w.pos+2 > len(w.data) {
		return 0, errors.Wrapf(ErrBadAnnotation, "truncated at %d", w.pos)
	}
	w.pos += 2
	return binary.BigEndian.Uint16(w.data[w.pos-2:]), nil
}

func (w *annotationWalker) skip(n int) error {
	if w.pos+n > len(w.data) {
		return errors.Wrapf(ErrBadAnnotation, "truncated at %d", w.pos)
	}
	w.pos += n
	return nil
}

// descriptor remaps the u2 descriptor index at the current position.
func (w *annotationWalker) descriptor() error {
	idx, err := w.u2()
	if err != nil {
		return err
	}
	out, err := w.fn(idx)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(w.data[w.pos-2:], out)
	return nil
}

func (w *annotationWalker) annotations() error {
	n, err := w.u2()
	if err != nil {
		return err
	}
	for i := 0; i < int(n); i++ {
		if err := w.annotation(); err != nil {
			return err
		}
	}
	return nil
}

// annotation is type_index followed by element_value_pairs.
func (w *annotationWalker) annotation() error {
	if err := w.descriptor(); err != nil {
		return err
	}
	pairs, err := w.u2()
	if err != nil {
		return err
	}
	for i := 0; i < int(pairs); i++ {
		if err := w.skip(2); err != nil { // element_name_index
			return err
		}
		if err := w.elementValue(); err != nil {
			return err
		}
	}
	return nil
}

func (w *annotationWalker) elementValue() error {
	tag, err := w.u1()
	if err != nil {
		return err
	}
	switch tag {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 's':
		return w.skip(2)
	case 'e':
		if err := w.descriptor(); err != nil {
			return err
		}
		return w.skip(2)
	case 'c':
		return w.descriptor()
	case '@':
		return w.annotation()
	case '[':
		n, err := w.u2()
		if err != nil {
			return err
		}
		for i := 0; i < int(n); i++ {
			if err := w.elementValue(); err != nil {
				return err
			}
		}
		return nil
	}
	return errors.Wrapf(ErrBadAnnotation, "element tag %q at %d", tag, w.pos-1)
}

// typeAnnotation skips target_info and target_path, then reads the annotation.
func (w *annotationWalker) typeAnnotation() error {
	target, err := w.u1()
	if err != nil {
		return err
	}
	switch {
	case target == 0x00 || target == 0x01 || target == 0x16:
		err = w.skip(1)
	case target >= 0x10 && target <= 0x12, target == 0x17, target >= 0x42 && target <= 0x46:
		err = w.skip(2)
	case target >= 0x13 && target <= 0x15:
	case target == 0x40 || target == 0x41:
		var n uint16
		if n, err = w.u2(); err == nil {
			err = w.skip(int(n) * 6)
		}
	case target >= 0x47 && target <= 0x4b:
		err = w.skip(3)
	default:
		return errors.Wrapf(ErrBadAnnotation, "target type 0x%02x", target)
	}
	if err != nil {
		return err
	}
	pathLen, err := w.u1()
	if err != nil {
		return err
	}
	if err := w.skip(int(pathLen) * 2); err != nil {
		return err
	}
	return w.annotation()
}
