package classfile

import (
	"fmt"

	"github.com/pkg/errors"
)

// Tag is the kind of a constant pool entry.
type Tag uint8

// Tag values as defined by the JVM specification, section 4.4.
const (
	TagUtf8               Tag = 1
	TagInteger            Tag = 3
	TagFloat              Tag = 4
	TagLong               Tag = 5
	TagDouble             Tag = 6
	TagClass              Tag = 7
	TagString             Tag = 8
	TagFieldref           Tag = 9
	TagMethodref          Tag = 10
	TagInterfaceMethodref Tag = 11
	TagNameAndType        Tag = 12
	TagMethodHandle       Tag = 15
	TagMethodType         Tag = 16
	TagDynamic            Tag = 17
	TagInvokeDynamic      Tag = 18
	TagModule             Tag = 19
	TagPackage            Tag = 20

	// tagUnusable marks index 0 and the slot following a Long or Double.
	tagUnusable Tag = 0
)

// maxPoolCount is the largest constant_pool_count a classfile can encode.
const maxPoolCount = 0xFFFF

var (
	ErrBadConstant  = errors.New("classfile: bad constant pool reference")
	ErrPoolOverflow = errors.New("classfile: constant pool overflow")
)

// Constant is one constant pool entry. Which fields are meaningful depends on Tag:
// Utf8 uses Text; Class, String, MethodType, Module and Package use Ref1;
// member refs, NameAndType and the dynamic kinds use Ref1 and Ref2;
// MethodHandle uses Kind and Ref1; numeric constants keep their raw bytes.
type Constant struct {
	Tag  Tag
	Text string
	Ref1 uint16
	Ref2 uint16
	Kind uint8
	Raw  []byte
}

// Pool is a 1-indexed constant pool. Entries are never removed or moved, so indices
// held by code attributes and other raw structures stay valid across edits.
type Pool struct {
	entries []Constant
	index   map[string]uint16
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{entries: []Constant{{Tag: tagUnusable}}, index: map[string]uint16{}}
}

// Count returns the value written as constant_pool_count.
func (p *Pool) Count() int { return len(p.entries) }

// Get returns the entry at i.
func (p *Pool) Get(i uint16) (*Constant, error) {
	if i == 0 || int(i) >= len(p.entries) || p.entries[i].Tag == tagUnusable {
		return nil, errors.Wrapf(ErrBadConstant, "index %d", i)
	}
	return &p.entries[i], nil
}

func (p *Pool) expect(i uint16, tag Tag) (*Constant, error) {
	c, err := p.Get(i)
	if err != nil {
		return nil, err
	}
	if c.Tag != tag {
		return nil, errors.Wrapf(ErrBadConstant, "index %d: tag %d, want %d", i, c.Tag, tag)
	}
	return c, nil
}

// UTF8 returns the text of a Utf8 entry.
func (p *Pool) UTF8(i uint16) (string, error) {
	c, err := p.expect(i, TagUtf8)
	if err != nil {
		return "", err
	}
	return c.Text, nil
}

// ClassName returns the internal name referenced by a Class entry.
func (p *Pool) ClassName(i uint16) (string, error) {
	c, err := p.expect(i, TagClass)
	if err != nil {
		return "", err
	}
	return p.UTF8(c.Ref1)
}

// NameAndType resolves a NameAndType entry.
func (p *Pool) NameAndType(i uint16) (name, desc string, err error) {
	c, err := p.expect(i, TagNameAndType)
	if err != nil {
		return "", "", err
	}
	if name, err = p.UTF8(c.Ref1); err != nil {
		return "", "", err
	}
	if desc, err = p.UTF8(c.Ref2); err != nil {
		return "", "", err
	}
	return name, desc, nil
}

// MemberRef resolves a Fieldref, Methodref or InterfaceMethodref entry.
func (p *Pool) MemberRef(i uint16) (owner, name, desc string, err error) {
	c, err := p.Get(i)
	if err != nil {
		return "", "", "", err
	}
	switch c.Tag {
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
	default:
		return "", "", "", errors.Wrapf(ErrBadConstant, "index %d: tag %d is not a member ref", i, c.Tag)
	}
	if owner, err = p.ClassName(c.Ref1); err != nil {
		return "", "", "", err
	}
	name, desc, err = p.NameAndType(c.Ref2)
	return owner, name, desc, err
}

func constantKey(c Constant) string {
	switch c.Tag {
	case TagUtf8:
		return "u:" + c.Text
	case TagInteger, TagFloat, TagLong, TagDouble:
		return fmt.Sprintf("%d:%x", c.Tag, c.Raw)
	case TagMethodHandle:
		return fmt.Sprintf("%d:%d:%d", c.Tag, c.Kind, c.Ref1)
	default:
		return fmt.Sprintf("%d:%d:%d", c.Tag, c.Ref1, c.Ref2)
	}
}

// add appends c unless an identical entry exists.
func (p *Pool) add(c Constant) (uint16, error) {
	key := constantKey(c)
	if i, ok := p.index[key]; ok {
		return i, nil
	}
	slots := 1
	if c.Tag == TagLong || c.Tag == TagDouble {
		slots = 2
	}
	if len(p.entries)+slots > maxPoolCount {
		return 0, ErrPoolOverflow
	}
	i := uint16(len(p.entries))
	p.entries = append(p.entries, c)
	if slots == 2 {
		p.entries = append(p.entries, Constant{Tag: tagUnusable})
	}
	p.index[key] = i
	return i, nil
}

// set replaces entry i in place, keeping the dedup index pointing at live entries.
func (p *Pool) set(i uint16, c Constant) {
	old := constantKey(p.entries[i])
	if p.index[old] == i {
		delete(p.index, old)
	}
	p.entries[i] = c
	if _, ok := p.index[constantKey(c)]; !ok {
		p.index[constantKey(c)] = i
	}
}

// AddUTF8 returns the index of a Utf8 entry holding s, appending one if needed.
func (p *Pool) AddUTF8(s string) (uint16, error) {
	return p.add(Constant{Tag: TagUtf8, Text: s})
}

// AddClass returns the index of a Class entry for an internal name.
func (p *Pool) AddClass(name string) (uint16, error) {
	u, err := p.AddUTF8(name)
	if err != nil {
		return 0, err
	}
	return p.add(Constant{Tag: TagClass, Ref1: u})
}

// AddString returns the index of a String entry.
func (p *Pool) AddString(s string) (uint16, error) {
	u, err := p.AddUTF8(s)
	if err != nil {
		return 0, err
	}
	return p.add(Constant{Tag: TagString, Ref1: u})
}

// AddNameAndType returns the index of a NameAndType entry.
func (p *Pool) AddNameAndType(name, desc string) (uint16, error) {
	n, err := p.AddUTF8(name)
	if err != nil {
		return 0, err
	}
	d, err := p.AddUTF8(desc)
	if err != nil {
		return 0, err
	}
	return p.add(Constant{Tag: TagNameAndType, Ref1: n, Ref2: d})
}

// AddMethodref returns the index of a Methodref entry.
func (p *Pool) AddMethodref(owner, name, desc string) (uint16, error) {
	cls, err := p.AddClass(owner)
	if err != nil {
		return 0, err
	}
	nt, err := p.AddNameAndType(name, desc)
	if err != nil {
		return 0, err
	}
	return p.add(Constant{Tag: TagMethodref, Ref1: cls, Ref2: nt})
}

func readPool(s *Stream) (*Pool, error) {
	count, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, errors.Wrap(ErrBadConstant, "constant_pool_count is 0")
	}
	p := &Pool{entries: make([]Constant, 1, count), index: map[string]uint16{}}
	for len(p.entries) < int(count) {
		tag, err := s.ReadByte()
		if err != nil {
			return nil, err
		}
		c := Constant{Tag: Tag(tag)}
		switch c.Tag {
		case TagUtf8:
			n, err := s.ReadUint16()
			if err != nil {
				return nil, err
			}
			b, err := s.ReadBytes(int(n))
			if err != nil {
				return nil, err
			}
			c.Text = string(b)
		case TagInteger, TagFloat:
			if c.Raw, err = s.ReadBytes(4); err != nil {
				return nil, err
			}
		case TagLong, TagDouble:
			if c.Raw, err = s.ReadBytes(8); err != nil {
				return nil, err
			}
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			if c.Ref1, err = s.ReadUint16(); err != nil {
				return nil, err
			}
		case TagMethodHandle:
			if c.Kind, err = s.ReadByte(); err != nil {
				return nil, err
			}
			if c.Ref1, err = s.ReadUint16(); err != nil {
				return nil, err
			}
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType, TagDynamic, TagInvokeDynamic:
			if c.Ref1, err = s.ReadUint16(); err != nil {
				return nil, err
			}
			if c.Ref2, err = s.ReadUint16(); err != nil {
				return nil, err
			}
		default:
			return nil, errors.Wrapf(ErrBadConstant, "unknown tag %d at entry %d", tag, len(p.entries))
		}
		i := uint16(len(p.entries))
		p.entries = append(p.entries, c)
		if _, dup := p.index[constantKey(c)]; !dup {
			p.index[constantKey(c)] = i
		}
		if c.Tag == TagLong || c.Tag == TagDouble {
			p.entries = append(p.entries, Constant{Tag: tagUnusable})
		}
	}
	return p, nil
}

func (p *Pool) write(w *Writer) {
	w.U16(uint16(len(p.entries)))
	for _, c := range p.entries[1:] {
		if c.Tag == tagUnusable {
			continue
		}
		w.U8(uint8(c.Tag))
		switch c.Tag {
		case TagUtf8:
			w.U16(uint16(len(c.Text)))
			w.Write([]byte(c.Text))
		case TagInteger, TagFloat, TagLong, TagDouble:
			w.Write(c.Raw)
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			w.U16(c.Ref1)
		case TagMethodHandle:
			w.U8(c.Kind)
			w.U16(c.Ref1)
		default:
			w.U16(c.Ref1)
			w.U16(c.Ref2)
		}
	}
}
