package rewrite

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"unmock/internal/bridge"
	"unmock/internal/classfile"
)

type callTarget struct {
	owner, name string
}

type siteAction int

const (
	sitePassThrough siteAction = iota
	siteRedirect
	siteNull
)

// callSites is the closed set of call targets patched in kept methods. Every
// replacement has the same encoded length as the original invoke, so branch
// offsets, exception ranges and stack map frames stay valid.
var callSites = map[callTarget]siteAction{
	{"java/lang/System", "arraycopy"}:               sitePassThrough,
	{"dalvik/system/VMRuntime", "newUnpaddedArray"}: siteRedirect,
	{"dalvik/system/VMRuntime", "getRuntime"}:       siteNull,
}

// instrument patches the allow-listed call sites in m's body.
func (r *Rewriter) instrument(cls *classfile.Class, m *classfile.Member, res *Result) error {
	code, err := cls.Code(m)
	if err != nil || code == nil {
		return err
	}
	insts, err := classfile.Decode(code.Bytecode, r.opts.Decode)
	if err != nil {
		return err
	}

	var key string
	changed := false
	for _, in := range insts {
		if in.Op < classfile.OpInvokevirtual || in.Op > classfile.OpInvokeinterface {
			continue
		}
		owner, name, desc, err := cls.Pool.MemberRef(in.Operand16(code.Bytecode))
		if err != nil {
			return err
		}
		action, ok := callSites[callTarget{owner, name}]
		if !ok {
			continue
		}
		if key == "" {
			if key, err = SignatureKey(cls.Name(), m); err != nil {
				return err
			}
		}
		target := classfile.DottedName(owner) + "." + name
		ev := Event{Method: key, Target: target}
		switch action {
		case sitePassThrough:
			ev.Kind = EventPassThrough
		case siteRedirect:
			if in.Op != classfile.OpInvokevirtual {
				return errors.Wrapf(ErrCallSite, "%s%s invoked with opcode 0x%02x at %d", target, desc, in.Op, in.Offset)
			}
			idx, err := cls.Pool.AddMethodref(bridge.ClassName, bridge.NewUnpaddedArrayName, bridge.NewUnpaddedArrayDesc)
			if err != nil {
				return err
			}
			code.Bytecode[in.Offset] = classfile.OpInvokestatic
			binary.BigEndian.PutUint16(code.Bytecode[in.Offset+1:], idx)
			ev.Kind = EventRedirect
			changed = true
		case siteNull:
			if in.Op != classfile.OpInvokestatic {
				return errors.Wrapf(ErrCallSite, "%s%s invoked with opcode 0x%02x at %d", target, desc, in.Op, in.Offset)
			}
			code.Bytecode[in.Offset] = classfile.OpAconstNull
			code.Bytecode[in.Offset+1] = classfile.OpNop
			code.Bytecode[in.Offset+2] = classfile.OpNop
			ev.Kind = EventNull
			changed = true
		}
		res.Instrumented++
		res.Events = append(res.Events, ev)
		r.log.Debug("call site", "method", key, "target", target, "action", string(ev.Kind), "offset", in.Offset)
	}
	if !changed {
		return nil
	}
	return cls.SetCode(m, code)
}
