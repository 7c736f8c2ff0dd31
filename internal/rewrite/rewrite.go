// Package rewrite turns a framework class into one that runs on a plain JVM:
// it opens up visibility, routes native (or, for delegate classes, all)
// method bodies through the bridge class, patches a closed set of call sites
// that only work on a device runtime, and applies class renames.
package rewrite

import (
	"fmt"
	"log/slog"

	"github.com/pkg/errors"

	"unmock/internal/classfile"
	"unmock/internal/rules"
)

// ErrClassRewrite matches every *ClassRewriteError.
var ErrClassRewrite = errors.New("rewrite: class rewrite failed")

// ErrCallSite reports a patched call site invoked with an unexpected opcode.
var ErrCallSite = errors.New("rewrite: unsupported call site")

// ClassRewriteError reports a failure in one class. The class may have been
// partially rewritten when it is returned.
type ClassRewriteError struct {
	Class  string // dotted name before renaming
	Member string // method name and descriptor, empty for class-level steps
	Err    error
}

func (e *ClassRewriteError) Error() string {
	if e.Member != "" {
		return fmt.Sprintf("rewrite %s.%s: %v", e.Class, e.Member, e.Err)
	}
	return fmt.Sprintf("rewrite %s: %v", e.Class, e.Err)
}

func (e *ClassRewriteError) Unwrap() error { return e.Err }

func (e *ClassRewriteError) Is(target error) bool { return target == ErrClassRewrite }

// ClassSource resolves classes of the source archive by internal name. It
// returns nil, nil for classes the archive does not contain.
type ClassSource interface {
	LookupClass(internal string) (*classfile.Class, error)
}

// Options configures a Rewriter.
type Options struct {
	Logger *slog.Logger
	// Supers, when set, is used to check that a delegated constructor's
	// superclass has a no-argument constructor.
	Supers ClassSource
	Decode classfile.Options
}

// EventKind classifies an edit recorded in a Result.
type EventKind string

const (
	EventDelegate    EventKind = "delegate"     // body replaced with a bridge call
	EventPassThrough EventKind = "pass_through" // call site kept, recorded only
	EventRedirect    EventKind = "redirect"     // call site retargeted to the bridge
	EventNull        EventKind = "null"         // call site replaced with null
)

// Event is one edit: Method is the signature key of the rewritten method,
// Target the bridge method or the original call target.
type Event struct {
	Method string    `json:"method"`
	Target string    `json:"target"`
	Kind   EventKind `json:"kind"`
}

// Result summarizes the edits made to one class.
type Result struct {
	Class        string  `json:"class"` // dotted name after renaming
	Original     string  `json:"original"`
	Skipped      bool    `json:"skipped,omitempty"` // interfaces are left untouched
	Delegated    int     `json:"delegated"`
	Instrumented int     `json:"instrumented"` // call sites patched or recorded
	Events       []Event `json:"events,omitempty"`
}

// Rewriter applies the class transformation.
type Rewriter struct {
	opts Options
	log  *slog.Logger
}

// New returns a Rewriter.
func New(opts Options) *Rewriter {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Rewriter{opts: opts, log: log}
}

// Rewrite edits cls in place according to its disposition, then applies the
// mappings in order. Excluded classes are returned unchanged. On error the
// returned Result describes the edits made before the failure.
func (r *Rewriter) Rewrite(cls *classfile.Class, disp rules.Disposition, mappings []rules.Mapping) (*Result, error) {
	name := classfile.DottedName(cls.Name())
	res := &Result{Class: name, Original: name}
	if disp == rules.Excluded {
		return res, nil
	}
	if cls.IsInterface() {
		res.Skipped = true
		return res, nil
	}
	if err := cls.CheckMutable(); err != nil {
		return res, &ClassRewriteError{Class: name, Err: err}
	}

	openClass(cls)

	for _, m := range cls.Methods {
		if err := r.method(cls, m, disp, res); err != nil {
			return res, &ClassRewriteError{Class: name, Member: m.Name + m.Descriptor, Err: err}
		}
	}

	for _, m := range mappings {
		if err := cls.RenameClass(m.InternalFrom(), m.InternalTo()); err != nil {
			return res, &ClassRewriteError{Class: name, Err: err}
		}
	}
	res.Class = classfile.DottedName(cls.Name())
	r.log.Debug("rewrote class", "class", res.Class, "disposition", disp.String(),
		"delegated", res.Delegated, "instrumented", res.Instrumented)
	return res, nil
}

func (r *Rewriter) method(cls *classfile.Class, m *classfile.Member, disp rules.Disposition, res *Result) error {
	switch {
	case m.IsInitializer():
		// Static initializers keep their body and flags; only call sites change.
		return r.instrument(cls, m, res)
	case m.IsConstructor():
		if disp == rules.Delegate {
			if err := r.delegateConstructor(cls, m, res); err != nil {
				return err
			}
			openMember(m)
			return nil
		}
		return r.instrument(cls, m, res)
	}

	if disp == rules.Delegate || m.IsNative() {
		if err := r.delegate(cls, m, res); err != nil {
			return err
		}
	} else if err := r.instrument(cls, m, res); err != nil {
		return err
	}
	openMember(m)
	return nil
}

// SignatureKey returns the key passed to the bridge for a method:
// "pkg.Cls.name(type,...)", or "pkg.Cls(type,...)" for constructors.
func SignatureKey(class string, m *classfile.Member) (string, error) {
	mt, err := classfile.ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return "", err
	}
	key := classfile.DottedName(class)
	if !m.IsConstructor() {
		key += "." + m.Name
	}
	key += "("
	for i, p := range mt.Params {
		if i > 0 {
			key += ","
		}
		key += p.JavaName()
	}
	return key + ")", nil
}
