// Package scoped implements immutable, identity-keyed contexts and the
// per-goroutine "current context" slot with scope-based activation.
//
// Go has no goroutine-local storage, so each goroutine that participates
// owns a *Storage and passes it along explicitly (or through a
// context.Context via WithStorage). A fresh Storage reports Root as current,
// so a context activated on one goroutine is never visible on another.
package scoped

import (
	"fmt"
	"reflect"
	"strings"
)

// Key identifies a context binding. Keys compare by pointer identity: two
// keys created with the same name are unrelated.
type Key struct {
	name string
}

// NewKey creates a key. The name is used only for String.
func NewKey(name string) *Key {
	return &Key{name: name}
}

func (k *Key) String() string { return k.name }

// Context is an immutable chain of key/value frames. Lookups walk from the
// newest frame to the root and return the first match.
type Context struct {
	parent *Context
	key    *Key
	value  any
}

var root = &Context{}

// Root returns the empty context. It is a singleton.
func Root() *Context { return root }

// With returns a context that binds key to value on top of c. If value is
// identical to the value c already binds to key, c itself is returned.
//
// Identity: pointers, maps, channels and slices compare by address (and
// length for slices); other comparable values compare with ==; functions and
// non-comparable values are never identical.
func (c *Context) With(key *Key, value any) *Context {
	if c == nil {
		c = root
	}
	if old, ok := c.Lookup(key); ok && identical(old, value) {
		return c
	}
	return &Context{parent: c, key: key, value: value}
}

// Get returns the value bound to key, or nil.
func (c *Context) Get(key *Key) any {
	v, _ := c.Lookup(key)
	return v
}

// Lookup returns the value bound to key and whether a binding exists.
func (c *Context) Lookup(key *Key) (any, bool) {
	for f := c; f != nil && f.parent != nil; f = f.parent {
		if f.key == key {
			return f.value, true
		}
	}
	return nil, false
}

// String renders the bindings as {k1=v1, k2=v2}, keys in the order they were
// first bound, each with its latest value.
func (c *Context) String() string {
	var frames []*Context
	for f := c; f != nil && f.parent != nil; f = f.parent {
		frames = append(frames, f)
	}

	latest := make(map[*Key]any, len(frames))
	for _, f := range frames {
		if _, seen := latest[f.key]; !seen {
			latest[f.key] = f.value
		}
	}

	var b strings.Builder
	b.WriteByte('{')
	written := make(map[*Key]bool, len(latest))
	for i := len(frames) - 1; i >= 0; i-- {
		k := frames[i].key
		if written[k] {
			continue
		}
		if len(written) > 0 {
			b.WriteString(", ")
		}
		written[k] = true
		fmt.Fprintf(&b, "%s=%v", k, latest[k])
	}
	b.WriteByte('}')
	return b.String()
}

func identical(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}

	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch ta.Kind() {
	case reflect.Func:
		return false
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	}
	if !va.Comparable() || !vb.Comparable() {
		return false
	}
	return a == b
}
