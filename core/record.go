package core

import "fmt"

// Namespace scopes a record or a query: either the GLOBAL namespace or a
// specific user's private namespace.
type Namespace struct {
	global bool
	user   Identity
}

// GlobalNamespace is the shared, non-private namespace.
var GlobalNamespace = Namespace{global: true}

// UserNamespace returns the private namespace owned by id.
func UserNamespace(id Identity) Namespace {
	return Namespace{global: false, user: id}
}

// IsGlobal reports whether ns is the GLOBAL namespace.
func (ns Namespace) IsGlobal() bool {
	return ns.global
}

// User returns the owning identity; only meaningful when !IsGlobal().
func (ns Namespace) User() Identity {
	return ns.user
}

func (ns Namespace) String() string {
	if ns.global {
		return "GLOBAL"
	}
	return "User(" + ns.user.String() + ")"
}

func (ns Namespace) key() string {
	if ns.global {
		return "g:"
	}
	return "u:" + string(ns.user[:])
}

// Equal reports whether two namespaces denote the same scope.
func (ns Namespace) Equal(other Namespace) bool {
	return ns.global == other.global && ns.user == other.user
}

// Session identifies the caller scope for a store operation. It is
// identical in shape to Namespace but kept as a distinct name because the
// spec uses "session" for the caller-presented scope and "namespace" for
// the record's home — they coincide for reads but auth only ever checks
// the session.
type Session = Namespace

// GlobalSession is the session scope of the shared GLOBAL namespace.
var GlobalSession = GlobalNamespace

// UserSession returns the session scope for an authenticated user.
func UserSession(id Identity) Session {
	return UserNamespace(id)
}

// ScalarKind tags the dynamic type carried by a Scalar.
type ScalarKind int

const (
	ScalarBytes ScalarKind = iota
	ScalarString
	ScalarInt
)

// Scalar is a typed value stored in a Record's key/value map.
type Scalar struct {
	Kind  ScalarKind
	Bytes []byte
	Str   string
	Int   int64
}

// BytesScalar wraps a byte slice as a Scalar.
func BytesScalar(b []byte) Scalar { return Scalar{Kind: ScalarBytes, Bytes: b} }

// StringScalar wraps a string as a Scalar.
func StringScalar(s string) Scalar { return Scalar{Kind: ScalarString, Str: s} }

// IntScalar wraps an integer id as a Scalar.
func IntScalar(i int64) Scalar { return Scalar{Kind: ScalarInt, Int: i} }

// Header carries a record's immutable path and mutable tag set.
type Header struct {
	Path      string
	Tags      TagSet
	Namespace Namespace
	Version   uint64
}

// Record is a header plus its key/value map, reconstructed by folding the
// diff log for its path.
type Record struct {
	Header Header
	Data   map[string]Scalar
}

// Clone returns a deep-enough copy of r safe for a reader to retain past
// the store's lock.
func (r *Record) Clone() *Record {
	out := &Record{
		Header: Header{
			Path:      r.Header.Path,
			Tags:      r.Header.Tags,
			Namespace: r.Header.Namespace,
			Version:   r.Header.Version,
		},
		Data: make(map[string]Scalar, len(r.Data)),
	}
	for k, v := range r.Data {
		out.Data[k] = v
	}
	return out
}

func validatePath(path string) error {
	if len(path) == 0 || path[0] != '/' {
		return fmt.Errorf("record: path %q must begin with '/'", path)
	}
	return nil
}
