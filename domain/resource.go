package domain

import (
	"errors"
	"fmt"
)

// Kind names a server-owned resource collection.
type Kind string

const (
	KindTask         Kind = "task"
	KindProject      Kind = "project"
	KindNotification Kind = "notification"
)

// ErrUnknownKind is returned for resource kinds the client does not mirror.
var ErrUnknownKind = errors.New("unknown resource kind")

// Kinds lists every mirrored resource kind.
var Kinds = []Kind{KindTask, KindProject, KindNotification}

// ParseKind accepts both the singular kind and its REST collection name.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "task", "tasks":
		return KindTask, nil
	case "project", "projects":
		return KindProject, nil
	case "notification", "notifications":
		return KindNotification, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Collection returns the REST collection segment for the kind.
func (k Kind) Collection() string {
	return string(k) + "s"
}

// Resource is a locally mirrored copy of a server entity.
type Resource interface {
	Kind() Kind
	ResourceID() string
	// Clone returns a deep copy that shares no mutable state with the receiver.
	Clone() Resource
}

// Key identifies a single resource entry.
type Key struct {
	Kind Kind
	ID   string
}

func (k Key) String() string {
	return string(k.Kind) + ":" + k.ID
}

// KeyOf returns the store key of r.
func KeyOf(r Resource) Key {
	return Key{Kind: r.Kind(), ID: r.ResourceID()}
}

// Tombstone is the canonical representation of a deleted resource.
type Tombstone struct {
	ResourceKind Kind   `json:"kind"`
	ID           string `json:"id"`
}

func (t Tombstone) Kind() Kind         { return t.ResourceKind }
func (t Tombstone) ResourceID() string { return t.ID }
func (t Tombstone) Clone() Resource    { return t }

// IsTombstone reports whether r marks a deletion.
func IsTombstone(r Resource) bool {
	switch r.(type) {
	case Tombstone, *Tombstone:
		return true
	}
	return false
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// WithID returns a copy of r identified by id. Canonical replies that omit
// the id describe the resource they were requested for.
func WithID(r Resource, id string) Resource {
	switch v := r.Clone().(type) {
	case *Task:
		v.ID = id
		return v
	case *Project:
		v.ID = id
		return v
	case *Notification:
		v.ID = id
		return v
	case Tombstone:
		v.ID = id
		return v
	default:
		return v
	}
}
