// Package id defines the TypeID-based identifiers used by conductor.
//
// IDs render as "prefix_suffix" where the suffix is a base32 UUIDv7, so they
// are globally unique, URL-safe and sort by creation time.
package id

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix names the entity type encoded in an ID.
type Prefix string

const (
	PrefixJob      Prefix = "job"
	PrefixDelivery Prefix = "dlv"
	PrefixWorker   Prefix = "wkr"
	PrefixEvent    Prefix = "evt"
)

// ID wraps a TypeID. The zero value is Nil.
//
//nolint:recvcheck // value receivers for reads, pointer receiver for UnmarshalText.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero ID.
var Nil ID

// New generates an ID with the given prefix. It panics on an invalid prefix,
// which is a programming error.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return ID{inner: tid, valid: true}
}

// Parse parses any "prefix_suffix" string.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses s and checks that its prefix is want.
func ParseWithPrefix(s string, want Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if parsed.Prefix() != want {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", want, parsed.Prefix())
	}
	return parsed, nil
}

// JobID identifies a job (prefix "job").
type JobID = ID

// DeliveryID identifies a webhook delivery (prefix "dlv").
type DeliveryID = ID

// WorkerID identifies a worker pool instance (prefix "wkr").
type WorkerID = ID

// EventID identifies a streamed lifecycle event (prefix "evt").
type EventID = ID

func NewJobID() JobID           { return New(PrefixJob) }
func NewDeliveryID() DeliveryID { return New(PrefixDelivery) }
func NewWorkerID() WorkerID     { return New(PrefixWorker) }
func NewEventID() EventID       { return New(PrefixEvent) }

func ParseJobID(s string) (JobID, error)           { return ParseWithPrefix(s, PrefixJob) }
func ParseDeliveryID(s string) (DeliveryID, error) { return ParseWithPrefix(s, PrefixDelivery) }

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}

// Prefix returns the prefix component, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

// IsNil reports whether i is the zero value.
func (i ID) IsNil() bool { return !i.valid }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
