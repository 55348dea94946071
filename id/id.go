// Package id defines TypeID-based identity types for all reportflow entities.
//
// Every entity uses a single ID struct with a prefix that identifies the
// entity type. IDs are K-sortable (UUIDv7-based), globally unique, and
// URL-safe in the format "prefix_suffix". Tenant identifiers are owned by
// the host platform and stay plain strings.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

// Prefix constants for all reportflow entity types.
const (
	PrefixTemplate Prefix = "rtpl"
	PrefixSchedule Prefix = "rsch"
	PrefixRun      Prefix = "rrun"
	PrefixJob      Prefix = "job"
	PrefixDLQ      Prefix = "dlq"
	PrefixWorker   Prefix = "wkr"
	PrefixAudit    Prefix = "audit"
)

// ID is the primary identifier type for all reportflow entities.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new ID with the given prefix. It panics if prefix is not
// a valid TypeID prefix.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}

	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string such as "rrun_01h2xcejqtf2nbrexx3vqjhp41".
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

// ParseWithPrefix parses s and checks that its prefix is expected.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}

	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}

	return parsed, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}

	return parsed
}

// ──────────────────────────────────────────────────
// Entity aliases
// ──────────────────────────────────────────────────

// TemplateID identifies a report template (prefix: "rtpl").
type TemplateID = ID

// ScheduleID identifies a report schedule (prefix: "rsch").
type ScheduleID = ID

// RunID identifies a report run (prefix: "rrun").
type RunID = ID

// JobID identifies a queued work item (prefix: "job").
type JobID = ID

// DLQID identifies a dead letter entry (prefix: "dlq").
type DLQID = ID

// WorkerID identifies a worker pool instance (prefix: "wkr").
type WorkerID = ID

// AuditID identifies an audit entry (prefix: "audit").
type AuditID = ID

// ──────────────────────────────────────────────────
// Constructors and parsers
// ──────────────────────────────────────────────────

func NewTemplateID() ID { return New(PrefixTemplate) }
func NewScheduleID() ID { return New(PrefixSchedule) }
func NewRunID() ID      { return New(PrefixRun) }
func NewJobID() ID      { return New(PrefixJob) }
func NewDLQID() ID      { return New(PrefixDLQ) }
func NewWorkerID() ID   { return New(PrefixWorker) }
func NewAuditID() ID    { return New(PrefixAudit) }

func ParseTemplateID(s string) (ID, error) { return ParseWithPrefix(s, PrefixTemplate) }
func ParseScheduleID(s string) (ID, error) { return ParseWithPrefix(s, PrefixSchedule) }
func ParseRunID(s string) (ID, error)      { return ParseWithPrefix(s, PrefixRun) }
func ParseJobID(s string) (ID, error)      { return ParseWithPrefix(s, PrefixJob) }
func ParseDLQID(s string) (ID, error)      { return ParseWithPrefix(s, PrefixDLQ) }
func ParseWorkerID(s string) (ID, error)   { return ParseWithPrefix(s, PrefixWorker) }
func ParseAuditID(s string) (ID, error)    { return ParseWithPrefix(s, PrefixAudit) }

// ParseOptional parses s, mapping the empty string to Nil. Stores use it
// for nullable references such as a run's schedule.
func ParseOptional(s string) (ID, error) {
	if s == "" {
		return Nil, nil
	}
	return Parse(s)
}

// ──────────────────────────────────────────────────
// ID methods
// ──────────────────────────────────────────────────

// String returns the TypeID string, or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}

	return i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}

	return Prefix(i.inner.Prefix())
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}

	return []byte(i.inner.String()), nil
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

// Value implements driver.Valuer. Nil stores as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}

	return i.inner.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
