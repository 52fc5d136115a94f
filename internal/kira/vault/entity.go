// Package vault implements the content-addressed filesystem store that owns
// all durable entities. Each entity persists to exactly one file under
// <vault>/<type>s/<id>.md as a YAML front-matter block followed by the free
// text body. All writes are atomic (temp file + rename) and serialized per
// entity ID.
package vault

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/kirahq/kira/common/clock"
)

// Type is the closed set of entity types.
type Type string

const (
	TypeTask      Type = "task"
	TypeNote      Type = "note"
	TypeEvent     Type = "event"
	TypeRollup    Type = "rollup"
	TypeInboxItem Type = "inbox_item"
)

// Types lists every valid entity type.
var Types = []Type{TypeTask, TypeNote, TypeEvent, TypeRollup, TypeInboxItem}

// ValidType reports whether t is a member of the closed type set.
func ValidType(t Type) bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Entity is the universal vault object.
type Entity struct {
	// ID is the stable identifier <type>-<yyyymmdd>-<hhmm>-<slug>.
	// Immutable; never reused.
	ID string
	// Type is one of the closed type set.
	Type Type
	// Metadata maps names to primitives and lists (title, status, tags,
	// trace_id, source, custom fields).
	Metadata map[string]any
	// Content is the free-form text body.
	Content string
	// CreatedTS and UpdatedTS are timezone-aware instants. UpdatedTS is
	// monotonically non-decreasing per ID.
	CreatedTS time.Time
	UpdatedTS time.Time
	// DoneTS is set exactly when a task enters "done" and cleared on
	// transitions out of it.
	DoneTS *time.Time
}

// Clone returns a deep copy so callers can hand entities across the bus
// without sharing mutable metadata.
func (e *Entity) Clone() *Entity {
	cp := *e
	cp.Metadata = cloneValue(e.Metadata).(map[string]any)
	if e.DoneTS != nil {
		t := *e.DoneTS
		cp.DoneTS = &t
	}
	return &cp
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, val := range tv {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, val := range tv {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}

// Title returns the metadata title, or "" when unset.
func (e *Entity) Title() string {
	if t, ok := e.Metadata["title"].(string); ok {
		return t
	}
	return ""
}

// Status returns the metadata status, or "" when unset.
func (e *Entity) Status() string {
	if s, ok := e.Metadata["status"].(string); ok {
		return s
	}
	return ""
}

// TypeOfID extracts the entity type from an ID, or "" when the ID is
// malformed. IDs are <type>-<yyyymmdd>-<hhmm>-<slug>; the type never
// contains a hyphen.
func TypeOfID(id string) Type {
	i := strings.IndexByte(id, '-')
	if i <= 0 {
		return ""
	}
	t := Type(id[:i])
	if !ValidType(t) {
		return ""
	}
	return t
}

// NewID allocates an ID of the form <type>-<yyyymmdd>-<hhmm>-<slug> that
// does not collide according to exists. Collisions get a numeric suffix.
func NewID(t Type, ck clock.Clock, title string, exists func(id string) bool) string {
	date, minute := ck.IDStamp()
	base := fmt.Sprintf("%s-%s-%s-%s", t, date, minute, Slug(title))
	id := base
	for n := 2; exists(id); n++ {
		id = fmt.Sprintf("%s-%d", base, n)
	}
	return id
}

// maxSlugLen keeps IDs filename-friendly.
const maxSlugLen = 40

// Slug lowercases title and collapses every non-alphanumeric run into a
// single hyphen. Empty titles slug to "item".
func Slug(title string) string {
	var b strings.Builder
	lastHyphen := true // suppress leading hyphen
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
		if b.Len() >= maxSlugLen {
			break
		}
	}
	s := strings.Trim(b.String(), "-")
	if s == "" {
		return "item"
	}
	return s
}
