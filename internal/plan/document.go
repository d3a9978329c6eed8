package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"pewsched/internal/config"
)

// DocumentVersion is the plan document format written by Encode.
const DocumentVersion = 1

// Document is the persisted plan.
type Document struct {
	Version int      `json:"version"`
	Entries []*Entry `json:"entries"`
}

// Decode parses a plan document. The format follows the extension of path
// (".yaml"/".yml", ".toml", anything else JSON). Unknown fields are rejected,
// missing IDs and managers are filled in, and the result is validated.
func Decode(path string, data []byte) (*Document, error) {
	jb, format, err := config.ToJSON(path, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	var doc Document
	if err := config.DecodeStrict(jb, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalid, format, err)
	}
	if doc.Version == 0 {
		doc.Version = DocumentVersion
	}
	for _, e := range doc.Entries {
		if e == nil {
			return nil, fmt.Errorf("%w: null entry", ErrInvalid)
		}
		e.normalize()
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Encode renders doc as indented JSON.
func Encode(doc *Document) ([]byte, error) {
	if doc == nil {
		doc = &Document{}
	}
	out := *doc
	out.Version = DocumentVersion
	if out.Entries == nil {
		out.Entries = []*Entry{}
	}
	return json.MarshalIndent(&out, "", "  ")
}

// Validate checks the version, every entry and ID uniqueness.
func (d *Document) Validate() error {
	if d.Version > DocumentVersion {
		return fmt.Errorf("%w: unsupported plan version %d", ErrInvalid, d.Version)
	}
	var errs []error
	seen := make(map[string]bool, len(d.Entries))
	for _, e := range d.Entries {
		if err := e.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		id := strings.ToLower(e.ID)
		if seen[id] {
			errs = append(errs, fmt.Errorf("%w: id %s", ErrDuplicate, e.ID))
		}
		seen[id] = true
	}
	if n := running(d.Entries); n > 1 {
		errs = append(errs, fmt.Errorf("%w: %d entries marked running", ErrInvalid, n))
	}
	return errors.Join(errs...)
}

// Clone deep-copies the document.
func (d *Document) Clone() *Document {
	out := &Document{Version: d.Version, Entries: make([]*Entry, 0, len(d.Entries))}
	for _, e := range d.Entries {
		out.Entries = append(out.Entries, e.Clone())
	}
	return out
}

// Find returns the entry with id (case-insensitive), or nil.
func (d *Document) Find(id string) *Entry {
	for _, e := range d.Entries {
		if strings.EqualFold(e.ID, id) {
			return e
		}
	}
	return nil
}

func running(entries []*Entry) int {
	n := 0
	for _, e := range entries {
		if e.Running {
			n++
		}
	}
	return n
}
