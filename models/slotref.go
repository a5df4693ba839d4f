package models

import (
	"encoding/json"
	"fmt"
)

// SlotRefKind tags the variant held by a SlotRef.
type SlotRefKind string

const (
	SlotRefPersisted         SlotRefKind = "persisted"
	SlotRefRecurringInstance SlotRefKind = "recurring_instance"
)

// SlotRef identifies the slot a booking targets: either a stored row, or the
// occurrence of a recurring template on a given date.
type SlotRef struct {
	kind       SlotRefKind
	id         string
	templateID string
	date       string
}

func PersistedRef(id string) SlotRef {
	return SlotRef{kind: SlotRefPersisted, id: id}
}

func RecurringInstanceRef(templateID, date string) SlotRef {
	return SlotRef{kind: SlotRefRecurringInstance, templateID: templateID, date: date}
}

func (r SlotRef) Kind() SlotRefKind { return r.kind }

// Persisted returns the slot id when the ref names a stored row.
func (r SlotRef) Persisted() (string, bool) {
	return r.id, r.kind == SlotRefPersisted
}

// RecurringInstance returns the template id and date when the ref names an occurrence.
func (r SlotRef) RecurringInstance() (templateID, date string, ok bool) {
	return r.templateID, r.date, r.kind == SlotRefRecurringInstance
}

// IsZero reports whether the ref was never set.
func (r SlotRef) IsZero() bool { return r.kind == "" }

func (r SlotRef) String() string {
	switch r.kind {
	case SlotRefPersisted:
		return r.id
	case SlotRefRecurringInstance:
		return fmt.Sprintf("%s@%s", r.templateID, r.date)
	default:
		return ""
	}
}

type slotRefJSON struct {
	Kind       SlotRefKind `json:"kind"`
	ID         string      `json:"id,omitempty"`
	TemplateID string      `json:"templateId,omitempty"`
	Date       string      `json:"date,omitempty"`
}

func (r SlotRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(slotRefJSON{Kind: r.kind, ID: r.id, TemplateID: r.templateID, Date: r.date})
}

// UnmarshalJSON accepts {"kind":"persisted","id":...} or
// {"kind":"recurring_instance","templateId":...,"date":...}. A bare {"id":...} is persisted.
func (r *SlotRef) UnmarshalJSON(data []byte) error {
	var raw slotRefJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Kind {
	case SlotRefPersisted, "":
		if raw.ID == "" {
			return fmt.Errorf("slot ref: id is required")
		}
		*r = PersistedRef(raw.ID)
	case SlotRefRecurringInstance:
		if raw.TemplateID == "" || raw.Date == "" {
			return fmt.Errorf("slot ref: templateId and date are required")
		}
		*r = RecurringInstanceRef(raw.TemplateID, raw.Date)
	default:
		return fmt.Errorf("slot ref: unknown kind %q", raw.Kind)
	}
	return nil
}
