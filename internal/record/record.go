// Package record defines the contract that persisted types satisfy and the
// filter primitives shared by the SQL compiler and the storage layer.
package record

import "time"

// Standard field names every storable row carries.
const (
	FieldID            = "id"
	FieldCreatedTS     = "created_ts"
	FieldLastUpdatedTS = "last_updated_ts"
)

// Fields is the flat field-name → value representation a record maps to and
// from. Values are scalars, strings, or nested documents (map[string]any).
type Fields map[string]any

// AdditionalFilter pairs a raw predicate fragment with its own named
// parameters. It is merged into a generated WHERE clause alongside
// structured filters. Parameter names must not collide with the names the
// filter compiler derives from structured filter keys.
type AdditionalFilter struct {
	Statement string
	Params    map[string]any
}

// Record is implemented by any type stored through the generic store.
// Implementations embed Meta for the mandatory identity and timestamp
// fields and provide bidirectional mapping to the flat representation.
type Record interface {
	StorableMeta() *Meta
	ToFields() Fields
	FromFields(Fields) error
}

// Ptr constrains a type parameter to a pointer to T that satisfies Record.
// It lets generic stores allocate fresh records with new(T).
type Ptr[T any] interface {
	*T
	Record
}

// Meta holds the mandatory fields of every stored record. ID is immutable
// after insert; LastUpdatedTS is refreshed on every update and never moves
// backwards for a given record.
type Meta struct {
	ID            string
	CreatedTS     time.Time
	LastUpdatedTS time.Time
}

// StorableMeta returns the embedded metadata, satisfying Record for any
// type that embeds Meta.
func (m *Meta) StorableMeta() *Meta { return m }

// MetaFields returns the mandatory fields as a flat map. Record
// implementations merge this into their ToFields output.
func (m *Meta) MetaFields() Fields {
	return Fields{
		FieldID:            m.ID,
		FieldCreatedTS:     m.CreatedTS,
		FieldLastUpdatedTS: m.LastUpdatedTS,
	}
}

// SetMetaFields populates the mandatory fields from a flat map, tolerating
// absent keys. Record implementations call this from FromFields.
func (m *Meta) SetMetaFields(f Fields) {
	if v, ok := f[FieldID].(string); ok {
		m.ID = v
	}
	if v, ok := f[FieldCreatedTS].(time.Time); ok {
		m.CreatedTS = v
	}
	if v, ok := f[FieldLastUpdatedTS].(time.Time); ok {
		m.LastUpdatedTS = v
	}
}
