package coordinator

// OpKind identifies one kind of pending write operation.
type OpKind int

const (
	OpInsert OpKind = iota
	OpUpdate
	OpDelete
	OpPermanentDelete
	OpUpsert
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpPermanentDelete:
		return "permanent_delete"
	case OpUpsert:
		return "upsert"
	default:
		return "unknown"
	}
}

// Record is the engine's view of a persistent row.
//
// A record has no durable identity until its first successful insert;
// until then ID returns the empty string and the record is tracked by
// reference. Implementations must be pointer types: the registry and
// resolver de-duplicate and match records by reference identity, not by
// value.
type Record interface {
	// EntityType returns the entity type the record belongs to.
	EntityType() string

	// ID returns the assigned identity, or "" before the first insert.
	ID() string

	// SetID assigns the durable identity after a successful insert.
	SetID(id string)

	// SetField writes a single field, used by relationship resolution
	// to wire link fields once the target identity is known.
	SetField(name string, value any)
}

// GenericRecord is a schema-less Record backed by a field map. The
// entity type doubles as the storage table name for the MySQL-backed
// executor.
type GenericRecord struct {
	entityType string
	id         string
	fields     map[string]any
}

// NewGenericRecord creates a record of the given entity type. The
// fields map may be nil; it is copied, not retained.
func NewGenericRecord(entityType string, fields map[string]any) *GenericRecord {
	r := &GenericRecord{
		entityType: entityType,
		fields:     make(map[string]any, len(fields)),
	}
	for k, v := range fields {
		r.fields[k] = v
	}
	if id, ok := fields["id"].(string); ok {
		r.id = id
	}
	return r
}

func (r *GenericRecord) EntityType() string { return r.entityType }

func (r *GenericRecord) ID() string { return r.id }

func (r *GenericRecord) SetID(id string) {
	r.id = id
	r.fields["id"] = id
}

func (r *GenericRecord) SetField(name string, value any) {
	r.fields[name] = value
}

// Field returns a single field value.
func (r *GenericRecord) Field(name string) (any, bool) {
	v, ok := r.fields[name]
	return v, ok
}

// Fields returns a copy of the current field map.
func (r *GenericRecord) Fields() map[string]any {
	out := make(map[string]any, len(r.fields))
	for k, v := range r.fields {
		out[k] = v
	}
	return out
}

var _ Record = (*GenericRecord)(nil)
