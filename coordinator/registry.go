package coordinator

// pendingOp is one staged write: a record, an operation kind and an
// optional sparse-update field mask.
type pendingOp struct {
	record    Record
	fieldMask []string
}

// recordKey de-duplicates registrations by record reference and kind.
// Two equal-by-value records are still distinct pending writes.
type recordKey struct {
	record Record
	kind   OpKind
}

type typeBuckets struct {
	ops  map[OpKind][]*pendingOp
	seen map[recordKey]struct{}
}

func newTypeBuckets() *typeBuckets {
	return &typeBuckets{
		ops:  make(map[OpKind][]*pendingOp),
		seen: make(map[recordKey]struct{}),
	}
}

// registry holds the ordered per-type, per-kind buckets of pending
// operations. The declared type order is the commit order.
type registry struct {
	order   []string
	buckets map[string]*typeBuckets
}

func newRegistry(entityTypes []string) (*registry, error) {
	if len(entityTypes) == 0 {
		return nil, newConfigurationError("at least one entity type must be declared")
	}
	r := &registry{
		order:   make([]string, 0, len(entityTypes)),
		buckets: make(map[string]*typeBuckets, len(entityTypes)),
	}
	for _, t := range entityTypes {
		if t == "" {
			return nil, newConfigurationError("entity type name cannot be empty")
		}
		if _, dup := r.buckets[t]; dup {
			return nil, newConfigurationError("entity type %q declared twice", t)
		}
		r.order = append(r.order, t)
		r.buckets[t] = newTypeBuckets()
	}
	return r, nil
}

func (r *registry) declared(entityType string) bool {
	_, ok := r.buckets[entityType]
	return ok
}

// add stages one operation. Registering the same record reference twice
// for the same kind is idempotent; the first registration wins,
// including its field mask.
func (r *registry) add(record Record, kind OpKind, fieldMask []string) error {
	if record == nil {
		return newConfigurationError("cannot register a nil record")
	}
	b, ok := r.buckets[record.EntityType()]
	if !ok {
		return newConfigurationError(
			"entity type %q is not in the declared type list", record.EntityType())
	}
	key := recordKey{record: record, kind: kind}
	if _, dup := b.seen[key]; dup {
		return nil
	}
	b.seen[key] = struct{}{}
	b.ops[kind] = append(b.ops[kind], &pendingOp{record: record, fieldMask: fieldMask})
	return nil
}

// batch returns the ordered bucket for one type and kind.
func (r *registry) batch(entityType string, kind OpKind) []*pendingOp {
	b, ok := r.buckets[entityType]
	if !ok {
		return nil
	}
	return b.ops[kind]
}

// records returns a snapshot of the records in one bucket.
func (r *registry) records(entityType string, kind OpKind) []Record {
	ops := r.batch(entityType, kind)
	out := make([]Record, 0, len(ops))
	for _, op := range ops {
		out = append(out, op.record)
	}
	return out
}

// writeOwners collects every record staged for a write of the given
// kinds for one type, used to verify link resolution before the type's
// batches execute.
func (r *registry) writeOwners(entityType string, kinds ...OpKind) map[Record]struct{} {
	owners := make(map[Record]struct{})
	for _, kind := range kinds {
		for _, op := range r.batch(entityType, kind) {
			owners[op.record] = struct{}{}
		}
	}
	return owners
}

// maskedBatches partitions an update bucket by field-mask signature,
// preserving first-appearance order, so each executor call carries a
// single mask.
func (r *registry) maskedBatches(entityType string) []maskedBatch {
	var out []maskedBatch
	index := make(map[string]int)
	for _, op := range r.batch(entityType, OpUpdate) {
		sig := maskSignature(op.fieldMask)
		i, ok := index[sig]
		if !ok {
			i = len(out)
			index[sig] = i
			out = append(out, maskedBatch{fieldMask: op.fieldMask})
		}
		out[i].records = append(out[i].records, op.record)
	}
	return out
}

type maskedBatch struct {
	fieldMask []string
	records   []Record
}

func maskSignature(mask []string) string {
	if len(mask) == 0 {
		return ""
	}
	sig := ""
	for _, f := range mask {
		sig += f + "\x00"
	}
	return sig
}
