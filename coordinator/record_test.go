package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenericRecordCopiesFields(t *testing.T) {
	src := map[string]any{"name": "acme"}
	rec := NewGenericRecord("accounts", src)

	src["name"] = "mutated"
	v, ok := rec.Field("name")
	require.True(t, ok)
	assert.Equal(t, "acme", v)

	out := rec.Fields()
	out["name"] = "mutated again"
	v, _ = rec.Field("name")
	assert.Equal(t, "acme", v)
}

func TestGenericRecordIdentity(t *testing.T) {
	rec := NewGenericRecord("accounts", nil)
	assert.Empty(t, rec.ID())

	rec.SetID("id-9")
	assert.Equal(t, "id-9", rec.ID())
	v, ok := rec.Field("id")
	require.True(t, ok)
	assert.Equal(t, "id-9", v)

	// An id field in the source map becomes the identity.
	seeded := NewGenericRecord("accounts", map[string]any{"id": "id-seeded"})
	assert.Equal(t, "id-seeded", seeded.ID())
}

func TestOpKindString(t *testing.T) {
	assert.Equal(t, "insert", OpInsert.String())
	assert.Equal(t, "permanent_delete", OpPermanentDelete.String())
	assert.Equal(t, "unknown", OpKind(99).String())
}
