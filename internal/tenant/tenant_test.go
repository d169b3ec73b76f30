package tenant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/edu-backoffice/internal/domain/payment"
)

func TestParse(t *testing.T) {
	id, err := Parse(" IVY ")
	require.NoError(t, err)
	assert.Equal(t, Ivy, id)

	_, err = Parse("acme")
	require.ErrorIs(t, err, payment.ErrNotFound)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry[string]()
	require.NoError(t, r.Add(Ivy, "ivy-db"))
	require.NoError(t, r.Add(Cojooboo, "cjb-db"))
	require.Error(t, r.Add(Ivy, "again"))

	assert.Equal(t, []ID{Ivy, Cojooboo}, r.IDs())
	assert.Equal(t, 2, r.Len())

	v, err := r.Get(Cojooboo)
	require.NoError(t, err)
	assert.Equal(t, "cjb-db", v)

	id, v, err := r.Lookup("Ivy")
	require.NoError(t, err)
	assert.Equal(t, Ivy, id)
	assert.Equal(t, "ivy-db", v)

	only := NewRegistry[int]()
	require.NoError(t, only.Add(Ivy, 1))
	_, err = only.Get(Cojooboo)
	require.ErrorIs(t, err, payment.ErrNotFound)
	_, _, err = only.Lookup("nope")
	require.ErrorIs(t, err, payment.ErrNotFound)
}
