package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticLookup(t *testing.T) {
	inv := NewStatic(Entity{ID: "42", Name: "Batch A"})

	e, err := inv.Lookup(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "Batch A", e.Name)

	_, err = inv.Lookup(context.Background(), "99")
	assert.ErrorIs(t, err, ErrUnknownEntity)
}

func TestStaticAddReplaces(t *testing.T) {
	inv := NewStatic()
	inv.Add(Entity{ID: "7", Name: "Batch B"})
	inv.Add(Entity{ID: "7", Name: "Batch B rev2"})

	e, err := inv.Lookup(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "Batch B rev2", e.Name)
}
