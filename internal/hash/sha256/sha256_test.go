package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/digest-enricher/internal/digest"
)

func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got)

	again, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, got, again)
}

func TestItemIDFromTitle(t *testing.T) {
	t.Parallel()

	id, err := digest.ItemIDFor(New(), "  hello world ")
	require.NoError(t, err)
	require.Equal(t, "b94d27b9934d3e08", id)

	_, err = digest.ItemIDFor(New(), " ")
	require.ErrorIs(t, err, digest.ErrValidation)
}
