package digest

import (
	"fmt"
	"strings"
)

// ItemIDLength is the number of hex characters kept from the title digest.
const ItemIDLength = 16

// ItemIDFor derives the stable id of an item from its English title.
func ItemIDFor(h Hasher, titleEN string) (string, error) {
	title := strings.TrimSpace(titleEN)
	if title == "" {
		return "", fmt.Errorf("%w: english title is required", ErrValidation)
	}
	sum, err := h.Hash([]byte(title))
	if err != nil {
		return "", fmt.Errorf("hash title: %w", err)
	}
	if len(sum) < ItemIDLength {
		return "", fmt.Errorf("digest %q shorter than %d characters", sum, ItemIDLength)
	}
	return sum[:ItemIDLength], nil
}
