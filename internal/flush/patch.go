package flush

import (
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/digest-enricher/internal/digest"
)

// applyPatch writes a staged value into item. Only empty target fields are written, so a
// repeated patch is a no-op. It reports whether anything changed.
func applyPatch(item *digest.Item, key digest.StagingKey, value string) (bool, error) {
	switch key.Kind {
	case digest.KindContent:
		if item.HasContent() || value == "" {
			return false, nil
		}
		item.SetContent(value)
		return true, nil

	case digest.KindSummary:
		if item.Summary.Has(digest.LangEN) || value == "" {
			return false, nil
		}
		item.Summary.Set(digest.LangEN, value)
		return true, nil

	case digest.KindTranslation:
		var staged digest.StagedTranslation
		if err := json.Unmarshal([]byte(value), &staged); err != nil {
			return false, fmt.Errorf("%w: translation payload for %s: %v", digest.ErrValidation, key.Raw, err)
		}
		changed := false
		if staged.TranslatedTitle != "" && !item.Title.Has(key.Lang) {
			item.Title.Set(key.Lang, staged.TranslatedTitle)
			changed = true
		}
		if staged.TranslatedSummary != "" && !item.Summary.Has(key.Lang) {
			item.Summary.Set(key.Lang, staged.TranslatedSummary)
			changed = true
		}
		return changed, nil

	default:
		return false, fmt.Errorf("%w: unsupported kind %q", digest.ErrValidation, key.Kind)
	}
}
