package digest

import (
	"fmt"
	"strings"
)

// Kind names the field a staging record patches.
type Kind string

// Staging record kinds.
const (
	KindContent     Kind = "content"
	KindSummary     Kind = "summary"
	KindTranslation Kind = "translation"
)

// ParseKind validates a staging kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindContent, KindSummary, KindTranslation:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unsupported kind %q", ErrValidation, s)
	}
}

const (
	contentNamespace  = "content"
	translationSuffix = "translation"
)

// ContentKey is the staging key for an item's fetched text.
func ContentKey(itemID string) string {
	return contentNamespace + ":" + itemID
}

// SummaryKey is the staging key for an item's english summary.
func SummaryKey(itemID string) string {
	return string(LangEN) + ":" + itemID
}

// TranslationKey is the staging key for an item's translation payload.
func TranslationKey(lang Lang, itemID string) string {
	return string(lang) + ":" + itemID + ":" + translationSuffix
}

// StagingKeyFor returns the key a record of kind/lang for itemID is staged under.
func StagingKeyFor(kind Kind, lang Lang, itemID string) (string, error) {
	switch kind {
	case KindContent:
		return ContentKey(itemID), nil
	case KindSummary:
		return SummaryKey(itemID), nil
	case KindTranslation:
		if !lang.IsTranslation() {
			return "", fmt.Errorf("%w: translation requires ko or ja, got %q", ErrValidation, lang)
		}
		return TranslationKey(lang, itemID), nil
	default:
		return "", fmt.Errorf("%w: unsupported kind %q", ErrValidation, kind)
	}
}

// StagingKey is a parsed staging key.
type StagingKey struct {
	Raw    string
	Kind   Kind
	Lang   Lang
	ItemID string
}

// ParseStagingKey recognizes the three key shapes. Anything else is reported as not ok.
func ParseStagingKey(key string) (StagingKey, bool) {
	parts := strings.Split(key, ":")
	switch {
	case len(parts) == 2 && parts[0] == contentNamespace && parts[1] != "":
		return StagingKey{Raw: key, Kind: KindContent, ItemID: parts[1]}, true
	case len(parts) == 2 && parts[0] == string(LangEN) && parts[1] != "":
		return StagingKey{Raw: key, Kind: KindSummary, Lang: LangEN, ItemID: parts[1]}, true
	case len(parts) == 3 && parts[2] == translationSuffix && parts[1] != "":
		lang := Lang(parts[0])
		if !lang.IsTranslation() {
			return StagingKey{}, false
		}
		return StagingKey{Raw: key, Kind: KindTranslation, Lang: lang, ItemID: parts[1]}, true
	default:
		return StagingKey{}, false
	}
}

// StagingPatterns are the glob patterns that enumerate every staged namespace.
var StagingPatterns = []string{
	contentNamespace + ":*",
	string(LangEN) + ":*",
	string(LangKO) + ":*:" + translationSuffix,
	string(LangJA) + ":*:" + translationSuffix,
}
