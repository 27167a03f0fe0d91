// Package digest defines the core types shared across the enrichment subsystems.
package digest

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Lang identifies one of the languages carried by an Item.
type Lang string

// Supported languages.
const (
	LangEN Lang = "en"
	LangKO Lang = "ko"
	LangJA Lang = "ja"
)

// TranslationLangs lists the languages produced by the translate family.
var TranslationLangs = []Lang{LangKO, LangJA}

// ParseLang validates a language code.
func ParseLang(s string) (Lang, error) {
	switch l := Lang(strings.ToLower(strings.TrimSpace(s))); l {
	case LangEN, LangKO, LangJA:
		return l, nil
	default:
		return "", fmt.Errorf("%w: unsupported lang %q", ErrValidation, s)
	}
}

// IsTranslation reports whether the language is a translation target.
func (l Lang) IsTranslation() bool {
	return l == LangKO || l == LangJA
}

// LocalizedText holds one optional value per language.
type LocalizedText struct {
	EN *string `json:"en"`
	KO *string `json:"ko"`
	JA *string `json:"ja"`
}

// Get returns the value for lang, or "" and false when it is unset or empty.
func (t LocalizedText) Get(lang Lang) (string, bool) {
	var p *string
	switch lang {
	case LangEN:
		p = t.EN
	case LangKO:
		p = t.KO
	case LangJA:
		p = t.JA
	}
	if p == nil || *p == "" {
		return "", false
	}
	return *p, true
}

// Has reports whether lang carries a non-empty value.
func (t LocalizedText) Has(lang Lang) bool {
	_, ok := t.Get(lang)
	return ok
}

// Set assigns the value for lang.
func (t *LocalizedText) Set(lang Lang, value string) {
	v := value
	switch lang {
	case LangEN:
		t.EN = &v
	case LangKO:
		t.KO = &v
	case LangJA:
		t.JA = &v
	}
}

// Item is one aggregated entry of a daily batch.
type Item struct {
	ID      string        `json:"id"`
	Title   LocalizedText `json:"title"`
	Type    string        `json:"type"`
	URL     string        `json:"url"`
	Score   int           `json:"score"`
	By      string        `json:"by"`
	Time    int64         `json:"time"`
	Content *string       `json:"content"`
	Summary LocalizedText `json:"summary"`
}

// HasContent reports whether the fetched content is populated.
func (i Item) HasContent() bool {
	return i.Content != nil && *i.Content != ""
}

// SetContent assigns the fetched content.
func (i *Item) SetContent(content string) {
	c := content
	i.Content = &c
}

// DailyBatch is the canonical document for one day.
type DailyBatch struct {
	Date  DateKey `json:"date"`
	Items []Item  `json:"items"`
}

// Find returns the index of the item with id, or -1.
func (b *DailyBatch) Find(id string) int {
	for i := range b.Items {
		if b.Items[i].ID == id {
			return i
		}
	}
	return -1
}

// Validate enforces the invariants every stored document must satisfy.
func (b *DailyBatch) Validate() error {
	seen := make(map[string]struct{}, len(b.Items))
	for idx, item := range b.Items {
		if item.ID == "" {
			return fmt.Errorf("%w: item %d has no id", ErrValidation, idx)
		}
		if !item.Title.Has(LangEN) {
			return fmt.Errorf("%w: item %s has no english title", ErrValidation, item.ID)
		}
		if _, dup := seen[item.ID]; dup {
			return fmt.Errorf("%w: duplicate item id %s", ErrValidation, item.ID)
		}
		seen[item.ID] = struct{}{}
	}
	return nil
}

// DecodeBatch parses and validates a stored document.
func DecodeBatch(data []byte) (*DailyBatch, error) {
	var batch DailyBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("%w: decode batch: %v", ErrValidation, err)
	}
	if batch.Items == nil {
		batch.Items = []Item{}
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	return &batch, nil
}

// TaskType names a batch-flush kind.
type TaskType string

// Flush kinds accepted by the coordinator.
const (
	TaskSummarize TaskType = "summarize"
	TaskTranslate TaskType = "translate"
	TaskFetch     TaskType = "fetch"
)

// ParseTaskType validates a flush kind.
func ParseTaskType(s string) (TaskType, error) {
	switch t := TaskType(strings.ToLower(strings.TrimSpace(s))); t {
	case TaskSummarize, TaskTranslate, TaskFetch:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unsupported type %q", ErrValidation, s)
	}
}

// FlushRequest declares which staged results a batch flush should merge.
type FlushRequest struct {
	Type  TaskType `json:"type"`
	Lang  Lang     `json:"lang,omitempty"`
	Total int      `json:"total"`
}

// Validate checks the request shape.
func (r FlushRequest) Validate() error {
	if _, err := ParseTaskType(string(r.Type)); err != nil {
		return err
	}
	if r.Total < 0 {
		return fmt.Errorf("%w: total must be >= 0", ErrValidation)
	}
	if r.Lang != "" && (r.Type != TaskTranslate || !r.Lang.IsTranslation()) {
		return fmt.Errorf("%w: lang %q is only valid for translate with ko or ja", ErrValidation, r.Lang)
	}
	return nil
}

// Counts tallies staged keys per namespace.
type Counts struct {
	EN      int `json:"en"`
	JA      int `json:"ja"`
	KO      int `json:"ko"`
	Content int `json:"content"`
}

// FlushResult reports the outcome of a batch flush.
type FlushResult struct {
	Attempted bool   `json:"attempted"`
	CanFlush  bool   `json:"canFlush"`
	Flushed   int    `json:"flushed"`
	Counts    Counts `json:"counts"`
	TotalKeys int    `json:"totalKeys"`
	Message   string `json:"message"`
}

// StagedTranslation is the JSON payload stored under a translation key.
type StagedTranslation struct {
	TranslatedTitle   string `json:"translatedTitle"`
	TranslatedSummary string `json:"translatedSummary"`
}

// TranslateMode selects the prompt used for a translation call.
type TranslateMode string

// Translation modes.
const (
	ModeTitle   TranslateMode = "title"
	ModeContent TranslateMode = "content"
)
