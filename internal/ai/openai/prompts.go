package openai

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/digest-enricher/internal/digest"
)

var languageNames = map[digest.Lang]string{
	digest.LangKO: "Korean",
	digest.LangJA: "Japanese",
}

const summarizePrompt = `You summarize technology news articles for a daily digest.
Write a neutral English summary of three to five sentences.
Do not add facts that are not in the article. Reply with the summary only.`

const translateTitlePrompt = `Translate the following headline into natural %s.
Keep product names, company names and code identifiers in their original form.
Reply with the translated headline only.`

const translateContentPrompt = `Translate the following text into natural %s.
Preserve paragraph breaks. Keep product names, company names and code identifiers in their
original form. Reply with the translation only.`

// maxIllustratedTitles caps how many headlines feed the image prompt.
const maxIllustratedTitles = 10

func illustratePrompt(date digest.DateKey, titles []string) string {
	if len(titles) > maxIllustratedTitles {
		titles = titles[:maxIllustratedTitles]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "A single editorial illustration for a technology news digest dated %s. ", date)
	b.WriteString("Flat colors, no text, no logos. Loosely evoke these headlines:\n")
	for _, t := range titles {
		b.WriteString("- ")
		b.WriteString(strings.TrimSpace(t))
		b.WriteByte('\n')
	}
	return b.String()
}
