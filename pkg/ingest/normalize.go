package ingest

import (
	"regexp"
	"strings"
)

// fillerPhrases are hedges and throat-clearing that add no retrieval
// signal. Removing them before chunking keeps embeddings focused on
// content words.
var fillerPhrases = []string{
	"as mentioned earlier",
	"as we discussed",
	"it is important to note that",
	"it should be noted that",
	"please note that",
	"at this point in time",
	"due to the fact that",
	"in light of the fact that",
	"it goes without saying",
	"needless to say",
	"as a matter of fact",
	"as you know",
	"as you can see",
	"it is worth mentioning",
	"basically",
	"essentially",
	"obviously",
	"of course",
}

// Normalizer cleans document content before indexing: filler phrase
// removal, whitespace and punctuation normalization. Patterns compile
// once; Clean is safe for concurrent use.
type Normalizer struct {
	filler      *regexp.Regexp
	whitespace  *regexp.Regexp
	newlines    *regexp.Regexp
	periods     *regexp.Regexp
	punctuation *regexp.Regexp
}

// NewNormalizer compiles the cleanup patterns.
func NewNormalizer() *Normalizer {
	quoted := make([]string, len(fillerPhrases))
	for i, phrase := range fillerPhrases {
		quoted[i] = regexp.QuoteMeta(phrase)
	}

	return &Normalizer{
		filler:      regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b[,]?[ ]*`),
		whitespace:  regexp.MustCompile(`[ \t]{2,}`),
		newlines:    regexp.MustCompile(`\n{3,}`),
		periods:     regexp.MustCompile(`\.{4,}`),
		punctuation: regexp.MustCompile(`[ \t]+([.,;:!?])`),
	}
}

// Clean returns text with filler removed and spacing normalized.
// Paragraph breaks survive so downstream chunking still sees them.
func (n *Normalizer) Clean(text string) string {
	if text == "" {
		return text
	}

	out := n.filler.ReplaceAllString(text, "")
	out = n.periods.ReplaceAllString(out, "...")
	out = n.whitespace.ReplaceAllString(out, " ")
	out = n.newlines.ReplaceAllString(out, "\n\n")
	out = n.punctuation.ReplaceAllString(out, "$1")

	lines := strings.Split(out, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
