package model

import "strings"

// Mention is one place-name occurrence extracted from article text by the
// upstream NER step. Mentions are ephemeral: created per disambiguation
// request and discarded with it.
type Mention struct {
	// Text is the surface form as extracted, e.g. "Paris" or "the Hague".
	Text string `json:"text"`

	// ArticleID identifies the source article.
	ArticleID string `json:"article_id"`

	// Offset is the rune offset of the mention within the article body.
	// Used as the deterministic tie-break for resolution order.
	Offset int `json:"offset"`

	// Context carries a few tokens surrounding the mention ("city of",
	// "County", ...) for kind-prior cues. Optional.
	Context string `json:"context,omitempty"`
}

// IsBlank reports whether the mention has no usable text.
func (m Mention) IsBlank() bool {
	return strings.TrimSpace(m.Text) == ""
}

// ArticleBatch groups the mentions of one article for joint resolution.
// Publisher optionally names the article's outlet for the source prior.
type ArticleBatch struct {
	ArticleID string    `json:"article_id"`
	Publisher string    `json:"publisher,omitempty"`
	Mentions  []Mention `json:"mentions"`
}
