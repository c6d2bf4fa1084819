// Package extract finds cacheable image URLs in rendered content.
//
// Two syntaxes are recognized: markdown images, ![alt](url "title"), and
// HTML image tags, <img src="url">. Results are filtered by a Matcher so
// that only images from the object-storage origins the cache is meant for
// are returned; everything else is dropped silently.
package extract

import (
	"cmp"
	"encoding/json"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"slices"
	"strings"
)

// Markdown destinations may contain one level of balanced parentheses.
var (
	markdownImage = regexp.MustCompile(`!\[[^\]]*\]\(\s*<?((?:[^()\s>]|\([^()\s>]*\))+)>?(?:\s+(?:"[^"]*"|'[^']*'))?\s*\)`)
	htmlImage     = regexp.MustCompile(`(?i)<img\b[^>]*?\ssrc\s*=\s*(?:"([^"]*)"|'([^']*)'|([^\s"'>]+))`)
)

// ImageURLs returns the de-duplicated image URLs referenced by content, in
// the order they first appear. A nil match defaults to S3.
func ImageURLs(content string, match Matcher) []string {
	if match == nil {
		match = S3
	}

	type ref struct {
		pos int
		raw string
	}
	var refs []ref
	for _, m := range markdownImage.FindAllStringSubmatchIndex(content, -1) {
		refs = append(refs, ref{m[0], content[m[2]:m[3]]})
	}
	for _, m := range htmlImage.FindAllStringSubmatchIndex(content, -1) {
		// Exactly one of the three quoting groups participates.
		for g := 1; g <= 3; g++ {
			if m[2*g] >= 0 {
				refs = append(refs, ref{m[0], content[m[2*g]:m[2*g+1]]})
				break
			}
		}
	}
	slices.SortFunc(refs, func(a, b ref) int { return cmp.Compare(a.pos, b.pos) })

	var c collector
	for _, r := range refs {
		c.add(r.raw, match)
	}
	return c.urls
}

// Question is the rich-content shape of a question as served by the
// content backend.
type Question struct {
	Question RichContent `json:"question"`
	Hint     RichContent `json:"hint"`
	Solution RichContent `json:"solution"`
	Options  []Option    `json:"options"`
}

// RichContent holds one renderable field. Either part may be empty.
type RichContent struct {
	Text string `json:"text"`
	HTML string `json:"html"`
}

// Option is one answer choice.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// FromQuestion returns the union of image URLs across every textual field
// of q.
func FromQuestion(q Question, match Matcher) []string {
	return FromQuestions([]Question{q}, match)
}

// FromQuestions returns the union of image URLs across all questions.
func FromQuestions(qs []Question, match Matcher) []string {
	var c collector
	for _, q := range qs {
		for _, field := range q.fields() {
			for _, u := range ImageURLs(field, match) {
				c.add(u, nil)
			}
		}
	}
	return c.urls
}

func (q Question) fields() []string {
	out := []string{
		q.Question.Text, q.Question.HTML,
		q.Hint.Text, q.Hint.HTML,
		q.Solution.Text, q.Solution.HTML,
	}
	for _, o := range q.Options {
		out = append(out, o.Text)
	}
	return out
}

// FromJSON walks an arbitrary JSON document and extracts image URLs from
// every string value. Result order is unspecified.
func FromJSON(data []byte, match Matcher) ([]string, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding content: %w", err)
	}

	var c collector
	walk(doc, func(s string) {
		for _, u := range ImageURLs(s, match) {
			c.add(u, nil)
		}
	})
	return c.urls, nil
}

func walk(v any, visit func(string)) {
	switch v := v.(type) {
	case string:
		visit(v)
	case []any:
		for _, item := range v {
			walk(item, visit)
		}
	case map[string]any:
		for _, item := range v {
			walk(item, visit)
		}
	}
}

// collector accumulates matching URLs in first-seen order.
// A nil Matcher passed to add accepts any parseable URL.
type collector struct {
	seen map[string]struct{}
	urls []string
}

func (c *collector) add(raw string, match Matcher) {
	raw = strings.TrimSpace(html.UnescapeString(raw))
	if raw == "" {
		return
	}
	if _, dup := c.seen[raw]; dup {
		return
	}

	u, err := url.Parse(raw)
	if err != nil || (match != nil && !match(u)) {
		return
	}

	if c.seen == nil {
		c.seen = make(map[string]struct{})
	}
	c.seen[raw] = struct{}{}
	c.urls = append(c.urls, raw)
}
