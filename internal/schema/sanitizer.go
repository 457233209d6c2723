package schema

import (
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	richTextPolicy     *bluemonday.Policy
	richTextPolicyOnce sync.Once
)

// RichTextPolicy returns the shared sanitization policy applied to text
// fields with the richtext option set, before the value reaches SQLite.
func RichTextPolicy() *bluemonday.Policy {
	richTextPolicyOnce.Do(func() {
		p := bluemonday.NewPolicy()
		p.AllowStandardURLs()
		p.AllowElements("p", "br", "strong", "b", "em", "i", "u", "s", "strike", "del",
			"code", "pre", "blockquote", "h1", "h2", "h3", "h4", "h5", "h6",
			"ul", "ol", "li", "hr")
		p.AllowAttrs("href", "target", "rel").OnElements("a")
		p.AllowRelativeURLs(true)
		p.RequireNoFollowOnLinks(false)
		richTextPolicy = p
	})
	return richTextPolicy
}

// SanitizeRichText strips any HTML not in RichTextPolicy's allow-list.
func SanitizeRichText(html string) string {
	return RichTextPolicy().Sanitize(html)
}
