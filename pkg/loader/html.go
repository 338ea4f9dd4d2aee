package loader

import (
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tmc/langchaingo/schema"
)

var contentSelectors = []string{
	"main",
	"article",
	".content",
	"#content",
}

func loadHTML(r io.Reader) (schema.Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return schema.Document{}, err
	}

	doc.Find("script, style, noscript, nav, footer").Remove()

	var content string
	for _, selector := range contentSelectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = selected.Text()
			break
		}
	}

	// Fallback to body if no main content found
	if content == "" {
		content = doc.Find("body").Text()
	}

	return schema.Document{
		PageContent: strings.Join(strings.Fields(content), " "),
		Metadata: map[string]any{
			"title": strings.TrimSpace(doc.Find("title").Text()),
		},
	}, nil
}
