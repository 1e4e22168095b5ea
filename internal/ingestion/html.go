package ingestion

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var htmlTagRE = regexp.MustCompile(`(?i)<(html|body|div|p|br|span|section|li|ul|h[1-6])[\s/>]`)

// LooksLikeHTML reports whether content contains common block-level markup.
func LooksLikeHTML(content string) bool {
	return htmlTagRE.MatchString(content)
}

// HTMLToText parses HTML and returns its visible text, one block per line.
// Scripts, styles and page chrome are removed.
func HTMLToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("nav, footer, header, script, style, noscript, .cookie-banner, .popup").Remove()

	// Line breaks between blocks survive Text()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, h1, h2, h3, h4, h5, h6, section").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	root := doc.Find("main").First()
	if root.Length() == 0 {
		root = doc.Find("body")
	}

	lines := strings.Split(root.Text(), "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n"), nil
}
