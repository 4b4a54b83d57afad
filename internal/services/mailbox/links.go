package mailbox

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/plexus/internal/models"
)

// ExtractLink returns the first link in a message body whose URL contains
// match. HTML bodies are searched by anchor; plain text by whitespace token.
func ExtractLink(body, match string) (string, error) {
	if strings.Contains(body, "<") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		if err == nil {
			var link string
			doc.Find("a[href]").EachWithBreak(func(i int, s *goquery.Selection) bool {
				href, _ := s.Attr("href")
				if strings.Contains(href, match) {
					link = strings.TrimSpace(href)
					return false
				}
				return true
			})
			if link != "" {
				return link, nil
			}
		}
	}

	for _, token := range strings.Fields(body) {
		token = strings.Trim(token, "<>\"'()[]")
		if strings.HasPrefix(token, "http") && strings.Contains(token, match) {
			return token, nil
		}
	}

	return "", fmt.Errorf("%w: no link containing %q in message", models.ErrMailNotReceived, match)
}
