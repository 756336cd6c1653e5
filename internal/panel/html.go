package panel

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// blockTags get their joined inner text emitted as one candidate, so that
// a timestamp split across inline elements still parses.
var blockTags = map[string]bool{
	"tr": true, "td": true, "th": true, "div": true, "p": true, "li": true, "dd": true, "dt": true,
}

// TextsFromHTML extracts expiration text candidates from a saved detail
// page: the text of every block element, innermost first.
func TextsFromHTML(r io.Reader) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var texts []string
	seen := make(map[string]bool)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockTags[n.Data] {
			t := strings.Join(strings.Fields(innerText(n)), " ")
			if t != "" && !seen[t] {
				seen[t] = true
				texts = append(texts, t)
			}
		}
	}
	walk(doc)
	return texts, nil
}

func innerText(n *html.Node) string {
	var sb strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			sb.WriteString(n.Data)
			return
		case n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style"):
			return
		}
		breaks := n.Type == html.ElementNode && (blockTags[n.Data] || n.Data == "br")
		if breaks {
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
		if breaks {
			sb.WriteString(" ")
		}
	}
	collect(n)
	return sb.String()
}
