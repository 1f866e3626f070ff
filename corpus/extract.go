package corpus

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var blankRuns = regexp.MustCompile(`\n{3,}`)

// page is the parsed form of one fetched HTML document.
type page struct {
	raw   string
	title string
	text  string
	links []string
}

// skipped subtrees never contribute text.
var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Svg:      true,
	atom.Head:     true,
	atom.Template: true,
}

var paragraphBreaks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Blockquote: true, atom.Pre: true, atom.Table: true, atom.Ul: true, atom.Ol: true,
	atom.Header: true, atom.Footer: true, atom.Main: true,
}

var lineBreaks = map[atom.Atom]bool{
	atom.Br: true, atom.Li: true, atom.Tr: true, atom.Dt: true, atom.Dd: true,
}

// extract parses raw HTML. Text comes from the first <article> element when
// present, otherwise from the whole body. Links are resolved against base and
// restricted to base's host.
func extract(raw string, base *url.URL) (*page, error) {
	root, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	p := &page{raw: raw}
	if t := findFirst(root, atom.Title); t != nil {
		p.title = strings.TrimSpace(textOf(t))
	}

	content := findFirst(root, atom.Article)
	if content == nil {
		content = findFirst(root, atom.Body)
	}
	if content == nil {
		content = root
	}

	var b strings.Builder
	writeText(&b, content)
	p.text = clean(b.String())
	p.links = sameHostLinks(root, base)
	return p, nil
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.CommentNode:
		return
	case html.ElementNode:
		if skipped[n.DataAtom] {
			return
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}

	if n.Type == html.ElementNode {
		switch {
		case paragraphBreaks[n.DataAtom]:
			b.WriteString("\n\n")
		case lineBreaks[n.DataAtom]:
			b.WriteString("\n")
		}
	}
}

// clean trims every line and collapses runs of blank lines to one.
func clean(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	s = strings.Join(lines, "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func sameHostLinks(root *html.Node, base *url.URL) []string {
	if base == nil {
		return nil
	}
	seen := make(map[string]bool)
	var links []string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				ref, err := url.Parse(strings.TrimSpace(attr.Val))
				if err != nil {
					continue
				}
				abs := base.ResolveReference(ref)
				abs.Fragment = ""
				if abs.Host != base.Host || (abs.Scheme != "http" && abs.Scheme != "https") {
					continue
				}
				s := abs.String()
				if !seen[s] {
					seen[s] = true
					links = append(links, s)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return links
}
