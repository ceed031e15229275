package extract

import (
	"strings"

	"golang.org/x/net/html"
)

// anchor is a flattened <a> element: everything the heuristics look at.
type anchor struct {
	Href  string
	Class string
	Text  string
}

// document is a parsed store-listing page with the nodes the heuristics
// need collected up front, so each heuristic is a scan over small slices
// instead of a fresh tree walk.
type document struct {
	root    *html.Node
	metas   map[string]string // name -> content, first occurrence wins
	anchors []anchor
}

func parseDocument(body string) (*document, error) {
	root, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, err
	}

	doc := &document{
		root:  root,
		metas: make(map[string]string),
	}
	doc.collect(root)
	return doc, nil
}

func (d *document) collect(node *html.Node) {
	if node.Type == html.ElementNode {
		switch strings.ToLower(node.Data) {
		case "meta":
			name := strings.ToLower(getAttr(node, "name"))
			if name != "" {
				if _, ok := d.metas[name]; !ok {
					d.metas[name] = getAttr(node, "content")
				}
			}
		case "a":
			d.anchors = append(d.anchors, anchor{
				Href:  getAttr(node, "href"),
				Class: getAttr(node, "class"),
				Text:  strings.TrimSpace(textContent(node)),
			})
		}
	}

	for c := node.FirstChild; c != nil; c = c.NextSibling {
		d.collect(c)
	}
}

// metaContent returns the content of the first meta tag with the given
// name (case-insensitive).
func (d *document) metaContent(name string) string {
	return d.metas[strings.ToLower(name)]
}

// definitionValues returns the values of <dd> elements whose preceding
// <dt> text matches label (case-insensitive). Anchor hrefs inside the dd
// come before its text.
func (d *document) definitionValues(label string) []string {
	var values []string

	var search func(*html.Node)
	search = func(n *html.Node) {
		if n.Type == html.ElementNode && strings.EqualFold(n.Data, "dt") &&
			strings.EqualFold(strings.TrimSpace(textContent(n)), label) {
			if dd := nextElementSibling(n, "dd"); dd != nil {
				values = append(values, anchorHrefs(dd)...)
				if text := strings.TrimSpace(textContent(dd)); text != "" {
					values = append(values, text)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			search(c)
		}
	}
	search(d.root)

	return values
}

// getAttr returns an attribute value by name (case-insensitive), or "".
func getAttr(node *html.Node, name string) string {
	for _, attr := range node.Attr {
		if strings.EqualFold(attr.Key, name) {
			return attr.Val
		}
	}
	return ""
}

// textContent extracts all text under a node.
func textContent(node *html.Node) string {
	var sb strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(node)
	return sb.String()
}

// nextElementSibling returns the next sibling element with the given tag,
// skipping text nodes.
func nextElementSibling(node *html.Node, tag string) *html.Node {
	for s := node.NextSibling; s != nil; s = s.NextSibling {
		if s.Type == html.ElementNode {
			if strings.EqualFold(s.Data, tag) {
				return s
			}
			return nil
		}
	}
	return nil
}

// anchorHrefs returns the hrefs of all anchors under a node.
func anchorHrefs(node *html.Node) []string {
	var hrefs []string
	var search func(*html.Node)
	search = func(n *html.Node) {
		if n.Type == html.ElementNode && strings.EqualFold(n.Data, "a") {
			if href := getAttr(n, "href"); href != "" {
				hrefs = append(hrefs, href)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			search(c)
		}
	}
	search(node)
	return hrefs
}
