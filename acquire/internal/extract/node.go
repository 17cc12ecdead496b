package extract

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Node is a queryable element. Implementations exist for parsed HTML
// (goquery) and for live browser pages.
type Node interface {
	// Find returns every descendant matching a CSS selector, in document order.
	Find(selector string) ([]Node, error)
	Text() (string, error)
	Attr(name string) (value string, ok bool, err error)
	// HTML returns the inner HTML.
	HTML() (string, error)
}

// ParseHTML parses a document into a Node rooted at the document.
func ParseHTML(r io.Reader) (Node, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("extract: parse html: %w", err)
	}
	return &selection{sel: doc.Selection}, nil
}

// ParseHTMLString is ParseHTML over a string.
func ParseHTMLString(html string) (Node, error) {
	return ParseHTML(strings.NewReader(html))
}

type selection struct {
	sel *goquery.Selection
}

// Find never fails: goquery treats an invalid selector as matching nothing.
func (s *selection) Find(selector string) ([]Node, error) {
	found := s.sel.Find(selector)
	nodes := make([]Node, 0, found.Length())
	found.Each(func(_ int, el *goquery.Selection) {
		nodes = append(nodes, &selection{sel: el})
	})
	return nodes, nil
}

func (s *selection) Text() (string, error) { return s.sel.Text(), nil }

func (s *selection) Attr(name string) (string, bool, error) {
	v, ok := s.sel.Attr(name)
	return v, ok, nil
}

func (s *selection) HTML() (string, error) {
	h, err := s.sel.Html()
	if err != nil {
		return "", fmt.Errorf("extract: html: %w", err)
	}
	return h, nil
}
