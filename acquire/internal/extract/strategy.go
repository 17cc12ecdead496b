package extract

import (
	"context"
	"strings"
	"unicode"

	"github.com/notbrokker/notbrokker-property-api-sub001/portal"
)

// maxMatches caps how many matches of one selector are inspected. Broad
// selectors with a match filter ("li" + regexp) stay bounded on large pages.
const maxMatches = 64

// tryStrategies evaluates strategies in order and returns the first
// non-empty value. A failing strategy is skipped, never reported.
func tryStrategies(ctx context.Context, root Node, strategies []portal.Strategy) (string, bool) {
	for _, s := range strategies {
		if ctx.Err() != nil {
			return "", false
		}
		if v, ok := tryStrategy(root, s); ok {
			return v, true
		}
	}
	return "", false
}

func tryStrategy(root Node, s portal.Strategy) (string, bool) {
	nodes, err := root.Find(s.Selector)
	if err != nil {
		return "", false
	}
	if len(nodes) > maxMatches {
		nodes = nodes[:maxMatches]
	}
	re := s.Regexp()
	for _, n := range nodes {
		raw, ok := read(n, s.Attr)
		if !ok {
			continue
		}
		if s.Attr != "html" {
			raw = collapseSpace(raw)
		}
		if re != nil {
			m := re.FindStringSubmatch(raw)
			if m == nil {
				continue
			}
			raw = m[0]
			if len(m) > 1 && m[1] != "" {
				raw = m[1]
			}
			raw = strings.TrimSpace(raw)
		}
		if strings.TrimSpace(raw) != "" {
			return raw, true
		}
	}
	return "", false
}

func read(n Node, attr string) (string, bool) {
	switch attr {
	case "":
		t, err := n.Text()
		return t, err == nil
	case "html":
		h, err := n.HTML()
		return h, err == nil
	default:
		v, ok, err := n.Attr(attr)
		return v, ok && err == nil
	}
}

func first(root Node, selector string) (Node, bool) {
	nodes, err := root.Find(selector)
	if err != nil || len(nodes) == 0 {
		return nil, false
	}
	return nodes[0], true
}

func textOf(root Node, selector string) string {
	n, ok := first(root, selector)
	if !ok {
		return ""
	}
	t, err := n.Text()
	if err != nil {
		return ""
	}
	return collapseSpace(t)
}

// collapseSpace trims and folds whitespace runs (including NBSP) to one space.
func collapseSpace(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
