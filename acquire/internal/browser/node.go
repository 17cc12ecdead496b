package browser

import (
	"context"

	"github.com/go-rod/rod"

	"github.com/notbrokker/notbrokker-property-api-sub001/acquire/internal/extract"
)

// liveNode queries the rendered page over CDP. A nil el is the document.
type liveNode struct {
	ctx  context.Context
	page *rod.Page
	el   *rod.Element
}

func (n *liveNode) Find(selector string) ([]extract.Node, error) {
	var (
		els rod.Elements
		err error
	)
	if n.el == nil {
		els, err = n.page.Context(n.ctx).Elements(selector)
	} else {
		els, err = n.el.Context(n.ctx).Elements(selector)
	}
	if err != nil {
		return nil, err
	}
	out := make([]extract.Node, len(els))
	for i, el := range els {
		out[i] = &liveNode{ctx: n.ctx, page: n.page, el: el}
	}
	return out, nil
}

func (n *liveNode) root() (*rod.Element, error) {
	if n.el != nil {
		return n.el.Context(n.ctx), nil
	}
	return n.page.Context(n.ctx).Element("html")
}

func (n *liveNode) Text() (string, error) {
	el, err := n.root()
	if err != nil {
		return "", err
	}
	return el.Text()
}

func (n *liveNode) Attr(name string) (string, bool, error) {
	el, err := n.root()
	if err != nil {
		return "", false, err
	}
	v, err := el.Attribute(name)
	if err != nil || v == nil {
		return "", false, err
	}
	return *v, true, nil
}

func (n *liveNode) HTML() (string, error) {
	el, err := n.root()
	if err != nil {
		return "", err
	}
	p, err := el.Property("innerHTML")
	if err != nil {
		return "", err
	}
	return p.Str(), nil
}
