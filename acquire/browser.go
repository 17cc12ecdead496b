package acquire

import (
	"context"

	"github.com/notbrokker/notbrokker-property-api-sub001/acquire/internal/browser"
	"github.com/notbrokker/notbrokker-property-api-sub001/acquire/internal/extract"
	"github.com/notbrokker/notbrokker-property-api-sub001/acquire/internal/navigate"
)

// Browser opens isolated sessions. Each session gets its own cookies and
// storage, and is used by one request only.
type Browser interface {
	NewSession(ctx context.Context) (Session, error)
}

// Session is one page in an isolated context.
type Session interface {
	navigate.Page
	// Info returns the rendered title and the final URL after redirects.
	Info(ctx context.Context) (title, url string, err error)
	// Document returns the current DOM for extraction.
	Document(ctx context.Context) (extract.Node, error)
	Close() error
}

// rodBrowser adapts the rod-backed manager.
type rodBrowser struct {
	m *browser.Manager
}

func (b rodBrowser) NewSession(ctx context.Context) (Session, error) {
	s, err := b.m.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}
