// Package extract reads listing fields from a page through the cascading
// selector strategies of a portal profile.
//
// One missing field never aborts the others: each field either yields a
// value or the Sentinel. Deciding whether the result is a property at all
// belongs to the caller.
package extract

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/notbrokker/notbrokker-property-api-sub001/portal"
)

// Extractor turns documents into results. It is safe for concurrent use.
type Extractor struct {
	logger    *slog.Logger
	sanitizer *bluemonday.Policy
	markdown  *converter.Converter
	now       func() time.Time
}

// New creates an Extractor. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		logger:    logger,
		sanitizer: bluemonday.UGCPolicy(),
		markdown: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		now: time.Now,
	}
}

// DetectMode decides whether doc is a detail page or a result list, and
// returns the node fields should be read from.
func DetectMode(doc Node, p portal.Profile) (Mode, Node) {
	for _, sel := range p.DetailMarkers {
		if _, ok := first(doc, sel); ok {
			return ModeDetail, doc
		}
	}
	for _, sel := range p.ListingItems {
		if item, ok := first(doc, sel); ok {
			return ModeListingFirstItem, item
		}
	}
	return ModeDetail, doc
}

// Extract reads every field of p from doc.
func (x *Extractor) Extract(ctx context.Context, doc Node, p portal.Profile, pageURL string) Result {
	mode, root := DetectMode(doc, p)
	x.logger.Debug("extract: mode", "portal", p.ID, "mode", mode, "url", pageURL)
	return x.extractFrom(ctx, root, p, pageURL, mode)
}

// ExtractItems reads up to limit listing items of a search page. Items are
// returned unvalidated.
func (x *Extractor) ExtractItems(ctx context.Context, doc Node, p portal.Profile, pageURL string, limit int) []Result {
	var items []Node
	for _, sel := range p.ListingItems {
		nodes, err := doc.Find(sel)
		if err == nil && len(nodes) > 0 {
			items = nodes
			break
		}
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	out := make([]Result, 0, len(items))
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		out = append(out, x.extractFrom(ctx, item, p, pageURL, ModeListingItem))
	}
	return out
}

func (x *Extractor) extractFrom(ctx context.Context, root Node, p portal.Profile, pageURL string, mode Mode) Result {
	res := Result{
		Fields:      make(map[string]Value, len(p.Fields)+2),
		Portal:      p.ID,
		URL:         pageURL,
		ExtractedAt: x.now().UTC(),
		Mode:        mode,
	}

	var missing []portal.FieldSpec
	for _, f := range p.Fields {
		raw, ok := tryStrategies(ctx, root, f.Strategies)
		if !ok {
			missing = append(missing, f)
			continue
		}
		x.store(res.Fields, f, raw, pageURL)
	}

	chars := characteristics(ctx, root, p.Characteristics)
	if len(chars) > 0 {
		res.Fields[FieldCaracteristicas] = Map(chars)
	}

	description := res.Fields[FieldDescripcion].String()
	for _, f := range missing {
		if v, ok := recoverField(f, chars, description); ok {
			res.Fields[f.Name] = Text(v)
			x.logger.Debug("extract: field recovered", "field", f.Name, "portal", p.ID)
			continue
		}
		res.Fields[f.Name] = Text(Sentinel)
		x.logger.Debug("extract: field unavailable", "field", f.Name, "portal", p.ID)
	}
	return res
}

func (x *Extractor) store(fields map[string]Value, f portal.FieldSpec, raw, pageURL string) {
	switch f.Kind {
	case portal.KindPrice:
		display := collapseSpace(raw)
		fields[f.Name] = Text(display)
		if price, ok := ParsePrice(display); ok {
			fields[FieldPrecioDetalle] = Map(price.Map())
		}
	case portal.KindRich:
		fields[f.Name] = Text(x.renderRich(raw, pageURL))
	case portal.KindURL:
		fields[f.Name] = Text(resolveURL(pageURL, strings.TrimSpace(raw)))
	default:
		fields[f.Name] = Text(collapseSpace(raw))
	}
}

// renderRich sanitises HTML and renders it as markdown. Plain text (from a
// meta attribute, say) passes through with whitespace collapsed.
func (x *Extractor) renderRich(raw, pageURL string) string {
	if !strings.Contains(raw, "<") {
		return collapseSpace(raw)
	}
	clean := x.sanitizer.Sanitize(raw)
	md, err := x.markdown.ConvertString(clean, converter.WithDomain(pageURL))
	if err != nil || strings.TrimSpace(md) == "" {
		x.logger.Debug("extract: markdown fallback", "error", err)
		return collapseSpace(bluemonday.StrictPolicy().Sanitize(raw))
	}
	return strings.TrimSpace(md)
}

func resolveURL(pageURL, ref string) string {
	if ref == "" {
		return ref
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(r).String()
}
