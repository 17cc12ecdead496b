package acquire

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/notbrokker/notbrokker-property-api-sub001/acquire/internal/extract"
	"github.com/notbrokker/notbrokker-property-api-sub001/acquire/internal/validate"
	"github.com/notbrokker/notbrokker-property-api-sub001/cache"
	"github.com/notbrokker/notbrokker-property-api-sub001/failure"
	"github.com/notbrokker/notbrokker-property-api-sub001/portal"
)

// MaxSearchLimit caps the number of items one search extracts.
const MaxSearchLimit = 50

// Criteria selects a portal search.
type Criteria struct {
	Portal portal.ID `json:"portal"`
	// Operation is "venta" (default) or "arriendo".
	Operation string `json:"operation,omitempty"`
	// PropertyType is e.g. "departamento" (default) or "casa".
	PropertyType string `json:"property_type,omitempty"`
	Location     string `json:"location"`
	MinPrice     int64  `json:"min_price,omitempty"`
	MaxPrice     int64  `json:"max_price,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}

// CriteriaError rejects search criteria before any navigation.
type CriteriaError struct {
	Field  string
	Reason string
}

func (e *CriteriaError) Error() string {
	return fmt.Sprintf("acquire: criteria %s: %s", e.Field, e.Reason)
}

// FailureKind reports criteria errors as unusable targets.
func (e *CriteriaError) FailureKind() failure.Kind { return failure.InvalidURL }

// searchVars is the data the profile search template sees.
type searchVars struct {
	Operation    string
	PropertyType string
	Location     string
	PriceRange   string
	MinPrice     string
	MaxPrice     string
}

// normalize fills defaults and checks c against the registry.
func (s *Service) normalize(c Criteria) (Criteria, error) {
	c.Portal = portal.ID(strings.ToLower(strings.TrimSpace(string(c.Portal))))
	if c.Portal == "" || c.Portal == portal.Unknown || !s.registry.Known(c.Portal) {
		return c, &CriteriaError{Field: "portal", Reason: fmt.Sprintf("unknown portal %q", c.Portal)}
	}
	if s.registry.Profile(c.Portal).SearchTemplate() == nil {
		return c, &CriteriaError{Field: "portal", Reason: "portal has no search"}
	}
	switch c.Operation = strings.ToLower(strings.TrimSpace(c.Operation)); c.Operation {
	case "":
		c.Operation = "venta"
	case "venta", "arriendo":
	default:
		return c, &CriteriaError{Field: "operation", Reason: fmt.Sprintf("%q is not venta or arriendo", c.Operation)}
	}
	if c.PropertyType = slug(c.PropertyType); c.PropertyType == "" {
		c.PropertyType = "departamento"
	}
	if c.Location = slug(c.Location); c.Location == "" {
		return c, &CriteriaError{Field: "location", Reason: "required"}
	}
	if c.MinPrice < 0 || c.MaxPrice < 0 {
		return c, &CriteriaError{Field: "price", Reason: "negative"}
	}
	if c.MaxPrice > 0 && c.MinPrice > c.MaxPrice {
		return c, &CriteriaError{Field: "price", Reason: "min_price above max_price"}
	}
	switch {
	case c.Limit < 0:
		return c, &CriteriaError{Field: "limit", Reason: "negative"}
	case c.Limit == 0:
		c.Limit = s.cfg.SearchLimit
	}
	c.Limit = min(c.Limit, MaxSearchLimit)
	return c, nil
}

// SearchURL expands the portal's search template for c.
func (s *Service) SearchURL(c Criteria) (string, error) {
	c, err := s.normalize(c)
	if err != nil {
		return "", err
	}
	return s.searchURL(c)
}

func (s *Service) searchURL(c Criteria) (string, error) {
	v := searchVars{
		Operation:    c.Operation,
		PropertyType: c.PropertyType,
		Location:     c.Location,
	}
	if c.MinPrice > 0 {
		v.MinPrice = strconv.FormatInt(c.MinPrice, 10)
	}
	if c.MaxPrice > 0 {
		v.MaxPrice = strconv.FormatInt(c.MaxPrice, 10)
	}
	if c.MinPrice > 0 || c.MaxPrice > 0 {
		hi := "*"
		if v.MaxPrice != "" {
			hi = v.MaxPrice + "CLP"
		}
		v.PriceRange = strconv.FormatInt(c.MinPrice, 10) + "CLP-" + hi
	}
	var b strings.Builder
	if err := s.registry.Profile(c.Portal).SearchTemplate().Execute(&b, v); err != nil {
		return "", fmt.Errorf("acquire: expand search url: %w", err)
	}
	return b.String(), nil
}

// Search runs a portal search and returns the listing items that pass
// content validation. No valid item is an InsufficientData failure. A
// returned error is always a *failure.Record.
func (s *Service) Search(ctx context.Context, c Criteria) ([]Result, error) {
	r := s.begin(opSearch, "", s.searchPortal(c.Portal))
	items, err := s.search(ctx, r, c)
	s.end(r, err)
	if err != nil {
		return nil, err
	}
	return items, nil
}

// searchPortal resolves the caller's portal to a registered ID, or Unknown,
// so request logs and metric labels never carry free text.
func (s *Service) searchPortal(id portal.ID) portal.ID {
	id = portal.ID(strings.ToLower(strings.TrimSpace(string(id))))
	if !s.registry.Known(id) {
		return portal.Unknown
	}
	return id
}

func (s *Service) search(ctx context.Context, r *run, c Criteria) ([]Result, error) {
	c, err := s.normalize(c)
	if err != nil {
		return nil, s.fail(r, err)
	}
	target, err := s.searchURL(c)
	if err != nil {
		return nil, s.fail(r, err)
	}
	r.req.URL = target
	r.logger = r.logger.With("url", target)
	if _, err := s.guard.Check(target); err != nil {
		return nil, s.fail(r, err)
	}

	r.to(StateCacheLookup)
	key := cache.Fingerprint(cache.CategorySearch, cache.Request{
		Method: "SEARCH",
		URL:    target,
		Query:  map[string]string{"limit": strconv.Itoa(c.Limit)},
	})
	cached, _, ok, err := cache.GetJSON[[]Result](ctx, s.cache, cache.CategorySearch, key)
	if err != nil {
		r.logger.Warn("acquire: discarded cached search", "error", err)
	}
	if ok {
		r.to(StateCacheHit)
		r.to(StateDone)
		return cached, nil
	}
	r.to(StateCacheMiss)

	p := s.registry.Profile(c.Portal)
	var valid []Result
	err = s.load(ctx, r, p, target, func(ctx context.Context, doc extract.Node, pageURL string) error {
		items := s.ext.ExtractItems(ctx, doc, p, pageURL, c.Limit)
		r.to(StateContentValidating)
		for _, item := range items {
			if _, err := validate.Content(item); err != nil {
				continue
			}
			item.Success = true
			valid = append(valid, item)
		}
		r.logger.Debug("acquire: search items", "found", len(items), "valid", len(valid))
		if len(valid) == 0 {
			return &validate.Invalid{
				Reason: validate.ReasonInsufficient,
				Detail: fmt.Sprintf("no valid item among %d", len(items)),
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(r, err)
	}

	r.to(StateCacheStore)
	if err := cache.SetJSON(ctx, s.cache, cache.CategorySearch, key, valid, 0); err != nil {
		r.logger.Warn("acquire: cache store failed", "error", err)
	}
	r.to(StateDone)
	return valid, nil
}

// slug lowercases s, folds accents and joins words with dashes.
func slug(s string) string {
	return strings.ReplaceAll(extract.NormalizeLabel(s), "_", "-")
}
