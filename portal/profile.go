// Package portal knows the property portals this service can read: how to
// recognise their URLs and which selectors extract each field.
//
// Profiles are data, not code. They are parsed once from the embedded
// profiles.yaml and are immutable afterwards; every accessor returns a copy.
// Adding a portal means adding a YAML block.
package portal

import (
	"fmt"
	"regexp"
	"text/template"
)

// ID identifies a known portal.
type ID string

const (
	Unknown            ID = "unknown"
	PortalInmobiliario ID = "portalinmobiliario"
	MercadoLibre       ID = "mercadolibre"
	Yapo               ID = "yapo"
	TocToc             ID = "toctoc"
	ChilePropiedades   ID = "chilepropiedades"
	ICasas             ID = "icasas"
)

// Kind selects the normalisation applied to a field's raw text.
type Kind string

const (
	KindText  Kind = "text"  // whitespace-collapsed text
	KindPrice Kind = "price" // text plus structured precio_detalle
	KindRich  Kind = "rich"  // HTML sanitised and rendered as markdown
	KindURL   Kind = "url"   // attribute resolved against the page URL
)

// Recovery names the free-text recovery applied when selectors fail.
type Recovery string

const (
	RecoverNone      Recovery = ""
	RecoverBedrooms  Recovery = "bedrooms"
	RecoverBathrooms Recovery = "bathrooms"
	RecoverSurface   Recovery = "surface"
)

// Strategy is one alternative way of reading a field.
type Strategy struct {
	// Selector is a CSS selector evaluated against the page or listing item.
	Selector string `yaml:"selector"`
	// Attr reads an attribute instead of text. "html" reads inner HTML.
	Attr string `yaml:"attr,omitempty"`
	// Match is an optional regexp the text must match. When it has a
	// capture group the first group becomes the value.
	Match string `yaml:"match,omitempty"`

	re *regexp.Regexp
}

// Regexp returns the compiled Match expression, or nil.
func (s Strategy) Regexp() *regexp.Regexp { return s.re }

// FieldSpec describes one logical field of a listing.
type FieldSpec struct {
	Name       string     `yaml:"name"`
	Kind       Kind       `yaml:"kind,omitempty"`
	Strategies []Strategy `yaml:"strategies"`
	// CharacteristicKeys are normalised characteristic labels consulted
	// when every strategy failed.
	CharacteristicKeys []string `yaml:"characteristic_keys,omitempty"`
	// Recover enables regexp recovery from the description text.
	Recover Recovery `yaml:"recover,omitempty"`
}

// Region is one DOM region holding label/value characteristics. When Label
// and Value are empty each Row's text is split on the first ':'.
type Region struct {
	Row   string `yaml:"row"`
	Label string `yaml:"label,omitempty"`
	Value string `yaml:"value,omitempty"`
}

// Profile describes how to recognise and read one portal.
type Profile struct {
	ID      ID       `yaml:"id"`
	Name    string   `yaml:"name"`
	Domains []string `yaml:"domains"`

	// Critical selectors are raced while the page settles.
	Critical []string `yaml:"critical"`
	// DetailMarkers identify a dedicated property page.
	DetailMarkers []string `yaml:"detail_markers"`
	// ListingItems select result cards on search pages, most specific first.
	ListingItems []string `yaml:"listing_items"`

	Fields          []FieldSpec `yaml:"fields"`
	Characteristics []Region    `yaml:"characteristics"`

	// GoodMarkers are phrases expected on a healthy property page.
	GoodMarkers []string `yaml:"good_markers"`
	// BadMarkers are phrases that mean the listing is gone.
	BadMarkers []string `yaml:"bad_markers"`

	// SearchURL is a text/template expanded with search criteria.
	SearchURL string `yaml:"search_url"`

	search *template.Template
}

// Field returns the strategies configured for the named field.
func (p Profile) Field(name string) (FieldSpec, bool) {
	for _, f := range p.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// SearchTemplate returns the parsed search URL template, or nil when the
// portal has no search support.
func (p Profile) SearchTemplate() *template.Template { return p.search }

func (p *Profile) compile() error {
	if p.ID == "" {
		return fmt.Errorf("portal: profile without id")
	}
	for i := range p.Fields {
		f := &p.Fields[i]
		if f.Name == "" {
			return fmt.Errorf("portal: %s: field %d without name", p.ID, i)
		}
		if f.Kind == "" {
			f.Kind = KindText
		}
		for j := range f.Strategies {
			s := &f.Strategies[j]
			if s.Selector == "" {
				return fmt.Errorf("portal: %s.%s: strategy %d without selector", p.ID, f.Name, j)
			}
			if s.Match == "" {
				continue
			}
			re, err := regexp.Compile(s.Match)
			if err != nil {
				return fmt.Errorf("portal: %s.%s: strategy %d: %w", p.ID, f.Name, j, err)
			}
			s.re = re
		}
	}
	if p.SearchURL != "" {
		t, err := template.New(string(p.ID)).Option("missingkey=zero").Parse(p.SearchURL)
		if err != nil {
			return fmt.Errorf("portal: %s: search_url: %w", p.ID, err)
		}
		p.search = t
	}
	return nil
}

// clone deep-copies the slices so callers cannot mutate the registry.
func (p Profile) clone() Profile {
	c := p
	c.Domains = append([]string(nil), p.Domains...)
	c.Critical = append([]string(nil), p.Critical...)
	c.DetailMarkers = append([]string(nil), p.DetailMarkers...)
	c.ListingItems = append([]string(nil), p.ListingItems...)
	c.GoodMarkers = append([]string(nil), p.GoodMarkers...)
	c.BadMarkers = append([]string(nil), p.BadMarkers...)
	c.Characteristics = append([]Region(nil), p.Characteristics...)
	c.Fields = make([]FieldSpec, len(p.Fields))
	for i, f := range p.Fields {
		f.Strategies = append([]Strategy(nil), f.Strategies...)
		f.CharacteristicKeys = append([]string(nil), f.CharacteristicKeys...)
		c.Fields[i] = f
	}
	return c
}
