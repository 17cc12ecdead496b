package portal

import (
	_ "embed"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed profiles.yaml
var embeddedProfiles []byte

type document struct {
	Generic  Profile   `yaml:"generic"`
	Profiles []Profile `yaml:"profiles"`
}

// Registry is an immutable set of profiles with a generic fallback.
type Registry struct {
	order    []ID
	profiles map[ID]Profile
	generic  Profile
}

// Load parses a profile document. Every strategy regexp and search template
// is compiled here so a broken table fails at startup, not mid-request.
func Load(data []byte) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("portal: parse profiles: %w", err)
	}
	if doc.Generic.ID == "" {
		doc.Generic.ID = Unknown
	}
	if err := doc.Generic.compile(); err != nil {
		return nil, err
	}
	r := &Registry{
		profiles: make(map[ID]Profile, len(doc.Profiles)),
		generic:  doc.Generic,
	}
	for _, p := range doc.Profiles {
		if err := p.compile(); err != nil {
			return nil, err
		}
		if _, dup := r.profiles[p.ID]; dup {
			return nil, fmt.Errorf("portal: duplicate profile %q", p.ID)
		}
		if len(p.Domains) == 0 {
			return nil, fmt.Errorf("portal: %s: no domains", p.ID)
		}
		for i, d := range p.Domains {
			p.Domains[i] = strings.ToLower(strings.TrimPrefix(d, "www."))
		}
		r.profiles[p.ID] = p
		r.order = append(r.order, p.ID)
	}
	return r, nil
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the registry built from the embedded profile table.
func Default() *Registry {
	defaultOnce.Do(func() {
		r, err := Load(embeddedProfiles)
		if err != nil {
			panic(err)
		}
		defaultReg = r
	})
	return defaultReg
}

// Classify maps a URL to a portal ID using the default registry.
func Classify(rawURL string) ID { return Default().Classify(rawURL) }

// Classify maps a URL to a portal ID by host suffix. It never fails:
// malformed or unmatched input yields Unknown.
func (r *Registry) Classify(rawURL string) ID {
	host := hostOf(rawURL)
	if host == "" {
		return Unknown
	}
	for _, id := range r.order {
		for _, d := range r.profiles[id].Domains {
			if host == d || strings.HasSuffix(host, "."+d) {
				return id
			}
		}
	}
	return Unknown
}

// Profile returns a copy of the profile for id. Unknown or unregistered IDs
// resolve to the generic profile.
func (r *Registry) Profile(id ID) Profile {
	if p, ok := r.profiles[id]; ok {
		return p.clone()
	}
	return r.generic.clone()
}

// Known reports whether id has a dedicated profile.
func (r *Registry) Known(id ID) bool {
	_, ok := r.profiles[id]
	return ok
}

// IDs lists registered portals in table order.
func (r *Registry) IDs() []ID { return append([]ID(nil), r.order...) }

func hostOf(rawURL string) string {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if u.Host == "" && u.Scheme == "" {
		// "www.yapo.cl/x" parses as a path.
		u, err = url.Parse("http://" + raw)
		if err != nil {
			return ""
		}
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimSuffix(strings.TrimPrefix(host, "www."), ".")
}
