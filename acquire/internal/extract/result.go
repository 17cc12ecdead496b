package extract

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/notbrokker/notbrokker-property-api-sub001/portal"
)

// Sentinel marks a field whose strategies all failed. It distinguishes
// "not found" from an element that was present but empty.
const Sentinel = "No disponible"

// Field names as exposed to callers.
const (
	FieldTitulo          = "titulo"
	FieldPrecio          = "precio"
	FieldPrecioDetalle   = "precio_detalle"
	FieldUbicacion       = "ubicacion"
	FieldDormitorios     = "dormitorios"
	FieldBanos           = "banos"
	FieldSuperficie      = "superficie"
	FieldDescripcion     = "descripcion"
	FieldCaracteristicas = "caracteristicas"
	FieldImagen          = "imagen"
	FieldLink            = "link"
)

// UsefulFields are the fields of which at least one must be available for
// a result to count as a property.
var UsefulFields = []string{FieldPrecio, FieldUbicacion, FieldDormitorios, FieldBanos, FieldSuperficie}

// Mode records how the page was read.
type Mode string

const (
	ModeDetail           Mode = "detail"
	ModeListingFirstItem Mode = "listing-first-item"
	ModeListingItem      Mode = "listing-item"
)

// Value is either text or a flat structured map.
type Value struct {
	text string
	m    map[string]string
}

// Text returns a text value.
func Text(s string) Value { return Value{text: s} }

// Map returns a structured value. The map is copied.
func Map(m map[string]string) Value { return Value{m: maps.Clone(m)} }

// IsMap reports whether v is structured.
func (v Value) IsMap() bool { return v.m != nil }

// String returns the text, or "" for structured values.
func (v Value) String() string { return v.text }

// Map returns a copy of the structured value.
func (v Value) Map() (map[string]string, bool) {
	if v.m == nil {
		return nil, false
	}
	return maps.Clone(v.m), true
}

// Available reports whether v holds real data.
func (v Value) Available() bool {
	if v.m != nil {
		return len(v.m) > 0
	}
	return v.text != "" && v.text != Sentinel
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.m != nil {
		return json.Marshal(v.m)
	}
	return json.Marshal(v.text)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '{' {
		var m map[string]string
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("extract: value: %w", err)
		}
		*v = Value{m: m}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("extract: value: %w", err)
	}
	*v = Value{text: s}
	return nil
}

// Result is one extracted listing.
type Result struct {
	Fields      map[string]Value `json:"fields"`
	Success     bool             `json:"success"`
	Portal      portal.ID        `json:"portal"`
	URL         string           `json:"url"`
	ExtractedAt time.Time        `json:"extracted_at"`
	Mode        Mode             `json:"mode"`
}

// Get returns the text of a field, or "".
func (r Result) Get(name string) string { return r.Fields[name].String() }

// Has reports whether a field holds real data.
func (r Result) Has(name string) bool {
	v, ok := r.Fields[name]
	return ok && v.Available()
}

// UsefulCount counts the available useful fields.
func (r Result) UsefulCount() int {
	n := 0
	for _, f := range UsefulFields {
		if r.Has(f) {
			n++
		}
	}
	return n
}
