// Package validate decides whether a loaded page is a live property page
// (Response) and whether the extracted fields describe a property (Content).
package validate

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/notbrokker/notbrokker-property-api-sub001/acquire/internal/extract"
	"github.com/notbrokker/notbrokker-property-api-sub001/failure"
)

// Reason says why a page or result was rejected.
type Reason string

const (
	ReasonNotFound     Reason = "not_found"
	ReasonForbidden    Reason = "forbidden"
	ReasonServerError  Reason = "server_error"
	ReasonHTTPError    Reason = "http_error"
	ReasonContentGone  Reason = "content_gone"
	ReasonNotProperty  Reason = "not_property"
	ReasonInsufficient Reason = "insufficient"
)

// Invalid is a rejection. Status is the transport status when known.
type Invalid struct {
	Reason Reason
	Status int
	Detail string
}

func (e *Invalid) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("validate: %s (status %d): %s", e.Reason, e.Status, e.Detail)
	}
	return fmt.Sprintf("validate: %s: %s", e.Reason, e.Detail)
}

// FailureKind maps the rejection onto the failure taxonomy. A transport
// status takes precedence over the reason.
func (e *Invalid) FailureKind() failure.Kind {
	switch {
	case e.Status == http.StatusNotFound || e.Status == http.StatusGone:
		return failure.NotFound
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden || e.Status == http.StatusTooManyRequests:
		return failure.Forbidden
	case e.Status == http.StatusRequestTimeout || e.Status == http.StatusGatewayTimeout || e.Status == 524:
		return failure.Timeout
	case e.Status >= 400:
		return failure.Internal
	}
	switch e.Reason {
	case ReasonNotFound, ReasonContentGone:
		return failure.NotFound
	case ReasonForbidden:
		return failure.Forbidden
	case ReasonNotProperty:
		return failure.NotAPropertyPage
	case ReasonInsufficient:
		return failure.InsufficientData
	default:
		return failure.Internal
	}
}

// gonePhrases appear in the title of removed or missing listings.
var gonePhrases = []string{
	"página no encontrada", "pagina no encontrada", "no se encontró", "no se encontro",
	"ya no está disponible", "ya no esta disponible", "aviso no disponible",
	"publicación finalizada", "publicacion finalizada", "publicación pausada",
	"la propiedad no existe", "error 404",
	"page not found", "404 not found", "no longer available", "listing removed",
	"this page does not exist", "this page doesn't exist",
}

// goneSegments are whole URL path segments of error pages.
var goneSegments = map[string]bool{
	"404": true, "error": true, "not-found": true, "notfound": true,
	"no-encontrado": true, "pagina-no-encontrada": true, "no-disponible": true,
}

// Response checks the transport status, then the rendered title and final
// URL against gone phrases plus the portal's own markers. Status reasons
// win over text reasons.
func Response(status int, title, pageURL string, markers []string) error {
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return &Invalid{Reason: ReasonNotFound, Status: status, Detail: http.StatusText(status)}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Invalid{Reason: ReasonForbidden, Status: status, Detail: http.StatusText(status)}
	case status >= 500:
		return &Invalid{Reason: ReasonServerError, Status: status, Detail: http.StatusText(status)}
	case status >= 400:
		return &Invalid{Reason: ReasonHTTPError, Status: status, Detail: http.StatusText(status)}
	}

	t := strings.ToLower(strings.TrimSpace(title))
	if t == "404" {
		return &Invalid{Reason: ReasonContentGone, Status: status, Detail: "title: 404"}
	}
	for _, p := range gonePhrases {
		if strings.Contains(t, p) {
			return &Invalid{Reason: ReasonContentGone, Status: status, Detail: "title: " + p}
		}
	}
	for _, m := range markers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" && strings.Contains(t, m) {
			return &Invalid{Reason: ReasonContentGone, Status: status, Detail: "title: " + m}
		}
	}
	if seg, ok := goneSegment(pageURL); ok {
		return &Invalid{Reason: ReasonContentGone, Status: status, Detail: "url segment: " + seg}
	}
	return nil
}

// Text scans page text for the portal's known-bad markers. Portals often
// render a removed listing with status 200 and a normal title.
func Text(body string, markers []string) error {
	b := strings.ToLower(body)
	for _, m := range markers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" && strings.Contains(b, m) {
			return &Invalid{Reason: ReasonContentGone, Detail: "text: " + m}
		}
	}
	return nil
}

func goneSegment(pageURL string) (string, bool) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", false
	}
	for _, seg := range strings.Split(strings.ToLower(u.Path), "/") {
		if goneSegments[seg] {
			return seg, true
		}
	}
	return "", false
}

// Report summarises a content check.
type Report struct {
	UsefulFound int      `json:"useful_found"`
	Missing     []string `json:"missing,omitempty"`
}

// Content accepts a result iff it has a title and at least one useful
// field. The report is filled either way.
func Content(res extract.Result) (Report, error) {
	var r Report
	for _, f := range extract.UsefulFields {
		if res.Has(f) {
			r.UsefulFound++
		} else {
			r.Missing = append(r.Missing, f)
		}
	}
	if !res.Has(extract.FieldTitulo) {
		return r, &Invalid{Reason: ReasonNotProperty, Detail: "no title"}
	}
	if r.UsefulFound == 0 {
		return r, &Invalid{Reason: ReasonInsufficient, Detail: "no useful field among " + strings.Join(extract.UsefulFields, ", ")}
	}
	return r, nil
}
