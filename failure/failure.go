// Package failure maps acquisition failures onto a closed taxonomy that
// callers can render without knowing which layer failed.
package failure

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

// Kind is one member of the closed failure taxonomy.
type Kind string

const (
	InvalidURL       Kind = "InvalidUrl"
	NotFound         Kind = "NotFound"
	Forbidden        Kind = "Forbidden"
	Timeout          Kind = "Timeout"
	NotAPropertyPage Kind = "NotAPropertyPage"
	InsufficientData Kind = "InsufficientData"
	Internal         Kind = "Internal"
)

// Kinds lists every taxonomy member.
var Kinds = []Kind{InvalidURL, NotFound, Forbidden, Timeout, NotAPropertyPage, InsufficientData, Internal}

// Code returns the status-like code reported to callers.
func (k Kind) Code() int {
	switch k {
	case InvalidURL:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Forbidden:
		return http.StatusForbidden
	case Timeout:
		return http.StatusGatewayTimeout
	case NotAPropertyPage, InsufficientData:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) message() string {
	switch k {
	case InvalidURL:
		return "la URL no es válida o el dominio no existe"
	case NotFound:
		return "la propiedad no existe o ya no está publicada"
	case Forbidden:
		return "el portal rechazó el acceso"
	case Timeout:
		return "el portal no respondió a tiempo"
	case NotAPropertyPage:
		return "la página no corresponde a una propiedad"
	case InsufficientData:
		return "no se encontraron datos suficientes de la propiedad"
	default:
		return "error interno al obtener la propiedad"
	}
}

// Kinded is implemented by errors that already know their taxonomy member.
// Classify trusts it before any text heuristic.
type Kinded interface {
	error
	FailureKind() Kind
}

// Context describes where a failure happened.
type Context struct {
	URL    string
	Portal string
	Stage  string
}

// Record is the caller-facing failure. It carries the cause chain as text
// only; the original error values are not reachable from it.
type Record struct {
	Kind    Kind     `json:"kind"`
	Code    int      `json:"code"`
	Message string   `json:"message"`
	URL     string   `json:"url,omitempty"`
	Portal  string   `json:"portal,omitempty"`
	Stage   string   `json:"stage,omitempty"`
	Causes  []string `json:"causes,omitempty"`
}

func (r *Record) Error() string {
	if len(r.Causes) == 0 {
		return fmt.Sprintf("%s: %s", r.Kind, r.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", r.Kind, r.Message, r.Causes[0])
}

// New builds a record of the given kind with the default message.
func New(kind Kind, c Context, causes ...string) *Record {
	return &Record{
		Kind:    kind,
		Code:    kind.Code(),
		Message: kind.message(),
		URL:     c.URL,
		Portal:  c.Portal,
		Stage:   c.Stage,
		Causes:  causes,
	}
}

// Is matches another *Record by kind, so errors.Is(err, failure.New(NotFound, ...))
// works without comparing messages.
func (r *Record) Is(target error) bool {
	t, ok := target.(*Record)
	return ok && t.Kind == r.Kind
}

// KindOf returns the kind of the first *Record in err's chain, or Internal.
func KindOf(err error) Kind {
	var r *Record
	if errors.As(err, &r) {
		return r.Kind
	}
	return Internal
}

func valid(k Kind) bool {
	for _, m := range Kinds {
		if m == k {
			return true
		}
	}
	return false
}

// maxCause caps one cause line, in bytes.
const maxCause = 300

func trimCause(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxCause {
		return s
	}
	cut := maxCause
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
