package failure

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strings"

	"github.com/notbrokker/notbrokker-property-api-sub001/urlguard"
)

const maxCauses = 5

// rule is one keyword heuristic. Rules are ordered; the first hit wins.
type rule struct {
	kind     Kind
	keywords []string
}

var rules = []rule{
	{Timeout, []string{"err_timed_out", "err_connection_timed_out", "deadline exceeded", "timed out", "timeout"}},
	{InvalidURL, []string{
		"err_name_not_resolved", "err_connection_refused", "err_address_unreachable",
		"err_invalid_url", "err_unknown_url_scheme", "err_address_invalid",
		"no such host", "unsupported protocol scheme", "invalid url",
	}},
	{Forbidden, []string{"err_access_denied", "status 403", "403 forbidden", "access denied", "acceso denegado", "captcha"}},
	{NotFound, []string{"status 404", "status 410", "404 not found", "page not found", "página no encontrada", "err_file_not_found"}},
}

var urlPattern = regexp.MustCompile(`(?i)\b(?:https?|wss?|file)://\S+`)

// Classify maps err onto exactly one taxonomy member.
//
// Structured causes are consulted first: an existing *Record, any error
// implementing Kinded, URL guard errors and context deadlines. Only then are
// keyword heuristics run over the message chain, with every URL scrubbed
// from the text so the address being fetched never affects the outcome.
func Classify(err error, c Context) *Record {
	if err == nil {
		return New(Internal, c, "no error")
	}
	causes := chain(err)

	var rec *Record
	if errors.As(err, &rec) {
		out := *rec
		out.Causes = append([]string(nil), rec.Causes...)
		if out.URL == "" {
			out.URL = c.URL
		}
		if out.Portal == "" {
			out.Portal = c.Portal
		}
		if out.Stage == "" {
			out.Stage = c.Stage
		}
		return &out
	}

	if k, ok := structured(err); ok {
		return New(k, c, causes...)
	}
	return New(heuristic(causes, c.URL), c, causes...)
}

func structured(err error) (Kind, bool) {
	var kd Kinded
	if errors.As(err, &kd) && valid(kd.FailureKind()) {
		return kd.FailureKind(), true
	}
	switch {
	case errors.Is(err, urlguard.ErrMalformed),
		errors.Is(err, urlguard.ErrUnsafeScheme),
		errors.Is(err, urlguard.ErrNoHost),
		errors.Is(err, urlguard.ErrPrivateHost):
		return InvalidURL, true
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout, true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return Timeout, true
		}
		return InvalidURL, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout, true
	}
	return "", false
}

func heuristic(causes []string, rawURL string) Kind {
	text := strings.Join(causes, " | ")
	if rawURL != "" {
		text = strings.ReplaceAll(text, rawURL, " ")
	}
	text = strings.ToLower(urlPattern.ReplaceAllString(text, " "))
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(text, kw) {
				return r.kind
			}
		}
	}
	return Internal
}

// chain flattens the error tree into distinct messages, outermost first.
func chain(err error) []string {
	var out []string
	seen := make(map[string]bool)
	queue := []error{err}
	for len(queue) > 0 && len(out) < maxCauses {
		e := queue[0]
		queue = queue[1:]
		if e == nil {
			continue
		}
		msg := trimCause(e.Error())
		if msg != "" && !seen[msg] {
			seen[msg] = true
			out = append(out, msg)
		}
		switch u := e.(type) {
		case interface{ Unwrap() error }:
			queue = append(queue, u.Unwrap())
		case interface{ Unwrap() []error }:
			queue = append(queue, u.Unwrap()...)
		}
	}
	return out
}
