package acquire

import (
	"log/slog"
	"time"

	"github.com/notbrokker/notbrokker-property-api-sub001/portal"
)

// State is a step of one acquisition.
type State string

const (
	StateIdle              State = "Idle"
	StateCacheLookup       State = "CacheLookup"
	StateCacheHit          State = "CacheHit"
	StateCacheMiss         State = "CacheMiss"
	StateNavigating        State = "Navigating"
	StateValidating        State = "Validating"
	StateExtracting        State = "Extracting"
	StateContentValidating State = "ContentValidating"
	StateCacheStore        State = "CacheStore"
	StateErrorClassify     State = "ErrorClassify"
	StateDone              State = "Done"
)

// Request is one acquisition in flight. It is never persisted.
type Request struct {
	ID        string
	Operation string
	URL       string
	Portal    portal.ID
	CreatedAt time.Time
}

// run tracks the state of one request and logs every transition.
type run struct {
	req    Request
	state  State
	logger *slog.Logger
	trail  []State
}

func newRun(req Request, logger *slog.Logger) *run {
	return &run{
		req:    req,
		state:  StateIdle,
		logger: logger.With("request_id", req.ID, "operation", req.Operation, "portal", string(req.Portal)),
		trail:  []State{StateIdle},
	}
}

func (r *run) to(next State) {
	r.logger.Debug("acquire: transition", "from", string(r.state), "to", string(next))
	r.state = next
	r.trail = append(r.trail, next)
}

func (r *run) hit() bool {
	for _, st := range r.trail {
		if st == StateCacheHit {
			return true
		}
	}
	return false
}
