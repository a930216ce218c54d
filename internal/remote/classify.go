package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
)

// TransportError is returned by adapters when the endpoint answered with a
// transport-level failure.
type TransportError struct {
	StatusCode int
	Status     string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport error %d %s: %v", e.StatusCode, e.Status, e.Err)
	}
	return fmt.Sprintf("transport error %d %s", e.StatusCode, e.Status)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Classify maps an arbitrary call error onto a tagged Fault. A nil error yields nil.
func Classify(err error) *Fault {
	if err == nil {
		return nil
	}

	var existing *Fault
	if errors.As(err, &existing) {
		return existing
	}

	var multi interface{ Unwrap() []error }
	if errors.As(err, &multi) {
		causes := multi.Unwrap()
		if len(causes) > 1 {
			return &Fault{Kind: FaultConcurrent, Message: err.Error(), Causes: causes}
		}
		if len(causes) == 1 {
			return Classify(causes[0])
		}
	}

	if isTimeout(err) {
		return &Fault{Kind: FaultTimeout, Message: err.Error()}
	}

	var te *TransportError
	if errors.As(err, &te) {
		desc := te.Status
		if desc == "" {
			desc = http.StatusText(te.StatusCode)
		}
		return &Fault{Kind: FaultTransport, StatusCode: te.StatusCode, Description: desc, Message: err.Error()}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &Fault{Kind: FaultTransport, Description: opErr.Op, Message: err.Error()}
	}

	return &Fault{Kind: FaultGeneric, Message: err.Error()}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
