package remote

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks github.com/mattjoyce/volley/internal/remote Client

import (
	"context"
	"fmt"
	"strings"
)

// ExecutionStatus is the status the remote service reports for a step execution.
type ExecutionStatus string

const (
	StatusNotExecuted ExecutionStatus = "NotExecuted"
	StatusSuccess     ExecutionStatus = "Success"
	StatusError       ExecutionStatus = "Error"
)

// FaultKind tags why a call did not produce an execution status.
type FaultKind int

const (
	FaultTimeout FaultKind = iota + 1
	FaultConcurrent
	FaultTransport
	FaultGeneric
)

func (k FaultKind) String() string {
	switch k {
	case FaultTimeout:
		return "Timeout"
	case FaultConcurrent:
		return "Concurrent"
	case FaultTransport:
		return "Transport"
	case FaultGeneric:
		return "Generic"
	default:
		return "Unknown"
	}
}

// Fault describes a failed call.
type Fault struct {
	Kind    FaultKind
	Message string

	// StatusCode and Description are set for transport faults when the endpoint answered.
	StatusCode  int
	Description string

	// Causes holds the underlying failures of a concurrent fault.
	Causes []error
}

// Error implements error so faults can travel through errors.As when convenient.
func (f *Fault) Error() string { return f.Detail() }

// Detail renders the fault for the audit log error column.
func (f *Fault) Detail() string {
	if f == nil {
		return ""
	}
	switch f.Kind {
	case FaultTimeout:
		return "Timeout exception: " + f.Message
	case FaultConcurrent:
		parts := make([]string, 0, len(f.Causes))
		for _, c := range f.Causes {
			parts = append(parts, c.Error())
		}
		return fmt.Sprintf("Concurrent execution exception (%d): %s", len(f.Causes), strings.Join(parts, "; "))
	case FaultTransport:
		return fmt.Sprintf("HTTPCode:%d Description:%s EMessage:%s", f.StatusCode, f.Description, f.Message)
	default:
		return f.Message
	}
}

// Response is the tagged outcome of one call. Exactly one of Status (when Fault is nil)
// or Fault is meaningful.
type Response struct {
	Status ExecutionStatus
	Fault  *Fault
}

// OK reports whether the remote executed the step successfully.
func (r Response) OK() bool { return r.Fault == nil && r.Status == StatusSuccess }

// Faulted builds a Response for a classified failure.
func Faulted(err error) Response {
	return Response{Status: StatusNotExecuted, Fault: Classify(err)}
}

// Client issues one synchronous call per Execute. Implementations must honour the
// deadline carried by ctx as the per-call timeout.
type Client interface {
	Execute(ctx context.Context, attemptID, iface, step string) Response
	Close() error
}

// Factory creates the dedicated client for one channel.
type Factory func(channel int) (Client, error)
