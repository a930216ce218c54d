package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FaultKind
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: FaultTimeout},
		{name: "wrapped deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: FaultTimeout},
		{name: "net timeout", err: timeoutErr{}, want: FaultTimeout},
		{name: "transport", err: &TransportError{StatusCode: 503, Status: "Service Unavailable"}, want: FaultTransport},
		{name: "dial failure", err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}, want: FaultTransport},
		{name: "joined", err: errors.Join(errors.New("a"), errors.New("b")), want: FaultConcurrent},
		{name: "wrapped joined", err: fmt.Errorf("execute: %w", errors.Join(context.DeadlineExceeded, errors.New("b"))), want: FaultConcurrent},
		{name: "single joined unwraps", err: errors.Join(context.DeadlineExceeded), want: FaultTimeout},
		{name: "generic", err: errors.New("boom"), want: FaultGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Classify(tt.err)
			require.NotNil(t, f)
			assert.Equal(t, tt.want, f.Kind, f.Detail())
		})
	}
}

func TestClassifyNil(t *testing.T) {
	assert.Nil(t, Classify(nil))
}

func TestClassifyKeepsExistingFault(t *testing.T) {
	in := &Fault{Kind: FaultTransport, StatusCode: 502}
	assert.Same(t, in, Classify(fmt.Errorf("wrapped: %w", in)))
}

func TestFaultDetail(t *testing.T) {
	transport := Classify(&TransportError{StatusCode: 500, Err: errors.New("stack trace")})
	assert.Equal(t, "HTTPCode:500 Description:Internal Server Error EMessage:transport error 500 : stack trace", transport.Detail())

	concurrent := Classify(errors.Join(errors.New("first"), errors.New("second")))
	assert.Equal(t, "Concurrent execution exception (2): first; second", concurrent.Detail())
	assert.Len(t, concurrent.Causes, 2)

	assert.Equal(t, "boom", Classify(errors.New("boom")).Detail())
	assert.Contains(t, Classify(context.DeadlineExceeded).Detail(), "Timeout exception")

	var nilFault *Fault
	assert.Empty(t, nilFault.Detail())
}

func TestResponseOK(t *testing.T) {
	assert.True(t, Response{Status: StatusSuccess}.OK())
	assert.False(t, Response{Status: StatusError}.OK())
	assert.False(t, Faulted(errors.New("x")).OK())
	assert.Equal(t, StatusNotExecuted, Faulted(errors.New("x")).Status)
}
