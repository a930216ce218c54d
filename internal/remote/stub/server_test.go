package stub

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/volley/internal/remote"
)

func post(t *testing.T, h http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(remote.ExecuteRequest{AttemptID: "a", Interface: "billing", Step: "load"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestStubAnswersSuccess(t *testing.T) {
	s := New(Config{}, nil)
	rr := post(t, s.Handler())

	require.Equal(t, http.StatusOK, rr.Code)
	var out remote.ExecuteResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.Equal(t, remote.StatusSuccess, out.Status)
	assert.Equal(t, int64(1), s.Calls())
}

func TestStubFailRatioIsDeterministic(t *testing.T) {
	s := New(Config{FailRatio: 0.5}, nil)
	h := s.Handler()
	failed := 0
	for range 10 {
		if post(t, h).Code == http.StatusServiceUnavailable {
			failed++
		}
	}
	assert.Equal(t, 5, failed)
	assert.Equal(t, int64(5), s.Failures())
}

func TestStubAlwaysFails(t *testing.T) {
	s := New(Config{FailRatio: 1}, nil)
	h := s.Handler()
	for range 3 {
		assert.Equal(t, http.StatusServiceUnavailable, post(t, h).Code)
	}
}

func TestStubRejectsBadBody(t *testing.T) {
	s := New(Config{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("{"))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
