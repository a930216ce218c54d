package dispatch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusEscalateNeverLowers(t *testing.T) {
	all := []Status{StatusSuccess, StatusPartialError, StatusAllError}
	for _, from := range all {
		for _, to := range all {
			got := from.Escalate(to)
			assert.GreaterOrEqual(t, int(got), int(from))
			assert.GreaterOrEqual(t, int(got), int(to))
		}
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name    string
		results []ChannelResult
		want    Status
	}{
		{
			name: "no channels",
			want: StatusSuccess,
		},
		{
			name: "zero attempts everywhere",
			results: []ChannelResult{
				{Channel: 1, Status: StatusSuccess},
				{Channel: 2, Status: StatusSuccess},
			},
			want: StatusSuccess,
		},
		{
			name: "all clean",
			results: []ChannelResult{
				{Channel: 1, Issued: 3, Succeeded: 3, Status: StatusSuccess},
				{Channel: 2, Issued: 3, Succeeded: 3, Status: StatusSuccess},
			},
			want: StatusSuccess,
		},
		{
			name: "one channel with a failure",
			results: []ChannelResult{
				{Channel: 1, Issued: 3, Succeeded: 3, Status: StatusSuccess},
				{Channel: 2, Issued: 3, Succeeded: 2, Failed: 1, Status: StatusPartialError},
			},
			want: StatusPartialError,
		},
		{
			name: "nothing succeeded",
			results: []ChannelResult{
				{Channel: 1, Issued: 3, Failed: 3, Status: StatusPartialError},
				{Channel: 2, Issued: 1, Failed: 1, Status: StatusPartialError},
			},
			want: StatusAllError,
		},
		{
			name: "one idle channel does not rescue a failed dispatch",
			results: []ChannelResult{
				{Channel: 1, Issued: 2, Failed: 2, Status: StatusPartialError},
				{Channel: 2, Status: StatusSuccess},
			},
			want: StatusAllError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Aggregate(tt.results))
		})
	}
}

func TestStatusText(t *testing.T) {
	b, err := json.Marshal(map[string]Status{"status": StatusPartialError})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"PartialError"}`, string(b))

	var decoded struct {
		Status Status `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"status":"AllError"}`), &decoded))
	assert.Equal(t, StatusAllError, decoded.Status)

	_, err = ParseStatus("Degraded")
	assert.Error(t, err)
	assert.Equal(t, "Status(9)", Status(9).String())
}
