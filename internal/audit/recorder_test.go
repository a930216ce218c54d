package audit

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFields() Fields {
	return Fields{
		DispatchID: "parent-1",
		Interface:  "billing",
		Step:       "load",
		Workers:    32,
		IO:         8,
		Channels:   4,
		QueueSize:  10,
		Quota:      3,
		ServerName: "rb-01",
	}
}

func readRecords(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestDestinationPath(t *testing.T) {
	d := Destination{Dir: "/var/log/volley", Interface: "billing", Step: "load"}
	assert.Equal(t, filepath.Join("/var/log/volley", "LogsServiceRequester_billingload.csv"), d.Path())
}

func TestFormatElapsed(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00.00"},
		{1234 * time.Millisecond, "00:00:01.23"},
		{61*time.Second + 999*time.Millisecond, "00:01:01.99"},
		{2*time.Hour + 3*time.Minute + 4*time.Second, "02:03:04.00"},
		{-time.Second, "00:00:00.00"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, FormatElapsed(c.in), c.in.String())
	}
}

func TestRecordLineLayout(t *testing.T) {
	dir := t.TempDir()
	dest := Destination{Dir: dir, Interface: "billing", Step: "load"}
	r := NewRecorder(dest, testFields())

	at := time.Date(2026, 10, 15, 9, 30, 0, 123_000_000, time.UTC)
	r.Record(AttemptLine{AttemptID: "child-1", Outcome: "Success", Channel: 2, Elapsed: 1500 * time.Millisecond, At: at})
	r.Record(AttemptLine{AttemptID: "child-2", Outcome: "Transport", Channel: 3, At: at, Detail: "HTTPCode:503, unavailable\nretry later"})
	r.RecordReport(ReportLine{Status: "PartialError", Elapsed: 3 * time.Second, At: at, Issued: 2, Succeeded: 1, Responses: 1})

	n, err := r.Flush()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	records := readRecords(t, dest.Path())
	require.Len(t, records, 3)
	for _, rec := range records {
		assert.Len(t, rec, Columns)
	}

	assert.Equal(t, []string{
		"parent-1", "Success", "child-1", "billing", "load-2", "00:00:01.50",
		"2026-10-15 09:30:00.123", "32", "8", "4", "10", "3", "rb-01", "",
	}, records[0])
	assert.Equal(t, "HTTPCode:503, unavailable retry later", records[1][13])
	assert.Equal(t, "load", records[2][4])
	assert.Equal(t, "PartialError", records[2][1])
	assert.Equal(t, "attempts=2 successes=1 responses=1", records[2][13])
}

func TestConcurrentRecordNoLostOrInterleavedLines(t *testing.T) {
	const (
		workers = 16
		perWork = 250
	)
	dest := Destination{Dir: t.TempDir(), Interface: "i", Step: "s"}
	r := NewRecorder(dest, testFields())

	var wg sync.WaitGroup
	for w := 1; w <= workers; w++ {
		wg.Add(1)
		go func(ch int) {
			defer wg.Done()
			for k := range perWork {
				r.Record(AttemptLine{
					AttemptID: fmt.Sprintf("c%d-a%d", ch, k),
					Outcome:   "Generic",
					Channel:   ch,
					At:        time.Now(),
					Detail:    strings.Repeat("x", 64),
				})
			}
		}(w)
	}
	wg.Wait()

	n, err := r.Flush()
	require.NoError(t, err)
	require.Equal(t, workers*perWork, n)

	records := readRecords(t, dest.Path())
	require.Len(t, records, workers*perWork)

	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		require.Len(t, rec, Columns)
		require.Equal(t, strings.Repeat("x", 64), rec[13])
		require.False(t, seen[rec[2]], "duplicate attempt %s", rec[2])
		seen[rec[2]] = true
	}
}

func TestFlushIsAppendOnce(t *testing.T) {
	dest := Destination{Dir: t.TempDir(), Interface: "i", Step: "s"}
	r := NewRecorder(dest, testFields())
	r.Record(AttemptLine{AttemptID: "a1", Outcome: "Timeout", Channel: 1, At: time.Now()})

	n, err := r.Flush()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = r.Flush()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, readRecords(t, dest.Path()), 1)

	r.RecordReport(ReportLine{Status: "AllError", At: time.Now(), Issued: 1})
	n, err = r.Flush()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, readRecords(t, dest.Path()), 2)
	assert.Equal(t, 2, r.Len())
}

func TestFlushAppendsToExistingFile(t *testing.T) {
	dest := Destination{Dir: t.TempDir(), Interface: "i", Step: "s"}
	require.NoError(t, os.WriteFile(dest.Path(), []byte("previous,run\n"), 0o644))

	r := NewRecorder(dest, testFields())
	r.Record(AttemptLine{AttemptID: "a1", Outcome: "Success", Channel: 1, At: time.Now()})
	_, err := r.Flush()
	require.NoError(t, err)

	data, err := os.ReadFile(dest.Path())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "previous,run\n"))
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
}

func TestFlushEmptyWritesNothing(t *testing.T) {
	dest := Destination{Dir: t.TempDir(), Interface: "i", Step: "s"}
	n, err := NewRecorder(dest, testFields()).Flush()
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = os.Stat(dest.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestFlushFailureKeepsLinesPending(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	r := NewRecorder(Destination{Dir: blocker, Interface: "i", Step: "s"}, testFields())
	r.Record(AttemptLine{AttemptID: "a1", Outcome: "Success", Channel: 1, At: time.Now()})

	_, err := r.Flush()
	require.Error(t, err)

	r.dest.Dir = dir
	n, err := r.Flush()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestErrorSinkWritesImmediately(t *testing.T) {
	dest := Destination{Dir: t.TempDir(), Interface: "i", Step: "s"}
	r := NewRecorder(dest, testFields())

	r.Errors().Log(errors.New("counter category missing"))
	r.Errors().Log(nil)

	records := readRecords(t, dest.Path())
	require.Len(t, records, 1)
	assert.Equal(t, "InternalError", records[0][1])
	assert.Equal(t, "counter category missing", records[0][13])
	assert.Equal(t, 1, r.Errors().Count())
	assert.Zero(t, r.Len(), "error sink must not touch the attempt buffer")
}
