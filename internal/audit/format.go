package audit

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the layout of the timestamp column.
const TimestampLayout = "2006-01-02 15:04:05.000"

// Columns is the number of fields on every audit line.
const Columns = 14

// Destination names the audit file for one interface+step pair.
type Destination struct {
	Dir       string
	Interface string
	Step      string
}

// Path returns the audit file path.
func (d Destination) Path() string {
	return filepath.Join(d.Dir, fmt.Sprintf("LogsServiceRequester_%s%s.csv", d.Interface, d.Step))
}

// Fields are the per-dispatch columns repeated on every line.
type Fields struct {
	DispatchID string
	Interface  string
	Step       string
	Workers    int
	IO         int
	Channels   int
	QueueSize  int
	Quota      int
	ServerName string
}

// AttemptLine is one recorded call.
type AttemptLine struct {
	AttemptID string
	Outcome   string
	Channel   int
	Elapsed   time.Duration
	At        time.Time
	Detail    string
}

// ReportLine is the consolidated summary written after every attempt line.
type ReportLine struct {
	Status    string
	Elapsed   time.Duration
	At        time.Time
	Issued    int
	Succeeded int
	Responses int
}

// FormatElapsed renders d as HH:MM:SS.cc (hundredths, truncated).
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d / time.Hour)
	m := int(d/time.Minute) % 60
	s := int(d/time.Second) % 60
	cs := int(d/(10*time.Millisecond)) % 100
	return fmt.Sprintf("%02d:%02d:%02d.%02d", h, m, s, cs)
}

func (f Fields) attemptRecord(a AttemptLine) []string {
	return []string{
		f.DispatchID,
		a.Outcome,
		a.AttemptID,
		f.Interface,
		fmt.Sprintf("%s-%d", f.Step, a.Channel),
		FormatElapsed(a.Elapsed),
		a.At.Format(TimestampLayout),
		strconv.Itoa(f.Workers),
		strconv.Itoa(f.IO),
		strconv.Itoa(f.Channels),
		strconv.Itoa(f.QueueSize),
		strconv.Itoa(f.Quota),
		f.ServerName,
		a.Detail,
	}
}

func (f Fields) reportRecord(r ReportLine) []string {
	return []string{
		f.DispatchID,
		r.Status,
		"",
		f.Interface,
		f.Step,
		FormatElapsed(r.Elapsed),
		r.At.Format(TimestampLayout),
		strconv.Itoa(f.Workers),
		strconv.Itoa(f.IO),
		strconv.Itoa(f.Channels),
		strconv.Itoa(f.QueueSize),
		strconv.Itoa(f.Quota),
		f.ServerName,
		fmt.Sprintf("attempts=%d successes=%d responses=%d", r.Issued, r.Succeeded, r.Responses),
	}
}

func (f Fields) errorRecord(at time.Time, msg string) []string {
	return []string{
		f.DispatchID, "InternalError", "", f.Interface, f.Step, "",
		at.Format(TimestampLayout),
		"", "", "", "", "",
		f.ServerName,
		msg,
	}
}

// encodeLine renders one CSV record without the trailing newline. Newlines inside
// fields are flattened so a record is always one physical line.
func encodeLine(record []string) string {
	for i, v := range record {
		record[i] = flatten(v)
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(record)
	w.Flush()
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func flatten(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return lineBreaks.Replace(s)
}
