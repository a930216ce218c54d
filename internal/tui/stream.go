package tui

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/volley/internal/events"
)

// Subscribe feeds a model from an in-process hub. The returned cancel closes the
// channel, which the model reports as a closed stream.
func Subscribe(hub *events.Hub) (<-chan events.Event, func()) {
	return hub.Subscribe(1024)
}

// Stream follows the /events endpoint of a running API server and delivers events
// until ctx is done. Dropped connections are retried after retry, resuming from the
// last event seen.
func Stream(ctx context.Context, apiURL, apiKey string, retry time.Duration) <-chan events.Event {
	out := make(chan events.Event, 256)
	go func() {
		defer close(out)
		var last int64
		for {
			last = streamOnce(ctx, apiURL, apiKey, last, out)
			select {
			case <-ctx.Done():
				return
			case <-time.After(retry):
			}
		}
	}()
	return out
}

// streamOnce reads one SSE connection to completion and returns the last event id.
func streamOnce(ctx context.Context, apiURL, apiKey string, last int64, out chan<- events.Event) int64 {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(apiURL, "/")+"/events", nil)
	if err != nil {
		return last
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "text/event-stream")
	if last > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(last, 10))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return last
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return last
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			data = line[len("data: "):]
			continue
		}
		if line != "" || data == "" {
			continue
		}

		var ev events.Event
		err := json.Unmarshal([]byte(data), &ev)
		data = ""
		if err != nil || ev.ID <= last {
			continue
		}
		select {
		case out <- ev:
			last = ev.ID
		case <-ctx.Done():
			return last
		}
	}
	return last
}
