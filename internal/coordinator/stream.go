package coordinator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/cinema-seat-hold/internal/seatevent"
)

// Stream follows a screening's event stream until ctx is cancelled and
// hands every event to onEvent. Dropped connections are reopened with
// exponential backoff (capped at 30s), resuming from the last event id; the
// server answers every connection with a fresh snapshot.
func (c *HTTPClient) Stream(ctx context.Context, screeningID uint64, onEvent func(seatevent.Event)) error {
	var lastID uint64
	backoff := time.Second
	for {
		received, err := c.streamOnce(ctx, screeningID, lastID, func(ev seatevent.Event) {
			lastID = ev.ID
			onEvent(ev)
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var se *StatusError
		if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 {
			return err
		}
		if received {
			backoff = time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (c *HTTPClient) streamOnce(ctx context.Context, screeningID, lastID uint64, onEvent func(seatevent.Event)) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v1/screenings/%d/seats/stream", c.baseURL, screeningID), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastID > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatUint(lastID, 10))
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, &StatusError{Code: resp.StatusCode}
	}
	return readEvents(resp.Body, onEvent)
}

// readEvents parses Server-Sent Events frames until r ends. Comments
// (heartbeats) are skipped, frames that fail to decode are dropped.
func readEvents(r io.Reader, onEvent func(seatevent.Event)) (bool, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	received := false
	var id uint64
	var typ string
	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if typ != "" || data.Len() > 0 {
				if ev, err := seatevent.Decode(id, typ, []byte(data.String())); err == nil {
					received = true
					onEvent(ev)
				}
			}
			id, typ = 0, ""
			data.Reset()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			id, _ = strconv.ParseUint(value, 10, 64)
		case "event":
			typ = value
		case "data":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
		}
	}
	return received, sc.Err()
}
