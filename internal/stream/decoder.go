// Package stream decodes a live network response into discrete framed
// payloads. Frames arrive as server-sent events: groups of lines separated by
// a blank line, where only "data:" lines carry payload. The decoder owns
// reassembly of frames split across network chunks; callers just pull frames.
package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/banterhq/banter/internal/logging"
)

// Sentinel is the reserved payload that marks logical end-of-stream,
// distinct from the transport connection closing.
const Sentinel = "[DONE]"

// ErrDone is returned by Next once the sentinel payload is observed.
var ErrDone = errors.New("stream: logical end of stream")

// Decoder turns an incremental byte stream into discrete JSON frame payloads.
// It is not safe for concurrent use.
type Decoder struct {
	r    *bufio.Reader
	log  *logging.Logger
	done bool
}

// NewDecoder wraps an open response body. The logger may not be nil.
func NewDecoder(r io.Reader, log *logging.Logger) *Decoder {
	return &Decoder{
		r:   bufio.NewReader(r),
		log: log.Sub("stream"),
	}
}

// Next returns the next well-formed frame payload.
//
// It returns ErrDone at the sentinel, io.EOF when the transport closes, and
// otherwise only read errors: a frame whose payload is not valid JSON is
// logged and skipped, never surfaced, so one corrupt frame cannot abort the
// stream. Lines without the data field marker (comments, keepalives, event
// names) are discarded.
func (d *Decoder) Next() (json.RawMessage, error) {
	if d.done {
		return nil, ErrDone
	}

	for {
		payload, err := d.readFrame()
		if err != nil {
			return nil, err
		}
		if payload == "" {
			// Frame carried no data lines (keepalive or comment-only).
			continue
		}
		if payload == Sentinel {
			d.done = true
			return nil, ErrDone
		}
		if !json.Valid([]byte(payload)) {
			d.log.Warn().Str("payload", truncate(payload, 200)).Msg("skipping malformed frame")
			continue
		}
		return json.RawMessage(payload), nil
	}
}

// readFrame accumulates data lines until a blank line or EOF. A chunk that
// ends mid-line stays buffered in the bufio.Reader and is completed by the
// next read.
func (d *Decoder) readFrame() (string, error) {
	var data []string
	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && len(strings.TrimSpace(line)) == 0 && len(data) == 0 {
				return "", io.EOF
			}
			if err != io.EOF {
				return "", err
			}
			// Final frame without trailing delimiter.
			if v, ok := dataLine(line); ok {
				data = append(data, v)
			}
			if len(data) == 0 {
				return "", io.EOF
			}
			return strings.Join(data, "\n"), nil
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(data) == 0 {
				continue
			}
			return strings.Join(data, "\n"), nil
		}
		if v, ok := dataLine(line); ok {
			data = append(data, v)
		}
	}
}

// dataLine extracts the payload from a "data:" line. Any other field marker
// is ignored.
func dataLine(line string) (string, bool) {
	rest, ok := strings.CutPrefix(line, "data:")
	if !ok {
		return "", false
	}
	return strings.TrimPrefix(rest, " "), true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
