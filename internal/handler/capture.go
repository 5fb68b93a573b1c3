package handler

import (
	"bytes"
	"fmt"
)

// captureBuffer keeps at most max bytes of subprocess output. WordPress
// cron handlers can be arbitrarily chatty; the runner only ever needs a
// debug-sized sample.
type captureBuffer struct {
	max       int
	buf       bytes.Buffer
	truncated int
}

func newCaptureBuffer(max int) *captureBuffer {
	return &captureBuffer{max: max}
}

func (c *captureBuffer) Write(p []byte) (int, error) {
	room := c.max - c.buf.Len()
	if room <= 0 {
		c.truncated += len(p)
		return len(p), nil
	}
	if len(p) > room {
		c.truncated += len(p) - room
		c.buf.Write(p[:room])
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *captureBuffer) String() string {
	if c.truncated > 0 {
		return fmt.Sprintf("%s... (%d bytes dropped)", c.buf.String(), c.truncated)
	}
	return c.buf.String()
}
