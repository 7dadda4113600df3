package errcoll

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// WriterErrorCollector is an [Interface] implementation that writes errors to
// a writer.  It is safe for concurrent use.
type WriterErrorCollector struct {
	// mu protects w.
	mu *sync.Mutex
	w  io.Writer
}

// NewWriterErrorCollector returns a new properly initialized
// *WriterErrorCollector.
func NewWriterErrorCollector(w io.Writer) (c *WriterErrorCollector) {
	return &WriterErrorCollector{
		mu: &sync.Mutex{},
		w:  w,
	}
}

// type check
var _ Interface = (*WriterErrorCollector)(nil)

// Collect implements the [Interface] interface for *WriterErrorCollector.  The
// tags of err, if any, are written after the error message.
func (c *WriterErrorCollector) Collect(_ context.Context, err error) {
	pos := caller(2)

	var tagsStr string
	if tags := errorTags(err); len(tags) > 0 {
		tagsStr = " [" + formatTags(tags) + "]"
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, _ = fmt.Fprintf(c.w, "%s: %s: caught error: %s%s\n", time.Now(), pos, err, tagsStr)
}
