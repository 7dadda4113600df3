// Package errcoll contains implementations of error collectors, most notably
// Sentry.
package errcoll

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// Interface is the interface for error collectors that process information
// about errors, possibly sending them to a remote location.
type Interface interface {
	Collect(ctx context.Context, err error)
}

// Collect is a helper for reporting non-critical errors.  It writes the
// resulting error into the log and also into errColl.  err must not be nil.
func Collect(ctx context.Context, errColl Interface, l *slog.Logger, msg string, err error) {
	l.ErrorContext(ctx, msg, slogutil.KeyError, err)
	errColl.Collect(ctx, fmt.Errorf("%s: %w", msg, err))
}

// TagConnector is the tag key for the name of a connector.
const TagConnector = "connector"

// TaggedError is an error that carries tags for the error collectors, such as
// the name of the connector where it has happened.
type TaggedError struct {
	// Err is the underlying error.  It must not be nil.
	Err error

	// Tags are the additional tags of the error.
	Tags map[string]string
}

// NewTaggedError returns err with the single tag.  err must not be nil.
func NewTaggedError(err error, key, val string) (tagged *TaggedError) {
	return &TaggedError{
		Err: err,
		Tags: map[string]string{
			key: val,
		},
	}
}

// type check
var _ error = (*TaggedError)(nil)

// Error implements the error interface for *TaggedError.
func (err *TaggedError) Error() (msg string) {
	return err.Err.Error()
}

// type check
var _ errors.Wrapper = (*TaggedError)(nil)

// Unwrap implements the [errors.Wrapper] interface for *TaggedError.
func (err *TaggedError) Unwrap() (unwrapped error) {
	return err.Err
}

// errorTags returns the merged tags of all *TaggedError in the chain of err.
// The outer tags take precedence.  tags is nil if there are none.
func errorTags(err error) (tags map[string]string) {
	for err != nil {
		tagged, ok := err.(*TaggedError)
		if ok {
			if tags == nil {
				tags = map[string]string{}
			}

			for k, v := range tagged.Tags {
				if _, has := tags[k]; !has {
					tags[k] = v
				}
			}
		}

		err = errors.Unwrap(err)
	}

	return tags
}

// formatTags returns tags as a sorted, space-separated list of key=value pairs.
func formatTags(tags map[string]string) (s string) {
	b := &strings.Builder{}
	for i, k := range slices.Sorted(maps.Keys(tags)) {
		if i > 0 {
			b.WriteByte(' ')
		}

		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(tags[k])
	}

	return b.String()
}

// caller returns the position of the caller with the given depth, as accepted
// by [runtime.Caller].
func caller(depth int) (callerPos string) {
	_, callerFile, callerLine, ok := runtime.Caller(depth)
	if !ok {
		return "<unknown>"
	}

	return fmt.Sprintf("%s/%s:%d", filepath.Base(filepath.Dir(callerFile)), filepath.Base(callerFile), callerLine)
}
