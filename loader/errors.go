package loader

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a load failure.
type ErrorKind int

const (
	// KindFetch: the network fetch failed.
	KindFetch ErrorKind = iota + 1
	// KindDecode: the bytes were not a usable image.
	KindDecode
	// KindTimeout: the task exceeded its deadline.
	KindTimeout
	// KindCancelled: the caller cancelled; not a failure.
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindFetch:
		return "fetch"
	case KindDecode:
		return "decode"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is a classified load error. The cause is available via errors.Unwrap.
type Error struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	msg := "loader: " + e.Kind.String()
	if e.URL != "" {
		msg += " " + e.URL
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels below, so errors.Is(err, ErrTimeout) holds
// for any timeout regardless of URL or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.URL == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	// ErrFetch matches every fetch failure.
	ErrFetch = &Error{Kind: KindFetch}
	// ErrDecode matches every decode failure.
	ErrDecode = &Error{Kind: KindDecode}
	// ErrTimeout matches every deadline expiry.
	ErrTimeout = &Error{Kind: KindTimeout}
	// ErrCancelled is what a cancelled ticket resolves with.
	ErrCancelled = &Error{Kind: KindCancelled}

	// ErrClosed is returned for work submitted to, or interrupted by, a closed loader.
	ErrClosed = errors.New("loader: closed")
)

// IsKind reports whether err is a loader error of kind k.
func IsKind(err error, k ErrorKind) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind == k
	}
	return false
}

// fallbackEligible reports whether err may trigger the one-shot fallback.
func fallbackEligible(err error) bool {
	return IsKind(err, KindFetch) || IsKind(err, KindDecode) || IsKind(err, KindTimeout)
}
