// Package cuberr defines the error taxonomy shared by every engine
// component, so callers (the CLI, tests, UIs) can switch on failure
// category without parsing error strings.
package cuberr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for routing and exit-code purposes.
type Kind int

const (
	// KindInternal marks an invariant violation; should never happen.
	KindInternal Kind = iota
	// KindConfig marks bad or missing configuration.
	KindConfig
	// KindNotFound marks a missing source or destination path.
	KindNotFound
	// KindIO marks a transient or permanent filesystem/network failure.
	KindIO
	// KindAuth marks a keyring miss or WebDAV 401/403.
	KindAuth
	// KindIntegrity marks a hash mismatch or corrupt stored object.
	KindIntegrity
	// KindTransform marks a gzip or age failure.
	KindTransform
	// KindCancelled marks a run that was cancelled.
	KindCancelled
	// KindBusyProfile marks a profile that already has an active run.
	KindBusyProfile
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "Config"
	case KindNotFound:
		return "NotFound"
	case KindIO:
		return "Io"
	case KindAuth:
		return "Auth"
	case KindIntegrity:
		return "Integrity"
	case KindTransform:
		return "Transform"
	case KindCancelled:
		return "Cancelled"
	case KindBusyProfile:
		return "BusyProfile"
	default:
		return "Internal"
	}
}

// Error wraps an underlying error with a Kind and, when applicable, the
// profile and relative path it occurred against.
type Error struct {
	Kind    Kind
	Profile string
	Path    string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Profile != "" && e.Path != "":
		return fmt.Sprintf("%s: profile %q path %q: %v", e.Kind, e.Profile, e.Path, e.Err)
	case e.Profile != "":
		return fmt.Sprintf("%s: profile %q: %v", e.Kind, e.Profile, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind wrapping err.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// WithProfile attaches a profile name, returning a new Error.
func (e *Error) WithProfile(profile string) *Error {
	return &Error{Kind: e.Kind, Profile: profile, Path: e.Path, Err: e.Err}
}

// WithPath attaches a relative path, returning a new Error.
func (e *Error) WithPath(path string) *Error {
	return &Error{Kind: e.Kind, Profile: e.Profile, Path: path, Err: e.Err}
}

// Wrap builds an Error of the given kind whose underlying error is
// formatted from format and args.
func Wrap(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind carried by err if it (or something it wraps)
// is a *Error, and KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
