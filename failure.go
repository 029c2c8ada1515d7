package outbox

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
	"unicode/utf8"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const maxErrorLen = 1024

// ErrorClass defines how a failed write should be handled.
type ErrorClass int

const (
	// ClassTransient marks connectivity failures: the gateway queues, the flush worker reschedules.
	ClassTransient ErrorClass = iota
	// ClassPermanent marks failures that will never succeed: rethrown by the gateway, dropped by flush.
	ClassPermanent
	// ClassUnexpected marks everything else; flush reports and drops the record.
	ClassUnexpected
)

// String returns the class name used in logs and reports.
func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	default:
		return "unexpected"
	}
}

// ErrorClassifier decides how a write failure is handled.
type ErrorClassifier func(err error) ErrorClass

type transientError struct {
	cause error
}

func (e transientError) Error() string {
	return e.cause.Error()
}

func (e transientError) Unwrap() error {
	return e.cause
}

type permanentError struct {
	cause error
}

func (e permanentError) Error() string {
	return e.cause.Error()
}

func (e permanentError) Unwrap() error {
	return e.cause
}

// Transient marks err as a retryable connectivity failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}

	return transientError{cause: err}
}

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return permanentError{cause: err}
}

// IsTransient reports whether err is classified as transient.
func IsTransient(err error) bool {
	return err != nil && Classify(err) == ClassTransient
}

// IsPermanent reports whether err is classified as permanent.
func IsPermanent(err error) bool {
	return err != nil && Classify(err) == ClassPermanent
}

// Classify is the default ErrorClassifier.
//
// Explicit Transient/Permanent markers win; otherwise gRPC status codes, context deadlines,
// network errors and dropped database connections are inspected.
func Classify(err error) ErrorClass {
	var permanent permanentError
	if errors.As(err, &permanent) {
		return ClassPermanent
	}
	var transient transientError
	if errors.As(err, &transient) {
		return ClassTransient
	}

	if st, ok := status.FromError(err); ok {
		return classifyCode(st)
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return ClassTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ClassTransient
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ClassTransient
	}

	return ClassUnexpected
}

func classifyCode(st *status.Status) ErrorClass {
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded:
		return ClassTransient
	case codes.FailedPrecondition:
		if strings.Contains(strings.ToLower(st.Message()), "offline") {
			return ClassTransient
		}

		return ClassPermanent
	case codes.PermissionDenied, codes.NotFound, codes.InvalidArgument, codes.Unauthenticated,
		codes.AlreadyExists, codes.OutOfRange, codes.Unimplemented:
		return ClassPermanent
	default:
		return ClassUnexpected
	}
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	if utf8.RuneCountInString(msg) <= maxErrorLen {
		return msg
	}

	return string([]rune(msg)[:maxErrorLen])
}
