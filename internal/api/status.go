// Package api converts engine errors into what gRPC callers see.
package api

import (
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/elskow/boardguard/internal/apperr"
)

const (
	MessageInternal    = "internal error"
	MessageRateLimited = "too many requests, try again later"
)

// Mapper turns errors into gRPC statuses. Outside development, internal
// causes never reach the caller.
type Mapper struct {
	development bool
}

func NewMapper(development bool) *Mapper {
	return &Mapper{development: development}
}

func codeFor(kind apperr.Kind) codes.Code {
	switch kind {
	case apperr.KindValidation:
		return codes.InvalidArgument
	case apperr.KindNotFound:
		return codes.NotFound
	case apperr.KindForbidden, apperr.KindBanned:
		return codes.PermissionDenied
	case apperr.KindConflict:
		return codes.AlreadyExists
	case apperr.KindRejected:
		return codes.FailedPrecondition
	case apperr.KindRateLimited:
		return codes.ResourceExhausted
	case apperr.KindInternal, apperr.KindConfiguration, apperr.KindExternal:
		return codes.Internal
	default:
		return codes.Unknown
	}
}

// Status maps err. A nil err maps to OK.
func (m *Mapper) Status(err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}
	if s, ok := status.FromError(err); ok {
		return s
	}

	e, ok := apperr.As(err)
	if !ok {
		return status.New(codes.Internal, m.hide(err))
	}

	code := codeFor(e.Kind)
	switch e.Kind {
	case apperr.KindBanned:
		// Never confirm a ban or its type to the banned party.
		return status.New(code, "")
	case apperr.KindRateLimited:
		msg := e.Message
		if msg == "" {
			msg = MessageRateLimited
		}
		s := status.New(code, msg)
		if e.RetryAfter <= 0 {
			return s
		}
		detailed, derr := s.WithDetails(&errdetails.RetryInfo{RetryDelay: durationpb.New(e.RetryAfter)})
		if derr != nil {
			return s
		}
		return detailed
	case apperr.KindInternal, apperr.KindConfiguration, apperr.KindExternal:
		return status.New(code, m.hide(err))
	default:
		return status.New(code, e.Message)
	}
}

// Error is Status(err).Err().
func (m *Mapper) Error(err error) error {
	if err == nil {
		return nil
	}
	return m.Status(err).Err()
}

func (m *Mapper) hide(err error) string {
	if m.development {
		return err.Error()
	}
	return MessageInternal
}

// RetryAfter extracts the retry delay attached by Status, if any.
func RetryAfter(s *status.Status) (time.Duration, bool) {
	for _, d := range s.Details() {
		if info, ok := d.(*errdetails.RetryInfo); ok && info.RetryDelay != nil {
			return info.RetryDelay.AsDuration(), true
		}
	}
	return 0, false
}
