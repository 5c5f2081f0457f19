package nbi

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/energy-network-editor/core"
	"github.com/signalsfoundry/energy-network-editor/internal/editor/state"
	"github.com/signalsfoundry/energy-network-editor/kb"
)

var (
	// ErrInvalidCommand is returned when a command is malformed: missing
	// cmd or modelId, or a parameter of the wrong type.
	ErrInvalidCommand = errors.New("invalid command")
	// ErrUnknownCommand is returned for a cmd the dispatcher does not know.
	ErrUnknownCommand = errors.New("unknown command")
)

// Alert kinds surfaced to the map client.
const (
	KindNotFound        = "NotFound"
	KindTypeMismatch    = "TypeMismatch"
	KindValidation      = "ValidationWarning"
	KindVersionConflict = "VersionConflict"
	KindInvalidCommand  = "InvalidCommand"
	KindInternal        = "InternalInconsistency"
)

// ToStatusError maps editor errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, core.ErrNotFound),
		errors.Is(err, state.ErrNoModel):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidCommand),
		errors.Is(err, ErrUnknownCommand),
		errors.Is(err, kb.ErrBadInput),
		errors.Is(err, core.ErrValidation),
		errors.Is(err, core.ErrUnsupportedGeometry):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, core.ErrTypeMismatch),
		errors.Is(err, kb.ErrInUse):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, state.ErrVersionConflict):
		return status.Error(codes.Aborted, err.Error())

	case errors.Is(err, kb.ErrExists):
		return status.Error(codes.AlreadyExists, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// AlertKind classifies err for the alert event sent to the client.
func AlertKind(err error) string {
	switch {
	case errors.Is(err, core.ErrNotFound), errors.Is(err, state.ErrNoModel):
		return KindNotFound
	case errors.Is(err, core.ErrTypeMismatch), errors.Is(err, core.ErrUnsupportedGeometry):
		return KindTypeMismatch
	case errors.Is(err, core.ErrValidation):
		return KindValidation
	case errors.Is(err, state.ErrVersionConflict):
		return KindVersionConflict
	case errors.Is(err, ErrInvalidCommand), errors.Is(err, ErrUnknownCommand), errors.Is(err, kb.ErrBadInput):
		return KindInvalidCommand
	default:
		return KindInternal
	}
}
