package nbi

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/energy-network-editor/core"
	"github.com/signalsfoundry/energy-network-editor/internal/editor/state"
	"github.com/signalsfoundry/energy-network-editor/kb"
)

func TestToStatusError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		code    codes.Code
		kind    string
		wantNil bool
	}{
		{name: "nil", err: nil, wantNil: true},
		{name: "status passthrough", err: status.Error(codes.PermissionDenied, "denied"), code: codes.PermissionDenied, kind: KindInternal},
		{name: "invalid command", err: fmt.Errorf("%w: missing modelId", ErrInvalidCommand), code: codes.InvalidArgument, kind: KindInvalidCommand},
		{name: "unknown command", err: fmt.Errorf("%w: %q", ErrUnknownCommand, "fly"), code: codes.InvalidArgument, kind: KindInvalidCommand},
		{name: "not found", err: fmt.Errorf("%w: port %q", core.ErrNotFound, "p1"), code: codes.NotFound, kind: KindNotFound},
		{name: "no model", err: state.ErrNoModel, code: codes.NotFound, kind: KindNotFound},
		{name: "type mismatch", err: core.ErrTypeMismatch, code: codes.FailedPrecondition, kind: KindTypeMismatch},
		{name: "unsupported geometry", err: core.ErrUnsupportedGeometry, code: codes.InvalidArgument, kind: KindTypeMismatch},
		{name: "validation", err: core.ErrValidation, code: codes.InvalidArgument, kind: KindValidation},
		{name: "version conflict", err: state.ErrVersionConflict, code: codes.Aborted, kind: KindVersionConflict},
		{name: "in use", err: kb.ErrInUse, code: codes.FailedPrecondition, kind: KindInternal},
		{name: "already exists", err: kb.ErrExists, code: codes.AlreadyExists, kind: KindInternal},
		{name: "fallback", err: errors.New("boom"), code: codes.Internal, kind: KindInternal},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ToStatusError(tc.err)
			if tc.wantNil {
				if got != nil {
					t.Fatalf("ToStatusError(nil) = %v, want nil", got)
				}
				return
			}

			if got == nil {
				t.Fatalf("ToStatusError(%v) = nil, want error", tc.err)
			}
			if code := status.Code(got); code != tc.code {
				t.Fatalf("ToStatusError(%v) code = %v, want %v", tc.err, code, tc.code)
			}
			if kind := AlertKind(tc.err); kind != tc.kind {
				t.Fatalf("AlertKind(%v) = %q, want %q", tc.err, kind, tc.kind)
			}
		})
	}
}
