package serve

import (
	"errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/zero-day-ai/noderegistry/query"
	"github.com/zero-day-ai/noderegistry/registry"
)

// ErrorDomain is the ErrorInfo domain of registry errors.
const ErrorDomain = "noderegistry"

// reasons maps registry sentinels to ErrorInfo reasons.
var reasons = []struct {
	reason string
	err    error
}{
	{"NODE_NOT_FOUND", registry.ErrNodeNotFound},
	{"NODE_ALREADY_EXISTS", registry.ErrNodeAlreadyExists},
	{"UNIQUE_CONSTRAINT_VIOLATION", registry.ErrUniqueConstraintViolation},
	{"NODE_ALREADY_HAS_PARENT", registry.ErrNodeAlreadyHasParent},
	{"NODE_STILL_IN_USE", registry.ErrNodeStillInUse},
	{"INVALID_NODE", registry.ErrInvalidNode},
	{"HIERARCHY_CYCLE", registry.ErrHierarchyCycle},
	{"CORRUPT_SNAPSHOT", registry.ErrCorruptSnapshot},
	{"INVALID_EXPRESSION", query.ErrInvalidExpression},
}

func codeOf(kind string) codes.Code {
	switch kind {
	case registry.KindNotFound:
		return codes.NotFound
	case registry.KindConflict:
		return codes.AlreadyExists
	case registry.KindValidation:
		return codes.InvalidArgument
	case registry.KindInUse:
		return codes.FailedPrecondition
	case registry.KindPersistence:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// toStatus converts a registry error into a gRPC status error carrying an
// ErrorInfo detail, so clients can restore the sentinel.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var regErr *registry.Error
	if !errors.As(err, &regErr) {
		return status.Error(codes.Internal, err.Error())
	}

	info := &errdetails.ErrorInfo{
		Domain: ErrorDomain,
		Metadata: map[string]string{
			"op":   regErr.Op,
			"kind": regErr.Kind,
		},
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			info.Reason = r.reason
			break
		}
	}
	for k, v := range regErr.Context {
		info.Metadata[k] = fmt.Sprint(v)
	}

	st, detailErr := status.New(codeOf(regErr.Kind), err.Error()).WithDetails(info)
	if detailErr != nil {
		return status.Error(codeOf(regErr.Kind), err.Error())
	}
	return st.Err()
}

// fromStatus restores a *registry.Error from a status produced by toStatus.
// Other errors are returned unchanged.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok || st == nil {
		return err
	}

	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != ErrorDomain {
			continue
		}

		regErr := &registry.Error{
			Op:   info.GetMetadata()["op"],
			Kind: info.GetMetadata()["kind"],
			Err:  errors.New(st.Message()),
		}
		for _, r := range reasons {
			if r.reason == info.GetReason() {
				regErr.Err = r.err
				break
			}
		}
		for k, v := range info.GetMetadata() {
			if k == "op" || k == "kind" {
				continue
			}
			if regErr.Context == nil {
				regErr.Context = make(map[string]any)
			}
			regErr.Context[k] = v
		}
		return regErr
	}
	return err
}
