package codec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region struct-conversion
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("encode struct: %w", err)
	}
	return s, nil
}

func fromStruct(s *structpb.Struct, v any) error {
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode struct: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}
	return nil
}

// #endregion struct-conversion

// #region status-mapping

// toStatus maps controller errors onto gRPC codes for the server side.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, symbolic.ErrOracleTimeout), errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, symbolic.ErrMalformedMerge):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, symbolic.ErrNoAdmissibleAction):
		return status.Error(codes.NotFound, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// fromStatus maps a gRPC error back onto the controller sentinels.
func fromStatus(method string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s: %w", method, err)
	}
	switch st.Code() {
	case codes.DeadlineExceeded:
		return fmt.Errorf("%s: %s: %w", method, st.Message(), symbolic.ErrOracleTimeout)
	case codes.Canceled:
		return fmt.Errorf("%s: %s: %w", method, st.Message(), context.Canceled)
	case codes.FailedPrecondition:
		return fmt.Errorf("%s: %s: %w", method, st.Message(), symbolic.ErrMalformedMerge)
	case codes.NotFound:
		return fmt.Errorf("%s: %s: %w", method, st.Message(), symbolic.ErrNoAdmissibleAction)
	}
	return fmt.Errorf("%s: %w", method, err)
}

// #endregion status-mapping
