// Package invoke is the Invocation Engine: it takes a descriptor-resolved
// method and a JSON payload, builds a dynamic protobuf message, dispatches
// it over the shared channel with the raw-bytes wire codec, and decodes the
// dynamic response back to JSON.
package invoke

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/anthony/grpc-gateway/internal/apperr"
	"github.com/anthony/grpc-gateway/internal/auth"
	"github.com/anthony/grpc-gateway/internal/clientpool"
	"github.com/anthony/grpc-gateway/internal/codec"
)

// Engine is the invocation engine. It also implements auth.Refresher so a
// BearerToken's refresh RPC routes back through the same dispatch path as
// any other call.
type Engine struct {
	pool *clientpool.Pool
	log  *zap.Logger
}

// New creates an Engine bound to pool. log may be nil.
func New(pool *clientpool.Pool, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{pool: pool, log: log}
}

// Invoke performs one full call per §4.7: descriptor lookup, JSON-to-dynamic
// transcoding, credential attachment, dispatch, and dynamic-to-JSON
// transcoding of the result.
func (e *Engine) Invoke(ctx context.Context, handle *clientpool.Handle, cred auth.Credential, service, method string, payload json.RawMessage) (json.RawMessage, error) {
	md, ok := handle.Reflection.Cache().GetMethod(service, method)
	if !ok {
		return nil, apperr.New(apperr.BadRequest, fmt.Sprintf("method not found: %s.%s", service, method))
	}

	if cred != nil {
		token, err := cred.RefreshIfExpired(ctx, handle.Endpoint, e)
		if err != nil {
			return nil, err
		}
		ctx = metadata.AppendToOutgoingContext(ctx, cred.HeaderName(), token)
	}

	return e.dispatch(ctx, handle, md.GetInputType(), md.GetOutputType(), service, method, payload)
}

// RefreshToken implements auth.Refresher: it invokes the refresher RPC with
// no credential attached and parses the canonical refresh-response shape.
func (e *Engine) RefreshToken(ctx context.Context, endpoint, service, method, refreshToken string) (auth.RefreshResult, error) {
	handle, err := e.pool.GetOrCreate(ctx, endpoint)
	if err != nil {
		return auth.RefreshResult{}, apperr.Wrap(apperr.TransportFailure, "refresher: failed to reach endpoint", err)
	}

	md, ok := handle.Reflection.Cache().GetMethod(service, method)
	if !ok {
		return auth.RefreshResult{}, apperr.New(apperr.BadRequest, fmt.Sprintf("refresher method not found: %s.%s", service, method))
	}

	reqPayload, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return auth.RefreshResult{}, apperr.Wrap(apperr.InternalServerError, "refresher: failed to encode request", err)
	}

	respJSON, err := e.dispatch(ctx, handle, md.GetInputType(), md.GetOutputType(), service, method, reqPayload)
	if err != nil {
		return auth.RefreshResult{}, err
	}

	var parsed refreshResponse
	if err := json.Unmarshal(respJSON, &parsed); err != nil {
		return auth.RefreshResult{}, apperr.Wrap(apperr.InternalServerError, "refresher: malformed response", err)
	}
	expiresAt, err := strconv.ParseUint(parsed.ExpiredAt, 10, 64)
	if err != nil {
		return auth.RefreshResult{}, apperr.Wrap(apperr.InternalServerError, "refresher: expiredAt is not a u64 string", err)
	}

	return auth.RefreshResult{
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// refreshResponse mirrors the refresher's canonical schema: accessToken and
// refreshToken are plain JSON strings, but expiredAt arrives as a
// string-encoded u64 rather than a JSON number.
type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiredAt    string `json:"expiredAt"`
}

func (e *Engine) dispatch(ctx context.Context, handle *clientpool.Handle, inputType, outputType *desc.MessageDescriptor, service, method string, payload json.RawMessage) (json.RawMessage, error) {
	reqMsg := dynamic.NewMessage(inputType)
	if len(payload) > 0 {
		if err := reqMsg.UnmarshalJSON(payload); err != nil {
			return nil, apperr.Wrap(apperr.BadRequest, "invalid request payload", err)
		}
	}

	reqBytes, err := reqMsg.Marshal()
	if err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, "failed to encode request message", err)
	}

	fullMethod := fmt.Sprintf("/%s/%s", service, method)
	var respBytes []byte
	err = handle.Channel.Invoke(ctx, fullMethod, &reqBytes, &respBytes, grpc.ForceCodec(codec.Bytes{}))
	if err != nil {
		return nil, classifyDispatchError(err)
	}

	respMsg := dynamic.NewMessage(outputType)
	if err := respMsg.Unmarshal(respBytes); err != nil {
		return nil, apperr.Wrap(apperr.InternalServerError, "failed to decode response message", err)
	}

	js, err := respMsg.MarshalJSON()
	if err != nil {
		return nil, apperr.Wrap(apperr.InternalServerError, "failed to render response as json", err)
	}
	return js, nil
}

// classifyDispatchError maps a failed RPC to the taxonomy per §4.7 step 4:
// Unavailable if the channel is not ready, Transport on a transport-level
// error, otherwise the gRPC status is surfaced as a structured 400.
func classifyDispatchError(err error) error {
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable:
			return apperr.Wrap(apperr.ServiceUnavailable, "upstream unavailable", err)
		case codes.DeadlineExceeded:
			return apperr.Wrap(apperr.TransportFailure, "Unknown transport failure", err)
		default:
			return apperr.New(apperr.BadRequest, st.Message())
		}
	}
	return apperr.Wrap(apperr.TransportFailure, "Unknown transport failure", err)
}
