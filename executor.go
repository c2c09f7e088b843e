package apicache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName      = "github.com/voltadmin/apicache"
	headerRequestID = "X-Request-ID"
	maxBodyBytes    = 8 << 20
)

// TokenSource supplies the bearer credential. Clear is called when the API
// rejects the credential.
type TokenSource interface {
	Token(ctx context.Context) (string, bool)
	Clear(ctx context.Context)
}

// AuthErrorFunc is told about the first auth failure of an episode. It runs
// before the failing call returns. Clearing the cache from it should use
// Client.ResetData so the failing caller still receives the rejection.
type AuthErrorFunc func(ctx context.Context, err error)

type executor struct {
	baseURL    string
	http       *http.Client
	tokens     TokenSource
	onAuth     AuthErrorFunc
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	log        Logger
	hooks      Hooks

	// authLatched is set by the first auth failure and cleared by ResetAuthLatch.
	authLatched atomic.Bool
}

// do performs one call for d. The result is the shaped data of a success
// envelope or an *Error. There is no retry. Callers hand failures to
// observe.
func (x *executor) do(ctx context.Context, d Descriptor, args any) (any, error) {
	req, err := d.BuildRequest(args)
	if err != nil {
		return nil, err
	}
	method := coalesce(strings.ToUpper(req.Method), http.MethodGet)

	ctx, span := x.tracer.Start(ctx, "apicache "+d.Name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("apicache.operation", d.Name),
			attribute.String("apicache.kind", d.Kind.String()),
			attribute.String("http.request.method", method),
			attribute.String("url.path", req.Path),
		))
	defer span.End()

	resp, err := x.roundTrip(ctx, method, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.Status))

	v, err := d.Shape(resp.Data)
	if err != nil {
		x.log.Warn("response shape failed", Fields{"op": d.Name, "err": err})
		err = &Error{Kind: KindDomain, Code: CodeUnexpected, Message: msgUnexpected, Status: resp.Status, Err: err}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return v, nil
}

func (x *executor) roundTrip(ctx context.Context, method string, r Request) (Response, error) {
	u := strings.TrimRight(x.baseURL, "/") + "/" + strings.TrimLeft(r.Path, "/")
	if len(r.Query) > 0 {
		u += "?" + r.Query.Encode()
	}

	var body io.Reader
	if r.Body != nil {
		b, err := json.Marshal(r.Body)
		if err != nil {
			return Response{}, fmt.Errorf("%w: body: %w", ErrInvalidArgs, err)
		}
		body = bytes.NewReader(b)
	}

	hr, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return Response{}, &Error{Kind: KindTransport, Message: msgUnexpected, Err: err}
	}
	hr.Header.Set("Accept", "application/json")
	if body != nil {
		hr.Header.Set("Content-Type", "application/json")
	}
	rid := uuid.NewString()
	hr.Header.Set(headerRequestID, rid)
	if tok, ok := x.tokens.Token(ctx); ok && tok != "" {
		hr.Header.Set("Authorization", "Bearer "+tok)
	}
	x.propagator.Inject(ctx, propagation.HeaderCarrier(hr.Header))

	start := time.Now()
	res, err := x.http.Do(hr)
	if err != nil {
		x.log.Debug("request failed", Fields{"path": r.Path, "request_id": rid, "err": err})
		return Response{}, &Error{Kind: KindTransport, Message: msgUnexpected, Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return Response{}, &Error{Kind: KindTransport, Message: msgUnexpected, Status: res.StatusCode, Err: err}
	}
	x.log.Debug("request done", Fields{
		"method":     method,
		"path":       r.Path,
		"status":     res.StatusCode,
		"request_id": rid,
		"elapsed":    time.Since(start),
	})
	return classify(res.StatusCode, raw)
}

// observe runs the auth cascade for err: token eviction, then OnAuthError
// once per episode.
func (x *executor) observe(ctx context.Context, d Descriptor, err error) {
	var ae *Error
	if errors.As(err, &ae) && ae.Kind == KindAuth {
		x.authFailed(context.WithoutCancel(ctx), d, ae)
	}
}

// authFailed evicts the credential on every auth failure and tells the
// consumer once per episode.
func (x *executor) authFailed(ctx context.Context, d Descriptor, err *Error) {
	x.tokens.Clear(ctx)
	if !x.authLatched.CompareAndSwap(false, true) {
		x.log.Debug("auth failure while latched", Fields{"op": d.Name, "code": err.Code})
		return
	}
	x.log.Warn("auth failure; session ended", Fields{"op": d.Name, "code": err.Code, "status": err.Status})
	x.hooks.AuthFailure(d.Name, err.Code)
	if x.onAuth != nil {
		x.onAuth(ctx, err)
	}
}

type nopTokens struct{}

func (nopTokens) Token(context.Context) (string, bool) { return "", false }
func (nopTokens) Clear(context.Context)                {}
