package apicache

import (
	"encoding/json"
	"net/http"
)

// Response is the success arm of the API envelope.
type Response struct {
	Data    json.RawMessage
	Message string
	Meta    json.RawMessage
	Status  int
}

type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Meta    json.RawMessage `json:"meta,omitempty"`
	Error   *envelopeError  `json:"error,omitempty"`
}

type envelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// authCodes are envelope codes that end the session regardless of status.
var authCodes = map[string]struct{}{
	"AUTHENTICATION_FAILED":   {},
	"AUTHENTICATION_REQUIRED": {},
	"TOKEN_EXPIRED":           {},
	"UNAUTHORIZED":            {},
}

// classify turns an HTTP answer into the tagged union the rest of the client
// works with: a Response, or an *Error of KindDomain or KindAuth.
func classify(status int, body []byte) (Response, error) {
	var env envelope
	isEnv := json.Unmarshal(body, &env) == nil && env.Success != nil

	var code, msg string
	if isEnv && env.Error != nil {
		code, msg = env.Error.Code, env.Error.Message
	}

	if _, ok := authCodes[code]; ok || status == http.StatusUnauthorized || status == http.StatusForbidden {
		if code == "" {
			code = "UNAUTHORIZED"
		}
		if msg == "" {
			msg = http.StatusText(status)
		}
		return Response{}, &Error{Kind: KindAuth, Code: code, Message: msg, Status: status}
	}

	ok2xx := status >= 200 && status < 300
	switch {
	case ok2xx && isEnv && *env.Success:
		return Response{Data: env.Data, Message: env.Message, Meta: env.Meta, Status: status}, nil
	case isEnv && code != "":
		if msg == "" {
			msg = msgUnexpected
		}
		return Response{}, &Error{Kind: KindDomain, Code: code, Message: msg, Status: status}
	default:
		return Response{}, &Error{Kind: KindDomain, Code: CodeUnexpected, Message: msgUnexpected, Status: status}
	}
}
