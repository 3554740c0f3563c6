// Package validate checks trigger parameters before a trigger is registered
// and probes the target server.
package validate

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/maxpert/redisfeed/feed"
)

const (
	paramURL        = "url"
	paramSubscribe  = "subscribe"
	paramPSubscribe = "psubscribe"
	paramStream     = "stream"
	paramCert       = "cert"
	paramCertFormat = "cert_format"
)

const (
	CertFormatUTF8   = "utf-8"
	CertFormatBase64 = "base64"
)

// Error is returned for invalid parameters and failed probes
type Error struct {
	Msg string
}

func (e *Error) Error() string {
	return "redis trigger feed: " + e.Msg
}

func invalid(format string, args ...interface{}) *Error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}

// Prober checks that the server behind details is reachable
type Prober interface {
	Probe(ctx context.Context, details feed.Details) error
}

// Params are the raw trigger parameters. Presence of a key matters, not its value.
type Params map[string]string

// Validate turns params into subscription details. The url must be present,
// exactly one of subscribe, psubscribe and stream must be present, and an
// optional cert is decoded according to cert_format (utf-8 or base64).
// The target server is then probed.
func Validate(ctx context.Context, params Params, prober Prober) (feed.Details, error) {
	url, ok := params[paramURL]
	if !ok {
		return feed.Details{}, invalid("missing url parameter")
	}
	details := feed.Details{URL: url}

	var present []string
	for _, name := range []string{paramStream, paramSubscribe, paramPSubscribe} {
		if _, ok := params[name]; ok {
			present = append(present, name)
		}
	}
	switch {
	case len(present) < 1:
		return feed.Details{}, invalid("missing subscribe, psubscribe or stream parameter")
	case len(present) > 1:
		return feed.Details{}, invalid("cannot have more than one of subscribe, psubscribe and stream parameters")
	}

	target := params[present[0]]
	if target == "" {
		return feed.Details{}, invalid("%s parameter cannot be empty", present[0])
	}
	switch present[0] {
	case paramStream:
		details.Stream = target
	case paramSubscribe:
		details.Subscribe = target
	case paramPSubscribe:
		// Redis accepts any non-empty pattern
		details.PSubscribe = target
	}

	if cert, ok := params[paramCert]; ok {
		format := params[paramCertFormat]
		if format == "" {
			format = CertFormatUTF8
		}
		decoded, err := decodeCert(cert, format)
		if err != nil {
			return feed.Details{}, err
		}
		details.Cert = decoded
	}

	if prober != nil {
		if err := prober.Probe(ctx, details); err != nil {
			return feed.Details{}, probeError(err)
		}
	}

	return details, nil
}

func decodeCert(cert, format string) (string, error) {
	switch format {
	case CertFormatUTF8:
		return cert, nil
	case CertFormatBase64:
		raw, err := base64.StdEncoding.DecodeString(cert)
		if err != nil {
			return "", invalid("cert parameter is not valid base64")
		}
		return string(raw), nil
	default:
		return "", invalid("cert_format parameter must be utf-8 or base64")
	}
}

// CodedError is implemented by probe errors that carry a server or errno code
type CodedError interface {
	error
	Code() string
	Message() string
}

func probeError(err error) *Error {
	code, msg := "unknown", err.Error()

	var c CodedError
	if errors.As(err, &c) {
		code, msg = c.Code(), c.Message()
	}
	if code == "" {
		code = "unknown"
	}
	if msg == "" {
		msg = "unknown"
	}

	return invalid("client error => (code: %s, message: %s)", code, msg)
}
