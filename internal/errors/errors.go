// Package errors provides the closed error taxonomy for the trade collector.
// Every failure that leaves a component is classified exactly once at its
// source into one of the Kind values below, so callers can tell "the network is
// down" apart from "the exchange rejected this pair" without string matching.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind is the classification of an error.
type Kind string

const (
	// KindTransport covers connection, DNS, timeout and body read failures.
	KindTransport Kind = "transport"
	// KindDecode covers malformed JSON, unexpected envelope shapes and
	// ambiguous or missing pagination data.
	KindDecode Kind = "decode"
	// KindExchange means the exchange reported errors in its envelope.
	KindExchange Kind = "exchange"
	// KindParse means a trade field failed numeric parsing.
	KindParse Kind = "parse"
	// KindStorage covers sink failures.
	KindStorage Kind = "storage"
	// KindConfig covers invalid configuration.
	KindConfig Kind = "config"

	// KindUnknown is returned by KindOf for errors that were never classified.
	KindUnknown Kind = "unknown"
)

// Error is a classified error carrying the failing operation and, for
// exchange errors, the messages the exchange returned.
type Error struct {
	Kind     Kind
	Op       string
	Messages []string
	Err      error
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(" error in ")
		b.WriteString(e.Op)
	} else {
		b.WriteString(" error")
	}
	if len(e.Messages) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Messages, "; "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. A target with an
// empty Kind matches any classified error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == "" || t.Kind == e.Kind
}

// Transport classifies a failure to reach the API.
func Transport(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// Decode classifies a malformed response.
func Decode(op string, err error) *Error {
	return &Error{Kind: KindDecode, Op: op, Err: err}
}

// Decodef classifies a malformed response described by a format string.
func Decodef(op, format string, args ...any) *Error {
	return &Error{Kind: KindDecode, Op: op, Err: fmt.Errorf(format, args...)}
}

// Exchange classifies a non-empty error list returned by the exchange.
func Exchange(op string, messages []string) *Error {
	msgs := make([]string, len(messages))
	copy(msgs, messages)
	return &Error{Kind: KindExchange, Op: op, Messages: msgs}
}

// Parse classifies a failure to parse a trade field.
func Parse(op, field string, err error) *Error {
	return &Error{Kind: KindParse, Op: op, Err: fmt.Errorf("field %s: %w", field, err)}
}

// Storage classifies a sink failure.
func Storage(op string, err error) *Error {
	return &Error{Kind: KindStorage, Op: op, Err: err}
}

// Config classifies invalid configuration.
func Config(op string, err error) *Error {
	return &Error{Kind: KindConfig, Op: op, Err: err}
}

// KindOf extracts the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err's chain contains a classified error of kind k.
func IsKind(err error, k Kind) bool {
	return errors.Is(err, &Error{Kind: k})
}

// ExchangeMessages returns the messages of an exchange error, or nil.
func ExchangeMessages(err error) []string {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindExchange {
		return e.Messages
	}
	return nil
}

// IsRetryable reports whether err is worth retrying. Only transport failures
// qualify; the caller's own cancellation never does.
func IsRetryable(err error) bool {
	if err == nil || !IsKind(err, KindTransport) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}
