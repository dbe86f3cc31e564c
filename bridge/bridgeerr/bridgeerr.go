// Package bridgeerr holds the closed set of failure kinds the bridge pipeline reports, together
// with the user facing message for each kind and the classifier that maps raw submission and
// network failures onto them.
package bridgeerr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// Kind is one category of the bridge failure taxonomy.
type Kind string

const (
	UnsupportedRoute            Kind = "UnsupportedRoute"
	InvalidAmount               Kind = "InvalidAmount"
	MalformedPayload            Kind = "MalformedPayload"
	InvalidReceiverLength       Kind = "InvalidReceiverLength"
	ResourcePreconditionFailure Kind = "ResourcePreconditionFailure"
	InsufficientBalance         Kind = "InsufficientBalance"
	TransactionExpired          Kind = "TransactionExpired"
	InvalidSignature            Kind = "InvalidSignature"
	SlippageExceeded            Kind = "SlippageExceeded"
	RateLimited                 Kind = "RateLimited"
	Unauthorized                Kind = "Unauthorized"
	NetworkError                Kind = "NetworkError"
	Unknown                     Kind = "Unknown"
)

// Kinds lists every kind in taxonomy order.
var Kinds = []Kind{
	UnsupportedRoute,
	InvalidAmount,
	MalformedPayload,
	InvalidReceiverLength,
	ResourcePreconditionFailure,
	InsufficientBalance,
	TransactionExpired,
	InvalidSignature,
	SlippageExceeded,
	RateLimited,
	Unauthorized,
	NetworkError,
	Unknown,
}

var fixedMessages = map[Kind]string{
	ResourcePreconditionFailure: "Your account could not be prepared to hold this token. Please try again later.",
	InsufficientBalance:         "Insufficient balance to complete the bridge, including gas fees.",
	TransactionExpired:          "The transaction expired before it was processed. Please request a new quote.",
	InvalidSignature:            "The transaction signature was rejected by the network.",
	SlippageExceeded:            "The price moved beyond the allowed slippage. Please request a new quote.",
	RateLimited:                 "Too many requests. Please wait a moment and try again.",
	Unauthorized:                "The request was not authorized by the upstream service.",
	NetworkError:                "A network error occurred while contacting the blockchain. Please try again.",
}

// Retryable reports whether a caller may retry the whole operation with fresh inputs and
// reasonably expect a different outcome.
func (k Kind) Retryable() bool {
	switch k {
	case RateLimited, NetworkError, TransactionExpired, SlippageExceeded:
		return true
	}
	return false
}

// Error is a classified bridge failure. Reason is safe to show for validation and decode kinds;
// Err keeps the underlying cause for logs.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage returns the text to show to an end user. Validation and decode failures are shown
// verbatim, submission failures get a fixed message, and only Unknown falls back to the raw text.
func (e *Error) UserMessage() string {
	if msg, ok := fixedMessages[e.Kind]; ok {
		return msg
	}
	switch e.Kind {
	case UnsupportedRoute, InvalidAmount, MalformedPayload, InvalidReceiverLength:
		if e.Reason != "" {
			return e.Reason
		}
	}
	raw := e.Reason
	if e.Err != nil {
		raw = e.Err.Error()
	}
	if raw == "" {
		return "The bridge operation failed."
	}
	return "The bridge operation failed: " + raw
}

// New returns an Error of kind with a reason.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Newf is New with a formatted reason.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap returns an Error of kind that keeps err as its cause.
func Wrap(kind Kind, err error, reason string) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, Unknown when there is none and
// the empty kind for a nil error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// statusCoder is implemented by upstream HTTP errors that expose their status code.
type statusCoder interface {
	HTTPStatus() int
}

type pattern struct {
	kind    Kind
	needles []string
}

// patterns are checked in order against the lower cased error text; the first match wins.
var patterns = []pattern{
	{InsufficientBalance, []string{"insufficient_balance", "insufficient balance", "insufficient funds", "einsufficient_balance"}},
	{SlippageExceeded, []string{"slippage", "eslippage", "amount_out_min", "min_amount"}},
	{TransactionExpired, []string{"transaction_expired", "expired", "sequence_number_too_old", "sequence_number_too_new"}},
	{InvalidSignature, []string{"invalid_signature", "invalid signature", "invalid_auth_key", "signature verification"}},
	{RateLimited, []string{"rate limit", "rate_limit", "too many requests"}},
	{Unauthorized, []string{"unauthorized", "forbidden", "permission denied"}},
	{NetworkError, []string{"timeout", "timed out", "connection refused", "connection reset", "no such host", "network", "unexpected eof"}},
}

// classifyText maps free form failure text to a kind.
func classifyText(text string) Kind {
	lower := strings.ToLower(text)
	for _, p := range patterns {
		for _, n := range p.needles {
			if strings.Contains(lower, n) {
				return p.kind
			}
		}
	}
	return Unknown
}

// ClassifyVMStatus maps an on-chain vm_status string to a kind. Success statuses map to the
// empty kind.
func ClassifyVMStatus(vmStatus string) Kind {
	s := strings.TrimSpace(vmStatus)
	if s == "" || strings.EqualFold(s, "Executed successfully") {
		return ""
	}
	return classifyText(s)
}

// Classify maps a submission stage failure into the taxonomy. Errors that already carry a kind
// are returned unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return be
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		switch sc.HTTPStatus() {
		case http.StatusTooManyRequests:
			return Wrap(RateLimited, err, "")
		case http.StatusUnauthorized, http.StatusForbidden:
			return Wrap(Unauthorized, err, "")
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Wrap(NetworkError, err, "")
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return Wrap(NetworkError, err, "")
	}

	return Wrap(classifyText(err.Error()), err, "")
}
