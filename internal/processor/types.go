package processor

import (
	"errors"
	"fmt"
)

// Remote transaction statuses as reported by the processor.
const (
	StatusPending = "pending"
	StatusPosted  = "posted"
	StatusVoid    = "void"
)

// Top-up statuses.
const (
	TopUpPending   = "pending"
	TopUpSucceeded = "succeeded"
	TopUpFailed    = "failed"
)

// RemoteTransaction is a bank transaction observed through the processor's
// financial-connections feed. Amount is in minor units.
type RemoteTransaction struct {
	ID           string `json:"id"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Description  string `json:"description"`
	Status       string `json:"status"`
	TransactedAt int64  `json:"transacted_at"`
}

type TransactionList struct {
	Data    []RemoteTransaction `json:"data"`
	HasMore bool                `json:"has_more"`
}

type TopUpParams struct {
	Amount      int64
	Currency    string
	Description string
	Metadata    map[string]string
}

type TopUp struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	FailureMessage string `json:"failure_message"`
}

type Account struct {
	ID string `json:"id"`
}

type AccountList struct {
	Data []Account `json:"data"`
}

// Session is a financial-connections session used for bank account onboarding.
type Session struct {
	ID           string      `json:"id"`
	ClientSecret string      `json:"client_secret"`
	Accounts     AccountList `json:"accounts"`
}

type Source struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// APIError is a structured error payload returned by the processor.
type APIError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("processor error (%s/%s): %s", e.Type, e.Code, e.Message)
}

type apiErrorResponse struct {
	Error APIError `json:"error"`
}

// TransportError marks network-level failures talking to the processor,
// as opposed to structured rejections.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "processor unreachable: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is a network-level failure rather than a
// processor-reported rejection.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
