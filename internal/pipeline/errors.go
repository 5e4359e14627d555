package pipeline

import (
	"errors"

	"market-analyst-bot/internal/ai/llm"
	"market-analyst-bot/internal/marketdata"
	"market-analyst-bot/internal/quota"
)

// Code is the small stable set of user-facing error codes. Provider-level
// detail never reaches ordinary users; it is logged and, for privileged
// callers, attached as Detail.
type Code string

const (
	CodeQuotaExceeded         Code = "quota_exceeded"
	CodeMarketDataUnavailable Code = "market_data_unavailable"
	CodeGenerationUnavailable Code = "generation_unavailable"
	CodeInternal              Code = "internal"
)

// Error is the typed error returned across the caller-facing contract.
type Error struct {
	Code   Code
	Detail string // underlying message, privileged callers only
	err    error
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Detail }

func (e *Error) Unwrap() error { return e.err }

// UserMessage is what an ordinary user sees.
func (e *Error) UserMessage() string {
	switch e.Code {
	case CodeQuotaExceeded:
		return "You have reached your analysis limit. Please try again later or upgrade your plan."
	case CodeMarketDataUnavailable:
		return "Market data is temporarily unavailable for this symbol. Please try again in a minute."
	case CodeGenerationUnavailable:
		return "The analysis engine is temporarily unavailable. Please try again in a minute."
	default:
		return "Something went wrong. Please try again."
	}
}

// wrapError maps phase errors onto the stable code set.
func wrapError(err error) *Error {
	var code Code
	switch {
	case errors.Is(err, quota.ErrExceeded):
		code = CodeQuotaExceeded
	case errors.Is(err, marketdata.ErrUnavailable):
		code = CodeMarketDataUnavailable
	case errors.Is(err, llm.ErrUnavailable):
		code = CodeGenerationUnavailable
	default:
		code = CodeInternal
	}
	return &Error{Code: code, Detail: err.Error(), err: err}
}
