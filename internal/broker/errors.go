package broker

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCredential is returned when no access token could be obtained. Not retried.
	ErrNoCredential = errors.New("no credential")
	// ErrTransient marks 5xx responses and transport failures. Retried with backoff.
	ErrTransient = errors.New("transient upstream failure")
	// ErrRejected marks application-level rejections (rt_cd != "0" or 4xx). Not retried.
	ErrRejected = errors.New("request rejected")
)

// Message codes the client reacts to.
const (
	codeTokenRateLimited = "EGW00133"
	codeTokenExpired     = "EGW00123"
)

// APIError is a rejection reported by the brokerage.
type APIError struct {
	Status  int
	Code    string // rt_cd
	MsgCode string // msg_cd / error_code
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kis rejected request: status %d, rt_cd %q, %s %s", e.Status, e.Code, e.MsgCode, e.Message)
}

func (e *APIError) Is(target error) bool { return target == ErrRejected }
