package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind 错误分类
type Kind string

const (
	KindMissingCredential Kind = "MissingCredential"
	KindInvalidInput      Kind = "EmptyOrInvalidInput"
	KindUpstreamRejected  Kind = "UpstreamRejected"
	KindMalformedResponse Kind = "MalformedUpstreamResponse"
	KindNetworkFailure    Kind = "NetworkFailure"
	KindTaskFailed        Kind = "TaskFailed"
)

// Error 服务商调用的统一错误，Error()即给用户看的提示
type Error struct {
	Kind       Kind
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf 取错误分类，非服务商错误返回空
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// StatusCodeOf 取上游HTTP状态码
func StatusCodeOf(err error) int {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	return 0
}

// IsQuotaExceeded 配额用尽：429或者上游信息里带quota
func IsQuotaExceeded(err error) bool {
	var pe *Error
	if !errors.As(err, &pe) || pe.Kind != KindUpstreamRejected {
		return false
	}
	if pe.StatusCode == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(pe.Message)
	return strings.Contains(msg, "quota") || strings.Contains(msg, "resource_exhausted")
}

// HTTPStatus 把错误映射成返回给调用方的状态码
func HTTPStatus(err error) int {
	var pe *Error
	if !errors.As(err, &pe) {
		return http.StatusInternalServerError
	}
	switch pe.Kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindMissingCredential:
		return http.StatusUnauthorized
	case KindUpstreamRejected:
		if pe.StatusCode >= 400 {
			return pe.StatusCode
		}
		return http.StatusBadGateway
	case KindMalformedResponse, KindNetworkFailure, KindTaskFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func MissingCredential(provider string) *Error {
	return &Error{
		Kind:     KindMissingCredential,
		Provider: provider,
		Message:  provider + " API key is required",
	}
}

func InvalidInput(provider, msg string) *Error {
	return &Error{Kind: KindInvalidInput, Provider: provider, Message: msg}
}

// InvalidRequest 把参数校验错误转成首字母大写的提示
func InvalidRequest(provider string, err error) *Error {
	msg := err.Error()
	if msg != "" {
		msg = strings.ToUpper(msg[:1]) + msg[1:]
	}
	return &Error{Kind: KindInvalidInput, Provider: provider, Message: msg, Err: err}
}

func Malformed(provider, msg string) *Error {
	return &Error{Kind: KindMalformedResponse, Provider: provider, Message: msg}
}

func NetworkFailure(provider string, err error) *Error {
	return &Error{
		Kind:     KindNetworkFailure,
		Provider: provider,
		Message:  fmt.Sprintf("%s request failed: %v", provider, err),
		Err:      err,
	}
}

func TaskFailed(provider, msg string) *Error {
	return &Error{Kind: KindTaskFailed, Provider: provider, Message: msg}
}

// Rejected 非2xx响应，优先使用上游返回的错误信息
func Rejected(provider string, status int, body []byte, fallback string) *Error {
	msg := upstreamMessage(body, fallback)
	if status == http.StatusTooManyRequests {
		msg = provider + " quota exceeded, please try again later"
	}
	return &Error{
		Kind:       KindUpstreamRejected,
		Provider:   provider,
		StatusCode: status,
		Message:    msg,
	}
}

// upstreamMessage 依次尝试 message / error / error.message / detail 字段
func upstreamMessage(body []byte, fallback string) string {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return fallback
	}
	if s := stringField(data, "message"); s != "" {
		return s
	}
	switch v := data["error"].(type) {
	case string:
		if strings.TrimSpace(v) != "" {
			return v
		}
	case map[string]any:
		if s := stringField(v, "message"); s != "" {
			return s
		}
	}
	if s := stringField(data, "detail"); s != "" {
		return s
	}
	return fallback
}

func stringField(m map[string]any, k string) string {
	if v, ok := m[k]; ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
