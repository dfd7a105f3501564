package relay

import "errors"

// Kind classifies request-level relay failures.
type Kind string

const (
	KindUnauthorized       Kind = "unauthorized"
	KindForwardingDisabled Kind = "forwarding_disabled"
	KindEmptyMessage       Kind = "empty_message"
	KindNoDestinations     Kind = "no_destinations"
	KindAllFailed          Kind = "all_destinations_failed"
	KindUnexpected         Kind = "unexpected"
)

// Error is returned by Engine for every request-level failure. Msg is the
// caller-facing text; Err (optional) carries the cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Msg == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrAllFailed)
// holds even when the returned value carries a cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrUnauthorized       = &Error{Kind: KindUnauthorized, Msg: "未授权访问"}
	ErrForwardingDisabled = &Error{Kind: KindForwardingDisabled, Msg: "消息转发功能已禁用"}
	ErrEmptyMessage       = &Error{Kind: KindEmptyMessage, Msg: "消息内容不能为空"}
	ErrNoDestinations     = &Error{Kind: KindNoDestinations, Msg: "未配置目标群号"}
	ErrAllFailed          = &Error{Kind: KindAllFailed, Msg: "所有群发送失败"}
)

// Unexpected wraps an infrastructure failure (bad body, panic) so it maps to
// a 500 with the cause text surfaced.
func Unexpected(err error) *Error {
	if err == nil {
		err = errors.New("unexpected error")
	}
	return &Error{Kind: KindUnexpected, Err: err}
}

// KindOf classifies err. Errors not produced by this package are
// KindUnexpected.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}

// Message returns the caller-facing text for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Msg != "" {
			return e.Msg
		}
		if e.Err != nil {
			return e.Err.Error()
		}
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
