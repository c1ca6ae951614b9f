package runtime

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ResourceNotFoundError reports that an endpoint's target row is absent or
// excluded by its authorize predicate. Both cases are externally identical
// so authorization failures do not leak row existence.
type ResourceNotFoundError struct {
	Model string
}

func (e *ResourceNotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Model)
}

// ForbiddenError reports that the target row exists but the authorize
// predicate rejected it for an authenticated principal.
type ForbiddenError struct {
	Model string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("access to %s is forbidden", e.Model)
}

// UnauthenticatedError reports that the endpoint requires a principal and
// none was supplied.
type UnauthenticatedError struct{}

func (e *UnauthenticatedError) Error() string {
	return "authentication required"
}

// ValidationError carries per-field validation messages. All fieldset
// failures for one request are reported together, not one at a time.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s: %s", name, e.Fields[name])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HookError wraps a failure raised by an external hook. The cause is never
// swallowed; Unwrap exposes it.
type HookError struct {
	Code string
	Err  error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("hook %q failed: %v", e.Code, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// BusinessError is an explicit, code-carrying failure, typically raised by
// hooks or respond pipelines.
type BusinessError struct {
	Code    string
	Message string
	Data    any
}

func (e *BusinessError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// wrapHookError turns a hook failure into a HookError carrying the hook
// code. An explicit BusinessError raised by the hook passes through
// untouched so its code and data reach the caller.
func wrapHookError(code string, err error) error {
	var be *BusinessError
	if errors.As(err, &be) {
		return be
	}
	return &HookError{Code: code, Err: err}
}

// IsNotFound reports whether err is (or wraps) a ResourceNotFoundError.
func IsNotFound(err error) bool {
	var e *ResourceNotFoundError
	return errors.As(err, &e)
}

// IsForbidden reports whether err is (or wraps) a ForbiddenError.
func IsForbidden(err error) bool {
	var e *ForbiddenError
	return errors.As(err, &e)
}

// IsUnauthenticated reports whether err is (or wraps) an UnauthenticatedError.
func IsUnauthenticated(err error) bool {
	var e *UnauthenticatedError
	return errors.As(err, &e)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsHookError reports whether err is (or wraps) a HookError.
func IsHookError(err error) bool {
	var e *HookError
	return errors.As(err, &e)
}

// IsBusiness reports whether err is (or wraps) a BusinessError.
func IsBusiness(err error) bool {
	var e *BusinessError
	return errors.As(err, &e)
}
