package settings

import (
	"errors"
	"fmt"
)

// ErrorKind classifies settings failures
type ErrorKind string

const (
	CategoryNotFound         ErrorKind = "CategoryNotFound"
	SubCategoryNotFound      ErrorKind = "SubCategoryNotFound"
	ParameterNotFound        ErrorKind = "ParameterNotFound"
	InvalidSettingValue      ErrorKind = "InvalidSettingValue"
	UnsupportedParameterType ErrorKind = "UnsupportedParameterType"
)

// Error is returned for every rejected settings lookup or write
type Error struct {
	Kind        ErrorKind
	Category    string
	SubCategory string
	Parameter   string
	Message     string
}

func (e *Error) Error() string {
	path := e.Category
	if e.SubCategory != "" {
		path += "/" + e.SubCategory
	}
	if e.Parameter != "" {
		path += "/" + e.Parameter
	}
	if e.Message != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, path, e.Message)
	}
	return fmt.Sprintf("%s (%s)", e.Kind, path)
}

// Is matches errors of the same kind so callers can compare against the
// sentinel values below.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is
var (
	ErrCategoryNotFound    = &Error{Kind: CategoryNotFound}
	ErrSubCategoryNotFound = &Error{Kind: SubCategoryNotFound}
	ErrParameterNotFound   = &Error{Kind: ParameterNotFound}
	ErrInvalidSettingValue = &Error{Kind: InvalidSettingValue}
	ErrUnsupportedType     = &Error{Kind: UnsupportedParameterType}
)

// IsSettingsError reports whether err is any settings error
func IsSettingsError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
