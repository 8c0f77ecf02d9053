package engine

import (
	"errors"
	"fmt"
)

// Init result codes reported by the engine
const (
	InitOK              = 0
	InitFail            = -1
	InitNotSupported    = -2
	InitInvalidParam    = -3
	InitCurrentlyActive = -4
	InitModuleNotFound  = -5
)

// InitError describes a failed engine initialization
type InitError struct {
	Code       int
	ConfigPath string
	Err        error
}

func (e *InitError) Error() string {
	var msg string
	switch e.Code {
	case InitFail:
		msg = "failed to initialize engine (EFail): the engine core is already disposed or was not created, ensure the engine library path is correct"
	case InitNotSupported:
		msg = "failed to initialize engine (NotSupported): your video drivers may be out of date"
	case InitInvalidParam:
		msg = "failed to initialize engine (InvalidParam): incorrect parameters were sent during startup, this may be caused by an invalid config, you can try deleting it at: " + e.ConfigPath
	case InitCurrentlyActive:
		msg = "failed to initialize engine (CurrentlyActive): the engine is currently recording and video settings can not be changed"
	case InitModuleNotFound:
		msg = "failed to initialize engine (ModuleNotFound): a required engine module is missing, your video drivers may be out of date"
	default:
		msg = fmt.Sprintf("an unknown error was encountered while initializing the engine (code %d)", e.Code)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// ErrNotInitialized is returned by engine calls made before Init
var ErrNotInitialized = errors.New("engine is not initialized")

// ErrCategoryNotFound is returned by GetSettings for unknown categories
var ErrCategoryNotFound = errors.New("settings category not found")

// ErrUnknownProperty is returned by Source.Property for unknown names
var ErrUnknownProperty = errors.New("unknown property")
