package domain

import (
	"errors"
	"fmt"
)

var (
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrRemoteUnavailable    = fmt.Errorf("%w: remote document store", ErrTransportUnavailable)
	ErrConnectionLost       = fmt.Errorf("%w: connection lost", ErrTransportUnavailable)

	ErrMalformedRemoteData = errors.New("malformed remote data")
	ErrMalformedDocument   = fmt.Errorf("%w: malformed document", ErrMalformedRemoteData)
	ErrDocumentNotFound    = fmt.Errorf("%w: document not found", ErrMalformedRemoteData)

	ErrPathNotFound = errors.New("path not found")

	ErrUnknownTarget      = errors.New("unknown target")
	ErrApplianceNotFound  = fmt.Errorf("%w: appliance not found", ErrUnknownTarget)
	ErrDuplicateAppliance = errors.New("duplicate appliance id")

	ErrStorageFull       = errors.New("storage full")
	ErrInsufficientSpace = fmt.Errorf("%w: insufficient space", ErrStorageFull)

	ErrCorruptImage = errors.New("corrupt image")
	ErrShortRead    = fmt.Errorf("%w: short read", ErrCorruptImage)

	ErrHardFault = errors.New("hard fault: no persisted network credentials")
)
