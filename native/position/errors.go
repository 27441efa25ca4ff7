package position

import (
	"errors"
	"fmt"

	nativecommon "lendkeeper/native/common"
)

var (
	ErrZeroAddress  = errors.New("position: zero address")
	ErrUnauthorized = errors.New("position: unauthorized caller")

	// ErrOperatorOnly and ErrOperatorOrUserOnly both match ErrUnauthorized
	// under errors.Is.
	ErrOperatorOnly             = fmt.Errorf("%w: operator only", ErrUnauthorized)
	ErrOperatorOrUserOnly       = fmt.Errorf("%w: operator or position user only", ErrUnauthorized)
	ErrPositionNotOpen          = errors.New("position: position not open")
	ErrPositionAlreadyOpen      = errors.New("position: position already open")
	ErrUnexpectedTransferAmount = errors.New("position: held balance does not match amount")
	ErrUnsafeHealthFactor       = errors.New("position: health factor out of bounds")
	ErrClosePositionDenied      = errors.New("position: close denied while debt remains")
	ErrRebalanceNotApplicable   = errors.New("position: rebalance not applicable")
	ErrAlreadyInitialized       = errors.New("position: already initialized")
	ErrNotInitialized           = errors.New("position: not initialized")
	ErrNotBorrowable            = errors.New("position: asset pair not borrowable")
	ErrInvalidAmount            = errors.New("position: invalid amount")
	ErrInvalidHealthFactors     = errors.New("position: invalid health factors")
	ErrUnknownAdapter           = errors.New("position: unknown adapter")
	ErrModulePaused             = nativecommon.ErrModulePaused
)
