package simulation

import (
	"errors"
	"fmt"

	"github.com/anicoll/house-power-simulator/internal/pkg/fuse"
	"github.com/anicoll/house-power-simulator/internal/pkg/house"
)

var (
	ErrFuseTripped   = errors.New("fuse is tripped")
	ErrUnknownDevice = house.ErrUnknownDevice
	ErrNotResettable = fuse.ErrNotResettable
	ErrOverload      = errors.New("overload")
)

// OverloadError rejects a toggle that would push the house past the threshold.
type OverloadError struct {
	Threshold int
}

func (e *OverloadError) Error() string {
	return fmt.Sprintf("would exceed %dW limit", e.Threshold)
}

func (e *OverloadError) Is(target error) bool {
	return target == ErrOverload
}

// RejectionMessage renders a command error as the text shown to users.
func RejectionMessage(err error) string {
	var overload *OverloadError
	switch {
	case errors.As(err, &overload):
		return fmt.Sprintf("Cannot turn on device. Would exceed %dW limit.", overload.Threshold)
	case errors.Is(err, ErrFuseTripped):
		return "Cannot toggle devices while fuse is tripped."
	case errors.Is(err, ErrNotResettable):
		return fuse.MessageNotResettable
	default:
		return err.Error()
	}
}
