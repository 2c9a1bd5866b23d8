package presenter

import (
	"context"

	"blueberry-voice/output"
)

// PresenterAPI forwards output messages to a presentation layer, for
// example a kiosk display on the same device.
type PresenterAPI interface {
	Send(ctx context.Context, msg output.Message) error
}
