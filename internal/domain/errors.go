package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyClosed  = errors.New("trade already closed")
	ErrWSDisconnect   = errors.New("websocket disconnected")
	ErrBrokerRejected = errors.New("order rejected by broker")
	ErrPriceMoved     = errors.New("quoted price moved")
	ErrBotNotRunning  = errors.New("bot is not running")
	ErrMonitorFailure = errors.New("trade monitoring failed")
)

// RejectReason codes why the risk guard declined a candidate trade. A risk
// rejection is expected control flow, not a failure.
type RejectReason string

const (
	RejectSlotOccupied   RejectReason = "SLOT_OCCUPIED"
	RejectCooldownActive RejectReason = "COOLDOWN_ACTIVE"
	RejectDailyLossLimit RejectReason = "DAILY_LOSS_LIMIT"
	RejectFrequencyLimit RejectReason = "FREQUENCY_LIMIT"
)

// RiskRejectedError is returned by the risk guard when a candidate trade
// fails an approval check.
type RiskRejectedError struct {
	Reason RejectReason
	Detail string
}

func (e *RiskRejectedError) Error() string {
	if e.Detail == "" {
		return "risk rejected: " + string(e.Reason)
	}
	return "risk rejected: " + string(e.Reason) + ": " + e.Detail
}

// RejectionOf extracts the risk rejection from err, or nil when err is not a
// risk rejection.
func RejectionOf(err error) *RiskRejectedError {
	var rej *RiskRejectedError
	if errors.As(err, &rej) {
		return rej
	}
	return nil
}
