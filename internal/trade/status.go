package trade

// Trade statuses. closed and cancelled are terminal.
const (
	StatusPendingFill = "pending_fill"
	StatusFilled      = "filled"
	StatusClosed      = "closed"
	StatusCancelled   = "cancelled"
)

// Sides.
const (
	SideLong  = "LONG"
	SideShort = "SHORT"
)

// Exit reasons written by the simulator and monitor.
const (
	ReasonStopHit         = "sl_hit"
	ReasonTargetHit       = "tp_hit"
	ReasonMaxBarsExceeded = "max_bars_exceeded"
	ReasonManual          = "manual"
)

// CanTransition reports whether moving from one status to another is legal.
// pending_fill may fill or cancel; filled may close or cancel; terminal
// states accept nothing.
func CanTransition(from, to string) bool {
	switch from {
	case StatusPendingFill:
		return to == StatusFilled || to == StatusCancelled
	case StatusFilled:
		return to == StatusClosed || to == StatusCancelled
	default:
		return false
	}
}
