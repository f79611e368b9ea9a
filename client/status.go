package client

// Status tracks whether traffic has flowed in each direction. The error
// variants record a failed bootstrap or delivery on top of that; the flag
// holds until the next successful send or receive.
type Status int

const (
	StatusSilent Status = iota
	StatusOnlySent
	StatusOnlyReceived
	StatusConnected
	StatusError
	StatusConnectedError
)

func (s Status) String() string {
	switch s {
	case StatusSilent:
		return "silent"
	case StatusOnlySent:
		return "only-sent"
	case StatusOnlyReceived:
		return "only-received"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	case StatusConnectedError:
		return "connected-error"
	default:
		return "unknown"
	}
}

func (s Status) Connected() bool {
	return s == StatusConnected || s == StatusConnectedError
}

func (s Status) sent() Status {
	switch s {
	case StatusSilent, StatusError:
		return StatusOnlySent
	case StatusOnlyReceived, StatusConnectedError:
		return StatusConnected
	}
	return s
}

func (s Status) received() Status {
	switch s {
	case StatusSilent, StatusError:
		return StatusOnlyReceived
	case StatusOnlySent, StatusConnectedError:
		return StatusConnected
	}
	return s
}

func (s Status) failed() Status {
	if s.Connected() {
		return StatusConnectedError
	}
	return StatusError
}
