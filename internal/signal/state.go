package signal

// AlertState is the durable record of the last fired alert for one job.
//
// EMAReset true means the job is armed: the next qualifying excursion fires.
// LastPrice is nil until the first alert has fired.
type AlertState struct {
	EMAReset   bool
	LastPrice  *float64
	LastRising bool
}

// DefaultState is the cold-start state used when nothing has been persisted.
func DefaultState() AlertState {
	return AlertState{EMAReset: true, LastRising: true}
}

// HasAnchor reports whether an alert has fired before.
func (s AlertState) HasAnchor() bool {
	return s.LastPrice != nil
}

// Equal compares two states by value.
func (s AlertState) Equal(o AlertState) bool {
	if s.EMAReset != o.EMAReset || s.LastRising != o.LastRising {
		return false
	}
	if s.LastPrice == nil || o.LastPrice == nil {
		return s.LastPrice == nil && o.LastPrice == nil
	}
	return *s.LastPrice == *o.LastPrice
}

// Direction renders LastRising for logs and messages.
func (s AlertState) Direction() string {
	return directionOf(s.LastRising)
}

func directionOf(rising bool) string {
	if rising {
		return "rising"
	}
	return "falling"
}
