package stream

// Observer receives link lifecycle notifications.
type Observer interface {
	ObserveState(venue string, state State)
	ObserveReconnect(venue string)
	ObserveReject(venue string, reason string)
	ObserveEvents(venue string, n int)
}

type nopObserver struct{}

func (nopObserver) ObserveState(string, State) {}
func (nopObserver) ObserveReconnect(string) {}
func (nopObserver) ObserveReject(string, string) {}
func (nopObserver) ObserveEvents(string, int) {}
