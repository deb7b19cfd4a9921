package auth

// Events receives counters for the metrics layer.
type Events interface {
	LoginAttempt(result string)
	Lockout()
	CSRFFailure()
}

type NopEvents struct{}

func (NopEvents) LoginAttempt(string) {}
func (NopEvents) Lockout()            {}
func (NopEvents) CSRFFailure()        {}
