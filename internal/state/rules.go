package state

// Rules are the resource constants applied during replay and when building
// new events.
type Rules struct {
	// InitialCapacity and InitialAvailable seed the soil ledger.
	InitialCapacity  float64
	InitialAvailable float64

	// ProgressRecovery is credited per progress event.
	ProgressRecovery float64
	// ReflectionRecovery is credited per reflection.
	ReflectionRecovery float64

	// DailyWater is how many progress events fit in one reset window.
	DailyWater int
	// WaterResetHour is the local hour (0-23) at which the window rolls over.
	WaterResetHour int

	// AbandonRefundFraction of the original cost is returned on abandon.
	// Only event builders read it; replay applies the stored refund.
	AbandonRefundFraction float64
	// MaxCapacity bounds the reward formula. Replay never reads it.
	MaxCapacity float64
}

// DefaultRules returns the stock constants.
func DefaultRules() Rules {
	return Rules{
		InitialCapacity:       10,
		InitialAvailable:      10,
		ProgressRecovery:      0.05,
		ReflectionRecovery:    0.35,
		DailyWater:            3,
		WaterResetHour:        6,
		AbandonRefundFraction: 0.25,
		MaxCapacity:           120,
	}
}
