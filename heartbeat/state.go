package heartbeat

// State is the per-endpoint heartbeat record. Latency and RTT are in
// milliseconds. Timer is set only while the next probe is scheduled.
type State struct {
	Latency int64
	RTT     int64
	Config  Config

	timer Timer
}

// NewState returns a zeroed state carrying cfg.
func NewState(cfg Config) *State {
	return &State{Config: cfg}
}

// ComputeRTT stores delta as the round trip time. A negative delta, which
// only a wall clock stepping backwards can produce, is stored as zero.
func (s *State) ComputeRTT(delta int64) *State {
	if delta < 0 {
		delta = 0
	}
	s.RTT = delta
	return s
}

// ComputeLatency derives Latency from RTT. There is no smoothing: the
// latency reported is the last round trip.
func (s *State) ComputeLatency() *State {
	s.Latency = s.RTT
	return s
}

// Reset zeroes the measurements, cancels the timer and restores cfg.
func (s *State) Reset(cfg Config) {
	s.stopTimer()
	s.Latency = 0
	s.RTT = 0
	s.Config = cfg
}

// TimerArmed reports whether a probe is scheduled.
func (s *State) TimerArmed() bool {
	return s.timer != nil
}

func (s *State) replaceTimer(t Timer) {
	s.stopTimer()
	s.timer = t
}

func (s *State) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
