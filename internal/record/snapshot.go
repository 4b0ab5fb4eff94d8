package record

import "time"

// Snapshot is the immutable terminal view of one request, with derived
// token-level latency metrics. It is safe to share across goroutines.
type Snapshot struct {
	ID      string `json:"id"`
	StageID int    `json:"stage_id"`
	Worker  int    `json:"worker"`

	SubmitTime     time.Time   `json:"submit_time"`
	FirstTokenTime time.Time   `json:"first_token_time,omitzero"`
	TokenArrivals  []time.Time `json:"token_arrival_times,omitempty"`
	CompletionTime time.Time   `json:"completion_time"`

	Status         Status `json:"status"`
	Error          string `json:"error,omitempty"`
	TimedOut       bool   `json:"timed_out,omitempty"`
	ConnectFailure bool   `json:"connect_failure,omitempty"`
	InputTokens    int    `json:"input_token_count"`
	OutputTokens   int    `json:"output_token_count"`

	// Derived metrics, zero when the inputs for them are missing.
	TTFT  time.Duration   `json:"ttft_ns"`
	E2E   time.Duration   `json:"e2e_ns"`
	TPOT  time.Duration   `json:"tpot_ns"`
	NTPOT time.Duration   `json:"ntpot_ns"`
	ITL   []time.Duration `json:"-"`
}

func (r *Recorder) snapshot() *Snapshot {
	rec := r.rec
	s := &Snapshot{
		ID:             rec.ID,
		StageID:        rec.StageID,
		Worker:         rec.Worker,
		SubmitTime:     rec.SubmitTime,
		FirstTokenTime: rec.FirstTokenTime,
		CompletionTime: rec.CompletionTime,
		Status:         rec.Status,
		Error:          rec.Error,
		TimedOut:       rec.TimedOut,
		ConnectFailure: rec.ConnectFailure,
		InputTokens:    rec.InputTokens,
		OutputTokens:   rec.OutputTokens,
	}
	if len(rec.TokenArrivals) > 0 {
		s.TokenArrivals = append([]time.Time(nil), rec.TokenArrivals...)
	}
	s.derive()
	return s
}

// derive computes TTFT, E2E, per-token intervals, TPOT and NTPOT from the raw
// timestamps. TPOT spreads decode time over output_tokens−1 steps (the first
// token is attributed to TTFT); NTPOT normalizes end-to-end latency by the
// full output token count.
func (s *Snapshot) derive() {
	if !s.CompletionTime.IsZero() {
		s.E2E = s.CompletionTime.Sub(s.SubmitTime)
	}
	if s.FirstTokenTime.IsZero() {
		return
	}
	s.TTFT = s.FirstTokenTime.Sub(s.SubmitTime)

	if len(s.TokenArrivals) > 1 {
		s.ITL = make([]time.Duration, 0, len(s.TokenArrivals)-1)
		for i := 1; i < len(s.TokenArrivals); i++ {
			s.ITL = append(s.ITL, s.TokenArrivals[i].Sub(s.TokenArrivals[i-1]))
		}
	}

	if s.CompletionTime.IsZero() {
		return
	}
	decode := s.CompletionTime.Sub(s.FirstTokenTime)
	steps := s.OutputTokens - 1
	if steps < 1 {
		steps = 1
	}
	s.TPOT = decode / time.Duration(steps)
	if s.OutputTokens > 0 {
		s.NTPOT = s.E2E / time.Duration(s.OutputTokens)
	}
}

// Succeeded reports whether the request completed normally.
func (s *Snapshot) Succeeded() bool { return s.Status == StatusCompleted }
