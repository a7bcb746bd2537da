package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call outcomes.
// ReceiverID narrows the summary to one doctor.
type CallsSummaryRequest struct {
	Range      TimeRange `json:"range"`
	ReceiverID string    `json:"receiver_id,omitempty"`
}

type CallsSummary struct {
	ReceiverID string `json:"receiver_id,omitempty"`

	TotalCalls      int `json:"total_calls"`
	RingingCalls    int `json:"ringing_calls"`
	LiveCalls       int `json:"live_calls"`
	EndedCalls      int `json:"ended_calls"`
	DeclinedCalls   int `json:"declined_calls"`
	UnansweredCalls int `json:"unanswered_calls"`
	CancelledCalls  int `json:"cancelled_calls"`
	FailedCalls     int `json:"failed_calls"`

	// AnswerRate is answered / (answered + declined + unanswered).
	AnswerRate float64 `json:"answer_rate"`

	// AverageLifetimeSeconds spans creation to last write over finished calls.
	AverageLifetimeSeconds int `json:"average_lifetime_seconds"`
}
