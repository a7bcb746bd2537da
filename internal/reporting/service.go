package reporting

import (
	"context"
	"errors"
	"time"

	"teleconsult/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
type Repository interface {
	ListCalls(ctx context.Context, from, to time.Time, receiverID string) ([]calls.Record, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, req.Range.From, req.Range.To, req.ReceiverID)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{ReceiverID: req.ReceiverID}
	var answered, finished int
	var lifetime time.Duration
	for _, c := range rows {
		out.TotalCalls++
		switch c.Status {
		case calls.StatusRinging:
			out.RingingCalls++
		case calls.StatusAccepted, calls.StatusConnecting:
			out.LiveCalls++
			answered++
		case calls.StatusEnded:
			out.EndedCalls++
			answered++
		case calls.StatusDeclined:
			out.DeclinedCalls++
		case calls.StatusUnanswered:
			out.UnansweredCalls++
		case calls.StatusCancelled:
			out.CancelledCalls++
		case calls.StatusFailed:
			out.FailedCalls++
			// failed calls were accepted first
			answered++
		}
		if c.Status.Terminal() && !c.UpdatedAt.IsZero() && c.UpdatedAt.After(c.CreatedAt) {
			finished++
			lifetime += c.UpdatedAt.Sub(c.CreatedAt)
		}
	}
	if d := answered + out.DeclinedCalls + out.UnansweredCalls; d > 0 {
		out.AnswerRate = float64(answered) / float64(d)
	}
	if finished > 0 {
		out.AverageLifetimeSeconds = int((lifetime / time.Duration(finished)).Seconds())
	}
	return out, nil
}
