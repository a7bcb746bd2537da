// Package aiflow is the request/response boundary to the model-backed
// helper flows. Each flow is a single call; nothing is retried here.
package aiflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrDisabled     = errors.New("aiflow: no model configured")
	ErrInvalidInput = errors.New("aiflow: invalid input")
	ErrUpstream     = errors.New("aiflow: model request failed")
)

const maxInputLen = 8000

// listMarker matches a leading "1.", "2)", "-", "*" or bullet followed by space.
var listMarker = regexp.MustCompile(`^(?:\d{1,3}[.)]|[-*•])\s+`)

type Service struct {
	llm Completer
}

// NewService returns a service; a nil Completer makes every flow return ErrDisabled.
func NewService(llm Completer) *Service { return &Service{llm: llm} }

type SymptomCheckInput struct {
	Symptoms string `json:"symptoms"`
	Age      int    `json:"age,omitempty"`
	Sex      string `json:"sex,omitempty"`
}

type SymptomCheckOutput struct {
	Urgency        string   `json:"urgency"`
	PossibleCauses []string `json:"possibleCauses"`
	Advice         string   `json:"advice"`
	SeeDoctor      bool     `json:"seeDoctor"`
}

func (s *Service) SymptomCheck(ctx context.Context, in SymptomCheckInput) (SymptomCheckOutput, error) {
	if err := checkText(in.Symptoms); err != nil {
		return SymptomCheckOutput{}, err
	}
	user := "Symptoms: " + in.Symptoms
	if in.Age > 0 {
		user += fmt.Sprintf("\nAge: %d", in.Age)
	}
	if in.Sex != "" {
		user += "\nSex: " + in.Sex
	}

	var out SymptomCheckOutput
	if err := s.completeJSON(ctx, symptomCheckPrompt, user, &out); err != nil {
		return SymptomCheckOutput{}, err
	}
	switch out.Urgency {
	case "emergency", "urgent", "routine", "self_care":
	default:
		return SymptomCheckOutput{}, fmt.Errorf("%w: unexpected urgency %q", ErrUpstream, out.Urgency)
	}
	if out.Urgency == "emergency" || out.Urgency == "urgent" {
		out.SeeDoctor = true
	}
	return out, nil
}

type FirstAidInput struct {
	Instructions string `json:"instructions"`
}

type FirstAidOutput struct {
	Steps []string `json:"steps"`
}

func (s *Service) FirstAid(ctx context.Context, in FirstAidInput) (FirstAidOutput, error) {
	if err := checkText(in.Instructions); err != nil {
		return FirstAidOutput{}, err
	}
	text, err := s.complete(ctx, firstAidPrompt, in.Instructions)
	if err != nil {
		return FirstAidOutput{}, err
	}
	out := FirstAidOutput{Steps: make([]string, 0)}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(listMarker.ReplaceAllString(strings.TrimSpace(line), ""))
		if line != "" {
			out.Steps = append(out.Steps, line)
		}
	}
	if len(out.Steps) == 0 {
		return FirstAidOutput{}, fmt.Errorf("%w: empty answer", ErrUpstream)
	}
	return out, nil
}

type PrescriptionSummaryInput struct {
	Text string `json:"text"`
}

type Medicine struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
	Duration  string `json:"duration"`
}

type PrescriptionSummaryOutput struct {
	Medicines []Medicine `json:"medicines"`
	Notes     string     `json:"notes"`
}

func (s *Service) PrescriptionSummary(ctx context.Context, in PrescriptionSummaryInput) (PrescriptionSummaryOutput, error) {
	if err := checkText(in.Text); err != nil {
		return PrescriptionSummaryOutput{}, err
	}
	var out PrescriptionSummaryOutput
	if err := s.completeJSON(ctx, prescriptionPrompt, in.Text, &out); err != nil {
		return PrescriptionSummaryOutput{}, err
	}
	if out.Medicines == nil {
		out.Medicines = []Medicine{}
	}
	return out, nil
}

type TranslateInput struct {
	Text           string `json:"text"`
	TargetLanguage string `json:"targetLanguage"`
}

type TranslateOutput struct {
	Text string `json:"text"`
}

func (s *Service) Translate(ctx context.Context, in TranslateInput) (TranslateOutput, error) {
	if err := checkText(in.Text); err != nil {
		return TranslateOutput{}, err
	}
	lang := strings.TrimSpace(in.TargetLanguage)
	if lang == "" || len(lang) > 16 {
		return TranslateOutput{}, fmt.Errorf("%w: target language required", ErrInvalidInput)
	}
	text, err := s.complete(ctx, fmt.Sprintf(translatePrompt, lang), in.Text)
	if err != nil {
		return TranslateOutput{}, err
	}
	return TranslateOutput{Text: strings.TrimSpace(text)}, nil
}

func (s *Service) complete(ctx context.Context, system, user string) (string, error) {
	if s.llm == nil {
		return "", ErrDisabled
	}
	out, err := s.llm.Complete(ctx, system, user)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return out, nil
}

func (s *Service) completeJSON(ctx context.Context, system, user string, dst any) error {
	text, err := s.complete(ctx, system, user)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(stripFences(text)), dst); err != nil {
		return fmt.Errorf("%w: malformed answer: %v", ErrUpstream, err)
	}
	return nil
}

// stripFences removes a ```json ... ``` wrapper models like to add.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func checkText(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%w: text required", ErrInvalidInput)
	}
	if len(s) > maxInputLen {
		return fmt.Errorf("%w: text longer than %d bytes", ErrInvalidInput, maxInputLen)
	}
	return nil
}
