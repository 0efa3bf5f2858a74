package resolver

import (
	"context"
	"strings"
	"sync"

	"verity/answer"
	"verity/apperr"
	"verity/claim"
)

// Template ids understood by Optimistic.
const (
	TemplateYesNo uint64 = iota
	TemplateNumeric
	TemplateFreeForm
)

type question struct {
	text string
	typ  answer.Type
}

// Optimistic is the built-in resolver: the creator supplies the question
// text, and whoever proposes supplies the answer, which then stands unless
// disputed.
type Optimistic struct {
	review bool

	mu        sync.RWMutex
	questions map[uint64]question
}

// OptimisticOption configures an Optimistic resolver.
type OptimisticOption func(*Optimistic)

// WithReview makes new claims start PENDING until the resolver's operator
// activates or rejects them.
func WithReview() OptimisticOption {
	return func(o *Optimistic) { o.review = true }
}

func NewOptimistic(opts ...OptimisticOption) *Optimistic {
	o := &Optimistic{questions: make(map[uint64]question)}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Optimistic) IsValidTemplate(templateID uint64) bool {
	return templateID <= TemplateFreeForm
}

func (o *Optimistic) AnswerTypeOf(templateID uint64) answer.Type {
	switch templateID {
	case TemplateYesNo:
		return answer.TypeBoolean
	case TemplateNumeric:
		return answer.TypeInteger
	case TemplateFreeForm:
		return answer.TypeBytes
	}
	return 0
}

func (o *Optimistic) OnCreated(_ context.Context, claimID, templateID uint64, payload []byte) (claim.State, error) {
	if !o.IsValidTemplate(templateID) {
		return claim.StateNone, apperr.With(apperr.ErrInvalidTemplate, "template %d", templateID)
	}
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return claim.StateNone, apperr.With(apperr.ErrInvalidPayload, "question text is required")
	}

	o.mu.Lock()
	o.questions[claimID] = question{text: text, typ: o.AnswerTypeOf(templateID)}
	o.mu.Unlock()

	if o.review {
		return claim.StatePending, nil
	}
	return claim.StateActive, nil
}

func (o *Optimistic) Resolve(_ context.Context, claimID uint64, _ string, payload []byte) (answer.Answer, error) {
	o.mu.RLock()
	q, ok := o.questions[claimID]
	o.mu.RUnlock()
	if !ok {
		return answer.Answer{}, apperr.With(apperr.ErrInvalidClaimID, "resolver has no question for claim %d", claimID)
	}
	a, err := answer.Decode(q.typ, payload)
	if err != nil {
		return answer.Answer{}, apperr.Wrap(apperr.ErrInvalidPayload, err)
	}
	return a, nil
}

func (o *Optimistic) QuestionText(_ context.Context, claimID uint64) (string, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	q, ok := o.questions[claimID]
	if !ok {
		return "", apperr.With(apperr.ErrInvalidClaimID, "resolver has no question for claim %d", claimID)
	}
	return q.text, nil
}
