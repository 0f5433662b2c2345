package documents

import (
	"fmt"
	"time"

	"docseal/portal/portal-backend/pkg/workflows"
)

// WorkflowService answers lifecycle questions about a document using the
// shared status state machine.
type WorkflowService struct {
	sm *workflows.StateMachine
}

func NewWorkflowService() *WorkflowService {
	return &WorkflowService{sm: workflows.NewStateMachine()}
}

// CanSign returns nil when the document may move to signed at now.
func (s *WorkflowService) CanSign(doc *Document, now time.Time) error {
	current := doc.EffectiveStatus(now)
	if s.sm.CanTransition(string(current), string(StatusSigned)) {
		return nil
	}
	if current == StatusExpired {
		return fmt.Errorf("%w: document expired", ErrInvalidInput)
	}
	return ErrAlreadySigned
}

func (s *WorkflowService) GetNextStates(doc *Document, now time.Time) []DocumentStatus {
	next := s.sm.GetAllowedTransitions(string(doc.EffectiveStatus(now)))
	out := make([]DocumentStatus, 0, len(next))
	for _, n := range next {
		out = append(out, DocumentStatus(n))
	}
	return out
}

// DocumentView is a document as presented to its owner.
type DocumentView struct {
	*Document
	Status        DocumentStatus   `json:"status"`
	Protected     bool             `json:"protected"`
	NextStatuses  []DocumentStatus `json:"next_statuses"`
	Final         bool             `json:"final"`
	ValidationURL string           `json:"validation_url,omitempty"`
}

func (s *WorkflowService) Present(doc *Document, now time.Time, links Links) DocumentView {
	status := doc.EffectiveStatus(now)
	view := DocumentView{
		Document:     doc,
		Status:       status,
		Protected:    doc.IsProtected(),
		NextStatuses: s.GetNextStates(doc, now),
		Final:        s.sm.IsTerminal(string(status)),
	}
	if doc.Status == StatusSigned {
		view.ValidationURL = links.ValidationURL(doc.ID)
	}
	return view
}
