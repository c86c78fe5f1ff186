package service

import (
	"errors"
	"strings"

	"github.com/noah-isme/archivia-api/internal/models"
)

// ErrInvalidTransition is returned when an event does not apply to the
// document's current state.
var ErrInvalidTransition = errors.New("transition not allowed from current state")

type lifecycleRule struct {
	guard        func(models.DocumentState) bool
	next         func(models.DocumentState) models.DocumentState
	needsReason  bool
	archiveNote  reasonEffect
	deletionNote reasonEffect
	terminal     bool
}

type reasonEffect int

const (
	reasonKeep reasonEffect = iota
	reasonSet
	reasonClear
)

var lifecycle = map[models.DocumentEvent]lifecycleRule{
	models.EventApprove: {
		guard: func(s models.DocumentState) bool { return s.Status == models.DocumentPending },
		next:  func(s models.DocumentState) models.DocumentState { s.Status = models.DocumentApproved; return s },
	},
	models.EventReject: {
		guard: func(s models.DocumentState) bool { return s.Status == models.DocumentPending },
		next:  func(s models.DocumentState) models.DocumentState { s.Status = models.DocumentRejected; return s },
	},
	models.EventRequestArchive: {
		guard: func(s models.DocumentState) bool {
			return s.Status == models.DocumentApproved && !s.IsArchived && !s.ArchiveRequested
		},
		next:        func(s models.DocumentState) models.DocumentState { s.ArchiveRequested = true; return s },
		needsReason: true,
		archiveNote: reasonSet,
	},
	models.EventArchive: {
		guard: func(s models.DocumentState) bool { return s.Status == models.DocumentApproved && !s.IsArchived },
		next: func(s models.DocumentState) models.DocumentState {
			s.IsArchived = true
			s.ArchiveRequested = false
			return s
		},
		needsReason: true,
		archiveNote: reasonSet,
	},
	models.EventApproveArchive: {
		guard: func(s models.DocumentState) bool { return s.ArchiveRequested && !s.IsArchived },
		next: func(s models.DocumentState) models.DocumentState {
			s.IsArchived = true
			s.ArchiveRequested = false
			return s
		},
	},
	models.EventRejectArchive: {
		guard:       func(s models.DocumentState) bool { return s.ArchiveRequested },
		next:        func(s models.DocumentState) models.DocumentState { s.ArchiveRequested = false; return s },
		archiveNote: reasonClear,
	},
	models.EventRestore: {
		guard:       func(s models.DocumentState) bool { return s.IsArchived },
		next:        func(s models.DocumentState) models.DocumentState { s.IsArchived = false; return s },
		archiveNote: reasonClear,
	},
	models.EventRequestDeletion: {
		guard:        func(s models.DocumentState) bool { return !s.DeletionRequested },
		next:         func(s models.DocumentState) models.DocumentState { s.DeletionRequested = true; return s },
		needsReason:  true,
		deletionNote: reasonSet,
	},
	models.EventRejectDeletion: {
		guard:        func(s models.DocumentState) bool { return s.DeletionRequested },
		next:         func(s models.DocumentState) models.DocumentState { s.DeletionRequested = false; return s },
		deletionNote: reasonClear,
	},
	models.EventApproveDeletion: {
		guard:    func(s models.DocumentState) bool { return s.DeletionRequested },
		terminal: true,
	},
	models.EventDelete: {
		guard:    func(models.DocumentState) bool { return true },
		terminal: true,
	},
}

// PlanTransition evaluates event against doc and returns the guarded update
// to persist. Terminal events (deletions) return a nil transition.
func PlanTransition(doc *models.Document, event models.DocumentEvent, reason string) (*models.DocumentTransition, error) {
	rule, ok := lifecycle[event]
	if !ok {
		return nil, ErrInvalidTransition
	}
	from := doc.State()
	if !rule.guard(from) {
		return nil, ErrInvalidTransition
	}
	reason = strings.TrimSpace(reason)
	if rule.needsReason && reason == "" {
		return nil, errReasonRequired
	}
	if rule.terminal {
		return nil, nil
	}

	t := &models.DocumentTransition{
		DocumentID:     doc.ID,
		From:           from,
		To:             rule.next(from),
		ArchiveReason:  applyReason(doc.ArchiveReason, rule.archiveNote, reason),
		DeletionReason: applyReason(doc.DeletionReason, rule.deletionNote, reason),
	}
	return t, nil
}

var errReasonRequired = errors.New("a reason is required")

func applyReason(current *string, effect reasonEffect, reason string) *string {
	switch effect {
	case reasonSet:
		return &reason
	case reasonClear:
		return nil
	}
	return current
}
