package service

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/avkdev/lingsync/internal/api"
	"github.com/avkdev/lingsync/internal/errs"
	"github.com/avkdev/lingsync/internal/model"
	"github.com/avkdev/lingsync/internal/repository"
)

// SyncService validates sync envelopes and applies them atomically.
type SyncService interface {
	// Apply reconciles one envelope against durable storage and returns the
	// authoritative result.
	Apply(ctx context.Context, userID uuid.UUID, req *api.SyncRequest) (*api.SyncResponse, error)
}

type SyncServiceImpl struct {
	vocab    repository.VocabularyRepository
	maxBatch int
}

// NewSyncService constructs SyncService with batch limits.
func NewSyncService(vocab repository.VocabularyRepository, maxBatch int) *SyncServiceImpl {
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	return &SyncServiceImpl{vocab: vocab, maxBatch: maxBatch}
}

// Apply validates the envelope and delegates the transactional apply to the
// repository. Validation rules:
//   - at least one of user_progress / vocabulary_changes present
//   - non-empty inserts require current_user_languages_id
//   - mastery_level within [0, 6], energy/coins non-negative
//   - total operation count within the batch limit
func (s *SyncServiceImpl) Apply(ctx context.Context, userID uuid.UUID, req *api.SyncRequest) (*api.SyncResponse, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("empty userID: %w", errs.ErrValidation)
	}
	in, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	out, err := s.vocab.ApplySync(ctx, userID, in)
	if err != nil {
		return nil, err
	}

	resp := &api.SyncResponse{Message: "sync completed"}
	if out.Progress != nil {
		resp.Results.UserProgress = &api.ProgressState{
			Energy: out.Progress.Energy,
			Coins:  out.Progress.Coins,
		}
	}
	if len(in.Deletes) > 0 || len(in.Updates) > 0 || len(in.Inserts) > 0 {
		resp.Results.VocabularyChanges = &api.VocabularyResults{
			Deletes: int(out.Deleted),
			Updates: out.Updated,
			Inserts: out.Inserted,
		}
	}
	return resp, nil
}

func (s *SyncServiceImpl) validate(req *api.SyncRequest) (model.SyncApply, error) {
	var in model.SyncApply
	if req == nil || req.Empty() {
		return in, fmt.Errorf("empty sync request: %w", errs.ErrValidation)
	}

	if p := req.UserProgress; p != nil {
		if p.Energy != nil && *p.Energy < 0 {
			return in, fmt.Errorf("negative energy: %w", errs.ErrValidation)
		}
		if p.Coins != nil && *p.Coins < 0 {
			return in, fmt.Errorf("negative coins: %w", errs.ErrValidation)
		}
		in.Energy = p.Energy
		in.Coins = p.Coins
		in.CurrentUserLanguagesID = p.CurrentUserLanguagesID
	}

	if c := req.VocabularyChanges; c != nil {
		if len(c.Inserts)+len(c.Updates)+len(c.Deletes) > s.maxBatch {
			return in, fmt.Errorf("batch too large: %w", errs.ErrValidation)
		}
		if len(c.Inserts) > 0 && in.CurrentUserLanguagesID == nil {
			return in, fmt.Errorf("inserts present without current_user_languages_id: %w", errs.ErrValidation)
		}
		for wordID, e := range c.Inserts {
			if wordID == "" {
				return in, fmt.Errorf("empty word id in inserts: %w", errs.ErrValidation)
			}
			if e.MasteryLevel < 0 || e.MasteryLevel > model.MaxMasteryLevel {
				return in, fmt.Errorf("insert %s: mastery_level out of range: %w", wordID, errs.ErrValidation)
			}
			if e.LanguageID <= 0 {
				return in, fmt.Errorf("insert %s: bad language_id: %w", wordID, errs.ErrValidation)
			}
		}
		for wordID, p := range c.Updates {
			if wordID == "" {
				return in, fmt.Errorf("empty word id in updates: %w", errs.ErrValidation)
			}
			if p.MasteryLevel != nil && (*p.MasteryLevel < 0 || *p.MasteryLevel > model.MaxMasteryLevel) {
				return in, fmt.Errorf("update %s: mastery_level out of range: %w", wordID, errs.ErrValidation)
			}
		}
		in.Inserts = c.Inserts
		in.Updates = c.Updates
		for wordID, on := range c.Deletes {
			if !on {
				continue
			}
			in.Deletes = append(in.Deletes, wordID)
		}
	}
	return in, nil
}
