package memory

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memento/pkg/model"
	"github.com/m-mizutani/memento/pkg/oracle"
	"github.com/m-mizutani/memento/pkg/reconcile"
	"github.com/m-mizutani/memento/pkg/repository"
	"github.com/m-mizutani/memento/pkg/utils/logging"
)

// Reasons an update ends without touching the store
const (
	SkipNoUserMessage = "no user message"
	SkipOracleError   = "oracle error"
	SkipTimeout       = "oracle timeout"
	SkipParseError    = "unparseable oracle response"
	SkipNoChange      = "no change"
	SkipDisabled      = "memory turned off"
)

// ReasonPolicyError rejects a fact whose admission policy could not be evaluated
const ReasonPolicyError = "policy evaluation failed"

// Rejection records a candidate fact that was not admitted. It carries no fact text.
type Rejection struct {
	Type    model.FactType `json:"type"`
	Reasons []string       `json:"reasons"`
}

// UpdateResult describes what one update did
type UpdateResult struct {
	TurnID model.TurnID
	// Written reports whether a new fact set version was stored
	Written bool
	// Skipped is set when the update ended early; the stored set is unchanged
	Skipped  string
	Stats    reconcile.Stats
	Rejected []Rejection
	Version  int64
	Total    int
	Attempts int
}

// Update extracts facts from the latest messages of a conversation and merges
// them into the user's stored set. Oracle and parse failures are reported in
// UpdateResult.Skipped with a nil error. Store failures are returned.
func (u *UseCase) Update(ctx context.Context, userID model.UserID, messages []model.Message) (*UpdateResult, error) {
	return u.update(ctx, model.NewTurnID(), userID, messages)
}

func (u *UseCase) update(ctx context.Context, turnID model.TurnID, userID model.UserID, messages []model.Message) (*UpdateResult, error) {
	logger := logging.From(ctx).With("user_id", userID, "turn_id", turnID)
	ctx = logging.With(ctx, logger)
	result := &UpdateResult{TurnID: turnID}

	window := u.window(messages)
	if !hasUserMessage(window) {
		result.Skipped = SkipNoUserMessage
		return result, nil
	}

	unlock, err := u.locker.Lock(ctx, string(userID))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to acquire user lock", goerr.V("user_id", userID))
	}
	defer unlock()

	set, err := u.repo.GetFactSet(ctx, userID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load fact set", goerr.V("user_id", userID))
	}
	if set.Disabled {
		return u.skip(ctx, result, userID, set, SkipDisabled), nil
	}

	candidates, skip := u.extract(ctx, set.Facts, window)
	if skip != "" {
		return u.skip(ctx, result, userID, set, skip), nil
	}

	admitted := u.admit(ctx, userID, candidates, result)
	if len(result.Rejected) > 0 {
		u.emit(ctx, model.NewEvent(model.EventFactsRejected, userID, turnID), func(ev *model.Event) {
			ev.Rejected = len(result.Rejected)
			ev.Reasons = rejectionReasons(result.Rejected)
		})
	}

	for attempt := 0; ; attempt++ {
		result.Attempts = attempt + 1
		now := u.now().UTC()
		merged := u.engine.Merge(set.Facts, admitted, now)
		result.Stats = merged.Stats

		if !merged.Stats.Changed() && merged.Stats.Refreshed == 0 {
			result.Skipped = SkipNoChange
			result.Version = set.Version
			result.Total = len(set.Facts)
			logger.Debug("nothing to store", "candidates", len(candidates))
			return result, nil
		}

		next := set.Clone()
		next.Facts = merged.Facts
		next.UpdatedAt = now
		expected := set.Version

		err := u.repo.PutFactSet(ctx, next, expected)
		if err == nil {
			result.Written = true
			result.Version = next.Version
			result.Total = len(next.Facts)
			break
		}
		if !errors.Is(err, repository.ErrConflict) || attempt >= u.maxRetries {
			return nil, goerr.Wrap(err, "failed to store fact set",
				goerr.V("user_id", userID), goerr.V("attempts", attempt+1))
		}

		logger.Debug("fact set changed concurrently, merging again", "attempt", attempt+1)
		set, err = u.repo.GetFactSet(ctx, userID)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to reload fact set", goerr.V("user_id", userID))
		}
		if set.Disabled {
			return u.skip(ctx, result, userID, set, SkipDisabled), nil
		}
	}

	logger.Info("memory updated",
		"added", result.Stats.Added,
		"updated", result.Stats.Updated,
		"refreshed", result.Stats.Refreshed,
		"removed", result.Stats.Removed,
		"rejected", len(result.Rejected),
		"version", result.Version,
	)
	u.emit(ctx, model.NewEvent(model.EventFactsUpdated, userID, turnID), func(ev *model.Event) {
		ev.Added = result.Stats.Added
		ev.Updated = result.Stats.Updated
		ev.Refreshed = result.Stats.Refreshed
		ev.Removed = result.Stats.Removed
		ev.Cleared = result.Stats.Cleared
		ev.Total = result.Total
	})

	return result, nil
}

// skip ends an update without writing and reports why
func (u *UseCase) skip(ctx context.Context, result *UpdateResult, userID model.UserID, set *model.FactSet, reason string) *UpdateResult {
	result.Skipped = reason
	result.Version = set.Version
	result.Total = len(set.Facts)
	u.emit(ctx, model.NewEvent(model.EventUpdateSkipped, userID, result.TurnID), func(ev *model.Event) {
		ev.Reason = reason
	})
	return result
}

// window keeps the latest conversation messages, scrubbed unless disabled
func (u *UseCase) window(messages []model.Message) []model.Message {
	window := oracle.Window(messages, u.windowSize)
	if !u.filter.ScrubInput {
		return window
	}
	for i := range window {
		window[i].Content = u.filter.Scrubber.Scrub(window[i].Content)
	}
	return window
}

func hasUserMessage(messages []model.Message) bool {
	for _, m := range messages {
		if m.Role == model.RoleUser {
			return true
		}
	}
	return false
}

// extract asks the oracle for candidate facts. A non-empty skip reason means
// the turn must not write.
func (u *UseCase) extract(ctx context.Context, existing []model.Fact, window []model.Message) ([]model.Fact, string) {
	logger := logging.From(ctx)

	req, err := oracle.BuildRequest(existing, window, oracle.WithRedactionToken(u.filter.Scrubber.Token()))
	if err != nil {
		logger.Warn("failed to build extraction request", "error", err)
		return nil, SkipOracleError
	}

	raw, err := u.oracle.Extract(ctx, req)
	if err != nil {
		if errors.Is(err, oracle.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("extraction timed out", "error", err)
			return nil, SkipTimeout
		}
		logger.Warn("extraction failed", "error", err)
		return nil, SkipOracleError
	}

	parsed, err := oracle.Parse(raw)
	if err != nil {
		logger.Warn("failed to parse extraction response", "error", err)
		return nil, SkipParseError
	}
	if len(parsed.Skipped) > 0 {
		logger.Debug("oracle items skipped", "reasons", parsed.Skipped)
	}

	return parsed.Facts, ""
}

// admit runs PII validation and the admission policy over every candidate
func (u *UseCase) admit(ctx context.Context, userID model.UserID, candidates []model.Fact, result *UpdateResult) []model.Fact {
	logger := logging.From(ctx)
	admitted := make([]model.Fact, 0, len(candidates))

	for _, c := range candidates {
		validated := u.filter.Validator.Validate(c)
		if !validated.Clean {
			result.Rejected = append(result.Rejected, Rejection{Type: c.Type, Reasons: validated.Reasons})
			continue
		}
		fact := validated.Fact

		reasons, err := u.admission.Deny(ctx, userID, fact)
		if err != nil {
			logger.Warn("admission policy failed, rejecting fact", "error", err, "type", fact.Type)
			reasons = []string{ReasonPolicyError}
		}
		if len(reasons) > 0 {
			result.Rejected = append(result.Rejected, Rejection{Type: fact.Type, Reasons: reasons})
			continue
		}

		admitted = append(admitted, fact)
	}

	return admitted
}

func rejectionReasons(rejected []Rejection) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range rejected {
		for _, reason := range r.Reasons {
			if !seen[reason] {
				seen[reason] = true
				out = append(out, reason)
			}
		}
	}
	return out
}

func (u *UseCase) emit(ctx context.Context, ev *model.Event, fill func(*model.Event)) {
	fill(ev)
	if err := u.emitter.Emit(ctx, ev); err != nil {
		logging.From(ctx).Warn("failed to emit event", "error", err, "kind", ev.Kind)
	}
}
