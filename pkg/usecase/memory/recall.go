package memory

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memento/pkg/model"
	"github.com/m-mizutani/memento/pkg/utils/logging"
)

// Recall renders the stored facts of the user as context text. A user without
// facts or with memory turned off gets an empty string.
func (u *UseCase) Recall(ctx context.Context, userID model.UserID) (string, error) {
	set, err := u.repo.GetFactSet(ctx, userID)
	if err != nil {
		return "", goerr.Wrap(err, "failed to load fact set", goerr.V("user_id", userID))
	}
	return u.render(set), nil
}

func (u *UseCase) render(set *model.FactSet) string {
	if set.Disabled {
		return ""
	}
	return u.formatter.Format(set.Facts, u.maxCount, u.style)
}

// Facts returns the stored facts of the user
func (u *UseCase) Facts(ctx context.Context, userID model.UserID) ([]model.Fact, error) {
	set, err := u.repo.GetFactSet(ctx, userID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load fact set", goerr.V("user_id", userID))
	}
	return set.Facts, nil
}

// HandleTurn is the host entry point for a new user message. It returns the
// context text to inject for this turn and schedules an update in the
// background once the conversation reaches the extraction threshold. Nothing
// is scheduled for a user who turned memory off. Failures never reach the
// caller: a failed read yields empty context.
func (u *UseCase) HandleTurn(ctx context.Context, turn model.Turn) string {
	if turn.ID == "" {
		turn.ID = model.NewTurnID()
	}
	logger := logging.From(ctx).With("user_id", turn.UserID, "turn_id", turn.ID)
	ctx = logging.With(ctx, logger)

	var text string
	set, err := u.repo.GetFactSet(ctx, turn.UserID)
	switch {
	case err != nil:
		logger.Error("failed to recall memory", "error", goerr.Wrap(err, "failed to load fact set"))
	case set.Disabled:
		logger.Debug("memory is turned off for user")
		return ""
	default:
		text = u.render(set)
	}

	if turn.UserMessageCount() >= u.threshold {
		u.schedule(ctx, turn)
	} else {
		logger.Debug("extraction threshold not reached", "threshold", u.threshold)
	}

	return text
}

func (u *UseCase) schedule(ctx context.Context, turn model.Turn) {
	messages := turn.Messages()
	bg := context.WithoutCancel(ctx)

	u.jobs.start(turn.UserID)
	go func() {
		defer u.jobs.finish(turn.UserID)

		u.sem <- struct{}{}
		defer func() { <-u.sem }()

		ctx, cancel := context.WithTimeout(bg, u.updateTimeout)
		defer cancel()

		result, err := u.update(ctx, turn.ID, turn.UserID, messages)
		if err != nil {
			logging.From(ctx).Error("memory update failed", "error", err)
			return
		}
		if result.Skipped != "" {
			logging.From(ctx).Debug("memory update skipped", "reason", result.Skipped)
		}
	}()
}

// Wait blocks until every scheduled update has finished
func (u *UseCase) Wait() {
	u.jobs.waitAll()
}

// WaitUser blocks until the updates scheduled for one user have finished or
// ctx is done. Updates of other users are not waited for.
func (u *UseCase) WaitUser(ctx context.Context, userID model.UserID) error {
	if err := u.jobs.wait(ctx, userID); err != nil {
		return goerr.Wrap(err, "gave up waiting for memory update", goerr.V("user_id", userID))
	}
	return nil
}

// Forget removes every stored fact of the user. A user who turned memory off
// stays opted out.
func (u *UseCase) Forget(ctx context.Context, userID model.UserID) error {
	unlock, err := u.locker.Lock(ctx, string(userID))
	if err != nil {
		return goerr.Wrap(err, "failed to acquire user lock", goerr.V("user_id", userID))
	}
	defer unlock()

	set, err := u.repo.GetFactSet(ctx, userID)
	if err != nil {
		return goerr.Wrap(err, "failed to load fact set", goerr.V("user_id", userID))
	}
	if err := u.repo.DeleteFactSet(ctx, userID); err != nil {
		return goerr.Wrap(err, "failed to delete fact set", goerr.V("user_id", userID))
	}
	if set.Disabled {
		optOut := model.NewFactSet(userID)
		optOut.Disabled = true
		optOut.UpdatedAt = u.now().UTC()
		if err := u.repo.PutFactSet(ctx, optOut, 0); err != nil {
			return goerr.Wrap(err, "failed to keep memory turned off", goerr.V("user_id", userID))
		}
	}

	logging.From(ctx).Info("memory forgotten", "user_id", userID)
	u.emit(ctx, model.NewEvent(model.EventFactsForgotten, userID, ""), func(ev *model.Event) {})
	return nil
}
