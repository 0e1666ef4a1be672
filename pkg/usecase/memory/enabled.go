package memory

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memento/pkg/model"
	"github.com/m-mizutani/memento/pkg/repository"
	"github.com/m-mizutani/memento/pkg/utils/logging"
)

// SetEnabled switches memory on or off for one user. While it is off the user
// gets no context and no update runs. Stored facts are kept until Forget.
func (u *UseCase) SetEnabled(ctx context.Context, userID model.UserID, enabled bool) error {
	unlock, err := u.locker.Lock(ctx, string(userID))
	if err != nil {
		return goerr.Wrap(err, "failed to acquire user lock", goerr.V("user_id", userID))
	}
	defer unlock()

	for attempt := 0; ; attempt++ {
		set, err := u.repo.GetFactSet(ctx, userID)
		if err != nil {
			return goerr.Wrap(err, "failed to load fact set", goerr.V("user_id", userID))
		}
		if set.Disabled != enabled {
			return nil
		}

		next := set.Clone()
		next.Disabled = !enabled
		next.UpdatedAt = u.now().UTC()
		err = u.repo.PutFactSet(ctx, next, set.Version)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrConflict) || attempt >= u.maxRetries {
			return goerr.Wrap(err, "failed to store memory setting",
				goerr.V("user_id", userID), goerr.V("enabled", enabled))
		}
	}

	logging.From(ctx).Info("memory setting changed", "user_id", userID, "enabled", enabled)
	return nil
}

// Enabled reports whether memory is on for the user. It is on unless the user turned it off.
func (u *UseCase) Enabled(ctx context.Context, userID model.UserID) (bool, error) {
	set, err := u.repo.GetFactSet(ctx, userID)
	if err != nil {
		return false, goerr.Wrap(err, "failed to load fact set", goerr.V("user_id", userID))
	}
	return !set.Disabled, nil
}
