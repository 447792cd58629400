package orchestrator

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/visa-pipeline/internal/model"
	"github.com/sells-group/visa-pipeline/internal/store"
)

// Redo re-executes one stage on the current upstream data inside a single
// locked transaction. Everything derived from the stage is cleared first;
// any failure leaves the submission untouched.
func (o *Orchestrator) Redo(ctx context.Context, userID, id, stageName string) (*model.Submission, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	stage, err := model.ParseRedoStage(stageName)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("submission_id", id), zap.String("redo_stage", string(stage)))

	sub, err := o.store.WithLockedSubmission(ctx, id, userID, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Apply(ctx, stage.Invalidates(), derived(tx.Submission(), stage.Invalidates())); err != nil {
			return err
		}

		sub := tx.Submission()
		var (
			changes []model.Change
			err     error
		)
		switch stage {
		case model.RedoFacts:
			changes, err = o.factsChanges(ctx, sub)
		case model.RedoClassification:
			changes, err = o.classificationChanges(ctx, sub)
		case model.RedoQuestions:
			changes, err = o.questionChanges(ctx, sub)
		}
		if err != nil {
			return err
		}
		return tx.Apply(ctx, changes, derived(sub, changes))
	})
	if err != nil {
		log.Warn("orchestrator: redo rolled back", zap.Error(err))
		return nil, eris.Wrapf(err, "orchestrator: redo %s", stage)
	}

	log.Info("orchestrator: redo complete", zap.String("status", string(sub.Status)))
	return sub, nil
}

// derived returns the status sub would have after changes, without
// mutating it.
func derived(sub *model.Submission, changes []model.Change) model.Stage {
	next := *sub
	if err := next.Apply(changes...); err != nil {
		return sub.Status
	}
	return next.Status
}
