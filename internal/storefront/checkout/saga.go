package checkout

import (
	"context"

	"github.com/rcourtman/storefront/internal/logging"
	"github.com/rcourtman/storefront/internal/storefront/store"
)

// sagaRun writes the step log for one checkout. Log write failures are
// logged and never fail the checkout.
type sagaRun struct {
	pipeline   *Pipeline
	checkoutID string
}

func (r *sagaRun) begin(ctx context.Context, step string) {
	r.record(ctx, step, store.StepPending, "", nil)
}

func (r *sagaRun) commit(ctx context.Context, step, ref string) {
	r.record(ctx, step, store.StepCommitted, ref, nil)
}

func (r *sagaRun) fail(ctx context.Context, step string, cause error) {
	r.record(ctx, step, store.StepFailed, "", cause)
}

func (r *sagaRun) record(ctx context.Context, step string, status store.StepStatus, ref string, cause error) {
	entry := &store.CheckoutStep{
		CheckoutID: r.checkoutID,
		Step:       step,
		Status:     status,
		Ref:        ref,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	if err := r.pipeline.store.RecordCheckoutStep(context.WithoutCancel(ctx), entry); err != nil {
		logging.FromContext(ctx).Warn().Err(err).
			Str("checkout_id", r.checkoutID).
			Str("step", step).
			Str("status", string(status)).
			Msg("Failed to record checkout step")
	}
}
