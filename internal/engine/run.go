package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/roach88/vaultsync/internal/authz"
	"github.com/roach88/vaultsync/internal/detect"
	"github.com/roach88/vaultsync/internal/executor"
	"github.com/roach88/vaultsync/internal/ir"
)

// run holds the mutable state of one pass. It is confined to the goroutine
// calling Coordinator.Run.
type run struct {
	c      *Coordinator
	clock  *Clock
	res    *ir.RunResult
	logger *slog.Logger

	// writeFailure is the reason of the first write that did not take effect.
	writeFailure ir.Reason
}

func (r *run) execute(ctx context.Context) {
	if r.canceled(ctx) {
		return
	}

	r.enter(ir.StateReading)
	before, err := r.c.reader.Snapshot(ctx)
	if err != nil {
		r.fail(ctx, ir.ActionRead, err)
		return
	}
	r.res.Before = &before

	r.enter(ir.StateDetecting)
	decision, err := detect.Detect(ctx, before, r.c.window, r.c.reader)
	if err != nil {
		r.fail(ctx, ir.ActionDetect, err)
		return
	}
	if decision.NoAction {
		r.step(ir.ActionDetect, ir.StepOK, "in sync", "", "")
		r.finish(ir.OutcomeNoAction, ir.ReasonNone, "")
		return
	}

	plan := decision.Plan
	r.res.Plan = plan
	r.res.Warnings = append(r.res.Warnings, decision.Warnings...)
	for _, a := range decision.Advisories {
		r.logger.Info("detector advisory", "advisory", a)
	}
	status := ir.StepOK
	if len(decision.Warnings) > 0 {
		status = ir.StepWarning
	}
	r.step(ir.ActionDetect, status, describePlan(before, plan), "", "")

	if !plan.Executable() {
		w := decision.Warnings[0]
		r.finish(ir.OutcomePartialFailure, w.Code, w.Message)
		return
	}

	if r.canceled(ctx) {
		return
	}
	r.enter(ir.StateAuthorizing)
	verdict, err := r.c.gate.Authorize(ctx, r.c.identity)
	if err != nil {
		r.fail(ctx, ir.ActionAuthorize, err)
		return
	}
	switch verdict.Verdict {
	case authz.VerdictCredentialMissing:
		r.failWith(ir.ActionAuthorize, ir.ReasonCredentialMissing, verdict.String())
		return
	case authz.VerdictUnauthorized:
		r.failWith(ir.ActionAuthorize, ir.ReasonUnauthorized, verdict.String())
		return
	}
	r.step(ir.ActionAuthorize, ir.StepOK, verdict.String(), "", "")

	if r.canceled(ctx) {
		return
	}
	r.enter(ir.StateExecuting)
	if !r.executePlan(ctx, plan) {
		return
	}

	if r.canceled(ctx) {
		return
	}
	r.enter(ir.StateVerifying)
	after, err := r.c.reader.Snapshot(ctx)
	if err != nil {
		r.fail(ctx, ir.ActionVerify, err)
		return
	}
	r.res.After = &after

	verifyStatus := ir.StepOK
	if !after.InSync() {
		verifyStatus = ir.StepWarning
	}
	r.step(ir.ActionVerify, verifyStatus, describeState(after), "", "")
	if after.ActualBalance < after.TrackedCount {
		r.res.Warnings = append(r.res.Warnings, ir.Warning{
			Code:    ir.ReasonInvariantViolation,
			Message: fmt.Sprintf("after reconciliation actual balance %d is below tracked count %d", after.ActualBalance, after.TrackedCount),
		})
	}

	switch {
	case r.writeFailure != ir.ReasonNone:
		r.finish(ir.OutcomePartialFailure, r.writeFailure, "one or more corrective writes did not take effect")
	case len(r.res.Warnings) > 0:
		w := r.res.Warnings[0]
		r.finish(ir.OutcomePartialFailure, w.Code, w.Message)
	case !after.InSync():
		r.finish(ir.OutcomePartialFailure, ir.ReasonNone, "custody still out of sync after reconciliation: "+describeState(after))
	default:
		r.finish(ir.OutcomeRecovered, ir.ReasonNone, "")
	}
}

// executePlan performs the writes in order. It returns false when the run
// reached a terminal state during execution.
func (r *run) executePlan(ctx context.Context, plan *ir.ReconciliationPlan) bool {
	recovered := true
	if len(plan.Untracked) > 0 {
		res, _ := r.c.exec.RecoverUntracked(ctx, plan.Untracked)
		r.recordWrite(res)
		if res.Status == executor.StatusCanceled {
			r.finishFailed(ir.ReasonCanceled, "canceled while awaiting recoverBatch")
			return false
		}
		recovered = res.Succeeded()
	}

	if !plan.PendingStuck {
		return true
	}
	if !recovered {
		r.step(ir.ActionResetPending, ir.StepSkipped, "recoverBatch did not succeed", "", "")
		return true
	}

	pending, err := r.c.reader.PendingCounter(ctx)
	if err != nil {
		r.fail(ctx, ir.ActionRecheckPending, err)
		return false
	}
	if pending == 0 {
		r.step(ir.ActionRecheckPending, ir.StepOK, "pending counter already zero", "", "")
		r.step(ir.ActionResetPending, ir.StepSkipped, "pending counter already zero", "", "")
		return true
	}
	r.step(ir.ActionRecheckPending, ir.StepOK, "pending counter "+strconv.FormatUint(pending, 10), "", "")

	if r.canceled(ctx) {
		return false
	}
	res, _ := r.c.exec.ResetPendingCounter(ctx)
	r.recordWrite(res)
	if res.Status == executor.StatusCanceled {
		r.finishFailed(ir.ReasonCanceled, "canceled while awaiting resetPendingCounter")
		return false
	}
	return true
}

func (r *run) recordWrite(res executor.WriteResult) {
	status := ir.StepOK
	if !res.Succeeded() {
		status = ir.StepFailed
	}

	detail := string(res.Status)
	if len(res.IDs) > 0 {
		detail += " ids=" + formatIDs(res.IDs)
	}

	var errMsg, tx string
	if res.Err != nil {
		errMsg = res.Err.Error()
	}
	if res.Submitted() {
		tx = res.TxHash.Hex()
	}
	r.step(res.Action, status, detail, errMsg, tx)

	if res.Succeeded() || res.Status == executor.StatusCanceled || r.writeFailure != ir.ReasonNone {
		return
	}
	switch res.Status {
	case executor.StatusSubmissionFailed:
		r.writeFailure = ir.ReasonWriteSubmission
	case executor.StatusConfirmationTimeout:
		r.writeFailure = ir.ReasonWriteUnconfirmed
	default:
		r.writeFailure = ir.ReasonWriteExecution
	}
}

func (r *run) enter(state ir.RunState) {
	r.logger.Debug("state transition", "from", r.res.State, "to", state)
	r.res.State = state
}

func (r *run) step(action string, status ir.StepStatus, detail, errMsg, tx string) {
	r.res.Steps = append(r.res.Steps, ir.Step{
		Seq:    r.clock.Next(),
		At:     r.c.now(),
		State:  r.res.State,
		Action: action,
		Status: status,
		Detail: detail,
		Error:  errMsg,
		TxHash: tx,
	})
}

// canceled ends the run when ctx is done.
func (r *run) canceled(ctx context.Context) bool {
	if ctx.Err() == nil {
		return false
	}
	r.finishFailed(ir.ReasonCanceled, ctx.Err().Error())
	return true
}

// fail records a failed step for err and ends the run in Failed.
func (r *run) fail(ctx context.Context, action string, err error) {
	reason := classify(err)
	if ctx.Err() != nil {
		reason = ir.ReasonCanceled
	}
	r.step(action, ir.StepFailed, "", err.Error(), "")
	r.finishFailed(reason, err.Error())
}

func (r *run) failWith(action string, reason ir.Reason, msg string) {
	r.step(action, ir.StepFailed, "", msg, "")
	r.finishFailed(reason, msg)
}

func (r *run) finishFailed(reason ir.Reason, msg string) {
	r.enter(ir.StateFailed)
	r.res.Outcome = ir.OutcomeError
	r.res.Reason = reason
	r.res.Message = msg
	r.logger.Debug("run failed", "reason", reason, "message", msg)
}

func (r *run) finish(outcome ir.Outcome, reason ir.Reason, msg string) {
	r.enter(ir.StateDone)
	r.res.Outcome = outcome
	r.res.Reason = reason
	r.res.Message = msg
}

func classify(err error) ir.Reason {
	switch {
	case errors.Is(err, context.Canceled):
		return ir.ReasonCanceled
	case detect.IsInvariantViolation(err):
		return ir.ReasonInvariantViolation
	default:
		// Every other failure before the writes surfaces from a ledger read.
		return ir.ReasonReadFailure
	}
}

func describePlan(before ir.CustodyState, plan *ir.ReconciliationPlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "drift=%d untracked=%s", before.Drift(), formatIDs(plan.Untracked))
	if plan.PendingStuck {
		fmt.Fprintf(&b, " pending=%d", before.PendingCounter)
	}
	return b.String()
}

func describeState(s ir.CustodyState) string {
	return fmt.Sprintf("actual=%d tracked=%d pending=%d", s.ActualBalance, s.TrackedCount, s.PendingCounter)
}

func formatIDs(ids []ir.AssetID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
