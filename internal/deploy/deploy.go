// Package deploy drives the two-phase verify-then-deploy flow against a
// warehouse adapter, capturing a rollback export before any live view is
// touched.
package deploy

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/chinmayajena/sundaygraph/internal/compile"
	"github.com/chinmayajena/sundaygraph/internal/logging"
	"github.com/chinmayajena/sundaygraph/internal/oerrors"
	"github.com/chinmayajena/sundaygraph/internal/warehouse"
)

// Verification transport failures are retried with exponential backoff;
// deploy is never auto-retried.
const (
	maxVerifyAttempts = 4
	baseBackoff       = 100 * time.Millisecond
)

// Result is the outcome of a deployment run.
type Result struct {
	Verified            bool     `json:"verified"`
	Deployed            bool     `json:"deployed"`
	RollbackCaptured    bool     `json:"rollback_captured"`
	RollbackUnavailable bool     `json:"rollback_unavailable"`
	VerifyAttempts      int      `json:"verify_attempts"`
	Warnings            []string `json:"warnings,omitempty"`
}

// Deployer runs verify and deploy phases with per-stage deadlines.
type Deployer struct {
	adapter       warehouse.Adapter
	verifyTimeout time.Duration
	deployTimeout time.Duration
}

// New creates a Deployer. Zero timeouts disable the per-stage deadlines.
func New(adapter warehouse.Adapter, verifyTimeout, deployTimeout time.Duration) *Deployer {
	return &Deployer{
		adapter:       adapter,
		verifyTimeout: verifyTimeout,
		deployTimeout: deployTimeout,
	}
}

// Verify runs the verify-only check for the bundle, retrying transport
// failures up to maxVerifyAttempts with 100ms/400ms/1600ms backoff. A
// verification rejection is returned as VERIFY_FAILED and is not retried.
func (d *Deployer) Verify(ctx context.Context, b *compile.Bundle) (attempts int, err error) {
	backoff := baseBackoff
	for attempt := 1; attempt <= maxVerifyAttempts; attempt++ {
		attempts = attempt
		err = d.verifyOnce(ctx, b)
		if err == nil {
			return attempts, nil
		}
		if !oerrors.IsRetryable(err) || attempt == maxVerifyAttempts {
			return attempts, err
		}
		logging.Deploy("verify attempt %d/%d failed (%v), retrying in %s", attempt, maxVerifyAttempts, err, backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return attempts, timeoutError(ctx.Err())
		}
		backoff *= 4
	}
	return attempts, err
}

func (d *Deployer) verifyOnce(ctx context.Context, b *compile.Bundle) error {
	vctx, cancel := d.withTimeout(ctx, d.verifyTimeout)
	defer cancel()

	res, err := d.adapter.Verify(vctx, string(b.YAML()), b.Target.Database, b.Target.Schema)
	if err != nil {
		if isDeadline(err) {
			return timeoutError(err)
		}
		return err
	}
	if !res.OK {
		return oerrors.New(oerrors.CodeVerifyFailed, "semantic model rejected: %s",
			strings.Join(res.Errors, "; ")).WithDetails(map[string]interface{}{
			"errors":   res.Errors,
			"warnings": res.Warnings,
		})
	}
	return nil
}

// Run executes the full deployment policy: capture a rollback export,
// verify, then deploy. On any failure the live view is left untouched.
func (d *Deployer) Run(ctx context.Context, b *compile.Bundle) (*Result, error) {
	result := &Result{}
	fqn := b.Target.FQN()

	logging.Deploy("deploying %s", fqn)

	// Rollback capture happens before anything else so a failed deploy can
	// always be reverted when the view pre-existed.
	yaml, found, err := d.adapter.ExportExisting(ctx, fqn)
	if err != nil {
		if isDeadline(err) {
			return result, timeoutError(err)
		}
		return result, oerrors.Wrap(oerrors.CodeDeployFailed, err, "cannot export existing view %s", fqn)
	}
	if found {
		b.AttachRollback([]byte(yaml))
		result.RollbackCaptured = true
		logging.Deploy("captured rollback export for %s", fqn)
	} else {
		result.RollbackUnavailable = true
		result.Warnings = append(result.Warnings,
			oerrors.New(oerrors.CodeRollbackUnavailable, "no existing view at %s; rollback will drop only", fqn).Error())
		logging.Deploy("no existing view at %s, rollback is drop-only", fqn)
	}

	attempts, err := d.Verify(ctx, b)
	result.VerifyAttempts = attempts
	if err != nil {
		return result, err
	}
	result.Verified = true

	dctx, cancel := d.withTimeout(ctx, d.deployTimeout)
	defer cancel()
	res, err := d.adapter.Deploy(dctx, string(b.YAML()), b.Target.Database, b.Target.Schema, b.Target.ViewName)
	if err != nil {
		if isDeadline(err) {
			return result, timeoutError(err)
		}
		return result, oerrors.Wrap(oerrors.CodeDeployFailed, err, "deploy of %s failed", fqn)
	}
	if !res.OK {
		return result, oerrors.New(oerrors.CodeDeployFailed, "deploy of %s rejected: %s",
			fqn, strings.Join(res.Errors, "; ")).WithDetails(map[string]interface{}{
			"errors": res.Errors,
		})
	}

	result.Deployed = true
	logging.Deploy("deployed %s", fqn)
	return result, nil
}

func (d *Deployer) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func timeoutError(cause error) error {
	e := oerrors.Wrap(oerrors.CodeTimeout, cause, "warehouse call exceeded its deadline")
	e.Retryable = true
	return e
}
