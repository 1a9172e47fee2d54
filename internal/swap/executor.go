// internal/swap/executor.go
package swap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/ultra-swap/internal/amount"
	"github.com/rovshanmuradov/ultra-swap/internal/metrics"
	"github.com/rovshanmuradov/ultra-swap/internal/quote"
	"github.com/rovshanmuradov/ultra-swap/internal/token"
	"github.com/rovshanmuradov/ultra-swap/internal/ultra"
)

// DefaultTimeout bounds a whole submission, wallet approval included.
const DefaultTimeout = 60 * time.Second

// Status is the state of the executor.
type Status string

const (
	StatusIdle            Status = "idle"
	StatusLoading         Status = "loading"
	StatusPendingApproval Status = "pending-approval"
	StatusSending         Status = "sending"
	StatusSuccess         Status = "success"
	StatusFail            Status = "fail"
	StatusTimeout         Status = "timeout"
)

// Active reports whether a submission is under way.
func (s Status) Active() bool {
	return s == StatusLoading || s == StatusPendingApproval || s == StatusSending
}

// Terminal reports whether the status ends a submission.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFail || s == StatusTimeout
}

var (
	ErrMissingPrerequisite = errors.New("swap prerequisites missing")
	ErrInProgress          = errors.New("swap already in progress")
	ErrSubmissionFailed    = errors.New("swap submission failed")
	ErrTimeout             = errors.New("swap timed out")
	ErrDiscarded           = errors.New("swap discarded by reset")
)

// SubmissionError describes a rejected signature or a failed execution.
type SubmissionError struct {
	Code      int
	Message   string
	Signature string
	Cause     error
}

func (e *SubmissionError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s (code %d): %s", ErrSubmissionFailed, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", ErrSubmissionFailed, msg)
}

func (e *SubmissionError) Unwrap() error { return e.Cause }

func (e *SubmissionError) Is(target error) bool { return target == ErrSubmissionFailed }

// Wallet signs base64 wire transactions. SignTransaction may wait for user
// approval and must return once ctx is done.
type Wallet interface {
	Address() string
	SignTransaction(ctx context.Context, txBase64 string) (string, error)
}

// Submitter executes signed orders.
type Submitter interface {
	Execute(ctx context.Context, signedTx, requestID string) (*ultra.ExecuteResponse, error)
}

// Request is everything a submission needs.
type Request struct {
	Quote  *quote.Quote
	From   *token.Descriptor
	To     *token.Descriptor
	Wallet Wallet
}

// Outcome is the record of one submission attempt.
type Outcome struct {
	ID        string
	Status    Status
	RequestID string
	Signature string
	Code      int
	Message   string
	Err       error

	InputAmount  *big.Int
	OutputAmount *big.Int

	Quote *quote.Quote
	From  *token.Descriptor
	To    *token.Descriptor

	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is the time from submit to the terminal state, or so far.
func (o *Outcome) Duration() time.Duration {
	if o.FinishedAt.IsZero() {
		return time.Since(o.StartedAt)
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// Config configures an Executor.
type Config struct {
	Submitter Submitter
	Timeout   time.Duration
	Logger    *zap.Logger
	Metrics   *metrics.Collector

	// OnChange receives the latest outcome after every transition, nil once
	// reset to idle. Calls are serialized; it must not call Submit or Reset.
	OnChange func(*Outcome)
}

// Executor drives one swap at a time from quote to a terminal outcome.
type Executor struct {
	submitter Submitter
	timeout   time.Duration
	logger    *zap.Logger
	metrics   *metrics.Collector
	onChange  func(*Outcome)

	mu         sync.Mutex
	generation uint64
	outcome    *Outcome
	cancel     context.CancelFunc

	emitMu sync.Mutex
}

// NewExecutor creates an idle executor.
func NewExecutor(cfg *Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{
		submitter: cfg.Submitter,
		timeout:   timeout,
		logger:    logger.Named("swap-executor"),
		metrics:   cfg.Metrics,
		onChange:  cfg.OnChange,
	}
}

// Status returns the current state.
func (e *Executor) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.outcome == nil {
		return StatusIdle
	}
	return e.outcome.Status
}

// Outcome returns a copy of the current outcome, nil while idle.
func (e *Executor) Outcome() *Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Submit signs and executes the quote and blocks until the attempt is
// terminal. Exactly one execute request is sent per call.
//
// Missing prerequisites return ErrMissingPrerequisite and a busy executor
// ErrInProgress, both without touching state. A Reset during the attempt
// makes Submit return ErrDiscarded. Otherwise the terminal outcome is
// returned together with its error, nil on success.
func (e *Executor) Submit(ctx context.Context, req Request) (*Outcome, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.outcome != nil && e.outcome.Status.Active() {
		e.mu.Unlock()
		return nil, ErrInProgress
	}
	e.generation++
	gen := e.generation
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	e.cancel = cancel
	e.outcome = &Outcome{
		ID:        uuid.NewString(),
		Status:    StatusLoading,
		RequestID: req.Quote.RequestID,
		Quote:     req.Quote,
		From:      req.From,
		To:        req.To,
		StartedAt: time.Now(),
	}
	id := e.outcome.ID
	e.mu.Unlock()
	defer cancel()

	e.logger.Info("Submitting swap",
		zap.String("swap_id", id),
		zap.String("request_id", req.Quote.RequestID),
		zap.String("from", req.From.Label()),
		zap.String("to", req.To.Label()),
		zap.String("in_amount", req.Quote.InAmount.String()),
		zap.String("wallet", req.Wallet.Address()))
	e.emit()

	done := make(chan *Outcome, 1)
	go func() {
		done <- e.run(runCtx, gen, req)
	}()

	var result *Outcome
	select {
	case result = <-done:
	case <-runCtx.Done():
		select {
		case result = <-done:
		default:
		}
	}

	if result == nil || result.Status == "" {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			result = &Outcome{Status: StatusTimeout, Message: "swap timed out", Err: ErrTimeout}
		} else {
			// caller cancelled
			result = &Outcome{Status: StatusFail, Message: "swap cancelled", Err: &SubmissionError{Cause: runCtx.Err()}}
		}
	}

	return e.finish(gen, result)
}

// Reset returns the executor to idle. An attempt in flight is cancelled
// and its result dropped.
func (e *Executor) Reset() {
	e.mu.Lock()
	e.generation++
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.outcome = nil
	e.mu.Unlock()

	e.emit()
}

// run performs the attempt. The returned outcome carries only the result
// fields; a zero Status means the context ended first.
func (e *Executor) run(ctx context.Context, gen uint64, req Request) *Outcome {
	if !e.transition(gen, StatusPendingApproval) {
		return &Outcome{}
	}

	signed, err := req.Wallet.SignTransaction(ctx, req.Quote.Transaction)
	if err != nil {
		if ctx.Err() != nil {
			return &Outcome{}
		}
		return &Outcome{
			Status:  StatusFail,
			Message: "transaction was not signed",
			Err:     &SubmissionError{Message: "transaction was not signed", Cause: err},
		}
	}

	if !e.transition(gen, StatusSending) {
		return &Outcome{}
	}

	resp, err := e.submitter.Execute(ctx, signed, req.Quote.RequestID)
	if err != nil {
		if ctx.Err() != nil {
			return &Outcome{}
		}
		se := &SubmissionError{Cause: err}
		var statusErr *ultra.StatusError
		if errors.As(err, &statusErr) {
			se.Code = statusErr.StatusCode
			se.Message = statusErr.Body
		}
		return &Outcome{Status: StatusFail, Code: se.Code, Message: se.Message, Err: se}
	}

	if !resp.Succeeded() {
		msg := resp.Error
		if msg == "" {
			msg = resp.Message
		}
		if msg == "" {
			msg = "status " + resp.Status
		}
		return &Outcome{
			Status:    StatusFail,
			Signature: resp.Signature,
			Code:      resp.Code,
			Message:   msg,
			Err:       &SubmissionError{Code: resp.Code, Message: msg, Signature: resp.Signature},
		}
	}

	out := &Outcome{Status: StatusSuccess, Signature: resp.Signature, Code: resp.Code}
	if v, err := amount.ParseBaseUnits(resp.InputAmountResult); err == nil {
		out.InputAmount = v
	}
	if v, err := amount.ParseBaseUnits(resp.OutputAmountResult); err == nil {
		out.OutputAmount = v
	}
	return out
}

// transition moves an active attempt of generation gen to status.
func (e *Executor) transition(gen uint64, status Status) bool {
	e.mu.Lock()
	if gen != e.generation || e.outcome == nil || !e.outcome.Status.Active() {
		e.mu.Unlock()
		return false
	}
	e.outcome.Status = status
	e.mu.Unlock()

	e.logger.Debug("Swap state changed", zap.String("status", string(status)))
	e.emit()
	return true
}

func (e *Executor) finish(gen uint64, result *Outcome) (*Outcome, error) {
	e.mu.Lock()
	if gen != e.generation || e.outcome == nil {
		e.mu.Unlock()
		return nil, ErrDiscarded
	}
	o := e.outcome
	o.Status = result.Status
	o.Signature = result.Signature
	o.Code = result.Code
	o.Message = result.Message
	o.Err = result.Err
	o.InputAmount = result.InputAmount
	o.OutputAmount = result.OutputAmount
	o.FinishedAt = time.Now()
	e.cancel = nil
	snapshot := e.snapshotLocked()
	e.mu.Unlock()

	e.metrics.RecordSwap(string(snapshot.Status), snapshot.Duration())

	fields := []zap.Field{
		zap.String("swap_id", snapshot.ID),
		zap.String("request_id", snapshot.RequestID),
		zap.String("status", string(snapshot.Status)),
		zap.Duration("duration", snapshot.Duration()),
	}
	switch snapshot.Status {
	case StatusSuccess:
		e.logger.Info("Swap succeeded", append(fields,
			zap.String("signature", snapshot.Signature),
			zap.Stringer("input_amount", snapshot.InputAmount),
			zap.Stringer("output_amount", snapshot.OutputAmount))...)
	case StatusTimeout:
		e.logger.Error("Swap timed out", append(fields, zap.Duration("timeout", e.timeout))...)
	default:
		e.logger.Warn("Swap failed", append(fields, zap.Error(snapshot.Err))...)
	}

	e.emit()
	return snapshot, snapshot.Err
}

// emit delivers the state current at delivery time, so a late emitter can
// never overwrite a newer state with an older one.
func (e *Executor) emit() {
	if e.onChange == nil {
		return
	}
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	e.onChange(e.Outcome())
}

func (e *Executor) snapshotLocked() *Outcome {
	if e.outcome == nil {
		return nil
	}
	o := *e.outcome
	return &o
}

func (r Request) validate() error {
	switch {
	case r.Quote == nil:
		return fmt.Errorf("%w: no quote", ErrMissingPrerequisite)
	case !r.Quote.HasTransaction():
		return fmt.Errorf("%w: quote has no transaction", ErrMissingPrerequisite)
	case r.From == nil || r.To == nil:
		return fmt.Errorf("%w: token metadata not resolved", ErrMissingPrerequisite)
	case r.Wallet == nil || r.Wallet.Address() == "":
		return fmt.Errorf("%w: wallet not connected", ErrMissingPrerequisite)
	}
	return nil
}
