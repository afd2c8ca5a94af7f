package lending

import (
	"bytes"
	"context"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"lendledger/crypto"
)

// Observer receives the outcome of every sequenced operation.
type Observer interface {
	Observe(operation string, duration time.Duration, err error)
}

// SequencerOption customises a Sequencer.
type SequencerOption func(*Sequencer)

// WithTracer overrides the tracer used for operation spans.
func WithTracer(tracer trace.Tracer) SequencerOption {
	return func(s *Sequencer) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithObserver installs an operation observer, typically the lending metrics.
func WithObserver(observer Observer) SequencerOption {
	return func(s *Sequencer) { s.observer = observer }
}

// WithClock overrides the clock used for latency measurements.
func WithClock(clock func() time.Time) SequencerOption {
	return func(s *Sequencer) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// Sequencer serialises access to an Engine so concurrent callers queue in
// arrival order instead of tripping the reentrancy guard. Waiting callers give
// up when their context ends. A call made by the goroutine that already holds
// the sequencer, for example from a transfer receive hook, fails with
// ErrReentrantCall instead of waiting on itself.
type Sequencer struct {
	engine   *Engine
	slot     chan struct{}
	holder   atomic.Uint64
	tracer   trace.Tracer
	observer Observer
	clock    func() time.Time
}

// NewSequencer wraps engine.
func NewSequencer(engine *Engine, opts ...SequencerOption) *Sequencer {
	s := &Sequencer{
		engine: engine,
		slot:   make(chan struct{}, 1),
		tracer: otel.Tracer("lendledger/lending"),
		clock:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Engine exposes the wrapped engine. Callers must not use it concurrently with
// the sequencer.
func (s *Sequencer) Engine() *Engine {
	if s == nil {
		return nil
	}
	return s.engine
}

func (s *Sequencer) acquire(ctx context.Context) error {
	select {
	case s.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sequencer) release() {
	s.holder.Store(0)
	<-s.slot
}

// exec runs fn while holding the slot. The slot is released even when fn
// panics.
func (s *Sequencer) exec(ctx context.Context, fn func() error) error {
	id := goroutineID()
	if id != 0 && s.holder.Load() == id {
		return ErrReentrantCall
	}
	if err := s.acquire(ctx); err != nil {
		return err
	}
	s.holder.Store(id)
	defer s.release()
	return fn()
}

// goroutineID parses the running goroutine's id from its stack header
// ("goroutine 42 [running]:"). It returns zero if the header is unexpected.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	header := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	end := bytes.IndexByte(header, ' ')
	if end <= 0 {
		return 0
	}
	id, err := strconv.ParseUint(string(header[:end]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func (s *Sequencer) run(ctx context.Context, operation string, fn func() error, attrs ...attribute.KeyValue) error {
	if s == nil || s.engine == nil {
		return ErrNilState
	}
	if ctx == nil {
		ctx = context.Background()
	}
	start := s.clock()
	ctx, span := s.tracer.Start(ctx, "lending."+operation, trace.WithAttributes(attrs...))
	defer span.End()

	err := s.exec(ctx, fn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, operation)
	}
	if s.observer != nil {
		s.observer.Observe(operation, s.clock().Sub(start), err)
	}
	return err
}

func callerAttr(caller crypto.Address) attribute.KeyValue {
	return attribute.String("lending.caller", caller.String())
}

func loanAttr(id uint64) attribute.KeyValue {
	return attribute.Int64("lending.loan_id", int64(id))
}

// Deposit sequences Engine.Deposit.
func (s *Sequencer) Deposit(ctx context.Context, caller crypto.Address, amount *uint256.Int) error {
	return s.run(ctx, "deposit", func() error {
		return s.engine.Deposit(caller, amount)
	}, callerAttr(caller))
}

// Withdraw sequences Engine.Withdraw.
func (s *Sequencer) Withdraw(ctx context.Context, caller crypto.Address, amount *uint256.Int) error {
	return s.run(ctx, "withdraw", func() error {
		return s.engine.Withdraw(caller, amount)
	}, callerAttr(caller))
}

// Borrow sequences Engine.Borrow.
func (s *Sequencer) Borrow(ctx context.Context, caller crypto.Address, collateralAmount, borrowAmount *uint256.Int) (uint64, error) {
	var id uint64
	err := s.run(ctx, "borrow", func() error {
		var err error
		id, err = s.engine.Borrow(caller, collateralAmount, borrowAmount)
		return err
	}, callerAttr(caller))
	return id, err
}

// Repay sequences Engine.Repay.
func (s *Sequencer) Repay(ctx context.Context, caller crypto.Address, loanID uint64, amount *uint256.Int) (bool, error) {
	var closed bool
	err := s.run(ctx, "repay", func() error {
		var err error
		closed, err = s.engine.Repay(caller, loanID, amount)
		return err
	}, callerAttr(caller), loanAttr(loanID))
	return closed, err
}

// Liquidate sequences Engine.Liquidate.
func (s *Sequencer) Liquidate(ctx context.Context, caller crypto.Address, loanID uint64) (*LiquidationResult, error) {
	var result *LiquidationResult
	err := s.run(ctx, "liquidate", func() error {
		var err error
		result, err = s.engine.Liquidate(caller, loanID)
		return err
	}, callerAttr(caller), loanAttr(loanID))
	return result, err
}

// SetPrices sequences Engine.SetPrices and returns the parameters it
// installed.
func (s *Sequencer) SetPrices(ctx context.Context, caller crypto.Address, assetPrice, collateralPrice *uint256.Int) (RiskParameters, error) {
	var params RiskParameters
	err := s.run(ctx, "set_prices", func() error {
		if err := s.engine.SetPrices(caller, assetPrice, collateralPrice); err != nil {
			return err
		}
		params = s.engine.Params()
		return nil
	}, callerAttr(caller))
	return params, err
}

// SetLTV sequences Engine.SetLTV and returns the parameters it installed.
func (s *Sequencer) SetLTV(ctx context.Context, caller crypto.Address, ltv *uint256.Int) (RiskParameters, error) {
	var params RiskParameters
	err := s.run(ctx, "set_ltv", func() error {
		if err := s.engine.SetLTV(caller, ltv); err != nil {
			return err
		}
		params = s.engine.Params()
		return nil
	}, callerAttr(caller))
	return params, err
}

// SetPauses sequences Engine.SetPauses.
func (s *Sequencer) SetPauses(ctx context.Context, caller crypto.Address, pauses ActionPauses) error {
	return s.run(ctx, "set_pauses", func() error {
		return s.engine.SetPauses(caller, pauses)
	}, callerAttr(caller))
}

// TransferOperator sequences Engine.TransferOperator.
func (s *Sequencer) TransferOperator(ctx context.Context, caller, next crypto.Address) error {
	return s.run(ctx, "transfer_operator", func() error {
		return s.engine.TransferOperator(caller, next)
	}, callerAttr(caller))
}

// Loan returns a loan snapshot.
func (s *Sequencer) Loan(ctx context.Context, id uint64) (*Loan, error) {
	var loan *Loan
	err := s.run(ctx, "loan", func() error {
		var err error
		loan, err = s.engine.Loan(id)
		return err
	}, loanAttr(id))
	return loan, err
}

// Loans pages through the loan registry.
func (s *Sequencer) Loans(ctx context.Context, offset uint64, limit int) ([]*Loan, error) {
	var loans []*Loan
	err := s.run(ctx, "loans", func() error {
		var err error
		loans, err = s.engine.Loans(offset, limit)
		return err
	})
	return loans, err
}

// Health values a loan under the current parameters.
func (s *Sequencer) Health(ctx context.Context, id uint64) (*HealthReport, error) {
	var report *HealthReport
	err := s.run(ctx, "health", func() error {
		var err error
		report, err = s.engine.Health(id)
		return err
	}, loanAttr(id))
	return report, err
}

// Snapshot is a consistent view of the engine's configuration and pool.
type Snapshot struct {
	Operator  crypto.Address
	Params    RiskParameters
	Pauses    ActionPauses
	Pool      *PoolLedger
	LoanCount uint64
}

// Snapshot reads the configuration and pool under one acquisition.
func (s *Sequencer) Snapshot(ctx context.Context) (*Snapshot, error) {
	var snap *Snapshot
	err := s.run(ctx, "snapshot", func() error {
		pool, err := s.engine.Pool()
		if err != nil {
			return err
		}
		count, err := s.engine.LoanCount()
		if err != nil {
			return err
		}
		snap = &Snapshot{
			Operator:  s.engine.Operator(),
			Params:    s.engine.Params(),
			Pauses:    s.engine.Pauses(),
			Pool:      pool,
			LoanCount: count,
		}
		return nil
	})
	return snap, err
}
