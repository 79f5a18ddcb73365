package lending

import (
	"math/big"
)

// BorrowSample records one committed borrow inside the breaker window.
type BorrowSample struct {
	Timestamp int64
	AmountWei *big.Int
}

// breakerState abstracts the persistence needed for the rolling borrow
// window. The state manager keys samples per pool type.
type breakerState interface {
	BreakerWindowGet(poolType string) ([]BorrowSample, error)
	BreakerWindowPut(poolType string, samples []BorrowSample) error
}

// DefaultBreakerWindowSeconds is the trailing accounting window for borrow
// volume.
const DefaultBreakerWindowSeconds int64 = 3600

// CircuitBreaker bounds the aggregate borrow volume per pool over a trailing
// window, limiting worst-case drain velocity even from high-reputation
// accounts.
type CircuitBreaker struct {
	state         breakerState
	capWei        *big.Int
	poolCapsWei   map[string]*big.Int
	windowSeconds int64
}

// NewCircuitBreaker constructs a breaker with the provided default cap,
// applied to every pool without an explicit override. A nil or zero cap
// disables enforcement for the pools it covers.
func NewCircuitBreaker(state breakerState, capWei *big.Int) *CircuitBreaker {
	breaker := &CircuitBreaker{
		state:         state,
		poolCapsWei:   make(map[string]*big.Int),
		windowSeconds: DefaultBreakerWindowSeconds,
	}
	if capWei != nil {
		breaker.capWei = new(big.Int).Set(capWei)
	}
	return breaker
}

// SetPoolCap overrides the cap for a single pool type.
func (b *CircuitBreaker) SetPoolCap(poolType string, capWei *big.Int) {
	if b == nil {
		return
	}
	if b.poolCapsWei == nil {
		b.poolCapsWei = make(map[string]*big.Int)
	}
	if capWei == nil {
		delete(b.poolCapsWei, poolType)
		return
	}
	b.poolCapsWei[poolType] = new(big.Int).Set(capWei)
}

// SetWindowSeconds overrides the trailing window length.
func (b *CircuitBreaker) SetWindowSeconds(seconds int64) {
	if b == nil || seconds <= 0 {
		return
	}
	b.windowSeconds = seconds
}

func (b *CircuitBreaker) capFor(poolType string) *big.Int {
	if b == nil {
		return nil
	}
	if limit, ok := b.poolCapsWei[poolType]; ok {
		return limit
	}
	return b.capWei
}

// Allow reports whether an additional borrow of amount fits under the cap
// considering every sample in the trailing window. It performs no mutation so
// a rejected borrow leaves no trace.
func (b *CircuitBreaker) Allow(poolType string, amount *big.Int, now int64) error {
	limit := b.capFor(poolType)
	if limit == nil || limit.Sign() == 0 {
		return nil
	}
	if b.state == nil {
		return errNilState
	}
	samples, err := b.state.BreakerWindowGet(poolType)
	if err != nil {
		return err
	}
	cutoff := now - b.windowSeconds
	total := new(big.Int)
	for _, sample := range samples {
		if sample.Timestamp <= cutoff || sample.AmountWei == nil {
			continue
		}
		total.Add(total, sample.AmountWei)
	}
	total.Add(total, amount)
	if total.Cmp(limit) > 0 {
		return ErrCircuitBreakerExceeded
	}
	return nil
}

// Record persists a committed borrow sample and prunes entries that fell out
// of the window.
func (b *CircuitBreaker) Record(poolType string, amount *big.Int, now int64) error {
	limit := b.capFor(poolType)
	if limit == nil || limit.Sign() == 0 {
		return nil
	}
	if b.state == nil {
		return errNilState
	}
	samples, err := b.state.BreakerWindowGet(poolType)
	if err != nil {
		return err
	}
	cutoff := now - b.windowSeconds
	pruned := make([]BorrowSample, 0, len(samples)+1)
	for _, sample := range samples {
		if sample.Timestamp <= cutoff {
			continue
		}
		pruned = append(pruned, sample)
	}
	pruned = append(pruned, BorrowSample{Timestamp: now, AmountWei: new(big.Int).Set(amount)})
	return b.state.BreakerWindowPut(poolType, pruned)
}
