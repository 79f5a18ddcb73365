package reputation

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"trustline/core/events"
	nativecommon "trustline/native/common"
)

// storage abstracts the subset of state manager functionality required by the
// reputation ledger.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var recordPrefix = []byte("reputation/record/")

func recordKey(subject [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%s", recordPrefix, hex.EncodeToString(subject[:])))
}

const (
	// DecayPointsPerMonth is deducted from the score for every whole
	// 30-day month since the record was last refreshed.
	DecayPointsPerMonth uint64 = 10
	// SlashBlacklistThreshold is the severity percentage at or above which
	// a slash also blacklists the subject.
	SlashBlacklistThreshold uint64 = 50

	monthSeconds int64 = 30 * 24 * 60 * 60
)

// Ledger persists per-subject reputation records and applies the decay,
// slashing and restoration transitions.
type Ledger struct {
	store storage
	feed  ScoreFeed
	roles nativecommon.RoleView
	emit  events.Emitter
	nowFn func() int64
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store storage) *Ledger {
	return &Ledger{
		store: store,
		emit:  events.NoopEmitter{},
		nowFn: func() int64 { return time.Now().Unix() },
	}
}

// SetScoreFeed wires the external composite score capability.
func (l *Ledger) SetScoreFeed(feed ScoreFeed) {
	if l == nil {
		return
	}
	l.feed = feed
}

// SetRoles wires the access-control view consulted by Slash and Restore.
func (l *Ledger) SetRoles(view nativecommon.RoleView) {
	if l == nil {
		return
	}
	l.roles = view
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if l == nil {
		return
	}
	if emitter == nil {
		l.emit = events.NoopEmitter{}
		return
	}
	l.emit = emitter
}

// SetNowFunc overrides the wall clock used for decay arithmetic. Primarily
// leveraged in tests to provide deterministic timestamps.
func (l *Ledger) SetNowFunc(now func() int64) {
	if l == nil {
		return
	}
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

func (l *Ledger) now() int64 {
	if l == nil || l.nowFn == nil {
		return time.Now().Unix()
	}
	return l.nowFn()
}

// storedRecord is the RLP-friendly persisted form of Record. Timestamps are
// widened to uint64 because the codec rejects signed integers.
type storedRecord struct {
	Subject       [20]byte
	Score         uint64
	CreatedAt     uint64
	LastUpdatedAt uint64
	Blacklisted   bool
	SlashHistory  []storedSlashEntry
}

type storedSlashEntry struct {
	Severity   uint64
	ScoreAfter uint64
	SlashedAt  uint64
	SlashedBy  [20]byte
}

func (l *Ledger) load(subject [20]byte) (*Record, bool, error) {
	if l == nil || l.store == nil {
		return nil, false, errors.New("reputation: storage unavailable")
	}
	var stored storedRecord
	ok, err := l.store.KVGet(recordKey(subject), &stored)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	record := &Record{
		Subject:       stored.Subject,
		Score:         stored.Score,
		CreatedAt:     int64(stored.CreatedAt),
		LastUpdatedAt: int64(stored.LastUpdatedAt),
		Blacklisted:   stored.Blacklisted,
	}
	for _, entry := range stored.SlashHistory {
		record.SlashHistory = append(record.SlashHistory, SlashEntry{
			Severity:   entry.Severity,
			ScoreAfter: entry.ScoreAfter,
			SlashedAt:  int64(entry.SlashedAt),
			SlashedBy:  entry.SlashedBy,
		})
	}
	return record, true, nil
}

func (l *Ledger) persist(record *Record) error {
	if l == nil || l.store == nil {
		return errors.New("reputation: storage unavailable")
	}
	stored := storedRecord{
		Subject:       record.Subject,
		Score:         record.Score,
		CreatedAt:     uint64(record.CreatedAt),
		LastUpdatedAt: uint64(record.LastUpdatedAt),
		Blacklisted:   record.Blacklisted,
	}
	for _, entry := range record.SlashHistory {
		stored.SlashHistory = append(stored.SlashHistory, storedSlashEntry{
			Severity:   entry.Severity,
			ScoreAfter: entry.ScoreAfter,
			SlashedAt:  uint64(entry.SlashedAt),
			SlashedBy:  entry.SlashedBy,
		})
	}
	return l.store.KVPut(recordKey(record.Subject), &stored)
}

// Record returns a copy of the stored reputation record for the subject.
func (l *Ledger) Record(subject [20]byte) (*Record, error) {
	record, ok, err := l.load(subject)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRecordNotFound
	}
	return record.Clone(), nil
}

// Score returns the decay-adjusted composite score for the subject. Subjects
// without a record score zero. The stored record is not mutated; callers that
// want the decay persisted use ApplyDecay.
func (l *Ledger) Score(subject [20]byte) uint64 {
	record, ok, err := l.load(subject)
	if err != nil || !ok {
		return 0
	}
	score, _ := decayedScore(record, l.now())
	return score
}

// Blacklisted reports whether the subject carries the blacklist flag.
func (l *Ledger) Blacklisted(subject [20]byte) bool {
	record, ok, err := l.load(subject)
	if err != nil || !ok {
		return false
	}
	return record.Blacklisted
}

// RegisterClaim records an accepted proof-of-holding claim for the subject.
// The composite score is pulled from the external feed, clamped to
// [0, MaxScore] and stored with a refreshed decay anchor. Claim registration
// is decay-exempt: it overwrites whatever decayed value was in place.
func (l *Ledger) RegisterClaim(subject [20]byte, minBalanceWei *big.Int, durationCheckpoints uint64) error {
	if l == nil || l.store == nil {
		return errors.New("reputation: storage unavailable")
	}
	if l.feed == nil {
		return ErrNilScoreFeed
	}
	score, err := l.feed.CompositeScore(subject)
	if err != nil {
		return err
	}
	if score > MaxScore {
		score = MaxScore
	}
	now := l.now()
	record, ok, err := l.load(subject)
	if err != nil {
		return err
	}
	if !ok {
		record = &Record{Subject: subject, CreatedAt: now}
	}
	record.Score = score
	record.LastUpdatedAt = now
	if err := l.persist(record); err != nil {
		return err
	}
	l.emit.Emit(ReputationUpdated{
		Subject: subject,
		Score:   record.Score,
		Reason:  UpdateReasonClaimAccepted,
	})
	return nil
}

// RecordRepayment registers a successful full repayment. The composite feed
// is consulted when available; otherwise the current score is merely
// refreshed so decay restarts from now.
func (l *Ledger) RecordRepayment(subject [20]byte) error {
	return l.refresh(subject, UpdateReasonLoanRepaid)
}

// RecordLiquidation registers a liquidated loan against the subject. The
// decayed score is persisted and the decay anchor refreshed so the penalty
// from the external feed lands on the next claim registration.
func (l *Ledger) RecordLiquidation(subject [20]byte) error {
	return l.refresh(subject, UpdateReasonLoanLiquidated)
}

func (l *Ledger) refresh(subject [20]byte, reason string) error {
	now := l.now()
	record, ok, err := l.load(subject)
	if err != nil {
		return err
	}
	if !ok {
		record = &Record{Subject: subject, CreatedAt: now}
	}
	if l.feed != nil {
		score, feedErr := l.feed.CompositeScore(subject)
		if feedErr == nil {
			if score > MaxScore {
				score = MaxScore
			}
			record.Score = score
		}
	}
	record.LastUpdatedAt = now
	if err := l.persist(record); err != nil {
		return err
	}
	l.emit.Emit(ReputationUpdated{Subject: subject, Score: record.Score, Reason: reason})
	return nil
}

// ApplyDecay persists the time-based score reduction: DecayPointsPerMonth for
// every whole month since LastUpdatedAt, floored at zero. Re-applying with
// the same clock reading is a no-op.
func (l *Ledger) ApplyDecay(subject [20]byte) (uint64, error) {
	record, ok, err := l.load(subject)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrRecordNotFound
	}
	now := l.now()
	score, months := decayedScore(record, now)
	if months == 0 {
		return record.Score, nil
	}
	record.Score = score
	// Advance the anchor by whole months only so partial months keep
	// accumulating toward the next deduction.
	record.LastUpdatedAt += int64(months) * monthSeconds
	if err := l.persist(record); err != nil {
		return 0, err
	}
	l.emit.Emit(ReputationUpdated{Subject: subject, Score: record.Score, Reason: UpdateReasonDecay})
	return record.Score, nil
}

// Slash reduces the subject's score proportionally to severityPercent. A
// severity at or above SlashBlacklistThreshold additionally blacklists the
// subject. Only principals holding RoleSlasher may slash.
func (l *Ledger) Slash(subject [20]byte, severityPercent uint64, caller [20]byte) (*Record, error) {
	if err := nativecommon.RequireRole(l.roles, nativecommon.RoleSlasher, caller); err != nil {
		return nil, err
	}
	if severityPercent == 0 || severityPercent > 100 {
		return nil, ErrInvalidSeverity
	}
	record, ok, err := l.load(subject)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRecordNotFound
	}
	now := l.now()
	score, _ := decayedScore(record, now)
	record.Score = score * (100 - severityPercent) / 100
	record.LastUpdatedAt = now
	if severityPercent >= SlashBlacklistThreshold {
		record.Blacklisted = true
	}
	record.SlashHistory = append(record.SlashHistory, SlashEntry{
		Severity:   severityPercent,
		ScoreAfter: record.Score,
		SlashedAt:  now,
		SlashedBy:  caller,
	})
	if err := l.persist(record); err != nil {
		return nil, err
	}
	l.emit.Emit(ReputationSlashed{Subject: subject, Severity: severityPercent, Score: record.Score})
	return record.Clone(), nil
}

// Restore clears the blacklist flag. Lost points are not restored; only new
// claim registrations can raise the score again. Admin only.
func (l *Ledger) Restore(subject [20]byte, caller [20]byte) error {
	if err := nativecommon.RequireRole(l.roles, nativecommon.RoleAdmin, caller); err != nil {
		return err
	}
	record, ok, err := l.load(subject)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRecordNotFound
	}
	if !record.Blacklisted {
		return ErrNotBlacklisted
	}
	record.Blacklisted = false
	if err := l.persist(record); err != nil {
		return err
	}
	l.emit.Emit(ReputationRestored{Subject: subject, Score: record.Score})
	return nil
}

func decayedScore(record *Record, now int64) (uint64, uint64) {
	if record == nil {
		return 0, 0
	}
	if record.LastUpdatedAt <= 0 || now <= record.LastUpdatedAt {
		return record.Score, 0
	}
	months := uint64(now-record.LastUpdatedAt) / uint64(monthSeconds)
	if months == 0 {
		return record.Score, 0
	}
	deduction := months * DecayPointsPerMonth
	if deduction >= record.Score {
		return 0, months
	}
	return record.Score - deduction, months
}
