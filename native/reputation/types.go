package reputation

import "errors"

// MaxScore is the upper clamp applied to every stored composite score.
const MaxScore uint64 = 1000

// Tier buckets a composite score into the lending risk band shared by the
// lending and liquidation engines. The mapping lives here so the two call
// sites cannot drift.
type Tier uint8

const (
	TierBronze Tier = iota
	TierSilver
	TierGold
	TierPlatinum
)

// String renders the canonical tier name.
func (t Tier) String() string {
	switch t {
	case TierPlatinum:
		return "platinum"
	case TierGold:
		return "gold"
	case TierSilver:
		return "silver"
	default:
		return "bronze"
	}
}

// TierOf derives the tier for a composite score. The thresholds are protocol
// constants: 800 for Platinum, 600 for Gold, 400 for Silver.
func TierOf(score uint64) Tier {
	switch {
	case score >= 800:
		return TierPlatinum
	case score >= 600:
		return TierGold
	case score >= 400:
		return TierSilver
	default:
		return TierBronze
	}
}

// SlashEntry captures a single punitive reduction for auditing.
type SlashEntry struct {
	Severity   uint64
	ScoreAfter uint64
	SlashedAt  int64
	SlashedBy  [20]byte
}

// Record holds the reputation state tracked per subject.
type Record struct {
	Subject       [20]byte
	Score         uint64
	CreatedAt     int64
	LastUpdatedAt int64
	Blacklisted   bool
	SlashHistory  []SlashEntry
}

// AgeMonths reports how many whole 30-day months the subject has carried a
// reputation record at the provided timestamp.
func (r *Record) AgeMonths(now int64) uint64 {
	if r == nil || r.CreatedAt <= 0 || now <= r.CreatedAt {
		return 0
	}
	return uint64(now-r.CreatedAt) / uint64(monthSeconds)
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	clone.SlashHistory = append([]SlashEntry(nil), r.SlashHistory...)
	return &clone
}

// ScoreFeed supplies the externally aggregated multi-factor composite score.
// The weighting formula behind the number is out of scope for the credit
// core; the value is treated as authoritative at claim acceptance time.
type ScoreFeed interface {
	CompositeScore(subject [20]byte) (uint64, error)
}

var (
	// ErrRecordNotFound marks subjects without a reputation record.
	ErrRecordNotFound = errors.New("reputation: record not found")
	// ErrInvalidSeverity is returned for slash severities outside (0,100].
	ErrInvalidSeverity = errors.New("reputation: severity out of range")
	// ErrNotBlacklisted marks restore calls for subjects that are not
	// blacklisted.
	ErrNotBlacklisted = errors.New("reputation: subject not blacklisted")
	// ErrNilScoreFeed marks register attempts without a configured feed.
	ErrNilScoreFeed = errors.New("reputation: score feed not configured")
)
