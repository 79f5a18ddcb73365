package lending

import "trustline/native/reputation"

// TierParams holds the risk pricing applied to a reputation tier.
type TierParams struct {
	// MaxLTVBps is the highest borrow/collateral ratio permitted at loan
	// creation, in basis points.
	MaxLTVBps uint64
	// APRBps is the annual interest rate frozen into loans opened at this
	// tier, in basis points.
	APRBps uint64
}

// RiskParameters groups the per-tier pricing tables consulted at borrow time.
type RiskParameters struct {
	Tiers map[reputation.Tier]TierParams
}

// DefaultRiskParameters returns the protocol default tier tables. Lower tiers
// borrow at tighter LTV and higher APR.
func DefaultRiskParameters() RiskParameters {
	return RiskParameters{
		Tiers: map[reputation.Tier]TierParams{
			reputation.TierBronze:   {MaxLTVBps: 5000, APRBps: 1800},
			reputation.TierSilver:   {MaxLTVBps: 6000, APRBps: 1200},
			reputation.TierGold:     {MaxLTVBps: 7500, APRBps: 800},
			reputation.TierPlatinum: {MaxLTVBps: 9000, APRBps: 500},
		},
	}
}

// ParamsFor resolves the pricing for a tier, falling back to the Bronze row
// when a table omits the tier.
func (p RiskParameters) ParamsFor(tier reputation.Tier) TierParams {
	if params, ok := p.Tiers[tier]; ok {
		return params
	}
	return p.Tiers[reputation.TierBronze]
}
