package rewards

const (
	eventSpeedUpdated       = "rewards.speed.updated"
	eventDistributed        = "rewards.distributed"
	eventClaimed            = "rewards.claimed"
	eventClaimDeferred      = "rewards.claim.deferred"
	eventContributorAccrued = "rewards.contributor.accrued"
)
