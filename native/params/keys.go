package params

const (
	// ParamsKeyChallengeTimeout is the number of seconds a dispute stays
	// finalizable after it was opened.
	ParamsKeyChallengeTimeout = "validation/challenge_timeout_period"
	// ParamsKeyLaunchTimestamp is the unix time of consensus-layer genesis.
	ParamsKeyLaunchTimestamp = "validation/consensus_launch_timestamp"
	// ParamsKeyEpochTime is the length of a validator epoch in seconds.
	ParamsKeyEpochTime = "validation/validator_epoch_time"
	// ParamsKeySecurityDeposit is the bond escrowed when a dispute is opened.
	ParamsKeySecurityDeposit = "validation/dispute_security_deposit"
	// ParamsKeyBeaconRootAddress is the beacon-roots contract address.
	ParamsKeyBeaconRootAddress = "validation/consensus_beacon_root_address"
	// ParamsKeyBeaconTimeWindow is the number of epochs past the current one
	// that still count as inside the window.
	ParamsKeyBeaconTimeWindow = "validation/beacon_time_window"
	// ParamsKeyResolverAuthority is the only address allowed to reject disputes.
	ParamsKeyResolverAuthority = "validation/resolver_authority"
)
