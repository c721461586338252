// Package historicalmoments defines the Table of named fork heights
// every Signum chain node agrees on, mirroring go-ethereum's
// params.ChainConfig in shape: a struct of override-able uint64 fields,
// each defaulted to the value mainnet activated it at.
//
// The coordination core defined in this module never reads Table; it
// exists purely as a configuration input for the future BlockIngestor
// collaborator (§9's historical-moments decision).
package historicalmoments

// Table is the set of heights at which a hard-forking behavior change
// takes effect. A zero field means "not yet assigned an override" only
// before Default() runs; after that every field is a concrete height.
type Table struct {
	Genesis                     uint64
	RewardRecipientEnable       uint64
	DigitalGoodsStoreEnable     uint64
	AutomatedTransactionEnable  uint64
	AutomatedTransactionFix1    uint64
	AutomatedTransactionFix2    uint64
	AutomatedTransactionFix3    uint64
	PrePoc2                     uint64
	Poc2Enable                  uint64
	SodiumEnable                uint64
	SignumNameChange            uint64
	PocPlusEnable               uint64
	SpeedwayEnable              uint64
	SmartTokenEnable            uint64
	SmartFeesEnable             uint64
	SmartAtsEnable              uint64
	AutomatedTransactionFix4    uint64
	DistributionFixEnable       uint64
	PkFreeze                    uint64
	PkFreeze2                   uint64
	SmartAliasEnable            uint64
	// NextFork is always the maximum representable height, so code that
	// compares "current height >= next fork" never trips before the
	// table is updated with a real value.
	NextFork uint64
}

// Default returns mainnet's historical moments table. Callers may copy
// and override individual fields from configuration before wiring the
// table to a BlockIngestor.
func Default() Table {
	return Table{
		Genesis:                    0,
		RewardRecipientEnable:      6_500,
		DigitalGoodsStoreEnable:    11_800,
		AutomatedTransactionEnable: 49_200,
		AutomatedTransactionFix1:   67_000,
		AutomatedTransactionFix2:   92_000,
		AutomatedTransactionFix3:   255_000,
		PrePoc2:                    500_000,
		Poc2Enable:                 502_000,
		SodiumEnable:               765_000,
		SignumNameChange:           875_000,
		PocPlusEnable:              878_000,
		SpeedwayEnable:             941_100,
		SmartTokenEnable:           1_029_000,
		SmartFeesEnable:            1_029_000,
		SmartAtsEnable:             1_029_000,
		AutomatedTransactionFix4:   1_051_900,
		DistributionFixEnable:      1_051_900,
		PkFreeze:                   1_099_400,
		PkFreeze2:                  1_150_000,
		SmartAliasEnable:           1_150_000,
		NextFork:                   ^uint64(0),
	}
}
