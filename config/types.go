package config

// Roles binds each agreement role to a hex address.
type Roles struct {
	Borrower string
	Executor string
	Governor string
}

// Collateral describes the single collateral asset of the position.
type Collateral struct {
	Address  string
	Decimals uint8
	// Cap is in whole units; empty or "0" leaves the collateral uncapped.
	Cap string
	// Price seeds the static feed with the USD price of one whole unit.
	Price string
}

// Risk holds the position's ratios as decimals, e.g. "0.75".
type Risk struct {
	CollateralFactor  string
	LiquidationFactor string
	CloseFactor       string
}

// Market describes a lending market the position may borrow from.
type Market struct {
	Address    string
	Underlying string
	Decimals   uint8
	// Price is the USD price of one whole unit of the underlying.
	Price string
	// ConverterRate is whole underlying units bought by one whole collateral
	// unit. Zero means no converter is registered for the market.
	ConverterRate uint64
}

// Journal selects where committed events are persisted.
type Journal struct {
	// Backend is "memory" or "leveldb".
	Backend string
	Path    string
}

// Telemetry configures OpenTelemetry export.
type Telemetry struct {
	Endpoint string
	Insecure bool
	Headers  map[string]string
	Traces   bool
	Metrics  bool
}
