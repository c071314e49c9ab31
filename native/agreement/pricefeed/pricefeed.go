// Package pricefeed provides collateral price sources that report the USD
// price of one whole token unit in 1e18 fixed-point.
package pricefeed

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	// ErrUnknownAsset is returned when a feed is asked to price an asset it does not track.
	ErrUnknownAsset = errors.New("pricefeed: unknown asset")
	// ErrInvalidAnswer is returned for missing, zero or negative aggregator answers.
	ErrInvalidAnswer = errors.New("pricefeed: invalid answer")
	// ErrAnswerOverflow is returned when a normalised answer exceeds 256 bits.
	ErrAnswerOverflow = errors.New("pricefeed: answer overflow")
)

const targetDecimals = 18

// Aggregator is an upstream feed reporting a signed answer with fixed decimals,
// e.g. 4000000000000 with 8 decimals for $40,000.
type Aggregator interface {
	LatestAnswer() (*big.Int, error)
	Decimals() uint8
}

// AggregatorFeed prices a single asset from an Aggregator and normalises the
// answer to 18 decimals.
type AggregatorFeed struct {
	asset      common.Address
	aggregator Aggregator
}

// NewAggregatorFeed binds an aggregator to the asset it prices.
func NewAggregatorFeed(asset common.Address, aggregator Aggregator) *AggregatorFeed {
	return &AggregatorFeed{asset: asset, aggregator: aggregator}
}

// Asset returns the token priced by the feed.
func (f *AggregatorFeed) Asset() common.Address { return f.asset }

// Price implements agreement.PriceSource.
func (f *AggregatorFeed) Price(asset common.Address) (*uint256.Int, error) {
	if f == nil || f.aggregator == nil {
		return nil, ErrInvalidAnswer
	}
	if asset != f.asset {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset.Hex())
	}
	answer, err := f.aggregator.LatestAnswer()
	if err != nil {
		return nil, fmt.Errorf("pricefeed: latest answer: %w", err)
	}
	return Normalize(answer, f.aggregator.Decimals())
}

func (f *AggregatorFeed) String() string {
	if f == nil {
		return "aggregator(<nil>)"
	}
	return "aggregator(" + f.asset.Hex() + ")"
}

// Normalize rescales a positive answer with the given decimals to 18 decimals.
// Answers with more than 18 decimals are truncated.
func Normalize(answer *big.Int, decimals uint8) (*uint256.Int, error) {
	if answer == nil || answer.Sign() <= 0 {
		return nil, ErrInvalidAnswer
	}
	scaled := new(big.Int).Set(answer)
	switch {
	case decimals < targetDecimals:
		scaled.Mul(scaled, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(targetDecimals-decimals)), nil))
	case decimals > targetDecimals:
		scaled.Quo(scaled, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-targetDecimals)), nil))
	}
	price, overflow := uint256.FromBig(scaled)
	if overflow {
		return nil, ErrAnswerOverflow
	}
	return price, nil
}

// StaticFeed serves prices set by its owner. Scenario runs and tests move
// prices through it.
type StaticFeed struct {
	mu     sync.RWMutex
	name   string
	prices map[common.Address]*uint256.Int
}

// NewStaticFeed creates an empty feed.
func NewStaticFeed(name string) *StaticFeed {
	return &StaticFeed{name: name, prices: make(map[common.Address]*uint256.Int)}
}

// Set stores an 18-decimal price for asset.
func (f *StaticFeed) Set(asset common.Address, price *uint256.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if price == nil {
		delete(f.prices, asset)
		return
	}
	f.prices[asset] = new(uint256.Int).Set(price)
}

// SetAnswer stores a price given as an aggregator-style answer.
func (f *StaticFeed) SetAnswer(asset common.Address, answer *big.Int, decimals uint8) error {
	price, err := Normalize(answer, decimals)
	if err != nil {
		return err
	}
	f.Set(asset, price)
	return nil
}

// Price implements agreement.PriceSource.
func (f *StaticFeed) Price(asset common.Address) (*uint256.Int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	price, ok := f.prices[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset.Hex())
	}
	return new(uint256.Int).Set(price), nil
}

func (f *StaticFeed) String() string { return "static(" + f.name + ")" }
