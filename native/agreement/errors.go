package agreement

import "errors"

var (
	// ErrUnauthorized is returned when the caller lacks the role an operation requires.
	ErrUnauthorized = errors.New("agreement: unauthorized")
	// ErrUndercollateralized is returned when a borrow or withdraw would breach,
	// or already breaches, the collateral-factor bound.
	ErrUndercollateralized = errors.New("agreement: undercollateralized")
	// ErrNotLiquidatable is returned when debt has not crossed the liquidation threshold.
	ErrNotLiquidatable = errors.New("agreement: not liquidatable")
	// ErrLiquidateTooMuch is returned when a liquidation exceeds the close-factor bound.
	ErrLiquidateTooMuch = errors.New("agreement: liquidate too much")
	// ErrTooMuchCollateralNeeded is returned when an exact-out quote exceeds the
	// caller's collateral ceiling.
	ErrTooMuchCollateralNeeded = errors.New("agreement: too much collateral needed")
	// ErrEmptyConverter is returned for a nil converter or a market without one.
	ErrEmptyConverter = errors.New("agreement: empty converter")
	// ErrSourceMismatch is returned when a converter does not take the collateral asset.
	ErrSourceMismatch = errors.New("agreement: mismatch source token")
	// ErrDestinationMismatch is returned when a converter does not produce the
	// market's debt asset.
	ErrDestinationMismatch = errors.New("agreement: mismatch destination token")
	// ErrLengthMismatch is returned when market and converter lists differ in length.
	ErrLengthMismatch = errors.New("agreement: length mismatch")
	// ErrBorrowFailed flattens any failure reported by a market borrow.
	ErrBorrowFailed = errors.New("agreement: borrow failed")
	// ErrRepayFailed flattens any failure reported by a market repayment.
	ErrRepayFailed = errors.New("agreement: repay failed")
	// ErrTransferFailed flattens any failure reported by the custodian.
	ErrTransferFailed = errors.New("agreement: transfer failed")
	// ErrDepositExceedsCustody is returned when a deposit would record more
	// collateral than the custodian holds.
	ErrDepositExceedsCustody = errors.New("agreement: deposit exceeds custody")
	// ErrSeizeCollateralDenied is returned when the executor targets the collateral asset.
	ErrSeizeCollateralDenied = errors.New("agreement: seize collateral not allow")
	// ErrArithmeticUnderflow is returned when a hypothetical input exceeds what is held.
	ErrArithmeticUnderflow = errors.New("agreement: arithmetic underflow")
	// ErrArithmeticOverflow is returned when a fixed-point result exceeds 256 bits.
	ErrArithmeticOverflow = errors.New("agreement: arithmetic overflow")
	// ErrPriceUnavailable is returned when a price source or market oracle fails
	// or quotes zero.
	ErrPriceUnavailable = errors.New("agreement: price unavailable")
	// ErrConversionFailed flattens failures reported by a converter.
	ErrConversionFailed = errors.New("agreement: conversion failed")
	// ErrInvalidAmount is returned for nil amounts.
	ErrInvalidAmount = errors.New("agreement: invalid amount")
	// ErrNilMarket is returned when an operation receives no market.
	ErrNilMarket = errors.New("agreement: market not provided")
)
