// Package domain defines core data models and interfaces shared across pulse.
// It contains plain types (wire/state), contracts (interfaces) and the
// sentinel errors of the crypto core only.
package domain
