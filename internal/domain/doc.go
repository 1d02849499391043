// Package domain defines the shared value types and error taxonomy for the
// participant ledger.
package domain
