package shared

import "fmt"

// ReversalLockKey builds lock keys guarding the reversal of one transaction.
func ReversalLockKey(transactionID string) string {
	return fmt.Sprintf("depot:transaction:%s:reversal-lock", transactionID)
}
