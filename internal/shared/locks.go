package shared

import (
	"fmt"
	"strings"
)

// UnitLockKey builds the redis key guarding allocation of one engine/chassis identity.
func UnitLockKey(engineNo, chassisNo string) string {
	return fmt.Sprintf("allocation:unit:%s:%s", strings.ToUpper(strings.TrimSpace(engineNo)), strings.ToUpper(strings.TrimSpace(chassisNo)))
}

// PoolLockKey builds the redis key guarding the sellable pool of an item at a branch.
func PoolLockKey(branchID, itemID int64) string {
	return fmt.Sprintf("allocation:pool:%d:%d", branchID, itemID)
}
