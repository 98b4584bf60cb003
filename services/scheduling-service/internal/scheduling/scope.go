package scheduling

import (
	"strconv"
	"strings"
)

type Scope string

const (
	ScopeThisOnly      Scope = "this_only"
	ScopeThisAndFuture Scope = "this_and_future"
	ScopeAll           Scope = "all"
)

func ParseScope(raw string) (Scope, bool) {
	switch s := Scope(strings.TrimSpace(raw)); s {
	case ScopeThisOnly, ScopeThisAndFuture, ScopeAll:
		return s, true
	case "":
		return ScopeThisOnly, true
	}
	return "", false
}

const (
	blockEntryPrefix    = "block:"
	externalEntryPrefix = "ext:"
)

// BlockEntryID is the calendar-view id of an availability block.
func BlockEntryID(blockID string) string {
	return blockEntryPrefix + blockID
}

// ExternalEntryID is the calendar-view id of the n-th external busy interval
// of a provider.
func ExternalEntryID(providerID string, n int) string {
	return externalEntryPrefix + providerID + ":" + strconv.Itoa(n)
}

// IsSynthetic reports whether id names a calendar entry that is not an
// appointment row.
func IsSynthetic(id string) bool {
	return strings.HasPrefix(id, blockEntryPrefix) || strings.HasPrefix(id, externalEntryPrefix)
}
