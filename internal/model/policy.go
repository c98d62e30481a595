package model

import "fmt"

// PendingPolicy selects which records count as needing a preview.
type PendingPolicy string

const (
	// PendingEmpty selects records whose derived location is NULL or empty.
	PendingEmpty PendingPolicy = "empty"
	// PendingEqualsOriginal additionally selects records whose derived location
	// was seeded with the original location at upload time.
	PendingEqualsOriginal PendingPolicy = "equals_original"
)

// ParsePendingPolicy validates a policy name.
func ParsePendingPolicy(s string) (PendingPolicy, error) {
	switch p := PendingPolicy(s); p {
	case PendingEmpty, PendingEqualsOriginal:
		return p, nil
	default:
		return "", fmt.Errorf("unknown pending policy %q", s)
	}
}
