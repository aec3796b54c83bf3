package archive

import "fmt"

// ValidateLimit checks a list limit against 1..MaxListLimit.
func ValidateLimit(limit int) error {
	if limit < 1 || limit > MaxListLimit {
		return fmt.Errorf("%w: %d not in 1..%d", ErrInvalidLimit, limit, MaxListLimit)
	}

	return nil
}

// Tail applies the Index.List contract to records held in append order: it drops
// records created at or before since and keeps the last limit of the rest.
func Tail(records []Record, since string, limit int) []Record {
	since = NormalizeSince(since)

	kept := make([]Record, 0, len(records))

	for _, record := range records {
		if since != "" && record.CreatedAt <= since {
			continue
		}

		kept = append(kept, record)
	}

	if len(kept) > limit {
		kept = kept[len(kept)-limit:]
	}

	return kept
}
