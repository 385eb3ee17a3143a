package engine

import "fmt"

// Record is one input row: a unique positive identifier, the free-text field
// used for matching, and passthrough attributes the core never touches.
type Record struct {
	ID    int64
	Text  string
	Attrs map[string]string
}

// Attr returns a passthrough attribute value, "" if absent.
func (r Record) Attr(name string) string {
	if r.Attrs == nil {
		return ""
	}
	return r.Attrs[name]
}

// validateRecords enforces the fatal input contract: every record needs a
// positive id, unique within the batch and disjoint from taken ids. Empty
// text is not an error; it resolves to the no-tokens state downstream.
func validateRecords(records []Record, taken map[int64]Record) error {
	seen := make(map[int64]struct{}, len(records))
	for _, r := range records {
		if r.ID <= 0 {
			return fmt.Errorf("record with missing id (text %q)", r.Text)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("duplicate record id %d in batch", r.ID)
		}
		if taken != nil {
			if existing, ok := taken[r.ID]; ok {
				return fmt.Errorf("record id %d already present in prime table (text %q)", r.ID, existing.Text)
			}
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}
