package pbf

// StringTable interns strings for a single block in first-seen order,
// reserving index 0 for the table's sentinel empty entry (the reference
// codec uses a throwaway sentinel string; an empty string serves the same
// purpose and round-trips cleanly).
type StringTable struct {
	index map[string]uint64
	order []string
}

// NewStringTable returns an empty table with slot 0 reserved.
func NewStringTable() *StringTable {
	return &StringTable{index: make(map[string]uint64), order: []string{""}}
}

// Intern returns s's index, assigning a new one in first-seen order.
func (t *StringTable) Intern(s string) uint64 {
	if idx, ok := t.index[s]; ok {
		return idx
	}
	idx := uint64(len(t.order))
	t.index[s] = idx
	t.order = append(t.order, s)
	return idx
}

// Len returns the number of distinct strings, including the slot-0 sentinel.
func (t *StringTable) Len() int {
	return len(t.order)
}

// Pack serializes the table as a sequence of field-1 byte-array tags, in
// index order, matching the block's leading string-table field.
func (t *StringTable) Pack() []byte {
	var buf []byte
	for _, s := range t.order {
		buf = PackData(buf, 1, []byte(s))
	}
	return buf
}

// ReadStringTable decodes a packed string table's field-1 entries in order.
func ReadStringTable(data []byte) ([]string, error) {
	tags, err := IterTags(data)
	if err != nil {
		return nil, err
	}
	strs := make([]string, 0, len(tags))
	for _, t := range tags {
		strs = append(strs, string(t.Data))
	}
	return strs, nil
}
