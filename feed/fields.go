package feed

// MergeFields pairs a flat name/value list into a map. A trailing name
// without a value is dropped; repeated names keep the last value.
func MergeFields(flat []string) map[string]string {
	merged := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		merged[flat[i]] = flat[i+1]
	}
	return merged
}
