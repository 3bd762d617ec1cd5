package pipeline

import (
	"encoding/binary"

	"github.com/OneOfOne/xxhash"
	cuckoo "github.com/seiflotfy/cuckoofilter"
)

// passDeduplicate removes exact duplicate lines, preserving first
// occurrence. A cuckoo filter gives a fast "definitely new" path so large
// lists skip the exact-match bucket lookup entirely for the common case;
// a filter hit still falls through to an exact string comparison, so
// correctness never depends on the filter's false-positive rate.
func passDeduplicate(lines []string, _ Options) []string {
	filter := cuckoo.NewDefaultCuckooFilter()
	seen := make(map[uint64][]string, len(lines))
	out := make([]string, 0, len(lines))

	for _, line := range lines {
		h := xxhash.ChecksumString64(line)
		key := hashKeyBytes(h)
		if filter.Lookup(key) && containsExact(seen[h], line) {
			continue
		}
		filter.InsertUnique(key)
		seen[h] = append(seen[h], line)
		out = append(out, line)
	}
	return out
}

func hashKeyBytes(h uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, h)
	return b
}

func containsExact(bucket []string, line string) bool {
	for _, s := range bucket {
		if s == line {
			return true
		}
	}
	return false
}
