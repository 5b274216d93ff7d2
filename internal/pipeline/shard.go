package pipeline

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Shard selects every Count-th document starting at Index, so cooperating
// processes can split one corpus. The zero value selects everything.
type Shard struct {
	Index int
	Count int
}

// ParseShard parses "i/n" with 0 <= i < n. An empty string is no sharding.
func ParseShard(s string) (Shard, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Shard{}, nil
	}
	idx, cnt, ok := strings.Cut(s, "/")
	if !ok {
		return Shard{}, eris.Errorf("pipeline: shard %q must look like i/n", s)
	}
	i, err1 := strconv.Atoi(strings.TrimSpace(idx))
	n, err2 := strconv.Atoi(strings.TrimSpace(cnt))
	if err1 != nil || err2 != nil || n < 1 || i < 0 || i >= n {
		return Shard{}, eris.Errorf("pipeline: invalid shard %q", s)
	}
	return Shard{Index: i, Count: n}, nil
}

// Enabled reports whether the shard splits the corpus.
func (s Shard) Enabled() bool { return s.Count > 1 }

// Includes reports whether the document at position pos belongs to the shard.
func (s Shard) Includes(pos int) bool {
	if !s.Enabled() {
		return true
	}
	return pos%s.Count == s.Index
}

func (s Shard) String() string {
	if !s.Enabled() {
		return ""
	}
	return strconv.Itoa(s.Index) + "/" + strconv.Itoa(s.Count)
}
