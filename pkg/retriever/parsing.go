package retriever

import (
	"strconv"
	"strings"
)

// parsePermutation extracts a complete 1-based permutation of 1..n from
// free-form LLM output. Integers are taken in reading order; values out
// of range and duplicates are skipped, and missing indices are appended
// in ascending order so the result always has length n.
func parsePermutation(reply string, n int) []int {
	if n <= 0 {
		return nil
	}

	perm := make([]int, 0, n)
	seen := make([]bool, n+1)

	for _, field := range strings.Fields(reply) {
		field = strings.Trim(field, ".,;:()[]#")
		idx, err := strconv.Atoi(field)
		if err != nil || idx < 1 || idx > n || seen[idx] {
			continue
		}
		seen[idx] = true
		perm = append(perm, idx)
	}

	for i := 1; i <= n; i++ {
		if !seen[i] {
			perm = append(perm, i)
		}
	}
	return perm
}

// identityPermutation returns [1, 2, ..., n].
func identityPermutation(n int) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i + 1
	}
	return perm
}

// parseQueryList extracts up to max query variants from an LLM reply
// formatted as a numbered or bulleted list. List markers are stripped;
// blank lines and lead-in commentary are discarded.
func parseQueryList(reply string, max int) []string {
	if max <= 0 {
		return nil
	}

	var queries []string
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "0123456789.-*) ")
		line = strings.TrimSpace(line)
		if line == "" || isCommentaryLine(line) {
			continue
		}
		queries = append(queries, line)
		if len(queries) == max {
			break
		}
	}
	return queries
}

// Lead-ins LLMs put before the actual list.
var commentaryPrefixes = []string{
	"here",
	"sure",
	"these",
	"below",
	"original",
	"alternative quer",
}

func isCommentaryLine(line string) bool {
	lower := strings.ToLower(line)
	for _, prefix := range commentaryPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
