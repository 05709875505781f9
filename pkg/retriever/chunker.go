package retriever

import "strings"

// SplitText splits text into chunks of roughly chunkSize characters,
// cutting at paragraph and line boundaries where possible and hard
// splitting only segments with no usable boundary. The trailing overlap
// characters of each chunk seed the next one so context spanning a cut
// survives in both chunks.
func SplitText(text string, chunkSize, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if chunkSize <= 0 {
		return []string{text}
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 0
	}

	var chunks []string
	current := ""
	for _, seg := range segments(text, chunkSize) {
		switch {
		case current == "":
			current = seg
		case len(current)+1+len(seg) <= chunkSize:
			current += "\n" + seg
		default:
			chunks = append(chunks, current)
			if tail := overlapTail(current, overlap); tail != "" {
				current = tail + " " + seg
			} else {
				current = seg
			}
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

// segments cuts text into pieces no longer than limit: paragraphs
// first, then lines, then a hard split at the nearest space.
func segments(text string, limit int) []string {
	var segs []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) <= limit {
			segs = append(segs, para)
			continue
		}
		for _, line := range strings.Split(para, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if len(line) <= limit {
				segs = append(segs, line)
				continue
			}
			segs = append(segs, hardSplit(line, limit)...)
		}
	}
	return segs
}

// hardSplit cuts text at limit-sized boundaries, backing up to the last
// space in the second half of the window and never splitting a rune.
func hardSplit(text string, limit int) []string {
	var parts []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == ' ' {
				cut = i
				break
			}
		}
		if part := strings.TrimSpace(string(runes[:cut])); part != "" {
			parts = append(parts, part)
		}
		runes = runes[cut:]
		for len(runes) > 0 && runes[0] == ' ' {
			runes = runes[1:]
		}
	}
	if part := strings.TrimSpace(string(runes)); part != "" {
		parts = append(parts, part)
	}
	return parts
}

// overlapTail returns the last n characters of text, advanced to the
// next word boundary so chunks never start mid-word.
func overlapTail(text string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(text) <= n {
		return text
	}
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	tail := string(runes[len(runes)-n:])
	if idx := strings.IndexByte(tail, ' '); idx >= 0 && idx+1 < len(tail) {
		tail = tail[idx+1:]
	}
	return tail
}
