package domain

import "fmt"

// FormatReference renders a verse range. A single verse (end <= start) has no
// range suffix.
func FormatReference(book string, chapter, start, end int) string {
	if end <= start {
		return fmt.Sprintf("%s %d:%d", book, chapter, start)
	}
	return fmt.Sprintf("%s %d:%d-%d", book, chapter, start, end)
}
