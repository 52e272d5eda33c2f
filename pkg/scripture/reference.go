package scripture

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrUnrecognised is returned when text holds no chapter:verse reference.
var ErrUnrecognised = errors.New("scripture: unrecognised reference")

// Reference is a parsed verse range. Start is zero for a whole-chapter
// reference. EndChapter differs from Chapter only for cross-chapter ranges.
type Reference struct {
	Book       string
	Chapter    int
	Start      int
	End        int
	EndChapter int
	// Known reports whether Book resolved to a canonical book.
	Known bool
}

// SingleChapter reports whether the range stays inside one chapter.
func (r Reference) SingleChapter() bool { return r.EndChapter == r.Chapter }

// String renders the reference in "Book C:S-E" form.
func (r Reference) String() string {
	switch {
	case r.Start == 0:
		return fmt.Sprintf("%s %d", r.Book, r.Chapter)
	case !r.SingleChapter():
		return fmt.Sprintf("%s %d:%d-%d:%d", r.Book, r.Chapter, r.Start, r.EndChapter, r.End)
	case r.End <= r.Start:
		return fmt.Sprintf("%s %d:%d", r.Book, r.Chapter, r.Start)
	default:
		return fmt.Sprintf("%s %d:%d-%d", r.Book, r.Chapter, r.Start, r.End)
	}
}

const rangeSuffix = `\s*(\d{1,3})(?:\s*:\s*(\d{1,3})(?:\s*[-\x{2013}\x{2014}]\s*(?:(\d{1,3})\s*:\s*)?(\d{1,3}))?)?`

var (
	// fullRe anchors a whole string: any book-like words, then the range.
	fullRe = regexp.MustCompile(`^\s*((?:(?:[1-3]|i{1,3})\s*)?[A-Za-z][A-Za-z .']*?)\.?` + rangeSuffix + `\s*(?:\(.*\))?\s*$`)
	// extractRe finds known books followed by a range inside free text.
	extractRe *regexp.Regexp
)

func init() {
	extractRe = regexp.MustCompile(bookRe.String() + rangeSuffix + `\b`)
}

// Parse reads a single reference such as "John 3:16", "1 Cor 13:4-7",
// "Psalm 23" or "Genesis 1:31-2:3". A trailing parenthesised translation
// tag is ignored.
func Parse(s string) (Reference, error) {
	m := fullRe.FindStringSubmatch(s)
	if m == nil {
		return Reference{}, fmt.Errorf("%w: %q", ErrUnrecognised, s)
	}
	return build(m[1], m[2], m[3], m[4], m[5])
}

// Extract returns every known-book reference mentioned in text, in order.
func Extract(text string) []Reference {
	var out []Reference
	for _, m := range extractRe.FindAllStringSubmatch(text, -1) {
		ref, err := build(m[1], m[2], m[3], m[4], m[5])
		if err != nil {
			continue
		}
		out = append(out, ref)
	}
	return out
}

func build(book, chapter, start, endChapter, end string) (Reference, error) {
	name, known := CanonicalBook(book)
	if name == "" {
		return Reference{}, fmt.Errorf("%w: missing book", ErrUnrecognised)
	}
	ref := Reference{Book: name, Known: known}
	ref.Chapter = atoi(chapter)
	if ref.Chapter <= 0 {
		return Reference{}, fmt.Errorf("%w: chapter %q", ErrUnrecognised, chapter)
	}
	ref.EndChapter = ref.Chapter
	ref.Start = atoi(start)
	ref.End = ref.Start
	if end != "" {
		ref.End = atoi(end)
	}
	if endChapter != "" {
		ref.EndChapter = atoi(endChapter)
	}
	if ref.EndChapter < ref.Chapter || (ref.SingleChapter() && ref.End < ref.Start) {
		return Reference{}, fmt.Errorf("%w: descending range %s", ErrUnrecognised, strings.TrimSpace(book))
	}
	return ref, nil
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
