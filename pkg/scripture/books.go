// Package scripture parses and normalises free-text verse references
// ("1 Cor 13:4-7", "Ps. 23:1") against the canonical Protestant book list.
package scripture

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Books is the canonical book order.
var Books = []string{
	"Genesis", "Exodus", "Leviticus", "Numbers", "Deuteronomy",
	"Joshua", "Judges", "Ruth", "1 Samuel", "2 Samuel",
	"1 Kings", "2 Kings", "1 Chronicles", "2 Chronicles", "Ezra",
	"Nehemiah", "Esther", "Job", "Psalms", "Proverbs",
	"Ecclesiastes", "Song of Solomon", "Isaiah", "Jeremiah", "Lamentations",
	"Ezekiel", "Daniel", "Hosea", "Joel", "Amos",
	"Obadiah", "Jonah", "Micah", "Nahum", "Habakkuk",
	"Zephaniah", "Haggai", "Zechariah", "Malachi",
	"Matthew", "Mark", "Luke", "John", "Acts",
	"Romans", "1 Corinthians", "2 Corinthians", "Galatians", "Ephesians",
	"Philippians", "Colossians", "1 Thessalonians", "2 Thessalonians", "1 Timothy",
	"2 Timothy", "Titus", "Philemon", "Hebrews", "James",
	"1 Peter", "2 Peter", "1 John", "2 John", "3 John",
	"Jude", "Revelation",
}

// bookAliases maps abbreviations and variant spellings to canonical names.
// Canonical names (lowercased) are added in init.
var bookAliases = map[string]string{
	"gen": "Genesis", "gn": "Genesis",
	"ex": "Exodus", "exod": "Exodus",
	"lev": "Leviticus", "lv": "Leviticus",
	"num": "Numbers", "nm": "Numbers",
	"deut": "Deuteronomy", "dt": "Deuteronomy",
	"josh": "Joshua", "judg": "Judges", "jdg": "Judges",
	"1 sam": "1 Samuel", "2 sam": "2 Samuel",
	"1 kgs": "1 Kings", "2 kgs": "2 Kings",
	"1 chron": "1 Chronicles", "2 chron": "2 Chronicles", "1 chr": "1 Chronicles", "2 chr": "2 Chronicles",
	"neh": "Nehemiah", "esth": "Esther",
	"ps": "Psalms", "psa": "Psalms", "psalm": "Psalms", "pss": "Psalms",
	"prov": "Proverbs", "prv": "Proverbs",
	"eccl": "Ecclesiastes", "eccles": "Ecclesiastes", "qoh": "Ecclesiastes",
	"song": "Song of Solomon", "song of songs": "Song of Solomon", "sos": "Song of Solomon", "canticles": "Song of Solomon",
	"isa": "Isaiah", "jer": "Jeremiah", "lam": "Lamentations",
	"ezek": "Ezekiel", "dan": "Daniel", "hos": "Hosea",
	"obad": "Obadiah", "jon": "Jonah", "mic": "Micah", "nah": "Nahum",
	"hab": "Habakkuk", "zeph": "Zephaniah", "hag": "Haggai",
	"zech": "Zechariah", "mal": "Malachi",
	"matt": "Matthew", "mt": "Matthew", "mk": "Mark", "mrk": "Mark",
	"lk": "Luke", "luk": "Luke", "jn": "John", "jhn": "John",
	"rom": "Romans", "rm": "Romans",
	"1 cor": "1 Corinthians", "2 cor": "2 Corinthians",
	"gal": "Galatians", "eph": "Ephesians", "phil": "Philippians", "php": "Philippians",
	"col": "Colossians",
	"1 thess": "1 Thessalonians", "2 thess": "2 Thessalonians",
	"1 tim": "1 Timothy", "2 tim": "2 Timothy",
	"tit": "Titus", "philem": "Philemon", "phlm": "Philemon",
	"heb": "Hebrews", "jas": "James", "jm": "James",
	"1 pet": "1 Peter", "2 pet": "2 Peter", "1 pt": "1 Peter", "2 pt": "2 Peter",
	"1 jn": "1 John", "2 jn": "2 John", "3 jn": "3 John",
	"rev": "Revelation", "revelations": "Revelation", "apocalypse": "Revelation",
}

var (
	bookOrder map[string]int

	// bookRe matches any alias at a word boundary, longest first.
	bookRe *regexp.Regexp

	ordinalRe = regexp.MustCompile(`^(iii|ii|i|first|second|third|1st|2nd|3rd|[1-3])\s*`)
	spaceRe   = regexp.MustCompile(`\s+`)

	titleCaser = cases.Title(language.English)
)

func init() {
	bookOrder = make(map[string]int, len(Books))
	for i, b := range Books {
		bookOrder[b] = i
		bookAliases[strings.ToLower(b)] = b
	}

	names := make([]string, 0, len(bookAliases))
	for alias := range bookAliases {
		pat := regexp.QuoteMeta(alias)
		// "1 cor" should also match "1cor" and "I Cor".
		if len(alias) > 2 && alias[0] >= '1' && alias[0] <= '3' && alias[1] == ' ' {
			pat = `(?:` + ordinalPattern(alias[0]) + `)\s*` + regexp.QuoteMeta(alias[2:])
		}
		names = append(names, pat)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	bookRe = regexp.MustCompile(`(?i)\b(` + strings.Join(names, "|") + `)\.?`)
}

func ordinalPattern(d byte) string {
	switch d {
	case '1':
		return `1|i|first|1st`
	case '2':
		return `2|ii|second|2nd`
	default:
		return `3|iii|third|3rd`
	}
}

// CanonicalBook resolves a book name or abbreviation. Unknown names are
// returned title-cased with ok=false.
func CanonicalBook(name string) (string, bool) {
	key := normaliseBookKey(name)
	if key == "" {
		return "", false
	}
	if b, ok := bookAliases[key]; ok {
		return b, true
	}
	return titleCaser.String(key), false
}

// Order returns the canonical position of a book, or len(Books) for books
// outside the canon so they sort last.
func Order(book string) int {
	if canon, ok := CanonicalBook(book); ok {
		return bookOrder[canon]
	}
	return len(Books)
}

// SortBooks orders book names canonically; unknown books sort last by name.
func SortBooks(books []string) {
	sort.SliceStable(books, func(i, j int) bool {
		oi, oj := Order(books[i]), Order(books[j])
		if oi != oj {
			return oi < oj
		}
		return books[i] < books[j]
	})
}

func normaliseBookKey(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.TrimSuffix(key, ".")
	key = spaceRe.ReplaceAllString(key, " ")
	if m := ordinalRe.FindStringSubmatch(key); m != nil && len(key) > len(m[0]) {
		rest := key[len(m[0]):]
		// "i" alone or "job" must not be read as an ordinal prefix.
		if m[1] == "i" && !strings.Contains(m[0], " ") && !looksLikeBook(rest) {
			return key
		}
		return ordinalDigit(m[1]) + " " + rest
	}
	return key
}

func looksLikeBook(rest string) bool {
	_, ok := bookAliases["1 "+rest]
	return ok
}

func ordinalDigit(o string) string {
	switch o {
	case "1", "i", "first", "1st":
		return "1"
	case "2", "ii", "second", "2nd":
		return "2"
	default:
		return "3"
	}
}
