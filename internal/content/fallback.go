package content

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/psantana5/autofi/pkg/models"
)

const (
	fallbackTitleLen       = 60
	fallbackDescriptionLen = 250
	MaxTags                = 12
	minTagLen              = 5 // words must be longer than 4 letters

	fallbackScore = 50

	// DefaultTag is used when the transcript yields no usable word at all
	DefaultTag = "video"
)

var stopWords = map[string]bool{
	"about": true, "above": true, "after": true, "again": true, "against": true,
	"among": true, "because": true, "before": true, "being": true, "below": true,
	"between": true, "could": true, "doing": true, "during": true, "every": true,
	"going": true, "gonna": true, "having": true, "might": true, "other": true,
	"really": true, "right": true, "should": true, "since": true, "something": true,
	"their": true, "theirs": true, "there": true, "these": true, "thing": true,
	"things": true, "think": true, "those": true, "through": true, "under": true,
	"until": true, "where": true, "which": true, "while": true, "would": true,
	"yourself": true, "yours": true, "actually": true, "basically": true, "okay": true,
	"people": true, "anything": true, "everything": true, "maybe": true, "still": true,
}

// Fallback derives titles, descriptions and tags from the transcript alone.
// It is deterministic: the same transcript always yields the same output.
func Fallback(transcript string) Output {
	text := strings.Join(strings.Fields(transcript), " ")

	title := truncateWords(text, fallbackTitleLen)
	if title == "" {
		title = "Untitled video"
	}
	description := truncateWords(text, fallbackDescriptionLen)
	if description == "" {
		description = title
	} else if len(description) < len(text) {
		description += "..."
	}

	return Output{
		Titles: []models.TitleCandidate{{
			Title:     title,
			Score:     fallbackScore,
			Reasoning: "Generated locally from the opening of the transcript",
		}},
		Descriptions: []models.DescriptionCandidate{{
			Description: description,
			Score:       fallbackScore,
			Reasoning:   "Generated locally from the opening of the transcript",
		}},
		Tags: fallbackTags(transcript),
	}
}

// truncateWords returns at most max characters of s, cut on a word boundary.
// A single word longer than max is cut mid-word.
func truncateWords(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	cut := runes[:max]
	// keep the whole word when the cut lands exactly before a space
	if runes[max] == ' ' {
		return strings.TrimSpace(string(cut))
	}
	if i := strings.LastIndexByte(string(cut), ' '); i > 0 {
		return strings.TrimSpace(string(cut)[:i])
	}
	return string(cut)
}

// fallbackTags never returns an empty list. It relaxes the word filters in
// steps: stop words are allowed back in, then short words ranked by length.
func fallbackTags(transcript string) []string {
	if tags := FrequentWords(transcript, MaxTags); len(tags) > 0 {
		return tags
	}
	if tags := rankWords(transcript, MaxTags, minTagLen, false); len(tags) > 0 {
		return tags
	}
	if tags := LongestWords(transcript, MaxTags); len(tags) > 0 {
		return tags
	}
	return []string{DefaultTag}
}

// FrequentWords returns up to limit distinct lower-cased words longer than
// four letters, most frequent first, ties broken by first occurrence.
// Punctuation is stripped and stop words are skipped.
func FrequentWords(text string, limit int) []string {
	return rankWords(text, limit, minTagLen, true)
}

// LongestWords returns up to limit distinct words of any length, longest
// first, ties broken by first occurrence
func LongestWords(text string, limit int) []string {
	stats := collectWords(text, 1, false)
	sort.SliceStable(stats, func(i, j int) bool {
		return utf8.RuneCountInString(stats[i].word) > utf8.RuneCountInString(stats[j].word)
	})
	return topWords(stats, limit)
}

type wordStat struct {
	word  string
	count int
}

func rankWords(text string, limit, minLen int, skipStopWords bool) []string {
	stats := collectWords(text, minLen, skipStopWords)
	// stats are in first-occurrence order, so a stable sort keeps ties in it
	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].count > stats[j].count
	})
	return topWords(stats, limit)
}

// collectWords counts normalized words in first-occurrence order
func collectWords(text string, minLen int, skipStopWords bool) []*wordStat {
	index := map[string]*wordStat{}
	var stats []*wordStat

	for _, raw := range strings.Fields(strings.ToLower(text)) {
		word := strings.TrimFunc(raw, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		word = strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
				return r
			}
			return -1
		}, word)
		if word == "" || utf8.RuneCountInString(word) < minLen || isNumber(word) {
			continue
		}
		if skipStopWords && stopWords[word] {
			continue
		}
		if s, ok := index[word]; ok {
			s.count++
			continue
		}
		s := &wordStat{word: word, count: 1}
		index[word] = s
		stats = append(stats, s)
	}
	return stats
}

func topWords(stats []*wordStat, limit int) []string {
	if len(stats) > limit {
		stats = stats[:limit]
	}
	words := make([]string, len(stats))
	for i, s := range stats {
		words[i] = s.word
	}
	return words
}

// TruncateRunes returns at most max runes of s
func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
