package relay

import (
	"sort"
	"strings"

	"github.com/M7mdRef3t/dawayir-live-agent/internal/protocol"
)

var (
	positiveWords = map[string]bool{
		"good": true, "great": true, "better": true, "clear": true, "calm": true, "happy": true,
		"hope": true, "strong": true, "love": true, "peace": true,
		"كويس": true, "حلو": true, "جميل": true, "مبسوط": true, "هادي": true, "امل": true,
		"واضح": true, "احسن": true, "قوي": true, "مرتاح": true,
	}
	negativeWords = map[string]bool{
		"bad": true, "sad": true, "afraid": true, "fear": true, "confused": true, "lost": true,
		"angry": true, "tired": true, "worse": true, "anxious": true,
		"وحش": true, "زعلان": true, "خايف": true, "خوف": true, "متلخبط": true, "تايه": true,
		"زهقان": true, "تعبان": true, "قلق": true, "مضايق": true,
	}
)

const (
	sentimentBaseRadius = 60
	sentimentStep       = 8
	positiveColor       = "#43A047"
	negativeColor       = "#E57373"
)

type tally struct{ pos, neg int }

// SentimentScorer tallies positive and negative words per circle in agent
// speech. A sentence only counts toward the circles it names.
type SentimentScorer struct {
	tallies map[int]*tally
}

// NewSentimentScorer returns an empty scorer.
func NewSentimentScorer() *SentimentScorer {
	return &SentimentScorer{tallies: make(map[int]*tally)}
}

// Observe scores text and reports whether anything was tallied.
func (s *SentimentScorer) Observe(text string) bool {
	scored := false
	for _, sentence := range splitSentences(text) {
		var circles []int
		pos, neg := 0, 0
		seen := map[int]bool{}
		for _, tok := range Tokens(sentence) {
			if id, ok := circleWords[tok]; ok && !seen[id] {
				seen[id] = true
				circles = append(circles, id)
			}
			if positiveWords[tok] {
				pos++
			}
			if negativeWords[tok] {
				neg++
			}
		}
		if len(circles) == 0 || pos+neg == 0 {
			continue
		}
		for _, id := range circles {
			t := s.tallies[id]
			if t == nil {
				t = &tally{}
				s.tallies[id] = t
			}
			t.pos += pos
			t.neg += neg
		}
		scored = true
	}
	return scored
}

// Pending reports whether Flush would produce anything.
func (s *SentimentScorer) Pending() bool { return len(s.tallies) > 0 }

// Flush returns one update per circle with a non-zero balance, proportional
// to that balance, and resets the tallies.
func (s *SentimentScorer) Flush() []protocol.FunctionCall {
	ids := make([]int, 0, len(s.tallies))
	for id := range s.tallies {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var calls []protocol.FunctionCall
	for _, id := range ids {
		t := s.tallies[id]
		net := t.pos - t.neg
		if net == 0 {
			continue
		}
		color := positiveColor
		if net < 0 {
			color = negativeColor
		}
		calls = append(calls, protocol.FunctionCall{
			Name: ToolUpdateNode,
			Args: protocol.Args{
				"id":     float64(id),
				"radius": float64(clampRadius(sentimentBaseRadius + net*sentimentStep)),
				"color":  color,
			},
		})
	}
	s.tallies = make(map[int]*tally)
	return calls
}

func clampRadius(r int) int {
	if r < MinRadius {
		return MinRadius
	}
	if r > MaxRadius {
		return MaxRadius
	}
	return r
}

func splitSentences(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case '.', '!', '?', '؟', '،', ';', '\n':
			return true
		}
		return false
	})
}
