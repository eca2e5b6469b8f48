package relay

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/M7mdRef3t/dawayir-live-agent/internal/protocol"
)

// Canvas circles.
const (
	CircleAwareness = 1
	CircleKnowledge = 2
	CircleTruth     = 3
)

var circleNames = map[int]string{
	CircleAwareness: "الوعي",
	CircleKnowledge: "العلم",
	CircleTruth:     "الحقيقة",
}

// Radius bounds accepted by the canvas.
const (
	MinRadius = 30
	MaxRadius = 100
)

// Command is a canvas change recognized in user speech.
type Command struct {
	// Key identifies the command for dedupe.
	Key  string
	Call protocol.FunctionCall
}

// CommandDetector recognizes at most one command in a flushed utterance.
type CommandDetector interface {
	Detect(text string) (Command, bool)
}

type action int

const (
	actionNone action = iota
	actionGrow
	actionShrink
	actionRecolor
)

// Vocabulary is matched against normalized tokens: lower case, Arabic
// diacritics removed, alef/teh-marbuta/alef-maksura folded, and leading
// "و" and "ال" stripped.
var (
	circleWords = map[string]int{
		"awareness": CircleAwareness, "aware": CircleAwareness, "وعي": CircleAwareness,
		"knowledge": CircleKnowledge, "science": CircleKnowledge, "علم": CircleKnowledge,
		"truth": CircleTruth, "حقيقه": CircleTruth,
	}
	ordinalWords = map[string]int{
		"first": CircleAwareness, "1st": CircleAwareness, "اولي": CircleAwareness, "اول": CircleAwareness,
		"second": CircleKnowledge, "2nd": CircleKnowledge, "تانيه": CircleKnowledge, "ثانيه": CircleKnowledge, "تاني": CircleKnowledge,
		"third": CircleTruth, "3rd": CircleTruth, "تالته": CircleTruth, "ثالثه": CircleTruth, "تالت": CircleTruth,
	}
	actionWords = map[string]action{
		"grow": actionGrow, "bigger": actionGrow, "enlarge": actionGrow, "increase": actionGrow, "expand": actionGrow,
		"كبر": actionGrow, "كبري": actionGrow, "زود": actionGrow, "وسع": actionGrow,
		"shrink": actionShrink, "smaller": actionShrink, "reduce": actionShrink, "decrease": actionShrink,
		"صغر": actionShrink, "صغري": actionShrink, "قلل": actionShrink,
		"color": actionRecolor, "colour": actionRecolor, "paint": actionRecolor, "recolor": actionRecolor,
		"لون": actionRecolor, "لوني": actionRecolor,
	}
	colorWords = map[string]string{
		"red": "#E53935", "احمر": "#E53935",
		"blue": "#1E88E5", "ازرق": "#1E88E5",
		"green": "#43A047", "اخضر": "#43A047",
		"yellow": "#FDD835", "اصفر": "#FDD835",
		"purple": "#8E24AA", "بنفسجي": "#8E24AA", "موف": "#8E24AA",
		"orange": "#FB8C00", "برتقالي": "#FB8C00",
		"white": "#FFFFFF", "ابيض": "#FFFFFF",
		"gold": "#FFB300", "ذهبي": "#FFB300",
	}
)

// Radii used for detected resize commands.
const (
	grownRadius  = 85
	shrunkRadius = 40
)

// KeywordDetector matches action verbs, circle names, ordinals, and color
// names in English and Egyptian Arabic.
type KeywordDetector struct{}

// Detect implements CommandDetector.
func (KeywordDetector) Detect(text string) (Command, bool) {
	circle, act, color := 0, actionNone, ""
	for _, tok := range Tokens(text) {
		if circle == 0 {
			if id, ok := circleWords[tok]; ok {
				circle = id
			} else if id, ok := ordinalWords[tok]; ok {
				circle = id
			}
		}
		if a, ok := actionWords[tok]; ok && act == actionNone {
			act = a
		}
		if c, ok := colorWords[tok]; ok && color == "" {
			color = c
		}
	}
	if circle == 0 {
		return Command{}, false
	}
	if act == actionNone && color != "" {
		act = actionRecolor
	}

	args := protocol.Args{"id": float64(circle)}
	var key string
	switch act {
	case actionGrow:
		args["radius"] = float64(grownRadius)
		key = fmt.Sprintf("grow:%d", circle)
	case actionShrink:
		args["radius"] = float64(shrunkRadius)
		key = fmt.Sprintf("shrink:%d", circle)
	case actionRecolor:
		if color == "" {
			return Command{}, false
		}
		args["color"] = color
		key = fmt.Sprintf("color:%d:%s", circle, color)
	default:
		return Command{}, false
	}
	return Command{Key: key, Call: protocol.FunctionCall{Name: ToolUpdateNode, Args: args}}, true
}

// Tokens splits text into normalized words.
func Tokens(text string) []string {
	fields := strings.FieldsFunc(normalize(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if f = stripArabicPrefixes(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func normalize(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 0x064B && r <= 0x0652, r == 0x0640:
			// tashkeel and tatweel
			continue
		case r == 'أ' || r == 'إ' || r == 'آ':
			sb.WriteRune('ا')
		case r == 'ة':
			sb.WriteRune('ه')
		case r == 'ى':
			sb.WriteRune('ي')
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func stripArabicPrefixes(tok string) string {
	for _, p := range []string{"وال", "بال", "لل", "ال"} {
		if rest := strings.TrimPrefix(tok, p); rest != tok && len([]rune(rest)) >= 2 {
			return rest
		}
	}
	if rest := strings.TrimPrefix(tok, "و"); rest != tok && len([]rune(rest)) >= 3 {
		return rest
	}
	return tok
}

func circleFromText(text string) (int, bool) {
	for _, tok := range Tokens(text) {
		if id, ok := circleWords[tok]; ok {
			return id, true
		}
		if id, ok := ordinalWords[tok]; ok {
			return id, true
		}
	}
	return 0, false
}
