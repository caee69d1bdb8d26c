package services

import (
	"regexp"
	"strings"

	appContext "github.com/alphabatem/common/context"
	"github.com/summit-chronicles/summit_api/dto"
)

// ContentClassifier lets the regex-based strategy be swapped out (e.g. for a
// model-backed one) without touching the admission flow.
type ContentClassifier interface {
	Classify(text string) *dto.ContentFilterResult
}

// ContentFilterService classifies free-text payloads for spam, toxicity and
// topical relevance. Classification is pure: identical input yields identical
// output, and nothing is persisted.
type ContentFilterService struct {
	appContext.DefaultService

	patterns  classifierPatterns
	relevance relevanceVocabulary
	lexicon   map[string]float64
}

// classifierPatterns holds the abuse detection tables as data so the lists
// can grow without touching control flow.
type classifierPatterns struct {
	spam     []*regexp.Regexp
	toxicity []*regexp.Regexp

	// runs that regexp can't express without backreferences
	minRepeatedRun int
	minCapsRun     int
}

type relevanceVocabulary struct {
	onTopic   []string
	offTopic  *regexp.Regexp
	minLength int
}

const CONTENT_FILTER_SVC = "content_filter_svc"

func (svc ContentFilterService) Id() string {
	return CONTENT_FILTER_SVC
}

func (svc *ContentFilterService) Configure(ctx *appContext.Context) error {
	svc.patterns = classifierPatterns{
		spam: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(buy|sell|crypto|bitcoin|investment|offer|deal|money|cash|cheap|free|click|visit|www\.|http)\b`),
			regexp.MustCompile(`[!@#$%^&*]{5,}`),
		},
		toxicity: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(fuck|shit|damn|hell|bitch|asshole|idiot|stupid|hate|kill|die|murder)\b`),
		},
		minRepeatedRun: 10,
		minCapsRun:     20,
	}

	svc.relevance = relevanceVocabulary{
		onTopic: []string{
			"mountain", "climbing", "expedition", "summit", "training", "workout",
			"altitude", "hiking", "trekking", "fitness", "exercise", "preparation",
			"gear", "equipment", "route", "ascent", "descent", "rope", "harness",
			"crampon", "ice", "snow", "weather", "acclimatization", "endurance",
			"strength", "cardio", "everest", "kilimanjaro", "denali", "aconcagua",
			"elbrus", "vinson", "carstensz", "seven summits", "alpine", "rock",
			"bouldering", "belay", "anchor", "pitch", "lead", "follow", "rappel",
			"abseil", "camp", "base camp", "high camp", "sherpa", "guide", "boot",
		},
		offTopic:  regexp.MustCompile(`(?i)\b(cooking|recipes|cars|politics|sports|music|movies|games|shopping|fashion)\b`),
		minLength: 10,
	}

	svc.lexicon = sentimentLexicon
	return svc.DefaultService.Configure(ctx)
}

func (svc *ContentFilterService) Start() error {
	return nil
}

// ==================== CLASSIFICATION ====================

func (svc *ContentFilterService) Classify(text string) *dto.ContentFilterResult {
	flags := []string{}

	isSpam := svc.isSpam(text)
	if isSpam {
		flags = append(flags, "spam")
	}

	isToxic := svc.isToxic(text)
	if isToxic {
		flags = append(flags, "toxicity")
	}

	isIrrelevant := !svc.isOnTopic(text)
	if isIrrelevant {
		flags = append(flags, "irrelevant")
	}

	return &dto.ContentFilterResult{
		IsSpam:         isSpam,
		IsToxic:        isToxic,
		IsIrrelevant:   isIrrelevant,
		SentimentScore: svc.sentimentScore(text),
		Confidence:     svc.confidence(text, len(flags)),
		Flags:          flags,
	}
}

func (svc *ContentFilterService) isSpam(text string) bool {
	if longestRun(text, nil) >= svc.patterns.minRepeatedRun {
		return true
	}
	for _, pattern := range svc.patterns.spam {
		if pattern.MatchString(text) {
			return true
		}
	}
	return false
}

func (svc *ContentFilterService) isToxic(text string) bool {
	for _, pattern := range svc.patterns.toxicity {
		if pattern.MatchString(text) {
			return true
		}
	}
	// Spaces don't break a shouted run: "STOP DOING THIS NOW" reads as one.
	return longestRun(strings.ReplaceAll(text, " ", ""), isUpperLetter) >= svc.patterns.minCapsRun
}

// isOnTopic reports whether text fits the site's subject matter: it mentions
// the mountaineering/training vocabulary, or at least avoids the off-topic
// vocabulary while having nontrivial length.
func (svc *ContentFilterService) isOnTopic(text string) bool {
	lower := strings.ToLower(text)
	for _, keyword := range svc.relevance.onTopic {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return !svc.relevance.offTopic.MatchString(text) && len(text) > svc.relevance.minLength
}

// sentimentScore sums lexicon weights over word tokens: positive minus
// negative word weight.
func (svc *ContentFilterService) sentimentScore(text string) float64 {
	score := 0.0
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '\''
	}) {
		score += svc.lexicon[word]
	}
	return score
}

func (svc *ContentFilterService) confidence(text string, flagCount int) float64 {
	confidence := 0.5

	if len(text) > 50 {
		confidence += 0.2
	}
	if len(text) > 200 {
		confidence += 0.1
	}
	if strings.Contains(text, "?") {
		confidence += 0.1
	}
	if strings.Contains(text, ".") {
		confidence += 0.1
	}

	confidence -= float64(flagCount) * 0.15

	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}

// longestRun returns the longest run of consecutive identical characters, or,
// when match is non-nil, the longest run of consecutive characters satisfying
// match.
func longestRun(text string, match func(rune) bool) int {
	longest, current := 0, 0
	var prev rune

	for i, r := range text {
		if match != nil {
			if match(r) {
				current++
			} else {
				current = 0
			}
		} else {
			if i > 0 && r == prev {
				current++
			} else {
				current = 1
			}
			prev = r
		}
		if current > longest {
			longest = current
		}
	}
	return longest
}

func isUpperLetter(r rune) bool {
	return 'A' <= r && r <= 'Z'
}

// AFINN-style weights, trimmed to the vocabulary that shows up in blog
// questions and training notes.
var sentimentLexicon = map[string]float64{
	"amazing": 4, "awesome": 4, "great": 3, "excellent": 3, "love": 3,
	"good": 3, "best": 3, "beautiful": 3, "strong": 2, "happy": 3,
	"enjoy": 2, "excited": 3, "helpful": 2, "thanks": 2, "thank": 2,
	"success": 2, "successful": 3, "win": 4, "safe": 1, "ready": 1,
	"bad": -3, "terrible": -3, "awful": -3, "worst": -3, "hate": -3,
	"horrible": -3, "fail": -2, "failed": -2, "failure": -2, "pain": -2,
	"painful": -2, "injury": -2, "injured": -2, "scared": -2, "afraid": -2,
	"dangerous": -2, "hard": -1, "difficult": -1, "tired": -2, "exhausted": -2,
	"weak": -2, "sick": -2, "die": -3, "dead": -3, "kill": -3, "stupid": -2,
}
