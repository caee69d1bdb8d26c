package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFilter(t *testing.T) *ContentFilterService {
	t.Helper()
	svc := &ContentFilterService{}
	require.NoError(t, svc.Configure(nil))
	return svc
}

func TestClassifySpam(t *testing.T) {
	svc := newTestFilter(t)

	for _, text := range []string{
		"Buy cheap crypto now, visit www.get-rich.example",
		"aaaaaaaaaaaaaa",
		"what a deal!!!!! $$$$$ click here",
	} {
		result := svc.Classify(text)
		assert.True(t, result.IsSpam, "expected spam: %q", text)
		assert.Contains(t, result.Flags, "spam")
	}

	result := svc.Classify("How should I train for altitude before Aconcagua?")
	assert.False(t, result.IsSpam)
}

func TestClassifyToxicity(t *testing.T) {
	svc := newTestFilter(t)

	result := svc.Classify("you are a stupid idiot")
	assert.True(t, result.IsToxic)
	assert.Contains(t, result.Flags, "toxicity")

	// A shouted run counts even with spaces between the words
	result = svc.Classify("YOU ARE THE WORST PERSON EVER ALIVE TODAY")
	assert.True(t, result.IsToxic)

	result = svc.Classify("Training for Everest BASE CAMP next spring")
	assert.False(t, result.IsToxic, "short caps runs are fine")
}

func TestClassifyRelevance(t *testing.T) {
	svc := newTestFilter(t)

	result := svc.Classify("What boots should I wear on Denali in May?")
	assert.False(t, result.IsIrrelevant)

	result = svc.Classify("Share your favorite cooking recipes with me")
	assert.True(t, result.IsIrrelevant)
	assert.Contains(t, result.Flags, "irrelevant")

	// Neutral text with no off-topic vocabulary passes on length alone
	result = svc.Classify("Could you tell me more about how you plan your seasons?")
	assert.False(t, result.IsIrrelevant)
}

func TestSentimentScore(t *testing.T) {
	svc := newTestFilter(t)

	positive := svc.Classify("The summit was amazing, best day ever, I love this mountain")
	assert.Greater(t, positive.SentimentScore, 0.0)

	negative := svc.Classify("Terrible weather, awful pain, the climbing was exhausting and I failed")
	assert.Less(t, negative.SentimentScore, 0.0)
}

func TestConfidenceBounds(t *testing.T) {
	svc := newTestFilter(t)

	for _, text := range []string{
		"",
		"hi",
		"Buy crypto you stupid idiot about cooking", // every flag at once
		"A long, thoughtful question about acclimatization schedules on Everest. How many rotations through camp two would you recommend for a first-time climber, and does that change with a shorter weather window?",
	} {
		result := svc.Classify(text)
		assert.GreaterOrEqual(t, result.Confidence, 0.0, "text: %q", text)
		assert.LessOrEqual(t, result.Confidence, 1.0, "text: %q", text)
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	svc := newTestFilter(t)

	text := "How do I train endurance for Kilimanjaro?"
	first := svc.Classify(text)
	second := svc.Classify(text)
	assert.Equal(t, first, second)
}

func TestLongestRun(t *testing.T) {
	assert.Equal(t, 0, longestRun("", nil))
	assert.Equal(t, 1, longestRun("abc", nil))
	assert.Equal(t, 4, longestRun("abbbba", nil))
	assert.Equal(t, 3, longestRun("ABCdefGH", isUpperLetter))
}
