package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifySingleCategory(t *testing.T) {
	got := Classify("Warehouse workers walk out over heat", "")
	assert.Equal(t, []string{"labor"}, got)
}

func TestClassifyMatchesDescription(t *testing.T) {
	got := Classify("Quarterly update", "The company disclosed a ransomware incident")
	assert.Equal(t, []string{"privacy"}, got)
}

func TestClassifyMultipleCategoriesInCanonicalOrder(t *testing.T) {
	got := Classify("Lawsuit over emissions data", "Regulators opened a probe")
	assert.Equal(t, []string{"environment", "governance"}, got)
}

func TestClassifyQuotedPhraseMatchesAsSubstring(t *testing.T) {
	got := Classify("Firm hit by new Minimum Wage rules", "")
	assert.Contains(t, got, "labor")

	got = Classify("Nothing about animal", "testing the new product line")
	assert.NotContains(t, got, "animal welfare")
}

func TestClassifyCaseInsensitive(t *testing.T) {
	got := Classify("GDPR FINE ISSUED", "")
	assert.Equal(t, []string{"privacy", "governance"}, got)
}

func TestClassifyUncategorized(t *testing.T) {
	assert.Equal(t, []string{Uncategorized}, Classify("Quarterly earnings beat", "Shares rose"))
	assert.Equal(t, []string{Uncategorized}, Classify("", ""))
}

func TestClassifyDeterministic(t *testing.T) {
	first := Classify("Recall of contaminated food", "FDA warning")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Classify("Recall of contaminated food", "FDA warning"))
	}
}

func TestValid(t *testing.T) {
	for _, n := range Names() {
		assert.True(t, Valid(n), n)
	}
	assert.False(t, Valid("sports"))
	assert.False(t, Valid(All))
	assert.False(t, Valid(Uncategorized))
}

func TestKeywords(t *testing.T) {
	kws, ok := Keywords("labor")
	assert.True(t, ok)
	assert.Contains(t, kws, `"minimum wage"`)

	all, ok := Keywords(All)
	assert.True(t, ok)
	total := 0
	for _, n := range Names() {
		k, _ := Keywords(n)
		total += len(k)
	}
	assert.Len(t, all, total)

	_, ok = Keywords("sports")
	assert.False(t, ok)
}

func TestNamesReturnsCopy(t *testing.T) {
	n := Names()
	n[0] = "mutated"
	assert.Equal(t, "labor", Names()[0])
}

func TestWithCategoryAddsQueryCategory(t *testing.T) {
	assert.Equal(t, []string{"labor"}, WithCategory([]string{Uncategorized}, "labor"))
	assert.Equal(t, []string{"labor", "privacy"}, WithCategory([]string{"privacy"}, "labor"))
	assert.Equal(t, []string{"labor"}, WithCategory([]string{"labor"}, "labor"))
	assert.Equal(t, []string{Uncategorized}, WithCategory([]string{Uncategorized}, "sports"))
}

func TestSortCanonical(t *testing.T) {
	labels := []string{Uncategorized, "animal welfare", "labor", "privacy"}
	Sort(labels)
	assert.Equal(t, []string{"labor", "privacy", "animal welfare", Uncategorized}, labels)
}
