package taxonomy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestLookupKnownAndUnknown(t *testing.T) {
	tx := New("ko")

	c, ok := tx.Lookup(4)
	require.True(t, ok)
	assert.Equal(t, "LANE_CHANGE_MISSING_ACTION", c.Name)
	assert.Equal(t, SeverityWarning, c.Severity)

	_, ok = tx.Lookup(999)
	assert.False(t, ok)
	_, ok = tx.Lookup(0)
	assert.False(t, ok)
}

func TestKoreanFeedback(t *testing.T) {
	tx := New("ko-KR")
	c, _ := tx.Lookup(1)

	assert.Equal(t, language.Korean, tx.Language())
	assert.Equal(t, "신호 위반입니다.", tx.Feedback(c))
	assert.Equal(t, "신호 위반 감지", tx.Label(c))
}

func TestEnglishFeedback(t *testing.T) {
	tx := New("en-US,en;q=0.9")
	c, _ := tx.Lookup(11)

	assert.Equal(t, language.English, tx.Language())
	assert.Equal(t, "You are too close to the car ahead. Keep a safe distance.", tx.Feedback(c))
}

func TestMatchFallsBackToDefault(t *testing.T) {
	assert.Equal(t, language.Korean, Match(""))
	assert.Equal(t, language.Korean, Match("not a tag!!"))
	assert.Equal(t, language.English, Match("en-GB"))
}

func TestEveryConditionTranslated(t *testing.T) {
	codes := make(map[int]bool)
	for _, c := range All() {
		assert.False(t, codes[c.Code], "duplicate code %d", c.Code)
		codes[c.Code] = true
		for _, tag := range Supported {
			_, ok := translations[tag][c.Name]
			assert.True(t, ok, "%s missing for %s", c.Name, tag)
		}
	}
	assert.Len(t, codes, 11)
}
