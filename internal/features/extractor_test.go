package features

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osintube/threatscan/internal/model"
)

func TestExtract_AggressiveCaps(t *testing.T) {
	f := Default().Extract("KILL ALL THE POLITICIANS NOW!!!")

	assert.Greater(t, f.CapsRatio, 0.5)
	assert.Equal(t, 3, f.ExclamationCount)
	assert.Greater(t, f.Patterns[model.CategoryViolence], 0)
	assert.Equal(t, 1, f.UrgencyCount)
}

func TestExtract_HateSpeech(t *testing.T) {
	f := Default().Extract("I hate all terrorists")
	assert.Greater(t, f.Patterns[model.CategoryHateSpeech], 0)
}

func TestExtract_Neutral(t *testing.T) {
	f := Default().Extract("Nice weather today")
	assert.Equal(t, 0, f.PatternTotal())
	assert.Equal(t, 0, f.ExclamationCount)
}

func TestExtract_Threat(t *testing.T) {
	f := Default().Extract("I will kill them")
	assert.Equal(t, 1, f.Patterns[model.CategoryViolence])
	assert.Equal(t, 1, f.Patterns[model.CategoryThreats])
	assert.InDelta(t, 1.0/16.0, f.CapsRatio, 0.0001)
}

func TestExtract_Portuguese(t *testing.T) {
	tests := []struct {
		text string
		cat  model.Category
	}{
		{"vou te matar amanhã", model.CategoryThreats},
		{"eu odeio esses vermes", model.CategoryHateSpeech},
		{"isso é uma ameaça", model.CategoryThreats},
		{"alguém deveria fazer algo", model.CategoryIncitement},
		{"vão morrer todos", model.CategoryThreats},
		{"bomba no prédio", model.CategoryViolence},
	}
	e := Default()
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			f := e.Extract(tt.text)
			assert.Greater(t, f.Patterns[tt.cat], 0)
		})
	}
}

func TestExtract_PronounsAndUrgency(t *testing.T) {
	f := Default().Extract("you and your friends, agora, você também, now")
	assert.Equal(t, 3, f.PronounCount)
	assert.Equal(t, 2, f.UrgencyCount)
}

func TestExtract_Empty(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t"} {
		f := Default().Extract(text)
		assert.Equal(t, 0.0, f.CapsRatio)
		assert.Equal(t, 0, f.PatternTotal())
		assert.Len(t, f.Patterns, len(model.AllCategories()))
	}
}

func TestExtract_CountsNotCapped(t *testing.T) {
	f := Default().Extract("!!!!!!!!!! kill kill kill kill kill kill")
	assert.Equal(t, 10, f.ExclamationCount)
	assert.Equal(t, 6, f.Patterns[model.CategoryViolence])
}

func TestHasPattern(t *testing.T) {
	e := Default()
	assert.True(t, e.HasPattern("they should be destroyed"))
	assert.False(t, e.HasPattern("great video, thanks"))
	assert.False(t, e.HasPattern(""))
}

func TestIsBehavioral(t *testing.T) {
	assert.True(t, IsBehavioral("what?!", 400))
	assert.True(t, IsBehavioral("this is OUTRAGEOUS", 400))
	assert.True(t, IsBehavioral("abcdefghij", 5))
	assert.False(t, IsBehavioral("calm comment", 400))
	assert.False(t, IsBehavioral("calm comment", 0))
}

func TestNewExtractor_BadPattern(t *testing.T) {
	table := DefaultPatterns()
	table.Categories[model.CategoryViolence] = []string{"(unclosed"}
	_, err := NewExtractor(table)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "violence")
}

func TestLoadPatterns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.yaml")
	yaml := `
categories:
  violence:
    - '\bsmash\w*'
urgency:
  - '\bpronto\b'
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	table, err := LoadPatterns(path)
	require.NoError(t, err)
	assert.Equal(t, []string{`\bsmash\w*`}, table.Categories[model.CategoryViolence])
	assert.NotEmpty(t, table.Categories[model.CategoryThreats])
	assert.NotEmpty(t, table.Pronouns)

	e, err := NewExtractor(table)
	require.NoError(t, err)
	f := e.Extract("Smashing everything, pronto")
	assert.Equal(t, 1, f.Patterns[model.CategoryViolence])
	assert.Equal(t, 1, f.UrgencyCount)
}

func TestLoadPatterns_Errors(t *testing.T) {
	_, err := LoadPatterns(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("categories: [1, 2"), 0644))
	_, err = LoadPatterns(path)
	assert.Error(t, err)
}
