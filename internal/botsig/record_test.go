package botsig

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreRecordAccumulates(t *testing.T) {
	rec := NewScoreRecord()
	assert.Equal(t, 0, rec.Total())
	assert.Empty(t, rec.Names())

	rec.Add("ua:http-client", WeightUAPattern)
	rec.Add("rate:exceeded", WeightRateLimited)

	assert.Equal(t, WeightUAPattern+WeightRateLimited, rec.Total())
	assert.Equal(t, []string{"ua:http-client", "rate:exceeded"}, rec.Names())
	assert.True(t, rec.Has("rate:exceeded"))
	assert.False(t, rec.Has("ua:short"))
	assert.Equal(t, 2, rec.Len())
}

func TestScoreRecordAllowsDuplicates(t *testing.T) {
	rec := NewScoreRecord()
	rec.Add("hdr:no-accept-language", WeightHeaderAnomaly)
	rec.Add("hdr:no-accept-language", WeightHeaderAnomaly)

	assert.Equal(t, 2*WeightHeaderAnomaly, rec.Total())
	assert.Equal(t, 2, rec.Len())
}

func TestScoreRecordNamesIsACopy(t *testing.T) {
	rec := NewScoreRecord()
	rec.Add("ua:short", WeightShortUA)

	names := rec.Names()
	names[0] = "mutated"

	assert.Equal(t, []string{"ua:short"}, rec.Names())
}
