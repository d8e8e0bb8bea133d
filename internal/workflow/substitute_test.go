package workflow

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubstitute(t *testing.T) {
	tests := []struct {
		name     string
		template string
		values   Values
		want     string
	}{
		{
			name:     "string value is quoted and missing key left alone",
			template: `{"a":"%x%","b":"%y%"}`,
			values:   Values{"x": String("v1")},
			want:     `{"a":"v1","b":"%y%"}`,
		},
		{
			name:     "seed is a bare number",
			template: `{"seed":"%seed%"}`,
			values:   Values{"seed": Int(42)},
			want:     `{"seed":42}`,
		},
		{
			name:     "list keeps order",
			template: `{"tags":"%tags%"}`,
			values:   Values{"tags": List([]string{"c", "a", "b"})},
			want:     `{"tags":["c","a","b"]}`,
		},
		{
			name:     "every occurrence replaced",
			template: `["%p%","%p%",{"k":"%p%"}]`,
			values:   Values{"p": String("x")},
			want:     `["x","x",{"k":"x"}]`,
		},
		{
			name:     "unused key is a no-op",
			template: `{"a":"%x%"}`,
			values:   Values{"x": Int(1), "unused": String("nope")},
			want:     `{"a":1}`,
		},
		{
			name:     "string escaping",
			template: `{"text":"%prompt%"}`,
			values:   Values{"prompt": String("say \"hi\"\n<b>&</b>")},
			want:     `{"text":"say \"hi\"\n<b>&</b>"}`,
		},
		{
			name:     "unquoted marker is not a placeholder",
			template: `{"text":"prefix %x% suffix"}`,
			values:   Values{"x": String("v")},
			want:     `{"text":"prefix %x% suffix"}`,
		},
		{
			name:     "values are not rescanned",
			template: `{"a":"%a%","b":"%b%"}`,
			values:   Values{"a": List([]string{"%b%"}), "b": Int(2)},
			want:     `{"a":["%b%"],"b":2}`,
		},
		{
			name:     "float value",
			template: `{"cfg":"%cfg%"}`,
			values:   Values{"cfg": Float(7.5)},
			want:     `{"cfg":7.5}`,
		},
		{
			name:     "no values returns template",
			template: `{"a":"%x%"}`,
			values:   nil,
			want:     `{"a":"%x%"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Substitute(tt.template, tt.values)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubstitute_ResultIsValidJSON(t *testing.T) {
	template := `{"3":{"inputs":{"seed":"%seed%","text":"%prompt%","loras":"%loras%"}}}`
	filled := Substitute(template, Values{
		"seed":   Int(MaxSeed),
		"prompt": String(`quote " backslash \ tab 	`),
		"loras":  List([]string{"one", "two"}),
	})

	require.NoError(t, Validate(filled))

	var doc map[string]map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(filled), &doc))
	inputs := doc["3"]["inputs"]
	assert.Equal(t, float64(MaxSeed), inputs["seed"])
	assert.Equal(t, `quote " backslash \ tab 	`, inputs["text"])
	assert.Equal(t, []interface{}{"one", "two"}, inputs["loras"])
}

func TestValueEncoding(t *testing.T) {
	assert.Equal(t, "null", Value{}.JSON())
	assert.Equal(t, "null", Float(math.NaN()).JSON())
	assert.Equal(t, "null", Float(math.Inf(1)).JSON())
	assert.Equal(t, "[]", List(nil).JSON())
	assert.Equal(t, `"a"`, String("a").String())
	assert.Equal(t, "-3", Int(-3).JSON())
}

func TestPlaceholders(t *testing.T) {
	template := `{"a":"%prompt%","b":"%seed%","c":"%prompt%","d":"%not closed","e":"%people_id%"}`
	assert.Equal(t, []string{"people_id", "prompt", "seed"}, Placeholders(template))
	assert.Nil(t, Placeholders(`{"a":1}`))
}

func TestUnfilled(t *testing.T) {
	template := `{"a":"%prompt%","b":"%seed%","c":"%negative_prompt%"}`

	missing := Unfilled(template, Values{"prompt": String("x"), "extra": String("y")})
	assert.Equal(t, []string{"negative_prompt", "seed"}, missing)

	assert.Empty(t, Unfilled(template, Values{
		"prompt":          String("x"),
		"seed":            Int(1),
		"negative_prompt": String(""),
	}))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(`{"a":[1,2,3]}`))
	assert.ErrorIs(t, Validate(`{"a":`), ErrInvalidJSON)
	assert.ErrorIs(t, Validate(``), ErrInvalidJSON)
}

func TestSeed(t *testing.T) {
	for i := 0; i < 1000; i++ {
		s := RandomSeed()
		require.GreaterOrEqual(t, s, int64(0))
		require.LessOrEqual(t, s, MaxSeed)
	}

	assert.Equal(t, "12345678", SeedValue(12345678).JSON())
	assert.Equal(t, "0", SeedValue(0).JSON())

	random := SeedValue(RandomSeedSentinel).JSON()
	assert.NotEqual(t, "-1", random)
}
