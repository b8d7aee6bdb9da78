package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franckalain/snapnourish/internal/models"
)

const originalURL = "https://storage.googleapis.com/bkt/users/u1/img.jpg"

const burgerJSON = `{
  "photoUrl": "https://model.invented/elsewhere.jpg",
  "ingredients": [
    {"name": "Beef Patty", "calories": "250 kcal", "carbohydrates": "0 g", "protein": "20 g",
     "saturated_fat": "10 g", "unsaturated_fat": "5 g", "fiber": "0 g", "carbon_footprint": "5.5 kg CO₂"},
    {"name": "Bun", "calories": "265 kcal", "carbohydrates": "49 g", "protein": "9g",
     "saturated_fat": "0.6 g", "unsaturated_fat": "2.4 g", "fiber": "2.7 g", "carbon_footprint": "0.9 kg CO₂"}
  ],
  "nutrient_deficiencies": [
    {"nutrient": "Fiber", "current_intake": "2.7 g", "recommended_intake": "25 g",
     "deficiency_percentage": "89%", "suggested_sources": ["Lentils", "Oats", "Broccoli", "Pears"]}
  ],
  "recommendations": [
    {"name": "Reduce Carbon Footprint", "description": "Swap beef for lentils."}
  ],
  "timestamp": "2025-02-24T12:34:56Z"
}`

func fixedParser() *Parser {
	return &Parser{now: func() time.Time { return time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC) }}
}

func TestParse(t *testing.T) {
	res, err := fixedParser().Parse(burgerJSON, originalURL)
	require.NoError(t, err)

	assert.Equal(t, originalURL, res.PhotoURL)
	require.Len(t, res.Ingredients, 2)
	assert.Equal(t, models.Ingredient{
		Name:            "Beef Patty",
		Calories:        "250 kcal",
		Carbohydrates:   "0 g",
		Protein:         "20 g",
		SaturatedFat:    "10 g",
		UnsaturatedFat:  "5 g",
		Fiber:           "0 g",
		CarbonFootprint: "5.5 kg CO₂",
	}, res.Ingredients[0])
	assert.Equal(t, "9g", res.Ingredients[1].Protein)

	require.Len(t, res.NutrientDeficiencies, 1)
	def := res.NutrientDeficiencies[0]
	assert.Equal(t, "89%", def.DeficiencyAmount)
	assert.Equal(t, []string{"Lentils", "Oats", "Broccoli"}, def.SuggestedSources)

	require.Len(t, res.Recommendations, 1)
	assert.Equal(t, time.Date(2025, 2, 24, 12, 34, 56, 0, time.UTC), res.Timestamp)
}

func TestParseFencedEqualsUnfenced(t *testing.T) {
	p := fixedParser()
	plain, err := p.Parse(burgerJSON, originalURL)
	require.NoError(t, err)

	for name, text := range map[string]string{
		"json fence":       "```json\n" + burgerJSON + "\n```",
		"bare fence":       "```\n" + burgerJSON + "\n```",
		"upper tag":        "```JSON\n" + burgerJSON + "```",
		"surrounding text": "Here is the analysis:\n```json\n" + burgerJSON + "\n```\nEnjoy!",
		"padded":           "\n\n  " + burgerJSON + "  \n",
	} {
		t.Run(name, func(t *testing.T) {
			fenced, err := p.Parse(text, originalURL)
			require.NoError(t, err)
			assert.Equal(t, plain, fenced)
		})
	}
}

func TestParseMalformed(t *testing.T) {
	for name, text := range map[string]string{
		"prose":               "I could not find any food in this picture.",
		"empty":               "",
		"truncated":           `{"ingredients": [{"name": "Rice"`,
		"array":               `[{"name": "Rice"}]`,
		"null":                `null`,
		"missing ingredients": `{"photoUrl": "x", "recommendations": []}`,
		"null ingredients":    `{"ingredients": null}`,
		"ingredients object":  `{"ingredients": {"name": "Rice"}}`,
		"fenced prose":        "```json\nnot json\n```",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := fixedParser().Parse(text, originalURL)
			assert.ErrorIs(t, err, models.ErrMalformedModelOutput)
			assert.Equal(t, models.KindParse, models.KindOf(err))
		})
	}
}

func TestParseOverwritesPhotoURL(t *testing.T) {
	for _, text := range []string{
		`{"photoUrl": "https://evil.example/other.jpg", "ingredients": []}`,
		`{"photoUrl": "", "ingredients": []}`,
		`{"ingredients": []}`,
	} {
		res, err := fixedParser().Parse(text, originalURL)
		require.NoError(t, err)
		assert.Equal(t, originalURL, res.PhotoURL)
	}
}

func TestParseEmptyIngredients(t *testing.T) {
	res, err := fixedParser().Parse(`{"photoUrl": "x", "ingredients": []}`, originalURL)
	require.NoError(t, err)
	assert.NotNil(t, res.Ingredients)
	assert.Empty(t, res.Ingredients)
	assert.NotNil(t, res.Recommendations)
	assert.Empty(t, res.NutrientDeficiencies)
}

func TestParseDropsInvalidIngredients(t *testing.T) {
	text := `{"ingredients": [
		{"name": "Rice", "calories": "130 kcal", "carbohydrates": "28 g", "protein": "2.7 g",
		 "saturated_fat": "0.1 g", "unsaturated_fat": "0.2 g", "fiber": "0.4 g", "carbon_footprint": "0.4 kg CO₂"},
		{"name": "", "calories": "130 kcal", "carbohydrates": "28 g", "protein": "2.7 g",
		 "saturated_fat": "0.1 g", "unsaturated_fat": "0.2 g", "fiber": "0.4 g", "carbon_footprint": "0.4 kg CO₂"},
		{"name": "Negative", "calories": "-5 kcal", "carbohydrates": "28 g", "protein": "2.7 g",
		 "saturated_fat": "0.1 g", "unsaturated_fat": "0.2 g", "fiber": "0.4 g", "carbon_footprint": "0.4 kg CO₂"},
		{"name": "No Unit", "calories": "130", "carbohydrates": "28 g", "protein": "2.7 g",
		 "saturated_fat": "0.1 g", "unsaturated_fat": "0.2 g", "fiber": "0.4 g", "carbon_footprint": "0.4 kg CO₂"},
		{"name": "Bare Number", "calories": "130 kcal", "carbohydrates": "25", "protein": "2.7 g",
		 "saturated_fat": "0.1 g", "unsaturated_fat": "0.2 g", "fiber": "0.4 g", "carbon_footprint": "0.4 kg CO₂"},
		{"name": "Bare Decimal", "calories": "130 kcal", "carbohydrates": "28 g", "protein": "1.5",
		 "saturated_fat": "0.1 g", "unsaturated_fat": "0.2 g", "fiber": "0.4 g", "carbon_footprint": "0.4 kg CO₂"},
		{"name": "Missing Fiber", "calories": "130 kcal", "carbohydrates": "28 g", "protein": "2.7 g",
		 "saturated_fat": "0.1 g", "unsaturated_fat": "0.2 g", "carbon_footprint": "0.4 kg CO₂"},
		{"name": "Numeric", "calories": 130, "carbohydrates": "28 g", "protein": "2.7 g",
		 "saturated_fat": "0.1 g", "unsaturated_fat": "0.2 g", "fiber": "0.4 g", "carbon_footprint": "0.4 kg CO₂"},
		"Unknown"
	]}`

	res, err := fixedParser().Parse(text, originalURL)
	require.NoError(t, err)
	require.Len(t, res.Ingredients, 1)
	assert.Equal(t, "Rice", res.Ingredients[0].Name)
}

func TestQuantityPattern(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"250 kcal", true},
		{"0 g", true},
		{"9g", true},
		{"0.5g", true},
		{"5.5 kg CO₂", true},
		{"12 %", true},
		{"7", false},
		{"25", false},
		{"130", false},
		{"1.5", false},
		{"12.5.7", false},
		{"12.5.7 g", false},
		{"-5 kcal", false},
		{".5 g", false},
		{"5  g", false},
		{"g", false},
		{"", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, quantityPattern.MatchString(tc.value), tc.value)
	}
}

func TestParseIgnoresBadlyTypedOptionalFields(t *testing.T) {
	rice := `{"name": "Rice", "calories": "130 kcal", "carbohydrates": "28 g", "protein": "2.7 g",
		"saturated_fat": "0.1 g", "unsaturated_fat": "0.2 g", "fiber": "0.4 g", "carbon_footprint": "0.4 kg CO₂"}`

	for name, text := range map[string]string{
		"numeric photoUrl":       `{"photoUrl": 42, "ingredients": [` + rice + `]}`,
		"object photoUrl":        `{"photoUrl": {"url": "x"}, "ingredients": [` + rice + `]}`,
		"recommendations object": `{"ingredients": [` + rice + `], "recommendations": {"name": "Walk"}}`,
		"deficiencies string":    `{"ingredients": [` + rice + `], "nutrient_deficiencies": "none"}`,
		"deficiencies null":      `{"ingredients": [` + rice + `], "nutrient_deficiencies": null}`,
		"recommendations number": `{"ingredients": [` + rice + `], "recommendations": 0}`,
	} {
		t.Run(name, func(t *testing.T) {
			res, err := fixedParser().Parse(text, originalURL)
			require.NoError(t, err)
			assert.Equal(t, originalURL, res.PhotoURL)
			require.Len(t, res.Ingredients, 1)
			assert.Empty(t, res.NutrientDeficiencies)
			assert.NotNil(t, res.Recommendations)
			assert.Empty(t, res.Recommendations)
		})
	}
}

func TestParseNumericIntakes(t *testing.T) {
	text := `{"ingredients": [],
		"nutrient_deficiencies": [
			{"nutrient": "Iron", "current_intake": 2, "recommended_intake": 18.5, "deficiency_percentage": 89},
			{"nutrient": "Zinc", "current_intake": true}
		]}`

	res, err := fixedParser().Parse(text, originalURL)
	require.NoError(t, err)
	require.Len(t, res.NutrientDeficiencies, 1)

	def := res.NutrientDeficiencies[0]
	assert.Equal(t, "Iron", def.Nutrient)
	assert.Equal(t, "2", def.CurrentIntake)
	assert.Equal(t, "18.5", def.RecommendedIntake)
	assert.Equal(t, "89", def.DeficiencyAmount)
}

func TestParseDeficienciesAndRecommendations(t *testing.T) {
	text := `{"ingredients": [],
		"nutrient_deficiencies": [
			{"nutrient": "", "deficiency_amount": "10 g"},
			{"nutrient": "Iron", "deficiency_amount": "6 mg", "deficiency_percentage": "70%", "suggested_sources": ["", "Spinach"]}
		],
		"recommendations": [
			{"name": "", "description": "nameless"},
			{"name": "First", "description": "a"},
			{"name": "Second", "description": "b"},
			{"name": "Third", "description": "c"}
		]}`

	res, err := fixedParser().Parse(text, originalURL)
	require.NoError(t, err)

	require.Len(t, res.NutrientDeficiencies, 1)
	assert.Equal(t, "Iron", res.NutrientDeficiencies[0].Nutrient)
	assert.Equal(t, "6 mg", res.NutrientDeficiencies[0].DeficiencyAmount)
	assert.Equal(t, []string{"Spinach"}, res.NutrientDeficiencies[0].SuggestedSources)

	require.Len(t, res.Recommendations, 2)
	assert.Equal(t, "First", res.Recommendations[0].Name)
	assert.Equal(t, "Second", res.Recommendations[1].Name)
}

func TestParseTimestampDefaults(t *testing.T) {
	p := fixedParser()
	want := p.now()

	for _, text := range []string{
		`{"ingredients": []}`,
		`{"ingredients": [], "timestamp": "yesterday"}`,
		`{"ingredients": [], "timestamp": 1700000000}`,
		`{"ingredients": [], "timestamp": null}`,
	} {
		res, err := p.Parse(text, originalURL)
		require.NoError(t, err)
		assert.Equal(t, want, res.Timestamp, text)
	}
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("```{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, stripFences(`  {"a":1} `))
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}"))
}
