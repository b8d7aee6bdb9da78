package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/apex/log"

	"github.com/franckalain/snapnourish/internal/metrics"
	"github.com/franckalain/snapnourish/internal/models"
)

const (
	maxSuggestedSources = 3
	maxRecommendations  = 2
)

// quantityPattern matches "<non-negative number><optional space><unit>",
// e.g. "250 kcal", "0.5g", "1.2 kg CO₂". The unit must not start with a digit
// or a dot, so bare numbers never match.
var quantityPattern = regexp.MustCompile(`^\d+(?:\.\d+)?\s?[^\d\s.].*$`)

// rawResult mirrors the JSON object the model is asked to return. Only the
// ingredients array is required; the optional lists and the timestamp stay
// raw so a badly typed value can be discarded without failing the parse.
// photoUrl is not decoded since the result always carries the caller's URL.
type rawResult struct {
	Ingredients          *[]json.RawMessage `json:"ingredients"`
	NutrientDeficiencies json.RawMessage    `json:"nutrient_deficiencies"`
	Recommendations      json.RawMessage    `json:"recommendations"`
	Timestamp            json.RawMessage    `json:"timestamp"`
}

type rawDeficiency struct {
	Nutrient             string      `json:"nutrient"`
	CurrentIntake        looseString `json:"current_intake"`
	RecommendedIntake    looseString `json:"recommended_intake"`
	DeficiencyAmount     looseString `json:"deficiency_amount"`
	DeficiencyPercentage looseString `json:"deficiency_percentage"`
	SuggestedSources     []string    `json:"suggested_sources"`
}

// looseString accepts a JSON string or number. Intakes are often emitted as
// bare values; a number keeps its literal text.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = looseString(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*s = looseString(n.String())
	return nil
}

func (s looseString) trimmed() string {
	return strings.TrimSpace(string(s))
}

// Parser turns the model's raw text answer into a validated AnalysisResult
type Parser struct {
	now func() time.Time
}

// New creates a parser that stamps results with the wall clock
func New() *Parser {
	return &Parser{now: time.Now}
}

// Parse strips code fences from rawText, decodes it and validates every
// entry. Invalid ingredients, deficiencies and recommendations are dropped;
// only output that is not a JSON object with an ingredients array fails.
// PhotoURL is always set to originalPhotoURL.
func (p *Parser) Parse(rawText, originalPhotoURL string) (*models.AnalysisResult, error) {
	text := stripFences(rawText)

	var raw rawResult
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMalformedModelOutput, err)
	}
	if raw.Ingredients == nil {
		return nil, fmt.Errorf("%w: missing ingredients array", models.ErrMalformedModelOutput)
	}

	result := &models.AnalysisResult{
		PhotoURL:        originalPhotoURL,
		Ingredients:     make([]models.Ingredient, 0, len(*raw.Ingredients)),
		Recommendations: []models.Recommendation{},
		Timestamp:       p.timestamp(raw.Timestamp),
	}

	for i, item := range *raw.Ingredients {
		ing, err := parseIngredient(item)
		if err != nil {
			drop("ingredient", i, err)
			continue
		}
		result.Ingredients = append(result.Ingredients, ing)
	}

	for i, item := range optionalList("nutrient_deficiencies", raw.NutrientDeficiencies) {
		def, err := parseDeficiency(item)
		if err != nil {
			drop("nutrient_deficiency", i, err)
			continue
		}
		result.NutrientDeficiencies = append(result.NutrientDeficiencies, def)
	}

	for i, item := range optionalList("recommendations", raw.Recommendations) {
		if len(result.Recommendations) == maxRecommendations {
			drop("recommendation", i, fmt.Errorf("more than %d recommendations", maxRecommendations))
			continue
		}
		var rec models.Recommendation
		if err := json.Unmarshal(item, &rec); err != nil {
			drop("recommendation", i, err)
			continue
		}
		rec.Name = strings.TrimSpace(rec.Name)
		rec.Description = strings.TrimSpace(rec.Description)
		if rec.Name == "" {
			drop("recommendation", i, fmt.Errorf("empty name"))
			continue
		}
		result.Recommendations = append(result.Recommendations, rec)
	}

	return result, nil
}

func (p *Parser) timestamp(raw json.RawMessage) time.Time {
	var s string
	if len(raw) > 0 && json.Unmarshal(raw, &s) == nil {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts.UTC()
		}
	}
	return p.now().UTC()
}

func parseIngredient(item json.RawMessage) (models.Ingredient, error) {
	var ing models.Ingredient
	if err := json.Unmarshal(item, &ing); err != nil {
		return ing, err
	}

	ing.Name = strings.TrimSpace(ing.Name)
	if ing.Name == "" {
		return ing, fmt.Errorf("empty name")
	}

	fields := []struct {
		name  string
		value *string
	}{
		{"calories", &ing.Calories},
		{"carbohydrates", &ing.Carbohydrates},
		{"protein", &ing.Protein},
		{"saturated_fat", &ing.SaturatedFat},
		{"unsaturated_fat", &ing.UnsaturatedFat},
		{"fiber", &ing.Fiber},
		{"carbon_footprint", &ing.CarbonFootprint},
	}
	for _, f := range fields {
		*f.value = strings.TrimSpace(*f.value)
		if !quantityPattern.MatchString(*f.value) {
			return ing, fmt.Errorf("invalid %s %q for %q", f.name, *f.value, ing.Name)
		}
	}
	return ing, nil
}

func parseDeficiency(item json.RawMessage) (models.NutrientDeficiency, error) {
	var raw rawDeficiency
	if err := json.Unmarshal(item, &raw); err != nil {
		return models.NutrientDeficiency{}, err
	}

	def := models.NutrientDeficiency{
		Nutrient:          strings.TrimSpace(raw.Nutrient),
		CurrentIntake:     raw.CurrentIntake.trimmed(),
		RecommendedIntake: raw.RecommendedIntake.trimmed(),
		DeficiencyAmount:  raw.DeficiencyAmount.trimmed(),
	}
	if def.Nutrient == "" {
		return def, fmt.Errorf("empty nutrient")
	}
	if def.DeficiencyAmount == "" {
		def.DeficiencyAmount = raw.DeficiencyPercentage.trimmed()
	}

	def.SuggestedSources = []string{}
	for _, src := range raw.SuggestedSources {
		if src = strings.TrimSpace(src); src == "" {
			continue
		}
		if len(def.SuggestedSources) == maxSuggestedSources {
			break
		}
		def.SuggestedSources = append(def.SuggestedSources, src)
	}
	return def, nil
}

// optionalList decodes an optional array field. Anything other than an array
// or null is discarded with a warning.
func optionalList(field string, raw json.RawMessage) []json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		metrics.DroppedItemsTotal.WithLabelValues(field).Inc()
		log.WithField("field", field).WithError(err).Warn("ignoring model output field that is not a list")
		return nil
	}
	return items
}

func drop(item string, index int, err error) {
	metrics.DroppedItemsTotal.WithLabelValues(item).Inc()
	log.WithFields(log.Fields{
		"item":  item,
		"index": index,
	}).WithError(err).Warn("dropping invalid model output entry")
}

// stripFences removes Markdown code fences (``` or ```json) around the
// payload, along with any text outside them.
func stripFences(text string) string {
	s := strings.TrimSpace(text)
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	body := strings.TrimLeftFunc(s[start+3:], unicode.IsLetter)
	if end := strings.LastIndex(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}
