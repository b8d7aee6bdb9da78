package models

import (
	"time"
)

// AnalysisRequest is the inbound call to analyze one uploaded food photo
type AnalysisRequest struct {
	UserID   string `json:"userId"`
	ImageURL string `json:"imageUrl"`
}

// ResolvedObject locates an image inside object storage
type ResolvedObject struct {
	Bucket     string
	ObjectPath string
}

// SignedReadURL is a time-limited URL a third party can fetch without credentials
type SignedReadURL struct {
	URL       string
	ExpiresAt time.Time
}

// Ingredient is one detected food item, values per 100g
type Ingredient struct {
	Name            string `json:"name" firestore:"name"`
	Calories        string `json:"calories" firestore:"calories"`                 // kcal
	Carbohydrates   string `json:"carbohydrates" firestore:"carbohydrates"`       // g
	Protein         string `json:"protein" firestore:"protein"`                   // g
	SaturatedFat    string `json:"saturated_fat" firestore:"saturated_fat"`       // g
	UnsaturatedFat  string `json:"unsaturated_fat" firestore:"unsaturated_fat"`   // g
	Fiber           string `json:"fiber" firestore:"fiber"`                       // g
	CarbonFootprint string `json:"carbon_footprint" firestore:"carbon_footprint"` // kg CO₂
}

// NutrientDeficiency flags a nutrient below the deficiency threshold of RDI
type NutrientDeficiency struct {
	Nutrient          string   `json:"nutrient" firestore:"nutrient"`
	CurrentIntake     string   `json:"current_intake" firestore:"current_intake"`
	RecommendedIntake string   `json:"recommended_intake" firestore:"recommended_intake"`
	DeficiencyAmount  string   `json:"deficiency_amount" firestore:"deficiency_amount"`
	SuggestedSources  []string `json:"suggested_sources" firestore:"suggested_sources"`
}

// Recommendation is a short dietary or sustainability suggestion
type Recommendation struct {
	Name        string `json:"name" firestore:"name"`
	Description string `json:"description" firestore:"description"`
}

// AnalysisResult is the validated output of one model call
type AnalysisResult struct {
	PhotoURL             string               `json:"photoUrl"`
	Ingredients          []Ingredient         `json:"ingredients"`
	NutrientDeficiencies []NutrientDeficiency `json:"nutrient_deficiencies,omitempty"`
	Recommendations      []Recommendation     `json:"recommendations"`
	Timestamp            time.Time            `json:"timestamp"`
}

// PersistedRecord is an AnalysisResult stored in a user's collection
type PersistedRecord struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	AnalysisResult
}

// AnalysisResponse is returned to the caller after a successful analysis
type AnalysisResponse struct {
	FoodData   *AnalysisResult `json:"foodData"`
	StorageURL string          `json:"storageUrl"`
}
