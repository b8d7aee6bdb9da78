package database

import (
	"context"
	"fmt"

	"github.com/franckalain/snapnourish/internal/config"
	"github.com/franckalain/snapnourish/internal/models"
)

const (
	// DefaultListLimit is used when a caller asks for a non-positive limit
	DefaultListLimit = 20
	// MaxListLimit caps how many records one list call returns
	MaxListLimit = 100
)

// DB interface defines the methods our database should implement.
// Records are append-only: there is no update or delete.
type DB interface {
	// SaveAnalysis appends result to the user's records and returns the new
	// record id.
	SaveAnalysis(ctx context.Context, userID string, result *models.AnalysisResult) (string, error)
	// GetAnalysis returns one of the user's records or ErrNotFound.
	GetAnalysis(ctx context.Context, userID, id string) (*models.PersistedRecord, error)
	// ListAnalyses returns the user's most recent records, newest first.
	ListAnalyses(ctx context.Context, userID string, limit int) ([]*models.PersistedRecord, error)
	Close() error
}

// New opens the database backend selected by cfg.Type
func New(ctx context.Context, cfg config.DatabaseConfig) (DB, error) {
	switch cfg.Type {
	case "sqlite", "":
		db, err := NewSQLiteDB(cfg.Path)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "firestore":
		db, err := NewFirestoreDB(ctx, cfg.ProjectID, cfg.CredentialsFile)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

// clampLimit applies DefaultListLimit and MaxListLimit
func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}

// nonNil makes empty lists persist as [] rather than null
func nonNil(result *models.AnalysisResult) models.AnalysisResult {
	r := *result
	if r.Ingredients == nil {
		r.Ingredients = []models.Ingredient{}
	}
	if r.NutrientDeficiencies == nil {
		r.NutrientDeficiencies = []models.NutrientDeficiency{}
	}
	if r.Recommendations == nil {
		r.Recommendations = []models.Recommendation{}
	}
	return r
}
