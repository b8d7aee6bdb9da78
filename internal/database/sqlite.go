package database

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/franckalain/snapnourish/internal/models"
)

//go:embed schema.sql
var schemaFS embed.FS

// timeLayout is fixed-width so that text ordering matches time ordering
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteDB implements the DB interface
type SQLiteDB struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteDB creates a new SQLite database connection
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if dbPath == ":memory:" {
		// every connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("error enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("error setting busy timeout: %w", err)
	}

	if err := initializeSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing schema: %w", err)
	}

	return &SQLiteDB{db: db, now: time.Now}, nil
}

func initializeSchema(db *sql.DB) error {
	schemaBytes, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("error reading schema file: %w", err)
	}

	if _, err := db.Exec(string(schemaBytes)); err != nil {
		return fmt.Errorf("error executing schema: %w", err)
	}

	log.Debug("database schema initialized")
	return nil
}

// SaveAnalysis inserts a new record stamped with the store's clock
func (s *SQLiteDB) SaveAnalysis(ctx context.Context, userID string, result *models.AnalysisResult) (string, error) {
	r := nonNil(result)

	ingredients, err := json.Marshal(r.Ingredients)
	if err != nil {
		return "", fmt.Errorf("%w: encoding ingredients: %v", models.ErrPersistence, err)
	}
	deficiencies, err := json.Marshal(r.NutrientDeficiencies)
	if err != nil {
		return "", fmt.Errorf("%w: encoding nutrient deficiencies: %v", models.ErrPersistence, err)
	}
	recommendations, err := json.Marshal(r.Recommendations)
	if err != nil {
		return "", fmt.Errorf("%w: encoding recommendations: %v", models.ErrPersistence, err)
	}

	query := `
		INSERT INTO nutrition_info (
			id, user_id, photo_url, ingredients, nutrient_deficiencies,
			recommendations, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx, query,
		id, userID, r.PhotoURL,
		string(ingredients), string(deficiencies), string(recommendations),
		s.now().UTC().Format(timeLayout),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	return id, nil
}

// GetAnalysis retrieves one record owned by userID
func (s *SQLiteDB) GetAnalysis(ctx context.Context, userID, id string) (*models.PersistedRecord, error) {
	query := `
		SELECT id, user_id, photo_url, ingredients, nutrient_deficiencies,
			recommendations, timestamp
		FROM nutrition_info WHERE user_id = ? AND id = ?
	`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, userID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: analysis %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	return rec, nil
}

// ListAnalyses retrieves the most recent records of userID
func (s *SQLiteDB) ListAnalyses(ctx context.Context, userID string, limit int) ([]*models.PersistedRecord, error) {
	query := `
		SELECT id, user_id, photo_url, ingredients, nutrient_deficiencies,
			recommendations, timestamp
		FROM nutrition_info
		WHERE user_id = ?
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	defer rows.Close()

	results := []*models.PersistedRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	return results, nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.PersistedRecord, error) {
	var (
		rec                                        models.PersistedRecord
		ingredients, deficiencies, recommendations string
		timestamp                                  string
	)
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.PhotoURL,
		&ingredients, &deficiencies, &recommendations, &timestamp,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(ingredients), &rec.Ingredients); err != nil {
		return nil, fmt.Errorf("decoding ingredients of %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(deficiencies), &rec.NutrientDeficiencies); err != nil {
		return nil, fmt.Errorf("decoding nutrient deficiencies of %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(recommendations), &rec.Recommendations); err != nil {
		return nil, fmt.Errorf("decoding recommendations of %s: %w", rec.ID, err)
	}
	if rec.Timestamp, err = time.Parse(timeLayout, timestamp); err != nil {
		return nil, fmt.Errorf("parsing timestamp of %s: %w", rec.ID, err)
	}
	return &rec, nil
}
