package database

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/franckalain/snapnourish/internal/models"
)

const (
	usersCollection     = "users"
	nutritionCollection = "nutrition_info"
)

// firestoreRecord is the document stored at users/{uid}/nutrition_info/{id}.
// A zero Timestamp is replaced by the server's commit time on write.
type firestoreRecord struct {
	PhotoURL             string                      `firestore:"photoUrl"`
	Ingredients          []models.Ingredient         `firestore:"ingredients"`
	NutrientDeficiencies []models.NutrientDeficiency `firestore:"nutrientDeficiencies"`
	Recommendations      []models.Recommendation     `firestore:"recommendations"`
	Timestamp            time.Time                   `firestore:"timestamp,serverTimestamp"`
}

func newFirestoreRecord(result *models.AnalysisResult) firestoreRecord {
	r := nonNil(result)
	return firestoreRecord{
		PhotoURL:             r.PhotoURL,
		Ingredients:          r.Ingredients,
		NutrientDeficiencies: r.NutrientDeficiencies,
		Recommendations:      r.Recommendations,
	}
}

func (d firestoreRecord) toPersisted(userID, id string) *models.PersistedRecord {
	return &models.PersistedRecord{
		ID:     id,
		UserID: userID,
		AnalysisResult: models.AnalysisResult{
			PhotoURL:             d.PhotoURL,
			Ingredients:          d.Ingredients,
			NutrientDeficiencies: d.NutrientDeficiencies,
			Recommendations:      d.Recommendations,
			Timestamp:            d.Timestamp,
		},
	}
}

// FirestoreDB stores analyses in per-user Firestore subcollections
type FirestoreDB struct {
	client *firestore.Client
}

// NewFirestoreDB connects to Firestore in projectID. Application default
// credentials are used unless credentialsFile is set.
func NewFirestoreDB(ctx context.Context, projectID, credentialsFile string) (*FirestoreDB, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating firestore client: %w", err)
	}
	return &FirestoreDB{client: client}, nil
}

func (f *FirestoreDB) collection(userID string) *firestore.CollectionRef {
	return f.client.Collection(usersCollection).Doc(userID).Collection(nutritionCollection)
}

// SaveAnalysis adds a document with an auto-generated id
func (f *FirestoreDB) SaveAnalysis(ctx context.Context, userID string, result *models.AnalysisResult) (string, error) {
	ref, _, err := f.collection(userID).Add(ctx, newFirestoreRecord(result))
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	return ref.ID, nil
}

// GetAnalysis reads one document of the user's collection
func (f *FirestoreDB) GetAnalysis(ctx context.Context, userID, id string) (*models.PersistedRecord, error) {
	snap, err := f.collection(userID).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("%w: analysis %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}

	var doc firestoreRecord
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", models.ErrPersistence, id, err)
	}
	return doc.toPersisted(userID, snap.Ref.ID), nil
}

// ListAnalyses returns the newest documents of the user's collection
func (f *FirestoreDB) ListAnalyses(ctx context.Context, userID string, limit int) ([]*models.PersistedRecord, error) {
	snaps, err := f.collection(userID).
		OrderBy("timestamp", firestore.Desc).
		Limit(clampLimit(limit)).
		Documents(ctx).
		GetAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}

	results := make([]*models.PersistedRecord, 0, len(snaps))
	for _, snap := range snaps {
		var doc firestoreRecord
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("%w: decoding %s: %v", models.ErrPersistence, snap.Ref.ID, err)
		}
		results = append(results, doc.toPersisted(userID, snap.Ref.ID))
	}
	return results, nil
}

// Close closes the Firestore client
func (f *FirestoreDB) Close() error {
	return f.client.Close()
}
