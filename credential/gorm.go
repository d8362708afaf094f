package credential

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"ReelStudio-server/models"
)

// ProviderGemini names the generation service row in the credential table.
const ProviderGemini = "gemini"

// DBStore keeps the key in the credential table so every server and worker
// process sees the same key and the same invalidation.
type DBStore struct {
	db       *gorm.DB
	provider string
}

func NewDBStore(db *gorm.DB) *DBStore {
	return &DBStore{db: db, provider: ProviderGemini}
}

func (s *DBStore) APIKey(ctx context.Context) (string, error) {
	cred, err := models.GetCredential(s.db.WithContext(ctx), s.provider)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrMissing
		}
		return "", err
	}
	if !cred.Valid || strings.TrimSpace(cred.Token) == "" {
		return "", ErrMissing
	}
	return cred.Token, nil
}

func (s *DBStore) Invalidate(ctx context.Context) error {
	return models.InvalidateCredential(s.db.WithContext(ctx), s.provider)
}

func (s *DBStore) Set(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("credential: api key is required")
	}
	return models.UpsertCredential(s.db.WithContext(ctx), s.provider, key)
}

// Seed stores key only when no row exists yet, so a key re-acquired at
// runtime is not overwritten by the one from configuration on restart.
func (s *DBStore) Seed(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	_, err := models.GetCredential(s.db.WithContext(ctx), s.provider)
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return models.UpsertCredential(s.db.WithContext(ctx), s.provider, key)
}

var _ Store = (*DBStore)(nil)
