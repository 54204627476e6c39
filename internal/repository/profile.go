package repository

import (
	"context"

	"github.com/lib/pq"

	"github.com/linkdesk/session-broker/internal/database"
	"github.com/linkdesk/session-broker/internal/model"
)

type ProfileRepository interface {
	FindByUserIDs(ctx context.Context, userIDs []string) (map[string]model.Profile, error)
}

type profileRepo struct {
	db database.DBTX
}

func NewProfileRepository(db database.DBTX) ProfileRepository {
	return &profileRepo{db: db}
}

func (r *profileRepo) FindByUserIDs(ctx context.Context, userIDs []string) (map[string]model.Profile, error) {
	result := make(map[string]model.Profile, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}

	var profiles []model.Profile
	err := r.db.SelectContext(ctx, &profiles, `
		SELECT user_id, display_name, avatar_url FROM profiles
		WHERE user_id = ANY($1)
	`, pq.Array(userIDs))
	if err != nil {
		return nil, err
	}

	for _, p := range profiles {
		result[p.UserID] = p
	}
	return result, nil
}
