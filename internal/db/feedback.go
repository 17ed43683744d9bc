package db

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"document-quiz/internal/helper"
	"document-quiz/internal/models"
)

type FeedbackRecord struct {
	bun.BaseModel    `bun:"table:question_feedback,alias:f"`
	ID               string    `bun:"id,pk"`
	QuestionID       string    `bun:"question_id,notnull"`
	UserID           string    `bun:"user_id"`
	Vote             string    `bun:"vote,notnull"`
	DifficultyRating *int      `bun:"difficulty_rating"`
	QualityRating    *int      `bun:"quality_rating"`
	Comments         string    `bun:"comments"`
	IsHelpful        *bool     `bun:"is_helpful"`
	IsAccurate       *bool     `bun:"is_accurate"`
	CreatedAt        time.Time `bun:"created_at,notnull"`
}

type FeedbackRepository struct {
	db  *bun.DB
	now func() time.Time
}

func NewFeedbackRepository(db *bun.DB) *FeedbackRepository {
	return &FeedbackRepository{db: db, now: time.Now}
}

// Save validates and stores f. CreatedAt is stamped when zero.
func (r *FeedbackRepository) Save(ctx context.Context, f models.Feedback) (models.Feedback, error) {
	if err := f.Validate(); err != nil {
		return f, err
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = r.now().UTC()
	}
	id, err := helper.GenerateUUID()
	if err != nil {
		return f, err
	}

	rec := &FeedbackRecord{
		ID:               id,
		QuestionID:       f.QuestionID,
		UserID:           f.UserID,
		Vote:             string(f.Vote),
		DifficultyRating: f.DifficultyRating,
		QualityRating:    f.QualityRating,
		Comments:         f.Comments,
		IsHelpful:        f.IsHelpful,
		IsAccurate:       f.IsAccurate,
		CreatedAt:        f.CreatedAt,
	}
	if _, err := r.db.NewInsert().Model(rec).Exec(ctx); err != nil {
		return f, fmt.Errorf("failed to store feedback: %w", err)
	}
	return f, nil
}

// ListByQuestion returns the feedback for questionID, newest first.
func (r *FeedbackRepository) ListByQuestion(ctx context.Context, questionID string) ([]models.Feedback, error) {
	var records []FeedbackRecord
	err := r.db.NewSelect().
		Model(&records).
		Where("question_id = ?", questionID).
		OrderExpr("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}

	out := make([]models.Feedback, 0, len(records))
	for _, rec := range records {
		out = append(out, models.Feedback{
			QuestionID:       rec.QuestionID,
			UserID:           rec.UserID,
			Vote:             models.Vote(rec.Vote),
			DifficultyRating: rec.DifficultyRating,
			QualityRating:    rec.QualityRating,
			Comments:         rec.Comments,
			IsHelpful:        rec.IsHelpful,
			IsAccurate:       rec.IsAccurate,
			CreatedAt:        rec.CreatedAt,
		})
	}
	return out, nil
}
