package exam

import (
	"context"
	"math/rand/v2"
	"slices"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// OrderQuestions returns questions in the session's persisted order. The first
// call for a session shuffles and saves the order; later calls replay it so a
// reload shows the same sequence. A saved order that no longer matches the
// question set is discarded and reshuffled.
func OrderQuestions(
	ctx context.Context,
	store ProgressStore,
	sessionID uuid.UUID,
	questions []model.QuestionForCandidate,
	rng *rand.Rand,
	log zerolog.Logger,
) []model.QuestionForCandidate {
	saved, err := store.LoadQuestionOrder(ctx, sessionID)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to load question order")
	}

	if ordered, ok := applyOrder(questions, saved); ok {
		return ordered
	}

	shuffled := slices.Clone(questions)
	shuffle := rand.Shuffle
	if rng != nil {
		shuffle = rng.Shuffle
	}
	shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	order := make([]uuid.UUID, len(shuffled))
	for i, q := range shuffled {
		order[i] = q.ID
	}
	if err := store.SaveQuestionOrder(ctx, sessionID, order); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to save question order")
	}
	return shuffled
}

func applyOrder(questions []model.QuestionForCandidate, order []uuid.UUID) ([]model.QuestionForCandidate, bool) {
	if len(order) == 0 || len(order) != len(questions) {
		return nil, false
	}
	byID := make(map[uuid.UUID]model.QuestionForCandidate, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	out := make([]model.QuestionForCandidate, 0, len(order))
	for _, id := range order {
		q, ok := byID[id]
		if !ok {
			return nil, false
		}
		out = append(out, q)
		delete(byID, id)
	}
	return out, true
}
