package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// Seeds a question pool and one pending exam session, then prints the
// candidate token. Intended for local development and the e2e suite.
func main() {
	questions := flag.Int("questions", 10, "Working-set size of the session")
	duration := flag.Int("duration", 30, "Exam duration in minutes")
	window := flag.Duration("window", 24*time.Hour, "How long the pending session stays open")
	skipPool := flag.Bool("skip-pool", false, "Reuse the existing question pool")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	questionRepo := repository.NewQuestionRepository(pool)
	sessionRepo := repository.NewExamSessionRepository(pool)

	if !*skipPool {
		fmt.Println("=== Seeding Question Pool ===")
		created := 0
		for i, difficulty := range []model.Difficulty{model.DifficultyEasy, model.DifficultyMedium, model.DifficultyHard} {
			for n := 1; n <= *questions; n++ {
				q := &model.ExamQuestion{
					QuestionText:  fmt.Sprintf("What is %d + %d? (%s)", n, i+1, difficulty),
					QuestionType:  model.QuestionTypeMCQ,
					Options:       []string{fmt.Sprint(n + i), fmt.Sprint(n + i + 1), fmt.Sprint(n + i + 2), fmt.Sprint(n + i + 3)},
					CorrectAnswer: fmt.Sprint(n + i + 1),
					Points:        i + 1,
					Category:      model.CategoryTechnical,
					Difficulty:    difficulty,
				}
				if n%2 == 0 {
					q.Category = model.CategoryAptitude
				}
				if err := questionRepo.Create(ctx, nil, q); err != nil {
					log.Fatal().Err(err).Msg("Failed to create question")
				}
				created++
			}
		}
		fmt.Printf("Created %d questions.\n", created)
	}

	expiresAt := time.Now().Add(*window)
	session := &model.ExamSession{
		ExamToken:       uuid.NewString(),
		CandidateID:     uuid.New(),
		DurationMinutes: *duration,
		TotalQuestions:  *questions,
		ExpiresAt:       &expiresAt,
	}
	if err := sessionRepo.Create(ctx, session); err != nil {
		log.Fatal().Err(err).Msg("Failed to create exam session")
	}

	fmt.Println("\n=== Exam Session Ready ===")
	fmt.Printf("Session ID:  %s\n", session.ID)
	fmt.Printf("Token:       %s\n", session.ExamToken)
	fmt.Printf("Open until:  %s\n", expiresAt.Format(time.RFC3339))
}
