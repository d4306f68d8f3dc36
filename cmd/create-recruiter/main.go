package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/service"
	"golang.org/x/term"
)

func main() {
	reset := flag.Bool("reset", false, "Reset the password of an existing recruiter instead of creating one")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Initialize Service ────────────────────────────────────────────
	// Token revocation is not needed here, so no Redis client.
	authService := service.NewAuthService(cfg, nil, repository.NewRecruiterRepository(pool))

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	if *reset {
		fmt.Println("=== Reset Recruiter Password ===")
	} else {
		fmt.Println("=== Create New Recruiter ===")
	}

	var name string
	if !*reset {
		name = prompt(reader, "Enter Name: ")
		if name == "" {
			fmt.Println("Error: Name is required")
			return
		}
	}

	email := prompt(reader, "Enter Email: ")
	if email == "" {
		fmt.Println("Error: Email is required")
		return
	}

	fmt.Print("Enter Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println() // Newline after password input
	if err != nil {
		fmt.Println("Error reading password")
		return
	}
	password := string(bytePassword)
	if len(password) < 6 {
		fmt.Println("Error: Password must be at least 6 characters")
		return
	}

	// ─── Logic ─────────────────────────────────────────────────────────
	if *reset {
		err := authService.ResetPassword(ctx, email, password)
		if errors.Is(err, service.ErrInvalidCredentials) {
			fmt.Printf("Error: no recruiter with email %s\n", email)
			return
		}
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to reset password")
		}
		fmt.Printf("\nSuccess! Password for '%s' has been reset.\n", email)
		return
	}

	recruiter, err := authService.CreateRecruiter(ctx, email, name, password)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create recruiter")
	}
	fmt.Printf("\nSuccess! Recruiter '%s' (%s) created with ID: %d\n", recruiter.Name, recruiter.Email, recruiter.ID)
}

func prompt(reader *bufio.Reader, label string) string {
	fmt.Print(label)
	s, _ := reader.ReadString('\n')
	return strings.TrimSpace(s)
}
