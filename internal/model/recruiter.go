package model

import "time"

// Recruiter is a staff user who reviews exam sessions and proctoring logs.
type Recruiter struct {
	ID           int       `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RecruiterLoginRequest is the payload for recruiter authentication.
type RecruiterLoginRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=6,max=128"`
}

// RecruiterLoginResponse is returned after successful recruiter login.
type RecruiterLoginResponse struct {
	Token     string    `json:"token"`
	Recruiter Recruiter `json:"recruiter"`
}
