package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamProgressKey returns the key holding a session's mirrored progress
// (answers + current question index).
func (r *CacheKeyStruct) ExamProgressKey(sessionID string) string {
	return fmt.Sprintf("exam_progress_%s", sessionID)
}

// ExamQuestionOrderKey returns the key holding a session's persisted shuffle order.
func (r *CacheKeyStruct) ExamQuestionOrderKey(sessionID string) string {
	return fmt.Sprintf("exam_question_order_%s", sessionID)
}

// SessionAnswersKey returns the hash of question id → evaluated response JSON for a session.
func (r *CacheKeyStruct) SessionAnswersKey(sessionID string) string {
	return fmt.Sprintf("session:%s:answers", sessionID)
}

// RecruiterTokenKey returns the key that marks a recruiter JWT as revoked.
func (r *CacheKeyStruct) RecruiterTokenKey(jti string) string {
	return fmt.Sprintf("recruiter:revoked:%s", jti)
}

// SessionMonitorChannel returns the Redis PubSub channel for one exam session.
func (r *CacheKeyStruct) SessionMonitorChannel(sessionID string) string {
	return fmt.Sprintf("session:%s:monitor", sessionID)
}

var CacheKey = NewCacheKeyStruct()
