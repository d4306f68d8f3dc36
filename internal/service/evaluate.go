package service

import (
	"math"
	"regexp"
	"strings"

	"github.com/stemsi/exstem-proctor/internal/model"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	nonWordRe    = regexp.MustCompile(`[^\w\s]`)
)

// Evaluation is the verdict on one answer.
type Evaluation struct {
	IsCorrect    bool
	PointsEarned int
}

// Evaluator scores candidate answers against the answer key.
type Evaluator struct {
	// FuzzyThreshold enables similarity matching for MCQ answers when > 0.
	FuzzyThreshold float64
	// KeywordRatio is the share of expected keywords a text answer must contain.
	KeywordRatio float64
}

// DefaultEvaluator matches MCQ answers exactly or by option, and passes text
// answers that mention half of the expected keywords.
func DefaultEvaluator() Evaluator {
	return Evaluator{KeywordRatio: 0.5}
}

// Evaluate scores answer for q.
func (e Evaluator) Evaluate(q *model.ExamQuestion, answer string) Evaluation {
	var correct bool
	switch q.QuestionType {
	case model.QuestionTypeMCQ:
		correct = e.mcqCorrect(q, answer)
	case model.QuestionTypeText:
		correct = e.textCorrect(q.CorrectAnswer, answer)
	}
	if !correct {
		return Evaluation{}
	}
	points := q.Points
	if points <= 0 {
		points = 1
	}
	return Evaluation{IsCorrect: true, PointsEarned: points}
}

func (e Evaluator) mcqCorrect(q *model.ExamQuestion, answer string) bool {
	key := strings.TrimSpace(q.CorrectAnswer)
	if strings.TrimSpace(answer) == "" || key == "" {
		return false
	}
	candidate := cleanAnswer(answer)
	expected := cleanAnswer(key)

	if candidate == expected {
		return true
	}
	if optionMatch(candidate, q.Options, key) {
		return true
	}
	return e.FuzzyThreshold > 0 && similarity(candidate, expected) >= e.FuzzyThreshold
}

// optionMatch resolves the keyed option by letter or text and accepts either
// form from the candidate.
func optionMatch(candidate string, options []string, key string) bool {
	for i, text := range options {
		letter := optionLetter(i)
		if !strings.EqualFold(letter, key) && !strings.EqualFold(text, key) {
			continue
		}
		return candidate == strings.ToLower(letter) || candidate == cleanAnswer(text)
	}
	return false
}

func optionLetter(i int) string {
	return string(rune('A' + i))
}

func (e Evaluator) textCorrect(expected, answer string) bool {
	var keywords []string
	for _, k := range strings.Split(strings.ToLower(expected), ",") {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}
	if len(keywords) == 0 {
		return false
	}

	lower := strings.ToLower(answer)
	matched := 0
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			matched++
		}
	}
	ratio := e.KeywordRatio
	if ratio <= 0 {
		ratio = 0.5
	}
	return matched >= int(math.Ceil(float64(len(keywords))*ratio))
}

func cleanAnswer(s string) string {
	s = whitespaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
	s = nonWordRe.ReplaceAllString(s, "")
	return strings.ToLower(s)
}

// similarity is 1 minus the Levenshtein distance over the longer length.
func similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longer := max(len(ra), len(rb))
	if longer == 0 {
		return 1
	}
	return float64(longer-levenshtein(ra, rb)) / float64(longer)
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(cur[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
