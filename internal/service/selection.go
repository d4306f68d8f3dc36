package service

import (
	"math"
	"math/rand/v2"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// difficultyMix returns how many easy, medium and hard questions make up a
// working set of n: half easy, thirty percent medium, the rest hard.
func difficultyMix(n int) (easy, medium, hard int) {
	easy = int(math.Ceil(float64(n) * 0.5))
	medium = min(int(math.Ceil(float64(n)*0.3)), n-easy)
	hard = n - easy - medium
	return easy, medium, hard
}

// selectQuestions draws a working set of n questions from pool following the
// difficulty mix. Buckets that run short are topped up from whatever is left.
func selectQuestions(pool []model.ExamQuestion, n int, rng *rand.Rand) []model.ExamQuestion {
	if n <= 0 || len(pool) == 0 {
		return nil
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	buckets := map[model.Difficulty][]int{}
	for i, q := range pool {
		buckets[q.Difficulty] = append(buckets[q.Difficulty], i)
	}

	easy, medium, hard := difficultyMix(n)
	picked := make(map[int]bool, n)
	selected := make([]model.ExamQuestion, 0, n)

	take := func(idx []int, count int) {
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		for _, i := range idx {
			if count == 0 || len(selected) == n {
				return
			}
			if picked[i] {
				continue
			}
			picked[i] = true
			selected = append(selected, pool[i])
			count--
		}
	}

	take(buckets[model.DifficultyEasy], easy)
	take(buckets[model.DifficultyMedium], medium)
	take(buckets[model.DifficultyHard], hard)

	if len(selected) < n {
		rest := make([]int, 0, len(pool)-len(selected))
		for i := range pool {
			if !picked[i] {
				rest = append(rest, i)
			}
		}
		take(rest, n-len(selected))
	}

	rng.Shuffle(len(selected), func(i, j int) { selected[i], selected[j] = selected[j], selected[i] })
	return selected
}
