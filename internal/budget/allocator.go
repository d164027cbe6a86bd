// Package budget computes per-question time limits for an interview attempt.
package budget

import "github.com/ent0n29/proctor/internal/domain"

// DefaultCapSeconds is the hard per-question ceiling used when no cap is given.
const DefaultCapSeconds = 600

const (
	minQuestions = 3
	maxQuestions = 12
)

// Multiplier returns the weight applied to the even share of a question.
// Unknown difficulties weigh like medium.
func Multiplier(d domain.Difficulty) float64 {
	return float64(permille(d)) / 1000
}

func permille(d domain.Difficulty) int64 {
	switch d {
	case domain.DifficultyEasy:
		return 800
	case domain.DifficultyHard:
		return 1300
	default:
		return 1000
	}
}

// Allocate returns one limit in seconds per question, in question order.
//
// The even share remaining/len(questions) is weighted by difficulty and
// clamped to capSeconds (DefaultCapSeconds when capSeconds <= 0). A question
// carrying its own time limit keeps it, bounded by the cap and by the time not
// yet handed out. When the weighted limits would need more time than is left
// after explicit limits, they are scaled down proportionally. The total never
// exceeds remaining, and every question gets at least one second unless there
// are fewer seconds than questions.
func Allocate(remaining int, questions []domain.Question, capSeconds int) []int {
	out := make([]int, len(questions))
	if remaining <= 0 || len(questions) == 0 {
		return out
	}
	if capSeconds <= 0 {
		capSeconds = DefaultCapSeconds
	}
	floor := 1
	if remaining < len(questions) {
		floor = 0
	}

	// Seconds above the per-question floor still free for explicit limits.
	spare := remaining - floor*len(questions)
	pool := remaining
	computed := make([]int, 0, len(questions))
	for i, q := range questions {
		if q.TimeLimitSeconds <= 0 {
			computed = append(computed, i)
			continue
		}
		limit := minInt(q.TimeLimitSeconds, capSeconds)
		extra := minInt(maxInt(limit-floor, 0), spare)
		out[i] = floor + extra
		spare -= extra
		pool -= out[i]
	}
	if len(computed) == 0 {
		return out
	}

	// Integer arithmetic keeps the result exact and reproducible.
	n := int64(len(questions)) * 1000
	sum := 0
	for _, i := range computed {
		limit := int(int64(remaining) * permille(questions[i].Difficulty) / n)
		out[i] = maxInt(minInt(limit, capSeconds), floor)
		sum += out[i]
	}
	if sum <= pool {
		return out
	}

	// pool >= floor*len(computed) because explicit limits left that much.
	base := floor * len(computed)
	for _, i := range computed {
		out[i] = floor + int(int64(out[i]-floor)*int64(pool-base)/int64(sum-base))
	}
	return out
}

// Total sums a set of limits.
func Total(limits []int) int {
	total := 0
	for _, l := range limits {
		total += l
	}
	return total
}

// QuestionCount suggests how many questions fit in the remaining time for an
// interview of the given overall difficulty, assuming a one hour baseline.
func QuestionCount(remaining int, d domain.Difficulty) int {
	base := 6
	switch d {
	case domain.DifficultyEasy:
		base = 8
	case domain.DifficultyHard:
		base = 4
	}
	n := int(float64(base) * float64(remaining) / 3600)
	if n < minQuestions {
		return minQuestions
	}
	if n > maxQuestions {
		return maxQuestions
	}
	return n
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
