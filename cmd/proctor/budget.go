package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ent0n29/proctor/internal/budget"
	"github.com/ent0n29/proctor/internal/domain"
)

func newBudgetCmd() *cobra.Command {
	var (
		remaining    int
		difficulties string
		level        string
		capSeconds   int
	)
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Print per-question time limits",
		Long: `Print the time limit each question would get for the given remaining
time. Without --difficulty the suggested question count for --level is used.`,
		Example: "  proctor budget --remaining 3600 --difficulty easy,medium,hard",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if remaining <= 0 {
				return fmt.Errorf("--remaining must be > 0")
			}
			questions, err := questionsFor(remaining, difficulties, level)
			if err != nil {
				return err
			}
			limits := budget.Allocate(remaining, questions, capSeconds)

			w := cmd.OutOrStdout()
			for i, limit := range limits {
				fmt.Fprintf(w, "q%-3d %-7s %5ds\n", i+1, questions[i].Difficulty, limit)
			}
			fmt.Fprintf(w, "total %ds of %ds\n", budget.Total(limits), remaining)
			return nil
		},
	}
	cmd.Flags().IntVar(&remaining, "remaining", 3600, "seconds left in the session")
	cmd.Flags().StringVar(&difficulties, "difficulty", "", "comma separated question difficulties (easy|medium|hard)")
	cmd.Flags().StringVar(&level, "level", "medium", "overall difficulty used to suggest a question count")
	cmd.Flags().IntVar(&capSeconds, "cap", budget.DefaultCapSeconds, "per-question ceiling in seconds")
	return cmd
}

func questionsFor(remaining int, difficulties, level string) ([]domain.Question, error) {
	var levels []domain.Difficulty
	if strings.TrimSpace(difficulties) == "" {
		d, err := parseDifficulty(level)
		if err != nil {
			return nil, err
		}
		for i := 0; i < budget.QuestionCount(remaining, d); i++ {
			levels = append(levels, d)
		}
	} else {
		for _, part := range strings.Split(difficulties, ",") {
			d, err := parseDifficulty(part)
			if err != nil {
				return nil, err
			}
			levels = append(levels, d)
		}
	}
	out := make([]domain.Question, len(levels))
	for i, d := range levels {
		out[i] = domain.Question{ID: fmt.Sprintf("q%d", i+1), Difficulty: d, Position: i + 1}
	}
	return out, nil
}

func parseDifficulty(raw string) (domain.Difficulty, error) {
	switch d := domain.Difficulty(strings.ToLower(strings.TrimSpace(raw))); d {
	case domain.DifficultyEasy, domain.DifficultyMedium, domain.DifficultyHard:
		return d, nil
	default:
		return "", fmt.Errorf("invalid difficulty %q (expected easy|medium|hard)", raw)
	}
}
