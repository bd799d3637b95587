package optimization

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// IterationRecord captures one iteration's statistics. Records are appended
// once per iteration and never rewritten; the resulting history is the
// audit trail convergence checks and reporting run on.
type IterationRecord struct {
	Iteration       int       `json:"iteration"`
	BestFitness     float64   `json:"best_fitness"`
	AverageFitness  float64   `json:"average_fitness"`
	WorstFitness    float64   `json:"worst_fitness"`
	Diversity       float64   `json:"diversity"`
	InfeasibleCount int       `json:"infeasible_count"`
	Timestamp       time.Time `json:"timestamp"`
}

// Snapshot builds the record for one iteration from the current population.
// bestEver is the best-ever fitness, which is what BestFitness reports so
// the column is non-increasing under elitist replacement. Single-point
// methods pass their one iterate and diversity 0.
func Snapshot(iteration int, population []*Solution, bestEver float64, diversity float64) IterationRecord {
	rec := IterationRecord{
		Iteration:   iteration,
		BestFitness: bestEver,
		Diversity:   diversity,
		Timestamp:   time.Now(),
	}
	if len(population) == 0 {
		return rec
	}
	fitness := make([]float64, len(population))
	worst := math.Inf(-1)
	for i, s := range population {
		fitness[i] = s.Fitness
		if s.Fitness > worst {
			worst = s.Fitness
		}
		if !s.Feasible {
			rec.InfeasibleCount++
		}
	}
	rec.AverageFitness = stat.Mean(fitness, nil)
	rec.WorstFitness = worst
	return rec
}

// Diversity is the mean pairwise Euclidean distance across continuous
// genes, with each gene difference normalized by its variable range so the
// adaptive-parameter thresholds are scale free. Populations of fewer than
// two members, and problems with no continuous variables, have diversity 0.
func Diversity(population []*Solution, variables []Variable) float64 {
	if len(population) < 2 {
		return 0
	}
	cont := make([]int, 0, len(variables))
	for i := range variables {
		if variables[i].Kind == Continuous && variables[i].Range() > 0 {
			cont = append(cont, i)
		}
	}
	if len(cont) == 0 {
		return 0
	}
	total, pairs := 0.0, 0
	for i := 0; i < len(population); i++ {
		for j := i + 1; j < len(population); j++ {
			sum := 0.0
			for _, k := range cont {
				d := (population[i].Values[k].Real - population[j].Values[k].Real) / variables[k].Range()
				sum += d * d
			}
			total += math.Sqrt(sum / float64(len(cont)))
			pairs++
		}
	}
	return total / float64(pairs)
}

// Improvement returns how much the best fitness improved over the trailing
// window of the history, or +Inf while the window has not filled yet.
// Convergence checks compare it against the problem tolerance.
func Improvement(history []IterationRecord, window int) float64 {
	if len(history) < window+1 {
		return math.Inf(1)
	}
	return history[len(history)-1-window].BestFitness - history[len(history)-1].BestFitness
}

// BestFitnessVariance returns the variance of the best-fitness column over
// the trailing window, or +Inf while the window has not filled. Annealing
// uses it for stagnation and restart detection.
func BestFitnessVariance(history []IterationRecord, window int) float64 {
	if len(history) < window {
		return math.Inf(1)
	}
	tail := make([]float64, window)
	for i := 0; i < window; i++ {
		tail[i] = history[len(history)-window+i].BestFitness
	}
	return stat.Variance(tail, nil)
}

// Stats aggregates a finished run.
type Stats struct {
	Iterations    int           `json:"iterations"`
	Evaluations   int64         `json:"evaluations"`
	Duration      time.Duration `json:"duration"`
	InitialBest   float64       `json:"initial_best"`
	FinalBest     float64       `json:"final_best"`
	MeanIterBest  float64       `json:"mean_iteration_best"`
	TotalImproved float64       `json:"total_improvement"`
}

// SummarizeHistory derives the aggregate statistics from a run's history.
func SummarizeHistory(history []IterationRecord, evaluations int64, duration time.Duration) Stats {
	s := Stats{
		Iterations:  len(history),
		Evaluations: evaluations,
		Duration:    duration,
	}
	if len(history) == 0 {
		return s
	}
	best := make([]float64, len(history))
	for i, rec := range history {
		best[i] = rec.BestFitness
	}
	s.InitialBest = best[0]
	s.FinalBest = best[len(best)-1]
	s.MeanIterBest = stat.Mean(best, nil)
	s.TotalImproved = s.InitialBest - s.FinalBest
	return s
}
