// Package progress derives phase status and task progress from the
// todo/phase tree. It performs no I/O.
package progress

import (
	"math/big"

	"github.com/balkashynov/tracker/internal/models"
)

// Compute returns the task progress (0-100) for the given phases.
//
// Every phase weighs 100/len(phases). A completed phase counts fully, an
// in-progress phase counts by its share of done todos, anything else
// counts zero. The sum is rounded half up using exact arithmetic so
// that ties never depend on float representation.
func Compute(phases []models.Phase) int {
	if len(phases) == 0 {
		return 0
	}
	total := new(big.Rat)
	for i := range phases {
		total.Add(total, Contribution(&phases[i], len(phases)))
	}
	return roundHalfUp(total)
}

// Contribution is the exact share of a single phase in a task with
// phaseCount phases. It always lies in [0, 100/phaseCount].
func Contribution(phase *models.Phase, phaseCount int) *big.Rat {
	if phaseCount <= 0 {
		return new(big.Rat)
	}
	weight := big.NewRat(100, int64(phaseCount))

	switch phase.Status {
	case models.PhaseCompleted:
		return weight
	case models.PhaseInProgress:
		done, total := CountTodos(phase.Todos)
		if total == 0 {
			return new(big.Rat)
		}
		share := big.NewRat(int64(done), int64(total))
		return share.Mul(share, weight)
	default:
		return new(big.Rat)
	}
}

// DeriveStatus computes what a phase's status should be after one of its
// todos changed. Blocked phases are sticky, and a phase without todos
// keeps whatever status it has.
func DeriveStatus(current models.PhaseStatus, todos []models.Todo) models.PhaseStatus {
	if current == models.PhaseBlocked || len(todos) == 0 {
		return current
	}

	done, total := CountTodos(todos)
	started := 0
	for _, t := range todos {
		if t.Status == models.TodoInProgress {
			started++
		}
	}

	switch {
	case done == total:
		return models.PhaseCompleted
	case done > 0 || started > 0:
		return models.PhaseInProgress
	default:
		return models.PhaseNotStarted
	}
}

// CountTodos returns the number of done todos and the total
func CountTodos(todos []models.Todo) (done, total int) {
	for _, t := range todos {
		if t.Status == models.TodoDone {
			done++
		}
	}
	return done, len(todos)
}

// AllCompleted reports whether the task owning phases may be marked done.
// A task with no phases may not.
func AllCompleted(phases []models.Phase) bool {
	if len(phases) == 0 {
		return false
	}
	for _, p := range phases {
		if p.Status != models.PhaseCompleted {
			return false
		}
	}
	return true
}

func roundHalfUp(r *big.Rat) int {
	half := big.NewRat(1, 2)
	shifted := new(big.Rat).Add(r, half)
	// Quo truncates toward zero, which is floor for non-negative values.
	q := new(big.Int).Quo(shifted.Num(), shifted.Denom())
	return int(q.Int64())
}
