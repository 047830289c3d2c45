// Package engine implements the turn-progression and scoring rules of a
// debate battle: whose turn it is, how a judged argument maps to damage, and
// when a winner is declared. Everything here is a pure function over match
// snapshots — no store access, no I/O — so a match can be replayed
// deterministically from its chat log.
package engine

import "debate-arena/models"

const (
	MinDamage = 5
	MaxDamage = 20

	MinRating     = 1
	MaxRating     = 10
	DefaultRating = 5
)

// SkipMessage is the chat entry recorded when narration misses its time
// budget. A skipped turn still consumes a turn slot.
const SkipMessage = "Time limit exceeded. Skipping turn."

// TurnIndex derives the acting agent for the next turn from the number of
// entries already in the chat log. The log length is the single source of
// truth for turn order; no separate counter exists.
func TurnIndex(logLen, agentCount int) int {
	return logLen % agentCount
}

// TargetIndex is the agent (and character) the acting agent argues against.
func TargetIndex(acting, agentCount int) int {
	return (acting + 1) % agentCount
}

// Damage maps a 1-10 argument rating onto [MinDamage, MaxDamage]:
// floor(MinDamage + rating/10 * (MaxDamage-MinDamage)). Ratings outside the
// scale are clamped before mapping.
func Damage(rating int) int {
	if rating < MinRating {
		rating = MinRating
	}
	if rating > MaxRating {
		rating = MaxRating
	}
	return MinDamage + rating*(MaxDamage-MinDamage)/MaxRating
}

// Outcome is a scored narration for the acting agent's turn. Skipped marks
// a narration that missed its time budget.
type Outcome struct {
	Message string
	Rating  int
	Skipped bool
}

// Result is the engine's verdict for one turn: the entry to append, the new
// health snapshot, the damage dealt, and the winner's display name (empty
// while the match continues).
type Result struct {
	Entry  models.ChatEntry
	Health models.Health
	Damage int
	Winner string
}

// Resolve turns a scored narration into bounded state mutations. It appends
// exactly one chat entry and decrements only the target's health, clamped to
// [0, MaxHealth]. A skipped turn keeps health and winner untouched but still
// occupies a turn slot.
func Resolve(agents [2]string, health models.Health, acting int, out Outcome) Result {
	entry := models.ChatEntry{Agent: agents[acting]}

	if out.Skipped {
		entry.Message = SkipMessage
		return Result{Entry: entry, Health: health}
	}
	entry.Message = out.Message

	dmg := Damage(out.Rating)
	if TargetIndex(acting, len(agents)) == 0 {
		health.Character1 = clampHealth(health.Character1 - dmg)
	} else {
		health.Character2 = clampHealth(health.Character2 - dmg)
	}

	return Result{
		Entry:  entry,
		Health: health,
		Damage: dmg,
		Winner: Winner(agents, health),
	}
}

// Winner declares agents[1] when character1 collapses and agents[0] when
// character2 does. The character1 check runs first and decides the match if
// both are down in the same snapshot.
func Winner(agents [2]string, health models.Health) string {
	if health.Character1 <= 0 {
		return agents[1]
	}
	if health.Character2 <= 0 {
		return agents[0]
	}
	return ""
}

func clampHealth(h int) int {
	if h < 0 {
		return 0
	}
	if h > models.MaxHealth {
		return models.MaxHealth
	}
	return h
}
