// models/match.go
package models

import (
	"time"

	"github.com/gosimple/slug"
)

// MaxHealth is the starting (and ceiling) health of each character.
const MaxHealth = 100

// SystemAgent names the moderator entries in the chat log.
const SystemAgent = "System"

// ChatEntry is one line of a match's debate log.
type ChatEntry struct {
	Agent   string `json:"agent"`
	Message string `json:"message"`
}

// Health tracks both characters' remaining hit points. Each value stays
// within [0, MaxHealth].
type Health struct {
	Character1 int `json:"character1"`
	Character2 int `json:"character2"`
}

// Match is one live debate battle between two characters. ID, Topic, Slug,
// Characters and Agents are fixed at creation; only ChatLog and Health
// mutate afterwards. Agents[0] defends Characters[0], Agents[1] defends
// Characters[1].
type Match struct {
	ID         string      `json:"id"`
	Topic      string      `json:"topic"`
	Slug       string      `json:"slug"`
	Characters [2]string   `json:"characters"`
	Agents     [2]string   `json:"agents"`
	ChatLog    []ChatEntry `json:"chatLog"`
	Health     Health      `json:"health"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// NewMatch builds a match with an empty chat log and both characters at
// full health.
func NewMatch(id, topic string, characters, agents [2]string) *Match {
	return &Match{
		ID:         id,
		Topic:      topic,
		Slug:       slug.Make(topic),
		Characters: characters,
		Agents:     agents,
		Health:     Health{Character1: MaxHealth, Character2: MaxHealth},
		CreatedAt:  time.Now(),
	}
}
