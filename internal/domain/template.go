package domain

// QuestionFormat distinguishes auto-gradable formats from free text, which
// is graded by an external collaborator.
type QuestionFormat string

const (
	FormatMultipleChoice QuestionFormat = "MULTIPLE_CHOICE"
	FormatExactMatch     QuestionFormat = "EXACT_MATCH"
	FormatFreeText       QuestionFormat = "FREE_TEXT"
)

// AutoGradable reports whether the engine can grade the format locally.
func (f QuestionFormat) AutoGradable() bool {
	return f == FormatMultipleChoice || f == FormatExactMatch
}

// Option is a possible answer for a multiple-choice question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question models one boss-battle question and its scoring parameters.
type Question struct {
	ID     string         `json:"id"`
	Order  int            `json:"order"`
	Prompt string         `json:"prompt"`
	Format QuestionFormat `json:"format"`

	Options []Option `json:"options,omitempty"`
	Answer  string   `json:"answer,omitempty"` // expected answer for EXACT_MATCH

	TimeLimitSeconds  int `json:"timeLimitSeconds"` // defaults to battle fallback if zero
	DamageToBoss      int `json:"damageToBoss"`
	HeartsLostStudent int `json:"heartsLostStudent"`
	HeartsLostGuild   int `json:"heartsLostGuild"`
}

// BattleTemplate is the authored question set a battle is created from.
type BattleTemplate struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	BossHP    int        `json:"bossHp"`
	Questions []Question `json:"questions"`
}

// QuestionByID returns the question with the given id, or nil.
func (t *BattleTemplate) QuestionByID(id string) *Question {
	for i := range t.Questions {
		if t.Questions[i].ID == id {
			return &t.Questions[i]
		}
	}
	return nil
}
