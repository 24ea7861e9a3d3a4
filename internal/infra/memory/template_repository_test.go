package memory

import (
	"context"
	"testing"
	"time"

	"boss-battle-service/internal/domain"
)

func TestTemplateRepositoryCaches(t *testing.T) {
	loader := &countingLoader{
		TemplateLoader: NewStaticTemplateLoader(map[string]domain.BattleTemplate{
			"template-1": sampleTemplate(),
		}),
	}
	repo := NewTemplateRepository(loader, time.Minute)

	if _, err := repo.GetTemplate(context.Background(), "template-1"); err != nil {
		t.Fatalf("get template: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls)
	}

	if _, err := repo.GetTemplate(context.Background(), "template-1"); err != nil {
		t.Fatalf("get template 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls)
	}
}

func TestStaticTemplateLoaderUnknownID(t *testing.T) {
	loader := NewStaticTemplateLoader(nil)
	if _, err := loader.LoadTemplate(context.Background(), "nope"); err != domain.ErrTemplateNotFound {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
}

type countingLoader struct {
	TemplateLoader
	calls int
}

func (l *countingLoader) LoadTemplate(ctx context.Context, templateID string) (domain.BattleTemplate, error) {
	l.calls++
	return l.TemplateLoader.LoadTemplate(ctx, templateID)
}

func sampleTemplate() domain.BattleTemplate {
	return domain.BattleTemplate{
		ID:     "template-1",
		Name:   "Fractions Boss",
		BossHP: 100,
		Questions: []domain.Question{
			{
				ID:     "q1",
				Order:  1,
				Prompt: "What is 1/2 + 1/4?",
				Format: domain.FormatMultipleChoice,
				Options: []domain.Option{
					{ID: "o1", Text: "2/6", Correct: false},
					{ID: "o2", Text: "3/4", Correct: true},
				},
				DamageToBoss: 10,
			},
		},
	}
}
