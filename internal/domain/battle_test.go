package domain

import "testing"

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to BattleStatus }{
		{StatusDraft, StatusLobby},
		{StatusLobby, StatusCountdown},
		{StatusCountdown, StatusQuestionActive},
		{StatusQuestionActive, StatusResolving},
		{StatusResolving, StatusIntermission},
		{StatusResolving, StatusCompleted},
		{StatusIntermission, StatusQuestionActive},
		{StatusLobby, StatusAborted},
		{StatusQuestionActive, StatusAborted},
		{StatusIntermission, StatusAborted},
	}
	for _, c := range allowed {
		if !CanTransition(c.from, c.to) {
			t.Errorf("expected %s -> %s allowed", c.from, c.to)
		}
	}

	denied := []struct{ from, to BattleStatus }{
		{StatusDraft, StatusCountdown},
		{StatusDraft, StatusAborted},
		{StatusLobby, StatusQuestionActive},
		{StatusCompleted, StatusLobby},
		{StatusCompleted, StatusAborted},
		{StatusAborted, StatusQuestionActive},
		{StatusQuestionActive, StatusIntermission},
	}
	for _, c := range denied {
		if CanTransition(c.from, c.to) {
			t.Errorf("expected %s -> %s denied", c.from, c.to)
		}
	}
}

func TestQuestionIndexFor(t *testing.T) {
	b := &Battle{
		Mode:               ModeTurnBasedGuild,
		QuestionIndex:      7,
		GuildQuestionIndex: map[string]int{"g1": 2},
	}
	if got := b.QuestionIndexFor("g1"); got != 2 {
		t.Fatalf("expected per-guild index 2, got %d", got)
	}
	b.Mode = ModeSimultaneousAll
	if got := b.QuestionIndexFor("g1"); got != 7 {
		t.Fatalf("expected global index 7, got %d", got)
	}
}
