package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"boss-battle-service/internal/app"
	"boss-battle-service/internal/domain"
	pgloader "boss-battle-service/internal/infra/postgres"
	pgmigrations "boss-battle-service/internal/infra/postgres/migrations"
	infraredis "boss-battle-service/internal/infra/redis"
	redisstore "boss-battle-service/internal/store/redis"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestBattleEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedTemplate(t, ctx, pgURL, sampleTemplate())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}

	loader := pgloader.NewTemplateLoader(pool)
	templates := infraredis.NewTemplateRepository(redisClient, loader, 5*time.Minute)
	st := redisstore.New(redisClient)

	clk := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	defaults := app.BattleDefaults{
		CountdownSeconds:      5,
		QuestionSeconds:       30,
		IntermissionSeconds:   8,
		AntiSpamMinIntervalMs: 2000,
		FreezeOnWrongSeconds:  3,
		FloorMultiplier:       0.5,
		StudentHearts:         3,
		GuildHearts:           5,
	}
	service := app.NewBattleService(st, templates, nil, defaults, log, clk.Now)

	teacher := domain.Principal{ID: "teacher-1", Role: domain.RoleTeacher}
	alice := domain.Principal{ID: "alice", Role: domain.RoleStudent}
	bob := domain.Principal{ID: "bob", Role: domain.RoleStudent}

	battle, err := service.CreateBattle(ctx, teacher, app.CreateBattleInput{
		ClassID:       "class-1",
		TemplateID:    "template-1",
		Mode:          domain.ModeSimultaneousAll,
		SelectionMode: domain.SelectionOrdered,
		Seed:          "e2e-seed",
	})
	if err != nil {
		t.Fatalf("create battle: %v", err)
	}
	if battle.CurrentBossHP != 100 {
		t.Fatalf("expected template boss HP, got %d", battle.CurrentBossHP)
	}

	if _, err := service.OpenLobby(ctx, teacher, battle.ID); err != nil {
		t.Fatalf("open lobby: %v", err)
	}
	if _, err := service.Join(ctx, alice, battle.ID, "g1"); err != nil {
		t.Fatalf("alice join: %v", err)
	}
	if _, err := service.Join(ctx, bob, battle.ID, "g2"); err != nil {
		t.Fatalf("bob join: %v", err)
	}

	if _, err := service.StartCountdown(ctx, teacher, battle.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	clk.Advance(5 * time.Second)
	battle, err = service.Advance(ctx, battle.ID)
	if err != nil {
		t.Fatalf("advance to question: %v", err)
	}
	if battle.Status != domain.StatusQuestionActive {
		t.Fatalf("expected active question, got %s", battle.Status)
	}

	out, err := service.Submit(ctx, alice, app.SubmitInput{AttemptID: "e2e-a1", BattleID: battle.ID, QuestionID: "q1", Answer: "o2"})
	if err != nil {
		t.Fatalf("alice q1: %v", err)
	}
	if !out.Attempt.Correct || out.Attempt.DamageDealt != 30 {
		t.Fatalf("unexpected attempt: %+v", out.Attempt)
	}
	if _, err := service.Submit(ctx, bob, app.SubmitInput{AttemptID: "e2e-b1", BattleID: battle.ID, QuestionID: "q1", Answer: "o2"}); err != nil {
		t.Fatalf("bob q1: %v", err)
	}

	// Everyone answered: the question resolves early into intermission.
	battle, err = service.GetBattle(ctx, battle.ID)
	if err != nil {
		t.Fatalf("get battle: %v", err)
	}
	if battle.Status != domain.StatusIntermission || battle.CurrentBossHP != 40 {
		t.Fatalf("expected intermission at 40 HP, got %s hp=%d", battle.Status, battle.CurrentBossHP)
	}

	clk.Advance(8 * time.Second)
	battle, err = service.Advance(ctx, battle.ID)
	if err != nil {
		t.Fatalf("advance to q2: %v", err)
	}
	if battle.Status != domain.StatusQuestionActive {
		t.Fatalf("expected second question, got %s", battle.Status)
	}

	if _, err := service.Submit(ctx, alice, app.SubmitInput{AttemptID: "e2e-a2", BattleID: battle.ID, QuestionID: "q2", Answer: "42"}); err != nil {
		t.Fatalf("alice q2: %v", err)
	}
	out, err = service.Submit(ctx, bob, app.SubmitInput{AttemptID: "e2e-b2", BattleID: battle.ID, QuestionID: "q2", Answer: "42"})
	if err != nil {
		t.Fatalf("bob q2: %v", err)
	}
	if !out.BossDefeated {
		t.Fatalf("expected the finishing blow, got %+v", out)
	}

	battle, err = service.GetBattle(ctx, battle.ID)
	if err != nil {
		t.Fatalf("get battle: %v", err)
	}
	if battle.Status != domain.StatusCompleted || battle.Outcome != domain.OutcomeWin || battle.CurrentBossHP != 0 {
		t.Fatalf("expected a win at 0 HP, got %+v", battle)
	}

	meta, students, guilds, err := service.GetResults(ctx, battle.ID)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if meta.Outcome != domain.OutcomeWin || len(students) != 2 || len(guilds) != 2 {
		t.Fatalf("unexpected results: meta=%+v students=%d guilds=%d", meta, len(students), len(guilds))
	}

	attempts, _, err := service.ListAttemptsByBattle(ctx, battle.ID, "", 10)
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(attempts) != 4 {
		t.Fatalf("expected 4 attempts in the ledger, got %d", len(attempts))
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "battle", "POSTGRES_PASSWORD": "battlepass", "POSTGRES_DB": "battledb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://battle:battlepass@%s:%s/battledb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedTemplate(t *testing.T, ctx context.Context, dsn string, template domain.BattleTemplate) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(template)
	if err != nil {
		t.Fatalf("marshal template: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO battle_templates (id, data) VALUES (? , ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, template.ID, string(data)); err != nil {
		t.Fatalf("insert template: %v", err)
	}
}

func sampleTemplate() domain.BattleTemplate {
	return domain.BattleTemplate{
		ID:     "template-1",
		Name:   "Arithmetic Boss",
		BossHP: 100,
		Questions: []domain.Question{
			{
				ID:     "q1",
				Order:  1,
				Prompt: "What is 2 + 2?",
				Format: domain.FormatMultipleChoice,
				Options: []domain.Option{
					{ID: "o1", Text: "3", Correct: false},
					{ID: "o2", Text: "4", Correct: true},
					{ID: "o3", Text: "5", Correct: false},
				},
				DamageToBoss:      30,
				HeartsLostStudent: 1,
			},
			{
				ID:                "q2",
				Order:             2,
				Prompt:            "What is 6 * 7?",
				Format:            domain.FormatExactMatch,
				Answer:            "42",
				DamageToBoss:      20,
				HeartsLostStudent: 1,
			},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
