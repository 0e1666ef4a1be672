package memory_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/memento/pkg/model"
	"github.com/m-mizutani/memento/pkg/oracle"
	"github.com/m-mizutani/memento/pkg/pii"
	"github.com/m-mizutani/memento/pkg/policy"
	"github.com/m-mizutani/memento/pkg/repository"
	"github.com/m-mizutani/memento/pkg/usecase/memory"
	"google.golang.org/genai"
)

type fakeOracle struct {
	mu      sync.Mutex
	prompts []string
	extract func(ctx context.Context, req *oracle.Request) (string, error)
}

func (f *fakeOracle) Extract(ctx context.Context, req *oracle.Request) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, req.Prompt)
	f.mu.Unlock()
	return f.extract(ctx, req)
}

func (f *fakeOracle) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// respond returns a fake that answers every request with text
func respond(text string) *fakeOracle {
	return &fakeOracle{
		extract: func(ctx context.Context, req *oracle.Request) (string, error) {
			return text, nil
		},
	}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []*model.Event
}

func (r *recordingEmitter) Emit(ctx context.Context, ev *model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEmitter) kinds() []model.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.EventKind
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

var fixedNow = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func userSays(text string) []model.Message {
	return []model.Message{{Role: model.RoleUser, Content: text}}
}

func TestUpdateStoresIntroducedFacts(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	emitter := &recordingEmitter{}
	uc := memory.New(repo, respond(`{"facts": [
		{"type": "identity", "subject": "name", "value": "John", "sentiment": "neutral", "confidence": 0.95},
		{"type": "ownership", "subject": "vehicle", "value": "2006 Corvette Z06", "sentiment": "positive", "confidence": 0.9}
	]}`), memory.WithClock(clock), memory.WithEmitter(emitter))

	result, err := uc.Update(ctx, "john", userSays("Hi! I'm John and I own a 2006 Corvette Z06"))
	gt.NoError(t, err)
	gt.True(t, result.Written)
	gt.Equal(t, result.Skipped, "")
	gt.Equal(t, result.Stats.Added, 2)
	gt.Equal(t, result.Version, int64(1))

	facts, err := uc.Facts(ctx, "john")
	gt.NoError(t, err)
	gt.A(t, facts).Length(2)
	gt.True(t, facts[0].FirstSeen.Equal(fixedNow))

	text, err := uc.Recall(ctx, "john")
	gt.NoError(t, err)
	gt.S(t, text).Contains("=== USER MEMORY PROFILE ===")
	gt.S(t, text).Contains("Name: John")
	gt.S(t, text).Contains("2006 Corvette Z06")

	gt.Equal(t, emitter.kinds(), []model.EventKind{model.EventFactsUpdated})
}

func TestUpdateReplacesSoldVehicle(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()

	first := memory.New(repo, respond(`{"facts": [
		{"type": "identity", "subject": "name", "value": "John"},
		{"type": "ownership", "subject": "vehicle", "value": "2006 Corvette Z06"}
	]}`), memory.WithClock(clock))
	_, err := first.Update(ctx, "john", userSays("Hi! I'm John and I own a 2006 Corvette Z06"))
	gt.NoError(t, err)

	second := memory.New(repo, respond(`{"facts": [
		{"type": "ownership", "subject": "vehicle", "value": "Corvette", "op": "remove"},
		{"type": "ownership", "subject": "vehicle", "value": "Tesla Model S"}
	]}`), memory.WithClock(clock))
	result, err := second.Update(ctx, "john", userSays("I sold my Corvette and bought a Tesla Model S"))
	gt.NoError(t, err)
	gt.True(t, result.Written)
	gt.Equal(t, result.Stats.Removed, 1)
	gt.Equal(t, result.Version, int64(2))

	facts, err := second.Facts(ctx, "john")
	gt.NoError(t, err)
	gt.A(t, facts).Length(2)
	var values []string
	for _, f := range facts {
		values = append(values, f.Value)
	}
	gt.True(t, slices.Contains(values, "John"))
	gt.True(t, slices.Contains(values, "Tesla Model S"))
	for _, v := range values {
		gt.S(t, v).NotContains("Corvette")
	}
}

func TestUpdateNeverStoresSSN(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	emitter := &recordingEmitter{}
	fake := respond(`{"facts": [
		{"type": "identity", "subject": "ssn", "value": "123-45-6789"},
		{"type": "identity", "subject": "social security number", "value": "it is 123-45-6789"}
	]}`)
	uc := memory.New(repo, fake, memory.WithClock(clock), memory.WithEmitter(emitter))

	result, err := uc.Update(ctx, "john", userSays("My SSN is 123-45-6789"))
	gt.NoError(t, err)
	gt.False(t, result.Written)
	gt.A(t, result.Rejected).Length(2)
	gt.Equal(t, result.Rejected[0].Reasons[0], pii.ReasonBlockedSubject)

	gt.A(t, fake.prompts).Length(1)
	gt.S(t, fake.prompts[0]).NotContains("123-45-6789")
	gt.S(t, fake.prompts[0]).Contains("My SSN is [REDACTED]")

	facts, err := uc.Facts(ctx, "john")
	gt.NoError(t, err)
	gt.A(t, facts).Length(0)

	gt.True(t, slices.Contains(emitter.kinds(), model.EventFactsRejected))
	for _, ev := range emitter.events {
		for _, r := range ev.Reasons {
			gt.S(t, r).NotContains("6789")
		}
	}
}

func TestUpdateRedactsAddress(t *testing.T) {
	ctx := context.Background()
	response := `{"facts": [{"type": "ownership", "subject": "home", "value": "house at 123 Oak Lane"}]}`

	t.Run("redact mode keeps the fact without the address", func(t *testing.T) {
		repo := repository.NewMemory()
		uc := memory.New(repo, respond(response), memory.WithClock(clock))

		result, err := uc.Update(ctx, "john", userSays("I live in a house"))
		gt.NoError(t, err)
		gt.True(t, result.Written)

		facts, err := uc.Facts(ctx, "john")
		gt.NoError(t, err)
		gt.A(t, facts).Length(1)
		gt.Equal(t, facts[0].Value, "house at [REDACTED]")
	})

	t.Run("remove mode drops the fact", func(t *testing.T) {
		filter, err := pii.New(pii.Config{Mode: pii.ModeRemove})
		gt.NoError(t, err)
		repo := repository.NewMemory()
		uc := memory.New(repo, respond(response), memory.WithClock(clock), memory.WithFilter(filter))

		result, err := uc.Update(ctx, "john", userSays("I live in a house"))
		gt.NoError(t, err)
		gt.False(t, result.Written)
		gt.A(t, result.Rejected).Length(1)

		facts, err := uc.Facts(ctx, "john")
		gt.NoError(t, err)
		gt.A(t, facts).Length(0)
	})
}

func TestUpdateIgnoresRemoveOfRedactedValue(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	contact := model.Fact{
		Type: model.FactTypeRelationship, Subject: "contact", Value: "Bob from work",
		Confidence: 0.9, FirstSeen: fixedNow, LastSeen: fixedNow,
	}
	seed(t, repo, "john", contact)

	uc := memory.New(repo, respond(`{"facts": [
		{"type": "relationship", "subject": "contact", "value": "bob@example.com", "op": "remove"}
	]}`), memory.WithClock(clock))
	result, err := uc.Update(ctx, "john", userSays("forget bob@example.com"))
	gt.NoError(t, err)
	gt.False(t, result.Written)
	gt.A(t, result.Rejected).Length(1)
	gt.Equal(t, result.Stats.Removed, 0)

	facts, err := uc.Facts(ctx, "john")
	gt.NoError(t, err)
	gt.A(t, facts).Length(1)
	gt.Equal(t, facts[0].Value, "Bob from work")
}

func seed(t *testing.T, repo *repository.Memory, userID model.UserID, facts ...model.Fact) {
	t.Helper()
	set := model.NewFactSet(userID)
	set.Facts = facts
	gt.NoError(t, repo.PutFactSet(context.Background(), set, 0))
}

var corvette = model.Fact{
	Type: model.FactTypeOwnership, Subject: "vehicle", Value: "2006 Corvette Z06",
	Sentiment: model.SentimentPositive, Confidence: 0.9, FirstSeen: fixedNow, LastSeen: fixedNow,
}

func TestUpdateFailuresKeepExistingFacts(t *testing.T) {
	testCases := map[string]struct {
		oracle *fakeOracle
		skip   string
	}{
		"unparseable response": {
			oracle: respond("I could not find anything worth remembering."),
			skip:   memory.SkipParseError,
		},
		"oracle error": {
			oracle: &fakeOracle{extract: func(ctx context.Context, req *oracle.Request) (string, error) {
				return "", goerr.Wrap(oracle.ErrOracle, "quota exceeded")
			}},
			skip: memory.SkipOracleError,
		},
		"oracle timeout": {
			oracle: &fakeOracle{extract: func(ctx context.Context, req *oracle.Request) (string, error) {
				return "", goerr.Wrap(oracle.ErrTimeout, "deadline")
			}},
			skip: memory.SkipTimeout,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := repository.NewMemory()
			seed(t, repo, "john", corvette)
			emitter := &recordingEmitter{}
			uc := memory.New(repo, tc.oracle, memory.WithClock(clock), memory.WithEmitter(emitter))

			result, err := uc.Update(ctx, "john", userSays("I sold my Corvette"))
			gt.NoError(t, err)
			gt.False(t, result.Written)
			gt.Equal(t, result.Skipped, tc.skip)
			gt.Equal(t, result.Version, int64(1))

			set, err := repo.GetFactSet(ctx, "john")
			gt.NoError(t, err)
			gt.Equal(t, set.Version, int64(1))
			gt.A(t, set.Facts).Length(1)
			gt.Equal(t, set.Facts[0].Value, "2006 Corvette Z06")

			gt.Equal(t, emitter.kinds(), []model.EventKind{model.EventUpdateSkipped})
			gt.Equal(t, emitter.events[0].Reason, tc.skip)
		})
	}
}

type blockingGemini struct{}

func (g *blockingGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (g *blockingGemini) CreateChat(ctx context.Context, config *genai.GenerateContentConfig, history []*genai.Content) (*genai.Chat, error) {
	return nil, errors.New("not implemented")
}

func TestUpdateAbandonsTurnOnOracleTimeout(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	seed(t, repo, "john", corvette)

	extractor := oracle.NewExtractor(&blockingGemini{}, oracle.WithTimeout(20*time.Millisecond))
	uc := memory.New(repo, extractor, memory.WithClock(clock))

	start := time.Now()
	result, err := uc.Update(ctx, "john", userSays("I sold my Corvette"))
	gt.NoError(t, err)
	gt.Equal(t, result.Skipped, memory.SkipTimeout)
	gt.True(t, time.Since(start) < 5*time.Second)

	set, err := repo.GetFactSet(ctx, "john")
	gt.NoError(t, err)
	gt.Equal(t, set.Version, int64(1))
	gt.A(t, set.Facts).Length(1)
}

func TestUpdateWithoutUserMessage(t *testing.T) {
	fake := respond(`{"facts": []}`)
	uc := memory.New(repository.NewMemory(), fake)

	result, err := uc.Update(context.Background(), "john", []model.Message{
		{Role: model.RoleSystem, Content: "You are helpful"},
		{Role: model.RoleAssistant, Content: "Hello!"},
	})
	gt.NoError(t, err)
	gt.Equal(t, result.Skipped, memory.SkipNoUserMessage)
	gt.Equal(t, fake.calls(), 0)
}

func TestUpdateNoChange(t *testing.T) {
	uc := memory.New(repository.NewMemory(), respond(`{"facts": []}`))

	result, err := uc.Update(context.Background(), "john", userSays("What's the weather like?"))
	gt.NoError(t, err)
	gt.False(t, result.Written)
	gt.Equal(t, result.Skipped, memory.SkipNoChange)
}

func TestUpdateClearCommand(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	seed(t, repo, "john", corvette, model.Fact{
		Type: model.FactTypeIdentity, Subject: "name", Value: "John", Sentiment: model.SentimentNeutral, Confidence: 0.9,
		FirstSeen: fixedNow, LastSeen: fixedNow,
	})

	uc := memory.New(repo, respond(`{"facts": [{"op": "clear"}]}`), memory.WithClock(clock))
	result, err := uc.Update(ctx, "john", userSays("Forget everything you know about me"))
	gt.NoError(t, err)
	gt.True(t, result.Written)
	gt.True(t, result.Stats.Cleared)
	gt.Equal(t, result.Total, 0)

	text, err := uc.Recall(ctx, "john")
	gt.NoError(t, err)
	gt.Equal(t, text, "")
}

func TestUpdateAdmissionPolicy(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "health.rego"), []byte(`package memory.admission

deny contains "health data is not remembered" if {
	input.fact.subject == "diagnosis"
}
`), 0644))
	admission, err := policy.LoadAdmission(ctx, dir)
	gt.NoError(t, err)

	uc := memory.New(repository.NewMemory(), respond(`{"facts": [
		{"type": "identity", "subject": "diagnosis", "value": "asthma"},
		{"type": "skill", "subject": "language", "value": "Go"}
	]}`), memory.WithClock(clock), memory.WithAdmission(admission))

	result, err := uc.Update(ctx, "john", userSays("I have asthma and I write Go"))
	gt.NoError(t, err)
	gt.A(t, result.Rejected).Length(1)
	gt.Equal(t, result.Rejected[0].Reasons, []string{"health data is not remembered"})

	facts, err := uc.Facts(ctx, "john")
	gt.NoError(t, err)
	gt.A(t, facts).Length(1)
	gt.Equal(t, facts[0].Value, "Go")
}

// skillOracle answers with one skill named after the last user message
func skillOracle() *fakeOracle {
	return &fakeOracle{
		extract: func(ctx context.Context, req *oracle.Request) (string, error) {
			last := req.Messages[len(req.Messages)-1].Content
			return fmt.Sprintf(`{"facts": [{"type": "skill", "subject": %q, "value": %q}]}`, last, last), nil
		},
	}
}

func TestUpdateConcurrentTurnsLoseNothing(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	uc := memory.New(repo, skillOracle(), memory.WithClock(clock))

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = uc.Update(ctx, "john", userSays(fmt.Sprintf("language-%d", i)))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		gt.NoError(t, err)
	}
	set, err := repo.GetFactSet(ctx, "john")
	gt.NoError(t, err)
	gt.A(t, set.Facts).Length(n)
	gt.Equal(t, set.Version, int64(n))
}

// racingRepo writes a competing fact set right before the first write
type racingRepo struct {
	*repository.Memory
	once      sync.Once
	conflicts int
}

func (r *racingRepo) PutFactSet(ctx context.Context, set *model.FactSet, expectedVersion int64) error {
	r.once.Do(func() {
		competing, _ := r.Memory.GetFactSet(ctx, set.UserID)
		competing.Facts = append(competing.Facts, model.Fact{
			Type: model.FactTypeGoal, Subject: "fitness", Value: "run a marathon",
			Sentiment: model.SentimentPositive, Confidence: 0.8, FirstSeen: fixedNow, LastSeen: fixedNow,
		})
		_ = r.Memory.PutFactSet(ctx, competing, competing.Version)
	})
	err := r.Memory.PutFactSet(ctx, set, expectedVersion)
	if errors.Is(err, repository.ErrConflict) {
		r.conflicts++
	}
	return err
}

func TestUpdateMergesAgainAfterConflict(t *testing.T) {
	ctx := context.Background()
	repo := &racingRepo{Memory: repository.NewMemory()}
	uc := memory.New(repo, skillOracle(), memory.WithClock(clock))

	result, err := uc.Update(ctx, "john", userSays("Go"))
	gt.NoError(t, err)
	gt.True(t, result.Written)
	gt.Equal(t, result.Attempts, 2)
	gt.Equal(t, repo.conflicts, 1)
	gt.Equal(t, result.Version, int64(2))

	set, err := repo.GetFactSet(ctx, "john")
	gt.NoError(t, err)
	gt.A(t, set.Facts).Length(2)
}

// conflictRepo never accepts a write
type conflictRepo struct {
	*repository.Memory
	puts int
}

func (r *conflictRepo) PutFactSet(ctx context.Context, set *model.FactSet, expectedVersion int64) error {
	r.puts++
	return goerr.Wrap(repository.ErrConflict, "always")
}

func TestUpdateGivesUpAfterRetries(t *testing.T) {
	repo := &conflictRepo{Memory: repository.NewMemory()}
	uc := memory.New(repo, skillOracle(), memory.WithMaxRetries(2))

	_, err := uc.Update(context.Background(), "john", userSays("Go"))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, repository.ErrConflict))
	gt.Equal(t, repo.puts, 3)
}

// brokenRepo fails every read
type brokenRepo struct {
	*repository.Memory
}

func (r *brokenRepo) GetFactSet(ctx context.Context, userID model.UserID) (*model.FactSet, error) {
	return nil, goerr.Wrap(repository.ErrUnavailable, "connection refused")
}

func TestUpdateStoreUnavailable(t *testing.T) {
	fake := skillOracle()
	uc := memory.New(&brokenRepo{Memory: repository.NewMemory()}, fake)

	_, err := uc.Update(context.Background(), "john", userSays("Go"))
	gt.True(t, errors.Is(err, repository.ErrUnavailable))
	gt.Equal(t, fake.calls(), 0)
}

func TestHandleTurn(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	fake := respond(`{"facts": [{"type": "identity", "subject": "name", "value": "John"}]}`)
	uc := memory.New(repo, fake, memory.WithClock(clock), memory.WithExtractionThreshold(2))

	text := uc.HandleTurn(ctx, model.Turn{UserID: "john", Message: "Hi! I'm John"})
	uc.Wait()
	gt.Equal(t, text, "")
	gt.Equal(t, fake.calls(), 0)

	text = uc.HandleTurn(ctx, model.Turn{
		UserID: "john",
		History: []model.Message{
			{Role: model.RoleUser, Content: "Hi! I'm John"},
			{Role: model.RoleAssistant, Content: "Nice to meet you"},
		},
		Message: "Remember my name please",
	})
	gt.Equal(t, text, "")
	uc.Wait()
	gt.Equal(t, fake.calls(), 1)

	text = uc.HandleTurn(ctx, model.Turn{UserID: "john", Message: "What's my name?"})
	gt.S(t, text).Contains("Name: John")
	uc.Wait()
}

func TestHandleTurnCancelledContext(t *testing.T) {
	repo := repository.NewMemory()
	uc := memory.New(repo, skillOracle(), memory.WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	uc.HandleTurn(ctx, model.Turn{UserID: "john", Message: "Go"})
	cancel()
	uc.Wait()

	facts, err := uc.Facts(context.Background(), "john")
	gt.NoError(t, err)
	gt.A(t, facts).Length(1)
}

func TestHandleTurnRecallFailure(t *testing.T) {
	fake := skillOracle()
	uc := memory.New(&brokenRepo{Memory: repository.NewMemory()}, fake)

	text := uc.HandleTurn(context.Background(), model.Turn{UserID: "john", Message: "Go"})
	uc.Wait()
	gt.Equal(t, text, "")
}

func TestForget(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	seed(t, repo, "john", corvette)
	emitter := &recordingEmitter{}
	uc := memory.New(repo, skillOracle(), memory.WithEmitter(emitter))

	gt.NoError(t, uc.Forget(ctx, "john"))
	facts, err := uc.Facts(ctx, "john")
	gt.NoError(t, err)
	gt.A(t, facts).Length(0)
	gt.Equal(t, emitter.kinds(), []model.EventKind{model.EventFactsForgotten})

	_, err = uc.Update(ctx, "john", userSays("Go"))
	gt.NoError(t, err)
	facts, err = uc.Facts(ctx, "john")
	gt.NoError(t, err)
	gt.A(t, facts).Length(1)
}

func TestMemoryTurnedOff(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	seed(t, repo, "john", corvette)
	fake := skillOracle()
	emitter := &recordingEmitter{}
	uc := memory.New(repo, fake, memory.WithClock(clock), memory.WithEmitter(emitter))

	gt.NoError(t, uc.SetEnabled(ctx, "john", false))
	enabled, err := uc.Enabled(ctx, "john")
	gt.NoError(t, err)
	gt.False(t, enabled)

	t.Run("no context and no background update", func(t *testing.T) {
		text := uc.HandleTurn(ctx, model.Turn{UserID: "john", Message: "Go"})
		gt.NoError(t, uc.WaitUser(ctx, "john"))
		gt.Equal(t, text, "")
		gt.Equal(t, fake.calls(), 0)

		recalled, err := uc.Recall(ctx, "john")
		gt.NoError(t, err)
		gt.Equal(t, recalled, "")
	})

	t.Run("direct update is skipped", func(t *testing.T) {
		result, err := uc.Update(ctx, "john", userSays("Go"))
		gt.NoError(t, err)
		gt.Equal(t, result.Skipped, memory.SkipDisabled)
		gt.False(t, result.Written)
		gt.Equal(t, fake.calls(), 0)
		gt.True(t, slices.Contains(emitter.kinds(), model.EventUpdateSkipped))
	})

	t.Run("stored facts are kept", func(t *testing.T) {
		facts, err := uc.Facts(ctx, "john")
		gt.NoError(t, err)
		gt.A(t, facts).Length(1)
	})

	t.Run("forget keeps the user opted out", func(t *testing.T) {
		gt.NoError(t, uc.Forget(ctx, "john"))
		enabled, err := uc.Enabled(ctx, "john")
		gt.NoError(t, err)
		gt.False(t, enabled)

		facts, err := uc.Facts(ctx, "john")
		gt.NoError(t, err)
		gt.A(t, facts).Length(0)
	})

	t.Run("turning it back on resumes updates", func(t *testing.T) {
		gt.NoError(t, uc.SetEnabled(ctx, "john", true))
		gt.NoError(t, uc.SetEnabled(ctx, "john", true))

		result, err := uc.Update(ctx, "john", userSays("Go"))
		gt.NoError(t, err)
		gt.True(t, result.Written)

		text, err := uc.Recall(ctx, "john")
		gt.NoError(t, err)
		gt.S(t, text).Contains("Go")
	})
}

func TestWaitUserWaitsOnlyForThatUser(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	fake := &fakeOracle{
		extract: func(ctx context.Context, req *oracle.Request) (string, error) {
			if strings.Contains(req.Messages[len(req.Messages)-1].Content, "slow") {
				<-release
			}
			return `{"facts": [{"type": "skill", "subject": "language", "value": "Go"}]}`, nil
		},
	}
	uc := memory.New(repository.NewMemory(), fake, memory.WithClock(clock))

	uc.HandleTurn(ctx, model.Turn{UserID: "john", Message: "slow turn"})
	uc.HandleTurn(ctx, model.Turn{UserID: "mary", Message: "quick turn"})

	gt.NoError(t, uc.WaitUser(ctx, "mary"))
	facts, err := uc.Facts(ctx, "mary")
	gt.NoError(t, err)
	gt.A(t, facts).Length(1)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	gt.Error(t, uc.WaitUser(short, "john"))

	close(release)
	gt.NoError(t, uc.WaitUser(ctx, "john"))
	facts, err = uc.Facts(ctx, "john")
	gt.NoError(t, err)
	gt.A(t, facts).Length(1)

	gt.NoError(t, uc.WaitUser(ctx, "nobody"))
	uc.Wait()
}

func TestRecallRespectsStyleAndCount(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	var facts []model.Fact
	for i := 0; i < 5; i++ {
		ts := fixedNow.Add(time.Duration(i) * time.Hour)
		facts = append(facts, model.Fact{
			Type: model.FactTypeSkill, Subject: fmt.Sprintf("skill-%d", i), Value: fmt.Sprintf("skill-%d", i),
			Sentiment: model.SentimentNeutral, Confidence: 0.8, FirstSeen: ts, LastSeen: ts,
		})
	}
	seed(t, repo, "john", facts...)

	uc := memory.New(repo, skillOracle(), memory.WithMaxCount(2), memory.WithStyle("bullet"))
	text, err := uc.Recall(ctx, "john")
	gt.NoError(t, err)
	gt.S(t, text).Contains("skill-4")
	gt.S(t, text).Contains("skill-3")
	gt.S(t, text).NotContains("skill-0")
	gt.True(t, strings.HasPrefix(text, "Previous conversations revealed:"))
}
