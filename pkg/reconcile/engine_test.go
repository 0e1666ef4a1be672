package reconcile_test

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/memento/pkg/model"
	"github.com/m-mizutani/memento/pkg/reconcile"
)

var (
	t0 = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	t1 = t0.Add(24 * time.Hour)
	t2 = t1.Add(24 * time.Hour)
)

func fact(typ model.FactType, subject, value string) model.Fact {
	return model.Fact{Type: typ, Subject: subject, Value: value, Confidence: 0.9}
}

func removal(typ model.FactType, subject, value string) model.Fact {
	f := fact(typ, subject, value)
	f.Op = model.FactOpRemove
	return f
}

func values(facts []model.Fact) []string {
	out := make([]string, len(facts))
	for i, f := range facts {
		out[i] = f.Value
	}
	return out
}

func TestMergeInsertsIntoEmptySet(t *testing.T) {
	merged := reconcile.Merge(nil, []model.Fact{
		fact(model.FactTypeIdentity, "name", "John"),
		fact(model.FactTypeOwnership, "vehicle", "2006 Corvette Z06"),
	}, t0)

	gt.A(t, merged).Length(2)
	gt.Equal(t, merged[0].Type, model.FactTypeIdentity)
	gt.Equal(t, merged[0].Value, "John")
	gt.Equal(t, merged[1].Value, "2006 Corvette Z06")
	gt.Equal(t, merged[1].FirstSeen, t0)
	gt.Equal(t, merged[1].LastSeen, t0)
	gt.Equal(t, merged[1].Sentiment, model.SentimentNeutral)
}

func TestMergeIsIdempotentWithoutCandidates(t *testing.T) {
	existing := reconcile.Merge(nil, []model.Fact{
		fact(model.FactTypeIdentity, "name", "John"),
		fact(model.FactTypePreference, "coffee", "liked"),
		fact(model.FactTypeOwnership, "vehicle", "Tesla Model S"),
	}, t0)

	gt.Equal(t, reconcile.Merge(existing, nil, t1), existing)
	gt.Equal(t, reconcile.Merge(existing, []model.Fact{}, t2), existing)
}

func TestMergeDoesNotModifyInput(t *testing.T) {
	existing := []model.Fact{fact(model.FactTypeIdentity, "name", "John")}
	_ = reconcile.Merge(existing, []model.Fact{fact(model.FactTypeIdentity, "name", "Johnny")}, t1)
	gt.Equal(t, existing[0].Value, "John")
}

func TestMergeOwnershipOneFactPerItem(t *testing.T) {
	merged := reconcile.Merge(nil, []model.Fact{fact(model.FactTypeOwnership, "vehicle", "Corvette Z06, 2006")}, t0)
	merged = reconcile.Merge(merged, []model.Fact{fact(model.FactTypeOwnership, "vehicle", "Tesla Model S")}, t1)

	gt.Equal(t, values(merged), []string{"Corvette Z06, 2006", "Tesla Model S"})
}

func TestMergeOwnershipReplacement(t *testing.T) {
	existing := reconcile.Merge(nil, []model.Fact{fact(model.FactTypeOwnership, "vehicle", "2006 Corvette Z06")}, t0)

	merged := reconcile.Merge(existing, []model.Fact{
		removal(model.FactTypeOwnership, "vehicle", "Corvette"),
		fact(model.FactTypeOwnership, "vehicle", "Tesla Model S"),
	}, t1)

	gt.A(t, merged).Length(1)
	gt.Equal(t, merged[0].Subject, "vehicle")
	gt.Equal(t, merged[0].Value, "Tesla Model S")
	gt.Equal(t, merged[0].FirstSeen, t1)
}

func TestMergeOwnershipUpdatesSameItem(t *testing.T) {
	t.Run("fuller name under the same subject", func(t *testing.T) {
		existing := reconcile.Merge(nil, []model.Fact{fact(model.FactTypeOwnership, "vehicle", "Corvette")}, t0)
		merged := reconcile.Merge(existing, []model.Fact{fact(model.FactTypeOwnership, "vehicle", "2006 Corvette Z06")}, t1)

		gt.A(t, merged).Length(1)
		gt.Equal(t, merged[0].Value, "2006 Corvette Z06")
		gt.Equal(t, merged[0].FirstSeen, t0)
		gt.Equal(t, merged[0].LastSeen, t1)
	})

	t.Run("same item under another subject", func(t *testing.T) {
		existing := reconcile.Merge(nil, []model.Fact{fact(model.FactTypeOwnership, "vehicle", "Corvette Z06")}, t0)
		merged := reconcile.Merge(existing, []model.Fact{fact(model.FactTypeOwnership, "car", "2006 Corvette Z06")}, t1)

		gt.A(t, merged).Length(1)
		gt.Equal(t, merged[0].Subject, "vehicle")
		gt.Equal(t, merged[0].Value, "2006 Corvette Z06")
		gt.Equal(t, merged[0].FirstSeen, t0)
	})
}

func TestMergeOwnershipKeepsItemsOfOtherSubjects(t *testing.T) {
	existing := reconcile.Merge(nil, []model.Fact{fact(model.FactTypeOwnership, "vehicle", "Corvette")}, t0)
	result := reconcile.New().Merge(existing, []model.Fact{fact(model.FactTypeOwnership, "collectible", "Corvette model kit")}, t1)

	gt.Equal(t, values(result.Facts), []string{"Corvette", "Corvette model kit"})
	gt.Equal(t, result.Stats.Added, 1)
	gt.Equal(t, result.Stats.Updated, 0)
}

func TestMergeOwnershipRemovesOnlyNamedItem(t *testing.T) {
	existing := reconcile.Merge(nil, []model.Fact{
		fact(model.FactTypeOwnership, "home", "house"),
		fact(model.FactTypeOwnership, "plants", "house plants"),
	}, t0)

	result := reconcile.New().Merge(existing, []model.Fact{removal(model.FactTypeOwnership, "home", "house")}, t1)
	gt.Equal(t, values(result.Facts), []string{"house plants"})
	gt.Equal(t, result.Stats.Removed, 1)
}

func TestMergeOwnershipAmbiguousCandidate(t *testing.T) {
	existing := reconcile.Merge(nil, []model.Fact{
		fact(model.FactTypeOwnership, "vehicle", "Tesla Model S"),
		fact(model.FactTypeOwnership, "vehicle", "Tesla Model 3"),
	}, t0)

	t.Run("assert overwrites neither item", func(t *testing.T) {
		result := reconcile.New().Merge(existing, []model.Fact{fact(model.FactTypeOwnership, "vehicle", "Tesla")}, t1)
		gt.Equal(t, values(result.Facts), []string{"Tesla Model S", "Tesla Model 3", "Tesla"})
		gt.Equal(t, result.Stats.Updated, 0)
		gt.Equal(t, result.Facts[0].LastSeen, t0)
	})

	t.Run("remove drops neither item", func(t *testing.T) {
		result := reconcile.New().Merge(existing, []model.Fact{removal(model.FactTypeOwnership, "vehicle", "Tesla")}, t1)
		gt.Equal(t, values(result.Facts), []string{"Tesla Model S", "Tesla Model 3"})
		gt.Equal(t, result.Stats.Removed, 0)
	})

	t.Run("exact value picks its item", func(t *testing.T) {
		result := reconcile.New().Merge(existing, []model.Fact{removal(model.FactTypeOwnership, "vehicle", "tesla model 3")}, t1)
		gt.Equal(t, values(result.Facts), []string{"Tesla Model S"})
	})
}

func TestMergeOwnershipDistinguishesModels(t *testing.T) {
	merged := reconcile.Merge(nil, []model.Fact{
		fact(model.FactTypeOwnership, "vehicle", "Tesla Model 3"),
		fact(model.FactTypeOwnership, "vehicle", "Tesla Model S"),
	}, t0)
	gt.A(t, merged).Length(2)
}

func TestMergeReplacesNonHistorySlot(t *testing.T) {
	existing := reconcile.Merge(nil, []model.Fact{fact(model.FactTypeRelationship, "spouse", "Mary")}, t0)

	c := fact(model.FactTypeRelationship, "Spouse ", "Maria")
	c.Sentiment = model.SentimentPositive
	c.Confidence = 0.95
	merged := reconcile.Merge(existing, []model.Fact{c}, t1)

	gt.A(t, merged).Length(1)
	gt.Equal(t, merged[0].Subject, "spouse")
	gt.Equal(t, merged[0].Value, "Maria")
	gt.Equal(t, merged[0].Sentiment, model.SentimentPositive)
	gt.Equal(t, merged[0].Confidence, 0.95)
	gt.Equal(t, merged[0].FirstSeen, t0)
	gt.Equal(t, merged[0].LastSeen, t1)
}

func TestMergeRestatementRefreshesLastSeen(t *testing.T) {
	existing := reconcile.Merge(nil, []model.Fact{fact(model.FactTypeSkill, "language", "Go")}, t0)

	c := fact(model.FactTypeSkill, "language", "go")
	c.Confidence = 0.2
	result := reconcile.New().Merge(existing, []model.Fact{c}, t1)

	gt.A(t, result.Facts).Length(1)
	gt.Equal(t, result.Facts[0].Value, "Go")
	gt.Equal(t, result.Facts[0].Confidence, 0.9)
	gt.Equal(t, result.Facts[0].LastSeen, t1)
	gt.Equal(t, result.Stats.Refreshed, 1)
	gt.False(t, result.Stats.Changed())
}

func TestMergePreferenceEvolution(t *testing.T) {
	var facts []model.Fact
	for i, v := range []string{"liked", "loved", "hated"} {
		facts = reconcile.Merge(facts, []model.Fact{fact(model.FactTypePreference, "coffee", v)}, t0.Add(time.Duration(i)*time.Hour))
	}

	gt.A(t, facts).Length(3)
	gt.Equal(t, values(facts), []string{"liked", "loved", "hated"})
	gt.Equal(t, facts[0].FirstSeen, t0)
	gt.Equal(t, facts[2].FirstSeen, t0.Add(2*time.Hour))
}

func TestMergePreferenceRepeatsAreDeduplicated(t *testing.T) {
	facts := reconcile.Merge(nil, []model.Fact{fact(model.FactTypePreference, "coffee", "liked")}, t0)
	facts = reconcile.Merge(facts, []model.Fact{fact(model.FactTypePreference, "coffee", "hated")}, t0.Add(10*time.Second))

	// older value restated within the same minute
	facts = reconcile.Merge(facts, []model.Fact{fact(model.FactTypePreference, "coffee", "liked")}, t0.Add(20*time.Second))
	gt.Equal(t, values(facts), []string{"liked", "hated"})
	gt.Equal(t, facts[0].LastSeen, t0.Add(20*time.Second))

	// latest value restated any time later
	facts = reconcile.Merge(facts, []model.Fact{fact(model.FactTypePreference, "coffee", "hated")}, t2)
	gt.Equal(t, values(facts), []string{"liked", "hated"})
	gt.Equal(t, facts[1].LastSeen, t2)

	// older value restated outside the bucket is a new evolution step
	facts = reconcile.Merge(facts, []model.Fact{fact(model.FactTypePreference, "coffee", "liked")}, t2.Add(time.Hour))
	gt.Equal(t, values(facts), []string{"liked", "hated", "liked"})
}

func TestMergeCustomHistoryTypes(t *testing.T) {
	engine := reconcile.New(reconcile.WithHistoryTypes(model.FactTypeGoal))

	facts := engine.Merge(nil, []model.Fact{fact(model.FactTypeGoal, "career", "become a manager")}, t0).Facts
	facts = engine.Merge(facts, []model.Fact{fact(model.FactTypeGoal, "career", "start a company")}, t1).Facts
	gt.A(t, facts).Length(2)
	gt.True(t, engine.IsHistoryType(model.FactTypeGoal))
	gt.False(t, engine.IsHistoryType(model.FactTypePreference))

	facts = engine.Merge(facts, []model.Fact{fact(model.FactTypePreference, "tea", "liked")}, t0).Facts
	facts = engine.Merge(facts, []model.Fact{fact(model.FactTypePreference, "tea", "loved")}, t1).Facts
	gt.A(t, facts).Length(3)
}

func TestMergeClearEverything(t *testing.T) {
	existing := reconcile.Merge(nil, []model.Fact{
		fact(model.FactTypeIdentity, "name", "John"),
		fact(model.FactTypeOwnership, "vehicle", "Tesla Model S"),
	}, t0)

	result := reconcile.New().Merge(existing, []model.Fact{{Op: model.FactOpClear}}, t1)
	gt.A(t, result.Facts).Length(0)
	gt.True(t, result.Stats.Cleared)
	gt.Equal(t, result.Stats.Removed, 2)
}

func TestMergeClearThenAssert(t *testing.T) {
	existing := reconcile.Merge(nil, []model.Fact{fact(model.FactTypeIdentity, "name", "John")}, t0)

	merged := reconcile.Merge(existing, []model.Fact{
		fact(model.FactTypeSkill, "language", "Go"),
		{Op: model.FactOpClear},
		fact(model.FactTypeIdentity, "name", "Jack"),
	}, t1)

	gt.Equal(t, values(merged), []string{"Jack"})
}

func TestMergeClearOneType(t *testing.T) {
	existing := reconcile.Merge(nil, []model.Fact{
		fact(model.FactTypeIdentity, "name", "John"),
		fact(model.FactTypePreference, "coffee", "liked"),
		fact(model.FactTypePreference, "tea", "hated"),
	}, t0)

	merged := reconcile.Merge(existing, []model.Fact{{Op: model.FactOpClear, Type: model.FactTypePreference}}, t1)
	gt.Equal(t, values(merged), []string{"John"})
}

func TestMergeRemove(t *testing.T) {
	existing := reconcile.Merge(nil, []model.Fact{
		fact(model.FactTypeIdentity, "name", "John"),
		fact(model.FactTypePreference, "coffee", "liked"),
	}, t0)
	existing = reconcile.Merge(existing, []model.Fact{fact(model.FactTypePreference, "coffee", "loved")}, t1)

	t.Run("by subject", func(t *testing.T) {
		merged := reconcile.Merge(existing, []model.Fact{removal(model.FactTypePreference, "Coffee", "")}, t2)
		gt.Equal(t, values(merged), []string{"John"})
	})

	t.Run("by value", func(t *testing.T) {
		merged := reconcile.Merge(existing, []model.Fact{removal(model.FactTypePreference, "coffee", "loved")}, t2)
		gt.Equal(t, values(merged), []string{"John", "liked"})
	})

	t.Run("unmatched value removes the slot", func(t *testing.T) {
		merged := reconcile.Merge(existing, []model.Fact{removal(model.FactTypePreference, "coffee", "drinks coffee")}, t2)
		gt.Equal(t, values(merged), []string{"John"})
	})

	t.Run("nothing to remove", func(t *testing.T) {
		merged := reconcile.Merge(existing, []model.Fact{removal(model.FactTypeSkill, "cooking", "")}, t2)
		gt.Equal(t, merged, existing)
	})
}

func TestMergeRemoveEarlierCandidateOfSameTurn(t *testing.T) {
	merged := reconcile.Merge(nil, []model.Fact{
		fact(model.FactTypeGoal, "fitness", "run a marathon"),
		removal(model.FactTypeGoal, "fitness", ""),
	}, t0)
	gt.A(t, merged).Length(0)
}

func TestMergeTieBreak(t *testing.T) {
	low := fact(model.FactTypeIdentity, "name", "John")
	low.Confidence = 0.95
	high := fact(model.FactTypeIdentity, "name", "Jon")
	high.Confidence = 0.5

	t.Run("last listed wins by default", func(t *testing.T) {
		merged := reconcile.Merge(nil, []model.Fact{low, high}, t0)
		gt.Equal(t, values(merged), []string{"Jon"})
	})

	t.Run("confidence", func(t *testing.T) {
		engine := reconcile.New(reconcile.WithTieBreak(reconcile.TieBreakConfidence))
		result := engine.Merge(nil, []model.Fact{low, high}, t0)
		gt.Equal(t, values(result.Facts), []string{"John"})
		gt.Equal(t, result.Stats.Skipped, 1)
	})

	t.Run("confidence tie keeps last", func(t *testing.T) {
		engine := reconcile.New(reconcile.WithTieBreak(reconcile.TieBreakConfidence))
		a := fact(model.FactTypeIdentity, "name", "John")
		b := fact(model.FactTypeIdentity, "name", "Jon")
		gt.Equal(t, values(engine.Merge(nil, []model.Fact{a, b}, t0).Facts), []string{"Jon"})
	})

	t.Run("history type in one turn keeps one entry", func(t *testing.T) {
		merged := reconcile.Merge(nil, []model.Fact{
			fact(model.FactTypePreference, "coffee", "liked"),
			fact(model.FactTypePreference, "coffee", "hated"),
		}, t0)
		gt.Equal(t, values(merged), []string{"hated"})
	})
}

func TestMergeSkipsInvalidCandidates(t *testing.T) {
	result := reconcile.New().Merge(nil, []model.Fact{
		{Type: "hobby", Subject: "chess", Value: "plays"},
		{Type: model.FactTypeSkill, Subject: " ", Value: "Go"},
		{Type: model.FactTypeSkill, Subject: "language", Value: ""},
		{Type: model.FactTypeSkill, Subject: "language", Value: "Go", Op: "upsert"},
		{Type: model.FactTypeSkill, Subject: "language", Value: "Go", Confidence: 3},
	}, t0)

	gt.A(t, result.Facts).Length(1)
	gt.Equal(t, result.Facts[0].Confidence, 1.0)
	gt.Equal(t, result.Stats.Skipped, 4)
}

func TestMergeCollapsesLegacyDuplicates(t *testing.T) {
	existing := []model.Fact{
		fact(model.FactTypeIdentity, "name", "John"),
		fact(model.FactTypeIdentity, "Name", "Johnny"),
	}
	merged := reconcile.Merge(existing, []model.Fact{fact(model.FactTypeIdentity, "name", "Jack")}, t0)
	gt.Equal(t, values(merged), []string{"Jack"})
}

func TestTieBreakValidate(t *testing.T) {
	gt.NoError(t, reconcile.TieBreakLast.Validate())
	gt.NoError(t, reconcile.TieBreakConfidence.Validate())
	gt.Error(t, reconcile.TieBreak("first").Validate())
}
