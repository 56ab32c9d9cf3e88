package evo

import (
	"errors"
	"math"
	"math/rand"
	"strings"
	"testing"

	"covsim/internal/seq"
)

type scriptedRand struct {
	floats []float64
	ints   []int
}

func (r *scriptedRand) Float64() float64 {
	if len(r.floats) == 0 {
		panic("scripted rand: float stream exhausted")
	}
	v := r.floats[0]
	r.floats = r.floats[1:]
	return v
}

func (r *scriptedRand) Intn(n int) int {
	if len(r.ints) == 0 {
		panic("scripted rand: int stream exhausted")
	}
	v := r.ints[0]
	r.ints = r.ints[1:]
	return v % n
}

func substitutionOnly() MutationConfig {
	cfg := DefaultMutationConfig()
	cfg.SubstitutionRate = 1
	cfg.SubstitutionRatio = 1
	cfg.TransitionRatio = 1
	return cfg
}

func indelOnly(min, max int) MutationConfig {
	cfg := DefaultMutationConfig()
	cfg.SubstitutionRate = 1
	cfg.SubstitutionRatio = 0
	cfg.IndelLength = LengthRange{Min: min, Max: max}
	return cfg
}

func TestMutationConfigValidateListsEveryField(t *testing.T) {
	cfg := MutationConfig{
		SubstitutionRate:   -0.1,
		SubstitutionRatio:  1.5,
		TransitionRatio:    0.5,
		InsertionBias:      0.5,
		IndelLength:        LengthRange{Min: 0, Max: -1},
		EventsPerReplicate: -2,
	}
	err := cfg.Validate()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
	var invalid *InvalidConfigError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidConfigError, got %T", err)
	}
	want := []string{"substitution_rate", "substitution_ratio", "indel_length.min", "indel_length.max", "events_per_replicate"}
	if len(invalid.Fields) != len(want) {
		t.Fatalf("unexpected fields: %+v", invalid.Fields)
	}
	for i, field := range want {
		if invalid.Fields[i].Field != field {
			t.Fatalf("field %d: got=%s want=%s", i, invalid.Fields[i].Field, field)
		}
	}
	if !strings.Contains(err.Error(), "substitution_rate") {
		t.Fatalf("error message does not name the field: %v", err)
	}
}

func TestNewEngineRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultMutationConfig()
	cfg.TransitionRatio = 2
	if _, err := NewEngine(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
}

func TestMutateRequiresRandomSource(t *testing.T) {
	engine, err := NewEngine(DefaultMutationConfig())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if _, _, err := engine.Mutate(seq.MustParse("ATG"), nil); err == nil {
		t.Fatal("expected missing random source error")
	}
}

func TestMutateTransition(t *testing.T) {
	engine, err := NewEngine(substitutionOnly())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	rng := &scriptedRand{floats: []float64{0, 0, 0}, ints: []int{3}}
	out, event, err := engine.Mutate(seq.MustParse("ATGAAATAA"), rng)
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if out.String() != "ATGGAATAA" {
		t.Fatalf("unexpected mutant: %s", out)
	}
	if event.Kind != EventTransition || event.Position != 3 || event.From != "A" || event.To != "G" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestMutateTransversionDrawsCrossClassSymbol(t *testing.T) {
	cfg := substitutionOnly()
	cfg.TransitionRatio = 0
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	rng := &scriptedRand{floats: []float64{0, 0, 0.5}, ints: []int{0, 1}}
	out, event, err := engine.Mutate(seq.MustParse("ATGAAATAA"), rng)
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if out.String() != "TTGAAATAA" {
		t.Fatalf("unexpected mutant: %s", out)
	}
	if event.Kind != EventTransversion {
		t.Fatalf("unexpected event kind: %s", event.Kind)
	}
}

func TestMutateSubstitutionRateIsATrigger(t *testing.T) {
	cfg := substitutionOnly()
	cfg.SubstitutionRate = 0.5
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	in := seq.MustParse("ATGAAATAA")
	rng := &scriptedRand{floats: []float64{0, 0.7}, ints: []int{4}}
	out, event, err := engine.Mutate(in, rng)
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if !out.Equal(in) || event.Kind != EventNone {
		t.Fatalf("expected untriggered event, got %s %+v", out, event)
	}
}

func TestMutateNeverSubstitutesTrailingPartialCodon(t *testing.T) {
	cfg := substitutionOnly()
	cfg.TransitionRatio = 0.5
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	in := seq.MustParse("ATGAAATAAGC")
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		out, event, err := engine.Mutate(in, rng)
		if err != nil {
			t.Fatalf("mutate: %v", err)
		}
		if out.Len() != in.Len() {
			t.Fatalf("substitution changed length: %d -> %d", in.Len(), out.Len())
		}
		if event.Position >= in.MutableLen() {
			t.Fatalf("substitution targeted partial codon position %d", event.Position)
		}
		if out.String()[9:] != "GC" {
			t.Fatalf("partial codon changed: %s", out)
		}
	}
}

func TestMutateSubstitutionWithoutCompleteCodonIsNoop(t *testing.T) {
	engine, err := NewEngine(substitutionOnly())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	in := seq.MustParse("AT")
	out, event, err := engine.Mutate(in, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if !out.Equal(in) || event.Kind != EventNone {
		t.Fatalf("expected no-op, got %s %+v", out, event)
	}
}

func TestMutateIndelLengthArithmetic(t *testing.T) {
	engine, err := NewEngine(indelOnly(1, 3))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	rng := rand.New(rand.NewSource(3))
	in := seq.MustParse("ATGAAATAAGGC")
	for i := 0; i < 500; i++ {
		out, event, err := engine.Mutate(in, rng)
		if err != nil {
			t.Fatalf("mutate: %v", err)
		}
		switch event.Kind {
		case EventInsertion:
			if out.Len() != in.Len()+len(event.To) {
				t.Fatalf("insertion length mismatch: %d + %d != %d", in.Len(), len(event.To), out.Len())
			}
		case EventDeletion:
			want := in.Len() - len(event.From)
			if want < 0 {
				want = 0
			}
			if out.Len() != want {
				t.Fatalf("deletion length mismatch: got=%d want=%d", out.Len(), want)
			}
		default:
			t.Fatalf("unexpected event kind: %s", event.Kind)
		}
	}
}

func TestMutateDeletionClipsAtSequenceEnd(t *testing.T) {
	engine, err := NewEngine(indelOnly(3, 3))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	cfg := engine.Config()
	cfg.InsertionBias = 0
	engine, err = NewEngine(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	rng := &scriptedRand{floats: []float64{0.9, 0.9}, ints: []int{7}}
	out, event, err := engine.Mutate(seq.MustParse("ATGAAATAA"), rng)
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if out.String() != "ATGAAAT" || event.From != "AA" {
		t.Fatalf("unexpected clipped deletion: %s %+v", out, event)
	}
}

func TestMutateInsertionAtEnd(t *testing.T) {
	engine, err := NewEngine(indelOnly(1, 1))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	rng := &scriptedRand{floats: []float64{0.9, 0.1}, ints: []int{9, 2}}
	out, event, err := engine.Mutate(seq.MustParse("ATGAAATAA"), rng)
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if out.String() != "ATGAAATAAG" || event.Kind != EventInsertion || event.Position != 9 {
		t.Fatalf("unexpected insertion: %s %+v", out, event)
	}
}

func TestMutateDeletionOnEmptySequenceIsNoop(t *testing.T) {
	cfg := indelOnly(1, 1)
	cfg.InsertionBias = 0
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	out, event, err := engine.Mutate(seq.Sequence{}, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if out.Len() != 0 || event.Kind != EventNone {
		t.Fatalf("expected no-op, got %s %+v", out, event)
	}
}

func TestReplicateSitePassZeroRateLeavesSequence(t *testing.T) {
	cfg := DefaultMutationConfig()
	cfg.SubstitutionRate = 0
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	in := seq.MustParse("ATGAAATAA")
	out, events, err := engine.Replicate(in, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("replicate: %v", err)
	}
	if !out.Equal(in) || len(events) != 0 {
		t.Fatalf("expected unchanged replicate, got %s %v", out, events)
	}
}

func TestReplicateSitePassTransitionsEveryCompleteCodonSite(t *testing.T) {
	engine, err := NewEngine(substitutionOnly())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	out, events, err := engine.Replicate(seq.MustParse("ATGAA"), rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("replicate: %v", err)
	}
	if out.String() != "GCAAA" {
		t.Fatalf("unexpected replicate: %s", out)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
}

func TestReplicateSitePassGivesEachOriginalSiteOneTrial(t *testing.T) {
	engine, err := NewEngine(indelOnly(1, 1))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	cfg := engine.Config()
	cfg.InsertionBias = 1
	engine, err = NewEngine(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	in := seq.MustParse("ATGAAATAA")
	out, events, err := engine.Replicate(in, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("replicate: %v", err)
	}
	if out.Len() != 2*in.Len() || len(events) != in.Len() {
		t.Fatalf("expected one insertion per site: len=%d events=%d", out.Len(), len(events))
	}

	cfg.InsertionBias = 0
	engine, err = NewEngine(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	out, _, err = engine.Replicate(in, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("replicate: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected every site deleted, got %s", out)
	}
}

func TestReplicateEventMode(t *testing.T) {
	cfg := substitutionOnly()
	cfg.EventsPerReplicate = 3
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	in := seq.MustParse("ATGAAATAA")
	out, events, err := engine.Replicate(in, rand.New(rand.NewSource(9)))
	if err != nil {
		t.Fatalf("replicate: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if out.Len() != in.Len() {
		t.Fatalf("substitutions changed length: %s", out)
	}
}

func TestSubstitutionPartners(t *testing.T) {
	for _, b := range []byte(seq.Alphabet) {
		transition := TransitionOf(b)
		if transition == b {
			t.Fatalf("transition of %c is itself", b)
		}
		if TransitionOf(transition) != b {
			t.Fatalf("transition of %c is not symmetric", b)
		}
		for _, tv := range TransversionsOf(b) {
			if tv == b || tv == transition {
				t.Fatalf("transversion of %c is not cross-class: %c", b, tv)
			}
		}
	}
}

func TestMutationConfigBoundsIndelLength(t *testing.T) {
	for _, max := range []int{MaxIndelLength + 1, math.MaxInt} {
		cfg := indelOnly(1, max)
		_, err := NewEngine(cfg)
		var invalid *InvalidConfigError
		if !errors.As(err, &invalid) {
			t.Fatalf("max %d: expected InvalidConfigError, got %v", max, err)
		}
		if len(invalid.Fields) != 1 || invalid.Fields[0].Field != "indel_length.max" {
			t.Fatalf("max %d: unexpected fields %+v", max, invalid.Fields)
		}
	}
	if _, err := NewEngine(indelOnly(1, MaxIndelLength)); err != nil {
		t.Fatalf("max at bound rejected: %v", err)
	}
}
