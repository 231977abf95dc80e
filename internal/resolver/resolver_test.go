package resolver

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func newDefault(t *testing.T) *Resolver {
	t.Helper()
	r, err := New(DefaultCatalog(), DefaultThreshold)
	require.NoError(t, err)
	return r
}

func TestResolveMethods(t *testing.T) {
	r := newDefault(t)
	cases := []struct {
		in     string
		model  string
		method Method
	}{
		{"MONARCH 175", "MONARCH 175", MethodExact},
		{"  monarch   175 ", "MONARCH 175", MethodExact},
		{"Motorstar Monarch-175", "MONARCH 175", MethodExact},
		{"TM175", "MONARCH 175", MethodPattern},
		{"tm-175 red", "MONARCH 175", MethodPattern},
		{"Monark 175", "MONARCH 175", MethodSynonym},
		{"Ｏｍｎｉ　１２５", "OMNI 125", MethodExact},
		{"NEW OMNI 125 WITH SIDECAR", "OMNI 125", MethodContains},
		{"ADVENTURE", "ADVENTURE 250", MethodContains},
		{"EASY RIDER 150", "EASY RIDE 150", MethodSimilarity},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			res := r.Resolve(tc.in)
			require.Equal(t, tc.model, res.Model)
			require.Equal(t, tc.method, res.Method)
			require.True(t, res.Confident())
		})
	}
}

func TestResolveUnresolved(t *testing.T) {
	r := newDefault(t)

	res := r.Resolve("zzzxyz")
	require.False(t, res.Confident())
	require.Equal(t, MethodUnresolved, res.Method)
	require.Equal(t, "ZZZXYZ", res.Model)

	empty := r.Resolve("   ")
	require.False(t, empty.Confident())
	require.Empty(t, empty.Model)
}

func TestResolveTiedSimilarityIsAmbiguous(t *testing.T) {
	r := newDefault(t)
	cases := []struct {
		in         string
		candidates []string
	}{
		{"150", []string{"SKYHAWK 150", "XPLORER 150"}},
		{"125", []string{"OMNI 125", "MSX 125"}},
		{"motorstar 150", []string{"SKYHAWK 150", "XPLORER 150"}},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			res := r.Resolve(tc.in)
			require.Equal(t, MethodAmbiguous, res.Method)
			require.False(t, res.Confident())
			require.ElementsMatch(t, tc.candidates, res.Candidates)
			require.InDelta(t, 0.5, res.Score, 1e-9)
			require.NotContains(t, tc.candidates, res.Model)
		})
	}

	// mixed tokens still have a single best model
	mixed := r.Resolve("RIDE 150 STAR")
	require.Equal(t, MethodSimilarity, mixed.Method)
	require.Equal(t, "EASY RIDE 150", mixed.Model)
	require.True(t, mixed.Confident())
	require.Empty(t, mixed.Candidates)
}

func TestBestMatchRejectsTies(t *testing.T) {
	r := newDefault(t)

	_, score, ok := r.BestMatch("150", []string{"SKYHAWK 150", "XPLORER 150", "NITRO 110"})
	require.False(t, ok)
	require.InDelta(t, 0.5, score, 1e-9)

	best, _, ok := r.BestMatch("150", []string{"SKYHAWK 150", "NITRO 110", "SKYHAWK 150"})
	require.True(t, ok)
	require.Equal(t, "SKYHAWK 150", best)
}

func TestResolveDeterministic(t *testing.T) {
	r := newDefault(t)
	inputs := []string{"TM175", "ZZZXYZ", "150", "omni", "star x 155 matte"}
	for _, in := range inputs {
		first := r.Resolve(in)
		for i := 0; i < 20; i++ {
			require.Equal(t, first, r.Resolve(in))
		}
	}
}

func TestThresholdGatesSimilarity(t *testing.T) {
	catalog := Catalog{Models: []string{"ALPHA BETA GAMMA"}}
	loose, err := New(catalog, 0.3)
	require.NoError(t, err)
	strict, err := New(catalog, 0.6)
	require.NoError(t, err)

	// two shared tokens out of four
	res := loose.Resolve("ALPHA BETA DELTA")
	require.True(t, res.Confident())
	require.InDelta(t, 0.5, res.Score, 1e-9)
	require.False(t, strict.Resolve("ALPHA BETA DELTA").Confident())
}

func TestSubstituteCatalog(t *testing.T) {
	r, err := New(Catalog{
		Models:   []string{"RAPTOR 200"},
		Synonyms: map[string]string{"RAPTR": "RAPTOR 200"},
		Patterns: []Pattern{{Expr: regexp.MustCompile(`^RP ?200\b`), Model: "RAPTOR 200"}},
	}, DefaultThreshold)
	require.NoError(t, err)

	require.Equal(t, "RAPTOR 200", r.Resolve("raptr").Model)
	require.Equal(t, "RAPTOR 200", r.Resolve("RP200").Model)
	require.False(t, r.Resolve("MONARCH 175").Confident())
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(Catalog{}, DefaultThreshold)
	require.ErrorIs(t, err, ErrEmptyCatalog)

	_, err = New(Catalog{Models: []string{"A"}}, 0)
	require.Error(t, err)

	_, err = New(Catalog{Models: []string{"A"}, Synonyms: map[string]string{"B": "C"}}, DefaultThreshold)
	require.Error(t, err)
}

func TestSimilarity(t *testing.T) {
	require.InDelta(t, 1.0, Similarity("omni 125", "OMNI 125"), 1e-9)
	require.InDelta(t, 1.0/3.0, Similarity("OMNI 125", "OMNI 150"), 1e-9)
	require.Zero(t, Similarity("", "OMNI"))
}
