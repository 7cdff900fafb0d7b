package item_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/studio1767/filemon/internal/item"
)

func TestWeightsBySize(t *testing.T) {
	weights := item.Weights([]item.FileEntry{
		{RelPath: "a", Size: 25},
		{RelPath: "b", Size: 75},
	})

	require.Len(t, weights, 2)
	require.InDelta(t, 0.0, weights[0].Offset, 1e-9)
	require.InDelta(t, 0.25, weights[0].Weight, 1e-9)
	require.InDelta(t, 0.25, weights[1].Offset, 1e-9)
	require.InDelta(t, 0.75, weights[1].Weight, 1e-9)
}

func TestWeightsByCountWhenEmpty(t *testing.T) {
	weights := item.Weights([]item.FileEntry{{RelPath: "a"}, {RelPath: "b"}, {RelPath: "c"}, {RelPath: "d"}})

	for i, w := range weights {
		require.InDelta(t, 0.25, w.Weight, 1e-9)
		require.InDelta(t, 0.25*float64(i), w.Offset, 1e-9)
	}
}

func TestWeightedScalesIntoParent(t *testing.T) {
	var got []float64
	parent := item.ProgressFunc(func(p float64) { got = append(got, p) })

	weights := item.Weights([]item.FileEntry{{Size: 25}, {Size: 75}})

	second := item.Weighted(parent, weights[1])
	second.UpdateProgress(0)
	second.UpdateProgress(50)
	second.UpdateProgress(100)
	second.UpdateProgress(150)

	require.Len(t, got, 4)
	require.InDelta(t, 25.0, got[0], 1e-9)
	require.InDelta(t, 62.5, got[1], 1e-9)
	require.InDelta(t, 100.0, got[2], 1e-9)
	require.InDelta(t, 100.0, got[3], 1e-9)
}
