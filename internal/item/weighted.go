package item

// Progress receives percentage updates in the range [0,100].
type Progress interface {
	UpdateProgress(percent float64)
}

// ProgressFunc adapts a function to the Progress interface.
type ProgressFunc func(percent float64)

func (f ProgressFunc) UpdateProgress(percent float64) {
	f(percent)
}

// Weight places one child of a directory inside the parent's progress
// range. Offset and Weight are fractions of the whole.
type Weight struct {
	Offset float64
	Weight float64
}

// Weights computes the progress weight of every file in a directory. The
// weights are proportional to file size, or to file count when the total
// size is zero.
func Weights(files []FileEntry) []Weight {
	weights := make([]Weight, len(files))
	if len(files) == 0 {
		return weights
	}

	var total int64
	for _, f := range files {
		total += f.Size
	}

	offset := 0.0
	for i, f := range files {
		var w float64
		if total > 0 {
			w = float64(f.Size) / float64(total)
		} else {
			w = 1.0 / float64(len(files))
		}
		weights[i] = Weight{Offset: offset, Weight: w}
		offset += w
	}
	return weights
}

type weighted struct {
	parent Progress
	weight Weight
}

// Weighted wraps a parent progress sink so that a child can report its own
// 0-100 progress, which is forwarded as offset+percent*weight of the parent.
func Weighted(parent Progress, w Weight) Progress {
	return &weighted{parent: parent, weight: w}
}

func (wi *weighted) UpdateProgress(percent float64) {
	percent = clamp(percent)
	wi.parent.UpdateProgress(100 * (wi.weight.Offset + (percent/100)*wi.weight.Weight))
}

func clamp(percent float64) float64 {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}
