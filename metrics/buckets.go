package metrics

var (
	// DurationBuckets covers proof requests from tens of milliseconds up to ten minutes.
	DurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

	// CountBuckets is used for per-request sizes such as transactions in a batch.
	CountBuckets = []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512}
)
