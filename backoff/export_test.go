package backoff

// SetRand replaces the jitter random source for tests.
func (j *Jitter) SetRand(f func() float64) { j.rand = f }
