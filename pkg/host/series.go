package host

import (
	"sort"
	"sync"
	"time"
)

// Sample is one power measurement.
type Sample struct {
	Time  time.Time `json:"time"`
	Watts float64   `json:"watts"`
}

// Series is the append-only, time ordered list of samples.
// The control loop is the only writer, readers may be concurrent.
type Series struct {
	lock    sync.RWMutex
	samples []Sample
}

// Append adds a sample.
func (s *Series) Append(sample Sample) {
	s.lock.Lock()
	s.samples = append(s.samples, sample)
	s.lock.Unlock()
}

// Len returns the number of samples.
func (s *Series) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.samples)
}

// Last returns the latest sample.
func (s *Series) Last() (Sample, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if len(s.samples) == 0 {
		return Sample{}, false
	}
	return s.samples[len(s.samples)-1], true
}

// Samples returns a copy of all samples.
func (s *Series) Samples() []Sample {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return append([]Sample(nil), s.samples...)
}

// Since returns a copy of the samples taken at or after t.
func (s *Series) Since(t time.Time) []Sample {
	s.lock.RLock()
	defer s.lock.RUnlock()
	i := sort.Search(len(s.samples), func(i int) bool {
		return !s.samples[i].Time.Before(t)
	})
	return append([]Sample(nil), s.samples[i:]...)
}
