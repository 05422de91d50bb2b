package metrics

import "time"

// Recorder counts widget events and times wallet round trips.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
