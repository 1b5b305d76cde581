package runner

import (
	"math/rand"
	"strconv"
)

const alnum = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const (
	keyLength   = 8
	valueLength = 16
)

// Workload produces one worker's keys and values and its random target
// choices. It is not safe for concurrent use; each worker owns one.
type Workload struct {
	prefix string
	rng    *rand.Rand
}

func NewWorkload(workerID int, seed int64) *Workload {
	return &Workload{
		prefix: strconv.Itoa(workerID) + "_",
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Key is "<workerID>_<8 alnum>", so workers never collide.
func (w *Workload) Key() string {
	return w.prefix + w.randomString(keyLength)
}

func (w *Workload) Value() string {
	return w.randomString(valueLength)
}

// Choice returns a uniform index in [0, n).
func (w *Workload) Choice(n int) int {
	return w.rng.Intn(n)
}

func (w *Workload) randomString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alnum[w.rng.Intn(len(alnum))]
	}
	return string(b)
}
