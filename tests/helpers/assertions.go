package helpers

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// AssertFloatEquals asserts two floats are within tolerance
func AssertFloatEquals(t *testing.T, expected, actual, tolerance float64, msgAndArgs ...interface{}) {
	t.Helper()

	if math.IsNaN(expected) && math.IsNaN(actual) {
		return
	}

	assert.InDelta(t, expected, actual, tolerance, msgAndArgs...)
}

// AssertFloatSliceEquals asserts two slices are element-wise within tolerance
func AssertFloatSliceEquals(t *testing.T, expected, actual []float64, tolerance float64, msgAndArgs ...interface{}) {
	t.Helper()

	if !assert.Len(t, actual, len(expected), msgAndArgs...) {
		return
	}
	for i := range expected {
		AssertFloatEquals(t, expected[i], actual[i], tolerance, fmt.Sprintf("index %d", i))
	}
}

// AssertProbability asserts p is a finite value in [0, 1]
func AssertProbability(t *testing.T, p float64, msgAndArgs ...interface{}) {
	t.Helper()

	assert.False(t, math.IsNaN(p) || math.IsInf(p, 0), msgAndArgs...)
	assert.GreaterOrEqual(t, p, 0.0, msgAndArgs...)
	assert.LessOrEqual(t, p, 1.0, msgAndArgs...)
}

// AssertEventuallyTrue asserts that condition becomes true within timeout
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration, interval time.Duration, msgAndArgs ...interface{}) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(interval)
	}

	t.Fatalf("condition did not become true within %v. %s", timeout, fmt.Sprint(msgAndArgs...))
}
