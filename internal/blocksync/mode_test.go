package blocksync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestModeReturnsMaxValue and TestModeReturnsNoneIfNoMode are the two
// property tests spec.md §9 says must be preserved from the source's
// statistics_mode helper.
func TestModeReturnsMaxValue(t *testing.T) {
	got, ok := mode([]int{4, 1, 1, 2, 4, 3, 4, 5})
	assert.True(t, ok)
	assert.Equal(t, 4, got)
}

func TestModeReturnsNoneIfNoMode(t *testing.T) {
	_, ok := mode([]int{1, 2, 3, 4, 5})
	assert.False(t, ok, "no repeats at all")

	_, ok = mode([]int{1, 1, 2, 2, 3, 4, 5})
	assert.False(t, ok, "a tie at the top")
}

func TestModeEmptyInput(t *testing.T) {
	_, ok := mode([]string{})
	assert.False(t, ok)
}

// TestModeTwoWayTie exercises the tie-at-the-top scenario (§8 S3): "100"
// and "200" each appear twice.
func TestModeTwoWayTie(t *testing.T) {
	_, ok := mode([]string{"100", "100", "200", "200", "300"})
	assert.False(t, ok)
}

func TestModeClearWinner(t *testing.T) {
	got, ok := mode([]string{"500", "500", "500", "600", "400"})
	assert.True(t, ok)
	assert.Equal(t, "500", got)
}
