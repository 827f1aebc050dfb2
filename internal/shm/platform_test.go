package shm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccessString(t *testing.T) {
	assert.Equal(t, "---", AccessNone.String())
	assert.Equal(t, "rw-", AccessReadWrite.String())
	assert.Equal(t, "r-x", (AccessRead | AccessExec).String())
}

func TestSegmentName(t *testing.T) {
	assert.Equal(t, "memarena", segmentName(""))
	assert.Equal(t, "a_b_c", segmentName("a/b\\c"))
	assert.Len(t, segmentName(strings.Repeat("x", 300)), 200)
}
