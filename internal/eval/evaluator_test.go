package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewEvaluator(t *testing.T) {
	// Evaluating real Pkl modules needs the pkl binary and resolvable
	// schemas, so construction is all that can be covered here.
	e := NewEvaluator(t.TempDir())
	assert.NotNil(t, e)
}
