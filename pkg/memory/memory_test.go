package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecureZeroBytes(t *testing.T) {
	b := []byte("master key material")
	SecureZeroBytes(b)
	assert.Equal(t, make([]byte, len(b)), b)
}
