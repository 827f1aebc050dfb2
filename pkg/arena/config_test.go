package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type oddPageBackend struct{ *simBackend }

func (oddPageBackend) PageSize() uintptr { return 0x1800 }

func TestVerifyConfig(t *testing.T) {
	assert.Error(t, VerifyConfig(nil))
	assert.NoError(t, VerifyConfig(DefaultConfig()))
	assert.NoError(t, VerifyConfig(&Config{Backend: newSimBackend()}))
	assert.Error(t, VerifyConfig(&Config{Backend: newSimBackend(), ExplicitPermissions: true}))
	assert.Error(t, VerifyConfig(&Config{Backend: oddPageBackend{newSimBackend()}}))

	_, err := New(&Config{Backend: oddPageBackend{newSimBackend()}})
	assert.Error(t, err)
}

func TestNewDefaults(t *testing.T) {
	a, err := New(&Config{Backend: newSimBackend()})
	assert.NoError(t, err)
	b, err := New(&Config{Backend: newSimBackend()})
	assert.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, uintptr(0x1000), a.PageSize())
	assert.Equal(t, Stats{}, a.Stats())
}

func TestAccessReexport(t *testing.T) {
	assert.Equal(t, "rw-", AccessReadWrite.String())
	assert.Equal(t, "---", AccessNone.String())
}
