package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatching(t *testing.T) {
	err := fmt.Errorf("create virtual output: %w", New(Conflict, ErrAlreadyMember, "HDMI-0"))

	assert.True(t, errors.Is(err, Conflict))
	assert.True(t, errors.Is(err, ErrAlreadyMember))
	assert.False(t, errors.Is(err, NotFound))
	assert.False(t, errors.Is(err, ErrDuplicateName))
	assert.Equal(t, Conflict, KindOf(err))
	assert.Equal(t, `conflict: output already grouped "HDMI-0"`, New(Conflict, ErrAlreadyMember, "HDMI-0").Error())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
	assert.Equal(t, Invalid, KindOf(fmt.Errorf("wrapped: %w", Invalid)))
	assert.Equal(t, NotFound, KindOf(New(NotFound, ErrUnknownOutput, "")))
}

func TestMisuse(t *testing.T) {
	assert.True(t, VersionUnsupported.Misuse())
	assert.True(t, AlreadyRegistered.Misuse())
	assert.True(t, DisplayTornDown.Misuse())
	assert.False(t, NotFound.Misuse())
	assert.False(t, Conflict.Misuse())
}
