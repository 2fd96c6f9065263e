package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCode(t *testing.T) {
	assert.Equal(t, "", Code(nil))
	assert.Equal(t, "RoomNotFound", Code(fmt.Errorf("lookup: %w", ErrRoomNotFound)))
	assert.Equal(t, "WorkerFatal", Code(ErrNoWorkers))
	assert.Equal(t, "InvalidUserMeta", Code(fmt.Errorf("%w: %w", ErrInvalidUserMeta, ErrUserIDEmpty)))
	assert.Equal(t, "Internal", Code(errors.New("boom")))
}

func TestNewUserMeta(t *testing.T) {
	u, err := NewUserMeta("u1", "")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.Name)

	_, err = NewUserMeta("", "alice")
	assert.ErrorIs(t, err, ErrInvalidUserMeta)
	assert.ErrorIs(t, err, ErrUserIDEmpty)

	_, err = NewUserMeta(strings.Repeat("x", MaxUserIDLen+1), "")
	assert.ErrorIs(t, err, ErrUserIDTooLong)

	_, err = NewUserMeta("u1", strings.Repeat("x", MaxUsernameLen+1))
	assert.ErrorIs(t, err, ErrUsernameTooLong)
}

func TestParse(t *testing.T) {
	d, err := ParseDirection("producer")
	require.NoError(t, err)
	assert.Equal(t, DirectionSend, d)
	d, err = ParseDirection("recv")
	require.NoError(t, err)
	assert.Equal(t, DirectionRecv, d)
	_, err = ParseDirection("sideways")
	assert.ErrorIs(t, err, ErrBadPayload)

	k, err := ParseMediaKind("video")
	require.NoError(t, err)
	assert.Equal(t, KindVideo, k)
	_, err = ParseMediaKind("smell")
	assert.ErrorIs(t, err, ErrBadPayload)

	u, err := ParseUpdateType("pause")
	require.NoError(t, err)
	assert.Equal(t, UpdatePause, u)
	_, err = ParseUpdateType("explode")
	assert.ErrorIs(t, err, ErrBadPayload)
}
