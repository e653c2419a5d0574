package protocol

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIs(t *testing.T) {
	err := fmt.Errorf("join: %w", Validation(MsgRoomNotFound))

	assert.ErrorIs(t, err, ErrValidation)
	assert.NotErrorIs(t, err, ErrClosed)
	assert.NotErrorIs(t, err, Validation(MsgRoomNotFound))
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestErrorKindFatal(t *testing.T) {
	tests := []struct {
		kind  ErrorKind
		fatal bool
	}{
		{KindClosed, true},
		{KindTimeout, false},
		{KindBadCrypto, true},
		{KindProtocolViolation, false},
		{KindValidation, false},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.fatal, tt.kind.Fatal())
		})
	}
}

func TestErrorReply(t *testing.T) {
	assert.Equal(t, "ERRO senha incorreta", Validation(MsgWrongPassword).Reply())
	assert.Equal(t, "ERRO comando nao reconhecido", ErrProtocolViolation.Reply())
}

func TestKindOfForeignError(t *testing.T) {
	assert.Equal(t, KindClosed, KindOf(io.EOF))
	assert.Equal(t, KindBadCrypto, KindOf(BadCrypto(errors.New("tag mismatch"))))
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "validation: sala já existe", Validation(MsgRoomExists).Error())
	assert.Equal(t, "closed: EOF", Closed(io.EOF).Error())
	assert.Equal(t, "timeout", ErrTimeout.Error())
}
