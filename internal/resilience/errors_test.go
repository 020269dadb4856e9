package resilience

import (
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("invalid recipient"), false},
		{"explicit", NewTransientError(errors.New("rate limited"), 429), true},
		{"wrapped explicit", eris.Wrap(NewTransientError(errors.New("x"), 503), "mailer: send"), true},
		{"net timeout", fmt.Errorf("dial: %w", timeoutErr{}), true},
		{"conn reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"smtp 421", &textproto.Error{Code: 421, Msg: "service not available"}, true},
		{"smtp 451", eris.Wrap(&textproto.Error{Code: 451, Msg: "try again later"}, "mailer: data"), true},
		{"smtp 550", &textproto.Error{Code: 550, Msg: "mailbox unavailable"}, false},
		{"pattern", errors.New("write tcp: broken pipe"), true},
		{"eof pattern", errors.New("Unexpected EOF while reading"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504, 529} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 400, 401, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}

func TestTransientError_UnwrapAndMessage(t *testing.T) {
	inner := errors.New("overloaded")
	te := NewTransientError(inner, 529)
	assert.Equal(t, "overloaded", te.Error())
	assert.ErrorIs(t, te, inner)
	assert.Equal(t, 529, te.StatusCode)
}
