package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeSource struct {
	secrets map[string][]byte
	active  map[string]bool
	panics  bool
}

func (f *fakeSource) GetSecret(identity string) ([]byte, bool) {
	if f.panics {
		panic("source exploded")
	}
	s, ok := f.secrets[identity]
	return s, ok
}

func (f *fakeSource) IsActive(identity string) bool { return f.active[identity] }

func TestPlainWrongPasswordRejected(t *testing.T) {
	a := New([]AllowEntry{{Username: "hanqi", Password: "secret"}}, nil, zap.NewNop())
	err := a.CheckConnect(TransportPlain, "GW1", "hanqi", []byte("wrong"))
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestPlainCorrectAccepted(t *testing.T) {
	a := New([]AllowEntry{{Username: "hanqi", Password: "secret"}}, nil, zap.NewNop())
	assert.NoError(t, a.CheckConnect(TransportPlain, "GW1", "hanqi", []byte("secret")))
}

// 允许表为空必须失败关闭
func TestPlainEmptyAllowListFailsClosed(t *testing.T) {
	a := New(nil, nil, zap.NewNop())
	err := a.CheckConnect(TransportPlain, "GW1", "anyone", []byte("anything"))
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestPSKActiveAccepted(t *testing.T) {
	src := &fakeSource{
		secrets: map[string][]byte{"A1B2C3": []byte("k1")},
		active:  map[string]bool{"A1B2C3": true},
	}
	a := New(nil, src, zap.NewNop())
	assert.NoError(t, a.CheckConnect(TransportPSK, "A1B2C3", "A1B2C3", []byte("k1")))
}

// pending身份：密钥查得（握手可完成）但准入阶段被拒
func TestPSKPendingRejected(t *testing.T) {
	src := &fakeSource{
		secrets: map[string][]byte{"A1B2C3": []byte("k1")},
		active:  map[string]bool{},
	}
	a := New(nil, src, zap.NewNop())
	secret, ok := src.GetSecret("A1B2C3")
	assert.True(t, ok)
	assert.Equal(t, []byte("k1"), secret)

	err := a.CheckConnect(TransportPSK, "A1B2C3", "A1B2C3", []byte("k1"))
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestPSKUnknownIdentityRejected(t *testing.T) {
	src := &fakeSource{secrets: map[string][]byte{}, active: map[string]bool{}}
	a := New(nil, src, zap.NewNop())
	err := a.CheckConnect(TransportPSK, "NOPE", "NOPE", []byte("k"))
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestPSKWrongSecretRejected(t *testing.T) {
	src := &fakeSource{
		secrets: map[string][]byte{"GW1": []byte("right")},
		active:  map[string]bool{"GW1": true},
	}
	a := New(nil, src, zap.NewNop())
	err := a.CheckConnect(TransportPSK, "GW1", "GW1", []byte("wrong"))
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestPSKIdentityFallsBackToClientID(t *testing.T) {
	src := &fakeSource{
		secrets: map[string][]byte{"GW1": []byte("k")},
		active:  map[string]bool{"GW1": true},
	}
	a := New(nil, src, zap.NewNop())
	assert.NoError(t, a.CheckConnect(TransportPSK, "GW1", "", []byte("k")))
}

// 内部panic不得外泄：折算为拒绝
func TestPanicConvertsToRejection(t *testing.T) {
	a := New(nil, &fakeSource{panics: true}, zap.NewNop())
	err := a.CheckConnect(TransportPSK, "GW1", "GW1", []byte("k"))
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestUnknownTransportRejected(t *testing.T) {
	a := New(nil, nil, zap.NewNop())
	err := a.CheckConnect(Transport("ws"), "GW1", "u", []byte("p"))
	assert.ErrorIs(t, err, ErrNotAuthorized)
}
