// Package auth 实现设备连接认证：明文(用户名/口令)与PSK(预共享密钥身份)两种策略。
// 统一入口按传输类型分支；任何内部异常一律折算为拒绝——失败开放不可接受。
package auth

import (
	"crypto/subtle"
	"errors"

	"go.uber.org/zap"

	"github.com/hanqi-iot/irrigation-server/internal/credentials"
)

// Transport 连接传输类型
type Transport string

const (
	TransportPlain Transport = "plain" // 明文监听口
	TransportPSK   Transport = "psk"   // TLS监听口（预共享密钥身份）
)

var (
	// ErrBadCredentials 身份或密钥不符（映射MQTT bad user name or password）
	ErrBadCredentials = errors.New("bad credentials")
	// ErrNotAuthorized 身份合法但未获准入（映射MQTT not authorized）
	ErrNotAuthorized = errors.New("not authorized")
)

// AllowEntry 明文策略静态允许表条目（配置下发）
type AllowEntry struct {
	Username string
	Password string
}

// CredentialSource PSK策略依赖的同步凭据读取（由credentials.Bridge提供）
type CredentialSource interface {
	GetSecret(identity string) ([]byte, bool)
	IsActive(identity string) bool
}

// Authenticator 连接认证器
type Authenticator struct {
	allowList []AllowEntry
	source    CredentialSource
	logger    *zap.Logger
}

// New 创建认证器
func New(allowList []AllowEntry, source CredentialSource, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{allowList: allowList, source: source, logger: logger}
}

var _ CredentialSource = (*credentials.Bridge)(nil)

// CheckConnect 连接许可统一入口。
// 返回nil表示放行；否则返回 ErrBadCredentials / ErrNotAuthorized。
// 日志只记身份与clientId用于审计，绝不落密钥。
func (a *Authenticator) CheckConnect(transport Transport, clientID, username string, password []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("authenticator panic, rejecting connection",
				zap.String("client_id", clientID),
				zap.Any("panic", r))
			err = ErrNotAuthorized
		}
	}()

	switch transport {
	case TransportPlain:
		err = a.checkPlain(username, password)
	case TransportPSK:
		err = a.checkPSK(clientID, username, password)
	default:
		err = ErrNotAuthorized
	}

	if err != nil {
		a.logger.Warn("connection rejected",
			zap.String("transport", string(transport)),
			zap.String("client_id", clientID),
			zap.String("username", username),
			zap.Error(err))
	}
	return err
}

// checkPlain 静态允许表校验。允许表为空视为全部拒绝（失败关闭）。
func (a *Authenticator) checkPlain(username string, password []byte) error {
	if len(a.allowList) == 0 {
		return ErrBadCredentials
	}
	for _, e := range a.allowList {
		userOK := subtle.ConstantTimeCompare([]byte(e.Username), []byte(username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(e.Password), password) == 1
		if userOK && passOK {
			return nil
		}
	}
	return ErrBadCredentials
}

// checkPSK 预共享密钥策略。
// 身份取username（空则退回clientID）；密钥经快照同步查得并常数时间比对；
// 握手通过之外还要求状态为active方可进入消息总线。
func (a *Authenticator) checkPSK(clientID, username string, password []byte) error {
	if a.source == nil {
		return ErrNotAuthorized
	}
	identity := username
	if identity == "" {
		identity = clientID
	}
	secret, ok := a.source.GetSecret(identity)
	if !ok {
		return ErrBadCredentials
	}
	if subtle.ConstantTimeCompare(secret, password) != 1 {
		return ErrBadCredentials
	}
	if !a.source.IsActive(identity) {
		return ErrNotAuthorized
	}
	return nil
}
