// Package broker 承载MQTT接入面：监听、连接许可、订阅策略与上行分发。
// 在嵌入式gmqtt之上挂插件钩子，把认证与业务分发接到自己的组件上。
package broker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/DrmagicE/gmqtt"
	"github.com/DrmagicE/gmqtt/pkg/packets"
	"go.uber.org/zap"

	"github.com/hanqi-iot/irrigation-server/internal/auth"
	"github.com/hanqi-iot/irrigation-server/internal/config"
	"github.com/hanqi-iot/irrigation-server/internal/dispatch"
	"github.com/hanqi-iot/irrigation-server/internal/metrics"
	"github.com/hanqi-iot/irrigation-server/internal/topic"
)

// ErrNotRunning 服务尚未启动时的发布调用
var ErrNotRunning = errors.New("broker not running")

// Broker MQTT接入服务
type Broker struct {
	p      *plugin
	cfg    config.MQTTConfig
	logger *zap.Logger
}

// New 创建接入服务。authn 为连接许可；disp 为上行分发；appm 可为nil。
func New(cfg config.MQTTConfig, authn *auth.Authenticator, disp *dispatch.Dispatcher, appm *metrics.AppMetrics, logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		p: &plugin{
			authn:            authn,
			dispatcher:       disp,
			registry:         NewRegistry(cfg.OfflineAfter),
			limiter:          NewRateLimiter(cfg.ConnectRate, cfg.ConnectBurst),
			appm:             appm,
			logger:           logger,
			transports:       make(map[net.Conn]pendingConn),
			clientTransports: make(map[string]auth.Transport),
		},
		cfg:    cfg,
		logger: logger,
	}
}

// Registry 在线登记表（健康检查/指标用）
func (b *Broker) Registry() *Registry { return b.p.registry }

// Limiter 连接限流器统计入口
func (b *Broker) Limiter() *RateLimiter { return b.p.limiter }

// Run 启动监听并阻塞运行，ctx取消后优雅停机。
func (b *Broker) Run(ctx context.Context) error {
	opts := []gmqtt.Options{gmqtt.WithPlugin(b.p)}

	plainLn, err := net.Listen("tcp", b.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen mqtt %s: %w", b.cfg.Addr, err)
	}
	opts = append(opts, gmqtt.WithTCPListener(plainLn))
	b.logger.Info("mqtt listener up", zap.String("addr", b.cfg.Addr))

	if b.cfg.TLS.Enable {
		crt, err := tls.LoadX509KeyPair(b.cfg.TLS.CertFile, b.cfg.TLS.KeyFile)
		if err != nil {
			plainLn.Close()
			return fmt.Errorf("load tls keypair: %w", err)
		}
		tlsLn, err := tls.Listen("tcp", b.cfg.TLS.Addr, &tls.Config{
			Certificates: []tls.Certificate{crt},
		})
		if err != nil {
			plainLn.Close()
			return fmt.Errorf("listen mqtts %s: %w", b.cfg.TLS.Addr, err)
		}
		opts = append(opts, gmqtt.WithTCPListener(tlsLn))
		b.logger.Info("mqtts listener up", zap.String("addr", b.cfg.TLS.Addr))
	}

	s := gmqtt.NewServer(opts...)
	s.Run()

	// 离线清扫：回收静默超窗的登记
	sweep := time.NewTicker(b.p.registry.timeout)
	defer sweep.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-sweep.C:
				b.p.sweepOffline(now)
			}
		}
	}()

	<-ctx.Done()
	b.logger.Info("mqtt broker stopping")
	s.Stop(context.Background())
	return nil
}

// Publish 按主题发布一条下行消息
func (b *Broker) Publish(topicName string, payload []byte, qos byte) error {
	return b.p.publish(topicName, payload, qos)
}

// PublishToGateway 向指定网关的指令主题发布
func (b *Broker) PublishToGateway(gatewayID string, payload []byte, qos byte) error {
	return b.p.publish(topic.GatewayCommand(gatewayID), payload, qos)
}

// plugin gmqtt插件：接管接入钩子
type plugin struct {
	authn      *auth.Authenticator
	dispatcher *dispatch.Dispatcher
	registry   *Registry
	limiter    *RateLimiter
	appm       *metrics.AppMetrics
	logger     *zap.Logger

	// transports 只在 accept→connect 窗口内按连接记传输类型，
	// connect 后改记到 clientTransports，两张表都由离线清扫回收
	mu               sync.RWMutex
	transports       map[net.Conn]pendingConn
	clientTransports map[string]auth.Transport
	service          gmqtt.Server
}

// pendingConn accept→connect 窗口内的连接记录。
// 记下accept时刻，连上从不CONNECT的连接由清扫兜底回收。
type pendingConn struct {
	transport  auth.Transport
	acceptedAt time.Time
}

// Load 插件装载：拿到服务句柄用于下行发布
func (p *plugin) Load(service gmqtt.Server) error {
	p.service = service
	return nil
}

// Unload 插件卸载
func (p *plugin) Unload() error { return nil }

// Name 插件名
func (p *plugin) Name() string { return "hanqi-access" }

// HookWrapper 注册接入钩子
func (p *plugin) HookWrapper() gmqtt.HookWrapper {
	return gmqtt.HookWrapper{
		OnAcceptWrapper:     p.OnAcceptWrapper,
		OnConnectWrapper:    p.OnConnectWrapper,
		OnSubscribeWrapper:  p.OnSubscribeWrapper,
		OnSubscribedWrapper: p.OnSubscribedWrapper,
		OnMsgArrivedWrapper: p.OnMsgArrivedWrapper,
	}
}

func (p *plugin) publish(topicName string, payload []byte, qos byte) error {
	if p.service == nil {
		return ErrNotRunning
	}
	if qos > packets.QOS_1 {
		qos = packets.QOS_1
	}
	p.service.PublishService().Publish(gmqtt.NewMessage(topicName, payload, qos))
	return nil
}

func (p *plugin) takeTransport(conn net.Conn) auth.Transport {
	p.mu.Lock()
	defer p.mu.Unlock()
	pc, ok := p.transports[conn]
	if !ok {
		return auth.TransportPlain
	}
	delete(p.transports, conn)
	return pc.transport
}

func (p *plugin) transportOfClient(clientID string) auth.Transport {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if t, ok := p.clientTransports[clientID]; ok {
		return t
	}
	return auth.TransportPlain
}

// sweepOffline 回收离线网关的登记与传输类型记录，
// 并清掉accept后超窗仍未CONNECT的连接记录
func (p *plugin) sweepOffline(now time.Time) {
	gone := p.registry.Sweep(now)
	if len(gone) > 0 {
		p.mu.Lock()
		for _, id := range gone {
			delete(p.clientTransports, id)
		}
		p.mu.Unlock()
		p.logger.Info("gateways swept offline", zap.Int("count", len(gone)))
	}

	p.mu.Lock()
	var stale int
	for conn, pc := range p.transports {
		if now.Sub(pc.acceptedAt) > p.registry.timeout {
			delete(p.transports, conn)
			stale++
		}
	}
	p.mu.Unlock()
	if stale > 0 {
		p.logger.Info("stale pending connections swept", zap.Int("count", stale))
	}
	if p.appm != nil {
		p.appm.OnlineGauge.Set(float64(p.registry.OnlineCount(now)))
	}
}

// OnAcceptWrapper 限流与TLS握手，同时登记连接的传输类型
func (p *plugin) OnAcceptWrapper(accept gmqtt.OnAccept) gmqtt.OnAccept {
	return func(ctx context.Context, conn net.Conn) bool {
		if !p.limiter.Allow() {
			p.logger.Warn("connection rejected by rate limit",
				zap.String("remote", conn.RemoteAddr().String()))
			if p.appm != nil {
				p.appm.ConnRejected.WithLabelValues("rate_limit").Inc()
			}
			return false
		}

		transport := auth.TransportPlain
		if tlsConn, ok := conn.(*tls.Conn); ok {
			if err := tlsConn.Handshake(); err != nil {
				p.logger.Warn("tls handshake failed",
					zap.String("remote", conn.RemoteAddr().String()),
					zap.Error(err))
				if p.appm != nil {
					p.appm.ConnRejected.WithLabelValues("tls").Inc()
				}
				return false
			}
			transport = auth.TransportPSK
		}

		p.mu.Lock()
		p.transports[conn] = pendingConn{transport: transport, acceptedAt: time.Now()}
		p.mu.Unlock()
		return accept(ctx, conn)
	}
}

// OnConnectWrapper 连接许可：按传输类型走明文允许表或凭据快照
func (p *plugin) OnConnectWrapper(connect gmqtt.OnConnect) gmqtt.OnConnect {
	return func(ctx context.Context, client gmqtt.Client) (code uint8) {
		opts := client.OptionsReader()
		clientID := opts.ClientID()
		username := opts.Username()
		password := []byte(opts.Password())
		transport := p.takeTransport(client.Connection())

		if err := p.authn.CheckConnect(transport, clientID, username, password); err != nil {
			if p.appm != nil {
				p.appm.AuthFailTotal.WithLabelValues(string(transport)).Inc()
				p.appm.ConnRejected.WithLabelValues("auth").Inc()
			}
			if errors.Is(err, auth.ErrBadCredentials) {
				return packets.CodeBadUsernameorPsw
			}
			return packets.CodeNotAuthorized
		}

		p.mu.Lock()
		p.clientTransports[clientID] = transport
		p.mu.Unlock()
		p.registry.Touch(clientID, time.Now())
		if p.appm != nil {
			p.appm.ConnAccepted.Inc()
			p.appm.OnlineGauge.Set(float64(p.registry.OnlineCount(time.Now())))
		}
		p.logger.Info("gateway connected",
			zap.String("client_id", clientID),
			zap.String("transport", string(transport)))
		return connect(ctx, client)
	}
}

// OnSubscribeWrapper 订阅策略：PSK网关只允许订阅自己的下行主题
func (p *plugin) OnSubscribeWrapper(subscribe gmqtt.OnSubscribe) gmqtt.OnSubscribe {
	return func(ctx context.Context, client gmqtt.Client, t packets.Topic) (qos uint8) {
		clientID := client.OptionsReader().ClientID()
		if p.transportOfClient(clientID) == auth.TransportPSK {
			prefix := topic.GatewayPrefix(clientID)
			if !strings.HasPrefix(t.Name, prefix) {
				p.logger.Warn("subscribe denied",
					zap.String("client_id", clientID),
					zap.String("topic", t.Name))
				return packets.SUBSCRIBE_FAILURE
			}
		}
		return subscribe(ctx, client, t)
	}
}

// OnSubscribedWrapper 订阅成功记录
func (p *plugin) OnSubscribedWrapper(subscribed gmqtt.OnSubscribed) gmqtt.OnSubscribed {
	return func(ctx context.Context, client gmqtt.Client, t packets.Topic) {
		p.logger.Debug("subscribed",
			zap.String("client_id", client.OptionsReader().ClientID()),
			zap.String("topic", t.Name))
		subscribed(ctx, client, t)
	}
}

// OnMsgArrivedWrapper 上行入口：刷新在线登记并交给业务分发器
func (p *plugin) OnMsgArrivedWrapper(arrived gmqtt.OnMsgArrived) gmqtt.OnMsgArrived {
	return func(ctx context.Context, client gmqtt.Client, msg packets.Message) (valid bool) {
		clientID := client.OptionsReader().ClientID()
		p.registry.Touch(clientID, time.Now())

		matched := p.dispatcher.Dispatch(ctx, msg.Topic(), msg.Payload(), clientID)
		if p.appm != nil {
			p.appm.DispatchTotal.Inc()
			if matched == 0 {
				p.appm.DispatchNoMatch.Inc()
			}
		}
		return arrived(ctx, client, msg)
	}
}
