package events

import (
	"context"
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/wfunc/serial-bridge/internal/config"
	apperrors "github.com/wfunc/serial-bridge/internal/errors"
	"github.com/wfunc/serial-bridge/internal/logger"
)

const (
	statusOnline  = "online"
	statusOffline = "offline"
)

// MQTTPublisher 通过MQTT发布事件
type MQTTPublisher struct {
	client      mqtt.Client
	eventTopic  string
	statusTopic string
	qos         byte
	retained    bool
	timeout     time.Duration
	logger      *zap.Logger
}

// NewMQTTOptions 由配置生成客户端参数，离线状态作为遗嘱消息
func NewMQTTOptions(cfg *config.MQTTConfig) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(cfg.CleanSession).
		SetAutoReconnect(cfg.AutoReconnect).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetKeepAlive(cfg.KeepAlive)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.Topics.Status != "" {
		opts.SetWill(cfg.Topics.Status, statusOffline, cfg.QoS, true)
	}

	log := logger.GetModuleLogger("mqtt")
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("MQTT已连接", zap.String("broker", cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("MQTT连接断开", zap.Error(err))
	})
	return opts
}

// DialMQTT 连接服务器并发布在线状态
func DialMQTT(cfg *config.MQTTConfig) (*MQTTPublisher, error) {
	client := mqtt.NewClient(NewMQTTOptions(cfg))
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, apperrors.New(apperrors.ErrMQTTConnect, "连接超时: "+cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrMQTTConnect, cfg.Broker)
	}

	p := NewMQTTPublisher(client, cfg)
	if err := p.publishStatus(statusOnline); err != nil {
		p.logger.Warn("发布在线状态失败", zap.Error(err))
	}
	return p, nil
}

// NewMQTTPublisher 使用已创建的客户端
func NewMQTTPublisher(client mqtt.Client, cfg *config.MQTTConfig) *MQTTPublisher {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MQTTPublisher{
		client:      client,
		eventTopic:  cfg.Topics.Event,
		statusTopic: cfg.Topics.Status,
		qos:         cfg.QoS,
		retained:    cfg.Retained,
		timeout:     timeout,
		logger:      logger.GetModuleLogger("mqtt"),
	}
}

// Publish 发布JSON事件
func (p *MQTTPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := p.publish(ctx, p.eventTopic, p.retained, payload); err != nil {
		p.logger.Warn("MQTT事件发布失败", zap.String("topic", p.eventTopic), zap.Error(err))
		return err
	}
	logger.LogMQTTMessage(p.eventTopic, "publish", e)
	return nil
}

func (p *MQTTPublisher) publishStatus(status string) error {
	if p.statusTopic == "" {
		return nil
	}
	return p.publish(context.Background(), p.statusTopic, true, []byte(status))
}

func (p *MQTTPublisher) publish(ctx context.Context, topic string, retained bool, payload []byte) error {
	token := p.client.Publish(topic, p.qos, retained, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return apperrors.Wrap(err, apperrors.ErrMQTTPublish, topic)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.timeout):
		return apperrors.New(apperrors.ErrMQTTPublish, "发布超时: "+topic)
	}
}

// Close 发布离线状态并断开
func (p *MQTTPublisher) Close() error {
	if err := p.publishStatus(statusOffline); err != nil {
		p.logger.Warn("发布离线状态失败", zap.Error(err))
	}
	p.client.Disconnect(250)
	return nil
}
