package notifier

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"smartalarm/internal/config"
	"smartalarm/internal/models"
)

// AdaptationEvent 对外发布的调整事件负载
type AdaptationEvent struct {
	RecordID     string   `json:"record_id"`
	AlarmID      string   `json:"alarm_id"`
	Date         string   `json:"date"`
	OldMinutes   int      `json:"old_minutes"`
	NewMinutes   int      `json:"new_minutes"`
	DeltaMinutes int      `json:"delta_minutes"`
	ConditionIDs []string `json:"condition_ids"`
	Confidence   float64  `json:"confidence"`
	Emergency    bool     `json:"emergency"`
}

// publisher 最小发布接口，便于测试替换 paho 客户端
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
}

// MQTTNotifier MQTT调整事件发布器
// Publishes each applied adaptation to <topic>/<alarm_id> so downstream
// consumers (companion apps, dashboards) see schedule moves in real time.
type MQTTNotifier struct {
	client publisher
	topic  string
	qos    byte
	logger *zap.Logger
}

// NewMQTTNotifier 创建MQTT发布器并连接到 broker
func NewMQTTNotifier(cfg *config.MQTTConfig, logger *zap.Logger) (*MQTTNotifier, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	logger.Info("MQTT notifier connected",
		zap.String("broker", cfg.Broker),
		zap.String("topic", cfg.Topic),
	)

	return &MQTTNotifier{
		client: client,
		topic:  cfg.Topic,
		qos:    cfg.QoS,
		logger: logger,
	}, nil
}

// PublishAdaptation 发布一条已应用的调整记录
func (n *MQTTNotifier) PublishAdaptation(rec *models.AdaptationRecord) error {
	event := AdaptationEvent{
		RecordID:     rec.RecordID,
		AlarmID:      rec.AlarmID,
		Date:         rec.Date,
		OldMinutes:   rec.OldMinutes,
		NewMinutes:   rec.NewMinutes,
		DeltaMinutes: rec.DeltaMinutes,
		ConditionIDs: rec.ConditionIDs,
		Confidence:   rec.Confidence,
		Emergency:    rec.Emergency,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal adaptation event: %w", err)
	}

	topic := fmt.Sprintf("%s/%s", n.topic, rec.AlarmID)
	token := n.client.Publish(topic, n.qos, false, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}
	return nil
}

// Close 断开MQTT连接
func (n *MQTTNotifier) Close() {
	if n.client.IsConnected() {
		n.client.Disconnect(250)
	}
}
