package mqtt

import (
	"errors"
	"fmt"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/anicoll/house-power-simulator/internal/pkg/config"
)

const clientID = "house-power-simulator"

type service struct {
	client     paho_mqtt.Client
	configured map[string]struct{}
	logger     *zap.Logger
}

func New(client paho_mqtt.Client) *service {
	return &service{
		client:     client,
		configured: make(map[string]struct{}),
		logger:     zap.L(),
	}
}

// NewClient builds a reconnecting paho client for the configured broker.
func NewClient(cfg config.MqttConfig) paho_mqtt.Client {
	opts := paho_mqtt.NewClientOptions().
		AddBroker(cfg.Host).
		SetClientID(clientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(paho_mqtt.Client) {
			zap.L().Info("mqtt connected", zap.String("host", cfg.Host))
		}).
		SetConnectionLostHandler(func(_ paho_mqtt.Client, err error) {
			zap.L().Warn("mqtt connection lost", zap.Error(err))
		})
	return paho_mqtt.NewClient(opts)
}

func (s *service) Connect() error {
	token := s.client.Connect()
	res := token.WaitTimeout(time.Second * 5)
	if res {
		return token.Error()
	}
	if err := token.Error(); err != nil {
		return err
	}
	return errors.New("unable to connect in time")
}

func (s *service) Close() error {
	s.client.Disconnect(250)
	return nil
}

func wait(token paho_mqtt.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt publish timed out after %s", timeout)
	}
	return token.Error()
}
