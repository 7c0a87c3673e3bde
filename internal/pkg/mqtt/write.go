package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/anicoll/house-power-simulator/internal/pkg/model"
	"github.com/anicoll/house-power-simulator/internal/pkg/publisher"
)

const (
	discoveryPrefix = "homeassistant/sensor"
	deviceID        = "house_power_simulator"
	publishTimeout  = 5 * time.Second
)

func (s *service) Write(ctx context.Context, batch publisher.Batch) error {
	for _, sensor := range batch.Sensors {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.PublishState(sensor); err != nil {
			return err
		}
	}
	return nil
}

// RegisterSensors publishes a retained discovery config for every sensor not yet
// announced.
func (s *service) RegisterSensors(ctx context.Context, sensors []model.SensorState) error {
	for _, sensor := range sensors {
		if _, exists := s.configured[sensor.Slug]; exists {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := json.Marshal(registerMsg(sensor))
		if err != nil {
			return err
		}
		topic := sensorTopic(sensor.Slug) + "/config"
		if err := wait(s.client.Publish(topic, 1, true, payload), publishTimeout); err != nil {
			return err
		}
		s.configured[sensor.Slug] = struct{}{}
		s.logger.Debug("registered sensor", zap.String("sensor", sensor.Slug))
	}
	return nil
}

func (s *service) PublishState(sensor model.SensorState) error {
	payload := map[string]string{
		"value": sensor.Value,
	}
	if sensor.Unit != "" {
		payload["unit_of_measurement"] = sensor.Unit
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return wait(s.client.Publish(sensorTopic(sensor.Slug)+"/state", 0, false, data), publishTimeout)
}

func sensorTopic(slug string) string {
	return fmt.Sprintf("%s/%s_%s", discoveryPrefix, deviceID, slug)
}

func registerMsg(sensor model.SensorState) model.RegisterMessage {
	return model.RegisterMessage{
		Tilda:             sensorTopic(sensor.Slug),
		Name:              sensor.Name,
		ID:                fmt.Sprintf("%s_%s", deviceID, sensor.Slug),
		StateTopic:        "~/state",
		ValueTemplate:     "{{ value_json.value }}",
		UnitOfMeasurement: sensor.Unit,
		DeviceClass:       sensor.Class,
		Device: model.RegisterDevice{
			Name:         "House Power Simulator",
			Identifiers:  []string{deviceID},
			Model:        "Simulated House",
			Manufacturer: "House Power Simulator",
		},
	}
}
