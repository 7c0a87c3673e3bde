package server

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/anicoll/house-power-simulator/internal/pkg/model"
	"github.com/anicoll/house-power-simulator/internal/pkg/simulation"
)

func (s *server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.allowedOrigin == "*" || origin == s.allowedOrigin || origin == "http://"+r.Host
		},
	}
}

func (s *server) serveWS(w http.ResponseWriter, r *http.Request) {
	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := newClient(uuid.NewString(), conn)
	s.hub.add(c)
	defer s.hub.remove(c.id)

	for {
		var msg model.ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("websocket read failed", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
		if err := s.handleCommand(c, msg); err != nil {
			s.logger.Warn("websocket reply dropped", zap.String("client_id", c.id), zap.Error(err))
			return
		}
	}
}

// handleCommand runs one client command. Successful mutations reach every
// client through the hub; replies and rejections go to the sender only.
func (s *server) handleCommand(c *client, msg model.ClientMessage) error {
	logger := s.logger.With(zap.String("client_id", c.id), zap.Stringer("command", msg.Type))
	logger.Debug("command received")

	switch msg.Type {
	case model.CommandInitialData:
		return c.send(model.Envelope{Type: model.EventInitialData, Data: s.sim.InitialState()})
	case model.CommandPowerUpdate:
		return c.send(model.Envelope{Type: model.EventPowerUpdate, Data: s.sim.Refresh()})
	case model.CommandToggleDevice:
		_, err := s.sim.ToggleDevice(msg.RoomID, msg.DeviceType)
		return s.rejectToggle(c, err)
	case model.CommandApplyScene:
		_, err := s.sim.ApplyScene(msg.Devices)
		return s.rejectToggle(c, err)
	case model.CommandResetFuse:
		if _, _, err := s.sim.ResetFuse(); err != nil {
			s.metrics.Rejected(model.EventFuseResetRejected)
			message := simulation.RejectionMessage(err)
			return c.send(model.Envelope{
				Type: model.EventFuseResetRejected,
				Data: model.Rejection{Message: message, Error: message},
			})
		}
	case model.CommandResetSimulation:
		s.sim.ResetSimulation()
	default:
		logger.Warn("unknown command ignored")
	}
	return nil
}

func (s *server) rejectToggle(c *client, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, simulation.ErrUnknownDevice):
		// unknown devices are dropped without a reply.
		return nil
	}
	s.metrics.Rejected(model.EventDeviceToggleRejected)
	return c.send(model.Envelope{
		Type: model.EventDeviceToggleRejected,
		Data: model.Rejection{Message: simulation.RejectionMessage(err)},
	})
}
