package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/anicoll/house-power-simulator/internal/pkg/model"
	"github.com/anicoll/house-power-simulator/pkg/sockets"
)

var errConnectionClosed = errors.New("server closed the connection")

// ClientCommand connects to a running simulator, sends one command and prints
// everything the server pushes until the wait elapses or it is interrupted.
func ClientCommand(ctx *cli.Context) error {
	logger, err := newLogger(ctx.String("log-level"))
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(logger)

	msg, err := commandMessage(ctx.String("command"), ctx.String("room"), ctx.String("device"), ctx.StringSlice("scene"))
	if err != nil {
		return err
	}

	opts := []func(*sockets.Conn){
		sockets.OnMessage(printMessage(ctx.App.Writer)),
		sockets.OnError(func(err error) {
			logger.Warn("websocket error", zap.Error(err))
		}),
	}
	if refresh := ctx.Duration("refresh"); refresh > 0 {
		opts = append(opts,
			sockets.WithPingInterval(refresh),
			sockets.WithPingMsg([]byte(fmt.Sprintf(`{"type":%q}`, model.CommandPowerUpdate))),
		)
	}
	conn := sockets.New(opts...)
	if err := conn.Dial(ctx.Context, ctx.String("url"), ""); err != nil {
		return fmt.Errorf("dialing %s: %w", ctx.String("url"), err)
	}
	defer conn.Close()

	if err := conn.SendJSON(msg); err != nil {
		return err
	}

	waitCtx := ctx.Context
	if wait := ctx.Duration("wait"); wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(waitCtx, wait)
		defer cancel()
	}
	select {
	case <-waitCtx.Done():
		return nil
	case <-conn.Done():
		return errConnectionClosed
	}
}

// commandMessage builds a client message. Scene entries are "roomId:deviceType".
func commandMessage(command, room, device string, scene []string) (model.ClientMessage, error) {
	msg := model.ClientMessage{Type: model.CommandType(command)}
	switch msg.Type {
	case model.CommandInitialData, model.CommandPowerUpdate, model.CommandResetFuse, model.CommandResetSimulation:
	case model.CommandToggleDevice:
		if room == "" || device == "" {
			return msg, errors.New("toggleDevice needs --room and --device")
		}
		msg.RoomID = room
		msg.DeviceType = model.DeviceKind(device)
	case model.CommandApplyScene:
		if len(scene) == 0 {
			return msg, errors.New("applyScene needs at least one --scene roomId:deviceType")
		}
		for _, entry := range scene {
			roomID, kind, ok := strings.Cut(entry, ":")
			if !ok || roomID == "" || kind == "" {
				return msg, fmt.Errorf("invalid scene entry %q", entry)
			}
			msg.Devices = append(msg.Devices, model.DeviceRef{RoomID: roomID, DeviceType: model.DeviceKind(kind)})
		}
	default:
		return msg, fmt.Errorf("unknown command %q", command)
	}
	return msg, nil
}

func printMessage(w io.Writer) func([]byte, sockets.Connection) {
	return func(msg []byte, _ sockets.Connection) {
		fmt.Fprintln(w, string(msg))
	}
}
