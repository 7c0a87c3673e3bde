package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/anicoll/house-power-simulator/cmd"
)

func main() {
	serve := &cli.Command{
		Name:   "serve",
		Usage:  "run the simulator with its websocket and REST API",
		Action: cmd.ServeCommand,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				EnvVars: []string{"PORT"},
				Value:   5000,
			},
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "INFO",
			},
			&cli.StringFlag{
				Name:    "allowed-origin",
				EnvVars: []string{"ALLOWED_ORIGIN"},
				Value:   "http://localhost:3000",
			},
			&cli.IntFlag{
				Name:    "overload-threshold",
				EnvVars: []string{"OVERLOAD_THRESHOLD_W"},
				Value:   4000,
			},
			&cli.DurationFlag{
				Name:    "trip-delay",
				EnvVars: []string{"TRIP_DELAY"},
				Value:   0,
			},
			&cli.StringFlag{
				Name:    "session-schedule",
				EnvVars: []string{"SESSION_SCHEDULE"},
				Value:   "@hourly",
			},
			&cli.StringFlag{
				Name:    "database-url",
				EnvVars: []string{"DATABASE_URL"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "mqtt-host",
				EnvVars: []string{"MQTT_HOST"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "mqtt-user",
				EnvVars: []string{"MQTT_USER"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "mqtt-pass",
				EnvVars: []string{"MQTT_PASS"},
				Value:   "",
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				EnvVars: []string{"KAFKA_BROKERS"},
			},
		},
	}

	client := &cli.Command{
		Name:   "client",
		Usage:  "send a command to a running simulator and print what it pushes back",
		Action: cmd.ClientCommand,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				EnvVars: []string{"SIMULATOR_URL"},
				Value:   "ws://localhost:5000/ws",
			},
			&cli.StringFlag{
				Name:  "command",
				Usage: "initialData, powerUpdate, toggleDevice, applyScene, resetFuse or resetSimulation",
				Value: "initialData",
			},
			&cli.StringFlag{
				Name: "room",
			},
			&cli.StringFlag{
				Name: "device",
			},
			&cli.StringSliceFlag{
				Name:  "scene",
				Usage: "roomId:deviceType, repeatable",
			},
			&cli.DurationFlag{
				Name:  "wait",
				Usage: "how long to keep printing pushed messages, 0 waits until interrupted",
				Value: 0,
			},
			&cli.DurationFlag{
				Name:  "refresh",
				Usage: "request a power update on this interval",
			},
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "INFO",
			},
		},
	}

	app := &cli.App{
		Name:     "house-power-simulator",
		Usage:    "simulated household power draw with fuse protection and efficiency scoring",
		Action:   cmd.ServeCommand,
		Flags:    serve.Flags,
		Commands: []*cli.Command{serve, client},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
