// Command render is a CLI front-end for the audio renderer core: it
// plays a WAV file through a chosen output device, wiring together
// settings, the device backend, and the renderer orchestrator.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/audiorender/audiorender/internal/device"
	devmalgo "github.com/audiorender/audiorender/internal/device/malgo"
	"github.com/audiorender/audiorender/internal/logging"
	"github.com/audiorender/audiorender/internal/renderer"
	"github.com/audiorender/audiorender/internal/samplesource"
	"github.com/audiorender/audiorender/internal/settingsconf"
)

var configPath string

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// rootCommand builds the render CLI, grounded on the teacher's
// cmd/root.go (persistent flags bound through viper, one subcommand per
// verb).
func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "render",
		Short: "audiorender CLI",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "render.yaml", "Path to the renderer's YAML settings file")
	if err := viper.BindPFlag("config", root.PersistentFlags().Lookup("config")); err != nil {
		fmt.Fprintf(os.Stderr, "error binding flags: %v\n", err)
	}

	root.AddCommand(playCommand())
	root.AddCommand(devicesCommand())
	return root
}

func playCommand() *cobra.Command {
	var exclusive bool
	var deviceID string

	cmd := &cobra.Command{
		Use:   "play [wav file]",
		Short: "Play a WAV file through the renderer core",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Init()

			settings, err := settingsconf.Load(configPath)
			if err != nil {
				return fmt.Errorf("load settings: %w", err)
			}

			outputDevice := settings.OutputDevice()
			if deviceID != "" {
				outputDevice.EndpointID = deviceID
			}
			if exclusive {
				outputDevice.Exclusive = true
			}

			factory, err := devmalgo.NewFactory()
			if err != nil {
				return fmt.Errorf("init audio backend: %w", err)
			}
			defer factory.Close()

			r := renderer.New(factory, renderer.Settings{
				Device:            outputDevice,
				Crossfeed:         settings.Crossfeed(),
				PeakLimiterShared: settings.PeakLimiterSharedMode(),
				Serial:            settings.Serial(),
			})

			src := samplesource.NewWAVSource(args[0], 4096)
			if err := src.Play(r); err != nil {
				return fmt.Errorf("play: %w", err)
			}
			return r.Stop()
		},
	}

	cmd.Flags().BoolVar(&exclusive, "exclusive", false, "Open the device in exclusive mode")
	cmd.Flags().StringVar(&deviceID, "device", "", "Render endpoint id (default: system default)")
	return cmd
}

func devicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List available render endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			factory, err := devmalgo.NewFactory()
			if err != nil {
				return err
			}
			defer factory.Close()

			endpoints, err := factory.Enumerate()
			if err != nil {
				return err
			}
			for _, ep := range endpoints {
				state := "active"
				if ep.State == device.StateUnplugged {
					state = "unplugged"
				}
				fmt.Printf("%s\t%s\t%s\n", ep.ID, ep.Name, state)
			}
			return nil
		},
	}
}
