package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/mikesmitty/max31855"
	"github.com/mikesmitty/max31855/internal/publish"
)

func main() {
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "max31855",
		Short:        "Read a MAX31855 thermocouple converter",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()
			return run(ctx, v)
		},
	}

	f := cmd.Flags()
	f.String("bus", "", "Name of the SPI bus")
	f.String("cs", "", "GPIO pin driven as chip select, empty to let the bus drive it")
	f.Int("width", 32, "Frame width, 16 (thermocouple only) or 32")
	f.String("unit", "c", "Output unit: c, f, k or raw")
	f.Duration("interval", time.Second, "Delay between readings")
	f.Int("count", 0, "Number of readings, 0 reads until interrupted")
	f.String("mqtt-broker", "", "Publish readings to this broker, e.g. tcp://localhost:1883")
	f.String("mqtt-topic", "max31855", "MQTT topic prefix")
	f.String("mqtt-client-id", "max31855", "MQTT client ID")
	f.BoolP("verbose", "v", false, "Log every reading at debug level")

	v.SetEnvPrefix("max31855")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(f); err != nil {
		panic(err)
	}
	return cmd
}

func newLogger(verbose bool) logr.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()
	return zerologr.New(&zl)
}

func parseWidth(n int) (max31855.Width, error) {
	switch n {
	case 32:
		return max31855.Width32, nil
	case 16:
		return max31855.Width16, nil
	}
	return 0, fmt.Errorf("%w: %d", max31855.ErrInvalidWidth, n)
}

func parseInterval(d time.Duration) (time.Duration, error) {
	if d <= 0 {
		return 0, fmt.Errorf("interval must be positive, got %v", d)
	}
	return d, nil
}

func run(ctx context.Context, v *viper.Viper) error {
	log := newLogger(v.GetBool("verbose"))

	interval, err := parseInterval(v.GetDuration("interval"))
	if err != nil {
		return err
	}

	unit, err := max31855.ParseUnit(v.GetString("unit"))
	if err != nil {
		return err
	}
	opts := max31855.DefaultOptions()
	opts.Logger = log
	if opts.Width, err = parseWidth(v.GetInt("width")); err != nil {
		return err
	}

	if _, err := host.Init(); err != nil {
		return err
	}

	if name := v.GetString("cs"); name != "" {
		p := gpioreg.ByName(name)
		if p == nil {
			return fmt.Errorf("unknown chip select pin %q", name)
		}
		opts.ChipSelect = p
	}

	sb, err := spireg.Open(v.GetString("bus"))
	if err != nil {
		return err
	}
	defer sb.Close()

	dev, err := max31855.New(sb, opts)
	if err != nil {
		return err
	}
	log.Info("Opened device", "device", dev.String(), "width", opts.Width.String(), "unit", unit.String())

	var pub *publish.Publisher
	if broker := v.GetString("mqtt-broker"); broker != "" {
		pub, err = publish.New(ctx, publish.Config{
			Broker:   broker,
			ClientID: v.GetString("mqtt-client-id"),
			Topic:    v.GetString("mqtt-topic"),
		}, log.WithName("mqtt"))
		if err != nil {
			return err
		}
		defer pub.Close()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for n := v.GetInt("count"); ; n-- {
		res, err := dev.Read(unit)
		switch {
		case errors.Is(err, max31855.ErrInconsistentFrame):
			log.Error(err, "Discarding frame")
		case err != nil:
			return err
		default:
			logReading(log, res)
			if pub != nil {
				if err := pub.Publish(ctx, res); err != nil {
					log.Error(err, "Publish failed")
				}
			}
		}

		if n == 1 {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func logReading(log logr.Logger, res max31855.Result) {
	kv := []interface{}{"thermocouple", res.Thermocouple, "unit", res.Unit.String()}
	if res.HasInternal {
		kv = append(kv, "internal", res.Internal)
	}
	if !res.Fault {
		log.V(1).Info("Reading", kv...)
		return
	}
	if f, ok := res.FaultReasons(); ok {
		kv = append(kv, "reasons", f.String())
	} else {
		kv = append(kv, "reasons", "unavailable")
	}
	log.Info("Thermocouple fault", kv...)
}
