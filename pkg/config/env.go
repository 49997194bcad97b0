package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ApplyEnv overrides fields from UVC_* environment variables.
func (c *Config) ApplyEnv() error {
	overrides := []struct {
		key   string
		apply func(string) error
	}{
		{"UVC_VENDOR_ID", uint16Var(&c.Device.VendorID)},
		{"UVC_PRODUCT_ID", uint16Var(&c.Device.ProductID)},
		{"UVC_SERIAL", stringVar(&c.Device.Serial)},
		{"UVC_MAX_PAYLOAD", func(v string) error {
			n, err := strconv.ParseUint(v, 0, 32)
			c.Video.MaxPayloadTransferSize = uint32(n)
			return err
		}},
		{"UVC_BUFFER_CAPACITY", intVar(&c.Video.BufferCapacity)},
		{"UVC_COMMIT_POLICY", stringVar(&c.Video.CommitPolicy)},
		{"UVC_SOURCE", stringVar(&c.Source.Kind)},
		{"UVC_SOURCE_DIR", stringVar(&c.Source.Dir)},
		{"UVC_SOURCE_FILES", func(v string) error {
			c.Source.Files = strings.Split(v, string(os.PathListSeparator))
			return nil
		}},
		{"UVC_QUALITY", intVar(&c.Source.Quality)},
		{"UVC_BUS_DIR", stringVar(&c.Transport.BusDir)},
		{"UVC_DEVICE_ID", stringVar(&c.Transport.DeviceID)},
		{"UVC_MONITOR_ADDR", func(v string) error {
			c.Monitor.Addr = v
			c.Monitor.Enabled = v != ""
			return nil
		}},
		{"UVC_LOG_LEVEL", stringVar(&c.Log.Level)},
		{"UVC_LOG_FORMAT", stringVar(&c.Log.Format)},
	}
	for _, o := range overrides {
		v, ok := os.LookupEnv(o.key)
		if !ok {
			continue
		}
		if err := o.apply(v); err != nil {
			return fmt.Errorf("%s=%q: %w", o.key, v, err)
		}
	}
	return nil
}

func stringVar(p *string) func(string) error {
	return func(v string) error {
		*p = v
		return nil
	}
}

func intVar(p *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*p = n
		return nil
	}
}

// uint16Var accepts decimal and 0x-prefixed hex.
func uint16Var(p *uint16) func(string) error {
	return func(v string) error {
		n, err := strconv.ParseUint(v, 0, 16)
		if err != nil {
			return err
		}
		*p = uint16(n)
		return nil
	}
}
