package emupower

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
	"time"

	"github.com/goburrow/serial"
	"go.uber.org/zap"
)

// ErrNotOpen is returned when a request is issued before Open or after Close.
var ErrNotOpen = errors.New("serial link is not open")

// MeterClient is a synchronous request/response client for a Rainforest
// EMU-2 energy monitor speaking the RAVEn XML API over a serial link.
//
// All Get* calls are bounded by the configured timeout. A (nil, nil) result
// means the device stayed silent within that window; callers fold this into
// their non-response handling. Calls are not safe for concurrent use; the
// link has a single owner.
type MeterClient interface {
	Open() error
	Close() error
	SetScheduleDefault() error
	GetDeviceInfo() (*DeviceInfo, error)
	GetCurrentSummation() (*CurrentSummation, error)
	GetInstantaneousDemand() (*InstantaneousDemand, error)
}

func CreateSerialMeterClient(address string, timeout time.Duration, logger *zap.Logger) (MeterClient, error) {
	if address == "" {
		return nil, errors.New("serial device address is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &serialMeterClient{
		address: address,
		timeout: timeout,
		logger:  logger.With(zap.String("device", address)),
	}, nil
}

type serialMeterClient struct {
	address string
	timeout time.Duration
	logger  *zap.Logger
	port    serial.Port
	// unconsumed bytes between reads; the EMU-2 pushes unsolicited
	// fragments that may interleave with the one we asked for
	buf []byte
}

func (c *serialMeterClient) Open() error {
	port, err := serial.Open(&serial.Config{
		Address:  c.address,
		BaudRate: 115200,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  c.timeout,
	})
	if err != nil {
		return err
	}
	c.port = port
	c.buf = nil
	c.logger.Debug("serial link open")
	return nil
}

func (c *serialMeterClient) Close() error {
	if c.port == nil {
		return nil
	}
	err := c.port.Close()
	c.port = nil
	c.buf = nil
	c.logger.Debug("serial link closed")
	return err
}

func (c *serialMeterClient) SetScheduleDefault() error {
	// fire-and-forget; the device does not acknowledge schedule commands
	return c.sendCommand("set_schedule_default", false)
}

func (c *serialMeterClient) GetDeviceInfo() (*DeviceInfo, error) {
	return request[DeviceInfo](c, "get_device_info", false, "DeviceInfo")
}

func (c *serialMeterClient) GetCurrentSummation() (*CurrentSummation, error) {
	return request[CurrentSummation](c, "get_current_summation_delivered", true, "CurrentSummationDelivered")
}

func (c *serialMeterClient) GetInstantaneousDemand() (*InstantaneousDemand, error) {
	return request[InstantaneousDemand](c, "get_instantaneous_demand", true, "InstantaneousDemand")
}

func request[T any](c *serialMeterClient, command string, refresh bool, root string) (*T, error) {
	if err := c.sendCommand(command, refresh); err != nil {
		return nil, err
	}
	frag, err := c.readFragment(root)
	if err != nil {
		return nil, err
	}
	if frag == nil {
		return nil, nil
	}
	var out T
	if err := xml.Unmarshal(frag, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *serialMeterClient) sendCommand(name string, refresh bool) error {
	if c.port == nil {
		return ErrNotOpen
	}
	var sb strings.Builder
	sb.WriteString("<Command><Name>")
	sb.WriteString(name)
	sb.WriteString("</Name>")
	if refresh {
		sb.WriteString("<Refresh>Y</Refresh>")
	}
	sb.WriteString("</Command>\n")
	c.logger.Debug("command", zap.String("name", name))
	_, err := c.port.Write([]byte(sb.String()))
	return err
}

// readFragment reads from the link until a complete <root>...</root>
// fragment is seen or the timeout expires. Expiry is not an error: a nil
// fragment means the device did not answer.
func (c *serialMeterClient) readFragment(root string) ([]byte, error) {
	if c.port == nil {
		return nil, ErrNotOpen
	}
	deadline := time.Now().Add(c.timeout)
	chunk := make([]byte, 256)
	for {
		if frag, rest, ok := extractFragment(c.buf, root); ok {
			c.buf = rest
			return frag, nil
		}
		if !time.Now().Before(deadline) {
			c.logger.Debug("no answer within timeout", zap.String("fragment", root))
			return nil, nil
		}
		n, err := c.port.Read(chunk)
		if n > 0 {
			c.buf = append(c.buf, chunk[:n]...)
		}
		if err != nil && err != serial.ErrTimeout {
			return nil, err
		}
	}
}

// extractFragment scans for the first complete fragment with the given root
// element, skipping any unrelated fragments before it.
func extractFragment(buf []byte, root string) (frag, rest []byte, ok bool) {
	openTag := []byte("<" + root + ">")
	closeTag := []byte("</" + root + ">")
	i := bytes.Index(buf, openTag)
	if i < 0 {
		return nil, buf, false
	}
	j := bytes.Index(buf[i:], closeTag)
	if j < 0 {
		return nil, buf, false
	}
	end := i + j + len(closeTag)
	return buf[i:end], buf[end:], true
}
