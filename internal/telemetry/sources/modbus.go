package sources

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/sony/gobreaker"

	"github.com/i474232898/solar-monitor/internal/telemetry"
)

// ModbusConfig addresses one device on a Modbus TCP gateway.
type ModbusConfig struct {
	Host     string
	Port     int
	DeviceID byte
	Timeout  time.Duration
	Map      RegisterMap
}

// Modbus reads an inverter over Modbus TCP according to a register map.
// The auxiliary group, if any, is read separately so its failure does not
// discard the main reading.
type Modbus struct {
	name    string
	cfg     ModbusConfig
	handler *modbus.TCPClientHandler
	client  registerReader
	circuit *gobreaker.CircuitBreaker

	// goburrow's handler is not safe for concurrent use.
	mu sync.Mutex
}

func NewModbus(cfg ModbusConfig) *Modbus {
	handler := modbus.NewTCPClientHandler(net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if cfg.Timeout > 0 {
		handler.Timeout = cfg.Timeout
	}
	handler.IdleTimeout = 2 * time.Minute
	handler.SlaveId = cfg.DeviceID

	return &Modbus{
		name:    "inverter",
		cfg:     cfg,
		handler: handler,
		client:  modbus.NewClient(handler),
		circuit: newBreaker("modbus"),
	}
}

func (m *Modbus) Name() string {
	return m.name
}

func (m *Modbus) Fetch(ctx context.Context) (telemetry.Reading, error) {
	return m.read(ctx, m.cfg.Map.Groups)
}

// FetchAuxiliary reads the auxiliary group. A map without one yields an
// empty reading.
func (m *Modbus) FetchAuxiliary(ctx context.Context) (telemetry.Reading, error) {
	if m.cfg.Map.Auxiliary == nil {
		return nil, nil
	}
	return m.read(ctx, []RegisterGroup{*m.cfg.Map.Auxiliary})
}

func (m *Modbus) read(ctx context.Context, groups []RegisterGroup) (telemetry.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	result, err := m.circuit.Execute(func() (interface{}, error) {
		r, err := readGroups(m.client, groups)
		if err != nil {
			// Force a fresh connection on the next attempt.
			_ = m.handler.Close()
			return nil, err
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: modbus %s: %w", telemetry.ErrSourceUnavailable, m.handler.Address, breakerError(err))
	}
	return result.(telemetry.Reading), nil
}

// Close drops the TCP connection.
func (m *Modbus) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler.Close()
}
