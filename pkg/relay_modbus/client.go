// Package relay_modbus drives Modbus-TCP relay boards, one coil per relay.
package relay_modbus

import (
	"fmt"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// CoilWriter is the subset of a Modbus client a relay board needs.
type CoilWriter interface {
	Open() error
	Close() error
	WriteCoil(addr uint16, value bool) error
	ReadCoil(addr uint16) (bool, error)
}

type ModbusInstrument struct {
	RecordTime func(fnName string, duration time.Duration)
}

type ModbusCoilWriter struct {
	client     *modbus.ModbusClient
	instrument []ModbusInstrument
}

func CreateModbusCoilWriter(host string, port uint, unitId uint8, timeout time.Duration,
	logger *zap.Logger, instrumentation *ModbusInstrument) (*ModbusCoilWriter, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", host, port),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	if err := client.SetUnitId(unitId); err != nil {
		return nil, err
	}

	inst := []ModbusInstrument{*traceLoggerInstrumentation(logger.With(zap.Uint8("unit", unitId)))}
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}
	return &ModbusCoilWriter{client: client, instrument: inst}, nil
}

func (w *ModbusCoilWriter) Open() error {
	return w.client.Open()
}

func (w *ModbusCoilWriter) Close() error {
	return w.client.Close()
}

func (w *ModbusCoilWriter) WriteCoil(addr uint16, value bool) error {
	defer RecordTimer("WriteCoil", w.instrument)()
	return w.client.WriteCoil(addr, value)
}

func (w *ModbusCoilWriter) ReadCoil(addr uint16) (bool, error) {
	defer RecordTimer("ReadCoil", w.instrument)()
	return w.client.ReadCoil(addr)
}

func traceLoggerInstrumentation(logger *zap.Logger) *ModbusInstrument {
	return &ModbusInstrument{
		RecordTime: func(fnName string, duration time.Duration) {
			logger.Debug("modbus@call", zap.String("fn", fnName), zap.Int64("millis", duration.Milliseconds()))
		},
	}
}

func RecordTimer(name string, instrument []ModbusInstrument) func() {
	if instrument == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		for i := range instrument {
			instrument[i].RecordTime(name, duration)
		}
	}
}

// ensure interface compliance
var _ CoilWriter = (*ModbusCoilWriter)(nil)
