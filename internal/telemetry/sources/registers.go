package sources

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/i474232898/solar-monitor/internal/telemetry"
)

//go:embed registers.yaml
var defaultRegisterMap []byte

// RegisterMap describes which holding registers make up a device reading.
type RegisterMap struct {
	Groups    []RegisterGroup `yaml:"groups"`
	Auxiliary *RegisterGroup  `yaml:"auxiliary,omitempty"`
}

// RegisterGroup becomes one internal node of the reading. An empty name
// puts the registers at the top level.
type RegisterGroup struct {
	Name      string     `yaml:"name"`
	Registers []Register `yaml:"registers"`
}

// Register is a single value spread over one or two 16-bit words.
type Register struct {
	Name    string         `yaml:"name"`
	Address uint16         `yaml:"address"`
	Type    string         `yaml:"type"`
	Scale   float64        `yaml:"scale"`
	Enum    map[int]string `yaml:"enum,omitempty"`
}

// maxReadQuantity is the Modbus limit of words per holding register read.
const maxReadQuantity = 125

// DefaultRegisterMap returns the built-in map for SRNE hybrid inverters.
func DefaultRegisterMap() (RegisterMap, error) {
	return ParseRegisterMap(defaultRegisterMap)
}

// LoadRegisterMap reads a YAML register map from path.
func LoadRegisterMap(path string) (RegisterMap, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return RegisterMap{}, fmt.Errorf("read register map: %w", err)
	}
	return ParseRegisterMap(b)
}

func ParseRegisterMap(b []byte) (RegisterMap, error) {
	var m RegisterMap
	if err := yaml.Unmarshal(b, &m); err != nil {
		return RegisterMap{}, fmt.Errorf("parse register map: %w", err)
	}
	if err := m.validate(); err != nil {
		return RegisterMap{}, err
	}
	return m, nil
}

func (m RegisterMap) validate() error {
	if len(m.Groups) == 0 {
		return fmt.Errorf("register map has no groups")
	}
	groups := m.Groups
	if m.Auxiliary != nil {
		groups = append(groups[:len(groups):len(groups)], *m.Auxiliary)
	}
	for _, g := range groups {
		if len(g.Registers) == 0 {
			return fmt.Errorf("register group %q is empty", g.Name)
		}
		seen := make(map[string]bool, len(g.Registers))
		for _, r := range g.Registers {
			if r.Name == "" {
				return fmt.Errorf("register group %q: register at 0x%04X has no name", g.Name, r.Address)
			}
			if seen[r.Name] {
				return fmt.Errorf("register group %q: duplicate register %q", g.Name, r.Name)
			}
			seen[r.Name] = true
			if r.words() == 0 {
				return fmt.Errorf("register %q: unknown type %q", r.Name, r.Type)
			}
			if int(r.Address)+int(r.words()) > 0x10000 {
				return fmt.Errorf("register %q: %s at 0x%04X runs past the address space", r.Name, r.Type, r.Address)
			}
		}
	}
	return nil
}

func (r Register) words() uint16 {
	switch r.Type {
	case "", "uint16", "int16":
		return 1
	case "uint32", "int32":
		return 2
	default:
		return 0
	}
}

// decode turns the register's words into a leaf value.
func (r Register) decode(b []byte) any {
	var raw int64
	switch r.Type {
	case "int16":
		raw = int64(int16(binary.BigEndian.Uint16(b)))
	case "uint32":
		raw = int64(binary.BigEndian.Uint32(b))
	case "int32":
		raw = int64(int32(binary.BigEndian.Uint32(b)))
	default:
		raw = int64(binary.BigEndian.Uint16(b))
	}

	if len(r.Enum) > 0 {
		if label, ok := r.Enum[int(raw)]; ok {
			return label
		}
		// Keep enum fields textual so the column never changes kind.
		return fmt.Sprintf("unknown_%d", raw)
	}
	if r.Scale != 0 && r.Scale != 1 {
		return float64(raw) * r.Scale
	}
	return raw
}

// registerReader is the part of modbus.Client the decoder needs.
type registerReader interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
}

// readGroup reads every register of g. Registers that fit in one request
// span are fetched together.
func readGroup(rd registerReader, g RegisterGroup) ([]telemetry.Node, error) {
	lo, hi := g.Registers[0].Address, g.Registers[0].Address+g.Registers[0].words()
	for _, r := range g.Registers[1:] {
		lo = min(lo, r.Address)
		hi = max(hi, r.Address+r.words())
	}

	leaves := make([]telemetry.Node, 0, len(g.Registers))
	if hi-lo <= maxReadQuantity {
		block, err := rd.ReadHoldingRegisters(lo, hi-lo)
		if err != nil {
			return nil, fmt.Errorf("read 0x%04X+%d: %w", lo, hi-lo, err)
		}
		if len(block) < int(hi-lo)*2 {
			return nil, fmt.Errorf("read 0x%04X+%d: short response of %d bytes", lo, hi-lo, len(block))
		}
		for _, r := range g.Registers {
			off := int(r.Address-lo) * 2
			leaves = append(leaves, telemetry.Leaf(r.Name, r.decode(block[off:off+int(r.words())*2])))
		}
		return leaves, nil
	}

	for _, r := range g.Registers {
		b, err := rd.ReadHoldingRegisters(r.Address, r.words())
		if err != nil {
			return nil, fmt.Errorf("read %s at 0x%04X: %w", r.Name, r.Address, err)
		}
		if len(b) < int(r.words())*2 {
			return nil, fmt.Errorf("read %s at 0x%04X: short response of %d bytes", r.Name, r.Address, len(b))
		}
		leaves = append(leaves, telemetry.Leaf(r.Name, r.decode(b)))
	}
	return leaves, nil
}

func readGroups(rd registerReader, groups []RegisterGroup) (telemetry.Reading, error) {
	var reading telemetry.Reading
	for _, g := range groups {
		leaves, err := readGroup(rd, g)
		if err != nil {
			return nil, err
		}
		if g.Name == "" {
			reading = append(reading, leaves...)
			continue
		}
		reading = append(reading, telemetry.Group(g.Name, leaves...))
	}
	return reading, nil
}
