// Package profile loads declarative USB function descriptions from YAML,
// TOML or JSON files and turns them into functionfs descriptor sets. A
// profile declares one interface with its endpoints; packet sizes are
// expanded per speed, so one profile serves full-, high- and super-speed
// hosts alike.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"

	functionfs "github.com/vpelletier/go-functionfs"
	"github.com/vpelletier/go-functionfs/usb"
)

// Profile is one declarative function description.
type Profile struct {
	// Name becomes string descriptor index 1, referenced as iInterface.
	Name string `yaml:"name" toml:"name" json:"name"`
	// Lang is the string table language; 0 means en-US (0x0409).
	Lang      uint16    `yaml:"lang" toml:"lang" json:"lang"`
	Interface Interface `yaml:"interface" toml:"interface" json:"interface"`
}

// Interface declares the single interface of the function.
type Interface struct {
	Class    uint8 `yaml:"class" toml:"class" json:"class"`
	SubClass uint8 `yaml:"subclass" toml:"subclass" json:"subclass"`
	Protocol uint8 `yaml:"protocol" toml:"protocol" json:"protocol"`

	Endpoints []Endpoint `yaml:"endpoints" toml:"endpoints" json:"endpoints"`
}

// Endpoint declares one data endpoint. Addresses are assigned from the
// declaration order.
type Endpoint struct {
	// Direction is "in" (device-to-host) or "out".
	Direction string `yaml:"direction" toml:"direction" json:"direction"`
	// Transfer is "bulk", "interrupt" or "isochronous"; empty means bulk.
	Transfer string `yaml:"transfer" toml:"transfer" json:"transfer"`
	// MaxPacket overrides the per-speed default wMaxPacketSize when
	// non-zero. Values above a speed's maximum are clamped.
	MaxPacket uint16 `yaml:"max_packet" toml:"max_packet" json:"max_packet"`
	// Interval is bInterval, for interrupt and isochronous endpoints.
	Interval uint8 `yaml:"interval" toml:"interval" json:"interval"`
	// MaxBurst is the super-speed companion bMaxBurst.
	MaxBurst uint8 `yaml:"max_burst" toml:"max_burst" json:"max_burst"`
}

const defaultLang = 0x0409

// Load reads a profile file, choosing the decoder from the extension:
// .yaml/.yml, .toml, or .json.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Profile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &p)
	case ".toml":
		err = toml.Unmarshal(data, &p)
	case ".json":
		err = json.Unmarshal(data, &p)
	default:
		return nil, fmt.Errorf("profile: unsupported file extension %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("profile: %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("profile: %s: %w", path, err)
	}
	return &p, nil
}

// Validate checks the profile for contradictions before descriptor
// expansion.
func (p *Profile) Validate() error {
	if len(p.Interface.Endpoints) == 0 {
		return fmt.Errorf("interface declares no endpoints")
	}
	if len(p.Interface.Endpoints) > int(usb.EndpointNumberMask) {
		return fmt.Errorf("interface declares %d endpoints, at most %d fit",
			len(p.Interface.Endpoints), usb.EndpointNumberMask)
	}
	for i, ep := range p.Interface.Endpoints {
		if _, err := ep.direction(); err != nil {
			return fmt.Errorf("endpoint %d: %w", i, err)
		}
		if _, err := ep.transferType(); err != nil {
			return fmt.Errorf("endpoint %d: %w", i, err)
		}
	}
	return nil
}

func (e *Endpoint) direction() (uint8, error) {
	switch strings.ToLower(e.Direction) {
	case "in":
		return usb.DirIn, nil
	case "out":
		return usb.DirOut, nil
	}
	return 0, fmt.Errorf("direction must be \"in\" or \"out\", got %q", e.Direction)
}

func (e *Endpoint) transferType() (uint8, error) {
	switch strings.ToLower(e.Transfer) {
	case "bulk", "":
		return usb.EndpointXferBulk, nil
	case "interrupt":
		return usb.EndpointXferInt, nil
	case "isochronous", "isoc":
		return usb.EndpointXferIsoc, nil
	}
	return 0, fmt.Errorf("transfer must be bulk, interrupt or isochronous, got %q", e.Transfer)
}

// Build expands the profile into a descriptor set and its string table.
func (p *Profile) Build() (*functionfs.Desc, functionfs.StringTable, error) {
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}
	var iInterface uint8
	var strs []string
	if p.Name != "" {
		strs = append(strs, p.Name)
		iInterface = 1
	}
	templates := make([]functionfs.EndpointTemplate, 0, len(p.Interface.Endpoints))
	for _, ep := range p.Interface.Endpoints {
		dir, _ := ep.direction()
		xfer, _ := ep.transferType()
		templates = append(templates, functionfs.EndpointTemplate{
			Desc: usb.EndpointDescriptorNoAudio{
				BEndpointAddress: dir,
				BMAttributes:     xfer,
				WMaxPacketSize:   ep.MaxPacket,
				BInterval:        ep.Interval,
			},
			Companion: usb.SSEndpointCompanionDescriptor{
				BMaxBurst: ep.MaxBurst,
			},
		})
	}
	desc := functionfs.InterfaceAllSpeeds(usb.InterfaceDescriptor{
		BInterfaceClass:    p.Interface.Class,
		BInterfaceSubClass: p.Interface.SubClass,
		BInterfaceProtocol: p.Interface.Protocol,
		IInterface:         iInterface,
	}, nil, templates)

	lang := p.Lang
	if lang == 0 {
		lang = defaultLang
	}
	return desc, functionfs.Strings(lang, strs...), nil
}
