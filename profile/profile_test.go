package profile_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	functionfs "github.com/vpelletier/go-functionfs"
	"github.com/vpelletier/go-functionfs/profile"
	"github.com/vpelletier/go-functionfs/usb"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const yamlProfile = `
name: loopback
interface:
  class: 0xff
  endpoints:
    - direction: in
      transfer: bulk
    - direction: out
      transfer: bulk
`

const tomlProfile = `
name = "loopback"

[interface]
class = 255

[[interface.endpoints]]
direction = "in"
transfer = "bulk"

[[interface.endpoints]]
direction = "out"
transfer = "bulk"
`

const jsonProfile = `{
  "name": "loopback",
  "interface": {
    "class": 255,
    "endpoints": [
      {"direction": "in", "transfer": "bulk"},
      {"direction": "out", "transfer": "bulk"}
    ]
  }
}`

func TestLoadFormats(t *testing.T) {
	cases := []struct {
		file    string
		content string
	}{
		{"profile.yaml", yamlProfile},
		{"profile.toml", tomlProfile},
		{"profile.json", jsonProfile},
	}
	for _, tc := range cases {
		t.Run(tc.file, func(t *testing.T) {
			p, err := profile.Load(writeFile(t, tc.file, tc.content))
			require.NoError(t, err)
			assert.Equal(t, "loopback", p.Name)
			assert.Equal(t, uint8(0xff), p.Interface.Class)
			require.Len(t, p.Interface.Endpoints, 2)
			assert.Equal(t, "in", p.Interface.Endpoints[0].Direction)
			assert.Equal(t, "out", p.Interface.Endpoints[1].Direction)
		})
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	_, err := profile.Load(writeFile(t, "profile.ini", "name=x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file extension")
}

func TestLoadInvalidProfile(t *testing.T) {
	cases := []struct {
		name    string
		content string
		reason  string
	}{
		{
			name:    "no endpoints",
			content: "name: empty\ninterface:\n  class: 0xff\n",
			reason:  "no endpoints",
		},
		{
			name:    "bad direction",
			content: "interface:\n  endpoints:\n    - direction: sideways\n",
			reason:  "direction must be",
		},
		{
			name:    "bad transfer",
			content: "interface:\n  endpoints:\n    - direction: in\n      transfer: warp\n",
			reason:  "transfer must be",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := profile.Load(writeFile(t, "p.yaml", tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.reason)
		})
	}
}

func TestBuild(t *testing.T) {
	p, err := profile.Load(writeFile(t, "profile.yaml", yamlProfile))
	require.NoError(t, err)

	desc, table, err := p.Build()
	require.NoError(t, err)

	assert.Equal(t, []uint8{0x81, 0x02}, desc.EndpointAddrs())
	require.Len(t, desc.FS, 3)
	iface := desc.FS[0].(usb.InterfaceDescriptor)
	assert.Equal(t, uint8(0xff), iface.BInterfaceClass)
	assert.Equal(t, uint8(1), iface.IInterface)

	require.Len(t, table, 1)
	assert.Equal(t, uint16(0x0409), table[0].ID)
	assert.Equal(t, []string{"loopback"}, table[0].Strings)

	// The produced configuration is accepted by the descriptor codec.
	_, err = desc.MarshalBinary(functionfs.FormatV2)
	assert.NoError(t, err)
}

func TestBuildAnonymous(t *testing.T) {
	p := &profile.Profile{Interface: profile.Interface{
		Endpoints: []profile.Endpoint{{Direction: "in", Transfer: "interrupt", Interval: 8}},
	}}
	desc, table, err := p.Build()
	require.NoError(t, err)
	iface := desc.FS[0].(usb.InterfaceDescriptor)
	assert.Equal(t, uint8(0), iface.IInterface)
	assert.Equal(t, 0, table.Count())
}
