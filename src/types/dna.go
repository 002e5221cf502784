package types

import (
	"fmt"
	"io/ioutil"
	"strings"
	"time"

	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"gopkg.in/yaml.v3"
)

// EntryDef declares an app entry type within a zome.
type EntryDef struct {
	Name       string     `codec:"name"`
	Visibility Visibility `codec:"visibility"`
}

// ZomeDef declares the entry and link types of one zome.
type ZomeDef struct {
	Name      string     `codec:"name"`
	EntryDefs []EntryDef `codec:"entry_defs"`
	LinkTypes []string   `codec:"link_types"`
}

// DnaDef is the hashed definition of a DNA. Two DNAs with the same zomes but
// a different network seed or properties are different networks.
type DnaDef struct {
	Name        string            `codec:"name"`
	NetworkSeed string            `codec:"network_seed"`
	Properties  map[string]string `codec:"properties"`
	OriginTime  Timestamp         `codec:"origin_time"`
	Zomes       []ZomeDef         `codec:"zomes"`
}

// Hash returns the DnaHash.
func (d *DnaDef) Hash() hh.DnaHash {
	return hh.HashContent(hh.Dna, MustEncode(d))
}

// ZomeIndex returns the index of the named zome.
func (d *DnaDef) ZomeIndex(name string) (uint8, bool) {
	for i, z := range d.Zomes {
		if z.Name == name {
			return uint8(i), true
		}
	}
	return 0, false
}

// EntryType resolves a named entry def of a zome.
func (d *DnaDef) EntryType(zome, entry string) (EntryType, error) {
	zi, ok := d.ZomeIndex(zome)
	if !ok {
		return EntryType{}, fmt.Errorf("unknown zome %q", zome)
	}
	for i, def := range d.Zomes[zi].EntryDefs {
		if def.Name == entry {
			return AppEntryType(zi, uint8(i), def.Visibility), nil
		}
	}
	return EntryType{}, fmt.Errorf("unknown entry def %q in zome %q", entry, zome)
}

// LinkType resolves a named link type of a zome.
func (d *DnaDef) LinkType(zome, link string) (uint8, uint8, error) {
	zi, ok := d.ZomeIndex(zome)
	if !ok {
		return 0, 0, fmt.Errorf("unknown zome %q", zome)
	}
	for i, name := range d.Zomes[zi].LinkTypes {
		if name == link {
			return zi, uint8(i), nil
		}
	}
	return 0, 0, fmt.Errorf("unknown link type %q in zome %q", link, zome)
}

// CheckEntryType verifies that an app entry type exists and that the declared
// visibility matches the definition.
func (d *DnaDef) CheckEntryType(t EntryType) error {
	if t.Kind != EntryApp {
		return nil
	}
	if int(t.ZomeIndex) >= len(d.Zomes) {
		return fmt.Errorf("zome index %d out of range", t.ZomeIndex)
	}
	defs := d.Zomes[t.ZomeIndex].EntryDefs
	if int(t.EntryIndex) >= len(defs) {
		return fmt.Errorf("entry index %d out of range in zome %d", t.EntryIndex, t.ZomeIndex)
	}
	if defs[t.EntryIndex].Visibility != t.Visibility {
		return fmt.Errorf("entry type visibility does not match its definition")
	}
	return nil
}

// CheckLinkType verifies that a link type exists in a zome.
func (d *DnaDef) CheckLinkType(zome, link uint8) error {
	if int(zome) >= len(d.Zomes) {
		return fmt.Errorf("zome index %d out of range", zome)
	}
	if int(link) >= len(d.Zomes[zome].LinkTypes) {
		return fmt.Errorf("link type %d out of range in zome %d", link, zome)
	}
	return nil
}

/*******************************************************************************
Manifest
*******************************************************************************/

// DnaManifest is the yaml form of a DnaDef.
type DnaManifest struct {
	ManifestVersion string            `yaml:"manifest_version"`
	Name            string            `yaml:"name"`
	NetworkSeed     string            `yaml:"network_seed"`
	Properties      map[string]string `yaml:"properties"`
	OriginTime      time.Time         `yaml:"origin_time"`
	Zomes           []ZomeManifest    `yaml:"zomes"`
}

// ZomeManifest is the yaml form of a ZomeDef.
type ZomeManifest struct {
	Name      string          `yaml:"name"`
	EntryDefs []EntryManifest `yaml:"entry_defs"`
	LinkTypes []string        `yaml:"link_types"`
}

// EntryManifest is the yaml form of an EntryDef.
type EntryManifest struct {
	Name       string `yaml:"name"`
	Visibility string `yaml:"visibility"`
}

// ParseDnaManifest reads a yaml manifest.
func ParseDnaManifest(data []byte) (*DnaDef, error) {
	var m DnaManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m.DnaDef()
}

// LoadDnaManifest reads a yaml manifest from a file.
func LoadDnaManifest(path string) (*DnaDef, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseDnaManifest(data)
}

// DnaDef converts the manifest.
func (m *DnaManifest) DnaDef() (*DnaDef, error) {
	if m.Name == "" {
		return nil, fmt.Errorf("dna manifest without name")
	}
	def := &DnaDef{
		Name:        m.Name,
		NetworkSeed: m.NetworkSeed,
		Properties:  m.Properties,
		Zomes:       make([]ZomeDef, 0, len(m.Zomes)),
	}
	if !m.OriginTime.IsZero() {
		def.OriginTime = FromTime(m.OriginTime)
	}
	seen := make(map[string]bool)
	for _, z := range m.Zomes {
		if seen[z.Name] {
			return nil, fmt.Errorf("duplicate zome %q", z.Name)
		}
		seen[z.Name] = true
		zd := ZomeDef{Name: z.Name, LinkTypes: z.LinkTypes}
		for _, e := range z.EntryDefs {
			vis := Public
			switch strings.ToLower(e.Visibility) {
			case "", "public":
			case "private":
				vis = Private
			default:
				return nil, fmt.Errorf("unknown visibility %q for entry def %q", e.Visibility, e.Name)
			}
			zd.EntryDefs = append(zd.EntryDefs, EntryDef{Name: e.Name, Visibility: vis})
		}
		def.Zomes = append(def.Zomes, zd)
	}
	if len(def.Zomes) > 255 {
		return nil, fmt.Errorf("too many zomes")
	}
	return def, nil
}
