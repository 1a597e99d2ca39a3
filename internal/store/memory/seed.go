package memory

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Tyrowin/roomrelay/internal/store"
)

// Seed describes fixture data for a development gateway.
//
//	users:
//	  - {id: 1, name: Ann, email: ann@example.com}
//	rooms:
//	  10: [1, 2]
type Seed struct {
	Users []store.User      `yaml:"users"`
	Rooms map[int64][]int64 `yaml:"rooms"`
}

// Apply loads the seed into g.
func (s Seed) Apply(g *Gateway) {
	for _, u := range s.Users {
		g.AddUser(u)
	}
	for roomID, userIDs := range s.Rooms {
		for _, userID := range userIDs {
			g.AddMember(roomID, userID)
		}
	}
}

// DecodeSeed reads a YAML seed document.
func DecodeSeed(r io.Reader) (Seed, error) {
	var seed Seed
	if err := yaml.NewDecoder(r).Decode(&seed); err != nil && err != io.EOF {
		return Seed{}, fmt.Errorf("failed to decode seed: %w", err)
	}
	return seed, nil
}

// LoadSeedFile creates a gateway populated from the YAML file at path.
func LoadSeedFile(path string) (*Gateway, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()

	seed, err := DecodeSeed(f)
	if err != nil {
		return nil, err
	}

	g := New()
	seed.Apply(g)
	return g, nil
}
