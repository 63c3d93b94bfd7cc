// Package seed fills the database with fixture and generated rooms for
// development and testing.
package seed

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed fixtures/rooms.yml
var defaultFixtures embed.FS

// Fixtures is the YAML document describing rooms to create.
type Fixtures struct {
	Rooms []RoomFixture `yaml:"rooms"`
}

// RoomFixture describes one room. The admin is always made a member.
type RoomFixture struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Visibility  string           `yaml:"visibility"`
	Password    string           `yaml:"password"`
	MaxMembers  *int             `yaml:"max_members"`
	Admin       string           `yaml:"admin"`
	Members     []string         `yaml:"members"`
	Messages    []MessageFixture `yaml:"messages"`
}

// MessageFixture is a message posted in a fixture room, oldest first.
type MessageFixture struct {
	Author string `yaml:"author"`
	Text   string `yaml:"text"`
}

// ParseFixtures decodes and validates a fixtures document.
func ParseFixtures(data []byte) (*Fixtures, error) {
	var fx Fixtures
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}
	for i, r := range fx.Rooms {
		if r.Name == "" {
			return nil, fmt.Errorf("room %d: name is required", i)
		}
		if r.Admin == "" {
			return nil, fmt.Errorf("room %q: admin is required", r.Name)
		}
		for _, m := range r.Messages {
			if m.Author == "" || m.Text == "" {
				return nil, fmt.Errorf("room %q: messages need an author and text", r.Name)
			}
		}
	}
	return &fx, nil
}

// LoadFixtures reads fixtures from path, or the built-in set when path is empty.
func LoadFixtures(path string) (*Fixtures, error) {
	var (
		data []byte
		err  error
	)
	if path == "" {
		data, err = defaultFixtures.ReadFile("fixtures/rooms.yml")
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	return ParseFixtures(data)
}
