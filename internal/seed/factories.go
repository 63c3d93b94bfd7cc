package seed

import (
	"context"
	"fmt"
	"strings"

	"github.com/brianvoe/gofakeit/v6"
)

// RandomFixtures builds rooms rooms with generated users and chatter. The
// same seed always produces the same fixtures.
func RandomFixtures(seed int64, rooms, messagesPerRoom int) *Fixtures {
	faker := gofakeit.New(seed)

	users := make([]string, 0, rooms*3)
	for i := 0; i < rooms*3; i++ {
		users = append(users, fmt.Sprintf("%s-%d", strings.ToLower(faker.Username()), i))
	}

	fx := &Fixtures{Rooms: make([]RoomFixture, 0, rooms)}
	for i := 0; i < rooms; i++ {
		members := []string{users[i*3], users[i*3+1], users[i*3+2]}
		rf := RoomFixture{
			Name:        fmt.Sprintf("%s %d", faker.HipsterWord(), i),
			Description: faker.Sentence(8),
			Admin:       members[0],
			Members:     members,
		}
		if faker.Bool() {
			rf.Visibility = "private"
			rf.Password = faker.Password(true, true, true, false, false, 10)
		}
		for j := 0; j < messagesPerRoom; j++ {
			rf.Messages = append(rf.Messages, MessageFixture{
				Author: members[faker.Number(0, len(members)-1)],
				Text:   faker.HackerPhrase(),
			})
		}
		fx.Rooms = append(fx.Rooms, rf)
	}
	return fx
}

// SeedRandom generates and applies random fixtures.
func (s *Seeder) SeedRandom(ctx context.Context, seed int64, rooms, messagesPerRoom int) (int, error) {
	created, err := s.ApplyFixtures(ctx, RandomFixtures(seed, rooms, messagesPerRoom))
	return len(created), err
}
