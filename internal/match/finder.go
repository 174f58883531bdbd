// Package match finds compatible language-exchange partners. Compatibility
// is bidirectional: a candidate must natively speak something the caller is
// learning, and be learning something the caller natively speaks. Users who
// already share a connection with the caller, in any lifecycle state, are
// never surfaced again.
package match

import (
	"context"

	"github.com/tandem/lingua-app/internal/apperr"
	"github.com/tandem/lingua-app/internal/user"
)

// Directory is the read-only profile access the finder needs.
type Directory interface {
	Get(ctx context.Context, id string) (*user.User, error)
	ListCandidates(ctx context.Context, excludeIDs []string, nativeAny []string) ([]*user.User, error)
}

// ConnectionIndex reports which users already share a connection with a
// given user, regardless of status.
type ConnectionIndex interface {
	ParticipantIDs(ctx context.Context, userID string) ([]string, error)
}

// Candidate is a compatible partner with the languages flowing each way.
type Candidate struct {
	User *user.User `json:"user"`
	// CanTeachMe is every language the candidate speaks natively that the
	// caller wants to learn. All of them, not a single best pick.
	CanTeachMe []string `json:"can_teach_me"`
	// WantsToLearn is every language the candidate is learning that the
	// caller speaks natively.
	WantsToLearn []string `json:"wants_to_learn"`
}

// Finder produces match candidates for a caller.
type Finder struct {
	users       Directory
	connections ConnectionIndex
}

// NewFinder creates a Finder over the given directory and connection index.
func NewFinder(users Directory, connections ConnectionIndex) *Finder {
	return &Finder{users: users, connections: connections}
}

// Find returns all compatible candidates for userID.
func (f *Finder) Find(ctx context.Context, userID string) ([]*Candidate, error) {
	caller, err := f.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if caller == nil {
		return nil, apperr.NotFound("user not found")
	}

	connected, err := f.connections.ParticipantIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	exclude := append([]string{userID}, connected...)

	learningCodes := caller.LearningCodes()
	if len(learningCodes) == 0 || len(caller.NativeLanguages) == 0 {
		return []*Candidate{}, nil
	}

	// The directory narrows to users whose natives overlap the caller's
	// learning set; the reverse direction is checked here.
	pool, err := f.users.ListCandidates(ctx, exclude, learningCodes)
	if err != nil {
		return nil, err
	}

	candidates := make([]*Candidate, 0, len(pool))
	for _, u := range pool {
		canTeachMe := intersect(u.NativeLanguages, learningCodes)
		wantsToLearn := intersect(u.LearningCodes(), caller.NativeLanguages)
		if len(canTeachMe) == 0 || len(wantsToLearn) == 0 {
			continue
		}
		candidates = append(candidates, &Candidate{
			User:         u,
			CanTeachMe:   canTeachMe,
			WantsToLearn: wantsToLearn,
		})
	}
	return candidates, nil
}

// intersect returns the elements of a that appear in b, preserving a's
// order and dropping duplicates.
func intersect(a, b []string) []string {
	inB := make(map[string]bool, len(b))
	for _, s := range b {
		inB[s] = true
	}
	var out []string
	seen := make(map[string]bool, len(a))
	for _, s := range a {
		if inB[s] && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
