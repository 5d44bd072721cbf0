package voting

import (
	"github.com/yourusername/votesphere/pkg/address"
	"github.com/yourusername/votesphere/pkg/cache"
	"github.com/yourusername/votesphere/pkg/program"
)

// Cache keys for each query
var (
	KeyCounter        = cache.Key{"counter"}
	KeyRegisterations = cache.Key{"registerations"}
	KeyPolls          = cache.Key{"polls"}
)

// PollKey is the key of one poll
func PollKey(addr address.Address) cache.Key {
	return cache.Key{"poll", addr.String()}
}

// CandidatesKey is the key of a poll's candidate listing
func CandidatesKey(pollAddr address.Address) cache.Key {
	return cache.Key{"candidates", pollAddr.String()}
}

// CandidateKey is the key of one candidate
func CandidateKey(addr address.Address) cache.Key {
	return cache.Key{"candidate", addr.String()}
}

// VoterKey is the key of one voter record
func VoterKey(addr address.Address) cache.Key {
	return cache.Key{"voter", addr.String()}
}

// AffectedKeys lists the cache keys a confirmed operation invalidates,
// given the accounts it touched
func AffectedKeys(kind program.Kind, accounts map[string]address.Address) []cache.Key {
	switch kind {
	case program.KindCreateCounter:
		return []cache.Key{KeyCounter, KeyRegisterations}
	case program.KindCreatePoll:
		return []cache.Key{KeyPolls, KeyCounter}
	case program.KindRegisterCandidate:
		poll := accounts[program.RolePoll]
		return []cache.Key{KeyRegisterations, CandidatesKey(poll), PollKey(poll), KeyPolls}
	case program.KindVote:
		return []cache.Key{
			CandidateKey(accounts[program.RoleCandidate]),
			CandidatesKey(accounts[program.RolePoll]),
			VoterKey(accounts[program.RoleVoter]),
		}
	default:
		return nil
	}
}
