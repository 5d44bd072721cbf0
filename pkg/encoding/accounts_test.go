package encoding

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPollRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := &Poll{
			ID:          rapid.Uint64().Draw(t, "id"),
			Description: rapid.StringN(0, 280, -1).Draw(t, "description"),
			Start:       rapid.Uint64().Draw(t, "start"),
			End:         rapid.Uint64().Draw(t, "end"),
			Candidates:  rapid.Uint64().Draw(t, "candidates"),
		}
		data, err := EncodePoll(p)
		require.NoError(t, err)

		// accounts are allocated with fixed space, so trailing zero bytes follow
		padded := append(data, make([]byte, rapid.IntRange(0, 64).Draw(t, "pad"))...)
		got, err := DecodePoll(padded)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	})
}

func TestCandidateRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := &Candidate{
			CID:           rapid.Uint64().Draw(t, "cid"),
			PollID:        rapid.Uint64().Draw(t, "poll"),
			Name:          rapid.StringN(0, 32, -1).Draw(t, "name"),
			Votes:         rapid.Uint64().Draw(t, "votes"),
			HasRegistered: rapid.Bool().Draw(t, "registered"),
		}
		data, err := EncodeCandidate(c)
		require.NoError(t, err)

		got, err := DecodeCandidate(data)
		require.NoError(t, err)
		assert.Equal(t, c, got)

		// the poll id filter offset must point at PollID
		assert.Equal(t, c.PollID, binary.LittleEndian.Uint64(data[CandidatePollIDOffset:]))
	})
}

func TestSingletonAndVoterLayout(t *testing.T) {
	data := EncodeCounter(&Counter{Count: 3})
	require.Len(t, data, 16)
	assert.Equal(t, CounterDiscriminator[:], data[:8])
	assert.Equal(t, uint64(3), binary.LittleEndian.Uint64(data[8:]))

	c, err := DecodeCounter(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), c.Count)

	r, err := DecodeRegisterations(EncodeRegisterations(&Registerations{Count: 10}))
	require.NoError(t, err)
	assert.Equal(t, uint64(10), r.Count)

	v, err := DecodeVoter(EncodeVoter(&Voter{HasVoted: true}))
	require.NoError(t, err)
	assert.True(t, v.HasVoted)
}

func TestDecodeRejectsWrongAccountType(t *testing.T) {
	data := EncodeCounter(&Counter{Count: 1})

	_, err := DecodeRegisterations(data)
	assert.ErrorIs(t, err, ErrDiscriminator)

	_, err = DecodePoll(data)
	assert.ErrorIs(t, err, ErrDiscriminator)
}

func TestDecodeTruncated(t *testing.T) {
	data, err := EncodePoll(&Poll{ID: 1, Description: "lunch", Start: 1, End: 2})
	require.NoError(t, err)

	for _, n := range []int{0, 7, 12, 20, len(data) - 1} {
		_, err := DecodePoll(data[:n])
		assert.Error(t, err, "length %d", n)
	}
}

func TestDecodeGuards(t *testing.T) {
	e := NewEncoder()
	e.WriteDiscriminator(PollDiscriminator)
	e.WriteU64(1)
	e.WriteU32(MaxStringLength + 1)
	_, err := DecodePoll(e.Bytes())
	assert.ErrorIs(t, err, ErrStringTooLong)

	e.Reset()
	e.WriteDiscriminator(VoterDiscriminator)
	e.WriteU8(2)
	_, err = DecodeVoter(e.Bytes())
	assert.ErrorIs(t, err, ErrInvalidBool)

	e.Reset()
	e.WriteDiscriminator(CandidateDiscriminator)
	e.WriteU64(1)
	e.WriteU64(1)
	e.WriteU32(2)
	e.WriteBytes([]byte{0xff, 0xfe})
	_, err = DecodeCandidate(e.Bytes())
	assert.ErrorIs(t, err, ErrInvalidUTF8)

	_, err = EncodePoll(&Poll{Description: string([]byte{0xff})})
	assert.ErrorIs(t, err, ErrInvalidUTF8)
}
