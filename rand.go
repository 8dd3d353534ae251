package rat

import "math/rand"

type defaultRandSource struct{}

func (defaultRandSource) Intn(n int) int { return rand.Intn(n) }

// randomStreamID returns a uniform value in [1, MaxStreamID], the stream
// identifier the responder allocates in Accept and returns in its HLO+ACK.
func (s *Socket) randomStreamID() uint16 {
	return uint16(1 + s.rand.Intn(MaxStreamID))
}
