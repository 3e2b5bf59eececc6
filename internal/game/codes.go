package game

import "strings"

const (
	joinCodeLength   = 6
	joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	joinCodeAttempts = 8
)

func (m *Machine) newJoinCode() string {
	var b strings.Builder
	b.Grow(joinCodeLength)
	for i := 0; i < joinCodeLength; i++ {
		b.WriteByte(joinCodeAlphabet[m.opts.Intn(len(joinCodeAlphabet))])
	}
	return b.String()
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
