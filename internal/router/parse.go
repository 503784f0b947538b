package router

import (
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"

	"github.com/buildkite/shellwords"
)

var ridSeq atomic.Uint64

func newReqID() string {
	n := ridSeq.Add(1)
	// short-ish: base36 timestamp + seq + 2 random chars
	return base36(time.Now().UnixNano()) + "-" + base36(int64(n)) + randSuffix(2)
}

func randSuffix(n int) string {
	const alpha = "abcdefghijklmnopqrstuvwxyz0123456789"
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(alpha[rand.IntN(len(alpha))])
	}
	return b.String()
}

func base36(v int64) string {
	const chars = "0123456789abcdefghijklmnopqrstuvwxyz"
	if v < 0 {
		v = -v
	}
	if v == 0 {
		return "0"
	}
	var out [32]byte
	i := len(out)
	for v > 0 {
		i--
		out[i] = chars[v%36]
		v /= 36
	}
	return string(out[i:])
}

// tokenize splits a command line with POSIX quoting (`/roll "d 6"` stays one token).
// Unbalanced quotes fall back to plain whitespace splitting.
func tokenize(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts, err := shellwords.SplitPosix(s)
	if err != nil {
		return strings.Fields(s)
	}
	return parts
}

// splitCommand returns the lower-cased command word and its arguments.
// The leading "/" is optional.
func splitCommand(text string) (string, []string) {
	parts := tokenize(text)
	if len(parts) == 0 {
		return "", nil
	}
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	return word, parts[1:]
}
