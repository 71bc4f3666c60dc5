package budget

import (
	"fmt"
	"testing"
)

func BenchmarkEstimateTokens(b *testing.B) {
	inputs := []int{64, 256, 1024, 4096, 16384, 65536}
	for _, n := range inputs {
		b.Run(fmt.Sprintf("chars=%d", n), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				_ = EstimateTokensFromChars(n)
			}
		})
	}
}

func BenchmarkRemainingContext(b *testing.B) {
	cases := []struct {
		name   string
		model  string
		prompt int
		out    int
	}{
		{"triage: gpt-4o-mini 128k, bounded 4k prompt", "gpt-4o-mini", 4_000, 256},
		{"casebuild: gpt-4o-mini 128k, bounded 8k prompt", "gpt-4o-mini", 8_000, 1_024},
		{"unmonitored model, default 8k context", "mystery-model", 4_000, 1_000},
	}
	for _, cs := range cases {
		b.Run(cs.name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				_ = RemainingContextWithHeadroom(cs.model, cs.out, cs.prompt)
			}
		})
	}
}
