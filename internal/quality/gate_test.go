package quality

import (
	"strings"
	"testing"

	"github.com/jackzampolin/enrich/internal/types"
)

var goodExplanation = "The question tests the definition of a prime number. " +
	"A prime has exactly two distinct divisors. " +
	"Two and five satisfy that rule while four is divisible by two."

func mcItem() types.Item {
	return types.Item{
		ID:      "q1",
		Content: "Which are prime?",
		Options: []types.Option{{Label: "A", Text: "2"}, {Label: "B", Text: "4"}, {Label: "C", Text: "5"}},
	}
}

func TestCheck(t *testing.T) {
	full := func() *types.Payload {
		return &types.Payload{
			ID:          "q1",
			Answer:      "A,C",
			Explanation: goodExplanation,
			OptionExplanations: []types.OptionExplanation{
				{Label: "A", Text: "Two is prime."},
				{Label: "B", Text: "Four is composite."},
				{Label: "C", Text: "Five is prime."},
			},
		}
	}

	t.Run("accepted", func(t *testing.T) {
		v := Check(mcItem(), full())
		if !v.Accepted() {
			t.Errorf("verdict = %+v, want accepted", v)
		}
	})

	t.Run("nil payload", func(t *testing.T) {
		if v := Check(mcItem(), nil); !v.Whole {
			t.Errorf("verdict = %+v, want whole fallback", v)
		}
	})

	t.Run("empty answer", func(t *testing.T) {
		p := full()
		p.Answer = "  "
		if v := Check(mcItem(), p); !v.Whole {
			t.Errorf("verdict = %+v, want whole fallback", v)
		}
	})

	t.Run("answer names no option", func(t *testing.T) {
		p := full()
		p.Answer = "E"
		if v := Check(mcItem(), p); !v.Whole {
			t.Errorf("verdict = %+v, want whole fallback", v)
		}
	})

	t.Run("short explanation only", func(t *testing.T) {
		p := full()
		p.Explanation = "Because two and five are prime numbers." // 40 chars, one period
		v := Check(mcItem(), p)
		if v.Whole {
			t.Error("short explanation must not trigger whole fallback")
		}
		if !v.Explanation {
			t.Error("expected explanation fallback")
		}
		if len(v.Options) != 0 {
			t.Errorf("Options = %v, want none", v.Options)
		}
	})

	t.Run("empty option explanation", func(t *testing.T) {
		p := full()
		p.OptionExplanations[1].Text = ""
		p.OptionExplanations = p.OptionExplanations[:2]
		v := Check(mcItem(), p)
		if v.Whole || v.Explanation {
			t.Errorf("verdict = %+v, want option fallback only", v)
		}
		if strings.Join(v.Options, "") != "BC" {
			t.Errorf("Options = %v, want [B C]", v.Options)
		}
	})

	t.Run("free response", func(t *testing.T) {
		item := types.Item{ID: "f1", Kind: types.KindFreeResponse, Content: "Explain gravity."}
		if v := Check(item, &types.Payload{ID: "f1", Answer: "Mass attracts mass.", Explanation: goodExplanation}); !v.Accepted() {
			t.Errorf("verdict = %+v, want accepted", v)
		}
		if v := Check(item, &types.Payload{ID: "f1", Explanation: goodExplanation}); !v.Whole {
			t.Errorf("verdict = %+v, want whole fallback", v)
		}
	})

	t.Run("pure", func(t *testing.T) {
		p := full()
		p.Explanation = "short"
		a, b := Check(mcItem(), p), Check(mcItem(), p)
		if a.Explanation != b.Explanation || a.Whole != b.Whole || len(a.Options) != len(b.Options) {
			t.Error("Check is not deterministic")
		}
		if p.Explanation != "short" {
			t.Error("Check mutated the payload")
		}
	})
}

func TestExplanationSufficient(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"empty", "", false},
		{"forty chars one period", "Because two and five are prime numbers.", false},
		{"three sentences", goodExplanation, true},
		{"long but one sentence", strings.Repeat("word ", 40) + ".", false},
		{"four lines no marks", strings.Repeat("a line of reasoning about the topic\n", 4), true},
		{"blank lines do not count", strings.Repeat("a line of reasoning about the topic at hand\n\n\n", 3), false},
		{"full-width marks", strings.Repeat("这是一个关于质数定义的详细解释内容", 8) + "。对。对！对？", true},
		{"padding does not count", "   " + strings.Repeat("x", 116) + "...   ", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExplanationSufficient(tt.in); got != tt.want {
				t.Errorf("ExplanationSufficient() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanonicalAnswer(t *testing.T) {
	labels := []string{"A", "B", "C", "D"}
	tests := []struct {
		in   string
		want string
	}{
		{"A,C", "AC"},
		{"CA", "AC"},
		{"a c", "AC"},
		{"C, A, C", "AC"},
		{"B", "B"},
		{"Answer: B", "B"},
		{"(d)", "D"},
		{"E", ""},
		{"", ""},
		{"none", ""},
		{"A and C", "AC"},
		{"Correct answers: b, d", "BD"},
		{"B because A is wrong", ""},
		{"I think C", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := CanonicalAnswer(tt.in, labels); got != tt.want {
				t.Errorf("CanonicalAnswer(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	t.Run("multi-rune labels", func(t *testing.T) {
		if got := CanonicalAnswer("opt2 opt1", []string{"opt1", "opt2"}); got != "OPT1,OPT2" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("no labels", func(t *testing.T) {
		if got := CanonicalAnswer("A", nil); got != "" {
			t.Errorf("got %q, want empty", got)
		}
	})
}
