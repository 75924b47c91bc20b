package stats

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func ms(v ...int) []time.Duration {
	out := make([]time.Duration, len(v))
	for i, x := range v {
		out[i] = time.Duration(x) * time.Millisecond
	}
	return out
}

func TestSummarize(t *testing.T) {
	hundred := make([]int, 100)
	for i := range hundred {
		hundred[i] = 100 - i // 100..1, unsorted
	}

	tests := []struct {
		name string
		in   []time.Duration
		want Summary
	}{
		{"single", ms(7), Summary{N: 1, Avg: 7 * time.Millisecond, P50: 7 * time.Millisecond, P95: 7 * time.Millisecond, P99: 7 * time.Millisecond, Max: 7 * time.Millisecond}},
		{"four", ms(40, 10, 30, 20), Summary{N: 4, Avg: 25 * time.Millisecond, P50: 20 * time.Millisecond, P95: 40 * time.Millisecond, P99: 40 * time.Millisecond, Max: 40 * time.Millisecond}},
		{"hundred", ms(hundred...), Summary{N: 100, Avg: 50500 * time.Microsecond, P50: 50 * time.Millisecond, P95: 95 * time.Millisecond, P99: 99 * time.Millisecond, Max: 100 * time.Millisecond}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Summarize(tt.in)
			if !ok {
				t.Fatal("expected a summary")
			}
			if got != tt.want {
				t.Errorf("Summarize = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSummarize_EmptyAndInputUntouched(t *testing.T) {
	if _, ok := Summarize(nil); ok {
		t.Fatal("empty series must not summarize")
	}

	in := ms(3, 1, 2)
	Summarize(in)
	if in[0] != 3*time.Millisecond {
		t.Fatal("Summarize must not reorder its input")
	}
}

func TestWriteReport(t *testing.T) {
	c := NewCollector()
	c.AddConnect(2*time.Millisecond, 3*time.Millisecond)
	c.AddConnect(4*time.Millisecond, 0)
	c.AddMatch(10 * time.Millisecond)
	c.AddError()

	var buf bytes.Buffer
	c.WriteReport(&buf)
	out := buf.String()

	for _, want := range []string{"connections  2", "sessions     1", "errors       1", "error rate   33.33%", "connect      avg=3ms", "identify     avg=3ms", "match        avg=10ms"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "message ") {
		t.Errorf("empty message series should be omitted:\n%s", out)
	}
}
