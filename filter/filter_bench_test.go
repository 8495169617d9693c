package filter

import (
	"strings"
	"testing"
)

var benchMessage = []byte("From: test@example.com\r\nTo: user@example.com\r\nSubject: Quarterly report\r\n" +
	"Content-Type: text/plain\r\n\r\n" + strings.Repeat("This message contains important content.\r\n", 64))

func benchmarkEvaluate(b *testing.B, opts Options) {
	f, err := New(opts)
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Evaluate(benchMessage)
	}
}

func BenchmarkEvaluate_NoFilters(b *testing.B) {
	benchmarkEvaluate(b, Options{})
}

func BenchmarkEvaluate_IncludeHeader(b *testing.B) {
	benchmarkEvaluate(b, Options{IncludeHeader: []string{`From:.*@example\.com`}})
}

func BenchmarkEvaluate_ExcludeMultiple(b *testing.B) {
	benchmarkEvaluate(b, Options{
		ExcludeHeader: []string{`From:.*@spam\.com`, `Subject:.*(?i)newsletter`},
		ExcludeBody:   []string{`unsubscribe`},
	})
}

func BenchmarkEvaluate_BodyFilter(b *testing.B) {
	benchmarkEvaluate(b, Options{IncludeBody: []string{"important.*content"}})
}

func BenchmarkSplitRawMessage(b *testing.B) {
	for i := 0; i < b.N; i++ {
		SplitRawMessage(benchMessage)
	}
}
