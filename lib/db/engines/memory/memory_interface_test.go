package memory

import (
	"testing"

	"github.com/ValentinKolb/dDoc/lib/db"
	dbtesting "github.com/ValentinKolb/dDoc/lib/db/testing"
)

func Test(t *testing.T) {
	dbtesting.RunCollectionTests(t, "Memory", func() db.Collection {
		return New("test", "suite")
	})
}

func Benchmark(b *testing.B) {
	dbtesting.RunCollectionBenchmarks(b, "Memory", func() db.Collection {
		return New("test", "bench")
	})
}
