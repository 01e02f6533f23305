package voctree

import (
	"bytes"
	"fmt"
	"testing"
)

func benchDocuments(numDocs, perDoc int, wordSpace uint32) [][]Word {
	docs := make([][]Word, numDocs)
	for i := range docs {
		docs[i] = make([]Word, perDoc)
		for j := range docs[i] {
			docs[i][j] = Word(uint32(i*131+j*977) % wordSpace)
		}
	}
	return docs
}

// BenchmarkInsert measures posting-list insertion for documents of varying
// size.
func BenchmarkInsert(b *testing.B) {
	const wordSpace = 100000
	for _, perDoc := range []int{50, 500, 2000} {
		b.Run(fmt.Sprintf("words_%d", perDoc), func(b *testing.B) {
			docs := benchDocuments(1000, perDoc, wordSpace)
			hists := make([]SparseHistogram, len(docs))
			for i, d := range docs {
				hists[i] = ComputeSparseHistogram(d)
			}
			b.ReportAllocs()
			b.ResetTimer()
			var db *Database
			for i := 0; i < b.N; i++ {
				if i%len(hists) == 0 {
					b.StopTimer()
					db = New(wordSpace)
					b.StartTimer()
				}
				if err := db.Insert(DocID(i%len(hists)), hists[i%len(hists)]); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkComputeTfIdfWeights measures a full reweight for growing corpora.
func BenchmarkComputeTfIdfWeights(b *testing.B) {
	for _, numDocs := range []int{1000, 10000} {
		b.Run(fmt.Sprintf("docs_%d", numDocs), func(b *testing.B) {
			db := New(50000)
			for i, d := range benchDocuments(numDocs, 200, 50000) {
				if err := db.Insert(DocID(i), ComputeSparseHistogram(d)); err != nil {
					b.Fatal(err)
				}
			}
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				db.ComputeTfIdfWeights()
			}
		})
	}
}

// BenchmarkSaveLoad measures a snapshot round trip under each codec.
func BenchmarkSaveLoad(b *testing.B) {
	for _, codec := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		b.Run(codec.String(), func(b *testing.B) {
			db := New(50000, WithCompression(codec))
			for i, d := range benchDocuments(2000, 200, 50000) {
				if err := db.Insert(DocID(i), ComputeSparseHistogram(d)); err != nil {
					b.Fatal(err)
				}
			}
			db.ComputeTfIdfWeights()
			var buf bytes.Buffer
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				buf.Reset()
				if err := db.Save(&buf); err != nil {
					b.Fatal(err)
				}
				b.SetBytes(int64(buf.Len()))
				if err := NewEmpty().Load(bytes.NewReader(buf.Bytes())); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
