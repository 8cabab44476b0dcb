package formula

import (
	"testing"

	"gopkg.in/yaml.v3"
)

type benchOrder struct {
	ID     uint64   `yaml:"id"`
	Price  float64  `yaml:"price"`
	Paid   bool     `yaml:"paid"`
	Note   string   `yaml:"note"`
	Lines  []line   `yaml:"lines"`
	Labels []string `yaml:"labels"`
}

func sampleOrder() benchOrder {
	return benchOrder{
		ID: 1547544565, Price: 165.63, Paid: true, Note: "azerty hello world",
		Lines:  []line{{SKU: 100, Qty: 2}, {SKU: 250, Qty: 3}, {SKU: 300, Qty: -1}},
		Labels: []string{"azerty", "hello", "world", "random"},
	}
}

func BenchmarkWritePair(b *testing.B) {
	cfg := DefaultConfig()
	buf := make([]byte, 3)
	v := pair{A: 7, B: 300}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = Write(cfg, &v, pairFormula, buf)
	}
}

func BenchmarkWriteOrder(b *testing.B) {
	cfg := DefaultConfig()
	o := sampleOrder()
	n, _ := SizeOf(cfg, &o, orderFormula)
	buf := make([]byte, n)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = Write(cfg, &o, orderFormula, buf)
	}
}

func BenchmarkEncoderOrder(b *testing.B) {
	e := NewEncoder(DefaultConfig(), 256)
	o := sampleOrder()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = e.Encode(&o, orderFormula)
	}
}

func BenchmarkReadOrder(b *testing.B) {
	cfg := DefaultConfig()
	o := sampleOrder()
	data, _ := Encode(cfg, o, orderFormula)
	var out benchOrder
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = Read(cfg, data, orderFormula, &out)
	}
}

func BenchmarkReadOrderUnsafeStrings(b *testing.B) {
	cfg := DefaultConfig()
	cfg.UnsafeStrings = true
	o := sampleOrder()
	data, _ := Encode(cfg, o, orderFormula)
	var out benchOrder
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = Read(cfg, data, orderFormula, &out)
	}
}

func BenchmarkViewSum(b *testing.B) {
	cfg := DefaultConfig()
	vals := make([]uint32, 1024)
	for i := range vals {
		vals[i] = uint32(i)
	}
	data, _ := Encode(cfg, vals, Slice(U32))
	v := ReadLazy[uint32](cfg, data, Slice(U32))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		c := *v
		var sum uint32
		for {
			x, ok, _ := c.Next()
			if !ok {
				break
			}
			sum += x
		}
		_ = sum
	}
}

func BenchmarkYAMLOrder(b *testing.B) {
	o := sampleOrder()
	var out benchOrder
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		data, _ := yaml.Marshal(o)
		_ = yaml.Unmarshal(data, &out)
	}
}
