package stbe

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

type product struct {
	Category string
	SKU      []byte
	Stock    uint16
	Delta    int32
	Active   bool
	Tags     []string
	Prices   map[string]int
	Cache    string `stbe:"-"`
	internal int
}

func TestStructMarshaller_RoundTrip(t *testing.T) {
	m := NewStructMarshaller[product]()
	rows := []product{
		{Category: "/food/fruit", SKU: []byte("F-001"), Stock: 100, Delta: -5, Active: true, Tags: []string{"fresh"}, Prices: map[string]int{"usd": 3}},
		{Category: "/food/fruit", SKU: []byte("F-002"), Stock: 65535, Delta: 7, Tags: []string{"dried", "bulk"}},
		{Category: "/food/vegetables", SKU: []byte{}, Delta: -2147483648, Prices: map[string]int{}},
	}
	withIgnored := rows[0]
	withIgnored.Cache = "dropped"
	withIgnored.internal = 42

	var values []product
	for i := range 60 {
		r := rows[i%len(rows)]
		r.Stock = uint16(i)
		values = append(values, r)
	}
	values = append(values, withIgnored)

	d := openBytes(t, buildBytes(t, m, Options{BlockSize: 128}, values...), m)
	if d.NumBlocks() < 2 {
		t.Fatalf("NumBlocks = %d, wanted several", d.NumBlocks())
	}

	all := readAll(t, d)
	last := len(values) - 1
	deepEqual(t, all[:last], values[:last])
	deepEqual(t, all[last], rows[0])

	for _, i := range []int{59, 3, 31} {
		deepEqual(t, must(d.At(i)), values[i])
	}

	d.Reset()
	ensure(d.Skip(2))
	var r product
	ensure(d.Next(&r))
	deepEqual(t, r, values[2])
}

func TestStructMarshaller_AvgSize(t *testing.T) {
	m := NewStructMarshaller[product]()
	e := 5 * avgVarintSize
	if a := m.AvgSize(); a != e {
		t.Fatalf("AvgSize = %d, wanted %d", a, e)
	}
}

func TestStructMarshaller_Overflow(t *testing.T) {
	type wide struct{ N uint64 }
	type narrow struct{ N uint8 }
	data := buildBytes(t, NewStructMarshaller[wide](), Options{}, wide{N: 300})

	d := openBytes(t, data, NewStructMarshaller[narrow]())
	_, err := d.At(0)
	if err == nil || !strings.Contains(err.Error(), "overflows uint8") {
		t.Fatalf("At(0) err = %v, wanted overflow", err)
	}
}

func TestNewStructMarshaller_Panics(t *testing.T) {
	type hidden struct {
		a string
	}
	tests := []struct {
		name string
		f    func()
	}{
		{"not a struct", func() { NewStructMarshaller[int]() }},
		{"no exported fields", func() { NewStructMarshaller[hidden]() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if e := recover(); e == nil {
					t.Fatalf("did not panic")
				} else if !strings.Contains(fmt.Sprint(e), "struct") && !strings.Contains(fmt.Sprint(e), "exported") {
					t.Fatalf("panic = %v", e)
				}
			}()
			tt.f()
		})
	}
}

func TestStructMarshaller_SnapshotsOnAdd(t *testing.T) {
	type tagged struct {
		Name   string
		Tags   []string
		Prices map[string]int
	}
	m := NewStructMarshaller[tagged]()

	tags := []string{"fresh"}
	prices := map[string]int{"usd": 3}

	var buf bytes.Buffer
	b := NewBuilder(&buf, m, Options{})
	ensure(b.Add(tagged{Name: "apple", Tags: tags, Prices: prices}))
	tags[0] = "rotten"
	prices["usd"] = 99
	prices["eur"] = 1
	ensure(b.Finalize())

	d := openBytes(t, buf.Bytes(), m)
	deepEqual(t, must(d.At(0)), tagged{Name: "apple", Tags: []string{"fresh"}, Prices: map[string]int{"usd": 3}})
}

func TestStructMarshaller_EstimateCountsBlobs(t *testing.T) {
	type blob struct {
		Data []int
	}
	be := NewBlockEncoder(NewStructMarshaller[blob]())
	empty := be.EstimatedSize()
	be.Add(blob{Data: make([]int, 100)})
	if a := be.EstimatedSize() - empty; a < 100 {
		t.Fatalf("EstimatedSize grew by %d, wanted at least 100", a)
	}
}
