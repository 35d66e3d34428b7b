package stbe

import (
	"bytes"
	"fmt"
	"reflect"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

type fieldKind int

const (
	fieldString fieldKind = iota
	fieldBytes
	fieldUint
	fieldInt
	fieldBool
	fieldMsgPack
)

type structField struct {
	name  string
	index []int
	kind  fieldKind
}

type structInfo struct {
	typ     reflect.Type
	fields  []structField
	avgSize int
}

var structInfoCache sync.Map

func reflectStruct(typ reflect.Type) *structInfo {
	if v, ok := structInfoCache.Load(typ); ok {
		return v.(*structInfo)
	}
	info := reflectStructWithoutCache(typ)
	actual, _ := structInfoCache.LoadOrStore(typ, info)
	return actual.(*structInfo)
}

func reflectStructWithoutCache(typ reflect.Type) *structInfo {
	if typ.Kind() != reflect.Struct {
		panic(fmt.Errorf("%v not a struct", typ))
	}
	info := &structInfo{typ: typ}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if !f.IsExported() || f.Tag.Get("stbe") == "-" {
			continue
		}
		sf := structField{name: f.Name, index: f.Index, kind: kindOf(f.Type)}
		info.fields = append(info.fields, sf)
		// msgpack blobs are measured exactly by AddRaw
		if sf.kind != fieldMsgPack {
			info.avgSize += avgVarintSize
		}
	}
	if len(info.fields) == 0 {
		panic(fmt.Errorf("%v has no exported fields", typ))
	}
	return info
}

func kindOf(t reflect.Type) fieldKind {
	switch t.Kind() {
	case reflect.String:
		return fieldString
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return fieldBytes
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return fieldUint
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fieldInt
	case reflect.Bool:
		return fieldBool
	}
	return fieldMsgPack
}

// StructMarshaller handles any struct type via reflection. Exported fields are
// stored in declaration order: strings and byte slices through the trie,
// integers and bools as varints, and everything else as an inline MsgPack
// blob encoded when the record is added. Fields tagged `stbe:"-"` are
// ignored.
type StructMarshaller[R any] struct {
	info *structInfo
}

// NewStructMarshaller panics if R is not a struct with exported fields.
func NewStructMarshaller[R any]() StructMarshaller[R] {
	return StructMarshaller[R]{info: reflectStruct(reflect.TypeFor[R]())}
}

func (sm StructMarshaller[R]) AvgSize() int {
	return sm.info.avgSize
}

func (sm StructMarshaller[R]) AddToTrie(enc *ValueEncoder, r *R) {
	rv := reflect.ValueOf(r).Elem()
	for _, f := range sm.info.fields {
		switch f.kind {
		case fieldString:
			enc.AddString(rv.FieldByIndex(f.index).String())
		case fieldBytes:
			enc.AddBytes(rv.FieldByIndex(f.index).Bytes())
		case fieldMsgPack:
			enc.AddRaw(encodeMsgPack(rv.FieldByIndex(f.index)))
		}
	}
}

func (sm StructMarshaller[R]) Encode(enc *ValueEncoder, r *R) {
	rv := reflect.ValueOf(r).Elem()
	k, raw := 0, 0
	for _, f := range sm.info.fields {
		fv := rv.FieldByIndex(f.index)
		switch f.kind {
		case fieldString, fieldBytes:
			enc.EncodeString(k)
			k++
		case fieldUint:
			enc.EncodeUint64(fv.Uint())
		case fieldInt:
			enc.EncodeInt64(fv.Int())
		case fieldBool:
			if fv.Bool() {
				enc.EncodeUint64(1)
			} else {
				enc.EncodeUint64(0)
			}
		case fieldMsgPack:
			enc.EncodeAddedRaw(raw)
			raw++
		}
	}
}

func (sm StructMarshaller[R]) Decode(dec *ValueDecoder, r *R) error {
	rv := reflect.ValueOf(r).Elem()
	for _, f := range sm.info.fields {
		fv := rv.FieldByIndex(f.index)
		off := dec.off
		switch f.kind {
		case fieldString:
			v, err := dec.DecodeString()
			if err != nil {
				return err
			}
			fv.SetString(v)
		case fieldBytes:
			v, err := dec.DecodeBytes()
			if err != nil {
				return err
			}
			fv.SetBytes(v)
		case fieldUint:
			v, err := dec.DecodeUint64()
			if err != nil {
				return err
			}
			if fv.OverflowUint(v) {
				return dataErrf(dec.block, off, nil, "%v.%s: value %d overflows %v", sm.info.typ, f.name, v, fv.Type())
			}
			fv.SetUint(v)
		case fieldInt:
			v, err := dec.DecodeInt64()
			if err != nil {
				return err
			}
			if fv.OverflowInt(v) {
				return dataErrf(dec.block, off, nil, "%v.%s: value %d overflows %v", sm.info.typ, f.name, v, fv.Type())
			}
			fv.SetInt(v)
		case fieldBool:
			v, err := dec.DecodeUint64()
			if err != nil {
				return err
			}
			if v > 1 {
				return dataErrf(dec.block, off, nil, "%v.%s: invalid bool %d", sm.info.typ, f.name, v)
			}
			fv.SetBool(v == 1)
		case fieldMsgPack:
			raw, err := dec.DecodeRaw()
			if err != nil {
				return err
			}
			if err := decodeMsgPack(raw, fv.Addr()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (sm StructMarshaller[R]) Skip(dec *ValueDecoder) error {
	for _, f := range sm.info.fields {
		var err error
		switch f.kind {
		case fieldString, fieldBytes:
			err = dec.SkipString()
		case fieldUint, fieldBool:
			err = dec.SkipUint()
		case fieldInt:
			err = dec.SkipInt()
		case fieldMsgPack:
			err = dec.SkipRaw()
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func encodeMsgPack(v reflect.Value) []byte {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	err := enc.EncodeValue(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		panic(fmt.Errorf("failed to encode %v using MsgPack: %w", v.Type(), err))
	}
	return buf.Bytes()
}

func decodeMsgPack(data []byte, ptrVal reflect.Value) error {
	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	err := dec.DecodeValue(ptrVal)
	msgpack.PutDecoder(dec)
	if err != nil {
		return dataErrf(data, 0, err, "failed to decode msgpack into %v", ptrVal.Type().Elem())
	}
	return nil
}
