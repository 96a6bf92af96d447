package serializer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/bits"
	"reflect"
	"sort"
)

var (
	emptyStructType  = reflect.TypeOf(struct{}{})
	emptyStructValue = reflect.ValueOf(struct{}{})
)

// Serialize accepts an arbitrary value or pointer and returns its []byte representation.
// Structs are encoded field by field, fixed-size arrays raw, slices and maps with a
// general-natural length prefix, integers little-endian at their natural width and
// pointers as an option (0x00 for nil, 0x01 followed by the value).
func Serialize(v any) []byte {
	val := reflect.ValueOf(v)

	if val.Kind() == reflect.Ptr && !val.IsNil() {
		val = val.Elem()
	}

	buf := bytes.NewBuffer(make([]byte, 0, 256))
	serializeValue(val, buf)

	return buf.Bytes()
}

func Deserialize(data []byte, target any) error {
	val := reflect.ValueOf(target)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("deserialize target must be a non-nil pointer")
	}

	buf := bytes.NewBuffer(data)
	if err := deserializeValue(val.Elem(), buf); err != nil {
		return err
	}

	if buf.Len() > 0 {
		return fmt.Errorf("extra %d bytes left after deserialization (data: %x)", buf.Len(), data)
	}

	return nil
}

func serializeValue(v reflect.Value, buf *bytes.Buffer) {
	typ := v.Type()

	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			buf.WriteByte(0)
			return
		}
		buf.WriteByte(1)
		serializeValue(v.Elem(), buf)
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			serializeValue(v.Field(i), buf)
		}
	case reflect.Map:
		serializeMap(v, buf)
	case reflect.Array, reflect.Slice:
		serializeSlice(v, buf)
	case reflect.Bool:
		if v.Bool() {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		l := int(typ.Size())
		buf.Write(EncodeLittleEndian(l, SignedToUnsigned(l, v.Int())))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		buf.Write(EncodeLittleEndian(int(typ.Size()), v.Uint()))
	default:
		panic(fmt.Sprintf("unsupported kind: %s", v.Kind()))
	}
}

// deserializeValue is the recursive helper that reads from buf into value v
func deserializeValue(v reflect.Value, buf *bytes.Buffer) error {
	vType := v.Type()

	switch v.Kind() {
	case reflect.Ptr:
		b, err := buf.ReadByte()
		if err != nil {
			return fmt.Errorf("failed to read pointer tag: %w", err)
		}
		switch b {
		case 0:
			v.Set(reflect.Zero(vType))
			return nil
		case 1:
		default:
			return fmt.Errorf("invalid option tag %d", b)
		}
		if v.IsNil() {
			v.Set(reflect.New(vType.Elem()))
		}
		return deserializeValue(v.Elem(), buf)

	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if err := deserializeValue(v.Field(i), buf); err != nil {
				return fmt.Errorf("failed to deserialize field %s: %w", vType.Field(i).Name, err)
			}
		}
		return nil

	case reflect.Map:
		return deserializeMap(v, buf)

	case reflect.Array, reflect.Slice:
		return deserializeSlice(v, buf)

	case reflect.Bool:
		b, err := buf.ReadByte()
		if err != nil {
			return fmt.Errorf("failed to read bool: %w", err)
		}
		if b > 1 {
			return fmt.Errorf("invalid bool byte %d", b)
		}
		v.SetBool(b == 1)
		return nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		l := int(vType.Size())
		x, err := readLittleEndian(buf, l)
		if err != nil {
			return fmt.Errorf("failed to read integer bytes: %w", err)
		}
		v.SetInt(UnsignedToSigned(l, x))
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		x, err := readLittleEndian(buf, int(vType.Size()))
		if err != nil {
			return fmt.Errorf("failed to read unsigned integer bytes: %w", err)
		}
		v.SetUint(x)
		return nil

	default:
		return fmt.Errorf("unsupported kind for deserialization: %s", v.Kind())
	}
}

func readLittleEndian(buf *bytes.Buffer, l int) (uint64, error) {
	var b [8]byte
	n, _ := buf.Read(b[:l])
	if n != l {
		return 0, fmt.Errorf("need %d bytes, have %d", l, n)
	}
	return DecodeLittleEndian(b[:l]), nil
}

// serializeMap writes the length, then each entry in ascending key order.
// Maps with value type struct{} are sets and only their keys are written.
func serializeMap(v reflect.Value, buf *bytes.Buffer) {
	keys := v.MapKeys()
	encodedKeys := make([][]byte, len(keys))
	order := make([]int, len(keys))
	for i, key := range keys {
		var kb bytes.Buffer
		serializeValue(key, &kb)
		encodedKeys[i] = kb.Bytes()
		order[i] = i
	}

	switch v.Type().Key().Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		sort.Slice(order, func(i, j int) bool { return keys[order[i]].Int() < keys[order[j]].Int() })
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		sort.Slice(order, func(i, j int) bool { return keys[order[i]].Uint() < keys[order[j]].Uint() })
	default:
		sort.Slice(order, func(i, j int) bool {
			return bytes.Compare(encodedKeys[order[i]], encodedKeys[order[j]]) < 0
		})
	}

	buf.Write(EncodeGeneralNatural(uint64(len(keys))))

	isSet := v.Type().Elem() == emptyStructType
	for _, i := range order {
		buf.Write(encodedKeys[i])
		if !isSet {
			serializeValue(v.MapIndex(keys[i]), buf)
		}
	}
}

func deserializeMap(v reflect.Value, buf *bytes.Buffer) error {
	length, err := readLength(buf)
	if err != nil {
		return fmt.Errorf("failed to decode map length: %w", err)
	}

	typ := v.Type()
	v.Set(reflect.MakeMap(typ))
	isSet := typ.Elem() == emptyStructType

	for i := uint64(0); i < length; i++ {
		key := reflect.New(typ.Key()).Elem()
		if err := deserializeValue(key, buf); err != nil {
			return fmt.Errorf("failed to deserialize map key: %w", err)
		}
		if isSet {
			v.SetMapIndex(key, emptyStructValue)
			continue
		}
		value := reflect.New(typ.Elem()).Elem()
		if err := deserializeValue(value, buf); err != nil {
			return fmt.Errorf("failed to deserialize map value: %w", err)
		}
		v.SetMapIndex(key, value)
	}

	return nil
}

// serializeSlice handles array/slice serialization.
// For slices (but not arrays), it encodes the length first.
func serializeSlice(v reflect.Value, buf *bytes.Buffer) {
	if v.Kind() == reflect.Slice {
		buf.Write(EncodeGeneralNatural(uint64(v.Len())))
	}

	if v.Type().Elem().Kind() == reflect.Uint8 {
		if v.Kind() == reflect.Slice {
			buf.Write(v.Bytes())
			return
		}
		for i := 0; i < v.Len(); i++ {
			buf.WriteByte(byte(v.Index(i).Uint()))
		}
		return
	}

	for i := 0; i < v.Len(); i++ {
		serializeValue(v.Index(i), buf)
	}
}

// deserializeSlice is a helper to deserialize arrays and slices
func deserializeSlice(v reflect.Value, buf *bytes.Buffer) error {
	length := v.Len()

	if v.Kind() == reflect.Slice {
		decoded, err := readLength(buf)
		if err != nil {
			return fmt.Errorf("failed to decode slice length: %w", err)
		}
		// Every element takes at least one byte, so a longer length is corrupt.
		if decoded > uint64(buf.Len()) && v.Type().Elem().Size() > 0 {
			return fmt.Errorf("slice length %d exceeds remaining %d bytes", decoded, buf.Len())
		}
		length = int(decoded)
		v.Set(reflect.MakeSlice(v.Type(), length, length))
	}

	if v.Type().Elem().Kind() == reflect.Uint8 {
		data := buf.Next(length)
		if len(data) != length {
			return fmt.Errorf("failed to read byte data: need %d bytes, have %d", length, len(data))
		}
		if v.Kind() == reflect.Slice {
			reflect.Copy(v, reflect.ValueOf(data))
			return nil
		}
		for i, b := range data {
			v.Index(i).SetUint(uint64(b))
		}
		return nil
	}

	for i := 0; i < length; i++ {
		if err := deserializeValue(v.Index(i), buf); err != nil {
			return fmt.Errorf("failed to deserialize element %d: %w", i, err)
		}
	}

	return nil
}

func readLength(buf *bytes.Buffer) (uint64, error) {
	x, n, ok := DecodeGeneralNatural(buf.Bytes())
	if !ok {
		return 0, fmt.Errorf("truncated length prefix")
	}
	buf.Next(n)
	return x, nil
}

// EncodeGeneralNatural encodes a uint64 using the compact encoding format.
// It follows three cases:
//  1. x == 0: output a single 0x00 octet.
//  2. x fits in a computed header + remainder format.
//  3. Otherwise, output 0xFF followed by x as 8 little-endian octets.
func EncodeGeneralNatural(x uint64) []byte {
	if x == 0 {
		return []byte{0x00}
	}

	// l = floor(log2(x)/7)
	l := uint((bits.Len64(x) - 1) / 7)

	if l >= 8 {
		result := []byte{0xFF}
		return append(result, EncodeLittleEndian(8, x)...)
	}

	// Header: 2^8 - 2^(8-l) + ⌊x/(2^(8l))⌋
	header := (1 << 8) - (1 << (8 - l)) + (x >> (8 * l))
	result := []byte{byte(header)}
	if l > 0 {
		remainder := x & ((uint64(1) << (8 * l)) - 1)
		result = append(result, EncodeLittleEndian(int(l), remainder)...)
	}
	return result
}

func DecodeGeneralNatural(p []byte) (x uint64, n int, ok bool) {
	if len(p) == 0 {
		return 0, 0, false
	}

	header := p[0]
	if header == 0x00 {
		return 0, 1, true
	}
	if header == 0xFF {
		if len(p) < 9 {
			return 0, 0, false
		}
		return binary.LittleEndian.Uint64(p[1:9]), 9, true
	}

	l := bits.LeadingZeros8(^header)
	base := byte(int(1<<8) - (1 << (8 - l)))
	high := uint64(header - base)
	if len(p) < 1+l {
		return 0, 0, false
	}
	remainder := DecodeLittleEndian(p[1 : 1+l])
	return (high << (8 * l)) | remainder, 1 + l, true
}

func EncodeLittleEndian(octets int, x uint64) []byte {
	switch octets {
	case 1:
		return []byte{byte(x)}
	case 2:
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(x))
		return buf[:]
	case 4:
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(x))
		return buf[:]
	case 8:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], x)
		return buf[:]
	default:
		result := make([]byte, octets)
		for i := 0; i < octets; i++ {
			result[i] = byte(x)
			x >>= 8
		}
		return result
	}
}

func DecodeLittleEndian(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	case 8:
		return binary.LittleEndian.Uint64(b)
	default:
		var x uint64
		for i, v := range b {
			x |= uint64(v) << (8 * i)
		}
		return x
	}
}

// UnsignedToSigned reinterprets the low 8*octets bits of x as two's complement.
func UnsignedToSigned(octets int, x uint64) int64 {
	if octets >= 8 {
		return int64(x)
	}
	shift := uint(64 - 8*octets)
	return int64(x<<shift) >> shift
}

// SignedToUnsigned maps a into [0, 2^(8*octets)).
func SignedToUnsigned(octets int, a int64) uint64 {
	if octets >= 8 {
		return uint64(a)
	}
	return uint64(a) & (uint64(1)<<(8*uint(octets)) - 1)
}
