package wire

import (
	"testing"
	"time"
)

func TestPrimitiveRoundTrip(t *testing.T) {
	var buf []byte
	buf = PutU8(buf, 0xAB)
	buf = PutI32(buf, -12345)
	buf = PutU64(buf, 1<<40)
	buf = PutF32(buf, 3.5)
	buf = PutF64(buf, 2.71828)
	buf = PutBool(buf, true)
	buf = PutString(buf, "hi")
	buf = PutTime(buf, 100, 200)

	offset := 0
	u8, err := GetU8(buf, &offset)
	if err != nil || u8 != 0xAB {
		t.Fatalf("u8 = %v, %v", u8, err)
	}
	i32, err := GetI32(buf, &offset)
	if err != nil || i32 != -12345 {
		t.Fatalf("i32 = %v, %v", i32, err)
	}
	u64, err := GetU64(buf, &offset)
	if err != nil || u64 != 1<<40 {
		t.Fatalf("u64 = %v, %v", u64, err)
	}
	f32, err := GetF32(buf, &offset)
	if err != nil || f32 != 3.5 {
		t.Fatalf("f32 = %v, %v", f32, err)
	}
	f64, err := GetF64(buf, &offset)
	if err != nil || f64 != 2.71828 {
		t.Fatalf("f64 = %v, %v", f64, err)
	}
	b, err := GetBool(buf, &offset)
	if err != nil || !b {
		t.Fatalf("bool = %v, %v", b, err)
	}
	s, err := GetString(buf, &offset)
	if err != nil || s != "hi" {
		t.Fatalf("string = %q, %v", s, err)
	}
	secs, nsecs, err := GetTime(buf, &offset)
	if err != nil || secs != 100 || nsecs != 200 {
		t.Fatalf("time = %d,%d,%v", secs, nsecs, err)
	}
	if offset != len(buf) {
		t.Fatalf("offset %d != len(buf) %d, cursor did not consume exactly", offset, len(buf))
	}
}

func TestStringSizeMatchesSerialize(t *testing.T) {
	s := "the quick brown fox"
	buf := PutString(nil, s)
	if len(buf) != StringSize(s) {
		t.Fatalf("StringSize() = %d, actual serialized = %d", StringSize(s), len(buf))
	}
}

func TestShortBufferErrors(t *testing.T) {
	buf := []byte{1, 2}
	offset := 0
	if _, err := GetU32(buf, &offset); err == nil {
		t.Fatalf("expected short buffer error")
	}
}

func TestFixedArrayLengthRejection(t *testing.T) {
	_, err := PutFixedBytes(nil, []byte{1, 2, 3}, 4)
	if err == nil {
		t.Fatalf("expected ErrArrayLength for mismatched fixed array length")
	}
}

func TestFixedArrayRoundTrip(t *testing.T) {
	want := []byte{1, 2, 3, 4}
	buf, err := PutFixedBytes(nil, want, 4)
	if err != nil {
		t.Fatalf("PutFixedBytes: %v", err)
	}
	offset := 0
	got, err := GetFixedBytes(buf, &offset, 4)
	if err != nil {
		t.Fatalf("GetFixedBytes: %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("GetFixedBytes[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestVariableArrayOfStrings(t *testing.T) {
	items := []string{"a", "bb", "ccc"}
	buf := PutArrayLen(nil, len(items))
	for _, s := range items {
		buf = PutString(buf, s)
	}

	offset := 0
	n, err := GetArrayLen(buf, &offset)
	if err != nil || n != len(items) {
		t.Fatalf("GetArrayLen = %d, %v", n, err)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i], err = GetString(buf, &offset)
		if err != nil {
			t.Fatalf("GetString[%d]: %v", i, err)
		}
	}
	for i := range items {
		if out[i] != items[i] {
			t.Fatalf("out[%d] = %q, want %q", i, out[i], items[i])
		}
	}
}

func TestDurationRoundTrip(t *testing.T) {
	d := 90*time.Second + 250*time.Millisecond
	buf := PutDuration(nil, d)
	offset := 0
	got, err := GetDuration(buf, &offset)
	if err != nil {
		t.Fatalf("GetDuration: %v", err)
	}
	if got != d {
		t.Fatalf("got %v, want %v", got, d)
	}
}

func TestCheckFixedArrayLen(t *testing.T) {
	if err := CheckFixedArrayLen(3, 3); err != nil {
		t.Fatalf("expected no error for matching lengths: %v", err)
	}
	if err := CheckFixedArrayLen(2, 3); err == nil {
		t.Fatalf("expected error for mismatched lengths")
	}
}
