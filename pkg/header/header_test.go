package header

import (
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	h := New()
	h.Set(KeyCallerID, "/talker")
	h.Set(KeyMD5Sum, "992ce8a1687cec8c8bd883ec73ca41d1")
	h.Set(KeyTopic, "/chatter")
	h.Set(KeyType, "std_msgs/String")

	buf := h.Encode()
	offset := 0
	decoded, err := Decode(buf, &offset)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if offset != len(buf) {
		t.Fatalf("offset %d != len(buf) %d", offset, len(buf))
	}

	for _, k := range []string{KeyCallerID, KeyMD5Sum, KeyTopic, KeyType} {
		want, _ := h.Get(k)
		got, ok := decoded.Get(k)
		if !ok || got != want {
			t.Fatalf("key %q: got %q, want %q (present=%v)", k, got, want, ok)
		}
	}
}

func TestUnknownKeysPreservedNotRejected(t *testing.T) {
	h := New()
	h.Set("callerid", "/x")
	h.Set("some_future_key", "surprise")

	buf := h.Encode()
	offset := 0
	decoded, err := Decode(buf, &offset)
	if err != nil {
		t.Fatalf("Decode must not reject unknown keys: %v", err)
	}
	v, ok := decoded.Get("some_future_key")
	if !ok || v != "surprise" {
		t.Fatalf("unknown key not preserved: %q, %v", v, ok)
	}
}

func TestRequireAllReportsFirstMissing(t *testing.T) {
	h := New()
	h.Set(KeyTopic, "/chatter")
	err := h.RequireAll(KeyCallerID, KeyMD5Sum, KeyTopic, KeyType)
	if err == nil {
		t.Fatalf("expected error for missing required fields")
	}
	if !strings.Contains(err.Error(), `"`+KeyCallerID+`"`) {
		t.Fatalf("error should name the first missing key %q, got %v", KeyCallerID, err)
	}
}

func TestMD5AndTypeWildcard(t *testing.T) {
	if !MD5Matches("abc", "abc") {
		t.Fatalf("equal md5 should match")
	}
	if !MD5Matches("abc", AnyType) {
		t.Fatalf("wildcard should match")
	}
	if MD5Matches("abc", "def") {
		t.Fatalf("mismatched md5 should not match")
	}
	if !TypeMatches(AnyType, "std_msgs/String") {
		t.Fatalf("wildcard type should match any")
	}
}

func TestDecodeRejectsMalformedEntry(t *testing.T) {
	var buf []byte
	entry := "no-equals-sign"
	body := []byte{}
	body = append(body, entryBytes(entry)...)
	buf = append(buf, u32le(uint32(len(body)))...)
	buf = append(buf, body...)

	offset := 0
	if _, err := Decode(buf, &offset); err == nil {
		t.Fatalf("expected error decoding entry with no '='")
	}
}

func entryBytes(s string) []byte {
	out := u32le(uint32(len(s)))
	return append(out, s...)
}

func u32le(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}
