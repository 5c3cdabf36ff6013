package signalcrypto

import "testing"

func TestPadMessageBuckets(t *testing.T) {
	for i := 0; i < 79; i++ {
		padded := PadMessage(make([]byte, i))
		if len(padded) != 79 {
			t.Errorf("message len %d: got padded len %d, want 79", i, len(padded))
		}
		if padded[i] != 0x80 {
			t.Errorf("message len %d: terminator byte is %#x, want 0x80", i, padded[i])
		}
	}
	for i := 79; i < 159; i++ {
		if padded := PadMessage(make([]byte, i)); len(padded) != 159 {
			t.Errorf("message len %d: got padded len %d, want 159", i, len(padded))
		}
	}
}

func TestUnpadRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 10, 50, 78, 79, 100, 158, 159, 200, 238, 239}
	for _, size := range sizes {
		original := make([]byte, size)
		for i := range original {
			original[i] = byte(i % 256)
		}

		padded := PadMessage(original)
		got, err := Unpad(padded)
		if err != nil {
			t.Fatalf("size %d: %v", size, err)
		}
		if len(got) != len(original) {
			t.Fatalf("size %d: got len %d, want %d", size, len(got), len(original))
		}
		for i := range original {
			if got[i] != original[i] {
				t.Fatalf("size %d: byte %d differs: got %#x, want %#x", size, i, got[i], original[i])
			}
		}
	}
}

func TestUnpadRejectsMalformedTrailer(t *testing.T) {
	bad := []byte{0x01, 0x02, 0x03}
	if _, err := Unpad(bad); err == nil {
		t.Fatal("expected error for missing 0x80 terminator")
	}
}
