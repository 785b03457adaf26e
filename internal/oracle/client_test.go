package oracle

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestDecodeSettled(t *testing.T) {
	cases := []struct {
		name      string
		payload   []byte
		defaulted bool
		wantErr   bool
	}{
		{"zero byte", []byte{0}, false, false},
		{"one byte", []byte{1}, true, false},
		{"uint256 zero", make([]byte, 32), false, false},
		{"uint256 one", append(make([]byte, 31), 1), true, false},
		{"large value", []byte{0xff, 0xff, 0xff}, true, false},
		{"empty", nil, false, true},
		{"too long", make([]byte, 33), false, true},
	}

	for _, tc := range cases {
		got, err := DecodeSettled(tc.payload)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tc.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tc.name, err)
			continue
		}
		if got != tc.defaulted {
			t.Errorf("%s: defaulted = %v, want %v", tc.name, got, tc.defaulted)
		}
	}
}

func TestMockClient(t *testing.T) {
	mock := &MockClient{}
	req := Request{ID: uuid.New(), Policy: "blockshield.PREC105", AssetSymbol: "PREC105"}

	if err := mock.Send(context.Background(), req); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if mock.Sent() != 1 {
		t.Errorf("sent = %d, want 1", mock.Sent())
	}

	mock.Err = errors.New("nats down")
	if err := mock.Send(context.Background(), req); err == nil {
		t.Error("expected injected error")
	}
	if mock.Sent() != 1 {
		t.Error("failed send was recorded")
	}
}
