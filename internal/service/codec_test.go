package service

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/vouchmesh/vouchmesh/internal/domain"
)

func fullState() *domain.TrustNetworkState {
	state := domain.NewTrustNetworkState()
	ApplyDelta(state, domain.NewDelta().
		AddMember(h(1)).AddMember(h(2)).AddMember(h(3)).
		AddVouch(h(1), h(2)).AddVouch(h(2), h(3)).AddVouch(h(3), h(1)).
		AddFlag(h(1), h(3)))
	ApplyDelta(state, domain.NewDelta().AddMember(h(4)))
	ApplyDelta(state, domain.NewDelta().RemoveMember(h(4)))

	cfg := domain.DefaultGroupConfig()
	cfg.MinVouches = 3
	cfg.OpenMembership = true
	ApplyDelta(state, domain.NewDelta().UpdateConfig(cfg, time.Now().UnixMilli()))

	state.FederationContracts["partner-net"] = struct{}{}
	approved := true
	state.ActiveProposals["p1"] = domain.Proposal{ID: "p1", CreatedAt: 100, ExpiresAt: 200}
	state.ActiveProposals["p2"] = domain.Proposal{ID: "p2", CreatedAt: 150, ExpiresAt: 250, Checked: true, Result: &approved}
	return state
}

func TestStateCodec_RoundTrip(t *testing.T) {
	want := fullState()

	blob, err := EncodeState(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeState(blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !reflect.DeepEqual(want, got) {
		t.Errorf("round trip changed the state:\nwant %+v\ngot  %+v", want, got)
	}
}

func TestStateCodec_Deterministic(t *testing.T) {
	state := fullState()

	first, err := EncodeState(state)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// Re-encode both the same value and an independently built clone.
	second, err := EncodeState(state)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	third, err := EncodeState(state.Clone())
	if err != nil {
		t.Fatalf("encode clone: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Error("re-encoding the same state produced different bytes")
	}
	if !bytes.Equal(first, third) {
		t.Error("encoding a clone produced different bytes")
	}
}

func TestDeltaCodec_RoundTrip(t *testing.T) {
	approved := false
	want := domain.NewDelta().
		AddMember(h(1)).RemoveMember(h(2)).
		AddVouch(h(1), h(3)).RemoveVouch(h(3), h(1)).
		AddFlag(h(2), h(1)).RemoveFlag(h(1), h(2)).
		UpdateConfig(domain.DefaultGroupConfig(), 42).
		CreateProposal(domain.Proposal{ID: "p1", CreatedAt: 1, ExpiresAt: 2}).
		CheckProposal("p1").
		RecordResult("p2", approved)

	blob, err := EncodeDelta(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeDelta(blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !reflect.DeepEqual(want, got) {
		t.Errorf("round trip changed the delta:\nwant %+v\ngot  %+v", want, got)
	}
}

func TestDeltaCodec_Empty(t *testing.T) {
	blob, err := EncodeDelta(domain.NewDelta())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeDelta(blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Empty() {
		t.Errorf("empty delta round-tripped to non-empty: %+v", got)
	}
}

func TestDecodeState_MalformedInput(t *testing.T) {
	valid, err := EncodeState(fullState())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	tests := []struct {
		name string
		blob []byte
		want error
	}{
		{name: "empty", blob: nil, want: ErrFrameTooShort},
		{name: "short prefix", blob: []byte{0, 0, 1}, want: ErrFrameTooShort},
		{name: "length overruns payload", blob: []byte{0, 0, 0, 200, 1, 2}, want: ErrFrameLength},
		{name: "trailing garbage", blob: append(append([]byte{}, valid...), 0xFF), want: ErrFrameLength},
		{name: "payload not cbor", blob: []byte{0, 0, 0, 3, 0xFF, 0xFF, 0xFF}, want: ErrMalformedState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeState(tt.blob); !errors.Is(err, tt.want) {
				t.Errorf("DecodeState error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeState_TruncatedPayload(t *testing.T) {
	valid, err := EncodeState(fullState())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	truncated := valid[:len(valid)-4]
	if _, err := DecodeState(truncated); err == nil {
		t.Error("truncated payload should not decode")
	}
}

func TestDecodeState_InvalidHashWidth(t *testing.T) {
	payload, err := encMode.Marshal(wireState{Members: [][]byte{{1, 2, 3}}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := DecodeState(frame(payload)); !errors.Is(err, ErrInvalidHashSize) {
		t.Errorf("3-byte member hash error = %v, want %v", err, ErrInvalidHashSize)
	}
}

func TestDecodeDelta_MalformedInput(t *testing.T) {
	if _, err := DecodeDelta([]byte{0, 0}); !errors.Is(err, ErrFrameTooShort) {
		t.Errorf("short frame error = %v, want %v", err, ErrFrameTooShort)
	}
	if _, err := DecodeDelta([]byte{0, 0, 0, 3, 0xFF, 0xFF, 0xFF}); !errors.Is(err, ErrMalformedDelta) {
		t.Errorf("garbage payload error = %v, want %v", err, ErrMalformedDelta)
	}
}

func TestDecodeState_SchemaVersionDefaults(t *testing.T) {
	state := domain.NewTrustNetworkState()
	state.SchemaVersion = 0

	blob, err := EncodeState(state)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeState(blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SchemaVersion != domain.CurrentSchemaVersion {
		t.Errorf("absent schema version should default to %d, got %d",
			domain.CurrentSchemaVersion, got.SchemaVersion)
	}
}
