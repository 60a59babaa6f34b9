package service

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/vouchmesh/vouchmesh/internal/domain"
)

// Serialization is the engine's only failure surface. Malformed input is
// surfaced to the caller, never recovered locally.
var (
	ErrFrameTooShort   = errors.New("codec: frame shorter than length prefix")
	ErrFrameLength     = errors.New("codec: length prefix disagrees with payload size")
	ErrMalformedState  = errors.New("codec: malformed state payload")
	ErrMalformedDelta  = errors.New("codec: malformed delta payload")
	ErrInvalidHashSize = errors.New("codec: member hash is not 32 bytes")
)

// Encoding is deterministic: map-free wire structs, sorted slices, and
// CBOR core deterministic encoding, so equal logical states produce
// byte-identical blobs. Frames are length-prefixed (4 bytes big-endian)
// and schema-versioned for additive evolution.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
}

type wireEdgeSet struct {
	Target  []byte   `cbor:"1,keyasint"`
	Sources [][]byte `cbor:"2,keyasint"`
}

type wireConfig struct {
	MinVouches        int     `cbor:"1,keyasint"`
	MaxFlags          int     `cbor:"2,keyasint"`
	OpenMembership    bool    `cbor:"3,keyasint"`
	PollTimeoutMillis int64   `cbor:"4,keyasint"`
	ApprovalThreshold float64 `cbor:"5,keyasint"`
	Quorum            float64 `cbor:"6,keyasint"`
}

type wireProposal struct {
	ID        string `cbor:"1,keyasint"`
	CreatedAt int64  `cbor:"2,keyasint"`
	ExpiresAt int64  `cbor:"3,keyasint"`
	Checked   bool   `cbor:"4,keyasint"`
	Result    *bool  `cbor:"5,keyasint,omitempty"`
}

type wireState struct {
	SchemaVersion uint32         `cbor:"1,keyasint"`
	Members       [][]byte       `cbor:"2,keyasint"`
	Ejected       [][]byte       `cbor:"3,keyasint"`
	Vouches       []wireEdgeSet  `cbor:"4,keyasint"`
	Flags         []wireEdgeSet  `cbor:"5,keyasint"`
	Config        wireConfig     `cbor:"6,keyasint"`
	ConfigStamp   int64          `cbor:"7,keyasint"`
	Federation    []string       `cbor:"8,keyasint"`
	Proposals     []wireProposal `cbor:"9,keyasint"`
}

type wirePair struct {
	Source []byte `cbor:"1,keyasint"`
	Target []byte `cbor:"2,keyasint"`
}

type wireConfigUpdate struct {
	Config    wireConfig `cbor:"1,keyasint"`
	Timestamp int64      `cbor:"2,keyasint"`
}

type wireResult struct {
	ID       string `cbor:"1,keyasint"`
	Approved bool   `cbor:"2,keyasint"`
}

type wireDelta struct {
	SchemaVersion   uint32            `cbor:"1,keyasint"`
	AddMembers      [][]byte          `cbor:"2,keyasint"`
	RemoveMembers   [][]byte          `cbor:"3,keyasint"`
	AddVouches      []wirePair        `cbor:"4,keyasint"`
	RemoveVouches   []wirePair        `cbor:"5,keyasint"`
	AddFlags        []wirePair        `cbor:"6,keyasint"`
	RemoveFlags     []wirePair        `cbor:"7,keyasint"`
	ConfigUpdate    *wireConfigUpdate `cbor:"8,keyasint,omitempty"`
	CreateProposals []wireProposal    `cbor:"9,keyasint"`
	CheckProposals  []string          `cbor:"10,keyasint"`
	ProposalResults []wireResult      `cbor:"11,keyasint"`
}

// EncodeState serializes a state snapshot into a length-prefixed,
// deterministic CBOR frame.
func EncodeState(state *domain.TrustNetworkState) ([]byte, error) {
	w := wireState{
		SchemaVersion: state.SchemaVersion,
		Members:       hashSlices(state.Members),
		Ejected:       hashSlices(state.Ejected),
		Vouches:       edgeSets(state.Vouches),
		Flags:         edgeSets(state.Flags),
		Config:        configToWire(state.Config),
		ConfigStamp:   state.ConfigTimestamp,
		Federation:    sortedStrings(state.FederationContracts),
		Proposals:     proposalsToWire(state.ActiveProposals),
	}
	payload, err := encMode.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	return frame(payload), nil
}

// DecodeState parses a frame produced by EncodeState. Absent fields are
// default-filled so blobs from older schema versions remain readable.
func DecodeState(blob []byte) (*domain.TrustNetworkState, error) {
	payload, err := unframe(blob)
	if err != nil {
		return nil, err
	}
	var w wireState
	if err := decMode.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}

	state := domain.NewTrustNetworkState()
	state.SchemaVersion = w.SchemaVersion
	if state.SchemaVersion == 0 {
		state.SchemaVersion = domain.CurrentSchemaVersion
	}
	if state.Members, err = hashSet(w.Members); err != nil {
		return nil, err
	}
	if state.Ejected, err = hashSet(w.Ejected); err != nil {
		return nil, err
	}
	if state.Vouches, err = edgeMap(w.Vouches); err != nil {
		return nil, err
	}
	if state.Flags, err = edgeMap(w.Flags); err != nil {
		return nil, err
	}
	state.Config = configFromWire(w.Config)
	state.ConfigTimestamp = w.ConfigStamp
	for _, contract := range w.Federation {
		state.FederationContracts[contract] = struct{}{}
	}
	for _, p := range w.Proposals {
		state.ActiveProposals[p.ID] = proposalFromWire(p)
	}
	return state, nil
}

// EncodeDelta serializes a delta into a length-prefixed frame.
func EncodeDelta(delta domain.StateDelta) ([]byte, error) {
	w := wireDelta{
		SchemaVersion:   domain.CurrentSchemaVersion,
		AddMembers:      memberList(delta.AddMembers),
		RemoveMembers:   memberList(delta.RemoveMembers),
		AddVouches:      vouchPairs(delta.AddVouches),
		RemoveVouches:   vouchPairs(delta.RemoveVouches),
		AddFlags:        flagPairs(delta.AddFlags),
		RemoveFlags:     flagPairs(delta.RemoveFlags),
		CheckProposals:  append([]string(nil), delta.CheckProposals...),
		ProposalResults: make([]wireResult, 0, len(delta.ProposalResults)),
	}
	if cu := delta.ConfigUpdate; cu != nil {
		w.ConfigUpdate = &wireConfigUpdate{Config: configToWire(cu.Config), Timestamp: cu.Timestamp}
	}
	for _, p := range delta.CreateProposals {
		w.CreateProposals = append(w.CreateProposals, proposalToWire(p))
	}
	for _, r := range delta.ProposalResults {
		w.ProposalResults = append(w.ProposalResults, wireResult{ID: r.ID, Approved: r.Approved})
	}
	payload, err := encMode.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDelta, err)
	}
	return frame(payload), nil
}

// DecodeDelta parses a frame produced by EncodeDelta.
func DecodeDelta(blob []byte) (domain.StateDelta, error) {
	var delta domain.StateDelta
	payload, err := unframe(blob)
	if err != nil {
		return delta, err
	}
	var w wireDelta
	if err := decMode.Unmarshal(payload, &w); err != nil {
		return delta, fmt.Errorf("%w: %v", ErrMalformedDelta, err)
	}
	if delta.AddMembers, err = hashList(w.AddMembers); err != nil {
		return delta, err
	}
	if delta.RemoveMembers, err = hashList(w.RemoveMembers); err != nil {
		return delta, err
	}
	if delta.AddVouches, err = vouchList(w.AddVouches); err != nil {
		return delta, err
	}
	if delta.RemoveVouches, err = vouchList(w.RemoveVouches); err != nil {
		return delta, err
	}
	if delta.AddFlags, err = flagList(w.AddFlags); err != nil {
		return delta, err
	}
	if delta.RemoveFlags, err = flagList(w.RemoveFlags); err != nil {
		return delta, err
	}
	if w.ConfigUpdate != nil {
		delta.ConfigUpdate = &domain.ConfigUpdate{
			Config:    configFromWire(w.ConfigUpdate.Config),
			Timestamp: w.ConfigUpdate.Timestamp,
		}
	}
	for _, p := range w.CreateProposals {
		delta.CreateProposals = append(delta.CreateProposals, proposalFromWire(p))
	}
	if len(w.CheckProposals) > 0 {
		delta.CheckProposals = append([]string(nil), w.CheckProposals...)
	}
	for _, r := range w.ProposalResults {
		delta.ProposalResults = append(delta.ProposalResults, domain.ProposalResult{ID: r.ID, Approved: r.Approved})
	}
	return delta, nil
}

func frame(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[4:], payload)
	return out
}

func unframe(blob []byte) ([]byte, error) {
	if len(blob) < 4 {
		return nil, ErrFrameTooShort
	}
	n := binary.BigEndian.Uint32(blob)
	if int(n) != len(blob)-4 {
		return nil, fmt.Errorf("%w: prefix %d, payload %d", ErrFrameLength, n, len(blob)-4)
	}
	return blob[4:], nil
}

func hashSlices(set domain.MemberSet) [][]byte {
	sorted := set.Sorted()
	out := make([][]byte, 0, len(sorted))
	for _, m := range sorted {
		h := m
		out = append(out, h[:])
	}
	return out
}

func memberList(members []domain.MemberHash) [][]byte {
	out := make([][]byte, 0, len(members))
	for _, m := range members {
		h := m
		out = append(out, h[:])
	}
	return out
}

func hashSet(raw [][]byte) (domain.MemberSet, error) {
	out := make(domain.MemberSet, len(raw))
	for _, b := range raw {
		m, err := domain.MemberHashFromBytes(b)
		if err != nil {
			return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidHashSize, len(b))
		}
		out.Add(m)
	}
	return out, nil
}

func hashList(raw [][]byte) ([]domain.MemberHash, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]domain.MemberHash, 0, len(raw))
	for _, b := range raw {
		m, err := domain.MemberHashFromBytes(b)
		if err != nil {
			return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidHashSize, len(b))
		}
		out = append(out, m)
	}
	return out, nil
}

func edgeSets(edges map[domain.MemberHash]domain.MemberSet) []wireEdgeSet {
	targets := make([]domain.MemberHash, 0, len(edges))
	for t := range edges {
		targets = append(targets, t)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Less(targets[j]) })

	out := make([]wireEdgeSet, 0, len(targets))
	for _, t := range targets {
		h := t
		out = append(out, wireEdgeSet{Target: h[:], Sources: hashSlices(edges[t])})
	}
	return out
}

func edgeMap(sets []wireEdgeSet) (map[domain.MemberHash]domain.MemberSet, error) {
	out := make(map[domain.MemberHash]domain.MemberSet, len(sets))
	for _, es := range sets {
		target, err := domain.MemberHashFromBytes(es.Target)
		if err != nil {
			return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidHashSize, len(es.Target))
		}
		sources, err := hashSet(es.Sources)
		if err != nil {
			return nil, err
		}
		if len(sources) == 0 {
			continue
		}
		out[target] = sources
	}
	return out, nil
}

func vouchPairs(pairs []domain.VouchPair) []wirePair {
	out := make([]wirePair, 0, len(pairs))
	for _, p := range pairs {
		voucher, vouchee := p.Voucher, p.Vouchee
		out = append(out, wirePair{Source: voucher[:], Target: vouchee[:]})
	}
	return out
}

func flagPairs(pairs []domain.FlagPair) []wirePair {
	out := make([]wirePair, 0, len(pairs))
	for _, p := range pairs {
		flagger, flagged := p.Flagger, p.Flagged
		out = append(out, wirePair{Source: flagger[:], Target: flagged[:]})
	}
	return out
}

func vouchList(pairs []wirePair) ([]domain.VouchPair, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make([]domain.VouchPair, 0, len(pairs))
	for _, p := range pairs {
		voucher, err := domain.MemberHashFromBytes(p.Source)
		if err != nil {
			return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidHashSize, len(p.Source))
		}
		vouchee, err := domain.MemberHashFromBytes(p.Target)
		if err != nil {
			return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidHashSize, len(p.Target))
		}
		out = append(out, domain.VouchPair{Voucher: voucher, Vouchee: vouchee})
	}
	return out, nil
}

func flagList(pairs []wirePair) ([]domain.FlagPair, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make([]domain.FlagPair, 0, len(pairs))
	for _, p := range pairs {
		flagger, err := domain.MemberHashFromBytes(p.Source)
		if err != nil {
			return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidHashSize, len(p.Source))
		}
		flagged, err := domain.MemberHashFromBytes(p.Target)
		if err != nil {
			return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidHashSize, len(p.Target))
		}
		out = append(out, domain.FlagPair{Flagger: flagger, Flagged: flagged})
	}
	return out, nil
}

// configToWire carries the poll timeout at millisecond granularity;
// GroupConfig.Validate rejects anything finer.
func configToWire(c domain.GroupConfig) wireConfig {
	return wireConfig{
		MinVouches:        c.MinVouches,
		MaxFlags:          c.MaxFlags,
		OpenMembership:    c.OpenMembership,
		PollTimeoutMillis: c.PollTimeout.Milliseconds(),
		ApprovalThreshold: c.ApprovalThreshold,
		Quorum:            c.Quorum,
	}
}

func configFromWire(w wireConfig) domain.GroupConfig {
	return domain.GroupConfig{
		MinVouches:        w.MinVouches,
		MaxFlags:          w.MaxFlags,
		OpenMembership:    w.OpenMembership,
		PollTimeout:       time.Duration(w.PollTimeoutMillis) * time.Millisecond,
		ApprovalThreshold: w.ApprovalThreshold,
		Quorum:            w.Quorum,
	}
}

func sortedStrings(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func proposalsToWire(proposals map[string]domain.Proposal) []wireProposal {
	ids := make([]string, 0, len(proposals))
	for id := range proposals {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]wireProposal, 0, len(ids))
	for _, id := range ids {
		out = append(out, proposalToWire(proposals[id]))
	}
	return out
}

func proposalToWire(p domain.Proposal) wireProposal {
	w := wireProposal{
		ID:        p.ID,
		CreatedAt: p.CreatedAt,
		ExpiresAt: p.ExpiresAt,
		Checked:   p.Checked,
	}
	if p.Result != nil {
		r := *p.Result
		w.Result = &r
	}
	return w
}

func proposalFromWire(w wireProposal) domain.Proposal {
	p := domain.Proposal{
		ID:        w.ID,
		CreatedAt: w.CreatedAt,
		ExpiresAt: w.ExpiresAt,
		Checked:   w.Checked,
	}
	if w.Result != nil {
		r := *w.Result
		p.Result = &r
	}
	return p
}
