package wire

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Codec turns a Request/Response pair into bytes and back. A JSON codec and
// a protobuf-wire-format one sit behind the same interface; the binary one
// uses protowire's wire-format primitives directly rather than
// generated-message protobuf (see DESIGN.md for why).
type Codec interface {
	EncodeRequest(r *Request) ([]byte, error)
	DecodeRequest(b []byte) (*Request, error)
	EncodeResponse(r *Response) ([]byte, error)
	DecodeResponse(b []byte) (*Response, error)
}

// ---------------- JSON codec (debugging / CLI dumps) ----------------

type JSONCodec struct{}

func (JSONCodec) EncodeRequest(r *Request) ([]byte, error)   { return json.Marshal(r) }
func (JSONCodec) EncodeResponse(r *Response) ([]byte, error) { return json.Marshal(r) }

func (JSONCodec) DecodeRequest(b []byte) (*Request, error) {
	var r Request
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (JSONCodec) DecodeResponse(b []byte) (*Response, error) {
	var r Response
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ---------------- Binary codec (protowire primitives) ----------------

// BinaryCodec implements Codec using google.golang.org/protobuf's
// wire-format building blocks (protowire.Append*/Consume*) rather than
// generated message types. Field numbers below are this module's own wire
// contract (not derived from any .proto, since none exists).
type BinaryCodec struct{}

// Field numbers for Request.
const (
	fldReqKind         = 1
	fldReqId           = 2
	fldReqFrom         = 3
	fldReqArea         = 4
	fldReqKeys         = 5
	fldReqPublication  = 6
	fldReqDumpParams   = 7
	fldReqDualMessages = 8
	fldReqTopoSet      = 9
)

// Field numbers for Publication.
const (
	fldPubArea           = 1
	fldPubKeyValsKey      = 2 // each entry encoded as a length-delimited (key,value) pair message
	fldPubExpiredKeys     = 3
	fldPubNodeIds         = 4
	fldPubTobeUpdatedKeys = 5
	fldPubFloodRootId     = 6
)

// Field numbers for the (key, ValueWire) pair message used inside Publication.
const (
	fldKVKey   = 1
	fldKVValue = 2
)

// Field numbers for ValueWire.
const (
	fldValVersion      = 1
	fldValOriginatorId = 2
	fldValValue        = 3
	fldValTtlMs        = 4
	fldValTtlVersion   = 5
	fldValHash         = 6
)

// Field numbers for KeyDumpParams.
const (
	fldDumpPrefixes          = 1
	fldDumpOriginatorIds     = 2
	fldDumpOperator          = 3
	fldDumpDoNotPublishValue = 4
)

// Field numbers for DualMessageWire.
const (
	fldDualRoot     = 1
	fldDualKind     = 2
	fldDualFrom     = 3
	fldDualDistance = 4
)

// Field numbers for TopoSetCmd.
const (
	fldTopoRoot     = 1
	fldTopoPeer     = 2
	fldTopoSetChild = 3
	fldTopoAllRoots = 4
)

// Field numbers for Response.
const (
	fldRespReqId       = 1
	fldRespOk          = 2
	fldRespErr         = 3
	fldRespPublication = 4
	fldRespPeers       = 5 // each entry a (name, PeerWire) pair message
	fldRespSptInfos    = 6
	fldRespFrom        = 7
	fldRespArea        = 8
)

const (
	fldPeerName     = 1
	fldPeerCmdUrl   = 2
	fldPeerCtrlPort = 3
	fldPeerState    = 4
)

const (
	fldSptRoot     = 1
	fldSptIsRoot   = 2
	fldSptParent   = 3
	fldSptDistance = 4
	fldSptChildren = 5
	fldSptPassive  = 6
)

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendZigzag(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendVarint(b, num, 1)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	if len(msg) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// consumeFields walks a length-delimited protobuf message, invoking fn for
// every (fieldNumber, wireType, rawValueBytes) triple found at the top
// level. Nested messages are not recursed into automatically; callers that
// want to decode a submessage call consumeFields again on its raw bytes.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("wire: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		var raw []byte
		var vn int
		switch typ {
		case protowire.VarintType:
			_, vn = protowire.ConsumeVarint(b)
			if vn < 0 {
				return fmt.Errorf("wire: bad varint: %w", protowire.ParseError(vn))
			}
			raw = b[:vn]
		case protowire.BytesType:
			_, vn = protowire.ConsumeBytes(b)
			if vn < 0 {
				return fmt.Errorf("wire: bad bytes: %w", protowire.ParseError(vn))
			}
			raw = b[:vn]
		case protowire.Fixed32Type:
			_, vn = protowire.ConsumeFixed32(b)
			raw = b[:vn]
		case protowire.Fixed64Type:
			_, vn = protowire.ConsumeFixed64(b)
			raw = b[:vn]
		default:
			return fmt.Errorf("wire: unsupported wire type %v", typ)
		}
		if err := fn(num, typ, raw); err != nil {
			return err
		}
		b = b[vn:]
	}
	return nil
}

func readVarint(raw []byte) uint64 {
	v, _ := protowire.ConsumeVarint(raw)
	return v
}

func readZigzag(raw []byte) int64 {
	return protowire.DecodeZigZag(readVarint(raw))
}

func readString(raw []byte) string {
	s, _ := protowire.ConsumeString(raw)
	return s
}

func readBytes(raw []byte) []byte {
	v, _ := protowire.ConsumeBytes(raw)
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

func readSubmessage(raw []byte) []byte {
	v, _ := protowire.ConsumeBytes(raw)
	return v
}

// ---- ValueWire ----

func encodeValueWire(v ValueWire) []byte {
	var b []byte
	b = appendZigzag(b, fldValVersion, v.Version)
	b = appendString(b, fldValOriginatorId, v.OriginatorId)
	b = appendBytes(b, fldValValue, v.Value)
	b = appendZigzag(b, fldValTtlMs, v.TtlMs)
	b = appendZigzag(b, fldValTtlVersion, v.TtlVersion)
	b = appendVarint(b, fldValHash, v.Hash)
	return b
}

func decodeValueWire(raw []byte) (ValueWire, error) {
	var v ValueWire
	err := consumeFields(raw, func(num protowire.Number, typ protowire.Type, f []byte) error {
		switch num {
		case fldValVersion:
			v.Version = readZigzag(f)
		case fldValOriginatorId:
			v.OriginatorId = readString(f)
		case fldValValue:
			v.Value = readBytes(f)
		case fldValTtlMs:
			v.TtlMs = readZigzag(f)
		case fldValTtlVersion:
			v.TtlVersion = readZigzag(f)
		case fldValHash:
			v.Hash = readVarint(f)
		}
		return nil
	})
	return v, err
}

// ---- Publication ----

func encodeKVPair(key string, v ValueWire) []byte {
	var b []byte
	b = appendString(b, fldKVKey, key)
	b = appendMessage(b, fldKVValue, encodeValueWire(v))
	return b
}

func encodePublication(p *Publication) []byte {
	if p == nil {
		return nil
	}
	var b []byte
	b = appendString(b, fldPubArea, p.Area)
	for k, v := range p.KeyVals {
		b = appendMessage(b, fldPubKeyValsKey, encodeKVPair(k, v))
	}
	for _, k := range p.ExpiredKeys {
		b = appendString(b, fldPubExpiredKeys, k)
	}
	for _, n := range p.NodeIds {
		b = appendString(b, fldPubNodeIds, n)
	}
	for _, k := range p.TobeUpdatedKeys {
		b = appendString(b, fldPubTobeUpdatedKeys, k)
	}
	b = appendString(b, fldPubFloodRootId, p.FloodRootId)
	return b
}

func decodePublication(raw []byte) (*Publication, error) {
	p := &Publication{KeyVals: make(map[string]ValueWire)}
	err := consumeFields(raw, func(num protowire.Number, typ protowire.Type, f []byte) error {
		switch num {
		case fldPubArea:
			p.Area = readString(f)
		case fldPubKeyValsKey:
			pair := readSubmessage(f)
			var key string
			var val ValueWire
			perr := consumeFields(pair, func(n2 protowire.Number, t2 protowire.Type, f2 []byte) error {
				switch n2 {
				case fldKVKey:
					key = readString(f2)
				case fldKVValue:
					v, err := decodeValueWire(readSubmessage(f2))
					if err != nil {
						return err
					}
					val = v
				}
				return nil
			})
			if perr != nil {
				return perr
			}
			p.KeyVals[key] = val
		case fldPubExpiredKeys:
			p.ExpiredKeys = append(p.ExpiredKeys, readString(f))
		case fldPubNodeIds:
			p.NodeIds = append(p.NodeIds, readString(f))
		case fldPubTobeUpdatedKeys:
			p.TobeUpdatedKeys = append(p.TobeUpdatedKeys, readString(f))
		case fldPubFloodRootId:
			p.FloodRootId = readString(f)
		}
		return nil
	})
	return p, err
}

// ---- KeyDumpParams ----

func encodeDumpParams(d *KeyDumpParams) []byte {
	if d == nil {
		return nil
	}
	var b []byte
	for _, p := range d.Prefixes {
		b = appendString(b, fldDumpPrefixes, p)
	}
	for _, o := range d.OriginatorIds {
		b = appendString(b, fldDumpOriginatorIds, o)
	}
	b = appendVarint(b, fldDumpOperator, uint64(d.Operator))
	b = appendBool(b, fldDumpDoNotPublishValue, d.DoNotPublishValue)
	return b
}

func decodeDumpParams(raw []byte) (*KeyDumpParams, error) {
	d := &KeyDumpParams{}
	err := consumeFields(raw, func(num protowire.Number, typ protowire.Type, f []byte) error {
		switch num {
		case fldDumpPrefixes:
			d.Prefixes = append(d.Prefixes, readString(f))
		case fldDumpOriginatorIds:
			d.OriginatorIds = append(d.OriginatorIds, readString(f))
		case fldDumpOperator:
			d.Operator = FilterOperator(readVarint(f))
		case fldDumpDoNotPublishValue:
			d.DoNotPublishValue = readVarint(f) != 0
		}
		return nil
	})
	return d, err
}

// ---- DualMessageWire / TopoSetCmd ----

func encodeDualMessage(m DualMessageWire) []byte {
	var b []byte
	b = appendString(b, fldDualRoot, m.Root)
	b = appendVarint(b, fldDualKind, uint64(m.Kind))
	b = appendString(b, fldDualFrom, m.From)
	b = appendZigzag(b, fldDualDistance, int64(m.Distance))
	return b
}

func decodeDualMessage(raw []byte) (DualMessageWire, error) {
	var m DualMessageWire
	err := consumeFields(raw, func(num protowire.Number, typ protowire.Type, f []byte) error {
		switch num {
		case fldDualRoot:
			m.Root = readString(f)
		case fldDualKind:
			m.Kind = int32(readVarint(f))
		case fldDualFrom:
			m.From = readString(f)
		case fldDualDistance:
			m.Distance = int32(readZigzag(f))
		}
		return nil
	})
	return m, err
}

func encodeTopoSet(t *TopoSetCmd) []byte {
	if t == nil {
		return nil
	}
	var b []byte
	b = appendString(b, fldTopoRoot, t.Root)
	b = appendString(b, fldTopoPeer, t.Peer)
	b = appendBool(b, fldTopoSetChild, t.SetChild)
	b = appendBool(b, fldTopoAllRoots, t.AllRoots)
	return b
}

func decodeTopoSet(raw []byte) (*TopoSetCmd, error) {
	t := &TopoSetCmd{}
	err := consumeFields(raw, func(num protowire.Number, typ protowire.Type, f []byte) error {
		switch num {
		case fldTopoRoot:
			t.Root = readString(f)
		case fldTopoPeer:
			t.Peer = readString(f)
		case fldTopoSetChild:
			t.SetChild = readVarint(f) != 0
		case fldTopoAllRoots:
			t.AllRoots = readVarint(f) != 0
		}
		return nil
	})
	return t, err
}

// ---- Request / Response ----

func (BinaryCodec) EncodeRequest(r *Request) ([]byte, error) {
	var b []byte
	b = appendVarint(b, fldReqKind, uint64(r.Kind))
	b = appendVarint(b, fldReqId, r.ReqId)
	b = appendString(b, fldReqFrom, r.From)
	b = appendString(b, fldReqArea, r.Area)
	for _, k := range r.Keys {
		b = appendString(b, fldReqKeys, k)
	}
	b = appendMessage(b, fldReqPublication, encodePublication(r.Publication))
	b = appendMessage(b, fldReqDumpParams, encodeDumpParams(r.DumpParams))
	for _, m := range r.DualMessages {
		b = appendMessage(b, fldReqDualMessages, encodeDualMessage(m))
	}
	b = appendMessage(b, fldReqTopoSet, encodeTopoSet(r.TopoSet))
	return b, nil
}

func (BinaryCodec) DecodeRequest(raw []byte) (*Request, error) {
	r := &Request{}
	err := consumeFields(raw, func(num protowire.Number, typ protowire.Type, f []byte) error {
		switch num {
		case fldReqKind:
			r.Kind = RequestKind(readVarint(f))
		case fldReqId:
			r.ReqId = readVarint(f)
		case fldReqFrom:
			r.From = readString(f)
		case fldReqArea:
			r.Area = readString(f)
		case fldReqKeys:
			r.Keys = append(r.Keys, readString(f))
		case fldReqPublication:
			p, err := decodePublication(readSubmessage(f))
			if err != nil {
				return err
			}
			r.Publication = p
		case fldReqDumpParams:
			d, err := decodeDumpParams(readSubmessage(f))
			if err != nil {
				return err
			}
			r.DumpParams = d
		case fldReqDualMessages:
			m, err := decodeDualMessage(readSubmessage(f))
			if err != nil {
				return err
			}
			r.DualMessages = append(r.DualMessages, m)
		case fldReqTopoSet:
			t, err := decodeTopoSet(readSubmessage(f))
			if err != nil {
				return err
			}
			r.TopoSet = t
		}
		return nil
	})
	return r, err
}

func encodePeerWire(name string, p PeerWire) []byte {
	var b []byte
	b = appendString(b, fldPeerName, name)
	b = appendString(b, fldPeerCmdUrl, p.CmdUrl)
	b = appendVarint(b, fldPeerCtrlPort, uint64(p.CtrlPort))
	b = appendString(b, fldPeerState, p.State)
	return b
}

func decodePeerWire(raw []byte) (string, PeerWire, error) {
	var name string
	var p PeerWire
	err := consumeFields(raw, func(num protowire.Number, typ protowire.Type, f []byte) error {
		switch num {
		case fldPeerName:
			name = readString(f)
		case fldPeerCmdUrl:
			p.CmdUrl = readString(f)
		case fldPeerCtrlPort:
			p.CtrlPort = uint16(readVarint(f))
		case fldPeerState:
			p.State = readString(f)
		}
		return nil
	})
	return name, p, err
}

func encodeSptInfo(s SptInfoWire) []byte {
	var b []byte
	b = appendString(b, fldSptRoot, s.Root)
	b = appendBool(b, fldSptIsRoot, s.IsRoot)
	b = appendString(b, fldSptParent, s.Parent)
	b = appendZigzag(b, fldSptDistance, int64(s.Distance))
	for _, c := range s.Children {
		b = appendString(b, fldSptChildren, c)
	}
	b = appendBool(b, fldSptPassive, s.Passive)
	return b
}

func decodeSptInfo(raw []byte) (SptInfoWire, error) {
	var s SptInfoWire
	err := consumeFields(raw, func(num protowire.Number, typ protowire.Type, f []byte) error {
		switch num {
		case fldSptRoot:
			s.Root = readString(f)
		case fldSptIsRoot:
			s.IsRoot = readVarint(f) != 0
		case fldSptParent:
			s.Parent = readString(f)
		case fldSptDistance:
			s.Distance = int32(readZigzag(f))
		case fldSptChildren:
			s.Children = append(s.Children, readString(f))
		case fldSptPassive:
			s.Passive = readVarint(f) != 0
		}
		return nil
	})
	return s, err
}

func (BinaryCodec) EncodeResponse(r *Response) ([]byte, error) {
	var b []byte
	b = appendVarint(b, fldRespReqId, r.ReqId)
	b = appendBool(b, fldRespOk, r.Ok)
	b = appendString(b, fldRespErr, r.Err)
	b = appendMessage(b, fldRespPublication, encodePublication(r.Publication))
	for name, p := range r.Peers {
		b = appendMessage(b, fldRespPeers, encodePeerWire(name, p))
	}
	for _, s := range r.SptInfos {
		b = appendMessage(b, fldRespSptInfos, encodeSptInfo(s))
	}
	b = appendString(b, fldRespFrom, r.From)
	b = appendString(b, fldRespArea, r.Area)
	return b, nil
}

func (BinaryCodec) DecodeResponse(raw []byte) (*Response, error) {
	r := &Response{Peers: make(map[string]PeerWire)}
	err := consumeFields(raw, func(num protowire.Number, typ protowire.Type, f []byte) error {
		switch num {
		case fldRespReqId:
			r.ReqId = readVarint(f)
		case fldRespOk:
			r.Ok = readVarint(f) != 0
		case fldRespErr:
			r.Err = readString(f)
		case fldRespPublication:
			p, err := decodePublication(readSubmessage(f))
			if err != nil {
				return err
			}
			r.Publication = p
		case fldRespPeers:
			name, p, err := decodePeerWire(readSubmessage(f))
			if err != nil {
				return err
			}
			r.Peers[name] = p
		case fldRespSptInfos:
			s, err := decodeSptInfo(readSubmessage(f))
			if err != nil {
				return err
			}
			r.SptInfos = append(r.SptInfos, s)
		case fldRespFrom:
			r.From = readString(f)
		case fldRespArea:
			r.Area = readString(f)
		}
		return nil
	})
	return r, err
}
