// Package wire defines the peer-to-peer envelope shapes and a codec pair
// (binary + JSON) for putting them on the wire.
package wire

import (
	"time"
)

// ValueWire is the wire shape of store.Value. It lives in wire rather than
// store to keep the codec free of a dependency on the store package (the
// store package depends on wire, not the other way around).
type ValueWire struct {
	Version      int64
	OriginatorId string
	Value        []byte
	TtlMs        int64 // -1 means infinite, matching store.InfiniteTTL
	TtlVersion   int64
	Hash         uint64
}

// Publication is the canonical envelope carrying key/value deltas and
// metadata.
type Publication struct {
	Area             string
	KeyVals          map[string]ValueWire
	ExpiredKeys      []string
	NodeIds          []string // flood path, for loop-break
	TobeUpdatedKeys  []string // three-way sync: keys the responder needs from the initiator
	FloodRootId      string   // empty means "no spanning-tree optimization for this flood"
}

// KeyDumpParams selects which keys a dump should return.
type KeyDumpParams struct {
	Prefixes          []string
	OriginatorIds     []string
	Operator          FilterOperator
	DoNotPublishValue bool
}

// FilterOperator mirrors store.FilterOp on the wire.
type FilterOperator int32

const (
	FilterOperatorOR FilterOperator = iota
	FilterOperatorAND
)

// RequestKind tags which variant of Request is populated - a tagged struct
// rather than an interface hierarchy, dispatched with switch.
type RequestKind int32

const (
	RequestKeyGet RequestKind = iota
	RequestKeySet
	RequestKeyDump
	RequestHashDump
	RequestDual
	RequestFloodTopoSet
)

// Request is the request/reply envelope carrying exactly one populated
// payload, selected by Kind.
type Request struct {
	Kind  RequestKind
	ReqId uint64
	From  string
	Area  string

	// KEY_GET
	Keys []string

	// KEY_SET / flood
	Publication *Publication

	// KEY_DUMP / HASH_DUMP
	DumpParams *KeyDumpParams

	// DUAL_MSG
	DualMessages []DualMessageWire

	// FLOOD_TOPO_SET
	TopoSet *TopoSetCmd
}

// DualMessageWire is the wire shape of the DUAL protocol messages: query,
// reply, update, ack, all tagged by root id.
type DualMessageWire struct {
	Root     string
	Kind     int32
	From     string
	Distance int32
}

// TopoSetCmd is sendTopoSetCmd's payload: a nexthop change that asks the
// named peer to add/remove itself as our child for root (or
// every root, when AllRoots is set).
type TopoSetCmd struct {
	Root     string
	Peer     string
	SetChild bool
	AllRoots bool
}

// Response is the reply half of the request/reply envelope. From and Area
// identify the responder so a transport that multiplexes several areas over
// one connection can route the decoded Response back to the StoreDb (and
// peer) that is waiting on it, the same way Request.From/Area route an
// inbound request.
type Response struct {
	ReqId       uint64
	Ok          bool
	Err         string
	From        string
	Area        string
	Publication *Publication
	Peers       map[string]PeerWire
	SptInfos    []SptInfoWire
}

// PeerWire is the wire shape of a peer spec/state pair, used by dumpPeers.
type PeerWire struct {
	CmdUrl   string
	CtrlPort uint16
	State    string
}

// SptInfoWire is the wire shape of one root's spanning-tree snapshot.
type SptInfoWire struct {
	Root     string
	IsRoot   bool
	Parent   string
	Distance int32
	Children []string
	Passive  bool
}

// nowMillis converts the local wall clock to a millisecond epoch
// timestamp. Neither codec calls it: ValueWire carries TTLs as durations
// (TtlMs), not timestamps.
func nowMillis() int64 { return time.Now().UnixMilli() }
