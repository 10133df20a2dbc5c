package store

import (
	"testing"

	"github.com/routewire/kvstore/types"
)

func TestMergeAcceptsNewKey(t *testing.T) {
	local := map[types.Key]Value{}
	incoming := map[types.Key]Value{
		"alpha": {Version: 1, OriginatorId: "n1", Value: []byte("v"), Hash: 1},
	}
	changed := Merge(local, incoming, nil)
	if len(changed) != 1 {
		t.Fatalf("expected 1 change, got %d", len(changed))
	}
	if local["alpha"].Value == nil {
		t.Fatalf("expected new key to be adopted")
	}
}

func TestMergeRejectsHashOnlyNewKey(t *testing.T) {
	local := map[types.Key]Value{}
	incoming := map[types.Key]Value{
		"alpha": {Version: 1, OriginatorId: "n1", Value: nil, Hash: 1},
	}
	changed := Merge(local, incoming, nil)
	if len(changed) != 0 {
		t.Fatalf("expected hash-only record for an unknown key to be dropped, got %d changes", len(changed))
	}
	if _, ok := local["alpha"]; ok {
		t.Fatalf("hash-only record for unknown key must not be adopted")
	}
}

func TestMergeHigherVersionWins(t *testing.T) {
	local := map[types.Key]Value{
		"alpha": {Version: 1, OriginatorId: "n1", Value: []byte("old"), Hash: 1},
	}
	incoming := map[types.Key]Value{
		"alpha": {Version: 2, OriginatorId: "n1", Value: []byte("new"), Hash: 2},
	}
	changed := Merge(local, incoming, nil)
	if len(changed) != 1 {
		t.Fatalf("expected version 2 to supersede version 1")
	}
	if string(local["alpha"].Value) != "new" {
		t.Fatalf("expected local value to be updated to the dominant version")
	}
}

func TestMergeLowerVersionDropped(t *testing.T) {
	local := map[types.Key]Value{
		"alpha": {Version: 2, OriginatorId: "n1", Value: []byte("new"), Hash: 2},
	}
	incoming := map[types.Key]Value{
		"alpha": {Version: 1, OriginatorId: "n1", Value: []byte("old"), Hash: 1},
	}
	changed := Merge(local, incoming, nil)
	if len(changed) != 0 {
		t.Fatalf("expected stale version to be dropped, got %d changes", len(changed))
	}
	if string(local["alpha"].Value) != "new" {
		t.Fatalf("local record must be unchanged by a dominated incoming record")
	}
}

func TestMergeTtlVersionOnlyRefresh(t *testing.T) {
	local := map[types.Key]Value{
		"alpha": {Version: 1, OriginatorId: "n1", Value: []byte("v"), Hash: 1, TtlVersion: 1},
	}
	incoming := map[types.Key]Value{
		"alpha": {Version: 1, OriginatorId: "n1", Value: []byte("v"), Hash: 1, TtlVersion: 2},
	}
	changed := Merge(local, incoming, nil)
	res, ok := changed["alpha"]
	if !ok {
		t.Fatalf("expected a ttl-only refresh to be reported as a change")
	}
	if !res.TTLOnly {
		t.Fatalf("expected TTLOnly to be set for a ttlVersion-only bump")
	}
	if local["alpha"].TtlVersion != 2 {
		t.Fatalf("expected local ttlVersion to be refreshed to 2")
	}
}

func TestMergeHashOnlyAdoptedWhenBodyArrives(t *testing.T) {
	local := map[types.Key]Value{
		"alpha": {Version: 1, OriginatorId: "n1", Hash: 5, Value: nil},
	}
	incoming := map[types.Key]Value{
		"alpha": {Version: 1, OriginatorId: "n1", Hash: 5, Value: []byte("v")},
	}
	changed := Merge(local, incoming, nil)
	if len(changed) != 1 {
		t.Fatalf("expected incoming body to be adopted over a hash-only local record")
	}
	if string(local["alpha"].Value) != "v" {
		t.Fatalf("expected local record to now carry the body")
	}
}

func TestMergeHashMismatchDropped(t *testing.T) {
	local := map[types.Key]Value{
		"alpha": {Version: 1, OriginatorId: "n1", Hash: 1, Value: []byte("a")},
	}
	incoming := map[types.Key]Value{
		"alpha": {Version: 1, OriginatorId: "n1", Hash: 2, Value: []byte("b")},
	}
	changed := Merge(local, incoming, nil)
	if len(changed) != 0 {
		t.Fatalf("expected unresolvable hash mismatch to be dropped, not merged")
	}
	if string(local["alpha"].Value) != "a" {
		t.Fatalf("local record must be untouched by an UNKNOWN-order incoming record")
	}
}

func TestMergeFiltersByPrefix(t *testing.T) {
	local := map[types.Key]Value{}
	incoming := map[types.Key]Value{
		"allowed/a": {Version: 1, OriginatorId: "n1", Value: []byte("v"), Hash: 1},
		"other/b":   {Version: 1, OriginatorId: "n1", Value: []byte("v"), Hash: 1},
	}
	filters := &Filters{Prefixes: []string{"allowed/"}}
	changed := Merge(local, incoming, filters)
	if len(changed) != 1 {
		t.Fatalf("expected only the matching-prefix key to be merged, got %d", len(changed))
	}
	if _, ok := local["other/b"]; ok {
		t.Fatalf("filtered-out key must not be adopted")
	}
}

func TestMergeFiltersByOriginatorAndOperator(t *testing.T) {
	local := map[types.Key]Value{}
	incoming := map[types.Key]Value{
		"a": {Version: 1, OriginatorId: "good", Value: []byte("v"), Hash: 1},
		"b": {Version: 1, OriginatorId: "bad", Value: []byte("v"), Hash: 1},
	}
	filters := &Filters{
		OriginatorIds: map[types.NodeID]struct{}{"good": {}},
		Operator:      FilterOpAND,
	}
	changed := Merge(local, incoming, filters)
	if len(changed) != 1 {
		t.Fatalf("expected only the allowed originator's key to pass, got %d", len(changed))
	}
	if _, ok := local["a"]; !ok {
		t.Fatalf("expected key from allowed originator to be merged")
	}
}
