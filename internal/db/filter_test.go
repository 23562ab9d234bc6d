package db

import (
	"reflect"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestFilterBuilderConditions(t *testing.T) {
	filter := NewFilter().
		Eq("is_group", false).
		Ne("deleted_for", "u1").
		Lt("created_at", 42).
		Build()

	want := bson.M{
		"is_group":    false,
		"deleted_for": bson.M{"$ne": "u1"},
		"created_at":  bson.M{"$lt": 42},
	}
	if !reflect.DeepEqual(filter, want) {
		t.Errorf("filter = %v, want %v", filter, want)
	}
}

func TestFilterBuilderObjectID(t *testing.T) {
	id := primitive.NewObjectID()

	filter := NewFilter().ObjectID("_id", id.Hex()).Build()
	if got := filter["_id"]; got != id {
		t.Errorf("_id = %v, want %v", got, id)
	}

	// Invalid hex fails closed: the condition matches nothing instead of
	// dropping out and widening the filter.
	filter = NewFilter().ObjectID("_id", "nonsense").Build()
	in, ok := filter["_id"].(bson.M)
	if !ok {
		t.Fatalf("_id filter is %T, want bson.M", filter["_id"])
	}
	ids, ok := in["$in"].([]primitive.ObjectID)
	if !ok {
		t.Fatalf("$in is %T, want []primitive.ObjectID", in["$in"])
	}
	if len(ids) != 0 {
		t.Errorf("$in = %v, want empty", ids)
	}
}

func TestFilterBuilderObjectIDsSkipsInvalid(t *testing.T) {
	a, b := primitive.NewObjectID(), primitive.NewObjectID()

	filter := NewFilter().ObjectIDs("_id", []string{a.Hex(), "bad-hex", b.Hex()}).Build()

	in, ok := filter["_id"].(bson.M)
	if !ok {
		t.Fatalf("_id filter is %T, want bson.M", filter["_id"])
	}
	ids, ok := in["$in"].([]primitive.ObjectID)
	if !ok {
		t.Fatalf("$in is %T, want []primitive.ObjectID", in["$in"])
	}
	if len(ids) != 2 || ids[0] != a || ids[1] != b {
		t.Errorf("$in = %v, want [%v %v]", ids, a, b)
	}
}

func TestEmpty(t *testing.T) {
	if got := Empty(); len(got) != 0 {
		t.Errorf("Empty() = %v, want empty filter", got)
	}
}
