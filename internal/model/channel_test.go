package model

import "testing"

func TestChannelHasMember(t *testing.T) {
	ch := Channel{ID: "ch1", MemberIDs: []FlexID{"3", "u2"}}
	if !ch.HasMember("u2") {
		t.Error("u2 is a member")
	}
	if !ch.HasMember("3") {
		t.Error("numeric-origin id not matched")
	}
	if ch.HasMember("u9") {
		t.Error("u9 is not a member")
	}
	empty := Channel{ID: "ch2"}
	if empty.HasMember("u2") {
		t.Error("empty member set matched")
	}
}
