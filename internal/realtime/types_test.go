package realtime

import "testing"

func TestParseTopic(t *testing.T) {
	cases := []struct {
		raw        string
		wantOK     bool
		collection string
		recordID   string
	}{
		{"posts/*", true, "posts", "*"},
		{"posts/abc123", true, "posts", "abc123"},
		{"posts/", false, "", ""},
		{"/abc123", false, "", ""},
		{"posts", false, "", ""},
		{"po sts/abc", false, "", ""},
		{"posts/abc-123", false, "", ""},
	}

	for _, tc := range cases {
		topic, ok := ParseTopic(tc.raw)
		if ok != tc.wantOK {
			t.Errorf("ParseTopic(%q) ok = %v, want %v", tc.raw, ok, tc.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if topic.Collection != tc.collection || topic.RecordID != tc.recordID {
			t.Errorf("ParseTopic(%q) = %+v, want {%s %s}", tc.raw, topic, tc.collection, tc.recordID)
		}
	}
}

func TestTopicIsWildcard(t *testing.T) {
	wildcard, _ := ParseTopic("posts/*")
	if !wildcard.IsWildcard() {
		t.Error("expected posts/* to be a wildcard topic")
	}

	specific, _ := ParseTopic("posts/abc123")
	if specific.IsWildcard() {
		t.Error("expected posts/abc123 not to be a wildcard topic")
	}
}
